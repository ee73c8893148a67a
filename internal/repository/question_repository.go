package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exam-orchestrator/internal/model"
)

// QuestionRepository reads the shared question bank.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListBySubjects returns every bank question of the given subjects.
func (r *QuestionRepository) ListBySubjects(ctx context.Context, subjects []string) ([]model.BankQuestion, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, subject, topic, difficulty_level, question_text, options, correct_option
		 FROM question_bank
		 WHERE subject = ANY($1::text[])
		 ORDER BY subject, topic, difficulty_level, id`, subjects)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BankQuestion
	for rows.Next() {
		var q model.BankQuestion
		if err := rows.Scan(&q.ID, &q.Subject, &q.Topic, &q.DifficultyLevel, &q.QuestionText, &q.Options, &q.CorrectOption); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// BulkInsert loads questions into the bank.
func (r *QuestionRepository) BulkInsert(ctx context.Context, qs []model.BankQuestion) (int64, error) {
	return r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"question_bank"},
		[]string{"subject", "topic", "difficulty_level", "question_text", "options", "correct_option"},
		pgx.CopyFromSlice(len(qs), func(i int) ([]any, error) {
			q := qs[i]
			return []any{q.Subject, q.Topic, q.DifficultyLevel, q.QuestionText, q.Options, q.CorrectOption}, nil
		}),
	)
}
