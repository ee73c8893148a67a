package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exam-orchestrator/internal/model"
)

const rosterColumns = `id, schedule_id, student_id, register_no, name, department, batch,
	questions, violations, is_complete, completed_at, score`

// RosterRepository handles roster entry data access.
type RosterRepository struct {
	pool *pgxpool.Pool
}

// NewRosterRepository creates a new RosterRepository.
func NewRosterRepository(pool *pgxpool.Pool) *RosterRepository {
	return &RosterRepository{pool: pool}
}

func scanRosterEntry(row pgx.Row) (*model.RosterEntry, error) {
	e := &model.RosterEntry{}
	err := row.Scan(&e.ID, &e.ScheduleID, &e.StudentID, &e.RegisterNo, &e.Name, &e.Department, &e.Batch,
		&e.Questions, &e.Violations, &e.IsComplete, &e.CompletedAt, &e.Score)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// CreateEntries snapshots students into the roster of a schedule.
func (r *RosterRepository) CreateEntries(ctx context.Context, scheduleID uuid.UUID, students []model.Student) (int64, error) {
	return r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"roster_entries"},
		[]string{"id", "schedule_id", "student_id", "register_no", "name", "department", "batch"},
		pgx.CopyFromSlice(len(students), func(i int) ([]any, error) {
			s := students[i]
			return []any{uuid.New(), scheduleID, s.ID, s.RegisterNo, s.Name, s.Department, s.Batch}, nil
		}),
	)
}

// ListBySchedule returns the roster of a schedule in register number order.
func (r *RosterRepository) ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.RosterEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+rosterColumns+` FROM roster_entries WHERE schedule_id = $1 ORDER BY register_no`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.RosterEntry
	for rows.Next() {
		e, err := scanRosterEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Get retrieves one student's roster entry.
func (r *RosterRepository) Get(ctx context.Context, scheduleID uuid.UUID, studentID int) (*model.RosterEntry, error) {
	e, err := scanRosterEntry(r.pool.QueryRow(ctx,
		`SELECT `+rosterColumns+` FROM roster_entries WHERE schedule_id = $1 AND student_id = $2`,
		scheduleID, studentID))
	return e, notFound(err)
}

// Complete records the final score once. It returns ErrGuardFailed when the
// entry was already complete.
func (r *RosterRepository) Complete(ctx context.Context, scheduleID uuid.UUID, studentID, score int, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE roster_entries SET is_complete = TRUE, completed_at = $3, score = $4
		 WHERE schedule_id = $1 AND student_id = $2 AND NOT is_complete`,
		scheduleID, studentID, now, score)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGuardFailed
	}
	return nil
}

func marshalQuestions(qs []model.AssignedQuestion) (string, error) {
	data, err := json.Marshal(qs)
	if err != nil {
		return "", fmt.Errorf("marshal questions: %w", err)
	}
	return string(data), nil
}
