package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exam-orchestrator/internal/model"
)

const studentColumns = `id, register_no, name, department, batch, section, password_hash`

// StudentRepository handles student data access.
type StudentRepository struct {
	pool *pgxpool.Pool
}

// NewStudentRepository creates a new StudentRepository.
func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{pool: pool}
}

func scanStudent(row pgx.Row) (*model.Student, error) {
	s := &model.Student{}
	if err := row.Scan(&s.ID, &s.RegisterNo, &s.Name, &s.Department, &s.Batch, &s.Section, &s.PasswordHash); err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a student by ID.
func (r *StudentRepository) GetByID(ctx context.Context, id int) (*model.Student, error) {
	s, err := scanStudent(r.pool.QueryRow(ctx,
		`SELECT `+studentColumns+` FROM students WHERE id = $1`, id))
	return s, notFound(err)
}

// GetByRegisterNo retrieves a student by register number.
func (r *StudentRepository) GetByRegisterNo(ctx context.Context, registerNo string) (*model.Student, error) {
	s, err := scanStudent(r.pool.QueryRow(ctx,
		`SELECT `+studentColumns+` FROM students WHERE register_no = $1`, registerNo))
	return s, notFound(err)
}

// FindEligible returns the students of a batch matching either the
// department or the explicit register number list.
func (r *StudentRepository) FindEligible(ctx context.Context, batch string, department *string, registerNos []string) ([]model.Student, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+studentColumns+` FROM students
		 WHERE batch = $1
		   AND (($2::text IS NOT NULL AND department = $2) OR register_no = ANY($3::text[]))
		 ORDER BY register_no`,
		batch, department, registerNos)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		s, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		students = append(students, *s)
	}
	return students, rows.Err()
}

// Create inserts a new student.
func (r *StudentRepository) Create(ctx context.Context, s *model.Student) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO students (register_no, name, department, batch, section, password_hash)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		s.RegisterNo, s.Name, s.Department, s.Batch, s.Section, s.PasswordHash,
	).Scan(&s.ID)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return err
}
