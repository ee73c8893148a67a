package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exam-orchestrator/internal/model"
)

// StaffRepository handles staff account data access.
type StaffRepository struct {
	pool *pgxpool.Pool
}

// NewStaffRepository creates a new StaffRepository.
func NewStaffRepository(pool *pgxpool.Pool) *StaffRepository {
	return &StaffRepository{pool: pool}
}

// GetByID retrieves a staff member by ID.
func (r *StaffRepository) GetByID(ctx context.Context, id int) (*model.Staff, error) {
	s := &model.Staff{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, created_at FROM staff WHERE id = $1`, id,
	).Scan(&s.ID, &s.Email, &s.Name, &s.PasswordHash, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// GetByEmail retrieves a staff member by email.
func (r *StaffRepository) GetByEmail(ctx context.Context, email string) (*model.Staff, error) {
	s := &model.Staff{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, name, password_hash, created_at FROM staff WHERE email = $1`, email,
	).Scan(&s.ID, &s.Email, &s.Name, &s.PasswordHash, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// Create inserts a new staff account.
func (r *StaffRepository) Create(ctx context.Context, s *model.Staff) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO staff (email, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		s.Email, s.Name, s.PasswordHash,
	).Scan(&s.ID, &s.CreatedAt)
	if isUniqueViolation(err, "") {
		return ErrDuplicate
	}
	return err
}
