package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrGuardFailed is returned when a state-guarded update matched zero rows.
	ErrGuardFailed = errors.New("guarded update matched no rows")
	// ErrCodeTaken is returned when an exam code collides with another schedule.
	ErrCodeTaken = errors.New("exam code already in use")
	// ErrDuplicate is returned on a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStudentBusy is returned when a student already holds a live session
	// for another schedule.
	ErrStudentBusy = errors.New("student has a live session elsewhere")
)

const uniqueViolation = "23505"

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func guarded(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrGuardFailed
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
