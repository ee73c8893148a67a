package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exam-orchestrator/internal/database"
	"github.com/stemsi/exam-orchestrator/internal/model"
)

const scheduleColumns = `id, batch, department, register_nos, cie, subjects, topics,
	exam_date::text, start_time, end_time, duration_minutes, violation_limit,
	exam_code, valid_from, valid_till, status, created_by, created_at, activated_at, expired_at, cancelled_at`

// ScheduleRepository handles exam schedule data access.
type ScheduleRepository struct {
	pool *pgxpool.Pool
}

// NewScheduleRepository creates a new ScheduleRepository.
func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func scanSchedule(row pgx.Row) (*model.ExamSchedule, error) {
	s := &model.ExamSchedule{}
	err := row.Scan(&s.ID, &s.Batch, &s.Department, &s.RegisterNos, &s.CIE, &s.Subjects, &s.Topics,
		&s.ExamDate, &s.StartTime, &s.EndTime, &s.DurationMinutes, &s.ViolationLimit,
		&s.ExamCode, &s.ValidFrom, &s.ValidTill, &s.Status, &s.CreatedBy, &s.CreatedAt, &s.ActivatedAt, &s.ExpiredAt, &s.CancelledAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create inserts a new schedule in status scheduled.
func (r *ScheduleRepository) Create(ctx context.Context, s *model.ExamSchedule) error {
	topics, err := json.Marshal(s.Topics)
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_schedules (batch, department, register_nos, cie, subjects, topics,
		        exam_date, start_time, end_time, duration_minutes, violation_limit,
		        valid_from, valid_till, status, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::date, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING id, created_at`,
		s.Batch, s.Department, s.RegisterNos, s.CIE, s.Subjects, string(topics),
		s.ExamDate, s.StartTime, s.EndTime, s.DurationMinutes, s.ViolationLimit,
		s.ValidFrom, s.ValidTill, model.ScheduleStatusScheduled, s.CreatedBy,
	).Scan(&s.ID, &s.CreatedAt)
}

// GetByID retrieves a schedule by id.
func (r *ScheduleRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSchedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM exam_schedules WHERE id = $1`, id))
	return s, notFound(err)
}

// GetActiveByCode retrieves the active schedule holding code.
func (r *ScheduleRepository) GetActiveByCode(ctx context.Context, code string) (*model.ExamSchedule, error) {
	s, err := scanSchedule(r.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM exam_schedules WHERE exam_code = $1 AND status = $2`,
		code, model.ScheduleStatusActive))
	return s, notFound(err)
}

// List retrieves schedules newest first, optionally filtered by status.
func (r *ScheduleRepository) List(ctx context.Context, status model.ScheduleStatus, limit, offset int) ([]model.ExamSchedule, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exam_schedules WHERE ($1 = '' OR status = $1)`, string(status),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM exam_schedules
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY valid_from DESC
		 LIMIT $2 OFFSET $3`, string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	schedules := make([]model.ExamSchedule, 0, limit)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, total, rows.Err()
}

// HasConflict reports whether another live schedule on the same date and
// batch overlaps s's scope by department or register number.
func (r *ScheduleRepository) HasConflict(ctx context.Context, s *model.ExamSchedule) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM exam_schedules
		   WHERE exam_date = $1::date AND batch = $2 AND status <> $3
		     AND ((department IS NOT NULL AND department = $4)
		          OR (register_nos IS NOT NULL AND register_nos && $5::text[])))`,
		s.ExamDate, s.Batch, model.ScheduleStatusCancelled, s.Department, s.RegisterNos,
	).Scan(&exists)
	return exists, err
}

// CodeInUse reports whether any schedule currently holds code.
func (r *ScheduleRepository) CodeInUse(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM exam_schedules WHERE exam_code = $1)`, code,
	).Scan(&exists)
	return exists, err
}

// Activate moves a due schedule to active with code and writes every roster
// entry's question sequence, all in one transaction. It returns
// ErrGuardFailed when the schedule is no longer scheduled or not yet due and
// ErrCodeTaken when code collides.
func (r *ScheduleRepository) Activate(ctx context.Context, id uuid.UUID, code string, now time.Time, entries []model.RosterEntry) error {
	ids := make([]uuid.UUID, len(entries))
	questions := make([]string, len(entries))
	for i, e := range entries {
		data, err := json.Marshal(e.Questions)
		if err != nil {
			return fmt.Errorf("marshal questions for %s: %w", e.RegisterNo, err)
		}
		ids[i] = e.ID
		questions[i] = string(data)
	}

	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE exam_schedules
			 SET status = $2, exam_code = $3, activated_at = $4
			 WHERE id = $1 AND status = $5 AND valid_from <= $4`,
			id, model.ScheduleStatusActive, code, now, model.ScheduleStatusScheduled)
		if err != nil {
			if isUniqueViolation(err, "uq_exam_schedules_code") {
				return ErrCodeTaken
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrGuardFailed
		}

		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE roster_entries AS r
			 SET questions = data.questions::jsonb
			 FROM (SELECT UNNEST($1::uuid[]) AS id, UNNEST($2::text[]) AS questions) AS data
			 WHERE r.id = data.id AND r.schedule_id = $3`,
			ids, questions, id)
		return err
	})
}

// Expire moves an active schedule whose window has closed to expired.
func (r *ScheduleRepository) Expire(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_schedules SET status = $2, expired_at = $3
		 WHERE id = $1 AND status = $4 AND valid_till < $3`,
		id, model.ScheduleStatusExpired, now, model.ScheduleStatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrGuardFailed
	}
	return nil
}

// Cancel marks a scheduled or active schedule cancelled, releases its exam
// code and drops its roster in one transaction. The schedule row and any
// sessions already started stay until the retention sweep. It returns
// ErrNotFound for an unknown id and ErrGuardFailed when the schedule has
// already expired or been cancelled.
func (r *ScheduleRepository) Cancel(ctx context.Context, id uuid.UUID, now time.Time) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE exam_schedules
			 SET status = $2, exam_code = NULL, cancelled_at = $3
			 WHERE id = $1 AND status IN ($4, $5)`,
			id, model.ScheduleStatusCancelled, now, model.ScheduleStatusScheduled, model.ScheduleStatusActive)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM exam_schedules WHERE id = $1)`, id,
			).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrGuardFailed
		}
		_, err = tx.Exec(ctx, `DELETE FROM roster_entries WHERE schedule_id = $1`, id)
		return err
	})
}

// Delete removes a schedule together with its roster, sessions and audit
// events. It returns ErrNotFound when nothing was deleted.
func (r *ScheduleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM exam_schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending returns every schedule still waiting for activation or expiry.
func (r *ScheduleRepository) ListPending(ctx context.Context) ([]model.ExamSchedule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM exam_schedules WHERE status IN ($1, $2)`,
		model.ScheduleStatusScheduled, model.ScheduleStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExamSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ListDueForActivation returns scheduled schedules whose window has opened.
func (r *ScheduleRepository) ListDueForActivation(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.listIDs(ctx,
		`SELECT id FROM exam_schedules WHERE status = $1 AND valid_from <= $2 ORDER BY valid_from`,
		model.ScheduleStatusScheduled, now)
}

// ListDueForExpiry returns active schedules whose window has closed.
func (r *ScheduleRepository) ListDueForExpiry(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return r.listIDs(ctx,
		`SELECT id FROM exam_schedules WHERE status = $1 AND valid_till < $2 ORDER BY valid_till`,
		model.ScheduleStatusActive, now)
}

// DeleteEndedBefore removes expired schedules whose window closed before
// cutoff and returns their ids.
func (r *ScheduleRepository) DeleteEndedBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	return r.listIDs(ctx,
		`DELETE FROM exam_schedules WHERE status IN ($1, $2) AND valid_till < $3 RETURNING id`,
		model.ScheduleStatusExpired, model.ScheduleStatusCancelled, cutoff)
}

func (r *ScheduleRepository) listIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
