package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exam-orchestrator/internal/database"
	"github.com/stemsi/exam-orchestrator/internal/model"
)

const sessionColumns = `id, schedule_id, student_id, register_no, state, current_question_index,
	started_at, ends_at, last_seen_at, fullscreen_exit, tab_switch, offline_count,
	total_offline_seconds, last_disconnected_at, is_online, reason, ended_at, version`

// SessionRepository handles exam session data access. Every state change is
// a conditional update keyed on the expected prior state.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(&s.ID, &s.ScheduleID, &s.StudentID, &s.RegisterNo, &s.State, &s.CurrentQuestionIndex,
		&s.StartedAt, &s.EndsAt, &s.LastSeenAt, &s.FullscreenExit, &s.TabSwitch, &s.OfflineCount,
		&s.TotalOfflineSeconds, &s.LastDisconnectedAt, &s.IsOnline, &s.Reason, &s.EndedAt, &s.Version)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...any) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Get retrieves the session of a student for a schedule.
func (r *SessionRepository) Get(ctx context.Context, scheduleID uuid.UUID, studentID int) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE schedule_id = $1 AND student_id = $2`,
		scheduleID, studentID))
	return s, notFound(err)
}

// ListLiveByStudent returns the student's ACTIVE and PAUSED sessions.
func (r *SessionRepository) ListLiveByStudent(ctx context.Context, studentID int) ([]model.ExamSession, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE student_id = $1 AND state IN ($2, $3)`,
		studentID, model.SessionActive, model.SessionPaused)
}

// ListLiveBySchedule returns the ACTIVE and PAUSED sessions of a schedule.
func (r *SessionRepository) ListLiveBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.ExamSession, error) {
	return r.list(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions
		 WHERE schedule_id = $1 AND state IN ($2, $3)
		 ORDER BY register_no`,
		scheduleID, model.SessionActive, model.SessionPaused)
}

// BlockingForStudent returns the most recent TERMINATED or COMPLETED session
// of the student on a still active schedule, ignoring abandoned sessions.
func (r *SessionRepository) BlockingForStudent(ctx context.Context, studentID int) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`SELECT s.id, s.schedule_id, s.student_id, s.register_no, s.state, s.current_question_index,
		   s.started_at, s.ends_at, s.last_seen_at, s.fullscreen_exit, s.tab_switch, s.offline_count,
		   s.total_offline_seconds, s.last_disconnected_at, s.is_online, s.reason, s.ended_at, s.version
		 FROM exam_sessions AS s
		 JOIN exam_schedules AS sc ON sc.id = s.schedule_id
		 WHERE s.student_id = $1 AND sc.status = $2
		   AND s.state IN ($3, $4)
		   AND COALESCE(s.reason, '') <> $5
		 ORDER BY s.ended_at DESC NULLS LAST
		 LIMIT 1`,
		studentID, model.ScheduleStatusActive, model.SessionTerminated, model.SessionCompleted, model.ReasonAbandoned))
	return s, notFound(err)
}

// Insert creates an ACTIVE session. It returns ErrDuplicate when a session
// for the same schedule and student already exists and ErrStudentBusy when
// the student is live on another schedule.
func (r *SessionRepository) Insert(ctx context.Context, s *model.ExamSession) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions (schedule_id, student_id, register_no, state, started_at, ends_at, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $5)
		 ON CONFLICT (schedule_id, student_id) DO NOTHING
		 RETURNING id, version`,
		s.ScheduleID, s.StudentID, s.RegisterNo, model.SessionActive, s.StartedAt, s.EndsAt,
	).Scan(&s.ID, &s.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDuplicate
		}
		if isUniqueViolation(err, "uq_exam_sessions_student_live") {
			return ErrStudentBusy
		}
		return err
	}
	s.State = model.SessionActive
	s.LastSeenAt = s.StartedAt
	s.IsOnline = true
	return nil
}

// Transition moves a session from one of from to to.
func (r *SessionRepository) Transition(ctx context.Context, id uuid.UUID, from []model.SessionState, to model.SessionState, reason string, now time.Time) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions SET
		   state = $2,
		   reason = CASE WHEN $3 = '' THEN reason ELSE $3 END,
		   ended_at = CASE WHEN $2 IN ('TERMINATED', 'COMPLETED') THEN $4 ELSE ended_at END,
		   last_disconnected_at = CASE WHEN $2 = 'PAUSED' THEN $4 ELSE last_disconnected_at END,
		   is_online = FALSE,
		   version = version + 1
		 WHERE id = $1 AND state = ANY($5)
		 RETURNING `+sessionColumns,
		id, to, reason, now, statesParam(from)))
	return s, guarded(err)
}

// Touch refreshes last_seen_at of an ACTIVE session.
func (r *SessionRepository) Touch(ctx context.Context, id uuid.UUID, now time.Time) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions SET last_seen_at = $2, is_online = TRUE
		 WHERE id = $1 AND state = $3
		 RETURNING `+sessionColumns,
		id, now, model.SessionActive))
	return s, guarded(err)
}

// MarkOffline pauses an ACTIVE session after a disconnect beacon.
func (r *SessionRepository) MarkOffline(ctx context.Context, id uuid.UUID, now time.Time) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions SET
		   state = $3, reason = $4,
		   offline_count = offline_count + 1,
		   last_disconnected_at = $2,
		   is_online = FALSE,
		   version = version + 1
		 WHERE id = $1 AND state = $5
		 RETURNING `+sessionColumns,
		id, now, model.SessionPaused, model.ReasonOffline, model.SessionActive))
	return s, guarded(err)
}

// Resume reactivates a PAUSED session and accrues the paused interval.
func (r *SessionRepository) Resume(ctx context.Context, id uuid.UUID, now time.Time) (*model.ExamSession, error) {
	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions SET
		   state = $3, reason = NULL,
		   total_offline_seconds = total_offline_seconds
		     + GREATEST(0, EXTRACT(EPOCH FROM ($2 - COALESCE(last_disconnected_at, $2)))::int),
		   last_disconnected_at = NULL,
		   last_seen_at = $2,
		   is_online = TRUE,
		   version = version + 1
		 WHERE id = $1 AND state = $4
		 RETURNING `+sessionColumns,
		id, now, model.SessionActive, model.SessionPaused))
	return s, guarded(err)
}

// ViolationOutcome is the session after a violation was counted.
type ViolationOutcome struct {
	Session    *model.ExamSession
	Terminated bool
}

// RegisterViolation increments one counter of an ACTIVE session and
// terminates it in the same statement when the new total reaches limit. The
// row lock serializes racers, so exactly one of them can observe the
// threshold crossing. On termination the total is copied onto the roster
// entry in the same transaction.
func (r *SessionRepository) RegisterViolation(ctx context.Context, id uuid.UUID, violationType string, limit int, now time.Time) (*ViolationOutcome, error) {
	var fs, tab int
	switch violationType {
	case model.ViolationFullscreenExit:
		fs = 1
	case model.ViolationTabSwitch:
		tab = 1
	}

	var out ViolationOutcome
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		s, err := scanSession(tx.QueryRow(ctx,
			`UPDATE exam_sessions SET
			   fullscreen_exit = fullscreen_exit + $2,
			   tab_switch = tab_switch + $3,
			   state = CASE WHEN fullscreen_exit + tab_switch + 1 >= $4 THEN $6 ELSE state END,
			   reason = CASE WHEN fullscreen_exit + tab_switch + 1 >= $4 THEN $7 ELSE reason END,
			   ended_at = CASE WHEN fullscreen_exit + tab_switch + 1 >= $4 THEN $5 ELSE ended_at END,
			   last_seen_at = $5,
			   version = version + 1
			 WHERE id = $1 AND state = $8
			 RETURNING `+sessionColumns,
			id, fs, tab, limit, now, model.SessionTerminated, model.ReasonViolationLimit, model.SessionActive))
		if err != nil {
			return guarded(err)
		}
		out.Session = s
		out.Terminated = s.State == model.SessionTerminated
		if !out.Terminated {
			return nil
		}
		_, err = tx.Exec(ctx,
			`UPDATE roster_entries SET violations = $3 WHERE schedule_id = $1 AND student_id = $2`,
			s.ScheduleID, s.StudentID, s.Violations())
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AnswerWrite is one recorded answer.
type AnswerWrite struct {
	SessionID     uuid.UUID
	EntryID       uuid.UUID
	ExpectedIndex int
	Questions     []model.AssignedQuestion
	// Complete finishes the session and the roster entry with Score.
	Complete bool
	Score    int
	Now      time.Time
}

// RecordAnswer advances the question index of an ACTIVE session still on
// ExpectedIndex and stores the updated sequence in one transaction.
func (r *SessionRepository) RecordAnswer(ctx context.Context, w AnswerWrite) (*model.ExamSession, error) {
	questions, err := marshalQuestions(w.Questions)
	if err != nil {
		return nil, err
	}

	var out *model.ExamSession
	err = database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		s, err := scanSession(tx.QueryRow(ctx,
			`UPDATE exam_sessions SET
			   current_question_index = current_question_index + 1,
			   last_seen_at = $3,
			   state = CASE WHEN $4 THEN $5 ELSE state END,
			   reason = CASE WHEN $4 THEN $6 ELSE reason END,
			   ended_at = CASE WHEN $4 THEN $3 ELSE ended_at END,
			   version = version + 1
			 WHERE id = $1 AND state = $7 AND current_question_index = $2
			 RETURNING `+sessionColumns,
			w.SessionID, w.ExpectedIndex, w.Now, w.Complete,
			model.SessionCompleted, model.ReasonAllAnswered, model.SessionActive))
		if err != nil {
			return guarded(err)
		}
		out = s

		if w.Complete {
			_, err = tx.Exec(ctx,
				`UPDATE roster_entries SET questions = $2::jsonb, is_complete = TRUE, completed_at = $3, score = $4
				 WHERE id = $1`,
				w.EntryID, questions, w.Now, w.Score)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE roster_entries SET questions = $2::jsonb WHERE id = $1`,
				w.EntryID, questions)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FinalizedSession is a session closed by FinalizeOverdue and the state it
// left.
type FinalizedSession struct {
	From    model.SessionState
	Session model.ExamSession
}

// FinalizeOverdue completes every live session whose schedule closed before
// cutoff or whose own time ran out before cutoff. Rows are locked before the
// update so From is the state each session was actually in.
func (r *SessionRepository) FinalizeOverdue(ctx context.Context, cutoff, now time.Time) ([]FinalizedSession, error) {
	rows, err := r.pool.Query(ctx,
		`WITH due AS (
		   SELECT s.id, s.state
		   FROM exam_sessions AS s
		   JOIN exam_schedules AS sc ON sc.id = s.schedule_id
		   WHERE s.state = ANY($5) AND (sc.valid_till < $1 OR s.ends_at < $1)
		   FOR UPDATE OF s
		 )
		 UPDATE exam_sessions AS s SET
		   state = $3, reason = $4, ended_at = $2, is_online = FALSE, version = s.version + 1
		 FROM due
		 WHERE s.id = due.id AND s.state = due.state
		 RETURNING due.state, s.id, s.schedule_id, s.student_id, s.register_no, s.state, s.current_question_index,
		   s.started_at, s.ends_at, s.last_seen_at, s.fullscreen_exit, s.tab_switch, s.offline_count,
		   s.total_offline_seconds, s.last_disconnected_at, s.is_online, s.reason, s.ended_at, s.version`,
		cutoff, now, model.SessionCompleted, model.ReasonTimeUp, statesParam(model.Sources(model.EventTimeUp)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FinalizedSession
	for rows.Next() {
		var f FinalizedSession
		s := &f.Session
		if err := rows.Scan(&f.From, &s.ID, &s.ScheduleID, &s.StudentID, &s.RegisterNo, &s.State, &s.CurrentQuestionIndex,
			&s.StartedAt, &s.EndsAt, &s.LastSeenAt, &s.FullscreenExit, &s.TabSwitch, &s.OfflineCount,
			&s.TotalOfflineSeconds, &s.LastDisconnectedAt, &s.IsOnline, &s.Reason, &s.EndedAt, &s.Version); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func statesParam(states []model.SessionState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
