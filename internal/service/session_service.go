package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/apperror"
	"github.com/stemsi/exam-orchestrator/internal/config"
	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/repository"
	"github.com/stemsi/exam-orchestrator/internal/response"
)

// SessionService runs the per-student exam session state machine. Every
// state change goes through model.Transition and a guarded repository update
// keyed on the state the service last read.
type SessionService struct {
	cfg        *config.Config
	schedules  ScheduleStore
	roster     RosterStore
	sessions   SessionStore
	publisher  ChangePublisher
	violations ViolationQueue
	log        zerolog.Logger
	now        func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	cfg *config.Config,
	schedules ScheduleStore,
	roster RosterStore,
	sessions SessionStore,
	publisher ChangePublisher,
	violations ViolationQueue,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		cfg:        cfg,
		schedules:  schedules,
		roster:     roster,
		sessions:   sessions,
		publisher:  publisher,
		violations: violations,
		log:        log.With().Str("component", "session_service").Logger(),
		now:        time.Now,
	}
}

// ─── Login ──────────────────────────────────────────────────────────

// PrepareLogin settles the student's live sessions before a token is issued.
// Sessions silent for longer than the abandonment threshold are terminated.
// A remaining ACTIVE session rejects the login. A PAUSED one is returned so
// the client can offer resume. Without a live session, a terminated or
// completed attempt on a still active schedule blocks the login.
func (s *SessionService) PrepareLogin(ctx context.Context, studentID int) (*model.SessionStatus, error) {
	live, err := s.sessions.ListLiveByStudent(ctx, studentID)
	if err != nil {
		return nil, apperror.Internal("list live sessions", err)
	}

	var resumable *model.SessionStatus
	for i := range live {
		sess := &live[i]
		if s.now().Sub(sess.LastSeenAt) > s.cfg.AbandonAfter {
			if _, err := s.move(ctx, sess, model.EventAbandon, model.ReasonAbandoned); err != nil && !apperror.Is(err, apperror.KindRaceLoss) {
				return nil, err
			}
			s.log.Info().
				Str("session_id", sess.ID.String()).
				Int("student_id", studentID).
				Msg("Abandoned session terminated at login")
			continue
		}

		sess, err = s.reconcile(ctx, sess)
		if err != nil {
			return nil, err
		}
		switch sess.State {
		case model.SessionActive:
			return nil, apperror.Conflict(response.ErrAlreadyLoggedIn, "session already active").
				WithDetails(map[string]any{"schedule_id": sess.ScheduleID})
		case model.SessionPaused:
			resumable = s.status(sess)
		}
	}
	if resumable != nil {
		return resumable, nil
	}

	blocking, err := s.sessions.BlockingForStudent(ctx, studentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, apperror.Internal("check blocking session", err)
	}
	return nil, absorbedError(blocking)
}

// ─── Entry ──────────────────────────────────────────────────────────

// ValidateCode redeems an exam code. A student without a session receives the
// first question. A student with a live session receives the whole sequence
// with prior choices so the client can resume.
func (s *SessionService) ValidateCode(ctx context.Context, studentID int, code string) (*model.ExamPayload, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	sch, err := s.schedules.GetActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound(response.ErrInvalidExamCode, "no active exam for code")
		}
		return nil, apperror.Internal("get schedule by code", err)
	}
	if !sch.InWindow(s.now()) {
		return nil, apperror.Conflict(response.ErrOutsideExamWindow, "outside exam window")
	}

	entry, err := s.eligibleEntry(ctx, sch.ID, studentID)
	if err != nil {
		return nil, err
	}
	if len(entry.Questions) == 0 {
		return nil, apperror.NotFound(response.ErrRosterNotFound, "no questions assigned")
	}

	payload := &model.ExamPayload{
		ScheduleID:      sch.ID,
		Subjects:        sch.Subjects,
		CIE:             sch.CIE,
		ExamDate:        sch.ExamDate,
		StartTime:       sch.StartTime,
		EndTime:         sch.EndTime,
		DurationMinutes: sch.DurationMinutes,
		TotalQuestions:  len(entry.Questions),
	}

	sess, err := s.sessions.Get(ctx, sch.ID, studentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		first := entry.Questions[0].ForStudent()
		first.ChosenOption = nil
		payload.Questions = []model.QuestionForStudent{first}
		payload.RemainingSeconds = int(sch.Duration().Seconds())
		return payload, nil
	case err != nil:
		return nil, apperror.Internal("get session", err)
	}

	sess, err = s.reconcile(ctx, sess)
	if err != nil {
		return nil, err
	}
	if sess.State.Absorbing() {
		return nil, absorbedError(sess)
	}

	payload.IsResume = true
	payload.CurrentQuestion = sess.CurrentQuestionIndex
	payload.RemainingSeconds = int(sess.Remaining(s.now()).Seconds())
	payload.Questions = make([]model.QuestionForStudent, len(entry.Questions))
	for i := range entry.Questions {
		payload.Questions[i] = entry.Questions[i].ForStudent()
	}
	return payload, nil
}

// Start creates the student's session for an active schedule, or returns the
// existing one. A PAUSED session is resumed.
func (s *SessionService) Start(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error) {
	sch, err := s.activeSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !sch.InWindow(now) {
		return nil, apperror.Conflict(response.ErrOutsideExamWindow, "outside exam window")
	}
	entry, err := s.eligibleEntry(ctx, scheduleID, studentID)
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Get(ctx, scheduleID, studentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		sess, err = s.create(ctx, sch, entry, now)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, apperror.Internal("get session", err)
	}

	sess, err = s.reconcile(ctx, sess)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case model.SessionActive:
		return s.status(sess), nil
	case model.SessionPaused:
		return s.resume(ctx, sch, sess)
	default:
		return nil, absorbedError(sess)
	}
}

// create inserts a fresh ACTIVE session. Losing an insert race to the same
// student returns the winner's row.
func (s *SessionService) create(ctx context.Context, sch *model.ExamSchedule, entry *model.RosterEntry, now time.Time) (*model.ExamSession, error) {
	live, err := s.sessions.ListLiveByStudent(ctx, entry.StudentID)
	if err != nil {
		return nil, apperror.Internal("list live sessions", err)
	}
	for _, other := range live {
		if other.ScheduleID != sch.ID {
			return nil, apperror.Conflict(response.ErrSessionElsewhere, "live session on another schedule").
				WithDetails(map[string]any{"schedule_id": other.ScheduleID})
		}
	}

	to, _ := model.Transition(model.SessionNone, model.EventStart)
	sess := &model.ExamSession{
		ScheduleID: sch.ID,
		StudentID:  entry.StudentID,
		RegisterNo: entry.RegisterNo,
		State:      to,
		StartedAt:  now,
		EndsAt:     now.Add(sch.Duration()),
	}
	err = s.sessions.Insert(ctx, sess)
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		winner, err := s.sessions.Get(ctx, sch.ID, entry.StudentID)
		if err != nil {
			return nil, apperror.Internal("reload session", err)
		}
		return winner, nil
	case errors.Is(err, repository.ErrStudentBusy):
		return nil, apperror.Conflict(response.ErrSessionElsewhere, "live session on another schedule")
	case err != nil:
		return nil, apperror.Internal("insert session", err)
	}

	s.publish(ctx, model.SessionNone, sess, model.EventStart)
	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("schedule_id", sch.ID.String()).
		Str("register_no", sess.RegisterNo).
		Msg("Exam session started")
	return sess, nil
}

// ─── Liveness ───────────────────────────────────────────────────────

// Heartbeat refreshes last_seen_at of an ACTIVE session. A session found past
// the heartbeat timeout is paused and reported as PAUSED.
func (s *SessionService) Heartbeat(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error) {
	sess, err := s.load(ctx, scheduleID, studentID)
	if err != nil {
		return nil, err
	}
	sess, err = s.reconcile(ctx, sess)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case model.SessionPaused:
		return s.status(sess), nil
	case model.SessionActive:
	default:
		return nil, absorbedError(sess)
	}

	touched, err := s.sessions.Touch(ctx, sess.ID, s.now())
	if err != nil {
		return nil, s.guardError(err, "refresh heartbeat")
	}
	return s.status(touched), nil
}

// MarkOffline pauses an ACTIVE session after a disconnect beacon. It never
// fails on state: a missing or non-ACTIVE session is left as is.
func (s *SessionService) MarkOffline(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error) {
	sess, err := s.sessions.Get(ctx, scheduleID, studentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, apperror.Internal("get session", err)
	}
	if _, ok := model.Transition(sess.State, model.EventOffline); !ok {
		return s.status(sess), nil
	}

	paused, err := s.sessions.MarkOffline(ctx, sess.ID, s.now())
	if errors.Is(err, repository.ErrGuardFailed) {
		return s.reload(ctx, sess)
	}
	if err != nil {
		return nil, apperror.Internal("mark offline", err)
	}
	s.publish(ctx, sess.State, paused, model.EventOffline)
	return s.status(paused), nil
}

// Resume reactivates a PAUSED session while the schedule window and the
// session's own time are both still open.
func (s *SessionService) Resume(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error) {
	sch, err := s.schedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	sess, err := s.load(ctx, scheduleID, studentID)
	if err != nil {
		return nil, err
	}
	sess, err = s.reconcile(ctx, sess)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case model.SessionActive:
		return s.status(sess), nil
	case model.SessionPaused:
		return s.resume(ctx, sch, sess)
	default:
		return nil, absorbedError(sess)
	}
}

func (s *SessionService) resume(ctx context.Context, sch *model.ExamSchedule, sess *model.ExamSession) (*model.SessionStatus, error) {
	now := s.now()
	if now.After(sch.ValidTill) || !now.Before(sess.EndsAt) {
		return nil, apperror.Conflict(response.ErrOutsideExamWindow, "exam window closed")
	}
	if _, ok := model.Transition(sess.State, model.EventResume); !ok {
		return nil, transitionError(sess)
	}
	resumed, err := s.sessions.Resume(ctx, sess.ID, now)
	if err != nil {
		return nil, s.guardError(err, "resume session")
	}
	s.publish(ctx, sess.State, resumed, model.EventResume)
	return s.status(resumed), nil
}

// forcedExits maps client-reported exit reasons to session events.
var forcedExits = map[string]struct {
	event  model.SessionEvent
	reason string
}{
	"not active":         {model.EventForcedExit, "NOT_ACTIVE"},
	"verification error": {model.EventForcedExit, "VERIFICATION_ERROR"},
	"heartbeat error":    {model.EventForcedExit, "HEARTBEAT_ERROR"},
	"time up":            {model.EventTimeUp, model.ReasonTimeUp},
	"violation limit":    {model.EventViolationLimit, model.ReasonViolationLimit},
}

// ForceExit applies a client-side forced exit.
func (s *SessionService) ForceExit(ctx context.Context, studentID int, scheduleID uuid.UUID, reason string) (*model.SessionStatus, error) {
	exit, ok := forcedExits[strings.ToLower(strings.TrimSpace(reason))]
	if !ok {
		return nil, apperror.Validation(response.ErrInvalidExitReason, fmt.Sprintf("unknown exit reason %q", reason))
	}
	sess, err := s.load(ctx, scheduleID, studentID)
	if err != nil {
		return nil, err
	}
	if sess.State.Absorbing() {
		return nil, absorbedError(sess)
	}
	next, err := s.move(ctx, sess, exit.event, exit.reason)
	if err != nil {
		return nil, err
	}
	return s.status(next), nil
}

// Status reports the session after applying lazy timeout detection.
func (s *SessionService) Status(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error) {
	sess, err := s.load(ctx, scheduleID, studentID)
	if err != nil {
		return nil, err
	}
	sess, err = s.reconcile(ctx, sess)
	if err != nil {
		return nil, err
	}
	return s.status(sess), nil
}

// RemainingTime reports the time left of an ACTIVE session.
func (s *SessionService) RemainingTime(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error) {
	sess, err := s.load(ctx, scheduleID, studentID)
	if err != nil {
		return nil, err
	}
	sess, err = s.reconcile(ctx, sess)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case model.SessionActive:
		return s.status(sess), nil
	case model.SessionPaused:
		return nil, apperror.Conflict(response.ErrSessionPaused, "session is paused")
	default:
		return nil, absorbedError(sess)
	}
}

// ─── Answers ────────────────────────────────────────────────────────

// SubmitAnswer records the answer to the current question and advances the
// index. Answering the last question completes the session.
func (s *SessionService) SubmitAnswer(ctx context.Context, studentID int, scheduleID uuid.UUID, req *model.SubmitAnswerRequest) (*model.AnswerResult, error) {
	sess, err := s.load(ctx, scheduleID, studentID)
	if err != nil {
		return nil, err
	}
	sess, err = s.reconcile(ctx, sess)
	if err != nil {
		return nil, err
	}
	switch sess.State {
	case model.SessionActive:
	case model.SessionPaused:
		return nil, apperror.Conflict(response.ErrSessionPaused, "session is paused")
	default:
		return nil, absorbedError(sess)
	}
	if req.QuestionIndex != sess.CurrentQuestionIndex {
		return nil, apperror.Conflict(response.ErrInvalidSequence, "answer does not match current question").
			WithDetails(map[string]any{"current_question_index": sess.CurrentQuestionIndex})
	}

	entry, err := s.roster.Get(ctx, scheduleID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound(response.ErrRosterNotFound, "roster entry not found")
		}
		return nil, apperror.Internal("get roster entry", err)
	}

	questions := append([]model.AssignedQuestion(nil), entry.Questions...)
	idx := -1
	for i := range questions {
		if questions[i].QuestionNumber == req.QuestionIndex+1 &&
			strings.TrimSpace(questions[i].QuestionText) == strings.TrimSpace(req.QuestionText) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperror.NotFound(response.ErrQuestionNotFound, "question not found")
	}
	if questions[idx].Answered() {
		return nil, apperror.Conflict(response.ErrAlreadyAnswered, "question already answered")
	}

	chosen := req.ChosenOption
	correct := strings.TrimSpace(questions[idx].CorrectOption) == strings.TrimSpace(chosen)
	questions[idx].ChosenOption = &chosen
	questions[idx].IsCorrect = &correct

	last := req.QuestionIndex+1 >= len(questions)
	if last {
		if _, ok := model.Transition(sess.State, model.EventLastAnswer); !ok {
			return nil, transitionError(sess)
		}
	}

	updated, err := s.sessions.RecordAnswer(ctx, repository.AnswerWrite{
		SessionID:     sess.ID,
		EntryID:       entry.ID,
		ExpectedIndex: req.QuestionIndex,
		Questions:     questions,
		Complete:      last,
		Score:         score(questions),
		Now:           s.now(),
	})
	if err != nil {
		return nil, s.guardError(err, "record answer")
	}

	result := &model.AnswerResult{NextQuestionIndex: updated.CurrentQuestionIndex}
	if last {
		result.Completed = true
		s.publish(ctx, sess.State, updated, model.EventLastAnswer)
		return result, nil
	}
	if next := updated.CurrentQuestionIndex; next < len(questions) {
		q := questions[next].ForStudent()
		result.NextQuestion = &q
	}
	return result, nil
}

// SubmitResult finalizes the score and completes the session. Submitting an
// already finished attempt returns the recorded score.
func (s *SessionService) SubmitResult(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.ExamResult, error) {
	entry, err := s.roster.Get(ctx, scheduleID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound(response.ErrRosterNotFound, "roster entry not found")
		}
		return nil, apperror.Internal("get roster entry", err)
	}
	sess, err := s.load(ctx, scheduleID, studentID)
	if err != nil {
		return nil, err
	}

	total := score(entry.Questions)
	if entry.IsComplete && entry.Score != nil {
		total = *entry.Score
	} else {
		err := s.roster.Complete(ctx, scheduleID, studentID, total, s.now())
		if err != nil && !errors.Is(err, repository.ErrGuardFailed) {
			return nil, apperror.Internal("complete roster entry", err)
		}
	}

	if sess.State.Live() {
		if _, err := s.move(ctx, sess, model.EventSubmit, model.ReasonSubmitted); err != nil && !apperror.Is(err, apperror.KindRaceLoss) {
			return nil, err
		}
	}

	return &model.ExamResult{
		ScheduleID: scheduleID,
		Score:      total,
		Total:      len(entry.Questions),
	}, nil
}

func score(qs []model.AssignedQuestion) int {
	n := 0
	for _, q := range qs {
		if q.IsCorrect != nil && *q.IsCorrect {
			n++
		}
	}
	return n
}

// ─── Violations ─────────────────────────────────────────────────────

// RegisterViolation records an integrity event. Counted types increment the
// session counters and terminate the session once the schedule's limit is
// reached. Every event is queued for the audit log.
func (s *SessionService) RegisterViolation(ctx context.Context, studentID int, scheduleID uuid.UUID, violationType string, payload map[string]any) (*model.ViolationResult, error) {
	sch, err := s.schedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	sess, err := s.load(ctx, scheduleID, studentID)
	if err != nil {
		return nil, err
	}
	limit := sch.ViolationLimit
	if limit <= 0 {
		limit = s.cfg.DefaultViolationLimit
	}

	s.audit(ctx, sess, violationType, payload)

	if !model.Counted(violationType) || sess.State != model.SessionActive {
		return violationResult(sess, limit), nil
	}

	out, err := s.sessions.RegisterViolation(ctx, sess.ID, violationType, limit, s.now())
	if errors.Is(err, repository.ErrGuardFailed) {
		// The session left ACTIVE between the read and the update.
		current, err := s.sessions.Get(ctx, scheduleID, studentID)
		if err != nil {
			return nil, apperror.Internal("reload session", err)
		}
		return violationResult(current, limit), nil
	}
	if err != nil {
		return nil, apperror.Internal("register violation", err)
	}

	if out.Terminated {
		s.publish(ctx, sess.State, out.Session, model.EventViolationLimit)
		s.log.Warn().
			Str("session_id", sess.ID.String()).
			Str("register_no", sess.RegisterNo).
			Int("violations", out.Session.Violations()).
			Msg("Session terminated on violation limit")
	}
	return violationResult(out.Session, limit), nil
}

func (s *SessionService) audit(ctx context.Context, sess *model.ExamSession, violationType string, payload map[string]any) {
	ev := model.ViolationEvent{
		SessionID:  sess.ID,
		ScheduleID: sess.ScheduleID,
		StudentID:  sess.StudentID,
		Type:       violationType,
		RecordedAt: s.now(),
	}
	if len(payload) > 0 {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	if err := s.violations.Enqueue(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to queue violation event")
	}
}

func violationResult(sess *model.ExamSession, limit int) *model.ViolationResult {
	return &model.ViolationResult{
		Terminated:      sess.State == model.SessionTerminated,
		State:           sess.State,
		FullscreenExit:  sess.FullscreenExit,
		TabSwitch:       sess.TabSwitch,
		TotalViolations: sess.Violations(),
		Limit:           limit,
	}
}

// ─── Staff ──────────────────────────────────────────────────────────

// StaffPause pauses the live session of registerNo on a schedule.
func (s *SessionService) StaffPause(ctx context.Context, scheduleID uuid.UUID, registerNo string) (*model.SessionStatus, error) {
	live, err := s.ListActive(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	for i := range live {
		if strings.EqualFold(live[i].RegisterNo, strings.TrimSpace(registerNo)) {
			next, err := s.move(ctx, &live[i], model.EventStaffPause, model.ReasonStaffPause)
			if err != nil {
				return nil, err
			}
			return s.status(next), nil
		}
	}
	return nil, apperror.NotFound(response.ErrSessionNotFound, "no live session for register number")
}

// ListActive returns the ACTIVE and PAUSED sessions of a schedule.
func (s *SessionService) ListActive(ctx context.Context, scheduleID uuid.UUID) ([]model.ExamSession, error) {
	if _, err := s.schedule(ctx, scheduleID); err != nil {
		return nil, err
	}
	live, err := s.sessions.ListLiveBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, apperror.Internal("list live sessions", err)
	}
	if live == nil {
		live = []model.ExamSession{}
	}
	return live, nil
}

// FinalizeOverdue completes every live session whose time or schedule window
// ended more than the cleanup grace ago.
func (s *SessionService) FinalizeOverdue(ctx context.Context) (int, error) {
	now := s.now()
	done, err := s.sessions.FinalizeOverdue(ctx, now.Add(-s.cfg.CleanupGrace), now)
	if err != nil {
		return 0, apperror.Internal("finalize overdue sessions", err)
	}
	for i := range done {
		s.publish(ctx, done[i].From, &done[i].Session, model.EventTimeUp)
	}
	return len(done), nil
}

// ─── Helpers ────────────────────────────────────────────────────────

// reconcile applies lazy timeout detection: a live session past ends_at is
// completed, and an ACTIVE one silent beyond the heartbeat timeout is paused.
func (s *SessionService) reconcile(ctx context.Context, sess *model.ExamSession) (*model.ExamSession, error) {
	now := s.now()
	var (
		event  model.SessionEvent
		reason string
	)
	switch {
	case sess.State.Live() && !now.Before(sess.EndsAt):
		event, reason = model.EventTimeUp, model.ReasonTimeUp
	case sess.State == model.SessionActive && now.Sub(sess.LastSeenAt) > s.cfg.HeartbeatTimeout:
		event, reason = model.EventHeartbeatTimeout, model.ReasonHeartbeatTimeout
	default:
		return sess, nil
	}

	next, err := s.move(ctx, sess, event, reason)
	if apperror.Is(err, apperror.KindRaceLoss) {
		current, err := s.sessions.Get(ctx, sess.ScheduleID, sess.StudentID)
		if err != nil {
			return nil, apperror.Internal("reload session", err)
		}
		return current, nil
	}
	return next, err
}

// move applies event to sess through a guarded update and publishes the change.
func (s *SessionService) move(ctx context.Context, sess *model.ExamSession, event model.SessionEvent, reason string) (*model.ExamSession, error) {
	to, ok := model.Transition(sess.State, event)
	if !ok {
		return nil, transitionError(sess)
	}
	next, err := s.sessions.Transition(ctx, sess.ID, []model.SessionState{sess.State}, to, reason, s.now())
	if err != nil {
		return nil, s.guardError(err, "transition session")
	}
	s.publish(ctx, sess.State, next, event)
	return next, nil
}

func (s *SessionService) publish(ctx context.Context, from model.SessionState, sess *model.ExamSession, event model.SessionEvent) {
	change := model.SessionChange{
		ScheduleID: sess.ScheduleID,
		SessionID:  sess.ID,
		StudentID:  sess.StudentID,
		RegisterNo: sess.RegisterNo,
		From:       from,
		To:         sess.State,
		Event:      event,
		Reason:     sess.ReasonOrEmpty(),
		At:         s.now(),
	}
	if err := s.publisher.Publish(ctx, change); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to publish session change")
	}
}

func (s *SessionService) guardError(err error, op string) error {
	if errors.Is(err, repository.ErrGuardFailed) {
		return apperror.RaceLoss("session changed concurrently")
	}
	return apperror.Internal(op, err)
}

func (s *SessionService) reload(ctx context.Context, sess *model.ExamSession) (*model.SessionStatus, error) {
	current, err := s.sessions.Get(ctx, sess.ScheduleID, sess.StudentID)
	if err != nil {
		return nil, apperror.Internal("reload session", err)
	}
	return s.status(current), nil
}

func (s *SessionService) load(ctx context.Context, scheduleID uuid.UUID, studentID int) (*model.ExamSession, error) {
	sess, err := s.sessions.Get(ctx, scheduleID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound(response.ErrSessionNotFound, "no session for schedule")
		}
		return nil, apperror.Internal("get session", err)
	}
	return sess, nil
}

func (s *SessionService) schedule(ctx context.Context, id uuid.UUID) (*model.ExamSchedule, error) {
	sch, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound(response.ErrScheduleNotFound, "schedule not found")
		}
		return nil, apperror.Internal("get schedule", err)
	}
	return sch, nil
}

func (s *SessionService) activeSchedule(ctx context.Context, id uuid.UUID) (*model.ExamSchedule, error) {
	sch, err := s.schedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sch.Status != model.ScheduleStatusActive {
		return nil, apperror.Conflict(response.ErrScheduleNotActive, "schedule is not active").
			WithDetails(map[string]any{"status": sch.Status})
	}
	return sch, nil
}

func (s *SessionService) eligibleEntry(ctx context.Context, scheduleID uuid.UUID, studentID int) (*model.RosterEntry, error) {
	entry, err := s.roster.Get(ctx, scheduleID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound(response.ErrNotEligible, "student not on roster")
		}
		return nil, apperror.Internal("get roster entry", err)
	}
	if entry.IsComplete {
		return nil, apperror.Conflict(response.ErrSessionCompleted, "exam already completed").
			WithDetails(map[string]any{"state": model.SessionCompleted})
	}
	return entry, nil
}

func (s *SessionService) status(sess *model.ExamSession) *model.SessionStatus {
	return &model.SessionStatus{
		SessionID:        sess.ID,
		ScheduleID:       sess.ScheduleID,
		State:            sess.State,
		Reason:           sess.ReasonOrEmpty(),
		EndsAt:           sess.EndsAt,
		RemainingSeconds: int(sess.Remaining(s.now()).Seconds()),
		CurrentQuestion:  sess.CurrentQuestionIndex,
		Violations:       sess.Violations(),
	}
}

// absorbedError reports a TERMINATED or COMPLETED session with its reason.
func absorbedError(sess *model.ExamSession) error {
	code := response.ErrSessionCompleted
	if sess.State == model.SessionTerminated {
		code = response.ErrSessionTerminated
	}
	return apperror.Conflict(code, "session is "+strings.ToLower(string(sess.State))).
		WithDetails(map[string]any{"state": sess.State, "reason": sess.ReasonOrEmpty()})
}

func transitionError(sess *model.ExamSession) error {
	if sess.State.Absorbing() {
		return absorbedError(sess)
	}
	return apperror.Conflict(response.ErrInvalidTransition, "transition not allowed").
		WithDetails(map[string]any{"state": sess.State})
}
