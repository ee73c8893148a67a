package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/apperror"
	"github.com/stemsi/exam-orchestrator/internal/assignment"
	"github.com/stemsi/exam-orchestrator/internal/config"
	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/repository"
	"github.com/stemsi/exam-orchestrator/internal/response"
	"github.com/stemsi/exam-orchestrator/internal/schedule"
)

// ScheduleService owns the exam schedule lifecycle: creation with a roster
// snapshot, time-triggered activation with question assignment, expiry,
// cancellation and retention.
type ScheduleService struct {
	cfg       *config.Config
	schedules ScheduleStore
	roster    RosterStore
	students  StudentStore
	questions QuestionStore
	registry  ActivationRegistry
	engine    *assignment.Engine
	log       zerolog.Logger
	now       func() time.Time
	newCode   func() (string, error)
}

// NewScheduleService creates a new ScheduleService.
func NewScheduleService(
	cfg *config.Config,
	schedules ScheduleStore,
	roster RosterStore,
	students StudentStore,
	questions QuestionStore,
	registry ActivationRegistry,
	engine *assignment.Engine,
	log zerolog.Logger,
) *ScheduleService {
	return &ScheduleService{
		cfg:       cfg,
		schedules: schedules,
		roster:    roster,
		students:  students,
		questions: questions,
		registry:  registry,
		engine:    engine,
		log:       log.With().Str("component", "schedule_service").Logger(),
		now:       time.Now,
		newCode:   schedule.GenerateCode,
	}
}

// ─── Staff operations ───────────────────────────────────────────────

// Create validates the request, inserts a scheduled exam and snapshots its
// roster. A scope matching no students deletes the schedule again.
func (s *ScheduleService) Create(ctx context.Context, staffID int, req *model.CreateScheduleRequest) (*model.ExamSchedule, error) {
	sch, err := s.build(staffID, req)
	if err != nil {
		return nil, err
	}

	conflict, err := s.schedules.HasConflict(ctx, sch)
	if err != nil {
		return nil, apperror.Internal("check schedule conflict", err)
	}
	if conflict {
		return nil, apperror.Conflict(response.ErrScheduleConflict, "scope already scheduled on this date")
	}

	if err := s.schedules.Create(ctx, sch); err != nil {
		return nil, apperror.Internal("create schedule", err)
	}

	eligible, err := s.students.FindEligible(ctx, sch.Batch, sch.Department, sch.RegisterNos)
	if err != nil {
		s.discard(ctx, sch.ID)
		return nil, apperror.Internal("find eligible students", err)
	}
	if len(eligible) == 0 {
		s.discard(ctx, sch.ID)
		return nil, apperror.NotFound(response.ErrNoStudents, "no students match the schedule scope")
	}
	if _, err := s.roster.CreateEntries(ctx, sch.ID, eligible); err != nil {
		s.discard(ctx, sch.ID)
		return nil, apperror.Internal("create roster", err)
	}

	if err := s.registry.ScheduleActivation(ctx, sch.ID, sch.ValidFrom); err != nil {
		s.log.Warn().Err(err).Str("schedule_id", sch.ID.String()).Msg("Failed to register activation, sweep will pick it up")
	}

	s.log.Info().
		Str("schedule_id", sch.ID.String()).
		Str("batch", sch.Batch).
		Int("students", len(eligible)).
		Time("valid_from", sch.ValidFrom).
		Msg("Exam scheduled")
	return sch, nil
}

// build turns a request into a schedule with its window precomputed.
func (s *ScheduleService) build(staffID int, req *model.CreateScheduleRequest) (*model.ExamSchedule, error) {
	department := strings.TrimSpace(req.Department)
	var registerNos []string
	for _, r := range req.RegisterNos {
		if r = strings.TrimSpace(r); r != "" {
			registerNos = append(registerNos, r)
		}
	}
	if department == "" && len(registerNos) == 0 {
		return nil, apperror.Validation(response.ErrValidation, "department or register_nos is required")
	}

	subjects := make([]string, len(req.Subjects))
	topics := make(map[string][]string, len(req.Subjects))
	for i, subj := range req.Subjects {
		subjects[i] = strings.TrimSpace(subj)
		var selected []string
		for _, t := range req.Topics[subj] {
			if t = strings.TrimSpace(t); t != "" {
				selected = append(selected, t)
			}
		}
		if len(selected) == 0 {
			return nil, apperror.Validation(response.ErrValidation, fmt.Sprintf("subject %q has no topics", subj))
		}
		topics[subjects[i]] = selected
	}
	if assignment.SubjectTotals(req.CIE, len(subjects)) == nil {
		return nil, apperror.Validation(response.ErrValidation, "one or two subjects are required")
	}

	past, err := schedule.IsPastDate(req.ExamDate, s.now())
	if err != nil {
		return nil, err
	}
	if past {
		return nil, apperror.Validation(response.ErrPastDate, "exam date is in the past")
	}
	validFrom, validTill, err := schedule.ComputeWindow(req.ExamDate, req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	limit := req.ViolationLimit
	if limit <= 0 {
		limit = s.cfg.DefaultViolationLimit
	}
	sch := &model.ExamSchedule{
		ID:              uuid.New(),
		Batch:           strings.TrimSpace(req.Batch),
		RegisterNos:     registerNos,
		CIE:             req.CIE,
		Subjects:        subjects,
		Topics:          topics,
		ExamDate:        req.ExamDate,
		StartTime:       strings.TrimSpace(req.StartTime),
		EndTime:         strings.TrimSpace(req.EndTime),
		DurationMinutes: schedule.Duration(req.CIE),
		ViolationLimit:  limit,
		ValidFrom:       validFrom,
		ValidTill:       validTill,
		Status:          model.ScheduleStatusScheduled,
		CreatedAt:       s.now(),
	}
	if department != "" {
		sch.Department = &department
	}
	if staffID > 0 {
		sch.CreatedBy = &staffID
	}
	return sch, nil
}

func (s *ScheduleService) discard(ctx context.Context, id uuid.UUID) {
	if err := s.schedules.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.log.Error().Err(err).Str("schedule_id", id.String()).Msg("Failed to delete unusable schedule")
	}
}

// Cancel marks a schedule cancelled, releases its code, deletes its roster
// and drops its pending fire times. Sessions already in flight keep running
// and are finalized by the cleanup sweep; the row itself goes with the
// retention purge.
func (s *ScheduleService) Cancel(ctx context.Context, id uuid.UUID) error {
	err := s.schedules.Cancel(ctx, id, s.now())
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperror.NotFound(response.ErrScheduleNotFound, "schedule not found")
	case errors.Is(err, repository.ErrGuardFailed):
		e := apperror.Conflict(response.ErrScheduleClosed, "schedule already expired or cancelled")
		if sch, gerr := s.schedules.GetByID(ctx, id); gerr == nil {
			e = e.WithDetails(map[string]any{"status": sch.Status})
		}
		return e
	case err != nil:
		return apperror.Internal("cancel schedule", err)
	}
	if err := s.registry.Remove(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("schedule_id", id.String()).Msg("Failed to drop registry entries")
	}
	s.log.Info().Str("schedule_id", id.String()).Msg("Exam schedule cancelled")
	return nil
}

// Get returns one schedule.
func (s *ScheduleService) Get(ctx context.Context, id uuid.UUID) (*model.ExamSchedule, error) {
	sch, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound(response.ErrScheduleNotFound, "schedule not found")
		}
		return nil, apperror.Internal("get schedule", err)
	}
	return sch, nil
}

// List returns a page of schedules, newest exam date first.
func (s *ScheduleService) List(ctx context.Context, f model.ScheduleFilter) (*model.ScheduleListResponse, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}
	items, total, err := s.schedules.List(ctx, f.Status, f.PerPage, (f.Page-1)*f.PerPage)
	if err != nil {
		return nil, apperror.Internal("list schedules", err)
	}
	if items == nil {
		items = []model.ExamSchedule{}
	}
	return &model.ScheduleListResponse{Schedules: items, Total: total, Page: f.Page, PerPage: f.PerPage}, nil
}

// ─── Lifecycle ──────────────────────────────────────────────────────

// Activate makes a due schedule redeemable. The question sequences are built
// first; the code, the status flip and every roster sequence are then written
// in one transaction, retried with a fresh code on collision. A schedule that
// is no longer scheduled or not yet due yields a RaceLoss.
func (s *ScheduleService) Activate(ctx context.Context, id uuid.UUID) error {
	sch, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	if sch.Status != model.ScheduleStatusScheduled || now.Before(sch.ValidFrom) {
		return apperror.RaceLoss("schedule not due for activation")
	}

	entries, err := s.roster.ListBySchedule(ctx, id)
	if err != nil {
		return apperror.Internal("list roster", err)
	}
	bank, err := s.questions.ListBySubjects(ctx, sch.Subjects)
	if err != nil {
		return apperror.Internal("load question bank", err)
	}
	plan, err := assignment.NewPlan(sch.CIE, sch.Subjects, sch.Topics, bank)
	if err != nil {
		return apperror.Internal("build assignment plan", err)
	}
	if empty := plan.EmptyTopics(); len(empty) > 0 {
		s.log.Warn().
			Str("schedule_id", id.String()).
			Strs("topics", empty).
			Msg("Selected topics have no questions in the bank")
	}
	assigned, err := s.engine.AssignAll(ctx, plan, entries)
	if err != nil {
		var exh *assignment.ExhaustionError
		if errors.As(err, &exh) {
			return apperror.Exhaustion("question pool exhausted", err).WithDetails(map[string]any{
				"subject": exh.Subject,
				"topic":   exh.Topic,
				"level":   exh.Level,
				"missing": exh.Missing,
			})
		}
		return apperror.Internal("assign questions", err)
	}

	code, err := s.activateWithCode(ctx, id, now, assigned)
	if err != nil {
		return err
	}

	if err := s.registry.ScheduleExpiry(ctx, id, sch.ValidTill); err != nil {
		s.log.Warn().Err(err).Str("schedule_id", id.String()).Msg("Failed to register expiry, sweep will pick it up")
	}
	s.log.Info().
		Str("schedule_id", id.String()).
		Str("exam_code", code).
		Int("students", len(assigned)).
		Msg("Exam schedule activated")
	return nil
}

func (s *ScheduleService) activateWithCode(ctx context.Context, id uuid.UUID, now time.Time, entries []model.RosterEntry) (string, error) {
	for attempt := 1; attempt <= s.cfg.CodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", apperror.Internal("generate exam code", err)
		}
		taken, err := s.schedules.CodeInUse(ctx, code)
		if err != nil {
			return "", apperror.Internal("check exam code", err)
		}
		if taken {
			continue
		}

		err = s.schedules.Activate(ctx, id, code, now, entries)
		switch {
		case err == nil:
			return code, nil
		case errors.Is(err, repository.ErrCodeTaken):
			s.log.Debug().Str("schedule_id", id.String()).Int("attempt", attempt).Msg("Exam code collision, retrying")
			continue
		case errors.Is(err, repository.ErrGuardFailed):
			return "", apperror.RaceLoss("schedule already activated")
		default:
			return "", apperror.Internal("activate schedule", err)
		}
	}
	return "", &apperror.Error{
		Kind: apperror.KindInternal,
		Code: response.ErrCodeCollision,
		Msg:  fmt.Sprintf("no free exam code after %d attempts", s.cfg.CodeAttempts),
	}
}

// Expire retires an active schedule whose window has closed.
func (s *ScheduleService) Expire(ctx context.Context, id uuid.UUID) error {
	err := s.schedules.Expire(ctx, id, s.now())
	switch {
	case errors.Is(err, repository.ErrGuardFailed):
		return apperror.RaceLoss("schedule not due for expiry")
	case err != nil:
		return apperror.Internal("expire schedule", err)
	}
	s.log.Info().Str("schedule_id", id.String()).Msg("Exam schedule expired")
	return nil
}

// ─── Sweeps ─────────────────────────────────────────────────────────

// Reconcile rebuilds the registry from PostgreSQL: every scheduled exam is
// registered at valid_from and every active one at valid_till.
func (s *ScheduleService) Reconcile(ctx context.Context) (int, error) {
	pending, err := s.schedules.ListPending(ctx)
	if err != nil {
		return 0, apperror.Internal("list pending schedules", err)
	}
	n := 0
	for _, sch := range pending {
		switch sch.Status {
		case model.ScheduleStatusScheduled:
			err = s.registry.ScheduleActivation(ctx, sch.ID, sch.ValidFrom)
		case model.ScheduleStatusActive:
			err = s.registry.ScheduleExpiry(ctx, sch.ID, sch.ValidTill)
		default:
			continue
		}
		if err != nil {
			s.log.Error().Err(err).Str("schedule_id", sch.ID.String()).Msg("Failed to register schedule")
			continue
		}
		n++
	}
	return n, nil
}

// FireDue claims due registry entries and runs them.
func (s *ScheduleService) FireDue(ctx context.Context) error {
	now := s.now()
	activations, err := s.registry.DueActivations(ctx, now)
	if err != nil {
		return fmt.Errorf("due activations: %w", err)
	}
	s.runEach(ctx, "activate", activations, s.Activate)

	expiries, err := s.registry.DueExpiries(ctx, now)
	if err != nil {
		return fmt.Errorf("due expiries: %w", err)
	}
	s.runEach(ctx, "expire", expiries, s.Expire)
	return nil
}

// Sweep compares the clock against valid_from and valid_till directly in
// PostgreSQL, catching anything the registry missed.
func (s *ScheduleService) Sweep(ctx context.Context) error {
	now := s.now()
	activations, err := s.schedules.ListDueForActivation(ctx, now)
	if err != nil {
		return fmt.Errorf("list due activations: %w", err)
	}
	s.runEach(ctx, "activate", activations, s.Activate)

	expiries, err := s.schedules.ListDueForExpiry(ctx, now)
	if err != nil {
		return fmt.Errorf("list due expiries: %w", err)
	}
	s.runEach(ctx, "expire", expiries, s.Expire)
	return nil
}

// Purge deletes expired and cancelled schedules that ended before the
// retention window.
func (s *ScheduleService) Purge(ctx context.Context) (int, error) {
	ids, err := s.schedules.DeleteEndedBefore(ctx, s.now().Add(-s.cfg.RetentionWindow))
	if err != nil {
		return 0, apperror.Internal("purge schedules", err)
	}
	for _, id := range ids {
		if err := s.registry.Remove(ctx, id); err != nil {
			s.log.Warn().Err(err).Str("schedule_id", id.String()).Msg("Failed to drop registry entries")
		}
	}
	return len(ids), nil
}

// runEach applies fn to every id. Lost races are expected and ignored; other
// failures are logged without stopping the batch.
func (s *ScheduleService) runEach(ctx context.Context, op string, ids []uuid.UUID, fn func(context.Context, uuid.UUID) error) {
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		err := fn(ctx, id)
		switch {
		case err == nil:
		case apperror.Is(err, apperror.KindRaceLoss):
			s.log.Debug().Str("schedule_id", id.String()).Str("op", op).Msg("Schedule already handled")
		default:
			s.log.Error().Err(err).
				Str("schedule_id", id.String()).
				Str("op", op).
				Str("kind", apperror.KindOf(err).String()).
				Msg("Schedule transition failed")
		}
	}
}
