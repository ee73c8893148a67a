package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/repository"
)

// The services depend on these narrow views of the repositories so the
// lifecycle logic can be exercised without PostgreSQL or Redis.

// ScheduleStore is implemented by repository.ScheduleRepository.
type ScheduleStore interface {
	Create(ctx context.Context, s *model.ExamSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSchedule, error)
	GetActiveByCode(ctx context.Context, code string) (*model.ExamSchedule, error)
	List(ctx context.Context, status model.ScheduleStatus, limit, offset int) ([]model.ExamSchedule, int, error)
	HasConflict(ctx context.Context, s *model.ExamSchedule) (bool, error)
	CodeInUse(ctx context.Context, code string) (bool, error)
	Activate(ctx context.Context, id uuid.UUID, code string, now time.Time, entries []model.RosterEntry) error
	Expire(ctx context.Context, id uuid.UUID, now time.Time) error
	Cancel(ctx context.Context, id uuid.UUID, now time.Time) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListPending(ctx context.Context) ([]model.ExamSchedule, error)
	ListDueForActivation(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListDueForExpiry(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	DeleteEndedBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// RosterStore is implemented by repository.RosterRepository.
type RosterStore interface {
	CreateEntries(ctx context.Context, scheduleID uuid.UUID, students []model.Student) (int64, error)
	ListBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.RosterEntry, error)
	Get(ctx context.Context, scheduleID uuid.UUID, studentID int) (*model.RosterEntry, error)
	Complete(ctx context.Context, scheduleID uuid.UUID, studentID, score int, now time.Time) error
}

// SessionStore is implemented by repository.SessionRepository.
type SessionStore interface {
	Get(ctx context.Context, scheduleID uuid.UUID, studentID int) (*model.ExamSession, error)
	ListLiveByStudent(ctx context.Context, studentID int) ([]model.ExamSession, error)
	ListLiveBySchedule(ctx context.Context, scheduleID uuid.UUID) ([]model.ExamSession, error)
	BlockingForStudent(ctx context.Context, studentID int) (*model.ExamSession, error)
	Insert(ctx context.Context, s *model.ExamSession) error
	Transition(ctx context.Context, id uuid.UUID, from []model.SessionState, to model.SessionState, reason string, now time.Time) (*model.ExamSession, error)
	Touch(ctx context.Context, id uuid.UUID, now time.Time) (*model.ExamSession, error)
	MarkOffline(ctx context.Context, id uuid.UUID, now time.Time) (*model.ExamSession, error)
	Resume(ctx context.Context, id uuid.UUID, now time.Time) (*model.ExamSession, error)
	RegisterViolation(ctx context.Context, id uuid.UUID, violationType string, limit int, now time.Time) (*repository.ViolationOutcome, error)
	RecordAnswer(ctx context.Context, w repository.AnswerWrite) (*model.ExamSession, error)
	FinalizeOverdue(ctx context.Context, cutoff, now time.Time) ([]repository.FinalizedSession, error)
}

// StudentStore is implemented by repository.StudentRepository.
type StudentStore interface {
	GetByID(ctx context.Context, id int) (*model.Student, error)
	GetByRegisterNo(ctx context.Context, registerNo string) (*model.Student, error)
	FindEligible(ctx context.Context, batch string, department *string, registerNos []string) ([]model.Student, error)
}

// StaffStore is implemented by repository.StaffRepository.
type StaffStore interface {
	GetByEmail(ctx context.Context, email string) (*model.Staff, error)
}

// QuestionStore is implemented by repository.QuestionRepository.
type QuestionStore interface {
	ListBySubjects(ctx context.Context, subjects []string) ([]model.BankQuestion, error)
}

// ActivationRegistry is the durable set of pending activation and expiry
// fire times, implemented by RedisRegistry.
type ActivationRegistry interface {
	ScheduleActivation(ctx context.Context, id uuid.UUID, at time.Time) error
	ScheduleExpiry(ctx context.Context, id uuid.UUID, at time.Time) error
	Remove(ctx context.Context, id uuid.UUID) error
	DueActivations(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	DueExpiries(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// ChangePublisher fans session transitions out to staff monitors.
type ChangePublisher interface {
	Publish(ctx context.Context, change model.SessionChange) error
}

// ViolationQueue buffers violation audit events for the log worker.
type ViolationQueue interface {
	Enqueue(ctx context.Context, ev model.ViolationEvent) error
}
