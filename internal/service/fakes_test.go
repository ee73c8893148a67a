package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/repository"
)

// ─── Schedules ──────────────────────────────────────────────────────

type fakeSchedules struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*model.ExamSchedule
	roster *fakeRoster
	// collide makes the next n Activate calls fail with ErrCodeTaken.
	collide int
}

func newFakeSchedules(roster *fakeRoster) *fakeSchedules {
	return &fakeSchedules{rows: make(map[uuid.UUID]*model.ExamSchedule), roster: roster}
}

func (f *fakeSchedules) put(s *model.ExamSchedule) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.rows[s.ID] = &cp
}

func (f *fakeSchedules) get(id uuid.UUID) *model.ExamSchedule {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

func (f *fakeSchedules) Create(_ context.Context, s *model.ExamSchedule) error {
	f.put(s)
	return nil
}

func (f *fakeSchedules) GetByID(_ context.Context, id uuid.UUID) (*model.ExamSchedule, error) {
	if s := f.get(id); s != nil {
		return s, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSchedules) GetActiveByCode(_ context.Context, code string) (*model.ExamSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.Status == model.ScheduleStatusActive && s.ExamCode != nil && *s.ExamCode == code {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeSchedules) List(_ context.Context, status model.ScheduleStatus, limit, offset int) ([]model.ExamSchedule, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []model.ExamSchedule
	for _, s := range f.rows {
		if status == "" || s.Status == status {
			all = append(all, *s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ValidFrom.After(all[j].ValidFrom) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

func (f *fakeSchedules) HasConflict(_ context.Context, s *model.ExamSchedule) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.rows {
		if o.ExamDate != s.ExamDate || o.Batch != s.Batch || o.Status == model.ScheduleStatusCancelled {
			continue
		}
		if o.Department != nil && s.Department != nil && *o.Department == *s.Department {
			return true, nil
		}
		for _, r := range s.RegisterNos {
			if slices.Contains(o.RegisterNos, r) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeSchedules) CodeInUse(_ context.Context, code string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codeInUse(code), nil
}

func (f *fakeSchedules) codeInUse(code string) bool {
	for _, s := range f.rows {
		if s.ExamCode != nil && *s.ExamCode == code {
			return true
		}
	}
	return false
}

func (f *fakeSchedules) Activate(_ context.Context, id uuid.UUID, code string, now time.Time, entries []model.RosterEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collide > 0 {
		f.collide--
		return repository.ErrCodeTaken
	}
	s, ok := f.rows[id]
	if !ok || s.Status != model.ScheduleStatusScheduled || now.Before(s.ValidFrom) {
		return repository.ErrGuardFailed
	}
	if f.codeInUse(code) {
		return repository.ErrCodeTaken
	}
	s.Status = model.ScheduleStatusActive
	s.ExamCode = &code
	s.ActivatedAt = &now
	for _, e := range entries {
		f.roster.setQuestions(e.ID, e.Questions)
	}
	return nil
}

func (f *fakeSchedules) Expire(_ context.Context, id uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.Status != model.ScheduleStatusActive || !s.ValidTill.Before(now) {
		return repository.ErrGuardFailed
	}
	s.Status = model.ScheduleStatusExpired
	s.ExpiredAt = &now
	return nil
}

func (f *fakeSchedules) Cancel(_ context.Context, id uuid.UUID, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	if s.Status != model.ScheduleStatusScheduled && s.Status != model.ScheduleStatusActive {
		return repository.ErrGuardFailed
	}
	s.Status = model.ScheduleStatusCancelled
	s.ExamCode = nil
	s.CancelledAt = &now
	f.roster.deleteSchedule(id)
	return nil
}

func (f *fakeSchedules) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(f.rows, id)
	f.roster.deleteSchedule(id)
	return nil
}

func (f *fakeSchedules) ListPending(_ context.Context) ([]model.ExamSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExamSchedule
	for _, s := range f.rows {
		if s.Status == model.ScheduleStatusScheduled || s.Status == model.ScheduleStatusActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSchedules) ListDueForActivation(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	return f.ids(func(s *model.ExamSchedule) bool {
		return s.Status == model.ScheduleStatusScheduled && !s.ValidFrom.After(now)
	}), nil
}

func (f *fakeSchedules) ListDueForExpiry(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	return f.ids(func(s *model.ExamSchedule) bool {
		return s.Status == model.ScheduleStatusActive && s.ValidTill.Before(now)
	}), nil
}

func (f *fakeSchedules) DeleteEndedBefore(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	ids := f.ids(func(s *model.ExamSchedule) bool {
		return (s.Status == model.ScheduleStatusExpired || s.Status == model.ScheduleStatusCancelled) &&
			s.ValidTill.Before(cutoff)
	})
	for _, id := range ids {
		_ = f.Delete(context.Background(), id)
	}
	return ids, nil
}

func (f *fakeSchedules) ids(match func(*model.ExamSchedule) bool) []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for id, s := range f.rows {
		if match(s) {
			out = append(out, id)
		}
	}
	return out
}

// ─── Roster ─────────────────────────────────────────────────────────

type rosterKey struct {
	schedule uuid.UUID
	student  int
}

type fakeRoster struct {
	mu      sync.Mutex
	entries map[rosterKey]*model.RosterEntry
}

func newFakeRoster() *fakeRoster {
	return &fakeRoster{entries: make(map[rosterKey]*model.RosterEntry)}
}

func copyEntry(e *model.RosterEntry) *model.RosterEntry {
	cp := *e
	cp.Questions = append([]model.AssignedQuestion(nil), e.Questions...)
	return &cp
}

func (f *fakeRoster) add(e model.RosterEntry) *model.RosterEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	f.entries[rosterKey{e.ScheduleID, e.StudentID}] = copyEntry(&e)
	return copyEntry(&e)
}

func (f *fakeRoster) setQuestions(entryID uuid.UUID, qs []model.AssignedQuestion) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e.ID == entryID {
			e.Questions = append([]model.AssignedQuestion(nil), qs...)
		}
	}
}

func (f *fakeRoster) deleteSchedule(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k := range f.entries {
		if k.schedule == id {
			delete(f.entries, k)
		}
	}
}

func (f *fakeRoster) count(scheduleID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for k := range f.entries {
		if k.schedule == scheduleID {
			n++
		}
	}
	return n
}

func (f *fakeRoster) CreateEntries(_ context.Context, scheduleID uuid.UUID, students []model.Student) (int64, error) {
	for _, s := range students {
		f.add(model.RosterEntry{
			ScheduleID: scheduleID,
			StudentID:  s.ID,
			RegisterNo: s.RegisterNo,
			Name:       s.Name,
			Department: s.Department,
			Batch:      s.Batch,
		})
	}
	return int64(len(students)), nil
}

func (f *fakeRoster) ListBySchedule(_ context.Context, scheduleID uuid.UUID) ([]model.RosterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.RosterEntry
	for k, e := range f.entries {
		if k.schedule == scheduleID {
			out = append(out, *copyEntry(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisterNo < out[j].RegisterNo })
	return out, nil
}

func (f *fakeRoster) Get(_ context.Context, scheduleID uuid.UUID, studentID int) (*model.RosterEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[rosterKey{scheduleID, studentID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copyEntry(e), nil
}

func (f *fakeRoster) Complete(_ context.Context, scheduleID uuid.UUID, studentID, score int, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[rosterKey{scheduleID, studentID}]
	if !ok || e.IsComplete {
		return repository.ErrGuardFailed
	}
	e.IsComplete = true
	e.CompletedAt = &now
	e.Score = &score
	return nil
}

// ─── Sessions ───────────────────────────────────────────────────────

type fakeSessions struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*model.ExamSession
	roster    *fakeRoster
	schedules *fakeSchedules
}

func newFakeSessions(roster *fakeRoster, schedules *fakeSchedules) *fakeSessions {
	return &fakeSessions{rows: make(map[uuid.UUID]*model.ExamSession), roster: roster, schedules: schedules}
}

func (f *fakeSessions) put(s model.ExamSession) *model.ExamSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	f.rows[s.ID] = &s
	cp := s
	return &cp
}

func (f *fakeSessions) byID(id uuid.UUID) *model.ExamSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.rows[id]
	return &cp
}

func (f *fakeSessions) find(scheduleID uuid.UUID, studentID int) *model.ExamSession {
	for _, s := range f.rows {
		if s.ScheduleID == scheduleID && s.StudentID == studentID {
			return s
		}
	}
	return nil
}

func (f *fakeSessions) filter(match func(*model.ExamSession) bool) []model.ExamSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExamSession
	for _, s := range f.rows {
		if match(s) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisterNo < out[j].RegisterNo })
	return out
}

func (f *fakeSessions) Get(_ context.Context, scheduleID uuid.UUID, studentID int) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.find(scheduleID, studentID)
	if s == nil {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessions) ListLiveByStudent(_ context.Context, studentID int) ([]model.ExamSession, error) {
	return f.filter(func(s *model.ExamSession) bool { return s.StudentID == studentID && s.State.Live() }), nil
}

func (f *fakeSessions) ListLiveBySchedule(_ context.Context, scheduleID uuid.UUID) ([]model.ExamSession, error) {
	return f.filter(func(s *model.ExamSession) bool { return s.ScheduleID == scheduleID && s.State.Live() }), nil
}

func (f *fakeSessions) BlockingForStudent(_ context.Context, studentID int) (*model.ExamSession, error) {
	blocking := f.filter(func(s *model.ExamSession) bool {
		if s.StudentID != studentID || !s.State.Absorbing() || s.ReasonOrEmpty() == model.ReasonAbandoned {
			return false
		}
		sch := f.schedules.get(s.ScheduleID)
		return sch != nil && sch.Status == model.ScheduleStatusActive
	})
	if len(blocking) == 0 {
		return nil, repository.ErrNotFound
	}
	return &blocking[0], nil
}

func (f *fakeSessions) Insert(_ context.Context, s *model.ExamSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.find(s.ScheduleID, s.StudentID) != nil {
		return repository.ErrDuplicate
	}
	for _, o := range f.rows {
		if o.StudentID == s.StudentID && o.State.Live() {
			return repository.ErrStudentBusy
		}
	}
	s.ID = uuid.New()
	s.State = model.SessionActive
	s.LastSeenAt = s.StartedAt
	s.IsOnline = true
	cp := *s
	f.rows[s.ID] = &cp
	return nil
}

// update applies fn to the row when guard accepts it.
func (f *fakeSessions) update(id uuid.UUID, guard func(*model.ExamSession) bool, fn func(*model.ExamSession)) (*model.ExamSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || !guard(s) {
		return nil, repository.ErrGuardFailed
	}
	fn(s)
	s.Version++
	cp := *s
	return &cp, nil
}

func inState(states ...model.SessionState) func(*model.ExamSession) bool {
	return func(s *model.ExamSession) bool { return slices.Contains(states, s.State) }
}

func (f *fakeSessions) Transition(_ context.Context, id uuid.UUID, from []model.SessionState, to model.SessionState, reason string, now time.Time) (*model.ExamSession, error) {
	return f.update(id, inState(from...), func(s *model.ExamSession) {
		s.State = to
		if reason != "" {
			s.Reason = &reason
		}
		if to.Absorbing() {
			s.EndedAt = &now
		}
		if to == model.SessionPaused {
			s.LastDisconnectedAt = &now
		}
		s.IsOnline = false
	})
}

func (f *fakeSessions) Touch(_ context.Context, id uuid.UUID, now time.Time) (*model.ExamSession, error) {
	return f.update(id, inState(model.SessionActive), func(s *model.ExamSession) {
		s.LastSeenAt = now
		s.IsOnline = true
	})
}

func (f *fakeSessions) MarkOffline(_ context.Context, id uuid.UUID, now time.Time) (*model.ExamSession, error) {
	return f.update(id, inState(model.SessionActive), func(s *model.ExamSession) {
		reason := model.ReasonOffline
		s.State = model.SessionPaused
		s.Reason = &reason
		s.OfflineCount++
		s.LastDisconnectedAt = &now
		s.IsOnline = false
	})
}

func (f *fakeSessions) Resume(_ context.Context, id uuid.UUID, now time.Time) (*model.ExamSession, error) {
	return f.update(id, inState(model.SessionPaused), func(s *model.ExamSession) {
		if s.LastDisconnectedAt != nil {
			s.TotalOfflineSeconds += int(now.Sub(*s.LastDisconnectedAt).Seconds())
		}
		s.State = model.SessionActive
		s.Reason = nil
		s.LastDisconnectedAt = nil
		s.LastSeenAt = now
		s.IsOnline = true
	})
}

func (f *fakeSessions) RegisterViolation(_ context.Context, id uuid.UUID, violationType string, limit int, now time.Time) (*repository.ViolationOutcome, error) {
	s, err := f.update(id, inState(model.SessionActive), func(s *model.ExamSession) {
		switch violationType {
		case model.ViolationFullscreenExit:
			s.FullscreenExit++
		case model.ViolationTabSwitch:
			s.TabSwitch++
		}
		if s.Violations() >= limit {
			reason := model.ReasonViolationLimit
			s.State = model.SessionTerminated
			s.Reason = &reason
			s.EndedAt = &now
		}
		s.LastSeenAt = now
	})
	if err != nil {
		return nil, err
	}
	out := &repository.ViolationOutcome{Session: s, Terminated: s.State == model.SessionTerminated}
	if out.Terminated {
		f.roster.mu.Lock()
		if e, ok := f.roster.entries[rosterKey{s.ScheduleID, s.StudentID}]; ok {
			e.Violations = s.Violations()
		}
		f.roster.mu.Unlock()
	}
	return out, nil
}

func (f *fakeSessions) RecordAnswer(_ context.Context, w repository.AnswerWrite) (*model.ExamSession, error) {
	guard := func(s *model.ExamSession) bool {
		return s.State == model.SessionActive && s.CurrentQuestionIndex == w.ExpectedIndex
	}
	s, err := f.update(w.SessionID, guard, func(s *model.ExamSession) {
		s.CurrentQuestionIndex++
		s.LastSeenAt = w.Now
		if w.Complete {
			reason := model.ReasonAllAnswered
			s.State = model.SessionCompleted
			s.Reason = &reason
			s.EndedAt = &w.Now
		}
	})
	if err != nil {
		return nil, err
	}

	f.roster.mu.Lock()
	defer f.roster.mu.Unlock()
	for _, e := range f.roster.entries {
		if e.ID != w.EntryID {
			continue
		}
		e.Questions = append([]model.AssignedQuestion(nil), w.Questions...)
		if w.Complete {
			score := w.Score
			e.IsComplete = true
			e.CompletedAt = &w.Now
			e.Score = &score
		}
	}
	return s, nil
}

func (f *fakeSessions) FinalizeOverdue(_ context.Context, cutoff, now time.Time) ([]repository.FinalizedSession, error) {
	due := f.filter(func(s *model.ExamSession) bool {
		if !s.State.Live() {
			return false
		}
		if s.EndsAt.Before(cutoff) {
			return true
		}
		sch := f.schedules.get(s.ScheduleID)
		return sch != nil && sch.ValidTill.Before(cutoff)
	})
	var out []repository.FinalizedSession
	for _, s := range due {
		done, err := f.Transition(context.Background(), s.ID, []model.SessionState{s.State}, model.SessionCompleted, model.ReasonTimeUp, now)
		if err == nil {
			out = append(out, repository.FinalizedSession{From: s.State, Session: *done})
		}
	}
	return out, nil
}

// ─── Students, staff, questions ─────────────────────────────────────

type fakeStudents struct {
	rows []model.Student
}

func (f *fakeStudents) GetByID(_ context.Context, id int) (*model.Student, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			s := f.rows[i]
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStudents) GetByRegisterNo(_ context.Context, registerNo string) (*model.Student, error) {
	for i := range f.rows {
		if f.rows[i].RegisterNo == registerNo {
			s := f.rows[i]
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStudents) FindEligible(_ context.Context, batch string, department *string, registerNos []string) ([]model.Student, error) {
	var out []model.Student
	for _, s := range f.rows {
		if s.Batch != batch {
			continue
		}
		if (department != nil && s.Department == *department) || slices.Contains(registerNos, s.RegisterNo) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeStaff struct {
	rows []model.Staff
}

func (f *fakeStaff) GetByEmail(_ context.Context, email string) (*model.Staff, error) {
	for i := range f.rows {
		if f.rows[i].Email == email {
			s := f.rows[i]
			return &s, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeQuestions struct {
	bank []model.BankQuestion
}

func (f *fakeQuestions) ListBySubjects(_ context.Context, subjects []string) ([]model.BankQuestion, error) {
	var out []model.BankQuestion
	for _, q := range f.bank {
		if slices.Contains(subjects, q.Subject) {
			out = append(out, q)
		}
	}
	return out, nil
}

// bankPool returns n distinct questions for one subject, topic and level.
func bankPool(subject, topic string, level, n int) []model.BankQuestion {
	out := make([]model.BankQuestion, n)
	for i := range out {
		out[i] = model.BankQuestion{
			ID:              uuid.New(),
			Subject:         subject,
			Topic:           topic,
			DifficultyLevel: level,
			QuestionText:    fmt.Sprintf("%s %s level %d question %d", subject, topic, level, i),
			Options:         []string{"alpha", "beta", "gamma", fmt.Sprintf("answer %d", i)},
			CorrectOption:   fmt.Sprintf("answer %d", i),
		}
	}
	return out
}

// ─── Registry, publisher, queue ─────────────────────────────────────

type fakeRegistry struct {
	mu          sync.Mutex
	activations map[uuid.UUID]time.Time
	expiries    map[uuid.UUID]time.Time
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		activations: make(map[uuid.UUID]time.Time),
		expiries:    make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeRegistry) ScheduleActivation(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activations[id] = at
	return nil
}

func (f *fakeRegistry) ScheduleExpiry(_ context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiries[id] = at
	return nil
}

func (f *fakeRegistry) Remove(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.activations, id)
	delete(f.expiries, id)
	return nil
}

func (f *fakeRegistry) DueActivations(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	return f.pop(f.activations, now), nil
}

func (f *fakeRegistry) DueExpiries(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	return f.pop(f.expiries, now), nil
}

func (f *fakeRegistry) pop(set map[uuid.UUID]time.Time, now time.Time) []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for id, at := range set {
		if !at.After(now) {
			out = append(out, id)
			delete(set, id)
		}
	}
	return out
}

type fakePublisher struct {
	mu      sync.Mutex
	changes []model.SessionChange
}

func (f *fakePublisher) Publish(_ context.Context, c model.SessionChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, c)
	return nil
}

func (f *fakePublisher) events() []model.SessionEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.SessionEvent, len(f.changes))
	for i, c := range f.changes {
		out[i] = c.Event
	}
	return out
}

type fakeQueue struct {
	mu     sync.Mutex
	events []model.ViolationEvent
}

func (f *fakeQueue) Enqueue(_ context.Context, ev model.ViolationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeQueue) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}
