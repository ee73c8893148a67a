package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/apperror"
	"github.com/stemsi/exam-orchestrator/internal/assignment"
	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/response"
	"github.com/stemsi/exam-orchestrator/internal/schedule"
)

type scheduleFixture struct {
	svc       *ScheduleService
	schedules *fakeSchedules
	roster    *fakeRoster
	questions *fakeQuestions
	registry  *fakeRegistry
	now       time.Time
}

func newScheduleFixture(t *testing.T) *scheduleFixture {
	t.Helper()
	roster := newFakeRoster()
	f := &scheduleFixture{
		schedules: newFakeSchedules(roster),
		roster:    roster,
		registry:  newFakeRegistry(),
		// 07:30 in the exam zone on 2025-03-01.
		now: time.Date(2025, 3, 1, 2, 0, 0, 0, time.UTC),
	}

	students := &fakeStudents{}
	for i := 1; i <= 10; i++ {
		students.rows = append(students.rows, model.Student{
			ID: i, RegisterNo: fmt.Sprintf("CSE%03d", i), Name: fmt.Sprintf("Student %d", i),
			Department: "CSE", Batch: "2025",
		})
	}
	students.rows = append(students.rows, model.Student{ID: 99, RegisterNo: "ECE001", Department: "ECE", Batch: "2025"})

	var bank []model.BankQuestion
	for _, topic := range []string{"Percentages", "Ratios"} {
		bank = append(bank, bankPool("Aptitude", topic, model.LevelEasy, 6)...)
		bank = append(bank, bankPool("Aptitude", topic, model.LevelMedium, 6)...)
		bank = append(bank, bankPool("Aptitude", topic, model.LevelHard, 3)...)
	}
	f.questions = &fakeQuestions{bank: bank}

	f.svc = NewScheduleService(testConfig(), f.schedules, roster, students, f.questions, f.registry,
		assignment.NewEngine(4), zerolog.Nop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func createRequest() *model.CreateScheduleRequest {
	return &model.CreateScheduleRequest{
		Batch:      "2025",
		Department: "CSE",
		CIE:        model.CIE1,
		Subjects:   []string{"Aptitude"},
		Topics:     map[string][]string{"Aptitude": {"Percentages", "Ratios"}},
		ExamDate:   "2025-03-01",
		StartTime:  "09:00 AM",
		EndTime:    "12:00 PM",
	}
}

func (f *scheduleFixture) create(t *testing.T, req *model.CreateScheduleRequest) *model.ExamSchedule {
	t.Helper()
	sch, err := f.svc.Create(context.Background(), 7, req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sch
}

func TestCreateSchedule(t *testing.T) {
	f := newScheduleFixture(t)
	sch := f.create(t, createRequest())

	if want := time.Date(2025, 3, 1, 3, 20, 0, 0, time.UTC); !sch.ValidFrom.Equal(want) {
		t.Errorf("valid_from = %v, want %v", sch.ValidFrom.UTC(), want)
	}
	if want := time.Date(2025, 3, 1, 6, 30, 0, 0, time.UTC); !sch.ValidTill.Equal(want) {
		t.Errorf("valid_till = %v, want %v", sch.ValidTill.UTC(), want)
	}
	if sch.Status != model.ScheduleStatusScheduled || sch.DurationMinutes != 100 || sch.ViolationLimit != 5 {
		t.Errorf("schedule = status %s, duration %d, limit %d", sch.Status, sch.DurationMinutes, sch.ViolationLimit)
	}
	if sch.CreatedBy == nil || *sch.CreatedBy != 7 {
		t.Errorf("created_by = %v, want 7", sch.CreatedBy)
	}
	if n := f.roster.count(sch.ID); n != 10 {
		t.Errorf("roster has %d entries, want 10", n)
	}
	if at, ok := f.registry.activations[sch.ID]; !ok || !at.Equal(sch.ValidFrom) {
		t.Errorf("activation registered at %v (%v), want %v", at, ok, sch.ValidFrom)
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.CreateScheduleRequest)
		code   response.ErrCode
	}{
		{"past date", func(r *model.CreateScheduleRequest) { r.ExamDate = "2025-02-28" }, response.ErrPastDate},
		{"bad clock", func(r *model.CreateScheduleRequest) { r.StartTime = "9 AM" }, response.ErrInvalidTime},
		{"reversed times", func(r *model.CreateScheduleRequest) { r.StartTime, r.EndTime = r.EndTime, r.StartTime }, response.ErrInvalidTime},
		{"no scope", func(r *model.CreateScheduleRequest) { r.Department = " " }, response.ErrValidation},
		{"no topics", func(r *model.CreateScheduleRequest) { r.Topics = map[string][]string{"Aptitude": {" "}} }, response.ErrValidation},
		{"three subjects", func(r *model.CreateScheduleRequest) {
			r.Subjects = []string{"A", "B", "C"}
			r.Topics = map[string][]string{"A": {"x"}, "B": {"y"}, "C": {"z"}}
		}, response.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newScheduleFixture(t)
			req := createRequest()
			tt.mutate(req)

			_, err := f.svc.Create(context.Background(), 7, req)
			wantAppErr(t, err, apperror.KindValidation, tt.code)
			if len(f.schedules.rows) != 0 {
				t.Error("invalid request stored a schedule")
			}
		})
	}
}

func TestCreateScheduleWithoutStudentsIsDiscarded(t *testing.T) {
	f := newScheduleFixture(t)
	req := createRequest()
	req.Department = "MECH"

	_, err := f.svc.Create(context.Background(), 7, req)
	wantAppErr(t, err, apperror.KindNotFound, response.ErrNoStudents)
	if len(f.schedules.rows) != 0 || len(f.registry.activations) != 0 {
		t.Error("schedule with an empty roster was kept")
	}
}

func TestCreateScheduleConflict(t *testing.T) {
	f := newScheduleFixture(t)
	f.create(t, createRequest())

	_, err := f.svc.Create(context.Background(), 7, createRequest())
	wantAppErr(t, err, apperror.KindStateConflict, response.ErrScheduleConflict)
}

func TestActivateAssignsEveryStudent(t *testing.T) {
	f := newScheduleFixture(t)
	sch := f.create(t, createRequest())
	f.now = sch.ValidFrom

	if err := f.svc.Activate(context.Background(), sch.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	got := f.schedules.get(sch.ID)
	if got.Status != model.ScheduleStatusActive || got.ExamCode == nil || !schedule.ValidCode(*got.ExamCode) {
		t.Fatalf("schedule = status %s code %v, want active with a valid code", got.Status, got.ExamCode)
	}
	if at, ok := f.registry.expiries[sch.ID]; !ok || !at.Equal(sch.ValidTill) {
		t.Errorf("expiry registered at %v (%v), want %v", at, ok, sch.ValidTill)
	}

	entries, _ := f.roster.ListBySchedule(context.Background(), sch.ID)
	for _, e := range entries {
		if len(e.Questions) != 30 {
			t.Fatalf("%s got %d questions, want 30", e.RegisterNo, len(e.Questions))
		}
		seen := make(map[uuid.UUID]bool)
		for i, q := range e.Questions {
			if q.QuestionNumber != i+1 {
				t.Errorf("%s question %d numbered %d", e.RegisterNo, i, q.QuestionNumber)
			}
			if seen[q.QuestionID] {
				t.Errorf("%s received question %s twice", e.RegisterNo, q.QuestionID)
			}
			seen[q.QuestionID] = true
		}
	}
}

func TestActivateBeforeWindowIsRaceLoss(t *testing.T) {
	f := newScheduleFixture(t)
	sch := f.create(t, createRequest())

	err := f.svc.Activate(context.Background(), sch.ID)
	if !apperror.Is(err, apperror.KindRaceLoss) {
		t.Fatalf("Activate before valid_from = %v, want race loss", err)
	}
	if f.schedules.get(sch.ID).Status != model.ScheduleStatusScheduled {
		t.Error("schedule activated early")
	}
}

func TestActivateRetriesCodeCollisions(t *testing.T) {
	f := newScheduleFixture(t)
	taken := activeSchedule("AAAAAA")
	taken.Batch = "2024"
	f.schedules.put(taken)
	sch := f.create(t, createRequest())
	f.now = sch.ValidFrom

	codes := []string{"AAAAAA", "BBBBBB", "CCCCCC"}
	f.svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	f.schedules.collide = 1

	if err := f.svc.Activate(context.Background(), sch.ID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if got := f.schedules.get(sch.ID).ExamCode; got == nil || *got != "CCCCCC" {
		t.Errorf("code = %v, want CCCCCC", got)
	}
}

func TestActivateGivesUpWhenCodesRunOut(t *testing.T) {
	f := newScheduleFixture(t)
	taken := activeSchedule("AAAAAA")
	taken.Batch = "2024"
	f.schedules.put(taken)
	sch := f.create(t, createRequest())
	f.now = sch.ValidFrom
	f.svc.newCode = func() (string, error) { return "AAAAAA", nil }

	err := f.svc.Activate(context.Background(), sch.ID)
	wantAppErr(t, err, apperror.KindInternal, response.ErrCodeCollision)
	if f.schedules.get(sch.ID).Status != model.ScheduleStatusScheduled {
		t.Error("schedule activated without a code")
	}
}

func TestActivateExhaustionWritesNothing(t *testing.T) {
	f := newScheduleFixture(t)
	f.questions.bank = append(
		bankPool("Aptitude", "Percentages", model.LevelEasy, 3),
		bankPool("Aptitude", "Ratios", model.LevelEasy, 20)...,
	)
	sch := f.create(t, createRequest())
	f.now = sch.ValidFrom

	err := f.svc.Activate(context.Background(), sch.ID)
	wantAppErr(t, err, apperror.KindExhaustion, response.ErrQuestionPoolExhausted)

	got := f.schedules.get(sch.ID)
	if got.Status != model.ScheduleStatusScheduled || got.ExamCode != nil {
		t.Errorf("schedule = %s with code %v, want untouched", got.Status, got.ExamCode)
	}
	entries, _ := f.roster.ListBySchedule(context.Background(), sch.ID)
	for _, e := range entries {
		if len(e.Questions) != 0 {
			t.Fatalf("%s received %d questions after a failed activation", e.RegisterNo, len(e.Questions))
		}
	}
}

func TestActivateLogsEmptyTopics(t *testing.T) {
	f := newScheduleFixture(t)
	var buf bytes.Buffer
	f.svc.log = zerolog.New(&buf)
	req := createRequest()
	req.Topics = map[string][]string{"Aptitude": {"Percentages", "Geometry"}}
	sch := f.create(t, req)
	f.now = sch.ValidFrom

	err := f.svc.Activate(context.Background(), sch.ID)
	wantAppErr(t, err, apperror.KindExhaustion, response.ErrQuestionPoolExhausted)
	if !strings.Contains(buf.String(), "Aptitude/Geometry") {
		t.Errorf("log %q does not name the empty topic", buf.String())
	}
}

func TestConcurrentActivationRunsOnce(t *testing.T) {
	f := newScheduleFixture(t)
	sch := f.create(t, createRequest())
	f.now = sch.ValidFrom

	const activators = 4
	errs := make([]error, activators)
	var wg sync.WaitGroup
	for i := range activators {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.svc.Activate(context.Background(), sch.ID)
		}()
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case !apperror.Is(err, apperror.KindRaceLoss):
			t.Errorf("losing activator returned %v, want race loss", err)
		}
	}
	if won != 1 {
		t.Errorf("%d activators won, want 1", won)
	}
}

func TestExpire(t *testing.T) {
	f := newScheduleFixture(t)
	sch := f.create(t, createRequest())
	f.now = sch.ValidFrom
	if err := f.svc.Activate(context.Background(), sch.ID); err != nil {
		t.Fatal(err)
	}

	f.now = sch.ValidTill
	if err := f.svc.Expire(context.Background(), sch.ID); !apperror.Is(err, apperror.KindRaceLoss) {
		t.Fatalf("Expire at valid_till = %v, want race loss", err)
	}

	f.now = sch.ValidTill.Add(time.Second)
	if err := f.svc.Expire(context.Background(), sch.ID); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if got := f.schedules.get(sch.ID).Status; got != model.ScheduleStatusExpired {
		t.Errorf("status = %s, want expired", got)
	}
}

func TestFireDueAndSweep(t *testing.T) {
	f := newScheduleFixture(t)
	ctx := context.Background()
	sch := f.create(t, createRequest())

	if err := f.svc.FireDue(ctx); err != nil {
		t.Fatal(err)
	}
	if f.schedules.get(sch.ID).Status != model.ScheduleStatusScheduled {
		t.Fatal("activation fired before valid_from")
	}

	f.now = sch.ValidFrom
	if err := f.svc.FireDue(ctx); err != nil {
		t.Fatal(err)
	}
	if f.schedules.get(sch.ID).Status != model.ScheduleStatusActive {
		t.Fatal("due activation did not fire")
	}

	// A lost registry entry is recovered by the sweep.
	_ = f.registry.Remove(ctx, sch.ID)
	f.now = sch.ValidTill.Add(time.Minute)
	if err := f.svc.FireDue(ctx); err != nil {
		t.Fatal(err)
	}
	if f.schedules.get(sch.ID).Status != model.ScheduleStatusActive {
		t.Fatal("expiry fired without a registry entry")
	}
	if err := f.svc.Sweep(ctx); err != nil {
		t.Fatal(err)
	}
	if got := f.schedules.get(sch.ID).Status; got != model.ScheduleStatusExpired {
		t.Errorf("status after sweep = %s, want expired", got)
	}
}

func TestReconcileRebuildsRegistry(t *testing.T) {
	f := newScheduleFixture(t)
	ctx := context.Background()
	active := f.create(t, createRequest())
	f.now = active.ValidFrom
	if err := f.svc.Activate(ctx, active.ID); err != nil {
		t.Fatal(err)
	}
	req := createRequest()
	req.ExamDate = "2025-03-02"
	pending := f.create(t, req)

	f.registry = newFakeRegistry()
	f.svc.registry = f.registry

	n, err := f.svc.Reconcile(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Reconcile = %d, %v; want 2", n, err)
	}
	if at := f.registry.activations[pending.ID]; !at.Equal(pending.ValidFrom) {
		t.Errorf("pending schedule registered at %v, want %v", at, pending.ValidFrom)
	}
	if at := f.registry.expiries[active.ID]; !at.Equal(active.ValidTill) {
		t.Errorf("active schedule registered at %v, want %v", at, active.ValidTill)
	}
}

func TestCancelSchedule(t *testing.T) {
	f := newScheduleFixture(t)
	ctx := context.Background()
	sch := f.create(t, createRequest())
	f.now = sch.ValidFrom
	if err := f.svc.Activate(ctx, sch.ID); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Cancel(ctx, sch.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got := f.schedules.get(sch.ID)
	if got == nil {
		t.Fatal("cancelled schedule row removed")
	}
	if got.Status != model.ScheduleStatusCancelled || got.ExamCode != nil || got.CancelledAt == nil {
		t.Errorf("schedule = %s code %v cancelled_at %v", got.Status, got.ExamCode, got.CancelledAt)
	}
	if f.roster.count(sch.ID) != 0 {
		t.Error("roster survived cancellation")
	}
	if _, ok := f.registry.expiries[sch.ID]; ok {
		t.Error("expiry still registered")
	}

	err := f.svc.Cancel(ctx, sch.ID)
	wantAppErr(t, err, apperror.KindStateConflict, response.ErrScheduleClosed)

	err = f.svc.Cancel(ctx, uuid.New())
	wantAppErr(t, err, apperror.KindNotFound, response.ErrScheduleNotFound)
}

func TestCancelScheduleBeforeActivation(t *testing.T) {
	f := newScheduleFixture(t)
	sch := f.create(t, createRequest())

	if err := f.svc.Cancel(context.Background(), sch.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, ok := f.registry.activations[sch.ID]; ok {
		t.Error("activation still registered")
	}

	f.now = sch.ValidFrom
	if err := f.svc.Activate(context.Background(), sch.ID); !apperror.Is(err, apperror.KindRaceLoss) {
		t.Errorf("Activate after cancel = %v, want race loss", err)
	}
}

func TestCancelLeavesLiveSessionsRunning(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	f.start(t)

	schedules := NewScheduleService(testConfig(), f.schedules, f.roster, &fakeStudents{}, &fakeQuestions{},
		newFakeRegistry(), assignment.NewEngine(1), zerolog.Nop())
	schedules.now = func() time.Time { return f.now }
	if err := schedules.Cancel(ctx, f.schedule.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	f.now = f.now.Add(time.Minute)
	st, err := f.svc.Heartbeat(ctx, 1, f.schedule.ID)
	if err != nil {
		t.Fatalf("Heartbeat after cancel: %v", err)
	}
	if st.State != model.SessionActive {
		t.Errorf("state after cancel = %s, want ACTIVE", st.State)
	}

	f.now = testNow.Add(100*time.Minute + 6*time.Minute)
	n, err := f.svc.FinalizeOverdue(ctx)
	if err != nil || n != 1 {
		t.Fatalf("FinalizeOverdue = %d, %v; want 1", n, err)
	}
	if s := f.row(t); s.State != model.SessionCompleted {
		t.Errorf("state = %s, want COMPLETED", s.State)
	}
}

func TestPurgeRemovesOldSchedules(t *testing.T) {
	f := newScheduleFixture(t)
	ctx := context.Background()
	sch := f.create(t, createRequest())
	f.now = sch.ValidFrom
	if err := f.svc.Activate(ctx, sch.ID); err != nil {
		t.Fatal(err)
	}
	f.now = sch.ValidTill.Add(time.Second)
	if err := f.svc.Expire(ctx, sch.ID); err != nil {
		t.Fatal(err)
	}

	f.now = sch.ValidTill.Add(9 * 24 * time.Hour)
	if n, _ := f.svc.Purge(ctx); n != 0 {
		t.Fatalf("purged %d schedules inside the retention window", n)
	}
	f.now = sch.ValidTill.Add(11 * 24 * time.Hour)
	if n, err := f.svc.Purge(ctx); err != nil || n != 1 {
		t.Fatalf("Purge = %d, %v; want 1", n, err)
	}
	if f.schedules.get(sch.ID) != nil {
		t.Error("expired schedule survived purge")
	}
}

func TestListSchedulesPaginates(t *testing.T) {
	f := newScheduleFixture(t)
	for _, date := range []string{"2025-03-01", "2025-03-02", "2025-03-03"} {
		req := createRequest()
		req.ExamDate = date
		f.create(t, req)
	}

	page, err := f.svc.List(context.Background(), model.ScheduleFilter{Page: 2, PerPage: 2})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 3 || len(page.Schedules) != 1 || page.Page != 2 {
		t.Errorf("page = total %d, items %d, page %d; want 3, 1, 2", page.Total, len(page.Schedules), page.Page)
	}
}
