package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionState is the closed set of exam session states. The zero value
// SessionNone means no session record exists yet.
type SessionState string

const (
	SessionNone       SessionState = ""
	SessionActive     SessionState = "ACTIVE"
	SessionPaused     SessionState = "PAUSED"
	SessionTerminated SessionState = "TERMINATED"
	SessionCompleted  SessionState = "COMPLETED"
)

// Absorbing reports whether no further transition may leave s.
func (s SessionState) Absorbing() bool {
	return s == SessionTerminated || s == SessionCompleted
}

// Live reports whether s is a non-absorbed, existing state.
func (s SessionState) Live() bool {
	return s == SessionActive || s == SessionPaused
}

// SessionEvent is anything that can move a session between states.
type SessionEvent string

const (
	EventStart            SessionEvent = "start"
	EventOffline          SessionEvent = "offline"
	EventHeartbeatTimeout SessionEvent = "heartbeat_timeout"
	EventForcedExit       SessionEvent = "forced_exit"
	EventStaffPause       SessionEvent = "staff_pause"
	EventResume           SessionEvent = "resume"
	EventViolationLimit   SessionEvent = "violation_limit"
	EventAbandon          SessionEvent = "abandon"
	EventTimeUp           SessionEvent = "time_up"
	EventLastAnswer       SessionEvent = "last_answer"
	EventSubmit           SessionEvent = "submit"
)

type transitionKey struct {
	from  SessionState
	event SessionEvent
}

var transitions = map[transitionKey]SessionState{
	{SessionNone, EventStart}: SessionActive,

	{SessionActive, EventOffline}:          SessionPaused,
	{SessionActive, EventHeartbeatTimeout}: SessionPaused,
	{SessionActive, EventForcedExit}:       SessionPaused,
	{SessionActive, EventStaffPause}:       SessionPaused,

	{SessionPaused, EventResume}: SessionActive,

	{SessionActive, EventViolationLimit}: SessionTerminated,
	{SessionActive, EventAbandon}:        SessionTerminated,
	{SessionPaused, EventAbandon}:        SessionTerminated,

	{SessionActive, EventTimeUp}:     SessionCompleted,
	{SessionPaused, EventTimeUp}:     SessionCompleted,
	{SessionActive, EventLastAnswer}: SessionCompleted,
	{SessionActive, EventSubmit}:     SessionCompleted,
	{SessionPaused, EventSubmit}:     SessionCompleted,
}

// Transition returns the state reached from `from` on `event`. ok is false
// for every move outside the table, including any move out of an absorbing
// state.
func Transition(from SessionState, event SessionEvent) (to SessionState, ok bool) {
	to, ok = transitions[transitionKey{from, event}]
	return to, ok
}

// Sources lists the states from which event is allowed. Repositories use it
// to build the expected-state guard of a conditional update.
func Sources(event SessionEvent) []SessionState {
	var out []SessionState
	for _, s := range []SessionState{SessionNone, SessionActive, SessionPaused, SessionTerminated, SessionCompleted} {
		if _, ok := Transition(s, event); ok && s != SessionNone {
			out = append(out, s)
		}
	}
	return out
}

// Terminal reasons recorded on a session.
const (
	ReasonAbandoned        = "SESSION_ABANDONED"
	ReasonViolationLimit   = "VIOLATION_LIMIT_EXCEEDED"
	ReasonHeartbeatTimeout = "HEARTBEAT_TIMEOUT"
	ReasonOffline          = "OFFLINE"
	ReasonStaffPause       = "STAFF_PAUSE"
	ReasonTimeUp           = "TIME_UP"
	ReasonAllAnswered      = "ALL_ANSWERED"
	ReasonSubmitted        = "SUBMITTED"
)

// ExamSession is one student's attempt at one schedule.
type ExamSession struct {
	ID                   uuid.UUID    `json:"id"`
	ScheduleID           uuid.UUID    `json:"schedule_id"`
	StudentID            int          `json:"student_id"`
	RegisterNo           string       `json:"register_no"`
	State                SessionState `json:"state"`
	CurrentQuestionIndex int          `json:"current_question_index"`
	StartedAt            time.Time    `json:"started_at"`
	EndsAt               time.Time    `json:"ends_at"`
	LastSeenAt           time.Time    `json:"last_seen_at"`
	FullscreenExit       int          `json:"fullscreen_exit"`
	TabSwitch            int          `json:"tab_switch"`
	OfflineCount         int          `json:"offline_count"`
	TotalOfflineSeconds  int          `json:"total_offline_seconds"`
	LastDisconnectedAt   *time.Time   `json:"last_disconnected_at,omitempty"`
	IsOnline             bool         `json:"is_online"`
	Reason               *string      `json:"reason,omitempty"`
	EndedAt              *time.Time   `json:"ended_at,omitempty"`
	Version              int          `json:"version"`
}

// Violations returns the counted violation total.
func (s *ExamSession) Violations() int {
	return s.FullscreenExit + s.TabSwitch
}

// Remaining returns the time left at now, never negative.
func (s *ExamSession) Remaining(now time.Time) time.Duration {
	if d := s.EndsAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// ReasonOrEmpty dereferences Reason.
func (s *ExamSession) ReasonOrEmpty() string {
	if s.Reason == nil {
		return ""
	}
	return *s.Reason
}

// Violation types counted toward the limit.
const (
	ViolationFullscreenExit = "fullscreenExit"
	ViolationTabSwitch      = "tabSwitch"
)

// Counted reports whether a violation type increments a persisted counter.
func Counted(violationType string) bool {
	return violationType == ViolationFullscreenExit || violationType == ViolationTabSwitch
}

// ViolationEvent is an audit record of a client-reported integrity event.
type ViolationEvent struct {
	SessionID  uuid.UUID       `json:"session_id"`
	ScheduleID uuid.UUID       `json:"schedule_id"`
	StudentID  int             `json:"student_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// ─── Requests ───────────────────────────────────────────────────────

// ValidateCodeRequest is the payload for redeeming an exam code.
type ValidateCodeRequest struct {
	Code string `json:"code" binding:"required,len=6,alphanum"`
}

// ScheduleRef identifies the schedule a student request targets.
type ScheduleRef struct {
	ScheduleID string `json:"schedule_id" binding:"required,uuid"`
}

// ScheduleQuery carries the schedule on GET requests.
type ScheduleQuery struct {
	ScheduleID string `form:"schedule_id" binding:"required,uuid"`
}

// ForceExitRequest reports a client-side forced exit.
type ForceExitRequest struct {
	ScheduleID string `json:"schedule_id" binding:"required,uuid"`
	Reason     string `json:"reason" binding:"required,max=64"`
}

// ViolationRequest reports an integrity event.
type ViolationRequest struct {
	ScheduleID string         `json:"schedule_id" binding:"required,uuid"`
	Type       string         `json:"type" binding:"required,max=64"`
	Payload    map[string]any `json:"payload"`
}

// SubmitAnswerRequest records the answer for the current question.
type SubmitAnswerRequest struct {
	ScheduleID    string `json:"schedule_id" binding:"required,uuid"`
	QuestionIndex int    `json:"question_index" binding:"min=0"`
	QuestionText  string `json:"question_text" binding:"required"`
	ChosenOption  string `json:"chosen_option" binding:"required"`
}

// StaffPauseRequest pauses a student's live session.
type StaffPauseRequest struct {
	ScheduleID string `json:"schedule_id" binding:"required,uuid"`
	RegisterNo string `json:"register_no" binding:"required,max=30"`
}

// ─── Responses ──────────────────────────────────────────────────────

// SessionStatus is the client-facing view of a session.
type SessionStatus struct {
	SessionID        uuid.UUID    `json:"session_id"`
	ScheduleID       uuid.UUID    `json:"schedule_id"`
	State            SessionState `json:"state"`
	Reason           string       `json:"reason,omitempty"`
	EndsAt           time.Time    `json:"ends_at"`
	RemainingSeconds int          `json:"remaining_seconds"`
	CurrentQuestion  int          `json:"current_question_index"`
	Violations       int          `json:"violations"`
}

// ExamPayload is returned when a code is redeemed or a session resumes.
type ExamPayload struct {
	ScheduleID       uuid.UUID            `json:"schedule_id"`
	Subjects         []string             `json:"subjects"`
	CIE              CIE                  `json:"cie"`
	ExamDate         string               `json:"exam_date"`
	StartTime        string               `json:"start_time"`
	EndTime          string               `json:"end_time"`
	DurationMinutes  int                  `json:"duration_minutes"`
	TotalQuestions   int                  `json:"total_questions"`
	IsResume         bool                 `json:"is_resume"`
	CurrentQuestion  int                  `json:"current_question_index"`
	RemainingSeconds int                  `json:"remaining_seconds"`
	Questions        []QuestionForStudent `json:"questions"`
}

// ViolationResult is returned after a violation is registered.
type ViolationResult struct {
	Terminated      bool         `json:"terminated"`
	State           SessionState `json:"state"`
	FullscreenExit  int          `json:"fullscreen_exit"`
	TabSwitch       int          `json:"tab_switch"`
	TotalViolations int          `json:"total_violations"`
	Limit           int          `json:"limit"`
}

// AnswerResult is returned after an answer is recorded.
type AnswerResult struct {
	NextQuestionIndex int                 `json:"next_question_index"`
	Completed         bool                `json:"completed"`
	NextQuestion      *QuestionForStudent `json:"next_question,omitempty"`
}

// ExamResult is the finalized score of an attempt.
type ExamResult struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	Score      int       `json:"score"`
	Total      int       `json:"total"`
}

// SessionChange is published to staff monitors on every transition.
type SessionChange struct {
	ScheduleID uuid.UUID    `json:"schedule_id"`
	SessionID  uuid.UUID    `json:"session_id"`
	StudentID  int          `json:"student_id"`
	RegisterNo string       `json:"register_no"`
	From       SessionState `json:"from"`
	To         SessionState `json:"to"`
	Event      SessionEvent `json:"event"`
	Reason     string       `json:"reason,omitempty"`
	At         time.Time    `json:"at"`
}
