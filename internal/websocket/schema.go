package websocket

import (
	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/response"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionHeartbeat Action = "heartbeat"
	ActionAnswer    Action = "answer"
	ActionViolation Action = "violation"
	ActionPing      Action = "ping"
)

// Request is every client message. Fields unused by an action are ignored.
type Request struct {
	Action Action `json:"action"`

	// answer
	QuestionIndex int    `json:"question_index"`
	QuestionText  string `json:"question_text"`
	ChosenOption  string `json:"chosen_option"`

	// violation
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventStatus    Event = "status"
	EventAnswer    Event = "answer"
	EventViolation Event = "violation"
	EventSession   Event = "session"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

type StatusResponse struct {
	Event   Event                `json:"event"`
	Session *model.SessionStatus `json:"session"`
}

type AnswerResponse struct {
	Event  Event               `json:"event"`
	Result *model.AnswerResult `json:"result"`
}

type ViolationResponse struct {
	Event  Event                  `json:"event"`
	Result *model.ViolationResult `json:"result"`
}

// SessionResponse pushes a transition made elsewhere, such as a staff pause
// or a cleanup sweep, to the affected student.
type SessionResponse struct {
	Event  Event               `json:"event"`
	Change model.SessionChange `json:"change"`
}

type ErrorResponse struct {
	Event   Event            `json:"event"`
	Code    response.ErrCode `json:"code"`
	Error   string           `json:"error"`
	Details map[string]any   `json:"details,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
