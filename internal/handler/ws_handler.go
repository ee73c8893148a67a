package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/apperror"
	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/response"
	ws "github.com/stemsi/exam-orchestrator/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the student exam stream: heartbeats, answers and
// violations over one socket, with transitions made elsewhere pushed back.
type WSHandler struct {
	sessions StudentExam
	monitor  LiveMonitor
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions StudentExam, monitor LiveMonitor, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		monitor:  monitor,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/student/exam/stream?token=&schedule_id=
// The session must exist before the upgrade. An unexpected disconnect is
// treated as the student going offline.
func (h *WSHandler) ExamStream(c *gin.Context) {
	student, ok := studentID(c)
	if !ok {
		return
	}
	var q model.ScheduleQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrValidation)
		return
	}
	scheduleID, ok := parseID(c, q.ScheduleID)
	if !ok {
		return
	}

	st, err := h.sessions.Status(c.Request.Context(), student, scheduleID)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	log := h.log.With().Int("student_id", student).Str("schedule_id", scheduleID.String()).Logger()
	log.Info().Msg("Student connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.pushChanges(ctx, conn, log, student, scheduleID)

	_ = conn.WriteTyped(ws.StatusResponse{Event: ws.EventStatus, Session: st})

	for {
		var msg ws.Request
		if err := conn.ReadRequest(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) || isTimeout(err) {
				log.Warn().Err(err).Msg("Unexpected close, marking offline")
				h.markOffline(log, student, scheduleID)
			} else {
				log.Debug().Msg("Connection closed")
			}
			return
		}
		h.dispatch(ctx, conn, log, student, scheduleID, &msg)
	}
}

func (h *WSHandler) dispatch(ctx context.Context, conn *ws.Conn, log zerolog.Logger, student int, scheduleID uuid.UUID, msg *ws.Request) {
	switch msg.Action {
	case ws.ActionPing:
		_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	case ws.ActionHeartbeat:
		st, err := h.sessions.Heartbeat(ctx, student, scheduleID)
		if err != nil {
			h.writeErr(conn, log, err)
			return
		}
		_ = conn.WriteTyped(ws.StatusResponse{Event: ws.EventStatus, Session: st})

	case ws.ActionAnswer:
		res, err := h.sessions.SubmitAnswer(ctx, student, scheduleID, &model.SubmitAnswerRequest{
			ScheduleID:    scheduleID.String(),
			QuestionIndex: msg.QuestionIndex,
			QuestionText:  msg.QuestionText,
			ChosenOption:  msg.ChosenOption,
		})
		if err != nil {
			h.writeErr(conn, log, err)
			return
		}
		_ = conn.WriteTyped(ws.AnswerResponse{Event: ws.EventAnswer, Result: res})

	case ws.ActionViolation:
		if msg.Type == "" {
			_ = conn.WriteError(response.ErrValidation, map[string]any{"type": "required"})
			return
		}
		res, err := h.sessions.RegisterViolation(ctx, student, scheduleID, msg.Type, msg.Payload)
		if err != nil {
			h.writeErr(conn, log, err)
			return
		}
		_ = conn.WriteTyped(ws.ViolationResponse{Event: ws.EventViolation, Result: res})

	default:
		log.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
		_ = conn.WriteError(response.ErrInvalidPayload, map[string]any{"action": msg.Action})
	}
}

// pushChanges forwards transitions of this student's session published on
// the schedule channel.
func (h *WSHandler) pushChanges(ctx context.Context, conn *ws.Conn, log zerolog.Logger, student int, scheduleID uuid.UUID) {
	pubsub := h.monitor.Subscribe(ctx, scheduleID)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var change model.SessionChange
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil || change.StudentID != student {
				continue
			}
			if err := conn.WriteTyped(ws.SessionResponse{Event: ws.EventSession, Change: change}); err != nil {
				log.Debug().Err(err).Msg("Push failed")
				return
			}
		}
	}
}

func (h *WSHandler) markOffline(log zerolog.Logger, student int, scheduleID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.sessions.MarkOffline(ctx, student, scheduleID); err != nil {
		log.Error().Err(err).Msg("Failed to mark session offline")
	}
}

func (h *WSHandler) writeErr(conn *ws.Conn, log zerolog.Logger, err error) {
	var ae *apperror.Error
	if !errors.As(err, &ae) || ae.Kind == apperror.KindInternal {
		log.Error().Err(err).Msg("Stream action failed")
		_ = conn.WriteError(response.ErrInternal, nil)
		return
	}
	_ = conn.WriteError(ae.Code, ae.Details)
}

func isTimeout(err error) bool {
	var ne interface{ Timeout() bool }
	return errors.As(err, &ne) && ne.Timeout()
}
