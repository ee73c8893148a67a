package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/response"
	"github.com/stemsi/exam-orchestrator/internal/validator"
)

// StudentExam is the student surface of the session service.
type StudentExam interface {
	ValidateCode(ctx context.Context, studentID int, code string) (*model.ExamPayload, error)
	Start(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error)
	Heartbeat(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error)
	MarkOffline(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error)
	Resume(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error)
	ForceExit(ctx context.Context, studentID int, scheduleID uuid.UUID, reason string) (*model.SessionStatus, error)
	Status(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error)
	RemainingTime(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.SessionStatus, error)
	RegisterViolation(ctx context.Context, studentID int, scheduleID uuid.UUID, violationType string, payload map[string]any) (*model.ViolationResult, error)
	SubmitAnswer(ctx context.Context, studentID int, scheduleID uuid.UUID, req *model.SubmitAnswerRequest) (*model.AnswerResult, error)
	SubmitResult(ctx context.Context, studentID int, scheduleID uuid.UUID) (*model.ExamResult, error)
}

// ExamSessionHandler handles the student exam endpoints.
type ExamSessionHandler struct {
	sessions StudentExam
	log      zerolog.Logger
}

// NewExamSessionHandler creates a new ExamSessionHandler.
func NewExamSessionHandler(sessions StudentExam, log zerolog.Logger) *ExamSessionHandler {
	return &ExamSessionHandler{
		sessions: sessions,
		log:      log.With().Str("component", "exam_session_handler").Logger(),
	}
}

// ValidateCode godoc
// POST /api/v1/student/exam/validate-code
// Redeems an exam code. Returns the first question for a new attempt or the
// full sequence with prior answers for a live one.
func (h *ExamSessionHandler) ValidateCode(c *gin.Context) {
	student, ok := studentID(c)
	if !ok {
		return
	}
	var req model.ValidateCodeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	payload, err := h.sessions.ValidateCode(c.Request.Context(), student, req.Code)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, payload)
}

// sessionAction binds a ScheduleRef body and runs op for the caller.
func (h *ExamSessionHandler) sessionAction(c *gin.Context, op func(context.Context, int, uuid.UUID) (*model.SessionStatus, error)) {
	student, ok := studentID(c)
	if !ok {
		return
	}
	var req model.ScheduleRef
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	id, ok := parseID(c, req.ScheduleID)
	if !ok {
		return
	}

	st, err := op(c.Request.Context(), student, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}

// sessionQuery is sessionAction for GET endpoints taking ?schedule_id=.
func (h *ExamSessionHandler) sessionQuery(c *gin.Context, op func(context.Context, int, uuid.UUID) (*model.SessionStatus, error)) {
	student, ok := studentID(c)
	if !ok {
		return
	}
	var q model.ScheduleQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	id, ok := parseID(c, q.ScheduleID)
	if !ok {
		return
	}

	st, err := op(c.Request.Context(), student, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}

// Start godoc
// POST /api/v1/student/exam/start
// Creates the attempt, returns it if already running, or resumes it if paused.
func (h *ExamSessionHandler) Start(c *gin.Context) { h.sessionAction(c, h.sessions.Start) }

// Heartbeat godoc
// POST /api/v1/student/exam/heartbeat
func (h *ExamSessionHandler) Heartbeat(c *gin.Context) { h.sessionAction(c, h.sessions.Heartbeat) }

// MarkOffline godoc
// POST /api/v1/student/exam/offline
// Beacon sent on page unload; always answers 200 with the current state.
func (h *ExamSessionHandler) MarkOffline(c *gin.Context) {
	h.sessionAction(c, h.sessions.MarkOffline)
}

// Resume godoc
// POST /api/v1/student/exam/resume
func (h *ExamSessionHandler) Resume(c *gin.Context) { h.sessionAction(c, h.sessions.Resume) }

// Status godoc
// GET /api/v1/student/exam/status?schedule_id=
func (h *ExamSessionHandler) Status(c *gin.Context) { h.sessionQuery(c, h.sessions.Status) }

// RemainingTime godoc
// GET /api/v1/student/exam/time?schedule_id=
func (h *ExamSessionHandler) RemainingTime(c *gin.Context) {
	h.sessionQuery(c, h.sessions.RemainingTime)
}

// ForceExit godoc
// POST /api/v1/student/exam/force-exit
func (h *ExamSessionHandler) ForceExit(c *gin.Context) {
	student, ok := studentID(c)
	if !ok {
		return
	}
	var req model.ForceExitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	id, ok := parseID(c, req.ScheduleID)
	if !ok {
		return
	}

	st, err := h.sessions.ForceExit(c.Request.Context(), student, id, req.Reason)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}

// RegisterViolation godoc
// POST /api/v1/student/exam/violation
func (h *ExamSessionHandler) RegisterViolation(c *gin.Context) {
	student, ok := studentID(c)
	if !ok {
		return
	}
	var req model.ViolationRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	id, ok := parseID(c, req.ScheduleID)
	if !ok {
		return
	}

	res, err := h.sessions.RegisterViolation(c.Request.Context(), student, id, req.Type, req.Payload)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// SubmitAnswer godoc
// POST /api/v1/student/exam/answer
func (h *ExamSessionHandler) SubmitAnswer(c *gin.Context) {
	student, ok := studentID(c)
	if !ok {
		return
	}
	var req model.SubmitAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	id, ok := parseID(c, req.ScheduleID)
	if !ok {
		return
	}

	res, err := h.sessions.SubmitAnswer(c.Request.Context(), student, id, &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// SubmitResult godoc
// POST /api/v1/student/exam/result
func (h *ExamSessionHandler) SubmitResult(c *gin.Context) {
	student, ok := studentID(c)
	if !ok {
		return
	}
	var req model.ScheduleRef
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	id, ok := parseID(c, req.ScheduleID)
	if !ok {
		return
	}

	res, err := h.sessions.SubmitResult(c.Request.Context(), student, id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}
