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

// ScheduleManager is the staff surface of the schedule service.
type ScheduleManager interface {
	Create(ctx context.Context, staffID int, req *model.CreateScheduleRequest) (*model.ExamSchedule, error)
	Get(ctx context.Context, id uuid.UUID) (*model.ExamSchedule, error)
	List(ctx context.Context, f model.ScheduleFilter) (*model.ScheduleListResponse, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// SessionSupervisor is the staff surface of the session service.
type SessionSupervisor interface {
	ListActive(ctx context.Context, scheduleID uuid.UUID) ([]model.ExamSession, error)
	StaffPause(ctx context.Context, scheduleID uuid.UUID, registerNo string) (*model.SessionStatus, error)
}

// ScheduleHandler handles staff schedule management endpoints.
type ScheduleHandler struct {
	schedules ScheduleManager
	sessions  SessionSupervisor
	log       zerolog.Logger
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(schedules ScheduleManager, sessions SessionSupervisor, log zerolog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		schedules: schedules,
		sessions:  sessions,
		log:       log.With().Str("component", "schedule_handler").Logger(),
	}
}

// CreateSchedule godoc
// POST /api/v1/staff/schedules
// Validates the window, snapshots the roster and registers the activation.
func (h *ScheduleHandler) CreateSchedule(c *gin.Context) {
	staff, ok := staffID(c)
	if !ok {
		return
	}

	var req model.CreateScheduleRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sch, err := h.schedules.Create(c.Request.Context(), staff, &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"schedule": sch})
}

// ListSchedules godoc
// GET /api/v1/staff/schedules?status=&page=&per_page=
func (h *ScheduleHandler) ListSchedules(c *gin.Context) {
	var f model.ScheduleFilter
	if fields := validator.BindQuery(c, &f); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	page, err := h.schedules.List(c.Request.Context(), f)
	if err != nil {
		fail(c, h.log, err)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"schedules": page.Schedules},
		response.NewPagination(page.Page, page.PerPage, page.Total))
}

// GetSchedule godoc
// GET /api/v1/staff/schedules/:id
func (h *ScheduleHandler) GetSchedule(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	sch, err := h.schedules.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"schedule": sch})
}

// CancelSchedule godoc
// DELETE /api/v1/staff/schedules/:id
// Deletes the schedule and its roster. Sessions already running are left to
// finish on their own clocks.
func (h *ScheduleHandler) CancelSchedule(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	if err := h.schedules.Cancel(c.Request.Context(), id); err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"id": id})
}

// ListSessions godoc
// GET /api/v1/staff/schedules/:id/sessions
// Returns the live (ACTIVE or PAUSED) sessions of a schedule.
func (h *ScheduleHandler) ListSessions(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	sessions, err := h.sessions.ListActive(c.Request.Context(), id)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	if sessions == nil {
		sessions = []model.ExamSession{}
	}
	response.Success(c, http.StatusOK, gin.H{"sessions": sessions})
}

// PauseSession godoc
// POST /api/v1/staff/sessions/pause
func (h *ScheduleHandler) PauseSession(c *gin.Context) {
	var req model.StaffPauseRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	id, ok := parseID(c, req.ScheduleID)
	if !ok {
		return
	}

	st, err := h.sessions.StaffPause(c.Request.Context(), id, req.RegisterNo)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"session": st})
}
