package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/model"
	"github.com/stemsi/exam-orchestrator/internal/response"
	"github.com/stemsi/exam-orchestrator/internal/validator"
)

// Authenticator is the login surface of the auth service.
type Authenticator interface {
	StudentLogin(ctx context.Context, req *model.StudentLoginRequest) (*model.StudentLoginResponse, error)
	StaffLogin(ctx context.Context, req *model.StaffLoginRequest) (*model.StaffLoginResponse, error)
	ResetStudentSession(ctx context.Context, studentID int) error
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	auth Authenticator
	log  zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth Authenticator, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		auth: auth,
		log:  log.With().Str("component", "auth_handler").Logger(),
	}
}

// StudentLogin godoc
// POST /api/v1/auth/student/login
// Validates register number + password, settles stale sessions and returns a
// JWT. A paused attempt is reported with can_resume.
func (h *AuthHandler) StudentLogin(c *gin.Context) {
	var req model.StudentLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.auth.StudentLogin(c.Request.Context(), &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// StaffLogin godoc
// POST /api/v1/auth/staff/login
func (h *AuthHandler) StaffLogin(c *gin.Context) {
	var req model.StaffLoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.auth.StaffLogin(c.Request.Context(), &req)
	if err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, resp)
}

// StudentLogout godoc
// POST /api/v1/auth/student/logout
// Drops the student's login key; the exam session itself is untouched.
func (h *AuthHandler) StudentLogout(c *gin.Context) {
	id, ok := studentID(c)
	if !ok {
		return
	}
	if err := h.auth.ResetStudentSession(c.Request.Context(), id); err != nil {
		fail(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{})
}
