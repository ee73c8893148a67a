package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/apperror"
	"github.com/stemsi/exam-orchestrator/internal/middleware"
	"github.com/stemsi/exam-orchestrator/internal/response"
	"github.com/stemsi/exam-orchestrator/internal/service"
)

// fail writes err as an error envelope. Internal errors are logged; every
// other kind is an expected outcome the client reacts to by code.
func fail(c *gin.Context, log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	case errors.Is(err, service.ErrSessionInvalidated):
		response.Fail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
		return
	}

	log = log.With().
		Str("path", c.FullPath()).
		Str("request_id", c.GetString(response.ContextKeyRequestID)).
		Logger()

	var ae *apperror.Error
	if !errors.As(err, &ae) {
		log.Error().Err(err).Msg("Unhandled error")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if ae.Kind == apperror.KindInternal {
		log.Error().Err(err).Str("code", string(ae.Code)).Msg("Request failed")
	}
	if len(ae.Details) > 0 {
		response.FailWithDetails(c, apperror.HTTPStatus(err), ae.Code, ae.Details)
		return
	}
	response.Fail(c, apperror.HTTPStatus(err), ae.Code)
}

// studentID returns the authenticated student, writing 401 when absent.
func studentID(c *gin.Context) (int, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil || claims.TokenType != service.TokenTypeStudent {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, false
	}
	return claims.UserID, true
}

// staffID returns the authenticated staff member, writing 401 when absent.
func staffID(c *gin.Context) (int, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil || claims.TokenType != service.TokenTypeStaff {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, false
	}
	return claims.UserID, true
}

func parseID(c *gin.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
