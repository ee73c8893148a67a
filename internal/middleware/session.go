package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/stemsi/exam-orchestrator/internal/response"
	"github.com/stemsi/exam-orchestrator/internal/service"
)

// LoginChecker confirms a student token is still the latest login.
type LoginChecker interface {
	ValidateStudentSession(ctx context.Context, studentID int, jti string) error
}

// CheckSingleDeviceSession rejects student tokens superseded by a newer login
// on another device.
func CheckSingleDeviceSession(auth LoginChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if claims.TokenType != service.TokenTypeStudent {
			c.Next()
			return
		}

		if err := auth.ValidateStudentSession(c.Request.Context(), claims.UserID, claims.ID); err != nil {
			if errors.Is(err, service.ErrSessionInvalidated) {
				response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionInvalidated)
				return
			}
			log.Error().Err(err).Int("student_id", claims.UserID).Msg("Login check failed")
			response.AbortFail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		c.Next()
	}
}
