package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/config"
	"github.com/stemsi/exam-orchestrator/internal/handler"
	"github.com/stemsi/exam-orchestrator/internal/logger"
	"github.com/stemsi/exam-orchestrator/internal/middleware"
	"github.com/stemsi/exam-orchestrator/internal/response"
)

// Authenticator is what the route guards need from the auth service.
type Authenticator interface {
	middleware.TokenValidator
	middleware.LoginChecker
}

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Schedule    *handler.ScheduleHandler
	ExamSession *handler.ExamSessionHandler
	Monitor     *handler.MonitorHandler
	WS          *handler.WSHandler
	Health      *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(auth Authenticator, handlers *Handlers, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", response.HeaderRequestID}
	corsConfig.ExposeHeaders = []string{response.HeaderRequestID}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware())
	router.Use(logger.AccessLog(log, response.ContextKeyRequestID))
	router.Use(middleware.Metrics())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", middleware.PrometheusHandler())

	// ─── 1. Auth Group (Public, Rate Limited) ──────────────────────────
	authLimiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst)
	authAPI := router.Group("/api/v1/auth")
	authAPI.Use(authLimiter.Middleware())
	{
		authAPI.POST("/student/login", handlers.Auth.StudentLogin)
		authAPI.POST("/staff/login", handlers.Auth.StaffLogin)
		authAPI.POST("/student/logout", middleware.RequireStudentJWT(auth), handlers.Auth.StudentLogout)
	}

	// ─── 2. Student Exam Group (JWT + Single Device) ───────────────────
	exam := router.Group("/api/v1/student/exam")
	exam.Use(
		middleware.RequireStudentJWT(auth),
		middleware.CheckSingleDeviceSession(auth),
		middleware.NoStore(),
	)
	{
		exam.POST("/validate-code", handlers.ExamSession.ValidateCode)
		exam.POST("/start", handlers.ExamSession.Start)
		exam.POST("/heartbeat", handlers.ExamSession.Heartbeat)
		exam.POST("/offline", handlers.ExamSession.MarkOffline)
		exam.POST("/resume", handlers.ExamSession.Resume)
		exam.GET("/status", handlers.ExamSession.Status)
		exam.GET("/time", handlers.ExamSession.RemainingTime)
		exam.POST("/force-exit", handlers.ExamSession.ForceExit)
		exam.POST("/violation", handlers.ExamSession.RegisterViolation)
		exam.POST("/answer", handlers.ExamSession.SubmitAnswer)
		exam.POST("/result", handlers.ExamSession.SubmitResult)
	}

	// ─── 3. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(auth),
		middleware.CheckSingleDeviceSession(auth),
	)
	{
		ws.GET("/student/exam/stream", handlers.WS.ExamStream)
	}

	// ─── 4. Staff Group (JWT) ──────────────────────────────────────────
	staff := router.Group("/api/v1/staff")
	staff.Use(middleware.RequireStaffJWT(auth))
	{
		staff.POST("/schedules", handlers.Schedule.CreateSchedule)
		staff.GET("/schedules", handlers.Schedule.ListSchedules)
		staff.GET("/schedules/:id", handlers.Schedule.GetSchedule)
		staff.DELETE("/schedules/:id", handlers.Schedule.CancelSchedule)
		staff.GET("/schedules/:id/sessions", handlers.Schedule.ListSessions)
		staff.GET("/schedules/:id/monitor", handlers.Monitor.MonitorScheduleSSE)
		staff.POST("/sessions/pause", handlers.Schedule.PauseSession)
	}

	return router
}
