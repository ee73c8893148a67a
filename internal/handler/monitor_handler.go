package handler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/service"
)

const (
	refreshInterval   = 15 * time.Second
	keepAliveInterval = 30 * time.Second
	refreshTimeout    = 5 * time.Second // prevent slow queries from blocking the SSE loop
)

// LiveMonitor streams session changes for one schedule.
type LiveMonitor interface {
	Snapshot(ctx context.Context, scheduleID uuid.UUID) (*service.MonitorSnapshot, error)
	Subscribe(ctx context.Context, scheduleID uuid.UUID) *redis.PubSub
}

type MonitorHandler struct {
	schedules ScheduleManager
	monitor   LiveMonitor
	log       zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(schedules ScheduleManager, monitor LiveMonitor, log zerolog.Logger) *MonitorHandler {
	return &MonitorHandler{
		schedules: schedules,
		monitor:   monitor,
		log:       log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorScheduleSSE godoc
// GET /api/v1/staff/schedules/:id/monitor
// Sends a snapshot of live sessions, then forwards every session transition
// published for the schedule. The snapshot is refreshed periodically once
// any change has been seen.
func (h *MonitorHandler) MonitorScheduleSSE(c *gin.Context) {
	id, ok := parseID(c, c.Param("id"))
	if !ok {
		return
	}
	if _, err := h.schedules.Get(c.Request.Context(), id); err != nil {
		fail(c, h.log, err)
		return
	}

	reqCtx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	h.sendSnapshot(c, reqCtx, id)

	pubsub := h.monitor.Subscribe(reqCtx, id)
	defer pubsub.Close()
	ch := pubsub.Channel()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	refresh := time.NewTicker(refreshInterval)
	defer refresh.Stop()

	changed := false
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	log := h.log.With().Str("schedule_id", id.String()).Logger()
	log.Info().Msg("Staff attached to live monitor SSE")

	for {
		select {
		case <-reqCtx.Done():
			log.Info().Msg("Staff disconnected from live monitor SSE")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Forward the published JSON as is.
			writeSSE(c, []byte(msg.Payload))
			changed = true

		case <-refresh.C:
			if !changed {
				continue
			}
			h.sendSnapshot(c, reqCtx, id)
			changed = false

		case <-keepAlive.C:
			writeSSE(c, pingPayload)
		}
	}
}

func (h *MonitorHandler) sendSnapshot(c *gin.Context, parent context.Context, id uuid.UUID) {
	ctx, cancel := context.WithTimeout(parent, refreshTimeout)
	defer cancel()

	snap, err := h.monitor.Snapshot(ctx, id)
	if err != nil {
		h.log.Warn().Err(err).Str("schedule_id", id.String()).Msg("Failed to build monitor snapshot")
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	writeSSE(c, data)
}

func writeSSE(c *gin.Context, data []byte) {
	_, _ = c.Writer.Write([]byte("data: "))
	_, _ = c.Writer.Write(data)
	_, _ = c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
