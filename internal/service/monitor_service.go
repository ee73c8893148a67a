package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/config"
	"github.com/stemsi/exam-orchestrator/internal/model"
)

// MonitorService fans session transitions out over Redis Pub/Sub and builds
// the snapshot staff monitors start from.
type MonitorService struct {
	rdb      *redis.Client
	sessions SessionStore
	log      zerolog.Logger
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(rdb *redis.Client, sessions SessionStore, log zerolog.Logger) *MonitorService {
	return &MonitorService{
		rdb:      rdb,
		sessions: sessions,
		log:      log.With().Str("component", "monitor_service").Logger(),
	}
}

// Publish sends change to the schedule's monitor channel.
func (s *MonitorService) Publish(ctx context.Context, change model.SessionChange) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	channel := config.CacheKey.ScheduleMonitorChannel(change.ScheduleID.String())
	return s.rdb.Publish(ctx, channel, data).Err()
}

// Subscribe attaches to the schedule's monitor channel. The caller closes
// the subscription.
func (s *MonitorService) Subscribe(ctx context.Context, scheduleID uuid.UUID) *redis.PubSub {
	return s.rdb.Subscribe(ctx, config.CacheKey.ScheduleMonitorChannel(scheduleID.String()))
}

// MonitorSnapshot is the first event a staff monitor receives.
type MonitorSnapshot struct {
	Type     string              `json:"type"`
	Active   int                 `json:"active"`
	Paused   int                 `json:"paused"`
	Sessions []model.ExamSession `json:"sessions"`
}

// Snapshot lists the live sessions of a schedule with per-state counts.
func (s *MonitorService) Snapshot(ctx context.Context, scheduleID uuid.UUID) (*MonitorSnapshot, error) {
	live, err := s.sessions.ListLiveBySchedule(ctx, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	snap := &MonitorSnapshot{Type: "snapshot", Sessions: live}
	if snap.Sessions == nil {
		snap.Sessions = []model.ExamSession{}
	}
	for _, sess := range live {
		switch sess.State {
		case model.SessionActive:
			snap.Active++
		case model.SessionPaused:
			snap.Paused++
		}
	}
	return snap, nil
}
