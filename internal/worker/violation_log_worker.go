package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exam-orchestrator/internal/config"
	"github.com/stemsi/exam-orchestrator/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

var violationColumns = []string{"session_id", "schedule_id", "student_id", "type", "payload", "recorded_at"}

// ViolationLogWorker drains the violation audit queue into
// session_violation_events in batches.
type ViolationLogWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewViolationLogWorker creates a new ViolationLogWorker.
func NewViolationLogWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationLogWorker {
	return &ViolationLogWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_log_worker").Logger(),
	}
}

// Start runs until ctx is cancelled, then flushes what it holds.
func (w *ViolationLogWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Violation log worker started")

	buffer := make([]*model.ViolationEvent, 0, BatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlush) >= BatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// Returns immediately when data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.CacheKey.ViolationQueueKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleep(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		ev, err := decodeViolation([]byte(result[1]))
		if err != nil {
			// Malformed entries can never succeed.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed violation event")
			continue
		}
		buffer = append(buffer, ev)
	}
}

func decodeViolation(data []byte) (*model.ViolationEvent, error) {
	var ev model.ViolationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	if ev.Type == "" || ev.SessionID == uuid.Nil {
		return nil, errors.New("violation event missing session or type")
	}
	return &ev, nil
}

// violationRow orders an event's values like violationColumns.
func violationRow(ev *model.ViolationEvent) []any {
	var payload any
	if len(ev.Payload) > 0 {
		payload = []byte(ev.Payload)
	}
	return []any{ev.SessionID, ev.ScheduleID, ev.StudentID, ev.Type, payload, ev.RecordedAt}
}

// flushSafe tries a bulk copy, then row-by-row inserts, then requeues.
func (w *ViolationLogWorker) flushSafe(ctx context.Context, batch []*model.ViolationEvent) {
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
		return
	}
	w.log.Debug().Int("count", len(batch)).Msg("Violation events persisted")
}

func (w *ViolationLogWorker) bulkInsert(ctx context.Context, batch []*model.ViolationEvent) error {
	rows := make([][]any, 0, len(batch))
	for _, ev := range batch {
		rows = append(rows, violationRow(ev))
	}
	_, err := w.pool.CopyFrom(ctx, pgx.Identifier{"session_violation_events"}, violationColumns, pgx.CopyFromRows(rows))
	return err
}

func (w *ViolationLogWorker) fallbackInsert(ctx context.Context, batch []*model.ViolationEvent) {
	var requeue []*model.ViolationEvent
	for _, ev := range batch {
		_, err := w.pool.Exec(ctx,
			`INSERT INTO session_violation_events (session_id, schedule_id, student_id, type, payload, recorded_at)
			 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
			violationRow(ev)...,
		)
		if err == nil {
			continue
		}
		if isPermanent(err) {
			// The session was purged or the row is invalid; retrying cannot help.
			w.log.Error().Err(err).Str("session_id", ev.SessionID.String()).Msg("Dropping violation event")
			continue
		}
		w.log.Error().Err(err).Int("student_id", ev.StudentID).Msg("Insert failed, requeueing")
		requeue = append(requeue, ev)
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *ViolationLogWorker) requeue(ctx context.Context, items []*model.ViolationEvent) {
	pipe := w.rdb.Pipeline()
	for _, ev := range items {
		data, _ := json.Marshal(ev)
		pipe.RPush(ctx, config.CacheKey.ViolationQueueKey(), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue violation events. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed violation events")
	// Avoid thrashing while the database is down.
	sleep(ctx, 2*time.Second)
}

func (w *ViolationLogWorker) shutdown(buffer []*model.ViolationEvent) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")
	if len(buffer) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.flushSafe(ctx, buffer)
}
