package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SchedulePurger deletes schedules past the retention window.
type SchedulePurger interface {
	Purge(ctx context.Context) (int, error)
}

// RetentionWorker purges ended schedules once at startup and then on every
// interval.
type RetentionWorker struct {
	schedules SchedulePurger
	interval  time.Duration
	log       zerolog.Logger
}

// NewRetentionWorker creates a new RetentionWorker.
func NewRetentionWorker(schedules SchedulePurger, interval time.Duration, log zerolog.Logger) *RetentionWorker {
	return &RetentionWorker{
		schedules: schedules,
		interval:  interval,
		log:       log.With().Str("component", "retention_worker").Logger(),
	}
}

func (w *RetentionWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Retention worker started")
	run(ctx, w.log, "retention", "purge", w.purge)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Retention worker stopped")
			return
		case <-ticker.C:
			run(ctx, w.log, "retention", "purge", w.purge)
		}
	}
}

func (w *RetentionWorker) purge(ctx context.Context) error {
	n, err := w.schedules.Purge(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info().Int("schedules", n).Msg("Purged expired schedules")
	}
	return nil
}
