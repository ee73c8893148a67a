package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ScheduleLifecycle is the part of the schedule service the activation
// worker drives.
type ScheduleLifecycle interface {
	Reconcile(ctx context.Context) (int, error)
	FireDue(ctx context.Context) error
	Sweep(ctx context.Context) error
}

// ActivationWorker fires due activations and expiries from the Redis
// registry on every tick and falls back to a PostgreSQL sweep on a slower
// interval.
type ActivationWorker struct {
	schedules ScheduleLifecycle
	tick      time.Duration
	sweep     time.Duration
	log       zerolog.Logger
}

// NewActivationWorker creates a new ActivationWorker.
func NewActivationWorker(schedules ScheduleLifecycle, tick, sweep time.Duration, log zerolog.Logger) *ActivationWorker {
	return &ActivationWorker{
		schedules: schedules,
		tick:      tick,
		sweep:     sweep,
		log:       log.With().Str("component", "activation_worker").Logger(),
	}
}

// Start rebuilds the registry, runs one sweep for anything missed while the
// process was down, then loops until ctx is cancelled.
func (w *ActivationWorker) Start(ctx context.Context) {
	n, err := w.schedules.Reconcile(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Registry reconcile failed")
	} else {
		w.log.Info().Int("schedules", n).Msg("Activation worker started")
	}
	run(ctx, w.log, "activation", "sweep", w.schedules.Sweep)

	tick := time.NewTicker(w.tick)
	defer tick.Stop()
	sweep := time.NewTicker(w.sweep)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Activation worker stopped")
			return
		case <-tick.C:
			run(ctx, w.log, "activation", "fire_due", w.schedules.FireDue)
		case <-sweep.C:
			run(ctx, w.log, "activation", "sweep", w.schedules.Sweep)
		}
	}
}
