// Package worker holds the background loops started by the server: schedule
// activation, session cleanup, retention and violation audit persistence.
package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var workerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "exam_worker_runs_total",
	Help: "Background worker passes by worker, operation and outcome.",
}, []string{"worker", "op", "outcome"})

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// isPermanent reports whether a PostgreSQL error is a data or constraint
// failure that will repeat on retry.
func isPermanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
}

// run executes one pass of a periodic operation, recording and logging its
// outcome. It returns false once ctx is done.
func run(ctx context.Context, log zerolog.Logger, worker, op string, fn func(context.Context) error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err := fn(ctx); err != nil {
		if ctx.Err() != nil {
			return false
		}
		workerRuns.WithLabelValues(worker, op, "error").Inc()
		log.Error().Err(err).Str("op", op).Msg("Worker pass failed")
		return true
	}
	workerRuns.WithLabelValues(worker, op, "ok").Inc()
	return true
}
