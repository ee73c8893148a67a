package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// SessionFinalizer completes live sessions whose time ran out without a
// client reporting it.
type SessionFinalizer interface {
	FinalizeOverdue(ctx context.Context) (int, error)
}

// SessionCleanupWorker periodically finalizes overdue sessions.
type SessionCleanupWorker struct {
	sessions SessionFinalizer
	interval time.Duration
	log      zerolog.Logger
}

// NewSessionCleanupWorker creates a new SessionCleanupWorker.
func NewSessionCleanupWorker(sessions SessionFinalizer, interval time.Duration, log zerolog.Logger) *SessionCleanupWorker {
	return &SessionCleanupWorker{
		sessions: sessions,
		interval: interval,
		log:      log.With().Str("component", "session_cleanup_worker").Logger(),
	}
}

func (w *SessionCleanupWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Session cleanup worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Session cleanup worker stopped")
			return
		case <-ticker.C:
			run(ctx, w.log, "session_cleanup", "finalize", w.finalize)
		}
	}
}

func (w *SessionCleanupWorker) finalize(ctx context.Context) error {
	n, err := w.sessions.FinalizeOverdue(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info().Int("sessions", n).Msg("Finalized overdue sessions")
	}
	return nil
}
