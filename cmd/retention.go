package main

import (
	"context"
	"time"

	"github.com/ONEONUORA/stellar-insights/internal/domain/repositories"
	"github.com/ONEONUORA/stellar-insights/internal/infrastructure/config"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
)

// retentionSweeper runs the event store's Cleanup on a fixed cadence,
// dropping rows older than the configured retention window. The interval
// itself is always bound as a query parameter inside Cleanup, never
// interpolated into SQL. It implements graceful.Shutdowner so it can be
// registered with the process-wide shutdown manager alongside the listener.
type retentionSweeper struct {
	stop chan struct{}
	done chan struct{}
}

func startRetentionSweeper(ctx context.Context, events repositories.EventRepository, cfg config.ListenerConfig, log *logger.Logger) *retentionSweeper {
	s := &retentionSweeper{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	interval := time.Duration(cfg.CleanupIntervalH) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n, err := events.Cleanup(ctx, cfg.RetentionPeriod())
				if err != nil {
					log.Error("retention sweep failed", "error", err)
					continue
				}
				log.Info("retention sweep completed", "rows_deleted", n, "retention_days", cfg.RetentionDays)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return s
}

// Shutdown implements graceful.Shutdowner.
func (s *retentionSweeper) Shutdown(timeout time.Duration) error {
	close(s.stop)
	select {
	case <-s.done:
	case <-time.After(timeout):
	}
	return nil
}

// Name identifies this component in the shutdown manager's log.
func (s *retentionSweeper) Name() string {
	return "retention-sweeper"
}
