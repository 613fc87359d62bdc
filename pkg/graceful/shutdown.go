package graceful

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ONEONUORA/stellar-insights/pkg/logger"
)

// Shutdowner is a long-running component of the reconciliation service
// (the Listener's polling loop, the retention sweeper) that needs a chance
// to stop cleanly before the process exits. Name identifies it in the
// shutdown log so an operator can tell which component is slow or failing
// to stop.
type Shutdowner interface {
	Shutdown(timeout time.Duration) error
	Name() string
}

type ShutdownManager struct {
	server      *http.Server
	db          *sql.DB
	shutdowners []Shutdowner
	logger      *logger.Logger
}

func NewShutdownManager(server *http.Server, db *sql.DB, logger *logger.Logger) *ShutdownManager {
	return &ShutdownManager{
		server:      server,
		db:          db,
		shutdowners: make([]Shutdowner, 0),
		logger:      logger,
	}
}

func (sm *ShutdownManager) Register(s Shutdowner) {
	sm.shutdowners = append(sm.shutdowners, s)
}

func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sm.logger.Info("shutting down reconciliation service gracefully...")

	timeout := 30 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Shutdown registered components (listener, retention sweeper) before
	// the HTTP server, so the query facade keeps serving reads while
	// ingestion winds down.
	for _, s := range sm.shutdowners {
		if err := s.Shutdown(timeout); err != nil {
			sm.logger.Warn("component shutdown error", "component", s.Name(), "error", err)
		} else {
			sm.logger.Info("component stopped", "component", s.Name())
		}
	}

	// Shutdown HTTP server
	if err := sm.server.Shutdown(ctx); err != nil {
		sm.logger.Error("query facade server forced shutdown", "error", err)
	}

	// Close the event store connection pool
	if err := sm.db.Close(); err != nil {
		sm.logger.Warn("event store connection close error", "error", err)
	}

	sm.logger.Info("shutdown complete")
}
