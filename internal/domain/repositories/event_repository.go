// Package repositories defines the persistence-facing interfaces the domain
// services depend on, kept separate from their infrastructure
// implementations, one interface per aggregate.
package repositories

import (
	"context"
	"time"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
)

// EventRepository is the durable event store: upsert-by-id, rich
// filtering, pagination, and retention.
type EventRepository interface {
	Upsert(ctx context.Context, event *entities.IndexedEvent) error
	ByID(ctx context.Context, id string) (*entities.IndexedEvent, error)
	Query(ctx context.Context, q entities.EventQuery) ([]*entities.IndexedEvent, error)
	ForEpoch(ctx context.Context, epoch int64) ([]*entities.IndexedEvent, error)
	SearchHashPrefix(ctx context.Context, prefix string, limit int) ([]*entities.IndexedEvent, error)
	LatestSnapshots(ctx context.Context, limit int) ([]*entities.IndexedEvent, error)
	Stats(ctx context.Context) (*entities.EventStats, error)
	VerificationSummary(ctx context.Context, n int) ([]entities.VerificationSummary, error)
	UpdateStatus(ctx context.Context, eventID string, status entities.VerificationStatus, verifiedAt time.Time) error
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)

	// MaxLedger returns the highest ledger sequence ever persisted, used by
	// the check_missed backfill path. Returns 0 if the store is empty.
	MaxLedger(ctx context.Context) (int64, error)
}

// ListenerCursorRepository persists the Listener's durable last_ledger
// watermark, keyed by contract id so multiple Listeners can share a table.
type ListenerCursorRepository interface {
	LoadLastLedger(ctx context.Context, contractID string) (uint64, bool, error)
	SaveLastLedger(ctx context.Context, contractID string, ledger uint64) error
}

// SnapshotReader is the read-only view of the externally-owned snapshots
// table that the Verifier compares against.
type SnapshotReader interface {
	GetByEpoch(ctx context.Context, epoch int64) (*entities.Snapshot, error)
	UpdateVerification(ctx context.Context, epoch int64, status entities.VerificationStatus, verifiedAt time.Time) error
}
