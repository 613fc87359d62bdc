package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ONEONUORA/stellar-insights/internal/domain/repositories"
)

// PostgresListenerCursorRepository persists the Listener's last_ledger
// watermark in a single-row-per-contract table, surviving restarts per
// the durable listener cursor.
type PostgresListenerCursorRepository struct {
	db *sql.DB
}

// NewPostgresListenerCursorRepository builds a PostgresListenerCursorRepository.
func NewPostgresListenerCursorRepository(db *sql.DB) repositories.ListenerCursorRepository {
	return &PostgresListenerCursorRepository{db: db}
}

// LoadLastLedger returns the stored cursor for contractID, or (0, false) if
// none has ever been persisted.
func (r *PostgresListenerCursorRepository) LoadLastLedger(ctx context.Context, contractID string) (uint64, bool, error) {
	var ledger int64
	err := r.db.QueryRowContext(ctx, `
		SELECT last_ledger FROM listener_cursor WHERE contract_id = $1
	`, contractID).Scan(&ledger)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load last ledger: %w", err)
	}
	return uint64(ledger), true, nil
}

// SaveLastLedger upserts the cursor for contractID.
func (r *PostgresListenerCursorRepository) SaveLastLedger(ctx context.Context, contractID string, ledger uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO listener_cursor (contract_id, last_ledger, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (contract_id) DO UPDATE SET last_ledger = EXCLUDED.last_ledger, updated_at = now()
	`, contractID, int64(ledger))
	if err != nil {
		return fmt.Errorf("save last ledger: %w", err)
	}
	return nil
}
