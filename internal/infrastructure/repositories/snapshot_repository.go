package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"github.com/ONEONUORA/stellar-insights/internal/domain/repositories"
	"github.com/ONEONUORA/stellar-insights/pkg/tracing"
)

var snapshotRepoTracer = tracing.GetTracer("repositories.snapshot")

// PostgresSnapshotReader reads the externally-owned snapshots table. This
// service only ever reads canonical_json/hash from it; the only write it
// performs is mirroring the verification verdict.
type PostgresSnapshotReader struct {
	db *sql.DB
}

// NewPostgresSnapshotReader builds a PostgresSnapshotReader.
func NewPostgresSnapshotReader(db *sql.DB) repositories.SnapshotReader {
	return &PostgresSnapshotReader{db: db}
}

// GetByEpoch fetches the single most recent backend snapshot for an epoch.
func (r *PostgresSnapshotReader) GetByEpoch(ctx context.Context, epoch int64) (*entities.Snapshot, error) {
	_, span := snapshotRepoTracer.Start(ctx, "db.snapshot.get_by_epoch")
	defer span.End()

	var s entities.Snapshot
	var status sql.NullString
	var verifiedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT epoch, hash, canonical_json, verification_status, verified_at
		FROM snapshots WHERE epoch = $1
	`, epoch).Scan(&s.Epoch, &s.Hash, &s.CanonicalJSON, &status, &verifiedAt)

	if err == sql.ErrNoRows {
		return nil, apperrors.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot by epoch: %w", err)
	}

	s.VerificationStatus = entities.NormalizeStatus(entities.VerificationStatus(status.String))
	if verifiedAt.Valid {
		v := verifiedAt.Time
		s.VerifiedAt = &v
	}
	return &s, nil
}

// UpdateVerification mirrors the reconciliation verdict onto the snapshot
// row, the one write this service performs against an otherwise
// externally-owned table.
func (r *PostgresSnapshotReader) UpdateVerification(ctx context.Context, epoch int64, status entities.VerificationStatus, verifiedAt time.Time) error {
	_, span := snapshotRepoTracer.Start(ctx, "db.snapshot.update_verification")
	defer span.End()

	_, err := r.db.ExecContext(ctx, `
		UPDATE snapshots SET verification_status = $2, verified_at = $3 WHERE epoch = $1
	`, epoch, string(status), verifiedAt)
	if err != nil {
		return fmt.Errorf("update snapshot verification: %w", err)
	}
	return nil
}
