// Package verifier implements the single reconciliation operation: compare
// an on-chain commitment against the backend's independently computed
// snapshot hash and record the verdict.
package verifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"github.com/ONEONUORA/stellar-insights/internal/domain/repositories"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
	"github.com/ONEONUORA/stellar-insights/pkg/metrics"
	"github.com/ONEONUORA/stellar-insights/pkg/tracing"
)

var tracer = tracing.GetTracer("verifier")

// AlertSink receives Alerts emitted by Verify. Implementations MUST NOT
// block the caller; dispatch is the sink's responsibility.
type AlertSink interface {
	Emit(alert entities.Alert)
}

// Verifier binds on-chain commitments to the backend's canonical snapshots.
type Verifier struct {
	events    repositories.EventRepository
	snapshots repositories.SnapshotReader
	alerts    AlertSink
	logger    *logger.Logger
}

// New builds a Verifier.
func New(events repositories.EventRepository, snapshots repositories.SnapshotReader, alerts AlertSink, log *logger.Logger) *Verifier {
	return &Verifier{events: events, snapshots: snapshots, alerts: alerts, logger: log}
}

// Verdict is the outcome of comparing a backend digest with an on-chain
// digest for the same epoch.
type Verdict struct {
	Status       entities.VerificationStatus
	Epoch        int64
	ExpectedHash string
	ActualHash   string
}

// Verify fetches the most recent backend snapshot for epoch, compares it
// against onChainHash, and persists the verdict on both the snapshot row
// and the triggering event row (eventID). Hash comparison is byte-for-byte
// on lowercase hex; onChainHash is normalized before comparing, matching
// the hash-normalization invariant: comparisons are case-insensitive.
func (v *Verifier) Verify(ctx context.Context, eventID string, epoch int64, onChainHash string) (Verdict, error) {
	ctx, span := tracer.Start(ctx, "verifier.verify")
	defer span.End()
	span.SetAttributes(attribute.Int64("epoch", epoch))

	onChainHash = strings.ToLower(onChainHash)
	now := time.Now()

	snapshot, err := v.snapshots.GetByEpoch(ctx, epoch)
	if err != nil {
		if err == apperrors.ErrSnapshotNotFound {
			v.logger.Warn("backend snapshot missing for epoch", "epoch", epoch)
			metrics.VerificationsTotal.WithLabelValues(string(entities.VerificationMissing)).Inc()
			v.alerts.Emit(entities.NewMissingSnapshotAlert(epoch))
			if perr := v.events.UpdateStatus(ctx, eventID, entities.VerificationMissing, now); perr != nil {
				v.logger.Error("failed to record missing verdict", "epoch", epoch, "error", perr)
			}
			return Verdict{Status: entities.VerificationMissing, Epoch: epoch, ActualHash: onChainHash}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Verdict{}, fmt.Errorf("load backend snapshot: %w", err)
	}

	backendHash := strings.ToLower(snapshot.Hash)
	if backendHash == onChainHash {
		v.persistVerdict(ctx, eventID, epoch, entities.VerificationVerified, now)
		v.logger.Info("snapshot verified", "epoch", epoch, "hash", onChainHash)
		return Verdict{Status: entities.VerificationVerified, Epoch: epoch, ExpectedHash: backendHash, ActualHash: onChainHash}, nil
	}

	// Mismatch: recompute the digest over the stored canonical_json for a
	// self-audit and include it in the alert payload.
	recomputed := sha256.Sum256(snapshot.CanonicalJSON)
	recomputedHex := hex.EncodeToString(recomputed[:])

	v.persistVerdict(ctx, eventID, epoch, entities.VerificationFailed, now)
	v.logger.Error("snapshot hash mismatch", "epoch", epoch, "expected", backendHash, "actual", onChainHash, "recomputed", recomputedHex)
	v.alerts.Emit(entities.NewVerificationFailedAlert(epoch, backendHash, onChainHash))

	return Verdict{Status: entities.VerificationFailed, Epoch: epoch, ExpectedHash: backendHash, ActualHash: onChainHash}, nil
}

func (v *Verifier) persistVerdict(ctx context.Context, eventID string, epoch int64, status entities.VerificationStatus, at time.Time) {
	metrics.VerificationsTotal.WithLabelValues(string(status)).Inc()
	if err := v.snapshots.UpdateVerification(ctx, epoch, status, at); err != nil {
		v.logger.Error("failed to persist snapshot verdict", "epoch", epoch, "error", err)
	}
	if err := v.events.UpdateStatus(ctx, eventID, status, at); err != nil {
		v.logger.Error("failed to persist event verdict", "event_id", eventID, "error", err)
	}
}
