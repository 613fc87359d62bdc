package verifier_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/verifier"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
)

// fakeEventRepository is an in-memory stand-in for repositories.EventRepository,
// exercising only the subset Verify touches (UpdateStatus).
type fakeEventRepository struct {
	statuses map[string]entities.VerificationStatus
}

func newFakeEventRepository() *fakeEventRepository {
	return &fakeEventRepository{statuses: map[string]entities.VerificationStatus{}}
}

func (f *fakeEventRepository) Upsert(ctx context.Context, event *entities.IndexedEvent) error {
	return nil
}
func (f *fakeEventRepository) ByID(ctx context.Context, id string) (*entities.IndexedEvent, error) {
	return nil, apperrors.ErrEventNotFound
}
func (f *fakeEventRepository) Query(ctx context.Context, q entities.EventQuery) ([]*entities.IndexedEvent, error) {
	return nil, nil
}
func (f *fakeEventRepository) ForEpoch(ctx context.Context, epoch int64) ([]*entities.IndexedEvent, error) {
	return nil, nil
}
func (f *fakeEventRepository) SearchHashPrefix(ctx context.Context, prefix string, limit int) ([]*entities.IndexedEvent, error) {
	return nil, nil
}
func (f *fakeEventRepository) LatestSnapshots(ctx context.Context, limit int) ([]*entities.IndexedEvent, error) {
	return nil, nil
}
func (f *fakeEventRepository) Stats(ctx context.Context) (*entities.EventStats, error) {
	return nil, nil
}
func (f *fakeEventRepository) VerificationSummary(ctx context.Context, n int) ([]entities.VerificationSummary, error) {
	return nil, nil
}
func (f *fakeEventRepository) UpdateStatus(ctx context.Context, eventID string, status entities.VerificationStatus, verifiedAt time.Time) error {
	f.statuses[eventID] = status
	return nil
}
func (f *fakeEventRepository) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeEventRepository) MaxLedger(ctx context.Context) (int64, error) { return 0, nil }

// fakeSnapshotReader is an in-memory stand-in for repositories.SnapshotReader.
type fakeSnapshotReader struct {
	byEpoch map[int64]*entities.Snapshot
}

func newFakeSnapshotReader() *fakeSnapshotReader {
	return &fakeSnapshotReader{byEpoch: map[int64]*entities.Snapshot{}}
}

func (f *fakeSnapshotReader) GetByEpoch(ctx context.Context, epoch int64) (*entities.Snapshot, error) {
	s, ok := f.byEpoch[epoch]
	if !ok {
		return nil, apperrors.ErrSnapshotNotFound
	}
	return s, nil
}

func (f *fakeSnapshotReader) UpdateVerification(ctx context.Context, epoch int64, status entities.VerificationStatus, verifiedAt time.Time) error {
	s, ok := f.byEpoch[epoch]
	if !ok {
		return nil
	}
	s.VerificationStatus = status
	s.VerifiedAt = &verifiedAt
	return nil
}

// fakeAlertSink records every alert emitted by the Verifier under test.
type fakeAlertSink struct {
	alerts []entities.Alert
}

func (f *fakeAlertSink) Emit(alert entities.Alert) {
	f.alerts = append(f.alerts, alert)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// S1 — happy-path verification: on-chain hash matches the backend snapshot.
func TestVerify_HappyPath(t *testing.T) {
	events := newFakeEventRepository()
	snapshots := newFakeSnapshotReader()
	alerts := &fakeAlertSink{}
	v := verifier.New(events, snapshots, alerts, logger.NewNop())

	canonical := []byte(`{"x":1}`)
	hash := sha256Hex(canonical)
	snapshots.byEpoch[42] = &entities.Snapshot{Epoch: 42, Hash: hash, CanonicalJSON: canonical}

	verdict, err := v.Verify(context.Background(), "evt-1", 42, hash)
	require.NoError(t, err)

	assert.Equal(t, entities.VerificationVerified, verdict.Status)
	assert.Len(t, alerts.alerts, 0)
	assert.Equal(t, entities.VerificationVerified, events.statuses["evt-1"])
	assert.Equal(t, entities.VerificationVerified, snapshots.byEpoch[42].VerificationStatus)
}

// S2 — hash mismatch: a Critical VerificationFailed alert carries both hashes.
func TestVerify_HashMismatch(t *testing.T) {
	events := newFakeEventRepository()
	snapshots := newFakeSnapshotReader()
	alerts := &fakeAlertSink{}
	v := verifier.New(events, snapshots, alerts, logger.NewNop())

	canonical := []byte(`{"x":1}`)
	backendHash := sha256Hex(canonical)
	snapshots.byEpoch[42] = &entities.Snapshot{Epoch: 42, Hash: backendHash, CanonicalJSON: canonical}

	onChainHash := "b000000000000000000000000000000000000000000000000000000000000f"

	verdict, err := v.Verify(context.Background(), "evt-2", 42, onChainHash)
	require.NoError(t, err)

	assert.Equal(t, entities.VerificationFailed, verdict.Status)
	require.Len(t, alerts.alerts, 1)
	a := alerts.alerts[0]
	assert.Equal(t, entities.AlertVerificationFailed, a.Kind)
	assert.Equal(t, entities.SeverityCritical, a.Severity)
	assert.Equal(t, backendHash, a.ExpectedHash)
	assert.Equal(t, onChainHash, a.ActualHash)
	assert.Equal(t, entities.VerificationFailed, events.statuses["evt-2"])
}

// S3 — missing backend snapshot emits a Warning alert and records "missing".
func TestVerify_MissingSnapshot(t *testing.T) {
	events := newFakeEventRepository()
	snapshots := newFakeSnapshotReader()
	alerts := &fakeAlertSink{}
	v := verifier.New(events, snapshots, alerts, logger.NewNop())

	verdict, err := v.Verify(context.Background(), "evt-3", 99, "deadbeef")
	require.NoError(t, err)

	assert.Equal(t, entities.VerificationMissing, verdict.Status)
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, entities.AlertMissingSnapshot, alerts.alerts[0].Kind)
	assert.Equal(t, entities.SeverityWarning, alerts.alerts[0].Severity)
	assert.Equal(t, int64(99), alerts.alerts[0].Epoch)
	assert.Equal(t, entities.VerificationMissing, events.statuses["evt-3"])
}

// Invariant 5 — hash comparison is case-insensitive: verifying with an
// uppercase on-chain hash must agree with the lowercase equivalent.
func TestVerify_HashNormalization(t *testing.T) {
	events := newFakeEventRepository()
	snapshots := newFakeSnapshotReader()
	alerts := &fakeAlertSink{}
	v := verifier.New(events, snapshots, alerts, logger.NewNop())

	canonical := []byte(`{"y":2}`)
	hash := sha256Hex(canonical)
	snapshots.byEpoch[7] = &entities.Snapshot{Epoch: 7, Hash: hash, CanonicalJSON: canonical}

	upperVerdict, err := v.Verify(context.Background(), "evt-upper", 7, toUpper(hash))
	require.NoError(t, err)
	lowerVerdict, err := v.Verify(context.Background(), "evt-lower", 7, hash)
	require.NoError(t, err)

	assert.Equal(t, lowerVerdict.Status, upperVerdict.Status)
	assert.Equal(t, entities.VerificationVerified, upperVerdict.Status)
	assert.Len(t, alerts.alerts, 0)
}

func toUpper(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}
