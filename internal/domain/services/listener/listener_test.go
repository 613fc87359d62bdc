package listener_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/listener"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/rpcclient"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/verifier"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
	"github.com/ONEONUORA/stellar-insights/pkg/retry"
)

// fakeEventRepository is a full in-memory repositories.EventRepository,
// enforcing the verdict-monotonicity invariant the same way the Postgres
// implementation's ON CONFLICT clause does.
type fakeEventRepository struct {
	mu     sync.Mutex
	byID   map[string]*entities.IndexedEvent
	maxLed int64
}

func newFakeEventRepository() *fakeEventRepository {
	return &fakeEventRepository{byID: map[string]*entities.IndexedEvent{}}
}

func (f *fakeEventRepository) Upsert(ctx context.Context, event *entities.IndexedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.byID[event.ID]
	if ok && existing.VerificationStatus.IsTerminal() {
		event.VerificationStatus = existing.VerificationStatus
		event.VerifiedAt = existing.VerifiedAt
	}
	cp := *event
	f.byID[event.ID] = &cp
	if event.Ledger > f.maxLed {
		f.maxLed = event.Ledger
	}
	return nil
}

func (f *fakeEventRepository) ByID(ctx context.Context, id string) (*entities.IndexedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

func (f *fakeEventRepository) Query(ctx context.Context, q entities.EventQuery) ([]*entities.IndexedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.Normalize()
	var out []*entities.IndexedEvent
	for _, e := range f.byID {
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		if q.VerificationStatus != nil && e.VerificationStatus != *q.VerificationStatus {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}
func (f *fakeEventRepository) ForEpoch(ctx context.Context, epoch int64) ([]*entities.IndexedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.IndexedEvent
	for _, e := range f.byID {
		if e.Epoch != nil && *e.Epoch == epoch {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (f *fakeEventRepository) SearchHashPrefix(ctx context.Context, prefix string, limit int) ([]*entities.IndexedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.IndexedEvent
	for _, e := range f.byID {
		if e.Hash != nil && len(*e.Hash) >= len(prefix) && (*e.Hash)[:len(prefix)] == prefix {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (f *fakeEventRepository) LatestSnapshots(ctx context.Context, limit int) ([]*entities.IndexedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entities.IndexedEvent
	for _, e := range f.byID {
		if e.EventType != string(entities.EventTypeSnapshotSubmission) {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
func (f *fakeEventRepository) Stats(ctx context.Context) (*entities.EventStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &entities.EventStats{TotalEvents: int64(len(f.byID))}
	for _, e := range f.byID {
		switch e.VerificationStatus {
		case entities.VerificationVerified:
			stats.VerifiedSnapshots++
		case entities.VerificationFailed:
			stats.FailedVerifications++
		}
	}
	return stats, nil
}
func (f *fakeEventRepository) VerificationSummary(ctx context.Context, n int) ([]entities.VerificationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entities.VerificationSummary
	for _, e := range f.byID {
		if e.EventType != string(entities.EventTypeSnapshotSubmission) {
			continue
		}
		hash := ""
		if e.Hash != nil {
			hash = *e.Hash
		}
		epoch := int64(0)
		if e.Epoch != nil {
			epoch = *e.Epoch
		}
		out = append(out, entities.VerificationSummary{
			Epoch:           epoch,
			Hash:            hash,
			Ledger:          e.Ledger,
			Status:          entities.NormalizeStatus(e.VerificationStatus),
			CreatedAt:       e.CreatedAt,
			TransactionHash: e.TransactionHash,
		})
		if len(out) >= n {
			break
		}
	}
	return out, nil
}
func (f *fakeEventRepository) UpdateStatus(ctx context.Context, eventID string, status entities.VerificationStatus, verifiedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[eventID]
	if !ok {
		return nil
	}
	e.VerificationStatus = status
	e.VerifiedAt = &verifiedAt
	return nil
}
func (f *fakeEventRepository) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}
func (f *fakeEventRepository) MaxLedger(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxLed, nil
}

func (f *fakeEventRepository) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byID)
}

func (f *fakeEventRepository) get(id string) (*entities.IndexedEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.byID[id]
	return e, ok
}

// fakeCursorRepository is an in-memory repositories.ListenerCursorRepository.
type fakeCursorRepository struct {
	mu      sync.Mutex
	ledgers map[string]uint64
}

func newFakeCursorRepository() *fakeCursorRepository {
	return &fakeCursorRepository{ledgers: map[string]uint64{}}
}

func (f *fakeCursorRepository) LoadLastLedger(ctx context.Context, contractID string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.ledgers[contractID]
	return v, ok, nil
}

func (f *fakeCursorRepository) SaveLastLedger(ctx context.Context, contractID string, ledger uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledgers[contractID] = ledger
	return nil
}

// fakeSnapshotReader is an in-memory repositories.SnapshotReader.
type fakeSnapshotReader struct {
	mu      sync.Mutex
	byEpoch map[int64]*entities.Snapshot
}

func newFakeSnapshotReader() *fakeSnapshotReader {
	return &fakeSnapshotReader{byEpoch: map[int64]*entities.Snapshot{}}
}

func (f *fakeSnapshotReader) GetByEpoch(ctx context.Context, epoch int64) (*entities.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byEpoch[epoch]
	if !ok {
		return nil, apperrors.ErrSnapshotNotFound
	}
	return s, nil
}

func (f *fakeSnapshotReader) UpdateVerification(ctx context.Context, epoch int64, status entities.VerificationStatus, verifiedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.byEpoch[epoch]
	if !ok {
		return nil
	}
	s.VerificationStatus = status
	s.VerifiedAt = &verifiedAt
	return nil
}

// fakeAlertSink records every alert emitted by the Listener/Verifier under test.
type fakeAlertSink struct {
	mu     sync.Mutex
	alerts []entities.Alert
}

func (f *fakeAlertSink) Emit(alert entities.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
}

func (f *fakeAlertSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

// stubRPCServer serves getLatestLedger/getEvents against a mutable ledger
// state, built once per test from a fixed set of raw events.
type stubRPCServer struct {
	latest uint64
	events []rpcclient.RawEvent // keyed by ledger via the Ledger field
}

func (s *stubRPCServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)

		resp := rpcclient.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "getLatestLedger":
			resp.Result = json.RawMessage(fmt.Sprintf(`{"sequence": %d}`, atomic.LoadUint64(&s.latest)))
		case "getEvents":
			params := req.Params.(map[string]interface{})
			start := parseDecimal(params["startLedger"].(string))
			end := parseDecimal(params["endLedger"].(string))
			var matched []rpcclient.RawEvent
			for _, e := range s.events {
				l := parseDecimal(e.Ledger)
				if l >= start && l <= end {
					matched = append(matched, e)
				}
			}
			body, _ := json.Marshal(struct {
				Events []rpcclient.RawEvent `json:"events"`
			}{Events: matched})
			resp.Result = body
		default:
			resp.Error = &rpcclient.RPCError{Code: -32601, Message: "method not found"}
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func parseDecimal(s string) uint64 {
	var v uint64
	fmt.Sscanf(s, "%d", &v)
	return v
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func snapSubEvent(id string, ledger uint64, epoch int64, hash string, ts int64) rpcclient.RawEvent {
	return rpcclient.RawEvent{
		ID:     id,
		Type:   "contract",
		Ledger: fmt.Sprintf("%d", ledger),
		Topic:  []string{"SNAP_SUB"},
		Value:  rpcclient.RawEventValue{Epoch: &epoch, Hash: &hash, Timestamp: &ts},
	}
}

type harness struct {
	listener  *listener.Listener
	events    *fakeEventRepository
	cursor    *fakeCursorRepository
	snapshots *fakeSnapshotReader
	alerts    *fakeAlertSink
	rpc       *stubRPCServer
	srv       *httptest.Server
}

func newHarness(t *testing.T, startLedger uint64, rpc *stubRPCServer) *harness {
	t.Helper()
	srv := httptest.NewServer(rpc.handler())
	t.Cleanup(srv.Close)

	client := rpcclient.New(rpcclient.Config{
		RPCURL:      srv.URL,
		Timeout:     2 * time.Second,
		RetryPolicy: retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	}, logger.NewNop())

	events := newFakeEventRepository()
	cursor := newFakeCursorRepository()
	snapshots := newFakeSnapshotReader()
	alerts := &fakeAlertSink{}

	v := verifier.New(events, snapshots, alerts, logger.NewNop())
	l := listener.New(listener.Config{
		ContractID:  "CONTRACT123",
		StartLedger: startLedger,
	}, client, events, cursor, v, alerts, logger.NewNop())

	return &harness{listener: l, events: events, cursor: cursor, snapshots: snapshots, alerts: alerts, rpc: rpc, srv: srv}
}

// S1 — happy path: one SNAP_SUB event at ledger 100 whose hash matches the
// backend snapshot is persisted as verified with zero alerts.
func TestListener_HappyPathVerification(t *testing.T) {
	canonical := []byte(`{"x":1}`)
	hash := sha256Hex(canonical)

	rpc := &stubRPCServer{latest: 100, events: []rpcclient.RawEvent{
		snapSubEvent("evt-100", 100, 42, hash, 1700000000),
	}}
	h := newHarness(t, 99, rpc)
	h.snapshots.byEpoch[42] = &entities.Snapshot{Epoch: 42, Hash: hash, CanonicalJSON: canonical}

	require.NoError(t, h.listener.Start(t.Context()))
	t.Cleanup(func() { h.listener.Stop() })

	waitFor(t, func() bool { return h.events.count() == 1 })

	event, ok := h.events.get("evt-100")
	require.True(t, ok)
	assert.Equal(t, string(entities.EventTypeSnapshotSubmission), event.EventType)
	assert.Equal(t, entities.VerificationVerified, event.VerificationStatus)
	assert.Equal(t, 0, h.alerts.count())

	stats, _ := h.events.Stats(t.Context())
	assert.Equal(t, int64(1), stats.VerifiedSnapshots)

	summary, err := h.events.VerificationSummary(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	assert.Equal(t, int64(42), summary[0].Epoch)
}

// Decode gate: an event whose topic list never mentions SNAP_SUB is not a
// snapshot submission and must not be persisted, regardless of the RPC's
// own "type" field.
func TestListener_NonSnapSubTopicIsSkipped(t *testing.T) {
	nonSnapSub := rpcclient.RawEvent{
		ID:     "evt-other",
		Type:   "contract",
		Ledger: "100",
		Topic:  []string{"TRANSFER"},
	}
	rpc := &stubRPCServer{latest: 100, events: []rpcclient.RawEvent{nonSnapSub}}
	h := newHarness(t, 99, rpc)

	require.NoError(t, h.listener.Start(t.Context()))
	t.Cleanup(func() { h.listener.Stop() })

	waitFor(t, func() bool { return h.listener.LastLedger() == 100 })
	assert.Equal(t, 0, h.events.count())

	_, ok := h.events.get("evt-other")
	assert.False(t, ok)
}

// S4 — idempotent replay: delivering the same event three times (one tick
// each of three listeners sharing the same stores) yields exactly one row,
// verdict unchanged.
func TestListener_IdempotentReplay(t *testing.T) {
	canonical := []byte(`{"x":1}`)
	hash := sha256Hex(canonical)

	rpc := &stubRPCServer{latest: 100, events: []rpcclient.RawEvent{
		snapSubEvent("evt-100", 100, 42, hash, 1700000000),
	}}
	h := newHarness(t, 99, rpc)
	h.snapshots.byEpoch[42] = &entities.Snapshot{Epoch: 42, Hash: hash, CanonicalJSON: canonical}

	// The harness listener delivers the event once. Two more listeners over
	// the same event and snapshot stores, each starting again from ledger
	// 99, re-fetch and re-ingest the event at ledger 100.
	ctx := t.Context()
	require.NoError(t, h.listener.Start(ctx))
	t.Cleanup(func() { h.listener.Stop() })
	waitFor(t, func() bool { return h.events.count() == 1 })

	for i := 0; i < 2; i++ {
		client := rpcclient.New(rpcclient.Config{
			RPCURL:      h.srv.URL,
			Timeout:     2 * time.Second,
			RetryPolicy: retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		}, logger.NewNop())
		v := verifier.New(h.events, h.snapshots, h.alerts, logger.NewNop())
		replay := listener.New(listener.Config{ContractID: "CONTRACT123", StartLedger: 99},
			client, h.events, newFakeCursorRepository(), v, h.alerts, logger.NewNop())
		require.NoError(t, replay.Start(ctx))
		waitFor(t, func() bool { return replay.LastLedger() == 100 })
		require.NoError(t, replay.Stop())
	}

	// CheckMissed resumes past the highest stored ledger (100), so it
	// fetches nothing new.
	require.NoError(t, h.listener.CheckMissed(ctx))
	require.NoError(t, h.listener.CheckMissed(ctx))

	assert.Equal(t, 1, h.events.count())
	event, _ := h.events.get("evt-100")
	assert.Equal(t, entities.VerificationVerified, event.VerificationStatus)

	stats, _ := h.events.Stats(ctx)
	assert.Equal(t, int64(1), stats.TotalEvents)
}

// S3 — missing backend snapshot: event persists, status is "missing", one
// Warning alert is emitted.
func TestListener_MissingSnapshotAlert(t *testing.T) {
	rpc := &stubRPCServer{latest: 100, events: []rpcclient.RawEvent{
		snapSubEvent("evt-200", 100, 99, "deadbeef", 1700000000),
	}}
	h := newHarness(t, 99, rpc)

	require.NoError(t, h.listener.Start(t.Context()))
	t.Cleanup(func() { h.listener.Stop() })

	waitFor(t, func() bool { return h.events.count() == 1 })
	waitFor(t, func() bool { return h.alerts.count() == 1 })

	event, ok := h.events.get("evt-200")
	require.True(t, ok)
	assert.Equal(t, entities.VerificationMissing, event.VerificationStatus)
}

// S5 — cursor advances to the full polled range even though events only
// land on a subset of ledgers within it, and restart resumes just past it.
func TestListener_CursorAdvancesToPolledRangeEnd(t *testing.T) {
	rpc := &stubRPCServer{latest: 110, events: []rpcclient.RawEvent{
		snapSubEvent("evt-103", 103, 1, "aaaa", 1700000000),
		snapSubEvent("evt-107", 107, 2, "bbbb", 1700000001),
	}}
	h := newHarness(t, 100, rpc)

	require.NoError(t, h.listener.Start(t.Context()))
	t.Cleanup(func() { h.listener.Stop() })

	waitFor(t, func() bool { return h.events.count() == 2 })
	waitFor(t, func() bool { return h.listener.LastLedger() == 110 })

	ledger, ok, err := h.cursor.LoadLastLedger(t.Context(), "CONTRACT123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(110), ledger)
}

// Boundary — an empty event batch still advances the cursor to the current
// latest ledger; the next poll is a no-op rather than re-fetching.
func TestListener_EmptyBatchStillAdvancesCursor(t *testing.T) {
	rpc := &stubRPCServer{latest: 150}
	h := newHarness(t, 100, rpc)

	require.NoError(t, h.listener.Start(t.Context()))
	t.Cleanup(func() { h.listener.Stop() })

	waitFor(t, func() bool { return h.listener.LastLedger() == 150 })
	assert.Equal(t, 0, h.events.count())
}

// Boundary — ledger regression (RPC reports a lower latest than the
// cursor) is a no-op, never a rewind.
func TestListener_LedgerRegressionIsNoOp(t *testing.T) {
	rpc := &stubRPCServer{latest: 50}
	h := newHarness(t, 200, rpc)

	require.NoError(t, h.listener.Start(t.Context()))
	t.Cleanup(func() { h.listener.Stop() })

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, uint64(200), h.listener.LastLedger())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}
