// Package listener implements the cooperative single-task polling state
// machine that ingests contract events and drives verification, per
// Init -> Poll -> Decode -> Persist -> Verify -> Advance.
package listener

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
	"github.com/ONEONUORA/stellar-insights/internal/domain/repositories"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/rpcclient"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/verifier"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
	"github.com/ONEONUORA/stellar-insights/pkg/metrics"
	"github.com/ONEONUORA/stellar-insights/pkg/tracing"
)

var tracer = tracing.GetTracer("listener")

// AlertSink receives Alerts emitted on unrecoverable listener failure.
type AlertSink interface {
	Emit(alert entities.Alert)
}

// Config controls the Listener's polling cadence and recovery behavior.
type Config struct {
	ContractID    string
	PollInterval  time.Duration
	StartLedger   uint64
	BatchEndRange uint64 // max ledgers past the cursor to request per poll; the end ledger is min(latest, cursor+BatchEndRange)
}

// Listener is the single-task polling loop driving ingestion. It
// owns no concurrency beyond its own goroutine: one Listener runs one
// state machine at a time. After a successful poll it advances its cursor
// to the end of the polled range, whether or not every event in that range
// was decoded and persisted.
type Listener struct {
	cfg      Config
	rpc      *rpcclient.Client
	events   repositories.EventRepository
	cursor   repositories.ListenerCursorRepository
	verifier *verifier.Verifier
	alerts   AlertSink
	logger   *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	lastLedger uint64
}

// New builds a Listener.
func New(cfg Config, rpc *rpcclient.Client, events repositories.EventRepository, cursor repositories.ListenerCursorRepository, v *verifier.Verifier, alerts AlertSink, log *logger.Logger) *Listener {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.BatchEndRange == 0 {
		cfg.BatchEndRange = 200
	}
	return &Listener{
		cfg:      cfg,
		rpc:      rpc,
		events:   events,
		cursor:   cursor,
		verifier: v,
		alerts:   alerts,
		logger:   log,
		stopCh:   make(chan struct{}),
	}
}

// Start runs Init once and then loops Poll/Decode/Persist/Verify/Advance on
// a ticker until ctx is cancelled or Stop is called.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = true
	l.mu.Unlock()

	if err := l.init(ctx); err != nil {
		return fmt.Errorf("listener init: %w", err)
	}

	l.logger.Info("listener starting", "contract_id", l.cfg.ContractID, "start_ledger", l.LastLedger(), "poll_interval", l.cfg.PollInterval)

	l.wg.Add(1)
	go l.run(ctx)
	return nil
}

// Stop signals the polling goroutine to exit and waits for it to finish.
func (l *Listener) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.mu.Unlock()

	close(l.stopCh)
	l.wg.Wait()
	l.logger.Info("listener stopped")
	return nil
}

// init establishes the durable cursor needed for restart-recovery
// rule: resume from max(stored_last_ledger, configured_start_ledger, 0).
func (l *Listener) init(ctx context.Context) error {
	stored, ok, err := l.cursor.LoadLastLedger(ctx, l.cfg.ContractID)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}

	start := l.cfg.StartLedger
	if ok && stored > start {
		start = stored
	}
	l.lastLedger = start
	return nil
}

func (l *Listener) run(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	l.tick(ctx)

	for {
		select {
		case <-ticker.C:
			l.tick(ctx)
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one full Poll -> Decode -> Persist -> Verify -> Advance cycle.
// An RPC failure is logged and alerted and leaves the cursor where it was,
// so the next tick retries from the same watermark. A per-event decode or
// persist failure is only logged: that event is skipped, a failed upsert is
// not retried, and the cursor still advances past its ledger.
func (l *Listener) tick(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "listener.tick")
	defer span.End()
	lastLedger := l.LastLedger()
	span.SetAttributes(attribute.Int64("last_ledger", int64(lastLedger)))

	latest, err := l.rpc.LatestLedger(ctx)
	if err != nil {
		metrics.ListenerPollsTotal.WithLabelValues("rpc_error").Inc()
		l.fail(ctx, "poll latest ledger failed", err)
		return
	}
	if latest <= lastLedger {
		metrics.ListenerPollsTotal.WithLabelValues("ok").Inc()
		return
	}

	end := latest
	if end > lastLedger+l.cfg.BatchEndRange {
		end = lastLedger + l.cfg.BatchEndRange
	}

	raw, err := l.rpc.GetEvents(ctx, l.cfg.ContractID, lastLedger+1, end)
	if err != nil {
		metrics.ListenerPollsTotal.WithLabelValues("rpc_error").Inc()
		l.fail(ctx, "poll events failed", err)
		return
	}
	metrics.ListenerPollsTotal.WithLabelValues("ok").Inc()

	for _, re := range raw {
		event, perr := l.decodeAndPersist(ctx, re)
		if perr != nil {
			l.logger.Error("decode/persist failed, skipping event", "event_id", re.ID, "error", perr)
			continue
		}
		if event == nil {
			continue
		}
		l.verifyIfApplicable(ctx, event)
	}

	// Cursor advances to the full polled range, not just the highest
	// persisted event's ledger: an empty or partially-failed batch still
	// represents ledgers attempted, preserving the cursor-progress invariant.
	l.advance(ctx, end)
}

// decodeAndPersist turns a raw RPC event into an IndexedEvent and upserts
// it idempotently. Re-ingestion of an already-terminal event id is a no-op
// at the store layer (verdict-monotonicity), never here.
//
// Only events whose topic list carries the SNAP_SUB discriminant are
// snapshot submissions worth reconciling; everything else is logged and
// skipped (nil, nil), matching the decode/shape-error path rather than
// being stored under the RPC's own event-category field.
func (l *Listener) decodeAndPersist(ctx context.Context, re rpcclient.RawEvent) (*entities.IndexedEvent, error) {
	if !hasSnapSubTopic(re.Topic) {
		l.logger.Debug("skipping non-SNAP_SUB event", "event_id", re.ID, "topic", re.Topic)
		return nil, nil
	}

	ledger, err := strconv.ParseInt(re.Ledger, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode ledger %q: %w", re.Ledger, err)
	}

	event := &entities.IndexedEvent{
		ID:                 re.ID,
		ContractID:         l.cfg.ContractID,
		EventType:          string(entities.EventTypeSnapshotSubmission),
		Ledger:             ledger,
		TransactionHash:    re.ID,
		CreatedAt:          time.Now(),
		VerificationStatus: entities.VerificationPending,
		Metadata:           map[string]interface{}{"topic": re.Topic, "value": re.Value},
	}
	if re.Value.Epoch != nil {
		event.Epoch = re.Value.Epoch
	}
	if re.Value.Hash != nil {
		event.Hash = re.Value.Hash
	}
	if re.Value.Timestamp != nil {
		event.TsEvent = re.Value.Timestamp
	}

	if err := l.events.Upsert(ctx, event); err != nil {
		return nil, fmt.Errorf("upsert event %s: %w", event.ID, err)
	}
	return event, nil
}

// hasSnapSubTopic reports whether topics carries the SNAP_SUB discriminant.
func hasSnapSubTopic(topics []string) bool {
	for _, t := range topics {
		if t == string(entities.EventTypeSnapshotSubmission) {
			return true
		}
	}
	return false
}

// verifyIfApplicable triggers verification for events that carry both an
// epoch and an on-chain hash to reconcile against.
func (l *Listener) verifyIfApplicable(ctx context.Context, event *entities.IndexedEvent) {
	if event.Epoch == nil || event.Hash == nil {
		return
	}
	if _, err := l.verifier.Verify(ctx, event.ID, *event.Epoch, *event.Hash); err != nil {
		l.logger.Error("verification failed to execute", "event_id", event.ID, "epoch", *event.Epoch, "error", err)
	}
}

func (l *Listener) advance(ctx context.Context, ledger uint64) {
	if ledger <= l.LastLedger() {
		return
	}
	if err := l.cursor.SaveLastLedger(ctx, l.cfg.ContractID, ledger); err != nil {
		l.logger.Error("failed to persist cursor, will retry on next tick", "ledger", ledger, "error", err)
		return
	}
	l.mu.Lock()
	l.lastLedger = ledger
	l.mu.Unlock()
	metrics.ListenerLastLedger.Set(float64(ledger))
}

func (l *Listener) fail(ctx context.Context, msg string, err error) {
	l.logger.Error(msg, "error", err)
	l.alerts.Emit(entities.NewListenerFailureAlert(msg, err))
}

// CheckMissed is the operator-invoked backfill path: it resumes ingestion
// from the highest ledger ever durably persisted in the event store, in
// case the cursor itself was lost or reset, rather than from the
// configured start ledger.
func (l *Listener) CheckMissed(ctx context.Context) error {
	maxLedger, err := l.events.MaxLedger(ctx)
	if err != nil {
		return fmt.Errorf("check missed: load max ledger: %w", err)
	}

	l.mu.Lock()
	if uint64(maxLedger) > l.lastLedger {
		l.lastLedger = uint64(maxLedger)
	}
	from := l.lastLedger + 1
	l.mu.Unlock()

	l.logger.Info("check_missed backfill resuming", "from_ledger", from)
	l.tick(ctx)
	return nil
}

// LastLedger returns the current cursor value, primarily for diagnostics.
func (l *Listener) LastLedger() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLedger
}

// Shutdown implements graceful.Shutdowner so the listener can be registered
// with the process-wide shutdown manager alongside the HTTP server.
func (l *Listener) Shutdown(timeout time.Duration) error {
	return l.Stop()
}

// Name identifies this component in the shutdown manager's log.
func (l *Listener) Name() string {
	return fmt.Sprintf("listener[%s]", l.cfg.ContractID)
}
