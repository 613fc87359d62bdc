package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"github.com/ONEONUORA/stellar-insights/internal/domain/repositories"
	"github.com/ONEONUORA/stellar-insights/pkg/metrics"
	"github.com/ONEONUORA/stellar-insights/pkg/tracing"
)

var eventRepoTracer = tracing.GetTracer("repositories.event")

// PostgresEventRepository implements repositories.EventRepository against
// the contract_events table in the $N-bound style of a straightforward
// reconciliation repository. Each write is a single statement; no explicit
// transactions are used.
type PostgresEventRepository struct {
	db *sql.DB
}

// NewPostgresEventRepository builds a PostgresEventRepository.
func NewPostgresEventRepository(db *sql.DB) repositories.EventRepository {
	return &PostgresEventRepository{db: db}
}

// Upsert inserts or replaces a contract_events row by primary key id. The
// CASE expressions in the ON CONFLICT UPDATE preserve a terminal verdict
// (verified/failed) already recorded for that id, enforcing the
// verdict-monotonicity invariant at write time.
func (r *PostgresEventRepository) Upsert(ctx context.Context, event *entities.IndexedEvent) error {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.upsert")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", event.ID))

	metadataJSON, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO contract_events (
			id, contract_id, event_type, epoch, hash, ts_event, ledger,
			transaction_hash, created_at, verification_status, verified_at, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			contract_id = EXCLUDED.contract_id,
			event_type = EXCLUDED.event_type,
			epoch = EXCLUDED.epoch,
			hash = EXCLUDED.hash,
			ts_event = EXCLUDED.ts_event,
			ledger = EXCLUDED.ledger,
			transaction_hash = EXCLUDED.transaction_hash,
			metadata = EXCLUDED.metadata,
			verification_status = CASE
				WHEN contract_events.verification_status IN ('verified', 'failed')
				THEN contract_events.verification_status
				ELSE EXCLUDED.verification_status
			END,
			verified_at = CASE
				WHEN contract_events.verification_status IN ('verified', 'failed')
				THEN contract_events.verified_at
				ELSE EXCLUDED.verified_at
			END
	`

	_, err = r.db.ExecContext(ctx, query,
		event.ID,
		event.ContractID,
		event.EventType,
		event.Epoch,
		event.Hash,
		event.TsEvent,
		event.Ledger,
		event.TransactionHash,
		event.CreatedAt,
		nullableStatus(event.VerificationStatus),
		event.VerifiedAt,
		metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert contract event: %w", err)
	}
	metrics.EventsIngestedTotal.Inc()
	return nil
}

// ByID retrieves a single event, or apperrors.ErrEventNotFound.
func (r *PostgresEventRepository) ByID(ctx context.Context, id string) (*entities.IndexedEvent, error) {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.by_id")
	defer span.End()

	row := r.db.QueryRowContext(ctx, `
		SELECT id, contract_id, event_type, epoch, hash, ts_event, ledger,
		       transaction_hash, created_at, verification_status, verified_at, metadata
		FROM contract_events WHERE id = $1
	`, id)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event by id: %w", err)
	}
	return event, nil
}

// Query builds a dynamic, parameter-bound SQL statement from the supplied
// filter. Every user-influenced value is passed as a bind parameter; the
// ORDER BY clause is restricted to the closed EventOrderBy/SortDirection
// enumerations, never interpolated from arbitrary input.
func (r *PostgresEventRepository) Query(ctx context.Context, q entities.EventQuery) ([]*entities.IndexedEvent, error) {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.query")
	defer span.End()

	q.Normalize()

	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.ContractID != "" {
		where = append(where, "contract_id = "+arg(q.ContractID))
	}
	if q.EventType != "" {
		where = append(where, "event_type = "+arg(q.EventType))
	}
	if q.Epoch != nil {
		where = append(where, "epoch = "+arg(*q.Epoch))
	}
	if q.Hash != "" {
		where = append(where, "hash = "+arg(strings.ToLower(q.Hash)))
	}
	if q.LedgerRange != nil {
		if q.LedgerRange.From != nil {
			where = append(where, "ledger >= "+arg(*q.LedgerRange.From))
		}
		if q.LedgerRange.To != nil {
			where = append(where, "ledger <= "+arg(*q.LedgerRange.To))
		}
	}
	if q.TimeRange != nil {
		if q.TimeRange.From != nil {
			where = append(where, "created_at >= "+arg(*q.TimeRange.From))
		}
		if q.TimeRange.To != nil {
			where = append(where, "created_at <= "+arg(*q.TimeRange.To))
		}
	}
	if q.VerificationStatus != nil {
		where = append(where, "verification_status = "+arg(nullableStatus(*q.VerificationStatus)))
	}

	orderCol := orderColumn(q.OrderBy)
	direction := "DESC"
	if q.Direction == entities.SortAsc {
		direction = "ASC"
	}

	query := `
		SELECT id, contract_id, event_type, epoch, hash, ts_event, ledger,
		       transaction_hash, created_at, verification_status, verified_at, metadata
		FROM contract_events
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY %s %s LIMIT %s OFFSET %s", orderCol, direction, arg(q.Limit), arg(q.Offset))

	span.SetAttributes(attribute.Int("query.filter_count", len(where)))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contract events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// orderColumn maps the closed EventOrderBy enumeration to its column name.
// Never accepts a caller-supplied string directly.
func orderColumn(o entities.EventOrderBy) string {
	switch o {
	case entities.OrderByLedger:
		return "ledger"
	case entities.OrderByEpoch:
		return "epoch"
	default:
		return "created_at"
	}
}

// ForEpoch is the epoch-desc, created_at-desc tie-broken shorthand query.
func (r *PostgresEventRepository) ForEpoch(ctx context.Context, epoch int64) ([]*entities.IndexedEvent, error) {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.for_epoch")
	defer span.End()
	span.SetAttributes(attribute.Int64("epoch", epoch))

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contract_id, event_type, epoch, hash, ts_event, ledger,
		       transaction_hash, created_at, verification_status, verified_at, metadata
		FROM contract_events
		WHERE epoch = $1
		ORDER BY epoch DESC, created_at DESC
	`, epoch)
	if err != nil {
		return nil, fmt.Errorf("query events for epoch: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// SearchHashPrefix performs a parameter-bound LIKE query; prefix is never
// concatenated into the query string, closing off SQL injection.
func (r *PostgresEventRepository) SearchHashPrefix(ctx context.Context, prefix string, limit int) ([]*entities.IndexedEvent, error) {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.search_hash_prefix")
	defer span.End()

	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contract_id, event_type, epoch, hash, ts_event, ledger,
		       transaction_hash, created_at, verification_status, verified_at, metadata
		FROM contract_events
		WHERE hash LIKE $1 || '%'
		ORDER BY created_at DESC
		LIMIT $2
	`, strings.ToLower(prefix), limit)
	if err != nil {
		return nil, fmt.Errorf("search hash prefix: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LatestSnapshots returns SNAP_SUB rows ordered by epoch desc.
func (r *PostgresEventRepository) LatestSnapshots(ctx context.Context, limit int) ([]*entities.IndexedEvent, error) {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.latest_snapshots")
	defer span.End()

	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, contract_id, event_type, epoch, hash, ts_event, ledger,
		       transaction_hash, created_at, verification_status, verified_at, metadata
		FROM contract_events
		WHERE event_type = $1
		ORDER BY epoch DESC
		LIMIT $2
	`, string(entities.EventTypeSnapshotSubmission), limit)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Stats returns total/verified/failed counts, epoch/ledger highs, and the
// 24h ingestion count.
func (r *PostgresEventRepository) Stats(ctx context.Context) (*entities.EventStats, error) {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.stats")
	defer span.End()

	var stats entities.EventStats
	var maxEpoch, maxLedger sql.NullInt64

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE verification_status = 'verified'),
			COUNT(*) FILTER (WHERE verification_status = 'failed'),
			MAX(epoch),
			MAX(ledger),
			COUNT(*) FILTER (WHERE created_at > $1)
		FROM contract_events
	`, time.Now().Add(-24*time.Hour)).Scan(
		&stats.TotalEvents,
		&stats.VerifiedSnapshots,
		&stats.FailedVerifications,
		&maxEpoch,
		&maxLedger,
		&stats.Last24h,
	)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	stats.MaxEpoch = maxEpoch.Int64
	stats.MaxLedger = maxLedger.Int64
	return &stats, nil
}

// VerificationSummary returns the last n SNAP_SUB rows projected for the
// audit-trail view. A null status projects as "pending".
func (r *PostgresEventRepository) VerificationSummary(ctx context.Context, n int) ([]entities.VerificationSummary, error) {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.verification_summary")
	defer span.End()

	if n <= 0 || n > 1000 {
		n = 10
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT epoch, hash, ledger, verification_status, created_at, transaction_hash
		FROM contract_events
		WHERE event_type = $1
		ORDER BY epoch DESC
		LIMIT $2
	`, string(entities.EventTypeSnapshotSubmission), n)
	if err != nil {
		return nil, fmt.Errorf("verification summary: %w", err)
	}
	defer rows.Close()

	var out []entities.VerificationSummary
	for rows.Next() {
		var v entities.VerificationSummary
		var hash, status sql.NullString
		var epochNum sql.NullInt64
		var txHash string
		if err := rows.Scan(&epochNum, &hash, &v.Ledger, &status, &v.CreatedAt, &txHash); err != nil {
			return nil, fmt.Errorf("scan verification summary: %w", err)
		}
		v.Epoch = epochNum.Int64
		v.Hash = hash.String
		v.TransactionHash = txHash
		v.Status = entities.NormalizeStatus(entities.VerificationStatus(status.String))
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification summary: %w", err)
	}
	return out, nil
}

// UpdateStatus sets verification_status + verified_at for one event. It is
// idempotent and a no-op, not an error, if the row does not exist; that
// case is only recorded as an event.found=false span attribute and is not
// logged.
func (r *PostgresEventRepository) UpdateStatus(ctx context.Context, eventID string, status entities.VerificationStatus, verifiedAt time.Time) error {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.update_status")
	defer span.End()

	result, err := r.db.ExecContext(ctx, `
		UPDATE contract_events SET verification_status = $2, verified_at = $3
		WHERE id = $1
	`, eventID, string(status), verifiedAt)
	if err != nil {
		return fmt.Errorf("update verification status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		span.SetAttributes(attribute.Bool("event.found", false))
	}
	return nil
}

// Cleanup deletes rows older than the given horizon. The horizon is bound
// as a text interval parameter ($1::interval), never string-interpolated —
// closing the retention-sweep Open Question.
func (r *PostgresEventRepository) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.cleanup")
	defer span.End()

	intervalLiteral := fmt.Sprintf("%d seconds", int64(olderThan.Seconds()))
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM contract_events WHERE created_at < now() - $1::interval
	`, intervalLiteral)
	if err != nil {
		return 0, fmt.Errorf("cleanup old events: %w", err)
	}
	return result.RowsAffected()
}

// MaxLedger returns the highest ledger ever persisted, for the
// check_missed backfill path.
func (r *PostgresEventRepository) MaxLedger(ctx context.Context) (int64, error) {
	ctx, span := eventRepoTracer.Start(ctx, "db.event.max_ledger")
	defer span.End()

	var max sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(ledger) FROM contract_events`).Scan(&max); err != nil {
		return 0, fmt.Errorf("max ledger: %w", err)
	}
	return max.Int64, nil
}

func nullableStatus(s entities.VerificationStatus) interface{} {
	if s == "" {
		return nil
	}
	return string(s)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*entities.IndexedEvent, error) {
	var e entities.IndexedEvent
	var epoch, tsEvent sql.NullInt64
	var hash sql.NullString
	var status sql.NullString
	var verifiedAt sql.NullTime
	var metadataJSON []byte

	if err := row.Scan(
		&e.ID, &e.ContractID, &e.EventType, &epoch, &hash, &tsEvent, &e.Ledger,
		&e.TransactionHash, &e.CreatedAt, &status, &verifiedAt, &metadataJSON,
	); err != nil {
		return nil, err
	}

	if epoch.Valid {
		v := epoch.Int64
		e.Epoch = &v
	}
	if hash.Valid {
		v := hash.String
		e.Hash = &v
	}
	if tsEvent.Valid {
		v := tsEvent.Int64
		e.TsEvent = &v
	}
	e.VerificationStatus = entities.VerificationStatus(status.String)
	if verifiedAt.Valid {
		v := verifiedAt.Time
		e.VerifiedAt = &v
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]*entities.IndexedEvent, error) {
	var events []*entities.IndexedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
