package entities

import "time"

// VerificationStatus is the closed set of verdicts a reconciliation can reach
// for a given epoch. A nil/empty status on a legacy row must be treated as
// VerificationPending everywhere it is surfaced.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
	// VerificationMissing marks an epoch for which the backend has not yet
	// produced a snapshot, distinct from "not yet attempted".
	VerificationMissing VerificationStatus = "missing"
)

// IsTerminal reports whether the status is a recorded verdict rather than an
// unresolved or in-flight state. Terminal statuses must never be overwritten
// by a later re-ingestion of the same event id.
func (s VerificationStatus) IsTerminal() bool {
	return s == VerificationVerified || s == VerificationFailed
}

// NormalizeStatus maps a possibly-empty legacy status to its display value.
func NormalizeStatus(s VerificationStatus) VerificationStatus {
	if s == "" {
		return VerificationPending
	}
	return s
}

// EventType discriminates the kinds of contract events the listener ingests.
type EventType string

const (
	EventTypeSnapshotSubmission EventType = "SNAP_SUB"
)

// IndexedEvent is one row per emitted contract event, per the event store
// schema: primary key id, upsert-by-id, verdict-monotonic.
type IndexedEvent struct {
	ID                 string             `json:"id"`
	ContractID         string             `json:"contractId"`
	EventType          string             `json:"eventType"`
	Epoch              *int64             `json:"epoch,omitempty"`
	Hash               *string            `json:"hash,omitempty"`
	TsEvent            *int64             `json:"tsEvent,omitempty"`
	Ledger             int64              `json:"ledger"`
	TransactionHash     string             `json:"transactionHash"`
	CreatedAt          time.Time          `json:"createdAt"`
	VerificationStatus VerificationStatus `json:"verificationStatus,omitempty"`
	VerifiedAt         *time.Time         `json:"verifiedAt,omitempty"`
	// Metadata carries the raw decoded event payload for forensic replay.
	// Written once at ingest, never mutated.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ErrorResponse is the uniform JSON error envelope returned by every query
// facade endpoint on failure.
type ErrorResponse struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// EventStats summarizes the event store for dashboard consumption.
type EventStats struct {
	TotalEvents         int64 `json:"totalEvents"`
	VerifiedSnapshots   int64 `json:"verifiedSnapshots"`
	FailedVerifications int64 `json:"failedVerifications"`
	MaxEpoch            int64 `json:"maxEpoch"`
	MaxLedger           int64 `json:"maxLedger"`
	Last24h             int64 `json:"last24h"`
}

// VerificationSummary is the per-epoch audit-trail projection used by the
// verification-summary endpoint. A null underlying status projects as
// VerificationPending.
type VerificationSummary struct {
	Epoch           int64              `json:"epoch"`
	Hash            string             `json:"hash"`
	Ledger          int64              `json:"ledger"`
	Status          VerificationStatus `json:"status"`
	CreatedAt       time.Time          `json:"createdAt"`
	TransactionHash string             `json:"transactionHash"`
}

// EventOrderBy is the closed enumeration of columns query() may sort on.
type EventOrderBy string

const (
	OrderByCreatedAt EventOrderBy = "created_at"
	OrderByLedger    EventOrderBy = "ledger"
	OrderByEpoch     EventOrderBy = "epoch"
)

// SortDirection is the closed enumeration of sort directions.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// LedgerRange bounds a query by inclusive ledger sequence.
type LedgerRange struct {
	From *int64
	To   *int64
}

// TimeRange bounds a query by inclusive creation time.
type TimeRange struct {
	From *time.Time
	To   *time.Time
}

// EventQuery captures every optional, ANDed filter accepted by query().
// All fields are optional; pagination defaults to limit 50, max 1000.
type EventQuery struct {
	ContractID         string
	EventType          string
	Epoch              *int64
	Hash               string
	LedgerRange        *LedgerRange
	TimeRange          *TimeRange
	VerificationStatus *VerificationStatus

	OrderBy   EventOrderBy
	Direction SortDirection
	Limit     int
	Offset    int
}

// Normalize fills in defaults for an EventQuery:
// default limit 50 (max 1000), default order created_at desc.
func (q *EventQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.OrderBy == "" {
		q.OrderBy = OrderByCreatedAt
	}
	if q.Direction == "" {
		q.Direction = SortDesc
	}
}
