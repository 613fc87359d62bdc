package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ONEONUORA/stellar-insights/internal/domain/entities"
	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"github.com/ONEONUORA/stellar-insights/internal/domain/repositories"
	"github.com/ONEONUORA/stellar-insights/internal/infrastructure/cache"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
)

// statsCacheKey is unprefixed: RedisClient namespaces every key it's
// given under the service's configured key_prefix.
const statsCacheKey = "stats"

// QueryHandlers serves the read-only Query Facade: event lookups, filtering,
// and aggregate stats, backed by an EventRepository and an optional cache.
type QueryHandlers struct {
	events   repositories.EventRepository
	logger   *logger.Logger
	cache    cache.RedisClient // nil when the hot-read cache is disabled
	cacheTTL time.Duration
}

// NewQueryHandlers builds a QueryHandlers. rdb may be nil, in which case
// every read goes straight to the Event Store.
func NewQueryHandlers(events repositories.EventRepository, log *logger.Logger, rdb cache.RedisClient, cacheTTL time.Duration) *QueryHandlers {
	if cacheTTL <= 0 {
		cacheTTL = 15 * time.Second
	}
	return &QueryHandlers{events: events, logger: log, cache: rdb, cacheTTL: cacheTTL}
}

// ListEvents returns a filtered, paginated page of indexed events.
// GET /api/v1/events
func (h *QueryHandlers) ListEvents(c *gin.Context) {
	q := entities.EventQuery{
		ContractID: c.Query("contract_id"),
		EventType:  c.Query("event_type"),
		Hash:       c.Query("hash"),
		OrderBy:    entities.EventOrderBy(c.Query("order_by")),
		Direction:  entities.SortDirection(c.Query("direction")),
		Limit:      parseIntParam(c, "limit", 50),
		Offset:     parseIntParam(c, "offset", 0),
	}

	if epochStr := c.Query("epoch"); epochStr != "" {
		epoch := parseInt64Param(c, "epoch", 0)
		q.Epoch = &epoch
	}
	if status := c.Query("verification_status"); status != "" {
		s := entities.VerificationStatus(status)
		q.VerificationStatus = &s
	}
	if from, err := parseTime(c.Query("from")); err == nil {
		if q.TimeRange == nil {
			q.TimeRange = &entities.TimeRange{}
		}
		q.TimeRange.From = &from
	}
	if to, err := parseTime(c.Query("to")); err == nil {
		if q.TimeRange == nil {
			q.TimeRange = &entities.TimeRange{}
		}
		q.TimeRange.To = &to
	}

	q.Normalize()

	events, err := h.events.Query(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("failed to query events", "error", err)
		respondInternalError(c, "failed to query events")
		return
	}

	respondSuccess(c, gin.H{"events": events, "limit": q.Limit, "offset": q.Offset})
}

// GetEvent returns a single event by its primary key.
// GET /api/v1/events/:id
func (h *QueryHandlers) GetEvent(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "event id is required")
		return
	}

	event, err := h.events.ByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrEventNotFound) {
			respondNotFound(c, "event not found")
			return
		}
		h.logger.Error("failed to fetch event", "id", id, "error", err)
		respondInternalError(c, "failed to fetch event")
		return
	}

	respondSuccess(c, event)
}

// GetEventsByEpoch returns every event recorded against a given epoch.
// GET /api/v1/epochs/:epoch/events
func (h *QueryHandlers) GetEventsByEpoch(c *gin.Context) {
	epoch := parseInt64PathParam(c, "epoch", -1)
	if epoch < 0 {
		respondBadRequest(c, "a valid epoch path parameter is required")
		return
	}

	events, err := h.events.ForEpoch(c.Request.Context(), epoch)
	if err != nil {
		h.logger.Error("failed to fetch events for epoch", "epoch", epoch, "error", err)
		respondInternalError(c, "failed to fetch events for epoch")
		return
	}

	respondSuccess(c, gin.H{"epoch": epoch, "events": events})
}

// SearchByHashPrefix returns events whose hash starts with the given
// prefix, useful for forensic lookups when only a partial hash is known.
// GET /api/v1/events/search?hash_prefix=...
func (h *QueryHandlers) SearchByHashPrefix(c *gin.Context) {
	prefix := c.Query("hash_prefix")
	if len(prefix) < 3 {
		respondBadRequest(c, "hash_prefix must be at least 3 characters")
		return
	}

	limit := parseIntParam(c, "limit", 50)
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	events, err := h.events.SearchHashPrefix(c.Request.Context(), prefix, limit)
	if err != nil {
		h.logger.Error("failed to search by hash prefix", "prefix", prefix, "error", err)
		respondInternalError(c, "failed to search by hash prefix")
		return
	}

	respondSuccess(c, gin.H{"hash_prefix": prefix, "events": events})
}

// GetStats returns aggregate counters over the event store. Stats are
// cheap to compute but hit on every dashboard refresh, so they're cached
// for a short TTL when the hot-read cache is enabled.
// GET /api/v1/stats
func (h *QueryHandlers) GetStats(c *gin.Context) {
	ctx := c.Request.Context()

	if h.cache != nil {
		var cached entities.EventStats
		if err := h.cache.Get(ctx, statsCacheKey, &cached); err == nil {
			respondSuccess(c, cached)
			return
		}
	}

	stats, err := h.events.Stats(ctx)
	if err != nil {
		h.logger.Error("failed to compute stats", "error", err)
		respondInternalError(c, "failed to compute stats")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, statsCacheKey, stats, h.cacheTTL); err != nil {
			h.logger.Warn("failed to cache stats", "error", err)
		}
	}

	respondSuccess(c, stats)
}

// GetVerificationSummary returns the most recent N epochs' verdicts, the
// audit-trail projection used by operators to eyeball recent health.
// GET /api/v1/verification-summary
func (h *QueryHandlers) GetVerificationSummary(c *gin.Context) {
	n := parseIntParam(c, "limit", 20)
	if n <= 0 || n > 500 {
		n = 20
	}

	summary, err := h.events.VerificationSummary(c.Request.Context(), n)
	if err != nil {
		h.logger.Error("failed to build verification summary", "error", err)
		respondInternalError(c, "failed to build verification summary")
		return
	}

	respondSuccess(c, gin.H{"summary": summary})
}
