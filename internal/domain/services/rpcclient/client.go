// Package rpcclient issues JSON-RPC 2.0 requests to a Soroban RPC endpoint
// and categorizes failures the way a Listener needs to react to them.
package rpcclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
	"github.com/ONEONUORA/stellar-insights/pkg/retry"
	"github.com/ONEONUORA/stellar-insights/pkg/tracing"
)

var tracer = tracing.GetTracer("rpcclient")

// Config configures a Client.
type Config struct {
	RPCURL     string
	Timeout    time.Duration // per-request timeout, default 30s
	RetryPolicy retry.Policy
}

// Client issues getLatestLedger/getEvents/simulateTransaction calls. Besides
// configuration, its only mutable state is the JSON-RPC request-id counter,
// which every request increments without locking; one instance per Listener
// is sufficient.
type Client struct {
	cfg            Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	retrier        *retry.Retrier
	logger         *logger.Logger
	nextID         int
}

// New builds a Client against the given Soroban RPC endpoint.
func New(cfg Config, log *logger.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.RPCURL = strings.TrimRight(cfg.RPCURL, "/")

	if cfg.RetryPolicy.MaxRetries == 0 && cfg.RetryPolicy.BaseDelay == 0 {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "soroban-rpc",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("rpc circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		cfg:            cfg,
		httpClient:     httpClient,
		circuitBreaker: cb,
		retrier:        retry.NewRetrier(cfg.RetryPolicy, log.Zap()),
		logger:         log,
		nextID:         1,
	}
}

// LatestLedger calls getLatestLedger and returns its sequence field.
func (c *Client) LatestLedger(ctx context.Context) (uint64, error) {
	ctx, span := tracer.Start(ctx, "rpc.getLatestLedger")
	defer span.End()

	var result struct {
		Sequence uint64 `json:"sequence"`
	}
	if err := c.call(ctx, "getLatestLedger", nil, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	span.SetAttributes(attribute.Int64("ledger.sequence", int64(result.Sequence)))
	return result.Sequence, nil
}

// GetEvents calls getEvents for the inclusive ledger range [startLedger,
// endLedger], scoped to contractID.
func (c *Client) GetEvents(ctx context.Context, contractID string, startLedger, endLedger uint64) ([]RawEvent, error) {
	ctx, span := tracer.Start(ctx, "rpc.getEvents")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("ledger.start", int64(startLedger)),
		attribute.Int64("ledger.end", int64(endLedger)),
	)

	params := map[string]interface{}{
		"startLedger": strconv.FormatUint(startLedger, 10),
		"endLedger":   strconv.FormatUint(endLedger, 10),
		"filters": []EventFilter{
			{Type: "contract", ContractIDs: []string{contractID}},
		},
	}

	var result struct {
		Events []RawEvent `json:"events"`
	}
	if err := c.call(ctx, "getEvents", params, &result); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("events.count", len(result.Events)))
	return result.Events, nil
}

// SimulateGetSnapshot invokes a read-only simulateTransaction against the
// contract's get_snapshot(epoch) function. Returns ("", nil) when the
// contract reports the epoch as not found.
func (c *Client) SimulateGetSnapshot(ctx context.Context, contractID string, epoch int64) (string, error) {
	ctx, span := tracer.Start(ctx, "rpc.simulateTransaction")
	defer span.End()
	span.SetAttributes(attribute.Int64("epoch", epoch))

	params := map[string]interface{}{
		"contractId": contractID,
		"function":   "get_snapshot",
		"args":       []string{strconv.FormatInt(epoch, 10)},
	}

	var result struct {
		Hash string `json:"hash"`
	}
	err := c.call(ctx, "simulateTransaction", params, &result)
	if err != nil {
		if isNotFoundRPCError(err) {
			return "", nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return result.Hash, nil
}

// call executes one JSON-RPC request through the circuit breaker and retry
// decorator, categorizing failures by cause.
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		var lastErr error
		retryErr := c.retrier.Do(ctx, func() error {
			lastErr = c.doRequest(ctx, method, params, out)
			return lastErr
		})
		if retryErr != nil {
			return nil, retryErr
		}
		return nil, nil
	})
	return err
}

func (c *Client) doRequest(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      c.nextID,
		Method:  method,
		Params:  params,
	}
	c.nextID++

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%w: marshal request: %v", apperrors.ErrRPCDecode, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrRPCTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrRPCTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", apperrors.ErrRPCTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d: %s", apperrors.ErrRPCProtocol, resp.StatusCode, string(respBody))
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("%w: malformed json-rpc envelope: %v", apperrors.ErrRPCProtocol, err)
	}

	if rpcResp.Error != nil {
		if strings.Contains(strings.ToLower(rpcResp.Error.Message), "not found") {
			return fmt.Errorf("%w: %s", apperrors.ErrRPCServer, rpcResp.Error.Message)
		}
		return fmt.Errorf("%w: code=%d message=%s", apperrors.ErrRPCServer, rpcResp.Error.Code, rpcResp.Error.Message)
	}

	if rpcResp.Result == nil {
		return fmt.Errorf("%w: missing result field", apperrors.ErrRPCProtocol)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrRPCDecode, err)
	}
	return nil
}

func isNotFoundRPCError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), apperrors.ErrRPCServer.Error()) && strings.Contains(strings.ToLower(err.Error()), "not found")
}
