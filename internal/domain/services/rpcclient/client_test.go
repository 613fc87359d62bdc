package rpcclient_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ONEONUORA/stellar-insights/internal/domain/errors"
	"github.com/ONEONUORA/stellar-insights/internal/domain/services/rpcclient"
	"github.com/ONEONUORA/stellar-insights/pkg/logger"
	"github.com/ONEONUORA/stellar-insights/pkg/retry"
)

func noRetryPolicy() retry.Policy {
	return retry.Policy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestClient(rpcURL string) *rpcclient.Client {
	return rpcclient.New(rpcclient.Config{
		RPCURL:      rpcURL,
		Timeout:     2 * time.Second,
		RetryPolicy: noRetryPolicy(),
	}, logger.NewNop())
}

func TestLatestLedger_ReturnsSequence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getLatestLedger", req.Method)

		resp := rpcclient.JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  json.RawMessage(`{"sequence": 12345}`),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	seq, err := c.LatestLedger(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), seq)
}

func TestGetEvents_DecodesSnapshotSubmission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getEvents", req.Method)

		resp := rpcclient.JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result: json.RawMessage(`{"events": [
				{"id": "evt-1", "type": "contract", "ledger": "100", "topic": ["SNAP_SUB"],
				 "value": {"epoch": 42, "hash": "a3f1", "timestamp": 1700000000}}
			]}`),
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	events, err := c.GetEvents(t.Context(), "CONTRACT123", 101, 110)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)
	require.NotNil(t, events[0].Value.Epoch)
	assert.Equal(t, int64(42), *events[0].Value.Epoch)
	require.NotNil(t, events[0].Value.Hash)
	assert.Equal(t, "a3f1", *events[0].Value.Hash)
}

func TestSimulateGetSnapshot_NotFoundReturnsEmptyNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := rpcclient.JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcclient.RPCError{Code: -32000, Message: "snapshot not found for epoch"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	hash, err := c.SimulateGetSnapshot(t.Context(), "CONTRACT123", 99)
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func TestSimulateGetSnapshot_GenuineRPCErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.JSONRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := rpcclient.JSONRPCResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcclient.RPCError{Code: -32603, Message: "internal error"},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.SimulateGetSnapshot(t.Context(), "CONTRACT123", 99)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRPCServer)
}

func TestLatestLedger_NonOKStatusIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.LatestLedger(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRPCProtocol)
}

func TestLatestLedger_MalformedJSONIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.LatestLedger(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRPCProtocol)
}

func TestLatestLedger_MissingResultIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcclient.JSONRPCRequest
		json.NewDecoder(r.Body).Decode(&req)
		resp := rpcclient.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.LatestLedger(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRPCProtocol)
}
