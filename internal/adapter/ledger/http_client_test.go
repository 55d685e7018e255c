package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/xledger/internal/usecase"
)

func newTestClient(url string) *HTTPClient {
	return NewHTTPClient(HTTPClientConfig{
		ChainID:                 "chain1",
		BaseURL:                 url + "/",
		MaxAttempts:             3,
		InitialInterval:         time.Millisecond,
		MaxInterval:             5 * time.Millisecond,
		BreakerFailureThreshold: 2,
		BreakerTimeout:          time.Minute,
	}, zerolog.Nop())
}

func TestHTTPClient_Invoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/invoke", r.URL.Path)
		assert.Equal(t, "tx-1:escrow", r.Header.Get("Idempotency-Key"))

		var req usecase.LedgerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "transfer", req.Method)
		assert.Equal(t, "asset-cc", req.Contract)

		_, _ = w.Write([]byte(`{"result":{"txid":"0xabc"}}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.Invoke(context.Background(), usecase.LedgerRequest{
		Contract: "asset-cc",
		Method:   "transfer",
		Args:     map[string]any{"transfer_id": "tx-1", "leg": "escrow"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc", res.CorrelationID)
	assert.JSONEq(t, `{"result":{"txid":"0xabc"}}`, string(res.Raw))
}

func TestHTTPClient_InvokeSynchronousAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Invoke(context.Background(), usecase.LedgerRequest{Method: "transfer"})
	require.NoError(t, err)
	assert.Empty(t, res.CorrelationID)
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"amount":"10"}}`))
	}))
	defer srv.Close()

	raw, err := newTestClient(srv.URL).Query(context.Background(), usecase.LedgerRequest{Method: "balance"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"amount":"10"}}`, string(raw))
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad account", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	for i := 0; i < 3; i++ {
		_, err := c.Invoke(context.Background(), usecase.LedgerRequest{Method: "transfer"})
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.Code)
		assert.Equal(t, "bad account", se.Body)
	}

	assert.Equal(t, int32(3), calls.Load(), "4xx is neither retried nor counted by the breaker")
	assert.Equal(t, gobreaker.StateClosed, c.breaker.State())
}

func TestHTTPClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Invoke(context.Background(), usecase.LedgerRequest{Method: "transfer"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, gobreaker.StateOpen, c.breaker.State())

	_, err = c.Invoke(context.Background(), usecase.LedgerRequest{Method: "transfer"})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv.URL).Query(ctx, usecase.LedgerRequest{Method: "balance"})
	require.Error(t, err)
}

func TestIdempotencyKey(t *testing.T) {
	assert.Equal(t, "tx-1:credit", idempotencyKey(usecase.LedgerRequest{Args: map[string]any{"transfer_id": "tx-1", "leg": "credit"}}))
	assert.Empty(t, idempotencyKey(usecase.LedgerRequest{Args: map[string]any{"account": "A"}}))
}
