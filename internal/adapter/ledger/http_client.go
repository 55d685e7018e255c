package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/iho/xledger/internal/usecase"
)

const maxResponseBody = 1 << 20

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	ChainID          string
	BaseURL          string
	CorrelationField string
	Timeout          time.Duration

	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration

	BreakerMaxRequests      uint32
	BreakerInterval         time.Duration
	BreakerTimeout          time.Duration
	BreakerFailureThreshold uint32
}

// StatusError is a non-2xx adapter response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("adapter returned %d: %s", e.Code, e.Body)
}

// HTTPClient reaches a ledger adapter speaking JSON over HTTP:
// POST /invoke and POST /query with a usecase.LedgerRequest body.
type HTTPClient struct {
	cfg     HTTPClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
}

// NewHTTPClient creates a new HTTPClient.
func NewHTTPClient(cfg HTTPClientConfig, logger zerolog.Logger) *HTTPClient {
	if cfg.CorrelationField == "" {
		cfg.CorrelationField = "txid"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	if cfg.BreakerFailureThreshold == 0 {
		cfg.BreakerFailureThreshold = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	log := logger.With().Str("component", "ledger-http").Str("chain_id", cfg.ChainID).Logger()
	threshold := cfg.BreakerFailureThreshold

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger-" + cfg.ChainID,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// a rejected request says nothing about the adapter's health
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})

	return &HTTPClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  log,
	}
}

// Invoke posts a state-changing call and extracts the correlation id the
// confirming event will carry.
func (c *HTTPClient) Invoke(ctx context.Context, req usecase.LedgerRequest) (*usecase.InvokeResult, error) {
	raw, err := c.post(ctx, "/invoke", req)
	if err != nil {
		return nil, err
	}

	res := &usecase.InvokeResult{Raw: raw}
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var doc any
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode invoke response: %w", err)
		}
		res.CorrelationID, _ = findString(doc, c.cfg.CorrelationField)
	}

	return res, nil
}

// Query posts a read-only call and returns the response body.
func (c *HTTPClient) Query(ctx context.Context, req usecase.LedgerRequest) (json.RawMessage, error) {
	return c.post(ctx, "/query", req)
}

func (c *HTTPClient) post(ctx context.Context, path string, req usecase.LedgerRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialInterval
	b.MaxInterval = c.cfg.MaxInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.cfg.MaxAttempts-1), ctx)

	var raw json.RawMessage
	attempt := 0

	err = backoff.Retry(func() error {
		attempt++
		out, err := c.breaker.Execute(func() (interface{}, error) {
			return c.do(ctx, path, req, body)
		})
		if err == nil {
			raw = out.(json.RawMessage)
			return nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) ||
			isClientError(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}

		c.logger.Warn().Err(err).Str("method", req.Method).Int("attempt", attempt).Msg("ledger call failed, retrying")
		return err
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.cfg.ChainID, req.Method, err)
	}

	return raw, nil
}

func (c *HTTPClient) do(ctx context.Context, path string, req usecase.LedgerRequest, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := idempotencyKey(req); key != "" {
		httpReq.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	return json.RawMessage(data), nil
}

// idempotencyKey lets the adapter drop retried submissions of the same leg.
func idempotencyKey(req usecase.LedgerRequest) string {
	id, _ := req.Args["transfer_id"].(string)
	leg, _ := req.Args["leg"].(string)
	if id == "" || leg == "" {
		return ""
	}
	return id + ":" + leg
}

func isClientError(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
}
