package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/xledger/internal/adapter/http/handler"
	apimiddleware "github.com/iho/xledger/internal/adapter/http/middleware"
	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

func TestNewRouter_HealthEndpointAvailable(t *testing.T) {
	router := NewRouter(newRouterConfig())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected /health to return 200, got %d", rec.Code)
	}
}

func TestNewRouter_MetricsEndpoint(t *testing.T) {
	router := NewRouter(newRouterConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "xledger_http_requests_in_flight") {
		t.Fatalf("expected Prometheus exposition, got %d", rec.Code)
	}
}

func TestNewRouter_RateLimiterBlocksExcessRequests(t *testing.T) {
	rl := apimiddleware.NewRateLimiter(1, 1)
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.RateLimiter = rl
	}))

	req1 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req1.RemoteAddr = "1.2.3.4:1234"
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", rec1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/health", nil)
	req2.RemoteAddr = "1.2.3.4:1234"
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be throttled, got %d", rec2.Code)
	}
}

func TestNewRouter_IdempotencyOnlyOnCreate(t *testing.T) {
	store := &stubIdempotencyStore{}
	router := NewRouter(newRouterConfig(func(cfg *RouterConfig) {
		cfg.IdempotencyStore = store
	}))

	body := `{"rule_id":"rule-1","source_account":"A","destination_account":"B","amount":"10"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers/", strings.NewReader(body))
	req.Header.Set(apimiddleware.IdempotencyKeyHeader, "key-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.checks != 1 {
		t.Fatalf("expected idempotency store to be used once, got %d", store.checks)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/transfers/tx-1/expire", nil)
	req.Header.Set(apimiddleware.IdempotencyKeyHeader, "key-456")
	router.ServeHTTP(httptest.NewRecorder(), req)
	if store.checks != 1 {
		t.Fatalf("expire must not consult the idempotency store")
	}
}

func TestNewRouter_RegistersKeyRoutes(t *testing.T) {
	router := NewRouter(newRouterConfig())

	chiRoutes, ok := router.(chi.Router)
	if !ok {
		t.Fatal("router does not implement chi.Routes")
	}

	seen := map[string]bool{}
	if err := chi.Walk(chiRoutes, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		seen[method+" "+route] = true
		return nil
	}); err != nil {
		t.Fatalf("walk failed: %v", err)
	}

	expected := []string{
		"GET /health",
		"GET /ready",
		"GET /metrics",
		"POST /api/v1/transfers/",
		"GET /api/v1/transfers/",
		"GET /api/v1/transfers/{id}",
		"POST /api/v1/transfers/{id}/expire",
		"POST /api/v1/events",
	}

	for _, route := range expected {
		if !seen[route] {
			t.Fatalf("expected route %s to be registered, have %v", route, seen)
		}
	}
}

func newRouterConfig(opts ...func(*RouterConfig)) RouterConfig {
	cfg := RouterConfig{
		HealthHandler:   handler.NewHealthHandler(nil),
		TransferHandler: handler.NewTransferHandler(stubTransferService{}, stubExpirer{}),
		EventHandler:    handler.NewEventHandler(stubSink{}, nil, []string{"chain1"}),
		Logger:          zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

type stubTransferService struct{}

func (stubTransferService) CreateTransfer(ctx context.Context, input usecase.CreateTransferInput) (*domain.Transfer, error) {
	return &domain.Transfer{ID: "transfer", RuleID: input.RuleID}, nil
}

func (stubTransferService) GetTransferStatus(ctx context.Context, id string) (*usecase.TransferStatus, error) {
	return &usecase.TransferStatus{Transfer: &domain.Transfer{ID: id}}, nil
}

func (stubTransferService) ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	return []*domain.Transfer{}, nil
}

type stubExpirer struct{}

func (stubExpirer) ExpireTransfer(ctx context.Context, id string) error { return nil }

type stubSink struct{}

func (stubSink) OnEvent(ctx context.Context, event domain.LedgerEvent) error { return nil }

type stubIdempotencyStore struct {
	checks int
}

func (s *stubIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	s.checks++
	return false, nil, nil
}

func (s *stubIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return nil
}
