package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

// Client talks to the ledger of one chain.
type Client interface {
	Invoke(ctx context.Context, req usecase.LedgerRequest) (*usecase.InvokeResult, error)
	Query(ctx context.Context, req usecase.LedgerRequest) (json.RawMessage, error)
}

// EventSource delivers the events of one or more chains.
type EventSource interface {
	Subscribe(ctx context.Context, chainID string, handler usecase.EventHandler) error
}

// CallObserver records adapter calls.
type CallObserver interface {
	ObserveLedgerCall(chainID, method string, err error, elapsed time.Duration)
}

type route struct {
	client   Client
	events   EventSource
	contract string
}

// Router implements usecase.LedgerGateway over per-chain clients.
// Chains are registered during startup, before the router is shared.
type Router struct {
	routes   map[string]route
	observer CallObserver
	logger   zerolog.Logger
}

// NewRouter creates an empty Router. observer may be nil.
func NewRouter(observer CallObserver, logger zerolog.Logger) *Router {
	return &Router{
		routes:   make(map[string]route),
		observer: observer,
		logger:   logger.With().Str("component", "ledger-router").Logger(),
	}
}

// Register binds a chain to its client and event source. contract is used
// for requests that name none.
func (r *Router) Register(chainID string, client Client, events EventSource, contract string) {
	r.routes[chainID] = route{client: client, events: events, contract: contract}
	r.logger.Info().Str("chain_id", chainID).Str("contract", contract).Msg("ledger registered")
}

// Chains returns the registered chain ids in order.
func (r *Router) Chains() []string {
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Invoke submits a state-changing call to chainID.
func (r *Router) Invoke(ctx context.Context, chainID string, req usecase.LedgerRequest) (*usecase.InvokeResult, error) {
	rt, err := r.route(chainID)
	if err != nil {
		return nil, err
	}
	if req.Contract == "" {
		req.Contract = rt.contract
	}

	start := time.Now()
	res, err := rt.client.Invoke(ctx, req)
	r.observe(chainID, req.Method, err, start)

	return res, err
}

// Query runs a read-only call on chainID.
func (r *Router) Query(ctx context.Context, chainID string, req usecase.LedgerRequest) (json.RawMessage, error) {
	rt, err := r.route(chainID)
	if err != nil {
		return nil, err
	}
	if req.Contract == "" {
		req.Contract = rt.contract
	}

	start := time.Now()
	raw, err := rt.client.Query(ctx, req)
	r.observe(chainID, req.Method, err, start)

	return raw, err
}

// Subscribe attaches handler to the events of chainID.
func (r *Router) Subscribe(ctx context.Context, chainID string, handler usecase.EventHandler) error {
	rt, err := r.route(chainID)
	if err != nil {
		return err
	}
	if rt.events == nil {
		r.logger.Warn().Str("chain_id", chainID).Msg("no event source, relying on the events webhook")
		return nil
	}
	return rt.events.Subscribe(ctx, chainID, handler)
}

// SubscribeAll attaches handler to every registered chain.
func (r *Router) SubscribeAll(ctx context.Context, handler usecase.EventHandler) error {
	for _, id := range r.Chains() {
		if err := r.Subscribe(ctx, id, handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}
	return nil
}

func (r *Router) route(chainID string) (route, error) {
	rt, ok := r.routes[chainID]
	if !ok {
		return route{}, fmt.Errorf("%w: %q", domain.ErrUnknownChain, chainID)
	}
	return rt, nil
}

func (r *Router) observe(chainID, method string, err error, start time.Time) {
	if r.observer != nil {
		r.observer.ObserveLedgerCall(chainID, method, err, time.Since(start))
	}
}

// findString returns the first string or number stored under field in a
// decoded JSON document, searching nested objects in key order.
func findString(doc any, field string) (string, bool) {
	switch v := doc.(type) {
	case map[string]any:
		if found, ok := v[field]; ok {
			switch s := found.(type) {
			case string:
				return s, s != ""
			case float64:
				return strconv.FormatFloat(s, 'f', -1, 64), true
			case json.Number:
				return s.String(), true
			}
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s, ok := findString(v[k], field); ok {
				return s, true
			}
		}
	case []any:
		for _, child := range v {
			if s, ok := findString(child, field); ok {
				return s, true
			}
		}
	}
	return "", false
}
