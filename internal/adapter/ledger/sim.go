package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

type subscription struct {
	ctx     context.Context
	handler usecase.EventHandler
}

// SimLedger is an in-memory ledger for one chain. Transfers move balances
// at once and confirm asynchronously after the configured delay; a debit the
// source cannot cover is acknowledged and then rejected by its event.
type SimLedger struct {
	chainID string
	delay   time.Duration
	logger  zerolog.Logger

	mu       sync.Mutex
	balances map[string]decimal.Decimal
	seq      int
	subs     []subscription
	inflight sync.WaitGroup
}

// NewSimLedger creates a SimLedger with opening balances. Accounts not
// listed start empty.
func NewSimLedger(chainID string, balances map[string]decimal.Decimal, delay time.Duration, logger zerolog.Logger) *SimLedger {
	b := make(map[string]decimal.Decimal, len(balances))
	for k, v := range balances {
		b[k] = v
	}
	return &SimLedger{
		chainID:  chainID,
		delay:    delay,
		logger:   logger.With().Str("component", "ledger-sim").Str("chain_id", chainID).Logger(),
		balances: b,
	}
}

// Invoke applies a transfer or payment.
func (s *SimLedger) Invoke(_ context.Context, req usecase.LedgerRequest) (*usecase.InvokeResult, error) {
	if req.Method != domain.MethodTransfer && req.Method != domain.MethodPayment {
		return nil, fmt.Errorf("sim ledger %s: unsupported method %q", s.chainID, req.Method)
	}

	from, _ := req.Args["from"].(string)
	to, _ := req.Args["to"].(string)
	amountStr, _ := req.Args["amount"].(string)
	amount, err := decimal.NewFromString(amountStr)
	if err != nil || from == "" || to == "" {
		return nil, fmt.Errorf("sim ledger %s: malformed %s args", s.chainID, req.Method)
	}

	s.mu.Lock()
	s.seq++
	ref := fmt.Sprintf("%s-%06d", s.chainID, s.seq)

	payload := map[string]any{"txid": ref, domain.PayloadStatusKey: float64(200)}
	if s.balances[from].LessThan(amount) {
		payload[domain.PayloadStatusKey] = float64(500)
		payload["error"] = fmt.Sprintf("insufficient funds in %s", from)
	} else {
		s.balances[from] = s.balances[from].Sub(amount)
		s.balances[to] = s.balances[to].Add(amount)
	}

	subs := append([]subscription(nil), s.subs...)
	s.inflight.Add(1)
	s.mu.Unlock()

	go s.deliver(subs, domain.LedgerEvent{ChainID: s.chainID, EventRef: ref, Payload: payload})

	raw, _ := json.Marshal(map[string]any{"txid": ref})
	return &usecase.InvokeResult{CorrelationID: ref, Raw: raw}, nil
}

func (s *SimLedger) deliver(subs []subscription, event domain.LedgerEvent) {
	defer s.inflight.Done()

	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	for _, sub := range subs {
		if sub.ctx.Err() != nil {
			continue
		}
		if err := sub.handler(sub.ctx, event); err != nil && !isBenign(err) {
			s.logger.Warn().Err(err).Str("event_ref", event.EventRef).Msg("sim event handler failed")
		}
	}
}

// Query answers balance lookups.
func (s *SimLedger) Query(_ context.Context, req usecase.LedgerRequest) (json.RawMessage, error) {
	if req.Method != domain.MethodBalance {
		return nil, fmt.Errorf("sim ledger %s: unsupported query %q", s.chainID, req.Method)
	}

	account, _ := req.Args["account"].(string)
	return json.Marshal(map[string]any{
		"data": map[string]any{"account": account, "amount": s.Balance(account).String()},
	})
}

// Subscribe registers handler for the events of this chain.
func (s *SimLedger) Subscribe(ctx context.Context, chainID string, handler usecase.EventHandler) error {
	if chainID != s.chainID {
		return fmt.Errorf("%w: sim ledger serves %q, not %q", domain.ErrUnknownChain, s.chainID, chainID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, subscription{ctx: ctx, handler: handler})
	return nil
}

// Balance returns the balance of account.
func (s *SimLedger) Balance(account string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account]
}

// Wait blocks until every event emitted so far was delivered.
func (s *SimLedger) Wait() {
	s.inflight.Wait()
}
