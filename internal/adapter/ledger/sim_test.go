package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

type eventLog struct {
	mu     sync.Mutex
	events []domain.LedgerEvent
}

func (l *eventLog) handle(_ context.Context, ev domain.LedgerEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) all() []domain.LedgerEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.LedgerEvent(nil), l.events...)
}

func transferReq(from, to, amount string) usecase.LedgerRequest {
	return usecase.LedgerRequest{
		Method: domain.MethodTransfer,
		Args:   map[string]any{"from": from, "to": to, "amount": amount},
	}
}

func TestSimLedger_TransferConfirms(t *testing.T) {
	sim := NewSimLedger("chain1", map[string]decimal.Decimal{"A": decimal.NewFromInt(100)}, 0, zerolog.Nop())
	log := &eventLog{}
	require.NoError(t, sim.Subscribe(context.Background(), "chain1", log.handle))

	res, err := sim.Invoke(context.Background(), transferReq("A", "E", "60"))
	require.NoError(t, err)
	assert.Equal(t, "chain1-000001", res.CorrelationID)
	sim.Wait()

	events := log.all()
	require.Len(t, events, 1)
	assert.Equal(t, res.CorrelationID, events[0].EventRef)
	assert.True(t, domain.StatusInterpreter(events[0].Payload).Confirmed)
	assert.True(t, sim.Balance("A").Equal(decimal.NewFromInt(40)))
	assert.True(t, sim.Balance("E").Equal(decimal.NewFromInt(60)))
}

func TestSimLedger_InsufficientFundsFailsByEvent(t *testing.T) {
	sim := NewSimLedger("chain1", map[string]decimal.Decimal{"A": decimal.NewFromInt(10)}, 0, zerolog.Nop())
	log := &eventLog{}
	require.NoError(t, sim.Subscribe(context.Background(), "chain1", log.handle))

	_, err := sim.Invoke(context.Background(), transferReq("A", "E", "60"))
	require.NoError(t, err)
	sim.Wait()

	events := log.all()
	require.Len(t, events, 1)
	outcome := domain.StatusInterpreter(events[0].Payload)
	assert.False(t, outcome.Confirmed)
	assert.Contains(t, outcome.Reason, "insufficient funds")
	assert.True(t, sim.Balance("A").Equal(decimal.NewFromInt(10)))
}

func TestSimLedger_QueryBalance(t *testing.T) {
	sim := NewSimLedger("chain1", map[string]decimal.Decimal{"A": decimal.RequireFromString("12.5")}, 0, zerolog.Nop())

	raw, err := sim.Query(context.Background(), usecase.LedgerRequest{Method: domain.MethodBalance, Args: map[string]any{"account": "A"}})
	require.NoError(t, err)

	var doc struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "12.5", doc.Data.Amount)
}

func TestSimLedger_Rejects(t *testing.T) {
	sim := NewSimLedger("chain1", nil, 0, zerolog.Nop())
	ctx := context.Background()

	_, err := sim.Invoke(ctx, usecase.LedgerRequest{Method: "mint"})
	assert.Error(t, err)
	_, err = sim.Invoke(ctx, transferReq("A", "B", "lots"))
	assert.Error(t, err)
	_, err = sim.Query(ctx, usecase.LedgerRequest{Method: "history"})
	assert.Error(t, err)
	assert.ErrorIs(t, sim.Subscribe(ctx, "chain9", nil), domain.ErrUnknownChain)
}

func TestSimLedger_CancelledSubscriptionIsSkipped(t *testing.T) {
	sim := NewSimLedger("chain1", map[string]decimal.Decimal{"A": decimal.NewFromInt(1)}, 0, zerolog.Nop())
	log := &eventLog{}
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sim.Subscribe(ctx, "chain1", log.handle))
	cancel()

	_, err := sim.Invoke(context.Background(), transferReq("A", "B", "1"))
	require.NoError(t, err)
	sim.Wait()
	assert.Empty(t, log.all())
}
