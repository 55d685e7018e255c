package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

// registryGateway answers registry queries from canned records per progress.
type registryGateway struct {
	byProgress map[string]string
	err        error
}

func (g *registryGateway) Invoke(context.Context, string, usecase.LedgerRequest) (*usecase.InvokeResult, error) {
	return nil, errors.New("not supported")
}

func (g *registryGateway) Query(_ context.Context, chainID string, req usecase.LedgerRequest) (json.RawMessage, error) {
	if g.err != nil {
		return nil, g.err
	}
	if chainID != "registry" || req.Method != "getTransferTransactionList" {
		return nil, fmt.Errorf("unexpected query %s %s", chainID, req.Method)
	}
	body, ok := g.byProgress[req.Args["progress"].(string)]
	if !ok {
		return json.RawMessage(`[]`), nil
	}
	return json.RawMessage(body), nil
}

func (g *registryGateway) Subscribe(context.Context, string, usecase.EventHandler) error {
	return nil
}

func record(id, progress, extraFrom, extraTo string) string {
	return fmt.Sprintf(`{
		"id": %q, "ruleID": "rule-1", "progress": %q,
		"fromChain": {"chainID": "chain1", "accountID": "A", "assetType": "number", "asset": "100",
			"escrowAccountID": "E", "settlementAccountID": "S1"%s},
		"toChain": {"chainID": "chain2", "accountID": "B", "assetType": "number", "asset": "90",
			"settlementAccountID": "S2"%s},
		"timestamps": {"create": "20260102T030405"}
	}`, id, progress, extraFrom, extraTo)
}

func TestRegistrySource_LoadInFlight(t *testing.T) {
	gw := &registryGateway{byProgress: map[string]string{
		domain.ProgressRequestMargin: "[" + record("tx-1", domain.ProgressRequestMargin, `, "escrowEvID": "ev-esc"`, "") + "]",
		domain.ProgressRequestCredit: `{"data":[` + record("tx-2", domain.ProgressRequestCredit, "", `, "paymentEvID": "ev-pay"`) + `]}`,
		domain.ProgressFailedRecovery: "[" + record("tx-3", domain.ProgressFailedRecovery, "", "") + "," +
			record("tx-bad", domain.ProgressRequestRecovery, "", "") + "]",
		domain.ProgressFixedMargin: "[" + record("tx-1", domain.ProgressFixedMargin, "", "") + "]",
	}}
	src := NewRegistrySource(gw, "registry", "transfer_information", "getTransferTransactionList", zerolog.Nop())

	transfers, err := src.LoadInFlight(context.Background())
	require.NoError(t, err)

	byID := make(map[string]*domain.Transfer)
	for _, tr := range transfers {
		byID[tr.ID] = tr
	}
	require.Len(t, byID, 3, "duplicates and unreadable records are skipped")

	tx1 := byID["tx-1"]
	assert.Equal(t, domain.Stage{Leg: domain.LegEscrow, State: domain.LegPending}, tx1.Stage)
	assert.Equal(t, "ev-esc", tx1.PendingEventRef)
	assert.Equal(t, domain.TopologyEscrow, tx1.Topology)
	assert.Equal(t, "90", tx1.Destination.Amount.String())
	assert.Equal(t, 2026, tx1.CreatedAt.Year())

	assert.Equal(t, "ev-pay", byID["tx-2"].PendingEventRef)

	tx3 := byID["tx-3"]
	assert.Equal(t, domain.OutcomeRecoveryFailed, tx3.Outcome)
	assert.Empty(t, tx3.PendingEventRef)
}

func TestRegistrySource_QueryError(t *testing.T) {
	src := NewRegistrySource(&registryGateway{err: errors.New("peer down")}, "registry", "", "getTransferTransactionList", zerolog.Nop())
	_, err := src.LoadInFlight(context.Background())
	assert.ErrorContains(t, err, "peer down")
}

func TestRegistrySource_BadResponse(t *testing.T) {
	gw := &registryGateway{byProgress: map[string]string{domain.ProgressInitial: `"nope"`}}
	src := NewRegistrySource(gw, "registry", "", "getTransferTransactionList", zerolog.Nop())
	_, err := src.LoadInFlight(context.Background())
	assert.ErrorContains(t, err, "decode registry response")
}
