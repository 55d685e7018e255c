package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

// RegistryTimeFormat is the timestamp layout of registry records.
const RegistryTimeFormat = "20060102T150405"

type registryChain struct {
	ChainID             string `json:"chainID"`
	AccountID           string `json:"accountID"`
	AssetType           string `json:"assetType"`
	Asset               string `json:"asset"`
	EscrowAccountID     string `json:"escrowAccountID,omitempty"`
	SettlementAccountID string `json:"settlementAccountID"`
	EscrowEvID          string `json:"escrowEvID,omitempty"`
	SettlementEvID      string `json:"settlementEvID,omitempty"`
	RestoreEvID         string `json:"restoreEvID,omitempty"`
	PaymentEvID         string `json:"paymentEvID,omitempty"`
}

type registryRecord struct {
	ID         string        `json:"id"`
	RuleID     string        `json:"ruleID"`
	From       registryChain `json:"fromChain"`
	To         registryChain `json:"toChain"`
	Progress   string        `json:"progress"`
	Timestamps struct {
		Create string `json:"create"`
	} `json:"timestamps"`
}

// RegistrySource rebuilds in-flight transfers from a ledger-hosted transfer
// registry, one query per non-terminal progress value.
type RegistrySource struct {
	gateway  usecase.LedgerGateway
	chainID  string
	contract string
	method   string
	logger   zerolog.Logger
}

// NewRegistrySource creates a RegistrySource querying method on chainID.
func NewRegistrySource(gateway usecase.LedgerGateway, chainID, contract, method string, logger zerolog.Logger) *RegistrySource {
	return &RegistrySource{
		gateway:  gateway,
		chainID:  chainID,
		contract: contract,
		method:   method,
		logger:   logger.With().Str("component", "ledger-registry").Logger(),
	}
}

// LoadInFlight implements usecase.TransferSource.
func (r *RegistrySource) LoadInFlight(ctx context.Context) ([]*domain.Transfer, error) {
	seen := make(map[string]bool)
	var out []*domain.Transfer

	for _, progress := range domain.InFlightProgress {
		raw, err := r.gateway.Query(ctx, r.chainID, usecase.LedgerRequest{
			Contract: r.contract,
			Method:   r.method,
			Args:     map[string]any{"progress": progress},
		})
		if err != nil {
			return nil, fmt.Errorf("query registry for %s: %w", progress, err)
		}

		records, err := decodeRecords(raw)
		if err != nil {
			return nil, fmt.Errorf("query registry for %s: %w", progress, err)
		}

		for _, rec := range records {
			if seen[rec.ID] {
				continue
			}
			t, err := rec.transfer()
			if err != nil {
				r.logger.Warn().Err(err).Str("transfer_id", rec.ID).Msg("skipping unreadable registry record")
				continue
			}
			seen[rec.ID] = true
			out = append(out, t)
		}
	}

	r.logger.Info().Int("count", len(out)).Msg("registry loaded")
	return out, nil
}

// decodeRecords accepts a bare list or one wrapped in "data".
func decodeRecords(raw json.RawMessage) ([]registryRecord, error) {
	var records []registryRecord
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}

	var wrapped struct {
		Data []registryRecord `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode registry response: %w", err)
	}
	return wrapped.Data, nil
}

func (rec registryRecord) transfer() (*domain.Transfer, error) {
	if err := domain.ValidateID(rec.ID); err != nil {
		return nil, err
	}

	stage, ok := domain.StageFromProgress(rec.Progress)
	if !ok || rec.Progress == domain.ProgressComplete {
		return nil, fmt.Errorf("progress %q is not in flight", rec.Progress)
	}

	srcAmount, err := decimal.NewFromString(rec.From.Asset)
	if err != nil {
		return nil, fmt.Errorf("source asset %q: %w", rec.From.Asset, err)
	}
	dstAmount, err := decimal.NewFromString(rec.To.Asset)
	if err != nil {
		return nil, fmt.Errorf("destination asset %q: %w", rec.To.Asset, err)
	}

	created, err := time.Parse(RegistryTimeFormat, rec.Timestamps.Create)
	if err != nil {
		created = time.Now().UTC()
	}

	t := &domain.Transfer{
		ID:       rec.ID,
		RuleID:   rec.RuleID,
		Topology: domain.TopologyFor(rec.From.EscrowAccountID),
		Source: domain.Endpoint{
			ChainID:             rec.From.ChainID,
			AccountID:           rec.From.AccountID,
			AssetType:           rec.From.AssetType,
			EscrowAccountID:     rec.From.EscrowAccountID,
			SettlementAccountID: rec.From.SettlementAccountID,
			Amount:              srcAmount,
		},
		Destination: domain.Endpoint{
			ChainID:             rec.To.ChainID,
			AccountID:           rec.To.AccountID,
			AssetType:           rec.To.AssetType,
			SettlementAccountID: rec.To.SettlementAccountID,
			Amount:              dstAmount,
		},
		Stage:     stage,
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}

	if stage == (domain.Stage{Leg: domain.LegRecovery, State: domain.LegFailed}) {
		t.Outcome = domain.OutcomeRecoveryFailed
	}

	if stage.State == domain.LegPending {
		t.PendingEventRef = rec.pendingRef(stage.Leg)
		t.PendingSince = created
		if t.PendingEventRef == "" {
			return nil, fmt.Errorf("pending %s leg has no event id", stage.Leg)
		}
	}

	return t, nil
}

func (rec registryRecord) pendingRef(leg domain.Leg) string {
	switch leg {
	case domain.LegEscrow:
		return rec.From.EscrowEvID
	case domain.LegDirectSettlement, domain.LegRelease:
		return rec.From.SettlementEvID
	case domain.LegRecovery:
		return rec.From.RestoreEvID
	case domain.LegCredit:
		return rec.To.PaymentEvID
	default:
		return ""
	}
}
