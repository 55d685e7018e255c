package dto

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

// CreateTransferRequest represents a request to create a cross-ledger transfer.
type CreateTransferRequest struct {
	// ID is optional; the server generates one when empty.
	ID                 string `json:"id,omitempty"`
	RuleID             string `json:"rule_id"`
	SourceAccount      string `json:"source_account"`
	DestinationAccount string `json:"destination_account"`
	Amount             string `json:"amount"`
}

// ToUseCaseInput converts to use case input.
func (r *CreateTransferRequest) ToUseCaseInput() (usecase.CreateTransferInput, error) {
	if strings.TrimSpace(r.RuleID) == "" {
		return usecase.CreateTransferInput{}, fmt.Errorf("%w: rule_id is required", domain.ErrInvalidIDFormat)
	}

	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return usecase.CreateTransferInput{}, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, r.Amount)
	}

	return usecase.CreateTransferInput{
		ID:                 r.ID,
		RuleID:             r.RuleID,
		SourceAccount:      r.SourceAccount,
		DestinationAccount: r.DestinationAccount,
		Amount:             amount,
	}, nil
}

// LedgerEventRequest is a ledger notification pushed over HTTP.
type LedgerEventRequest struct {
	ChainID  string         `json:"chain_id"`
	EventRef string         `json:"event_ref"`
	Payload  map[string]any `json:"payload"`
}

// ToDomain converts the request into a ledger event.
func (r *LedgerEventRequest) ToDomain() (domain.LedgerEvent, error) {
	if r.ChainID == "" || r.EventRef == "" {
		return domain.LedgerEvent{}, fmt.Errorf("%w: chain_id and event_ref are required", domain.ErrInvalidIDFormat)
	}
	return domain.LedgerEvent{ChainID: r.ChainID, EventRef: r.EventRef, Payload: r.Payload}, nil
}

// TransferFilterFromQuery reads list filters from query parameters. Unknown
// enum values are rejected.
func TransferFilterFromQuery(q url.Values) (domain.TransferFilter, error) {
	filter := domain.TransferFilter{
		ChainID: q.Get("chain"),
		RuleID:  q.Get("rule"),
		Leg:     domain.Leg(q.Get("leg")),
		State:   domain.LegState(q.Get("state")),
		Outcome: domain.Outcome(q.Get("outcome")),
	}

	switch filter.Leg {
	case "", domain.LegEscrow, domain.LegDirectSettlement, domain.LegCredit, domain.LegRelease, domain.LegRecovery:
	default:
		return filter, fmt.Errorf("unknown leg %q", filter.Leg)
	}

	switch filter.State {
	case "", domain.LegPending, domain.LegConfirmed, domain.LegFailed:
	default:
		return filter, fmt.Errorf("unknown leg state %q", filter.State)
	}

	switch filter.Outcome {
	case domain.OutcomeNone, domain.OutcomeCompleted, domain.OutcomeEscrowFailed,
		domain.OutcomeDirectSettlementFailed, domain.OutcomeCompensationConfirmed,
		domain.OutcomeUncompensatedFailure, domain.OutcomeRecoveryFailed:
	default:
		return filter, fmt.Errorf("unknown outcome %q", filter.Outcome)
	}

	if v := q.Get("in_flight"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("in_flight: %w", err)
		}
		filter.InFlight = b
	}

	var err error
	if filter.Limit, err = intParam(q, "limit"); err != nil {
		return filter, err
	}
	if filter.Offset, err = intParam(q, "offset"); err != nil {
		return filter, err
	}

	return filter, nil
}

func intParam(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}
