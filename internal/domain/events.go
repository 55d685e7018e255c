package domain

import "time"

// Event types
const (
	EventTypeTransferCompleted              = "transfer.completed"
	EventTypeTransferEscrowFailed           = "transfer.escrow_failed"
	EventTypeTransferDirectSettlementFailed = "transfer.direct_settlement_failed"
	EventTypeTransferCompensated            = "transfer.compensated"
	EventTypeTransferUncompensated          = "transfer.uncompensated_failure"
	EventTypeTransferRecoveryFailed         = "transfer.recovery_failed"
)

// Aggregate types
const (
	AggregateTypeTransfer = "transfer"
)

var outcomeEventTypes = map[Outcome]string{
	OutcomeCompleted:              EventTypeTransferCompleted,
	OutcomeEscrowFailed:           EventTypeTransferEscrowFailed,
	OutcomeDirectSettlementFailed: EventTypeTransferDirectSettlementFailed,
	OutcomeCompensationConfirmed:  EventTypeTransferCompensated,
	OutcomeUncompensatedFailure:   EventTypeTransferUncompensated,
	OutcomeRecoveryFailed:         EventTypeTransferRecoveryFailed,
}

// EventTypeFor returns the outbox event type emitted for an outcome.
func EventTypeFor(o Outcome) (string, bool) {
	et, ok := outcomeEventTypes[o]
	return et, ok
}

// OutboxEvent represents an event to be published
type OutboxEvent struct {
	ID            string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// TransferFinishedEvent is the payload of every terminal transfer event.
type TransferFinishedEvent struct {
	TransferID           string `json:"transfer_id"`
	RuleID               string `json:"rule_id"`
	Topology             string `json:"topology"`
	Outcome              string `json:"outcome"`
	SourceChainID        string `json:"source_chain_id"`
	SourceAccountID      string `json:"source_account_id"`
	SourceAmount         string `json:"source_amount"`
	DestinationChainID   string `json:"destination_chain_id"`
	DestinationAccountID string `json:"destination_account_id"`
	DestinationAmount    string `json:"destination_amount"`
	LastLeg              string `json:"last_leg"`
	FinishedAt           string `json:"finished_at"`
}

// NewTransferFinishedEvent builds the outbox payload for a finalized transfer.
func NewTransferFinishedEvent(t *Transfer) TransferFinishedEvent {
	return TransferFinishedEvent{
		TransferID:           t.ID,
		RuleID:               t.RuleID,
		Topology:             string(t.Topology),
		Outcome:              string(t.Outcome),
		SourceChainID:        t.Source.ChainID,
		SourceAccountID:      t.Source.AccountID,
		SourceAmount:         t.Source.Amount.String(),
		DestinationChainID:   t.Destination.ChainID,
		DestinationAccountID: t.Destination.AccountID,
		DestinationAmount:    t.Destination.Amount.String(),
		LastLeg:              string(t.Stage.Leg),
		FinishedAt:           t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Map flattens the payload for OutboxEvent.Payload.
func (e TransferFinishedEvent) Map() map[string]any {
	return map[string]any{
		"transfer_id":            e.TransferID,
		"rule_id":                e.RuleID,
		"topology":               e.Topology,
		"outcome":                e.Outcome,
		"source_chain_id":        e.SourceChainID,
		"source_account_id":      e.SourceAccountID,
		"source_amount":          e.SourceAmount,
		"destination_chain_id":   e.DestinationChainID,
		"destination_account_id": e.DestinationAccountID,
		"destination_amount":     e.DestinationAmount,
		"last_leg":               e.LastLeg,
		"finished_at":            e.FinishedAt,
	}
}
