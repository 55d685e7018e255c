package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Leg is one elementary ledger operation within a transfer.
type Leg string

const (
	LegEscrow           Leg = "escrow"
	LegDirectSettlement Leg = "direct_settlement"
	LegCredit           Leg = "credit"
	LegRelease          Leg = "release"
	LegRecovery         Leg = "recovery"
)

// LegState is the sub-state of the current leg.
type LegState string

const (
	LegPending   LegState = "pending"
	LegConfirmed LegState = "confirmed"
	LegFailed    LegState = "failed"
)

// Stage is the position of a transfer in its plan. The zero value is Initial.
type Stage struct {
	Leg   Leg      `json:"leg"`
	State LegState `json:"state"`
}

// StageInitial is the stage of a transfer whose first leg has not been submitted.
var StageInitial = Stage{}

// IsInitial reports whether no leg has been submitted yet.
func (s Stage) IsInitial() bool {
	return s == StageInitial
}

func (s Stage) String() string {
	if s.IsInitial() {
		return "initial"
	}
	return string(s.Leg) + "." + string(s.State)
}

// Outcome is the terminal result of a transfer. Empty while in flight.
type Outcome string

const (
	OutcomeNone                   Outcome = ""
	OutcomeCompleted              Outcome = "completed"
	OutcomeEscrowFailed           Outcome = "escrow_failed"
	OutcomeDirectSettlementFailed Outcome = "direct_settlement_failed"
	OutcomeCompensationConfirmed  Outcome = "compensation_confirmed"
	OutcomeUncompensatedFailure   Outcome = "uncompensated_failure"
	OutcomeRecoveryFailed         Outcome = "recovery_failed"
)

// Terminal reports whether the outcome ends the saga.
func (o Outcome) Terminal() bool {
	return o != OutcomeNone
}

// Evictable reports whether a transfer with this outcome leaves the store.
// Fatal recovery failures stay for manual intervention.
func (o Outcome) Evictable() bool {
	return o.Terminal() && o != OutcomeRecoveryFailed
}

// Surfaced returns the error operators must see for this outcome, or nil.
func (o Outcome) Surfaced() error {
	switch o {
	case OutcomeUncompensatedFailure:
		return ErrUncompensatedFailure
	case OutcomeRecoveryFailed:
		return ErrFatalRecoveryFailure
	default:
		return nil
	}
}

// Endpoint describes one side of a transfer.
type Endpoint struct {
	ChainID             string          `json:"chain_id"`
	AccountID           string          `json:"account_id"`
	AssetType           string          `json:"asset_type"`
	EscrowAccountID     string          `json:"escrow_account_id,omitempty"`
	SettlementAccountID string          `json:"settlement_account_id"`
	Amount              decimal.Decimal `json:"amount"`
}

// LegResult is one entry of the append-only leg history.
type LegResult struct {
	Leg      Leg             `json:"leg"`
	State    LegState        `json:"state"`
	ChainID  string          `json:"chain_id"`
	EventRef string          `json:"event_ref,omitempty"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"amount"`
	Raw      json.RawMessage `json:"raw,omitempty"`
	Error    string          `json:"error,omitempty"`
	At       time.Time       `json:"at"`
}

// Transfer is the saga record of one cross-ledger transfer.
type Transfer struct {
	ID              string
	RuleID          string
	Topology        Topology
	Source          Endpoint
	Destination     Endpoint
	Stage           Stage
	Outcome         Outcome
	PendingEventRef string
	PendingSince    time.Time
	Version         int64
	History         []LegResult
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Plan returns the immutable plan the transfer follows.
func (t *Transfer) Plan() *TransferPlan {
	return PlanFor(t.Topology)
}

// Clone returns a deep copy safe to hand outside the store.
func (t *Transfer) Clone() *Transfer {
	if t == nil {
		return nil
	}
	c := *t
	if t.History != nil {
		c.History = make([]LegResult, len(t.History))
		for i, r := range t.History {
			if r.Raw != nil {
				r.Raw = append(json.RawMessage(nil), r.Raw...)
			}
			c.History[i] = r
		}
	}
	return &c
}

// IsPending reports whether the transfer waits for a ledger event.
func (t *Transfer) IsPending() bool {
	return t.Stage.State == LegPending && t.Outcome == OutcomeNone
}

// Validate checks the account-overlap constraints and amounts.
func (t *Transfer) Validate() error {
	src, dst := t.Source, t.Destination

	if src.Amount.LessThanOrEqual(decimal.Zero) || dst.Amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	if err := ValidateID(src.AccountID); err != nil {
		return err
	}
	if err := ValidateID(dst.AccountID); err != nil {
		return err
	}

	switch {
	case src.AccountID == src.SettlementAccountID:
		return overlap("source account equals source settlement account")
	case src.EscrowAccountID != "" && src.AccountID == src.EscrowAccountID:
		return overlap("source account equals escrow account")
	case src.EscrowAccountID != "" && src.EscrowAccountID == src.SettlementAccountID:
		return overlap("escrow account equals source settlement account")
	case dst.AccountID == src.SettlementAccountID:
		return overlap("destination account equals source settlement account")
	case dst.AccountID == dst.SettlementAccountID:
		return overlap("destination account equals destination settlement account")
	}

	return nil
}

// AppendResult records a leg transition in the history.
func (t *Transfer) AppendResult(r LegResult) {
	t.History = append(t.History, r)
}

// LastResult returns the latest history entry for leg.
func (t *Transfer) LastResult(leg Leg) (LegResult, bool) {
	for i := len(t.History) - 1; i >= 0; i-- {
		if t.History[i].Leg == leg {
			return t.History[i], true
		}
	}
	return LegResult{}, false
}
