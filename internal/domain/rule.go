package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AssetTypeNumber marks fungible balances that are checked before a leg.
const AssetTypeNumber = "number"

var hundred = decimal.NewFromInt(100)

// RuleChain is one side of a conversion rule.
type RuleChain struct {
	ChainID             string `json:"chain_id" yaml:"chain_id"`
	AssetType           string `json:"asset_type" yaml:"asset_type"`
	EscrowAccountID     string `json:"escrow_account_id,omitempty" yaml:"escrow_account_id"`
	SettlementAccountID string `json:"settlement_account_id" yaml:"settlement_account_id"`
}

// ConversionRule converts a source amount into a destination amount and
// names the accounts a transfer moves through.
type ConversionRule struct {
	ID          string
	Name        string
	Source      RuleChain
	Destination RuleChain
	// Rate is a percentage; 100 converts one to one.
	Rate       decimal.Decimal
	Commission decimal.Decimal
}

// Normalize applies the default rate and commission.
func (r *ConversionRule) Normalize() {
	if r.Rate.IsZero() {
		r.Rate = hundred
	}
	if r.Commission.IsNegative() {
		r.Commission = decimal.Zero
	}
}

// Convert returns (amount - commission) * rate / 100.
func (r *ConversionRule) Convert(amount decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	rate := r.Rate
	if rate.IsZero() {
		rate = hundred
	}

	out := amount.Sub(r.Commission).Mul(rate).Div(hundred)
	if out.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%w: commission %s consumes amount %s", ErrInvalidAmount, r.Commission, amount)
	}

	return out, nil
}

// Validate checks the accounts named by the rule itself.
func (r *ConversionRule) Validate() error {
	if r.Source.ChainID == "" || r.Destination.ChainID == "" {
		return fmt.Errorf("%w: rule %s needs both chains", ErrUnknownChain, r.ID)
	}
	if r.Source.EscrowAccountID != "" && r.Source.EscrowAccountID == r.Source.SettlementAccountID {
		return overlap("escrow account equals source settlement account")
	}
	if r.Rate.IsNegative() {
		return fmt.Errorf("%w: negative rate", ErrInvalidAmount)
	}
	return nil
}

// NewTransfer builds an unstarted transfer following the rule.
func (r *ConversionRule) NewTransfer(id, sourceAccount, destinationAccount string, amount decimal.Decimal) (*Transfer, error) {
	converted, err := r.Convert(amount)
	if err != nil {
		return nil, err
	}

	return &Transfer{
		ID:       id,
		RuleID:   r.ID,
		Topology: TopologyFor(r.Source.EscrowAccountID),
		Source: Endpoint{
			ChainID:             r.Source.ChainID,
			AccountID:           sourceAccount,
			AssetType:           r.Source.AssetType,
			EscrowAccountID:     r.Source.EscrowAccountID,
			SettlementAccountID: r.Source.SettlementAccountID,
			Amount:              amount,
		},
		Destination: Endpoint{
			ChainID:             r.Destination.ChainID,
			AccountID:           destinationAccount,
			AssetType:           r.Destination.AssetType,
			SettlementAccountID: r.Destination.SettlementAccountID,
			Amount:              converted,
		},
	}, nil
}
