package usecase

import (
	"fmt"

	"github.com/iho/xledger/internal/domain"
)

// RecoveryDecision is what the coordinator does after a leg failure.
type RecoveryDecision struct {
	// Compensate names the compensating leg to submit; empty when terminal.
	Compensate domain.Leg
	Terminal   domain.Outcome
	// Keep reports that the record must stay in the store.
	Keep bool
	// Err is the surfaced failure, nil for failures that moved no funds.
	Err error
}

// RecoveryPlanner decides the compensating action for a failed leg. It only
// follows compensation edges modeled in the plan and never retries a leg.
type RecoveryPlanner struct{}

// NewRecoveryPlanner creates a new RecoveryPlanner.
func NewRecoveryPlanner() *RecoveryPlanner {
	return &RecoveryPlanner{}
}

// Plan returns the decision for failed on transfer t.
func (p *RecoveryPlanner) Plan(t *domain.Transfer, failed domain.Leg) (RecoveryDecision, error) {
	tr, err := t.Plan().Next(failed, domain.LegFailed)
	if err != nil {
		return RecoveryDecision{}, err
	}

	if !tr.IsTerminal() {
		if !tr.Compensation {
			return RecoveryDecision{}, fmt.Errorf("%w: failure of %s leads forward to %s", domain.ErrInvalidTransition, failed, tr.Next)
		}
		return RecoveryDecision{Compensate: tr.Next}, nil
	}

	return RecoveryDecision{
		Terminal: tr.Terminal,
		Keep:     !tr.Terminal.Evictable(),
		Err:      tr.Terminal.Surfaced(),
	}, nil
}
