package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Topology selects the leg graph of a transfer.
type Topology string

const (
	TopologyEscrow      Topology = "escrow"
	TopologyDirectDebit Topology = "direct_debit"
)

// TopologyFor returns the topology implied by the presence of an escrow account.
func TopologyFor(escrowAccountID string) Topology {
	if escrowAccountID == "" {
		return TopologyDirectDebit
	}
	return TopologyEscrow
}

// Side names the ledger a leg runs on.
type Side int

const (
	SideSource Side = iota
	SideDestination
)

// Gateway methods used by legs.
const (
	MethodTransfer = "transfer"
	MethodPayment  = "payment"
	MethodBalance  = "balance"
)

// LegSpec describes how one leg is submitted and how its event is read.
type LegSpec struct {
	Leg    Leg
	Side   Side
	Method string
	From   func(*Transfer) string
	To     func(*Transfer) string
	Amount func(*Transfer) decimal.Decimal
	// Precheck returns the account whose balance must cover Amount before
	// submission. Nil skips the check.
	Precheck  func(*Transfer) string
	Interpret PayloadInterpreter
}

// ChainID returns the chain the leg runs on.
func (s LegSpec) ChainID(t *Transfer) string {
	if s.Side == SideDestination {
		return t.Destination.ChainID
	}
	return t.Source.ChainID
}

// AssetType returns the asset type moved by the leg.
func (s LegSpec) AssetType(t *Transfer) string {
	if s.Side == SideDestination {
		return t.Destination.AssetType
	}
	return t.Source.AssetType
}

// Transition is the result of TransferPlan.Next: either a next leg or a
// terminal outcome.
type Transition struct {
	Next         Leg
	Compensation bool
	Terminal     Outcome
}

// IsTerminal reports whether the transition ends the saga.
func (tr Transition) IsTerminal() bool {
	return tr.Terminal.Terminal()
}

type edge struct {
	leg    Leg
	result LegState
}

// TransferPlan is the immutable leg graph of one topology.
type TransferPlan struct {
	topology Topology
	first    Leg
	legs     map[Leg]LegSpec
	edges    map[edge]Transition
}

// Topology returns the plan's topology.
func (p *TransferPlan) Topology() Topology { return p.topology }

// First returns the leg submitted by Start.
func (p *TransferPlan) First() Leg { return p.first }

// Spec returns the submission spec for leg.
func (p *TransferPlan) Spec(leg Leg) (LegSpec, bool) {
	s, ok := p.legs[leg]
	return s, ok
}

// Next returns where the saga goes after leg resolves with result.
// It has no side effects.
func (p *TransferPlan) Next(leg Leg, result LegState) (Transition, error) {
	tr, ok := p.edges[edge{leg: leg, result: result}]
	if !ok {
		return Transition{}, fmt.Errorf("%w: %s has no %s.%s edge", ErrInvalidTransition, p.topology, leg, result)
	}
	return tr, nil
}

// PlanPath is one reachable sequence of stages ending in a terminal outcome.
type PlanPath struct {
	Stages  []Stage
	Outcome Outcome
}

// Paths enumerates every reachable stage sequence of the plan.
func (p *TransferPlan) Paths() []PlanPath {
	var out []PlanPath

	var walk func(leg Leg, prefix []Stage)
	walk = func(leg Leg, prefix []Stage) {
		pending := append(append([]Stage(nil), prefix...), Stage{Leg: leg, State: LegPending})
		for _, result := range []LegState{LegConfirmed, LegFailed} {
			tr, err := p.Next(leg, result)
			if err != nil {
				continue
			}
			stages := append(append([]Stage(nil), pending...), Stage{Leg: leg, State: result})
			if tr.IsTerminal() {
				out = append(out, PlanPath{Stages: stages, Outcome: tr.Terminal})
				continue
			}
			walk(tr.Next, stages)
		}
	}
	walk(p.first, []Stage{StageInitial})

	return out
}

func sourceAccount(t *Transfer) string      { return t.Source.AccountID }
func escrowAccount(t *Transfer) string      { return t.Source.EscrowAccountID }
func sourceSettlement(t *Transfer) string   { return t.Source.SettlementAccountID }
func destinationAccount(t *Transfer) string { return t.Destination.AccountID }
func destSettlement(t *Transfer) string     { return t.Destination.SettlementAccountID }

func sourceAmount(t *Transfer) decimal.Decimal      { return t.Source.Amount }
func destinationAmount(t *Transfer) decimal.Decimal { return t.Destination.Amount }

var creditSpec = LegSpec{
	Leg:       LegCredit,
	Side:      SideDestination,
	Method:    MethodPayment,
	From:      destSettlement,
	To:        destinationAccount,
	Amount:    destinationAmount,
	Precheck:  destSettlement,
	Interpret: StatusInterpreter,
}

var escrowPlan = &TransferPlan{
	topology: TopologyEscrow,
	first:    LegEscrow,
	legs: map[Leg]LegSpec{
		LegEscrow: {
			Leg: LegEscrow, Side: SideSource, Method: MethodTransfer,
			From: sourceAccount, To: escrowAccount, Amount: sourceAmount,
			Precheck: sourceAccount, Interpret: StatusInterpreter,
		},
		LegCredit: creditSpec,
		LegRelease: {
			Leg: LegRelease, Side: SideSource, Method: MethodTransfer,
			From: escrowAccount, To: sourceSettlement, Amount: sourceAmount,
			Interpret: StatusInterpreter,
		},
		LegRecovery: {
			Leg: LegRecovery, Side: SideSource, Method: MethodTransfer,
			From: escrowAccount, To: sourceAccount, Amount: sourceAmount,
			Interpret: StatusInterpreter,
		},
	},
	edges: map[edge]Transition{
		{LegEscrow, LegConfirmed}:   {Next: LegCredit},
		{LegEscrow, LegFailed}:      {Terminal: OutcomeEscrowFailed},
		{LegCredit, LegConfirmed}:   {Next: LegRelease},
		{LegCredit, LegFailed}:      {Next: LegRecovery, Compensation: true},
		{LegRelease, LegConfirmed}:  {Terminal: OutcomeCompleted},
		{LegRelease, LegFailed}:     {Terminal: OutcomeUncompensatedFailure},
		{LegRecovery, LegConfirmed}: {Terminal: OutcomeCompensationConfirmed},
		{LegRecovery, LegFailed}:    {Terminal: OutcomeRecoveryFailed},
	},
}

var directDebitPlan = &TransferPlan{
	topology: TopologyDirectDebit,
	first:    LegDirectSettlement,
	legs: map[Leg]LegSpec{
		LegDirectSettlement: {
			Leg: LegDirectSettlement, Side: SideSource, Method: MethodTransfer,
			From: sourceAccount, To: sourceSettlement, Amount: sourceAmount,
			Precheck: sourceAccount, Interpret: StatusInterpreter,
		},
		LegCredit: creditSpec,
	},
	edges: map[edge]Transition{
		{LegDirectSettlement, LegConfirmed}: {Next: LegCredit},
		{LegDirectSettlement, LegFailed}:    {Terminal: OutcomeDirectSettlementFailed},
		{LegCredit, LegConfirmed}:           {Terminal: OutcomeCompleted},
		{LegCredit, LegFailed}:              {Terminal: OutcomeUncompensatedFailure},
	},
}

// PlanFor returns the shared plan of a topology. Unknown topologies fall
// back to direct debit, the topology with no escrow account.
func PlanFor(t Topology) *TransferPlan {
	if t == TopologyEscrow {
		return escrowPlan
	}
	return directDebitPlan
}
