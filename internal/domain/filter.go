package domain

// TransferFilter selects transfers for list queries. Empty fields match all.
type TransferFilter struct {
	ChainID string
	RuleID  string
	Leg     Leg
	State   LegState
	Outcome Outcome
	// InFlight restricts results to transfers without an outcome.
	InFlight bool
	Limit    int
	Offset   int
}

// Matches reports whether t satisfies every set field.
func (f TransferFilter) Matches(t *Transfer) bool {
	if f.ChainID != "" && t.Source.ChainID != f.ChainID && t.Destination.ChainID != f.ChainID {
		return false
	}
	if f.RuleID != "" && t.RuleID != f.RuleID {
		return false
	}
	if f.Leg != "" && t.Stage.Leg != f.Leg {
		return false
	}
	if f.State != "" && t.Stage.State != f.State {
		return false
	}
	if f.Outcome != "" && t.Outcome != f.Outcome {
		return false
	}
	if f.InFlight && t.Outcome.Terminal() {
		return false
	}
	return true
}
