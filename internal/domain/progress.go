package domain

// Progress values used by ledger-backed transfer registries.
const (
	ProgressInitial             = "initial"
	ProgressRequestMargin       = "requestMargin"
	ProgressFixedMargin         = "fixedMargin"
	ProgressFailedMargin        = "failedMargin"
	ProgressRequestDirectFreeze = "requestDirectFreeze"
	ProgressFixedDirectFreeze   = "fixedDirectFreeze"
	ProgressFailedDirectFreeze  = "failedDirectFreeze"
	ProgressRequestCredit       = "requestCredit"
	ProgressFixedCredit         = "fixedCredit"
	ProgressFailedCredit        = "failedCredit"
	ProgressRequestRecovery     = "requestRecovery"
	ProgressFixedRecovery       = "fixedRecovery"
	ProgressFailedRecovery      = "failedRecovery"
	ProgressRequestFreeze       = "requestFreeze"
	ProgressFixedFreeze         = "fixedFreeze"
	ProgressFailedFreeze        = "failedFreeze"
	ProgressComplete            = "complete"
)

var stageProgress = map[Stage]string{
	{LegEscrow, LegPending}:             ProgressRequestMargin,
	{LegEscrow, LegConfirmed}:           ProgressFixedMargin,
	{LegEscrow, LegFailed}:              ProgressFailedMargin,
	{LegDirectSettlement, LegPending}:   ProgressRequestDirectFreeze,
	{LegDirectSettlement, LegConfirmed}: ProgressFixedDirectFreeze,
	{LegDirectSettlement, LegFailed}:    ProgressFailedDirectFreeze,
	{LegCredit, LegPending}:             ProgressRequestCredit,
	{LegCredit, LegConfirmed}:           ProgressFixedCredit,
	{LegCredit, LegFailed}:              ProgressFailedCredit,
	{LegRecovery, LegPending}:           ProgressRequestRecovery,
	{LegRecovery, LegConfirmed}:         ProgressFixedRecovery,
	{LegRecovery, LegFailed}:            ProgressFailedRecovery,
	{LegRelease, LegPending}:            ProgressRequestFreeze,
	{LegRelease, LegConfirmed}:          ProgressFixedFreeze,
	{LegRelease, LegFailed}:             ProgressFailedFreeze,
}

var progressStage = func() map[string]Stage {
	m := make(map[string]Stage, len(stageProgress)+1)
	for s, p := range stageProgress {
		m[p] = s
	}
	m[ProgressInitial] = StageInitial
	return m
}()

// InFlightProgress lists the progress values of transfers that still need
// the coordinator, in the order a registry is replayed on boot.
var InFlightProgress = []string{
	ProgressInitial,
	ProgressRequestMargin, ProgressFixedMargin,
	ProgressRequestDirectFreeze, ProgressFixedDirectFreeze,
	ProgressRequestCredit, ProgressFixedCredit, ProgressFailedCredit,
	ProgressRequestRecovery, ProgressRequestFreeze,
	ProgressFailedRecovery,
}

// ProgressOf returns the registry progress value of a transfer.
func ProgressOf(t *Transfer) string {
	if t.Outcome == OutcomeCompleted {
		return ProgressComplete
	}
	if t.Stage.IsInitial() {
		return ProgressInitial
	}
	return stageProgress[t.Stage]
}

// StageFromProgress maps a registry progress value back to a stage.
// ProgressComplete is terminal and has no stage.
func StageFromProgress(progress string) (Stage, bool) {
	s, ok := progressStage[progress]
	return s, ok
}
