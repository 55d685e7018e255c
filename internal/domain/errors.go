package domain

import "errors"

var (
	// Creation errors
	ErrDuplicateID       = errors.New("transfer id already exists")
	ErrAccountOverlap    = errors.New("transfer accounts overlap")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrRuleNotFound      = errors.New("conversion rule not found")
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrUnknownChain      = errors.New("unknown chain")
	ErrInvalidTransition = errors.New("invalid leg transition")

	// Leg errors
	ErrAdapterInvocation = errors.New("ledger adapter invocation failed")
	ErrInsufficientAsset = errors.New("insufficient asset for leg")
	ErrLegExpired        = errors.New("leg expired before confirmation")

	// Correlation errors. Both are benign and dropped by event consumers.
	ErrCorrelationMiss = errors.New("event matched no pending transfer")
	ErrStaleUpdate     = errors.New("transfer changed or was finalized concurrently")

	// Surfaced terminal failures
	ErrUncompensatedFailure = errors.New("leg failed with no compensation; manual reconciliation required")
	ErrFatalRecoveryFailure = errors.New("compensation leg failed; manual intervention required")
)
