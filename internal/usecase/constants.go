package usecase

import "time"

const (
	// DefaultTransactionTimeout is the maximum duration for a journal write.
	DefaultTransactionTimeout = 10 * time.Second

	// DefaultLegSubmitTimeout bounds the precheck and invocation of one leg.
	DefaultLegSubmitTimeout = time.Minute

	// IdempotencyKeyTTL is how long idempotency keys are cached
	IdempotencyKeyTTL = 24 * time.Hour

	// DefaultEarlyEventTTL bounds how long an unmatched event waits for the
	// submission that will claim it.
	DefaultEarlyEventTTL = 30 * time.Second

	// DefaultEarlyEventCapacity bounds the number of buffered unmatched events.
	DefaultEarlyEventCapacity = 1024
)
