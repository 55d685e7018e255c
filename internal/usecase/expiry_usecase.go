package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/xledger/internal/domain"
)

// LegExpirer injects a leg-expired signal.
type LegExpirer interface {
	Expire(ctx context.Context, chainID, eventRef string) error
}

// ExpiryUseCase fails legs that waited longer than maxAge for their event.
type ExpiryUseCase struct {
	store   TransferStore
	expirer LegExpirer
	maxAge  time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// NewExpiryUseCase creates a new ExpiryUseCase.
func NewExpiryUseCase(store TransferStore, expirer LegExpirer, maxAge time.Duration, logger zerolog.Logger) *ExpiryUseCase {
	return &ExpiryUseCase{
		store:   store,
		expirer: expirer,
		maxAge:  maxAge,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger.With().Str("component", "expiry").Logger(),
	}
}

// ExpireStale expires every pending leg older than maxAge and returns how
// many signals were accepted.
func (uc *ExpiryUseCase) ExpireStale(ctx context.Context) (int, error) {
	if uc.maxAge <= 0 {
		return 0, nil
	}

	stale, err := uc.store.ListPendingBefore(ctx, uc.now().Add(-uc.maxAge))
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, t := range stale {
		spec, ok := t.Plan().Spec(t.Stage.Leg)
		if !ok {
			continue
		}

		err := uc.expirer.Expire(ctx, spec.ChainID(t), t.PendingEventRef)
		switch {
		case err == nil:
			expired++
			uc.logger.Warn().
				Str("transfer_id", t.ID).
				Str("leg", string(t.Stage.Leg)).
				Str("event_ref", t.PendingEventRef).
				Time("pending_since", t.PendingSince).
				Msg("leg expired")
		case errors.Is(err, domain.ErrCorrelationMiss), errors.Is(err, domain.ErrStaleUpdate):
			// resolved between the scan and the signal
		default:
			uc.logger.Error().Err(err).Str("transfer_id", t.ID).Msg("expire leg failed")
		}
	}

	return expired, nil
}
