package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/iho/xledger/internal/domain"
)

// SagaResumer continues a transfer loaded from durable state.
type SagaResumer interface {
	Resume(ctx context.Context, transfer *domain.Transfer) error
}

// Rehydrator restores in-flight transfers into the store on boot.
type Rehydrator struct {
	source  TransferSource
	store   TransferStore
	resumer SagaResumer
	logger  zerolog.Logger
}

// NewRehydrator creates a new Rehydrator.
func NewRehydrator(source TransferSource, store TransferStore, resumer SagaResumer, logger zerolog.Logger) *Rehydrator {
	return &Rehydrator{
		source:  source,
		store:   store,
		resumer: resumer,
		logger:  logger.With().Str("component", "rehydrator").Logger(),
	}
}

// Run loads every non-terminal transfer plus kept fatal failures, then
// resumes the ones that are not waiting for an event. It returns the number
// of records restored.
func (r *Rehydrator) Run(ctx context.Context) (int, error) {
	transfers, err := r.source.LoadInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("load in-flight transfers: %w", err)
	}

	restored := make([]*domain.Transfer, 0, len(transfers))
	for _, t := range transfers {
		if t.Outcome.Terminal() && t.Outcome.Evictable() {
			continue
		}
		if err := r.store.Create(ctx, t); err != nil {
			if errors.Is(err, domain.ErrDuplicateID) {
				continue
			}
			return len(restored), err
		}
		restored = append(restored, t)
	}

	for _, t := range restored {
		current, err := r.store.Get(ctx, t.ID)
		if err != nil {
			continue
		}
		if err := r.resumer.Resume(ctx, current); err != nil {
			r.logger.Error().Err(err).Str("transfer_id", t.ID).Msg("resume failed")
		}
	}

	r.logger.Info().Int("loaded", len(transfers)).Int("restored", len(restored)).Msg("rehydration finished")

	return len(restored), nil
}
