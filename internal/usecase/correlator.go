package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/iho/xledger/internal/domain"
)

// EventCorrelator maps a ledger event to the one pending transfer waiting
// for it.
type EventCorrelator struct {
	store  TransferStore
	logger zerolog.Logger
}

// NewEventCorrelator creates a new EventCorrelator.
func NewEventCorrelator(store TransferStore, logger zerolog.Logger) *EventCorrelator {
	return &EventCorrelator{
		store:  store,
		logger: logger.With().Str("component", "correlator").Logger(),
	}
}

// Correlate returns the transfer whose pending ref equals the event ref.
//
// Only the ref is compared, never the payload. Pending refs are unique per
// chain, so the first match is the only match. A miss is not an error.
func (c *EventCorrelator) Correlate(ctx context.Context, event domain.LedgerEvent) (*domain.Transfer, bool, error) {
	if event.EventRef == "" {
		return nil, false, nil
	}

	candidates, err := c.store.ScanPendingByChain(ctx, event.ChainID)
	if err != nil {
		return nil, false, err
	}

	for _, t := range candidates {
		if t.PendingEventRef == event.EventRef {
			return t, true, nil
		}
	}

	c.logger.Debug().
		Str("chain_id", event.ChainID).
		Str("event_ref", event.EventRef).
		Int("candidates", len(candidates)).
		Msg("correlation miss")

	return nil, false, nil
}
