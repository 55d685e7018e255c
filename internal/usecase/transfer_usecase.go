package usecase

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/xledger/internal/domain"
)

// SagaStarter submits the first leg of a new transfer.
type SagaStarter interface {
	Start(ctx context.Context, transfer *domain.Transfer) error
}

// TransferUseCase is the creation and query boundary for transfers.
type TransferUseCase struct {
	rules   RuleRepository
	store   TransferStore
	journal Journal
	saga    SagaStarter
	idGen   IDGenerator
	logger  zerolog.Logger
}

// NewTransferUseCase creates a new TransferUseCase. journal may be nil.
func NewTransferUseCase(
	rules RuleRepository,
	store TransferStore,
	journal Journal,
	saga SagaStarter,
	idGen IDGenerator,
	logger zerolog.Logger,
) *TransferUseCase {
	return &TransferUseCase{
		rules:   rules,
		store:   store,
		journal: journal,
		saga:    saga,
		idGen:   idGen,
		logger:  logger.With().Str("component", "transfers").Logger(),
	}
}

// CreateTransferInput represents input for creating a transfer.
type CreateTransferInput struct {
	// ID is optional; a ULID is generated when empty.
	ID                 string
	RuleID             string
	SourceAccount      string
	DestinationAccount string
	Amount             decimal.Decimal
}

// TransferStatus is the externally visible state of a transfer.
type TransferStatus struct {
	Transfer *domain.Transfer
	Progress string
	// Failure is the surfaced error of uncompensated or fatal outcomes.
	Failure error
	// Reason is the last recorded leg failure, if any.
	Reason string
}

// CreateTransfer validates a request against its rule and starts the saga.
func (uc *TransferUseCase) CreateTransfer(ctx context.Context, input CreateTransferInput) (*domain.Transfer, error) {
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, domain.ErrInvalidAmount
	}

	rule, err := uc.rules.GetByID(ctx, input.RuleID)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uc.idGen.Generate()
	}
	if err := domain.ValidateID(id); err != nil {
		return nil, err
	}

	transfer, err := rule.NewTransfer(id, input.SourceAccount, input.DestinationAccount, input.Amount)
	if err != nil {
		return nil, err
	}
	if err := transfer.Validate(); err != nil {
		return nil, err
	}

	if err := uc.saga.Start(ctx, transfer); err != nil {
		return nil, err
	}

	started, err := uc.store.Get(ctx, id)
	if err == nil {
		return started, nil
	}
	if !errors.Is(err, domain.ErrTransferNotFound) {
		return nil, err
	}

	// Already finalized and evicted, e.g. a synchronous escrow failure.
	if uc.journal != nil {
		if final, jerr := uc.journal.Get(ctx, id); jerr == nil {
			return final, nil
		}
	}
	return transfer, nil
}

// GetTransferStatus returns the live record, falling back to the journal for
// finalized transfers.
func (uc *TransferUseCase) GetTransferStatus(ctx context.Context, id string) (*TransferStatus, error) {
	t, err := uc.store.Get(ctx, id)
	if errors.Is(err, domain.ErrTransferNotFound) && uc.journal != nil {
		t, err = uc.journal.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	return statusOf(t), nil
}

// ListTransfers returns transfers matching filter, newest first. In-flight
// queries are served by the store; everything else by the journal with live
// records taking precedence.
func (uc *TransferUseCase) ListTransfers(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	filter.Limit, filter.Offset = domain.ValidatePagination(filter.Limit, filter.Offset)

	if filter.InFlight || uc.journal == nil {
		return uc.store.List(ctx, filter)
	}

	durable, err := uc.journal.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	for i, t := range durable {
		live, err := uc.store.Get(ctx, t.ID)
		if err != nil {
			continue
		}
		if live.Version >= t.Version && filter.Matches(live) {
			durable[i] = live
		}
	}

	sort.SliceStable(durable, func(i, j int) bool {
		return durable[i].CreatedAt.After(durable[j].CreatedAt)
	})

	return durable, nil
}

func statusOf(t *domain.Transfer) *TransferStatus {
	status := &TransferStatus{
		Transfer: t,
		Progress: domain.ProgressOf(t),
		Failure:  t.Outcome.Surfaced(),
	}

	for i := len(t.History) - 1; i >= 0; i-- {
		if t.History[i].State == domain.LegFailed {
			status.Reason = t.History[i].Error
			break
		}
	}

	return status
}
