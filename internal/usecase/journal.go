package usecase

import (
	"context"
	"fmt"

	"github.com/iho/xledger/internal/domain"
)

// TransferJournal persists transfer snapshots and, on finalization, a
// terminal outbox event in the same database transaction.
type TransferJournal struct {
	txManager    TransactionManager
	transferRepo TransferRepository
	outboxRepo   OutboxRepository
	retrier      Retrier
	idGen        IDGenerator
}

// NewTransferJournal creates a new TransferJournal.
func NewTransferJournal(
	txManager TransactionManager,
	transferRepo TransferRepository,
	outboxRepo OutboxRepository,
	retrier Retrier,
	idGen IDGenerator,
) *TransferJournal {
	return &TransferJournal{
		txManager:    txManager,
		transferRepo: transferRepo,
		outboxRepo:   outboxRepo,
		retrier:      retrier,
		idGen:        idGen,
	}
}

// Record saves the snapshot. Older versions than the stored one are ignored
// by the repository.
func (j *TransferJournal) Record(ctx context.Context, transfer *domain.Transfer) error {
	return j.retrier.Retry(ctx, func() error {
		return j.record(ctx, transfer)
	})
}

func (j *TransferJournal) record(ctx context.Context, transfer *domain.Transfer) error {
	tx, err := j.txManager.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin journal tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := j.transferRepo.Save(ctx, tx, transfer); err != nil {
		return fmt.Errorf("save transfer %s: %w", transfer.ID, err)
	}

	if eventType, ok := domain.EventTypeFor(transfer.Outcome); ok {
		event := &domain.OutboxEvent{
			ID:            j.idGen.Generate(),
			AggregateID:   transfer.ID,
			AggregateType: domain.AggregateTypeTransfer,
			EventType:     eventType,
			Payload:       domain.NewTransferFinishedEvent(transfer).Map(),
			CreatedAt:     transfer.UpdatedAt,
		}
		if err := j.outboxRepo.Create(ctx, tx, event); err != nil {
			return fmt.Errorf("create outbox event: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Get returns the last recorded snapshot.
func (j *TransferJournal) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	return j.transferRepo.GetByID(ctx, id)
}

// List returns recorded snapshots matching filter.
func (j *TransferJournal) List(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	return j.transferRepo.List(ctx, filter)
}

// LoadInFlight returns snapshots that still need the coordinator.
func (j *TransferJournal) LoadInFlight(ctx context.Context) ([]*domain.Transfer, error) {
	return j.transferRepo.ListInFlight(ctx)
}
