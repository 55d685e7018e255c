package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/infrastructure/postgres/generated"
	"github.com/iho/xledger/internal/usecase"
)

// TransferRepository implements usecase.TransferRepository.
type TransferRepository struct {
	queries *generated.Queries
}

// NewTransferRepository creates a new TransferRepository on a pool.
func NewTransferRepository(db generated.DBTX) *TransferRepository {
	return &TransferRepository{queries: generated.New(db)}
}

// Save upserts the snapshot. A stored row with a higher version is kept.
func (r *TransferRepository) Save(ctx context.Context, tx usecase.Transaction, transfer *domain.Transfer) error {
	queries, err := queriesFor(tx)
	if err != nil {
		return err
	}

	source, err := json.Marshal(transfer.Source)
	if err != nil {
		return err
	}
	destination, err := json.Marshal(transfer.Destination)
	if err != nil {
		return err
	}
	history := transfer.History
	if history == nil {
		history = []domain.LegResult{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return err
	}

	return queries.SaveTransfer(ctx, generated.SaveTransferParams{
		ID:                 transfer.ID,
		RuleID:             transfer.RuleID,
		Topology:           string(transfer.Topology),
		Source:             source,
		Destination:        destination,
		SourceChainID:      transfer.Source.ChainID,
		DestinationChainID: transfer.Destination.ChainID,
		StageLeg:           string(transfer.Stage.Leg),
		StageState:         string(transfer.Stage.State),
		Outcome:            string(transfer.Outcome),
		PendingEventRef:    transfer.PendingEventRef,
		PendingSince:       optionalTimestamptz(transfer.PendingSince),
		Version:            transfer.Version,
		History:            historyJSON,
		CreatedAt:          timeToPgTimestamptz(transfer.CreatedAt),
		UpdatedAt:          timeToPgTimestamptz(transfer.UpdatedAt),
	})
}

// GetByID retrieves a transfer by ID.
func (r *TransferRepository) GetByID(ctx context.Context, id string) (*domain.Transfer, error) {
	row, err := r.queries.GetTransferByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransferNotFound
		}

		return nil, err
	}

	return rowToTransfer(row)
}

// List returns transfers matching filter, newest first.
func (r *TransferRepository) List(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	limit, offset := domain.ValidatePagination(filter.Limit, filter.Offset)

	rows, err := r.queries.ListTransfers(ctx, generated.ListTransfersParams{
		ChainID:  filter.ChainID,
		RuleID:   filter.RuleID,
		Leg:      string(filter.Leg),
		State:    string(filter.State),
		Outcome:  string(filter.Outcome),
		InFlight: filter.InFlight,
		Limit:    int32(limit),
		Offset:   int32(offset),
	})
	if err != nil {
		return nil, err
	}

	return rowsToTransfers(rows)
}

// ListInFlight returns transfers without an outcome plus fatal recovery failures.
func (r *TransferRepository) ListInFlight(ctx context.Context) ([]*domain.Transfer, error) {
	rows, err := r.queries.ListInFlightTransfers(ctx)
	if err != nil {
		return nil, err
	}

	return rowsToTransfers(rows)
}

func rowsToTransfers(rows []generated.Transfer) ([]*domain.Transfer, error) {
	transfers := make([]*domain.Transfer, 0, len(rows))
	for _, row := range rows {
		t, err := rowToTransfer(row)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}

	return transfers, nil
}

func rowToTransfer(row generated.Transfer) (*domain.Transfer, error) {
	t := &domain.Transfer{
		ID:              row.ID,
		RuleID:          row.RuleID,
		Topology:        domain.Topology(row.Topology),
		Stage:           domain.Stage{Leg: domain.Leg(row.StageLeg), State: domain.LegState(row.StageState)},
		Outcome:         domain.Outcome(row.Outcome),
		PendingEventRef: row.PendingEventRef,
		Version:         row.Version,
		CreatedAt:       row.CreatedAt.Time,
		UpdatedAt:       row.UpdatedAt.Time,
	}
	if row.PendingSince.Valid {
		t.PendingSince = row.PendingSince.Time
	}

	if err := json.Unmarshal(row.Source, &t.Source); err != nil {
		return nil, fmt.Errorf("decode source of %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Destination, &t.Destination); err != nil {
		return nil, fmt.Errorf("decode destination of %s: %w", row.ID, err)
	}
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, &t.History); err != nil {
			return nil, fmt.Errorf("decode history of %s: %w", row.ID, err)
		}
	}

	return t, nil
}
