package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/iho/xledger/internal/domain"
)

// TransferStore is the authoritative in-flight record of every transfer.
type TransferStore interface {
	// Create fails with domain.ErrDuplicateID if the id is present.
	Create(ctx context.Context, transfer *domain.Transfer) error
	Get(ctx context.Context, id string) (*domain.Transfer, error)
	// Update applies mutate atomically per record. A mutator error aborts the
	// update and is returned unchanged. Evicted records yield
	// domain.ErrTransferNotFound.
	Update(ctx context.Context, id string, mutate func(*domain.Transfer) error) (*domain.Transfer, error)
	ScanPendingByChain(ctx context.Context, chainID string) ([]*domain.Transfer, error)
	Evict(ctx context.Context, id string) error
	List(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*domain.Transfer, error)
}

// LedgerRequest is one call against a ledger contract.
type LedgerRequest struct {
	Contract string         `json:"contract,omitempty"`
	Method   string         `json:"method"`
	Args     map[string]any `json:"args,omitempty"`
}

// InvokeResult is the acknowledgement of a state-changing ledger call.
type InvokeResult struct {
	// CorrelationID is the ref the confirming event will carry. Empty for
	// synchronous adapters.
	CorrelationID string
	Raw           json.RawMessage
}

// EventHandler consumes one ledger event. Returning an error asks the
// subscription to redeliver.
type EventHandler func(ctx context.Context, event domain.LedgerEvent) error

// LedgerGateway reaches one or more ledgers.
type LedgerGateway interface {
	Invoke(ctx context.Context, chainID string, req LedgerRequest) (*InvokeResult, error)
	Query(ctx context.Context, chainID string, req LedgerRequest) (json.RawMessage, error)
	Subscribe(ctx context.Context, chainID string, handler EventHandler) error
}

// RuleRepository resolves conversion rules.
type RuleRepository interface {
	GetByID(ctx context.Context, id string) (*domain.ConversionRule, error)
	List(ctx context.Context) ([]*domain.ConversionRule, error)
}

// TransferRepository is the durable snapshot of transfers.
type TransferRepository interface {
	Save(ctx context.Context, tx Transaction, transfer *domain.Transfer) error
	GetByID(ctx context.Context, id string) (*domain.Transfer, error)
	List(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error)
	ListInFlight(ctx context.Context) ([]*domain.Transfer, error)
}

// OutboxRepository defines data access for outbox events.
type OutboxRepository interface {
	Create(ctx context.Context, tx Transaction, event *domain.OutboxEvent) error
	GetUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, publishedAt time.Time) error
	GetByAggregate(ctx context.Context, aggregateType, aggregateID string, limit, offset int) ([]*domain.OutboxEvent, error)
	DeletePublished(ctx context.Context, before time.Time) error
}

// Journal records every transition durably and serves finalized transfers
// after they leave the store.
type Journal interface {
	Record(ctx context.Context, transfer *domain.Transfer) error
	Get(ctx context.Context, id string) (*domain.Transfer, error)
	List(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error)
}

// TransferSource loads in-flight transfers on boot.
type TransferSource interface {
	LoadInFlight(ctx context.Context) ([]*domain.Transfer, error)
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TransactionManager handles transaction lifecycle.
type TransactionManager interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Retrier retries an operation on transient failures.
type Retrier interface {
	Retry(ctx context.Context, operation func() error) error
}

// IDGenerator generates unique IDs.
type IDGenerator interface {
	Generate() string
}

// Cache defines caching operations.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IdempotencyStore handles idempotency key storage.
type IdempotencyStore interface {
	// CheckAndSet atomically checks if key exists, sets if not.
	// Returns (exists, existingValue, error).
	CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	// Update updates an existing key with the final response.
	Update(ctx context.Context, key string, response []byte, ttl time.Duration) error
}

// SagaMetrics observes coordinator activity.
type SagaMetrics interface {
	LegSubmitted(leg domain.Leg)
	LegResolved(leg domain.Leg, state domain.LegState)
	TransferFinished(outcome domain.Outcome, elapsed time.Duration)
	CorrelationMiss(chainID string)
	EarlyEventReplayed(chainID string)
}
