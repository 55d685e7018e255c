package memory

import (
	"container/list"
	"context"
	"sync"

	"github.com/iho/xledger/internal/domain"
)

// DefaultJournalCapacity bounds the finalized transfers a Journal retains.
const DefaultJournalCapacity = 10000

// Journal implements usecase.Journal and usecase.TransferSource in process,
// for deployments without a database. In-flight snapshots are always kept;
// finalized ones are dropped oldest first beyond the capacity.
type Journal struct {
	mu       sync.Mutex
	capacity int
	records  map[string]*domain.Transfer
	finished *list.List
	position map[string]*list.Element
}

// NewJournal creates a Journal. capacity <= 0 uses DefaultJournalCapacity.
func NewJournal(capacity int) *Journal {
	if capacity <= 0 {
		capacity = DefaultJournalCapacity
	}
	return &Journal{
		capacity: capacity,
		records:  make(map[string]*domain.Transfer),
		finished: list.New(),
		position: make(map[string]*list.Element),
	}
}

// Record stores the snapshot unless a newer version is already held.
func (j *Journal) Record(ctx context.Context, transfer *domain.Transfer) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if prev, ok := j.records[transfer.ID]; ok && prev.Version > transfer.Version {
		return nil
	}
	j.records[transfer.ID] = transfer.Clone()

	if transfer.Outcome.Evictable() {
		if _, seen := j.position[transfer.ID]; !seen {
			j.position[transfer.ID] = j.finished.PushBack(transfer.ID)
		}
		for j.finished.Len() > j.capacity {
			oldest := j.finished.Front()
			id := oldest.Value.(string)
			j.finished.Remove(oldest)
			delete(j.position, id)
			delete(j.records, id)
		}
	}

	return nil
}

// Get returns the latest snapshot of id.
func (j *Journal) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	t, ok := j.records[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	return t.Clone(), nil
}

// List returns snapshots matching filter, newest first.
func (j *Journal) List(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	j.mu.Lock()
	out := make([]*domain.Transfer, 0, len(j.records))
	for _, t := range j.records {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	j.mu.Unlock()

	return paginate(out, filter), nil
}

// LoadInFlight returns transfers that still need the coordinator.
func (j *Journal) LoadInFlight(ctx context.Context) ([]*domain.Transfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []*domain.Transfer
	for _, t := range j.records {
		if !t.Outcome.Evictable() {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

// Len returns the number of retained snapshots.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}
