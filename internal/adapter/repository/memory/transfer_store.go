// Package memory holds the in-process transfer store the saga coordinator
// works against.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iho/xledger/internal/domain"
)

type entry struct {
	mu       sync.Mutex
	transfer *domain.Transfer
	evicted  bool
}

// TransferStore implements usecase.TransferStore.
//
// Each record has its own mutex; the store lock only guards the record map
// and the per-chain pending index. Lock order is always entry then store.
type TransferStore struct {
	mu      sync.RWMutex
	records map[string]*entry
	pending map[string]map[string]struct{}
}

// NewTransferStore creates an empty TransferStore.
func NewTransferStore() *TransferStore {
	return &TransferStore{
		records: make(map[string]*entry),
		pending: make(map[string]map[string]struct{}),
	}
}

// Create stores a new transfer.
func (s *TransferStore) Create(ctx context.Context, transfer *domain.Transfer) error {
	t := transfer.Clone()
	if t.Version == 0 {
		t.Version = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[t.ID]; exists {
		return domain.ErrDuplicateID
	}

	s.records[t.ID] = &entry{transfer: t}
	if chain := pendingChain(t); chain != "" {
		s.index(chain, t.ID)
	}

	return nil
}

// Get returns a copy of the transfer.
func (s *TransferStore) Get(ctx context.Context, id string) (*domain.Transfer, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, domain.ErrTransferNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil, domain.ErrTransferNotFound
	}

	return e.transfer.Clone(), nil
}

// Update applies mutate to a working copy under the record lock and commits
// it only when mutate succeeds.
func (s *TransferStore) Update(ctx context.Context, id string, mutate func(*domain.Transfer) error) (*domain.Transfer, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, domain.ErrTransferNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil, domain.ErrTransferNotFound
	}

	work := e.transfer.Clone()
	if err := mutate(work); err != nil {
		return nil, err
	}
	work.ID = e.transfer.ID
	work.Version = e.transfer.Version + 1

	before, after := pendingChain(e.transfer), pendingChain(work)
	e.transfer = work

	if before != after {
		s.mu.Lock()
		if before != "" {
			s.unindex(before, id)
		}
		if after != "" {
			s.index(after, id)
		}
		s.mu.Unlock()
	}

	return work.Clone(), nil
}

// ScanPendingByChain returns the transfers whose current leg waits for an
// event on chainID.
func (s *TransferStore) ScanPendingByChain(ctx context.Context, chainID string) ([]*domain.Transfer, error) {
	s.mu.RLock()
	ids := s.pending[chainID]
	entries := make([]*entry, 0, len(ids))
	for id := range ids {
		if e, ok := s.records[id]; ok {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	out := make([]*domain.Transfer, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted && pendingChain(e.transfer) == chainID {
			out = append(out, e.transfer.Clone())
		}
		e.mu.Unlock()
	}

	return out, nil
}

// Evict removes a transfer. Evicting an unknown id is a no-op.
func (s *TransferStore) Evict(ctx context.Context, id string) error {
	e := s.lookup(id)
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.evicted {
		return nil
	}
	e.evicted = true

	s.mu.Lock()
	delete(s.records, id)
	if chain := pendingChain(e.transfer); chain != "" {
		s.unindex(chain, id)
	}
	s.mu.Unlock()

	return nil
}

// List returns transfers matching filter, newest first.
func (s *TransferStore) List(ctx context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	return paginate(s.snapshot(filter.Matches), filter), nil
}

// paginate orders transfers newest first and applies the filter window.
func paginate(all []*domain.Transfer, filter domain.TransferFilter) []*domain.Transfer {
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return []*domain.Transfer{}
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(all) {
		all = all[:filter.Limit]
	}

	return all
}

// ListPendingBefore returns pending transfers whose leg was submitted before cutoff.
func (s *TransferStore) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*domain.Transfer, error) {
	return s.snapshot(func(t *domain.Transfer) bool {
		return t.IsPending() && t.PendingSince.Before(cutoff)
	}), nil
}

// Len returns the number of stored transfers.
func (s *TransferStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *TransferStore) snapshot(keep func(*domain.Transfer) bool) []*domain.Transfer {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.records))
	for _, e := range s.records {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*domain.Transfer, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted && keep(e.transfer) {
			out = append(out, e.transfer.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

func (s *TransferStore) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

// index and unindex require s.mu held for writing.
func (s *TransferStore) index(chain, id string) {
	ids, ok := s.pending[chain]
	if !ok {
		ids = make(map[string]struct{})
		s.pending[chain] = ids
	}
	ids[id] = struct{}{}
}

func (s *TransferStore) unindex(chain, id string) {
	ids := s.pending[chain]
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.pending, chain)
	}
}

// pendingChain returns the chain the transfer waits on, or "".
func pendingChain(t *domain.Transfer) string {
	if !t.IsPending() {
		return ""
	}
	spec, ok := t.Plan().Spec(t.Stage.Leg)
	if !ok {
		return ""
	}
	return spec.ChainID(t)
}
