package usecase

import (
	"sync"
	"time"

	"github.com/iho/xledger/internal/domain"
)

type earlyKey struct {
	chainID string
	ref     string
}

type earlyEvent struct {
	event    domain.LedgerEvent
	received time.Time
}

// earlyEvents holds unmatched events for a short time. A ledger may confirm
// a submission before the coordinator has recorded its ref; the buffered
// event is replayed once the ref is recorded.
type earlyEvents struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	now      func() time.Time
	events   map[earlyKey]earlyEvent
	order    []earlyKey
}

func newEarlyEvents(ttl time.Duration, capacity int, now func() time.Time) *earlyEvents {
	return &earlyEvents{
		ttl:      ttl,
		capacity: capacity,
		now:      now,
		events:   make(map[earlyKey]earlyEvent),
	}
}

// put buffers an unmatched event and reports whether the event is held.
// Existing entries keep their first delivery.
func (b *earlyEvents) put(event domain.LedgerEvent) bool {
	if b.ttl <= 0 || b.capacity <= 0 || event.EventRef == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked()

	key := earlyKey{chainID: event.ChainID, ref: event.EventRef}
	if _, ok := b.events[key]; ok {
		return true
	}

	for len(b.order) >= b.capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.events, oldest)
	}

	b.events[key] = earlyEvent{event: event, received: b.now()}
	b.order = append(b.order, key)
	return true
}

// take removes and returns the buffered event for (chainID, ref).
func (b *earlyEvents) take(chainID, ref string) (domain.LedgerEvent, bool) {
	if ref == "" {
		return domain.LedgerEvent{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.expireLocked()

	key := earlyKey{chainID: chainID, ref: ref}
	ev, ok := b.events[key]
	if !ok {
		return domain.LedgerEvent{}, false
	}
	delete(b.events, key)
	for i, k := range b.order {
		if k == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}

	return ev.event, true
}

func (b *earlyEvents) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

func (b *earlyEvents) expireLocked() {
	cutoff := b.now().Add(-b.ttl)
	i := 0
	for ; i < len(b.order); i++ {
		key := b.order[i]
		if b.events[key].received.After(cutoff) {
			break
		}
		delete(b.events, key)
	}
	b.order = b.order[i:]
}
