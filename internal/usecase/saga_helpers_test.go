package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/iho/xledger/internal/adapter/repository/memory"
	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

type invocation struct {
	chainID string
	req     usecase.LedgerRequest
	ref     string
}

// scriptedLedger acknowledges every invocation with a fresh ref unless a
// synchronous failure is scripted for the leg. Like a network adapter it
// fails calls made on a done context.
type scriptedLedger struct {
	mu          sync.Mutex
	calls       []invocation
	queries     int
	seq         int
	failLegs    map[domain.Leg]error
	hangLegs    map[domain.Leg]bool
	balances    map[string]string
	synchronous bool
	// afterInvoke runs before Invoke returns, with the ref it will return.
	afterInvoke func(chainID, ref string)
}

func newScriptedLedger() *scriptedLedger {
	return &scriptedLedger{
		failLegs: make(map[domain.Leg]error),
		hangLegs: make(map[domain.Leg]bool),
		balances: make(map[string]string),
	}
}

func (l *scriptedLedger) Invoke(ctx context.Context, chainID string, req usecase.LedgerRequest) (*usecase.InvokeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	leg := domain.Leg(fmt.Sprint(req.Args["leg"]))
	if l.hangLegs[leg] {
		l.calls = append(l.calls, invocation{chainID: chainID, req: req})
		l.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err, ok := l.failLegs[leg]; ok {
		l.calls = append(l.calls, invocation{chainID: chainID, req: req})
		l.mu.Unlock()
		return nil, err
	}

	l.seq++
	ref := fmt.Sprintf("%s-%s-%d", chainID, leg, l.seq)
	if l.synchronous {
		ref = ""
	}
	l.calls = append(l.calls, invocation{chainID: chainID, req: req, ref: ref})
	hook := l.afterInvoke
	l.mu.Unlock()

	if hook != nil {
		hook(chainID, ref)
	}

	return &usecase.InvokeResult{CorrelationID: ref, Raw: json.RawMessage(`{"ok":true}`)}, nil
}

func (l *scriptedLedger) Query(ctx context.Context, _ string, req usecase.LedgerRequest) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.queries++

	account := fmt.Sprint(req.Args["account"])
	amount, ok := l.balances[account]
	if !ok {
		return nil, errors.New("unknown account")
	}
	return json.RawMessage(fmt.Sprintf(`{"data":{"account":%q,"amount":%q}}`, account, amount)), nil
}

func (l *scriptedLedger) Subscribe(context.Context, string, usecase.EventHandler) error {
	return nil
}

func (l *scriptedLedger) invocations() []invocation {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]invocation, len(l.calls))
	copy(out, l.calls)
	return out
}

// recordingJournal keeps every snapshot it is given.
type recordingJournal struct {
	mu        sync.Mutex
	snapshots map[string]*domain.Transfer
	writes    int
}

func newRecordingJournal() *recordingJournal {
	return &recordingJournal{snapshots: make(map[string]*domain.Transfer)}
}

func (j *recordingJournal) Record(_ context.Context, t *domain.Transfer) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.writes++
	if prev, ok := j.snapshots[t.ID]; ok && prev.Version > t.Version {
		return nil
	}
	j.snapshots[t.ID] = t.Clone()
	return nil
}

func (j *recordingJournal) Get(_ context.Context, id string) (*domain.Transfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	t, ok := j.snapshots[id]
	if !ok {
		return nil, domain.ErrTransferNotFound
	}
	return t.Clone(), nil
}

func (j *recordingJournal) List(_ context.Context, filter domain.TransferFilter) ([]*domain.Transfer, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*domain.Transfer
	for _, t := range j.snapshots {
		if filter.Matches(t) {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

type countingMetrics struct {
	mu        sync.Mutex
	submitted map[domain.Leg]int
	resolved  map[string]int
	finished  map[domain.Outcome]int
	misses    int
	replayed  int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		submitted: make(map[domain.Leg]int),
		resolved:  make(map[string]int),
		finished:  make(map[domain.Outcome]int),
	}
}

func (m *countingMetrics) LegSubmitted(leg domain.Leg) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted[leg]++
}

func (m *countingMetrics) LegResolved(leg domain.Leg, state domain.LegState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved[string(leg)+"."+string(state)]++
}

func (m *countingMetrics) TransferFinished(outcome domain.Outcome, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished[outcome]++
}

func (m *countingMetrics) CorrelationMiss(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.misses++
}

func (m *countingMetrics) EarlyEventReplayed(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replayed++
}

// pausingStore holds the first pending scan, after its snapshot is taken,
// until release is closed.
type pausingStore struct {
	*memory.TransferStore
	once    sync.Once
	scanned chan struct{}
	release chan struct{}
}

func newPausingStore() *pausingStore {
	return &pausingStore{
		TransferStore: memory.NewTransferStore(),
		scanned:       make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (s *pausingStore) ScanPendingByChain(ctx context.Context, chainID string) ([]*domain.Transfer, error) {
	out, err := s.TransferStore.ScanPendingByChain(ctx, chainID)
	s.once.Do(func() {
		close(s.scanned)
		<-s.release
	})
	return out, err
}

type sagaHarness struct {
	store   *memory.TransferStore
	ledger  *scriptedLedger
	journal *recordingJournal
	metrics *countingMetrics
	saga    *usecase.SagaCoordinator
}

func newSagaHarness(t *testing.T) *sagaHarness {
	t.Helper()

	h := &sagaHarness{
		store:   memory.NewTransferStore(),
		ledger:  newScriptedLedger(),
		journal: newRecordingJournal(),
		metrics: newCountingMetrics(),
	}
	h.saga = usecase.NewSagaCoordinator(usecase.CoordinatorConfig{
		Store:   h.store,
		Gateway: h.ledger,
		Journal: h.journal,
		Metrics: h.metrics,
		Logger:  zerolog.Nop(),
	})
	return h
}

func (h *sagaHarness) get(t *testing.T, id string) *domain.Transfer {
	t.Helper()
	tr, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return tr
}

func (h *sagaHarness) requireStage(t *testing.T, id string, leg domain.Leg, state domain.LegState) *domain.Transfer {
	t.Helper()
	tr := h.get(t, id)
	require.Equal(t, domain.Stage{Leg: leg, State: state}, tr.Stage, "stage of %s", id)
	if state == domain.LegPending {
		require.NotEmpty(t, tr.PendingEventRef)
	} else {
		require.Empty(t, tr.PendingEventRef)
	}
	return tr
}

func (h *sagaHarness) requireEvicted(t *testing.T, id string, outcome domain.Outcome) *domain.Transfer {
	t.Helper()
	_, err := h.store.Get(context.Background(), id)
	require.ErrorIs(t, err, domain.ErrTransferNotFound)

	final, err := h.journal.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, outcome, final.Outcome)
	return final
}

// deliver sends the event that resolves the pending leg of id.
func (h *sagaHarness) deliver(t *testing.T, id string, status any) (domain.LedgerEvent, error) {
	t.Helper()
	tr := h.get(t, id)
	spec, ok := tr.Plan().Spec(tr.Stage.Leg)
	require.True(t, ok)

	event := domain.LedgerEvent{
		ChainID:  spec.ChainID(tr),
		EventRef: tr.PendingEventRef,
		Payload:  map[string]any{domain.PayloadStatusKey: status},
	}
	return event, h.saga.OnEvent(context.Background(), event)
}

func (h *sagaHarness) confirm(t *testing.T, id string) domain.LedgerEvent {
	t.Helper()
	event, err := h.deliver(t, id, float64(200))
	require.NoError(t, err)
	return event
}

func (h *sagaHarness) reject(t *testing.T, id string) domain.LedgerEvent {
	t.Helper()
	event, err := h.deliver(t, id, float64(500))
	require.NoError(t, err)
	return event
}

func escrowTransfer(id string) *domain.Transfer {
	return &domain.Transfer{
		ID:       id,
		RuleID:   "rule-1",
		Topology: domain.TopologyEscrow,
		Source: domain.Endpoint{
			ChainID:             "chain1",
			AccountID:           "A",
			EscrowAccountID:     "E",
			SettlementAccountID: "S1",
			Amount:              decimal.NewFromInt(100),
		},
		Destination: domain.Endpoint{
			ChainID:             "chain2",
			AccountID:           "B",
			SettlementAccountID: "S2",
			Amount:              decimal.NewFromInt(100),
		},
	}
}

func directTransfer(id string) *domain.Transfer {
	tr := escrowTransfer(id)
	tr.Topology = domain.TopologyDirectDebit
	tr.Source.EscrowAccountID = ""
	return tr
}

// stagesOf returns the resolved stage sequence recorded in the history.
func stagesOf(tr *domain.Transfer) []domain.Stage {
	stages := make([]domain.Stage, 0, len(tr.History))
	for _, r := range tr.History {
		stages = append(stages, domain.Stage{Leg: r.Leg, State: r.State})
	}
	return stages
}
