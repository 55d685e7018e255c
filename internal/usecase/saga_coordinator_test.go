package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

func TestSagaCoordinator_EscrowHappyPath(t *testing.T) {
	h := newSagaHarness(t)
	ctx := context.Background()

	require.NoError(t, h.saga.Start(ctx, escrowTransfer("tx-a")))
	h.requireStage(t, "tx-a", domain.LegEscrow, domain.LegPending)

	h.confirm(t, "tx-a")
	h.requireStage(t, "tx-a", domain.LegCredit, domain.LegPending)

	h.confirm(t, "tx-a")
	h.requireStage(t, "tx-a", domain.LegRelease, domain.LegPending)

	h.confirm(t, "tx-a")
	final := h.requireEvicted(t, "tx-a", domain.OutcomeCompleted)

	assert.Equal(t, []domain.Stage{
		{Leg: domain.LegEscrow, State: domain.LegPending},
		{Leg: domain.LegEscrow, State: domain.LegConfirmed},
		{Leg: domain.LegCredit, State: domain.LegPending},
		{Leg: domain.LegCredit, State: domain.LegConfirmed},
		{Leg: domain.LegRelease, State: domain.LegPending},
		{Leg: domain.LegRelease, State: domain.LegConfirmed},
	}, stagesOf(final))

	calls := h.ledger.invocations()
	require.Len(t, calls, 3)
	assert.Equal(t, "chain1", calls[0].chainID)
	assert.Equal(t, domain.MethodTransfer, calls[0].req.Method)
	assert.Equal(t, "A", calls[0].req.Args["from"])
	assert.Equal(t, "E", calls[0].req.Args["to"])
	assert.Equal(t, "chain2", calls[1].chainID)
	assert.Equal(t, domain.MethodPayment, calls[1].req.Method)
	assert.Equal(t, "S2", calls[1].req.Args["from"])
	assert.Equal(t, "B", calls[1].req.Args["to"])
	assert.Equal(t, "E", calls[2].req.Args["from"])
	assert.Equal(t, "S1", calls[2].req.Args["to"])

	assert.Equal(t, 1, h.metrics.finished[domain.OutcomeCompleted])
}

func TestSagaCoordinator_CreditFailureCompensates(t *testing.T) {
	h := newSagaHarness(t)
	ctx := context.Background()

	require.NoError(t, h.saga.Start(ctx, escrowTransfer("tx-b")))
	h.confirm(t, "tx-b")
	h.reject(t, "tx-b")
	h.requireStage(t, "tx-b", domain.LegRecovery, domain.LegPending)

	h.confirm(t, "tx-b")
	final := h.requireEvicted(t, "tx-b", domain.OutcomeCompensationConfirmed)

	recovery, ok := final.LastResult(domain.LegRecovery)
	require.True(t, ok)
	assert.Equal(t, domain.LegConfirmed, recovery.State)
	assert.Equal(t, "E", recovery.From)
	assert.Equal(t, "A", recovery.To)
	assert.True(t, recovery.Amount.Equal(decimal.NewFromInt(100)))

	credit, ok := final.LastResult(domain.LegCredit)
	require.True(t, ok)
	assert.Equal(t, domain.LegFailed, credit.State)
	assert.NotEmpty(t, credit.Error)
}

func TestSagaCoordinator_DirectSettlementSynchronousFailure(t *testing.T) {
	h := newSagaHarness(t)
	h.ledger.failLegs[domain.LegDirectSettlement] = errors.New("connection refused")

	require.NoError(t, h.saga.Start(context.Background(), directTransfer("tx-d")))

	final := h.requireEvicted(t, "tx-d", domain.OutcomeDirectSettlementFailed)
	assert.Equal(t, domain.Stage{Leg: domain.LegDirectSettlement, State: domain.LegFailed}, final.Stage)
	assert.Empty(t, final.PendingEventRef)
	require.Len(t, final.History, 1)
	assert.Contains(t, final.History[0].Error, domain.ErrAdapterInvocation.Error())
	assert.Len(t, h.ledger.invocations(), 1)
}

func TestSagaCoordinator_DuplicateDeliveryIsCorrelationMiss(t *testing.T) {
	h := newSagaHarness(t)
	ctx := context.Background()

	require.NoError(t, h.saga.Start(ctx, escrowTransfer("tx-e")))
	escrowConfirm := h.confirm(t, "tx-e")
	before := h.requireStage(t, "tx-e", domain.LegCredit, domain.LegPending)

	err := h.saga.OnEvent(ctx, escrowConfirm)
	require.ErrorIs(t, err, domain.ErrCorrelationMiss)

	after := h.requireStage(t, "tx-e", domain.LegCredit, domain.LegPending)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.PendingEventRef, after.PendingEventRef)
	assert.Equal(t, 1, h.metrics.resolved["escrow.confirmed"])
}

func TestSagaCoordinator_DirectDebitPaths(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		h := newSagaHarness(t)
		require.NoError(t, h.saga.Start(context.Background(), directTransfer("tx-1")))
		h.requireStage(t, "tx-1", domain.LegDirectSettlement, domain.LegPending)
		h.confirm(t, "tx-1")
		h.requireStage(t, "tx-1", domain.LegCredit, domain.LegPending)
		h.confirm(t, "tx-1")
		h.requireEvicted(t, "tx-1", domain.OutcomeCompleted)

		calls := h.ledger.invocations()
		require.Len(t, calls, 2)
		assert.Equal(t, "A", calls[0].req.Args["from"])
		assert.Equal(t, "S1", calls[0].req.Args["to"])
	})

	t.Run("settlement rejected", func(t *testing.T) {
		h := newSagaHarness(t)
		require.NoError(t, h.saga.Start(context.Background(), directTransfer("tx-2")))
		h.reject(t, "tx-2")
		h.requireEvicted(t, "tx-2", domain.OutcomeDirectSettlementFailed)
	})

	t.Run("credit failure is uncompensated", func(t *testing.T) {
		h := newSagaHarness(t)
		require.NoError(t, h.saga.Start(context.Background(), directTransfer("tx-3")))
		h.confirm(t, "tx-3")
		h.reject(t, "tx-3")
		h.requireEvicted(t, "tx-3", domain.OutcomeUncompensatedFailure)
	})
}

func TestSagaCoordinator_ReleaseFailureIsUncompensated(t *testing.T) {
	h := newSagaHarness(t)
	require.NoError(t, h.saga.Start(context.Background(), escrowTransfer("tx-r")))
	h.confirm(t, "tx-r")
	h.confirm(t, "tx-r")
	h.reject(t, "tx-r")

	final := h.requireEvicted(t, "tx-r", domain.OutcomeUncompensatedFailure)
	assert.ErrorIs(t, final.Outcome.Surfaced(), domain.ErrUncompensatedFailure)
}

func TestSagaCoordinator_RecoveryFailureIsKept(t *testing.T) {
	h := newSagaHarness(t)
	require.NoError(t, h.saga.Start(context.Background(), escrowTransfer("tx-f")))
	h.confirm(t, "tx-f")
	h.reject(t, "tx-f")
	h.reject(t, "tx-f")

	kept := h.get(t, "tx-f")
	assert.Equal(t, domain.OutcomeRecoveryFailed, kept.Outcome)
	assert.Equal(t, domain.Stage{Leg: domain.LegRecovery, State: domain.LegFailed}, kept.Stage)
	assert.ErrorIs(t, kept.Outcome.Surfaced(), domain.ErrFatalRecoveryFailure)

	pending, err := h.store.ScanPendingByChain(context.Background(), "chain1")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, h.metrics.finished[domain.OutcomeRecoveryFailed])
}

func TestSagaCoordinator_SynchronousCreditFailureStartsRecovery(t *testing.T) {
	h := newSagaHarness(t)
	h.ledger.failLegs[domain.LegCredit] = errors.New("503 service unavailable")

	require.NoError(t, h.saga.Start(context.Background(), escrowTransfer("tx-s")))
	h.confirm(t, "tx-s")

	tr := h.requireStage(t, "tx-s", domain.LegRecovery, domain.LegPending)
	credit, ok := tr.LastResult(domain.LegCredit)
	require.True(t, ok)
	assert.Equal(t, domain.LegFailed, credit.State)
}

func TestSagaCoordinator_Precheck(t *testing.T) {
	t.Run("insufficient balance fails the escrow", func(t *testing.T) {
		h := newSagaHarness(t)
		h.ledger.balances["A"] = "50"

		tr := escrowTransfer("tx-p")
		tr.Source.AssetType = domain.AssetTypeNumber
		require.NoError(t, h.saga.Start(context.Background(), tr))

		final := h.requireEvicted(t, "tx-p", domain.OutcomeEscrowFailed)
		assert.Contains(t, final.History[0].Error, domain.ErrInsufficientAsset.Error())
		assert.Empty(t, h.ledger.invocations())
	})

	t.Run("sufficient balance submits", func(t *testing.T) {
		h := newSagaHarness(t)
		h.ledger.balances["A"] = "100"

		tr := escrowTransfer("tx-p")
		tr.Source.AssetType = domain.AssetTypeNumber
		require.NoError(t, h.saga.Start(context.Background(), tr))
		h.requireStage(t, "tx-p", domain.LegEscrow, domain.LegPending)
		assert.Equal(t, 1, h.ledger.queries)
	})

	t.Run("non numeric assets are not checked", func(t *testing.T) {
		h := newSagaHarness(t)
		require.NoError(t, h.saga.Start(context.Background(), escrowTransfer("tx-p")))
		h.requireStage(t, "tx-p", domain.LegEscrow, domain.LegPending)
		assert.Zero(t, h.ledger.queries)
	})

	t.Run("chain balance field overrides the default", func(t *testing.T) {
		h := newSagaHarness(t)
		h.saga = usecase.NewSagaCoordinator(usecase.CoordinatorConfig{
			Store:              h.store,
			Gateway:            h.ledger,
			Journal:            h.journal,
			Logger:             zerolog.Nop(),
			ChainBalanceFields: map[string]string{"chain1": "balance"},
		})
		h.ledger.balances["A"] = "100"

		tr := escrowTransfer("tx-p")
		tr.Source.AssetType = domain.AssetTypeNumber
		require.NoError(t, h.saga.Start(context.Background(), tr))

		final := h.requireEvicted(t, "tx-p", domain.OutcomeEscrowFailed)
		assert.Contains(t, final.History[0].Error, domain.ErrAdapterInvocation.Error())
	})

	t.Run("credit checks destination settlement", func(t *testing.T) {
		h := newSagaHarness(t)
		h.ledger.balances["S2"] = "10"

		tr := escrowTransfer("tx-p")
		tr.Destination.AssetType = domain.AssetTypeNumber
		require.NoError(t, h.saga.Start(context.Background(), tr))
		h.confirm(t, "tx-p")

		h.requireStage(t, "tx-p", domain.LegRecovery, domain.LegPending)
	})
}

func TestSagaCoordinator_SynchronousAdapterUsesPlaceholderRef(t *testing.T) {
	h := newSagaHarness(t)
	h.ledger.synchronous = true

	require.NoError(t, h.saga.Start(context.Background(), escrowTransfer("tx-y")))
	tr := h.requireStage(t, "tx-y", domain.LegEscrow, domain.LegPending)
	assert.Equal(t, "tx-y:escrow", tr.PendingEventRef)

	h.confirm(t, "tx-y")
	tr = h.requireStage(t, "tx-y", domain.LegCredit, domain.LegPending)
	assert.Equal(t, "tx-y:credit", tr.PendingEventRef)
}

func TestSagaCoordinator_EarlyEventIsReplayed(t *testing.T) {
	h := newSagaHarness(t)

	// The ledger confirms before Invoke returns, so the ref is not yet recorded.
	h.ledger.afterInvoke = func(chainID, ref string) {
		if chainID != "chain1" {
			return
		}
		err := h.saga.OnEvent(context.Background(), domain.LedgerEvent{
			ChainID:  chainID,
			EventRef: ref,
			Payload:  map[string]any{"status": float64(200)},
		})
		assert.ErrorIs(t, err, domain.ErrCorrelationMiss)
	}

	require.NoError(t, h.saga.Start(context.Background(), escrowTransfer("tx-early")))
	h.requireStage(t, "tx-early", domain.LegCredit, domain.LegPending)
	assert.Equal(t, 1, h.metrics.replayed)
}

func TestSagaCoordinator_EventBufferedAfterRefRecordedIsClaimed(t *testing.T) {
	h := newSagaHarness(t)
	store := newPausingStore()
	h.store = store.TransferStore
	h.saga = usecase.NewSagaCoordinator(usecase.CoordinatorConfig{
		Store:   store,
		Gateway: h.ledger,
		Journal: h.journal,
		Metrics: h.metrics,
		Logger:  zerolog.Nop(),
	})

	// The confirmation is scanned before the ref exists and buffered only
	// after Start has recorded the ref and found nothing to replay.
	event := domain.LedgerEvent{ChainID: "chain1", EventRef: "chain1-escrow-1", Payload: map[string]any{"status": float64(200)}}
	delivered := make(chan error, 1)
	go func() { delivered <- h.saga.OnEvent(context.Background(), event) }()
	<-store.scanned

	require.NoError(t, h.saga.Start(context.Background(), escrowTransfer("tx-late")))
	tr := h.requireStage(t, "tx-late", domain.LegEscrow, domain.LegPending)
	require.Equal(t, event.EventRef, tr.PendingEventRef)
	assert.Zero(t, h.metrics.replayed)

	close(store.release)
	require.NoError(t, <-delivered)

	h.requireStage(t, "tx-late", domain.LegCredit, domain.LegPending)
	assert.Equal(t, 1, h.metrics.replayed)
	assert.Zero(t, h.metrics.misses)
}

func TestSagaCoordinator_CallerCancellationDoesNotFailLegs(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	t.Run("event delivery", func(t *testing.T) {
		h := newSagaHarness(t)
		require.NoError(t, h.saga.Start(context.Background(), escrowTransfer("tx-cc")))
		tr := h.get(t, "tx-cc")

		err := h.saga.OnEvent(cancelled, domain.LedgerEvent{
			ChainID:  "chain1",
			EventRef: tr.PendingEventRef,
			Payload:  map[string]any{"status": float64(200)},
		})
		require.NoError(t, err)

		h.requireStage(t, "tx-cc", domain.LegCredit, domain.LegPending)
		assert.Zero(t, h.metrics.resolved["credit.failed"])
		assert.Zero(t, h.metrics.finished[domain.OutcomeRecoveryFailed])
	})

	t.Run("start", func(t *testing.T) {
		h := newSagaHarness(t)
		require.NoError(t, h.saga.Start(cancelled, escrowTransfer("tx-cs")))
		h.requireStage(t, "tx-cs", domain.LegEscrow, domain.LegPending)
	})

	t.Run("resume", func(t *testing.T) {
		h := newSagaHarness(t)
		require.NoError(t, h.store.Create(context.Background(), escrowTransfer("tx-cr")))

		require.NoError(t, h.saga.Resume(cancelled, h.get(t, "tx-cr")))
		h.requireStage(t, "tx-cr", domain.LegEscrow, domain.LegPending)
	})
}

func TestSagaCoordinator_LegSubmitTimeoutFailsLeg(t *testing.T) {
	h := newSagaHarness(t)
	h.saga = usecase.NewSagaCoordinator(usecase.CoordinatorConfig{
		Store:            h.store,
		Gateway:          h.ledger,
		Journal:          h.journal,
		Metrics:          h.metrics,
		Logger:           zerolog.Nop(),
		LegSubmitTimeout: 20 * time.Millisecond,
	})
	h.ledger.hangLegs[domain.LegDirectSettlement] = true

	require.NoError(t, h.saga.Start(context.Background(), directTransfer("tx-slow")))

	final := h.requireEvicted(t, "tx-slow", domain.OutcomeDirectSettlementFailed)
	require.Len(t, final.History, 1)
	assert.Contains(t, final.History[0].Error, domain.ErrAdapterInvocation.Error())
	assert.Contains(t, final.History[0].Error, context.DeadlineExceeded.Error())
}

func TestSagaCoordinator_StrictChainInterpreter(t *testing.T) {
	h := newSagaHarness(t)
	h.saga = usecase.NewSagaCoordinator(usecase.CoordinatorConfig{
		Store:             h.store,
		Gateway:           h.ledger,
		Journal:           h.journal,
		Metrics:           h.metrics,
		Logger:            zerolog.Nop(),
		ChainInterpreters: map[string]domain.PayloadInterpreter{"chain2": domain.StrictStatusInterpreter},
	})
	ctx := context.Background()

	require.NoError(t, h.saga.Start(ctx, escrowTransfer("tx-s")))
	escrow := h.get(t, "tx-s")
	require.NoError(t, h.saga.OnEvent(ctx, domain.LedgerEvent{ChainID: "chain1", EventRef: escrow.PendingEventRef}))
	credit := h.requireStage(t, "tx-s", domain.LegCredit, domain.LegPending)

	require.NoError(t, h.saga.OnEvent(ctx, domain.LedgerEvent{ChainID: "chain2", EventRef: credit.PendingEventRef}))
	tr := h.requireStage(t, "tx-s", domain.LegRecovery, domain.LegPending)
	failed, ok := tr.LastResult(domain.LegCredit)
	require.True(t, ok)
	assert.Equal(t, domain.LegFailed, failed.State)
}

func TestSagaCoordinator_Expire(t *testing.T) {
	h := newSagaHarness(t)
	ctx := context.Background()

	require.NoError(t, h.saga.Start(ctx, escrowTransfer("tx-x")))
	h.confirm(t, "tx-x")
	h.requireStage(t, "tx-x", domain.LegCredit, domain.LegPending)

	require.NoError(t, h.saga.ExpireTransfer(ctx, "tx-x"))

	tr := h.requireStage(t, "tx-x", domain.LegRecovery, domain.LegPending)
	credit, _ := tr.LastResult(domain.LegCredit)
	assert.Contains(t, credit.Error, domain.ErrLegExpired.Error())

	err := h.saga.Expire(ctx, "chain2", "unknown-ref")
	assert.ErrorIs(t, err, domain.ErrCorrelationMiss)

	h.confirm(t, "tx-x")
	err = h.saga.ExpireTransfer(ctx, "tx-x")
	assert.ErrorIs(t, err, domain.ErrTransferNotFound)
}

func TestSagaCoordinator_ExpireRequiresPendingLeg(t *testing.T) {
	h := newSagaHarness(t)
	h.ledger.failLegs[domain.LegRecovery] = errors.New("boom")

	require.NoError(t, h.saga.Start(context.Background(), escrowTransfer("tx-k")))
	h.confirm(t, "tx-k")
	h.reject(t, "tx-k")

	kept := h.get(t, "tx-k")
	require.Equal(t, domain.OutcomeRecoveryFailed, kept.Outcome)

	err := h.saga.ExpireTransfer(context.Background(), "tx-k")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestSagaCoordinator_StartRejectsInvalidAndDuplicate(t *testing.T) {
	h := newSagaHarness(t)
	ctx := context.Background()

	bad := escrowTransfer("tx-bad")
	bad.Source.EscrowAccountID = "A"
	require.ErrorIs(t, h.saga.Start(ctx, bad), domain.ErrAccountOverlap)
	assert.Empty(t, h.ledger.invocations())

	require.NoError(t, h.saga.Start(ctx, escrowTransfer("tx-dup")))
	require.ErrorIs(t, h.saga.Start(ctx, escrowTransfer("tx-dup")), domain.ErrDuplicateID)
	assert.Len(t, h.ledger.invocations(), 1)
}

func TestSagaCoordinator_Resume(t *testing.T) {
	tests := []struct {
		name  string
		stage domain.Stage
		want  domain.Stage
	}{
		{"initial submits first leg", domain.StageInitial, domain.Stage{Leg: domain.LegEscrow, State: domain.LegPending}},
		{"confirmed escrow submits credit", domain.Stage{Leg: domain.LegEscrow, State: domain.LegConfirmed}, domain.Stage{Leg: domain.LegCredit, State: domain.LegPending}},
		{"failed credit compensates", domain.Stage{Leg: domain.LegCredit, State: domain.LegFailed}, domain.Stage{Leg: domain.LegRecovery, State: domain.LegPending}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSagaHarness(t)
			ctx := context.Background()

			tr := escrowTransfer("tx-h")
			tr.Stage = tt.stage
			require.NoError(t, h.store.Create(ctx, tr))

			current := h.get(t, "tx-h")
			require.NoError(t, h.saga.Resume(ctx, current))
			assert.Equal(t, tt.want, h.get(t, "tx-h").Stage)
		})
	}

	t.Run("pending waits", func(t *testing.T) {
		h := newSagaHarness(t)
		ctx := context.Background()

		tr := escrowTransfer("tx-h")
		tr.Stage = domain.Stage{Leg: domain.LegCredit, State: domain.LegPending}
		tr.PendingEventRef = "ref-1"
		require.NoError(t, h.store.Create(ctx, tr))

		require.NoError(t, h.saga.Resume(ctx, h.get(t, "tx-h")))
		assert.Empty(t, h.ledger.invocations())

		require.NoError(t, h.saga.OnEvent(ctx, domain.LedgerEvent{ChainID: "chain2", EventRef: "ref-1"}))
		h.requireStage(t, "tx-h", domain.LegRelease, domain.LegPending)
	})
}

func TestSagaCoordinator_ConcurrentDuplicateDeliveryAdvancesOnce(t *testing.T) {
	h := newSagaHarness(t)
	ctx := context.Background()

	require.NoError(t, h.saga.Start(ctx, escrowTransfer("tx-c")))
	tr := h.get(t, "tx-c")
	event := domain.LedgerEvent{ChainID: "chain1", EventRef: tr.PendingEventRef, Payload: map[string]any{"status": "ok"}}

	const deliveries = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.saga.OnEvent(ctx, event)
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrCorrelationMiss) && !errors.Is(err, domain.ErrStaleUpdate) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	h.requireStage(t, "tx-c", domain.LegCredit, domain.LegPending)
	assert.Equal(t, 1, h.metrics.submitted[domain.LegCredit])
}

// TestSagaCoordinator_RandomInterleavings drives many transfers with random
// starts, confirmations, rejections, duplicates and expiries, checking after
// every step that each record has at most one outstanding ref and that its
// history is a path of its plan.
func TestSagaCoordinator_RandomInterleavings(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			h := newSagaHarness(t)
			ctx := context.Background()

			var (
				ids      []string
				consumed []domain.LedgerEvent
			)

			for step := 0; step < 200; step++ {
				switch op := rng.Intn(10); {
				case op < 2 || len(ids) == 0:
					id := fmt.Sprintf("tx-%d", len(ids))
					tr := escrowTransfer(id)
					if rng.Intn(2) == 0 {
						tr = directTransfer(id)
					}
					require.NoError(t, h.saga.Start(ctx, tr))
					ids = append(ids, id)

				case op < 8:
					id := ids[rng.Intn(len(ids))]
					tr, err := h.store.Get(ctx, id)
					if err != nil || !tr.IsPending() {
						continue
					}
					status := any(float64(200))
					if rng.Intn(3) == 0 {
						status = float64(500)
					}
					event, err := h.deliver(t, id, status)
					require.NoError(t, err)
					consumed = append(consumed, event)

				case op < 9:
					if len(consumed) == 0 {
						continue
					}
					dup := consumed[rng.Intn(len(consumed))]
					require.ErrorIs(t, h.saga.OnEvent(ctx, dup), domain.ErrCorrelationMiss)

				default:
					id := ids[rng.Intn(len(ids))]
					err := h.saga.ExpireTransfer(ctx, id)
					if err != nil {
						require.True(t,
							errors.Is(err, domain.ErrTransferNotFound) || errors.Is(err, domain.ErrInvalidTransition),
							"unexpected expire error %v", err)
					}
				}

				assertStoreInvariants(t, h)
			}

			for _, id := range ids {
				final, err := h.journal.Get(ctx, id)
				require.NoError(t, err)
				assertConformsToPlan(t, final)
			}
		})
	}
}

func assertStoreInvariants(t *testing.T, h *sagaHarness) {
	t.Helper()

	all, err := h.store.List(context.Background(), domain.TransferFilter{Limit: 100000})
	require.NoError(t, err)

	refs := make(map[string]string)
	for _, tr := range all {
		require.Equal(t, tr.IsPending(), tr.PendingEventRef != "", "transfer %s stage %s ref %q", tr.ID, tr.Stage, tr.PendingEventRef)
		if tr.Outcome.Terminal() {
			require.Equal(t, domain.OutcomeRecoveryFailed, tr.Outcome, "only fatal failures stay in the store")
		}
		if tr.PendingEventRef != "" {
			if other, dup := refs[tr.PendingEventRef]; dup {
				t.Fatalf("ref %s pending on both %s and %s", tr.PendingEventRef, other, tr.ID)
			}
			refs[tr.PendingEventRef] = tr.ID
		}
		assertConformsToPlan(t, tr)
	}
}

// assertConformsToPlan checks the history is a prefix of some plan path.
// Pending entries may be absent where a submission failed synchronously.
func assertConformsToPlan(t *testing.T, tr *domain.Transfer) {
	t.Helper()

	history := stagesOf(tr)
	for _, path := range tr.Plan().Paths() {
		if matchesPath(history, path.Stages[1:]) {
			if tr.Outcome.Terminal() {
				require.Equal(t, path.Outcome, tr.Outcome, "transfer %s history %v", tr.ID, history)
			}
			return
		}
	}
	t.Fatalf("transfer %s history %v is not a path of the %s plan", tr.ID, history, tr.Topology)
}

func matchesPath(history, path []domain.Stage) bool {
	i := 0
	for _, stage := range path {
		if i == len(history) {
			return true
		}
		if history[i] == stage {
			i++
			continue
		}
		if stage.State != domain.LegPending {
			return false
		}
	}
	return i == len(history)
}

func TestNopMetrics(t *testing.T) {
	var m usecase.SagaMetrics = usecase.NopMetrics{}
	m.LegSubmitted(domain.LegEscrow)
	m.LegResolved(domain.LegEscrow, domain.LegConfirmed)
	m.CorrelationMiss("chain1")
	m.EarlyEventReplayed("chain1")
}
