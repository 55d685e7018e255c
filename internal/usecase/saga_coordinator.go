package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/xledger/internal/domain"
)

// DefaultBalanceField is the query response field holding an account balance.
const DefaultBalanceField = "amount"

// CoordinatorConfig holds SagaCoordinator dependencies.
type CoordinatorConfig struct {
	Store   TransferStore
	Gateway LedgerGateway
	Journal Journal
	Metrics SagaMetrics
	Logger  zerolog.Logger
	// BalanceField names the balance in precheck query responses.
	BalanceField string
	// ChainBalanceFields overrides BalanceField per chain id.
	ChainBalanceFields map[string]string
	// ChainInterpreters overrides the plan's payload interpreter per chain id.
	ChainInterpreters map[string]domain.PayloadInterpreter
	// LegSubmitTimeout bounds the precheck and invocation of one leg.
	LegSubmitTimeout   time.Duration
	EarlyEventTTL      time.Duration
	EarlyEventCapacity int
	Now                func() time.Time
}

// SagaCoordinator drives transfers through their plan. It is the only writer
// of a transfer's stage.
type SagaCoordinator struct {
	store        TransferStore
	gateway      LedgerGateway
	journal      Journal
	metrics      SagaMetrics
	correlator   *EventCorrelator
	planner      *RecoveryPlanner
	early        *earlyEvents
	balanceField string
	chainFields  map[string]string
	interpreters map[string]domain.PayloadInterpreter
	legTimeout   time.Duration
	logger       zerolog.Logger
	now          func() time.Time
}

// NewSagaCoordinator creates a new SagaCoordinator.
func NewSagaCoordinator(cfg CoordinatorConfig) *SagaCoordinator {
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.BalanceField == "" {
		cfg.BalanceField = DefaultBalanceField
	}
	if cfg.LegSubmitTimeout <= 0 {
		cfg.LegSubmitTimeout = DefaultLegSubmitTimeout
	}
	if cfg.EarlyEventTTL == 0 {
		cfg.EarlyEventTTL = DefaultEarlyEventTTL
	}
	if cfg.EarlyEventCapacity == 0 {
		cfg.EarlyEventCapacity = DefaultEarlyEventCapacity
	}

	logger := cfg.Logger.With().Str("component", "saga").Logger()

	return &SagaCoordinator{
		store:        cfg.Store,
		gateway:      cfg.Gateway,
		journal:      cfg.Journal,
		metrics:      cfg.Metrics,
		correlator:   NewEventCorrelator(cfg.Store, cfg.Logger),
		planner:      NewRecoveryPlanner(),
		early:        newEarlyEvents(cfg.EarlyEventTTL, cfg.EarlyEventCapacity, cfg.Now),
		balanceField: cfg.BalanceField,
		chainFields:  cfg.ChainBalanceFields,
		interpreters: cfg.ChainInterpreters,
		legTimeout:   cfg.LegSubmitTimeout,
		logger:       logger,
		now:          cfg.Now,
	}
}

// Start persists a new transfer and submits its first leg.
//
// Only creation errors are returned. A failing first leg is routed through
// recovery and shows up in the transfer's stage and history. Cancelling ctx
// does not abort the submission; each leg runs under LegSubmitTimeout.
func (c *SagaCoordinator) Start(ctx context.Context, transfer *domain.Transfer) error {
	ctx = context.WithoutCancel(ctx)
	now := c.now()

	t := transfer.Clone()
	t.Stage = domain.StageInitial
	t.Outcome = domain.OutcomeNone
	t.PendingEventRef = ""
	t.History = nil
	t.Version = 0
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	if err := t.Validate(); err != nil {
		return err
	}

	if err := c.store.Create(ctx, t); err != nil {
		return err
	}
	t.Version = 1
	c.record(ctx, t)

	c.logger.Info().
		Str("transfer_id", t.ID).
		Str("topology", string(t.Topology)).
		Str("source_chain", t.Source.ChainID).
		Str("destination_chain", t.Destination.ChainID).
		Msg("transfer started")

	c.submit(ctx, t.ID, t.Plan().First())

	return nil
}

// OnEvent advances the transfer a ledger event confirms or fails.
//
// Events matching no pending transfer return domain.ErrCorrelationMiss and
// events racing a concurrent advancement return domain.ErrStaleUpdate. Both
// are benign.
func (c *SagaCoordinator) OnEvent(ctx context.Context, event domain.LedgerEvent) error {
	return c.onEvent(ctx, event, true)
}

// Expire injects a leg-expired signal for the leg waiting on (chainID, eventRef).
func (c *SagaCoordinator) Expire(ctx context.Context, chainID, eventRef string) error {
	return c.onEvent(ctx, domain.ExpiredEvent(chainID, eventRef), false)
}

// ExpireTransfer expires the pending leg of a transfer by id.
func (c *SagaCoordinator) ExpireTransfer(ctx context.Context, id string) error {
	t, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !t.IsPending() {
		return fmt.Errorf("%w: transfer %s is %s, not pending", domain.ErrInvalidTransition, id, t.Stage)
	}

	spec, ok := t.Plan().Spec(t.Stage.Leg)
	if !ok {
		return fmt.Errorf("%w: no %s leg in %s plan", domain.ErrInvalidTransition, t.Stage.Leg, t.Topology)
	}

	return c.Expire(ctx, spec.ChainID(t), t.PendingEventRef)
}

// Resume continues a rehydrated transfer from its stored stage. Pending
// transfers keep waiting for their event.
func (c *SagaCoordinator) Resume(ctx context.Context, t *domain.Transfer) error {
	ctx = context.WithoutCancel(ctx)
	switch {
	case t.Outcome.Terminal():
		return nil
	case t.Stage.IsInitial():
		c.submit(ctx, t.ID, t.Plan().First())
	case t.Stage.State == domain.LegPending:
		return nil
	default:
		c.advance(ctx, t)
	}
	return nil
}

func (c *SagaCoordinator) onEvent(ctx context.Context, event domain.LedgerEvent, buffer bool) error {
	// The next leg is submitted from here, so it must not die with the
	// delivering request or subscription.
	ctx = context.WithoutCancel(ctx)

	t, ok, err := c.correlator.Correlate(ctx, event)
	if err != nil {
		return err
	}
	if !ok && buffer {
		if t, ok, err = c.claimBuffered(ctx, event); err != nil {
			return err
		}
	}
	if !ok {
		c.metrics.CorrelationMiss(event.ChainID)
		return domain.ErrCorrelationMiss
	}

	spec, ok := t.Plan().Spec(t.Stage.Leg)
	if !ok {
		return fmt.Errorf("%w: no %s leg in %s plan", domain.ErrInvalidTransition, t.Stage.Leg, t.Topology)
	}

	var raw json.RawMessage
	if event.Payload != nil {
		raw, _ = json.Marshal(event.Payload)
	}

	interpret := spec.Interpret
	if f := c.interpreters[spec.ChainID(t)]; f != nil {
		interpret = f
	}

	leg, ref := t.Stage.Leg, event.EventRef
	updated, err := c.resolve(ctx, t.ID, spec, interpret(event.Payload), ref, raw, func(cur *domain.Transfer) error {
		if !cur.IsPending() || cur.Stage.Leg != leg || cur.PendingEventRef != ref {
			return domain.ErrStaleUpdate
		}
		return nil
	})
	if err != nil {
		if isBenign(err) {
			c.logger.Debug().Err(err).Str("transfer_id", t.ID).Str("event_ref", ref).Msg("late event dropped")
			return domain.ErrStaleUpdate
		}
		return err
	}

	c.advance(ctx, updated)
	return nil
}

// claimBuffered buffers an unmatched event and correlates it again. The ref
// may have been recorded between the first scan and the put, after submit
// looked for a buffered event. Whoever takes the event from the buffer
// processes it.
func (c *SagaCoordinator) claimBuffered(ctx context.Context, event domain.LedgerEvent) (*domain.Transfer, bool, error) {
	if !c.early.put(event) {
		return c.correlator.Correlate(ctx, event)
	}

	t, ok, err := c.correlator.Correlate(ctx, event)
	if err != nil || !ok {
		return nil, false, err
	}
	if _, taken := c.early.take(event.ChainID, event.EventRef); !taken {
		return nil, false, nil
	}

	c.metrics.EarlyEventReplayed(event.ChainID)
	c.logger.Debug().Str("transfer_id", t.ID).Str("event_ref", event.EventRef).Msg("buffered event claimed")
	return t, true, nil
}

// submit runs the balance precheck and invokes leg, then records the
// pending ref. Any synchronous failure resolves the leg as failed.
func (c *SagaCoordinator) submit(ctx context.Context, id string, leg domain.Leg) {
	t, err := c.store.Get(ctx, id)
	if err != nil {
		c.logger.Debug().Err(err).Str("transfer_id", id).Str("leg", string(leg)).Msg("submission skipped")
		return
	}

	spec, ok := t.Plan().Spec(leg)
	if !ok {
		c.logger.Error().Str("transfer_id", id).Str("leg", string(leg)).Msg("leg missing from plan")
		return
	}
	chainID := spec.ChainID(t)

	log := c.logger.With().
		Str("transfer_id", id).
		Str("leg", string(leg)).
		Str("chain_id", chainID).
		Logger()

	idle := func(cur *domain.Transfer) error {
		if cur.Outcome.Terminal() || cur.Stage.State == domain.LegPending {
			return domain.ErrStaleUpdate
		}
		return nil
	}

	failLeg := func(cause error) {
		log.Warn().Err(cause).Msg("leg failed on submission")
		updated, err := c.resolve(ctx, id, spec, domain.Failed(cause.Error()), "", nil, idle)
		if err != nil {
			log.Debug().Err(err).Msg("failed leg not recorded")
			return
		}
		c.advance(ctx, updated)
	}

	res, err := c.invoke(ctx, t, spec)
	if err != nil {
		failLeg(err)
		return
	}

	ref := res.CorrelationID
	if ref == "" {
		ref = placeholderRef(id, leg)
	}

	now := c.now()
	updated, err := c.store.Update(ctx, id, func(cur *domain.Transfer) error {
		if err := idle(cur); err != nil {
			return err
		}
		cur.Stage = domain.Stage{Leg: leg, State: domain.LegPending}
		cur.PendingEventRef = ref
		cur.PendingSince = now
		cur.UpdatedAt = now
		cur.AppendResult(legResult(cur, spec, domain.LegPending, ref, res.Raw, "", now))
		return nil
	})
	if err != nil {
		log.Warn().Err(err).Str("event_ref", ref).Msg("submitted leg could not be recorded")
		return
	}

	c.metrics.LegSubmitted(leg)
	c.record(ctx, updated)
	log.Info().Str("event_ref", ref).Msg("leg submitted")

	if ev, ok := c.early.take(chainID, ref); ok {
		c.metrics.EarlyEventReplayed(chainID)
		log.Debug().Str("event_ref", ref).Msg("replaying early event")
		if err := c.onEvent(ctx, ev, false); err != nil && !isBenign(err) {
			log.Error().Err(err).Msg("early event replay failed")
		}
	}
}

// invoke runs the precheck and the ledger call of one leg under the leg
// submission timeout.
func (c *SagaCoordinator) invoke(ctx context.Context, t *domain.Transfer, spec domain.LegSpec) (*InvokeResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.legTimeout)
	defer cancel()

	if err := c.precheck(ctx, t, spec); err != nil {
		return nil, err
	}

	chainID := spec.ChainID(t)
	res, err := c.gateway.Invoke(ctx, chainID, LedgerRequest{
		Method: spec.Method,
		Args:   legArgs(t, spec),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s on %s: %v", domain.ErrAdapterInvocation, spec.Leg, spec.Method, chainID, err)
	}
	return res, nil
}

// resolve moves the current leg to the outcome's state.
func (c *SagaCoordinator) resolve(
	ctx context.Context,
	id string,
	spec domain.LegSpec,
	outcome domain.LegOutcome,
	ref string,
	raw json.RawMessage,
	guard func(*domain.Transfer) error,
) (*domain.Transfer, error) {
	now := c.now()
	state := outcome.State()

	updated, err := c.store.Update(ctx, id, func(cur *domain.Transfer) error {
		if err := guard(cur); err != nil {
			return err
		}
		cur.Stage = domain.Stage{Leg: spec.Leg, State: state}
		cur.PendingEventRef = ""
		cur.UpdatedAt = now
		cur.AppendResult(legResult(cur, spec, state, ref, raw, outcome.Reason, now))
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.metrics.LegResolved(spec.Leg, state)
	c.record(ctx, updated)

	return updated, nil
}

// advance is the single transition step taken after a leg resolves.
func (c *SagaCoordinator) advance(ctx context.Context, t *domain.Transfer) {
	leg := t.Stage.Leg
	log := c.logger.With().Str("transfer_id", t.ID).Str("leg", string(leg)).Logger()

	switch t.Stage.State {
	case domain.LegConfirmed:
		tr, err := t.Plan().Next(leg, domain.LegConfirmed)
		if err != nil {
			log.Error().Err(err).Msg("no transition after confirmation")
			return
		}
		if tr.IsTerminal() {
			c.finish(ctx, t, RecoveryDecision{
				Terminal: tr.Terminal,
				Keep:     !tr.Terminal.Evictable(),
				Err:      tr.Terminal.Surfaced(),
			})
			return
		}
		c.submit(ctx, t.ID, tr.Next)

	case domain.LegFailed:
		decision, err := c.planner.Plan(t, leg)
		if err != nil {
			log.Error().Err(err).Msg("no recovery decision")
			return
		}
		if decision.Compensate != "" {
			log.Warn().Str("compensation", string(decision.Compensate)).Msg("compensating failed leg")
			c.submit(ctx, t.ID, decision.Compensate)
			return
		}
		c.finish(ctx, t, decision)
	}
}

// finish sets the terminal outcome and evicts the record unless kept.
func (c *SagaCoordinator) finish(ctx context.Context, t *domain.Transfer, decision RecoveryDecision) {
	now := c.now()
	stage := t.Stage

	updated, err := c.store.Update(ctx, t.ID, func(cur *domain.Transfer) error {
		if cur.Outcome.Terminal() || cur.Stage != stage {
			return domain.ErrStaleUpdate
		}
		cur.Outcome = decision.Terminal
		cur.UpdatedAt = now
		return nil
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("transfer_id", t.ID).Msg("finalization skipped")
		return
	}

	c.metrics.TransferFinished(decision.Terminal, now.Sub(updated.CreatedAt))
	c.record(ctx, updated)

	ev := c.logger.Info()
	switch {
	case decision.Keep:
		ev = c.logger.Error().Err(decision.Err)
	case decision.Err != nil:
		ev = c.logger.Warn().Err(decision.Err)
	}
	ev.Str("transfer_id", t.ID).
		Str("outcome", string(decision.Terminal)).
		Str("stage", stage.String()).
		Bool("kept", decision.Keep).
		Msg("transfer finished")

	if decision.Keep {
		return
	}
	if err := c.store.Evict(ctx, t.ID); err != nil {
		c.logger.Error().Err(err).Str("transfer_id", t.ID).Msg("evict failed")
	}
}

func (c *SagaCoordinator) precheck(ctx context.Context, t *domain.Transfer, spec domain.LegSpec) error {
	if spec.Precheck == nil || spec.AssetType(t) != domain.AssetTypeNumber {
		return nil
	}

	account := spec.Precheck(t)
	chainID := spec.ChainID(t)
	need := spec.Amount(t)

	raw, err := c.gateway.Query(ctx, chainID, LedgerRequest{
		Method: domain.MethodBalance,
		Args:   map[string]any{"account": account},
	})
	if err != nil {
		return fmt.Errorf("%w: balance of %s on %s: %v", domain.ErrAdapterInvocation, account, chainID, err)
	}

	field := c.balanceField
	if f, ok := c.chainFields[chainID]; ok && f != "" {
		field = f
	}
	balance, err := parseBalance(raw, field)
	if err != nil {
		return fmt.Errorf("%w: balance of %s on %s: %v", domain.ErrAdapterInvocation, account, chainID, err)
	}

	if balance.LessThan(need) {
		return fmt.Errorf("%w: %s holds %s, needs %s", domain.ErrInsufficientAsset, account, balance, need)
	}

	return nil
}

func (c *SagaCoordinator) record(ctx context.Context, t *domain.Transfer) {
	if c.journal == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultTransactionTimeout)
	defer cancel()

	if err := c.journal.Record(ctx, t); err != nil {
		c.logger.Error().Err(err).
			Str("transfer_id", t.ID).
			Str("stage", t.Stage.String()).
			Msg("journal write failed")
	}
}

func legArgs(t *domain.Transfer, spec domain.LegSpec) map[string]any {
	return map[string]any{
		"transfer_id": t.ID,
		"leg":         string(spec.Leg),
		"from":        spec.From(t),
		"to":          spec.To(t),
		"amount":      spec.Amount(t).String(),
		"asset_type":  spec.AssetType(t),
	}
}

func legResult(t *domain.Transfer, spec domain.LegSpec, state domain.LegState, ref string, raw json.RawMessage, reason string, at time.Time) domain.LegResult {
	return domain.LegResult{
		Leg:      spec.Leg,
		State:    state,
		ChainID:  spec.ChainID(t),
		EventRef: ref,
		From:     spec.From(t),
		To:       spec.To(t),
		Amount:   spec.Amount(t),
		Raw:      raw,
		Error:    reason,
		At:       at,
	}
}

func placeholderRef(id string, leg domain.Leg) string {
	return id + ":" + string(leg)
}

func isBenign(err error) bool {
	return errors.Is(err, domain.ErrStaleUpdate) ||
		errors.Is(err, domain.ErrTransferNotFound) ||
		errors.Is(err, domain.ErrCorrelationMiss)
}

// parseBalance reads field from a query response: at the top level, then
// under "data", then anywhere else with object keys visited in sorted order.
// Numbers are kept exact.
func parseBalance(raw json.RawMessage, field string) (decimal.Decimal, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return decimal.Zero, fmt.Errorf("decode balance response: %w", err)
	}

	v, ok := lookupField(doc, field)
	if !ok {
		return decimal.Zero, fmt.Errorf("balance field %q missing", field)
	}

	switch n := v.(type) {
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	default:
		return decimal.Zero, fmt.Errorf("balance field %q has type %T", field, v)
	}
}

func lookupField(doc any, field string) (any, bool) {
	if obj, ok := doc.(map[string]any); ok {
		if v, ok := obj[field]; ok {
			return v, true
		}
		if data, ok := obj["data"].(map[string]any); ok {
			if v, ok := data[field]; ok {
				return v, true
			}
		}
	}
	return findField(doc, field)
}

func findField(doc any, field string) (any, bool) {
	switch v := doc.(type) {
	case map[string]any:
		if found, ok := v[field]; ok {
			return found, true
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if found, ok := findField(v[k], field); ok {
				return found, true
			}
		}
	case []any:
		for _, child := range v {
			if found, ok := findField(child, field); ok {
				return found, true
			}
		}
	}
	return nil, false
}
