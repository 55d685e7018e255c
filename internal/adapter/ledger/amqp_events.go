package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

// Channel is the subset of *amqp.Channel used by AMQPEvents.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// EventObserver counts received ledger events.
type EventObserver interface {
	LedgerEvent(chainID, source string)
}

type amqpRoute struct {
	routingKey       string
	correlationField string
}

// AMQPEvents consumes ledger notifications published by chain adapters to a
// topic exchange, one durable queue per chain.
type AMQPEvents struct {
	ch       Channel
	exchange string
	prefetch int
	observer EventObserver
	logger   zerolog.Logger

	mu     sync.Mutex
	routes map[string]amqpRoute
}

// NewAMQPEvents creates an AMQPEvents on an open channel. observer may be nil.
func NewAMQPEvents(ch Channel, exchange string, observer EventObserver, logger zerolog.Logger) *AMQPEvents {
	return &AMQPEvents{
		ch:       ch,
		exchange: exchange,
		prefetch: 32,
		observer: observer,
		logger:   logger.With().Str("component", "ledger-amqp").Logger(),
		routes:   make(map[string]amqpRoute),
	}
}

// Route sets the routing key and correlation field of a chain. Unrouted
// chains bind "<chain>.events" and read "txid".
func (a *AMQPEvents) Route(chainID, routingKey, correlationField string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.routes[chainID] = amqpRoute{routingKey: routingKey, correlationField: correlationField}
}

func (a *AMQPEvents) routeFor(chainID string) amqpRoute {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.routes[chainID]
	if r.routingKey == "" {
		r.routingKey = chainID + ".events"
	}
	if r.correlationField == "" {
		r.correlationField = "txid"
	}
	return r
}

// Subscribe binds the chain queue and consumes it until ctx is done.
func (a *AMQPEvents) Subscribe(ctx context.Context, chainID string, handler usecase.EventHandler) error {
	r := a.routeFor(chainID)
	queue := "xledger." + chainID + ".events"

	if err := a.ch.ExchangeDeclare(a.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", a.exchange, err)
	}
	q, err := a.ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := a.ch.QueueBind(q.Name, r.routingKey, a.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	if err := a.ch.Qos(a.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	msgs, err := a.ch.Consume(q.Name, "xledger-"+chainID, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	log := a.logger.With().Str("chain_id", chainID).Str("queue", q.Name).Logger()
	log.Info().Str("routing_key", r.routingKey).Msg("subscribed to ledger events")

	go func() {
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("ledger event subscription stopped")
				return
			case d, ok := <-msgs:
				if !ok {
					log.Warn().Msg("ledger event channel closed")
					return
				}
				a.handle(ctx, chainID, r.correlationField, d, handler, log)
			}
		}
	}()

	return nil
}

func (a *AMQPEvents) handle(ctx context.Context, chainID, field string, d amqp.Delivery, handler usecase.EventHandler, log zerolog.Logger) {
	event, err := decodeEvent(chainID, field, d.Body)
	if err != nil {
		log.Error().Err(err).Msg("dropping undecodable ledger event")
		_ = d.Nack(false, false)
		return
	}

	if a.observer != nil {
		a.observer.LedgerEvent(chainID, "amqp")
	}

	err = handler(ctx, event)
	switch {
	case err == nil || isBenign(err):
		_ = d.Ack(false)
	default:
		log.Warn().Err(err).Str("event_ref", event.EventRef).Msg("ledger event handling failed, requeueing")
		_ = d.Nack(false, true)
	}
}

// isBenign reports errors a redelivery cannot fix.
func isBenign(err error) bool {
	return errors.Is(err, domain.ErrCorrelationMiss) ||
		errors.Is(err, domain.ErrStaleUpdate) ||
		errors.Is(err, domain.ErrTransferNotFound)
}

type envelope struct {
	EventRef string         `json:"event_ref"`
	Payload  map[string]any `json:"payload"`
}

// decodeEvent accepts either an {event_ref, payload} envelope or a bare
// payload carrying the correlation field.
func decodeEvent(chainID, field string, body []byte) (domain.LedgerEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.LedgerEvent{}, fmt.Errorf("decode ledger event: %w", err)
	}

	if env.EventRef != "" {
		return domain.LedgerEvent{ChainID: chainID, EventRef: env.EventRef, Payload: env.Payload}, nil
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.LedgerEvent{}, fmt.Errorf("decode ledger event: %w", err)
	}
	ref, ok := findString(payload, field)
	if !ok {
		return domain.LedgerEvent{}, fmt.Errorf("ledger event has no %q field", field)
	}

	return domain.LedgerEvent{ChainID: chainID, EventRef: ref, Payload: payload}, nil
}
