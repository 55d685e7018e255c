package ledger

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/xledger/internal/infrastructure/config"
)

// Observer receives adapter call and event metrics.
type Observer interface {
	CallObserver
	EventObserver
}

// Build registers a gateway for every configured chain. Sim chains serve
// their own events; http chains use events when it is non-nil and the
// webhook otherwise. The returned map holds the sim ledgers by chain id.
func Build(chains []config.ChainConfig, events *AMQPEvents, observer Observer, logger zerolog.Logger) (*Router, map[string]*SimLedger, error) {
	var callObserver CallObserver
	if observer != nil {
		callObserver = observer
	}
	router := NewRouter(callObserver, logger)
	sims := make(map[string]*SimLedger)

	for _, c := range chains {
		switch c.Driver {
		case config.DriverSim:
			balances := make(map[string]decimal.Decimal, len(c.Sim.Balances))
			for account, v := range c.Sim.Balances {
				d, err := decimal.NewFromString(v)
				if err != nil {
					return nil, nil, fmt.Errorf("chain %s: balance of %s: %w", c.ID, account, err)
				}
				balances[account] = d
			}
			sim := NewSimLedger(c.ID, balances, c.Sim.EventDelay, logger)
			sims[c.ID] = sim
			router.Register(c.ID, sim, sim, c.Contract)

		case config.DriverHTTP:
			client := NewHTTPClient(HTTPClientConfig{
				ChainID:                 c.ID,
				BaseURL:                 c.AdapterURL,
				CorrelationField:        c.CorrelationField,
				Timeout:                 c.Timeout,
				MaxAttempts:             c.Retry.MaxAttempts,
				InitialInterval:         c.Retry.InitialInterval,
				MaxInterval:             c.Retry.MaxInterval,
				BreakerMaxRequests:      c.Breaker.MaxRequests,
				BreakerInterval:         c.Breaker.Interval,
				BreakerTimeout:          c.Breaker.Timeout,
				BreakerFailureThreshold: c.Breaker.FailureThreshold,
			}, logger)

			var source EventSource
			if events != nil {
				events.Route(c.ID, c.EventRoutingKey, c.CorrelationField)
				source = events
			}
			router.Register(c.ID, client, source, c.Contract)

		default:
			return nil, nil, fmt.Errorf("chain %s: unknown driver %q", c.ID, c.Driver)
		}
	}

	return router, sims, nil
}
