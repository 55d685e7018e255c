package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	httpAdapter "github.com/iho/xledger/internal/adapter/http"
	"github.com/iho/xledger/internal/adapter/http/handler"
	"github.com/iho/xledger/internal/adapter/http/middleware"
	"github.com/iho/xledger/internal/adapter/ledger"
	"github.com/iho/xledger/internal/adapter/repository/memory"
	postgresRepo "github.com/iho/xledger/internal/adapter/repository/postgres"
	redisRepo "github.com/iho/xledger/internal/adapter/repository/redis"
	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/infrastructure/config"
	"github.com/iho/xledger/internal/infrastructure/eventpublisher"
	"github.com/iho/xledger/internal/infrastructure/metrics"
	"github.com/iho/xledger/internal/infrastructure/postgres"
	"github.com/iho/xledger/internal/infrastructure/rabbitmq"
	"github.com/iho/xledger/internal/infrastructure/redis"
	"github.com/iho/xledger/internal/infrastructure/scheduler"
	"github.com/iho/xledger/internal/usecase"
)

const (
	jobTimeout          = time.Minute
	rateLimitCleanup    = "@every 5m"
	rateLimitVisitorTTL = 10 * time.Minute
)

// app holds the wired service. Fields left nil are disabled by configuration.
type app struct {
	logger      zerolog.Logger
	handler     http.Handler
	router      *ledger.Router
	sims        map[string]*ledger.SimLedger
	store       *memory.TransferStore
	coordinator *usecase.SagaCoordinator
	transfers   *usecase.TransferUseCase
	rehydrator  *usecase.Rehydrator
	publisher   *eventpublisher.EventPublisher
	scheduler   *scheduler.Scheduler
	closers     []func()
}

// newApp connects the configured backends and builds the HTTP handler.
// reg receives the saga and ledger metrics; nil uses the default registerer.
func newApp(ctx context.Context, cfg *config.Config, chains *config.ChainsFile, logger zerolog.Logger, reg prometheus.Registerer) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	m := metrics.New(reg)
	checks := make(map[string]handler.Checker)

	var conn *amqp.Connection
	var events *ledger.AMQPEvents
	if cfg.AMQPURL != "" {
		if conn, err = rabbitmq.Dial(cfg.AMQPURL); err != nil {
			return nil, err
		}
		a.onClose(func() { _ = conn.Close() })
		checks["amqp"] = func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}

		ch, err := conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("open events channel: %w", err)
		}
		events = ledger.NewAMQPEvents(ch, cfg.AMQPEventsExchange, m, logger)
		logger.Info().Str("exchange", cfg.AMQPEventsExchange).Msg("connected to amqp")
	}

	a.router, a.sims, err = ledger.Build(chains.Chains, events, m, logger)
	if err != nil {
		return nil, err
	}

	staticRules, err := chains.ConversionRules()
	if err != nil {
		return nil, err
	}

	a.store = memory.NewTransferStore()
	idGen := postgresRepo.NewULIDGenerator()

	var (
		journal  usecase.Journal
		source   usecase.TransferSource
		rules    usecase.RuleRepository
		eventLog handler.TransferEventLog
	)

	if cfg.DatabaseURL != "" {
		if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath, logger); err != nil {
			return nil, err
		}

		pool, err := postgres.NewPoolWithConfig(ctx, postgres.PoolConfig{
			DatabaseURL:    cfg.DatabaseURL,
			MaxConns:       cfg.DatabaseMaxConns,
			MinConns:       cfg.DatabaseMinConns,
			ConnectTimeout: cfg.DatabaseTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(pool.Close)
		checks["postgres"] = pool.Ping
		logger.Info().Msg("connected to postgres")

		ruleRepo := postgresRepo.NewRuleRepository(pool)
		for _, rule := range staticRules {
			if err := ruleRepo.Upsert(ctx, rule); err != nil {
				return nil, fmt.Errorf("store rule %s: %w", rule.ID, err)
			}
		}

		outboxRepo := postgresRepo.NewOutboxRepository(pool)
		tj := usecase.NewTransferJournal(
			postgresRepo.NewTxManager(pool),
			postgresRepo.NewTransferRepository(pool),
			outboxRepo,
			postgresRepo.NewRetrier(logger),
			idGen,
		)
		journal, source, rules, eventLog = tj, tj, ruleRepo, outboxRepo

		var publisher eventpublisher.Publisher = eventpublisher.NewLogPublisher(logger)
		if conn != nil {
			ch, err := conn.Channel()
			if err != nil {
				return nil, fmt.Errorf("open outbox channel: %w", err)
			}
			if publisher, err = eventpublisher.NewAMQPPublisher(ch, cfg.AMQPOutboxExchange); err != nil {
				return nil, err
			}
		}
		a.publisher = eventpublisher.NewEventPublisher(eventpublisher.Config{
			OutboxRepo: outboxRepo,
			Publisher:  publisher,
			Observer:   m,
			Logger:     logger,
			BatchSize:  cfg.OutboxBatchSize,
			Interval:   cfg.OutboxInterval,
			Retention:  cfg.OutboxRetention,
		})
	} else {
		mj := memory.NewJournal(0)
		journal, source = mj, mj
		rules = memory.NewRuleRepository(staticRules)
		logger.Warn().Msg("no database configured, transfer journal kept in memory")
	}

	var idempotency usecase.IdempotencyStore
	if cfg.RedisURL != "" {
		client, err := redis.NewClient(ctx, redis.Config{URL: cfg.RedisURL})
		if err != nil {
			return nil, err
		}
		a.onClose(func() { _ = client.Close() })
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info().Msg("connected to redis")

		rules = usecase.NewCachedRuleRepository(rules, redisRepo.NewCache(client), cfg.RuleCacheTTL, logger)
		idempotency = redisRepo.NewIdempotencyStore(client)
	}

	balanceFields := make(map[string]string, len(chains.Chains))
	interpreters := make(map[string]domain.PayloadInterpreter)
	for _, c := range chains.Chains {
		balanceFields[c.ID] = c.BalanceField
		if c.StrictStatus {
			interpreters[c.ID] = domain.StrictStatusInterpreter
		}
	}

	a.coordinator = usecase.NewSagaCoordinator(usecase.CoordinatorConfig{
		Store:              a.store,
		Gateway:            a.router,
		Journal:            journal,
		Metrics:            m,
		Logger:             logger,
		ChainBalanceFields: balanceFields,
		ChainInterpreters:  interpreters,
		LegSubmitTimeout:   cfg.LegSubmitTimeout,
		EarlyEventTTL:      cfg.EarlyEventTTL,
		EarlyEventCapacity: cfg.EarlyEventCapacity,
	})
	a.transfers = usecase.NewTransferUseCase(rules, a.store, journal, a.coordinator, idGen, logger)

	source, err = rehydrationSource(cfg.RehydrateFrom, chains.Registry, source, a.router, logger)
	if err != nil {
		return nil, err
	}
	if source != nil {
		a.rehydrator = usecase.NewRehydrator(source, a.store, a.coordinator, logger)
	}

	var limiter *middleware.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}

	expiry := usecase.NewExpiryUseCase(a.store, a.coordinator, cfg.LegExpiry, logger)
	a.scheduler = scheduler.New(logger, jobTimeout)
	if err := a.scheduler.Add("expire-stale-legs", cfg.ExpirySchedule, func(ctx context.Context) error {
		_, err := expiry.ExpireStale(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("schedule leg expiry: %w", err)
	}
	if limiter != nil {
		if err := a.scheduler.Add("rate-limit-cleanup", rateLimitCleanup, func(context.Context) error {
			limiter.Cleanup(rateLimitVisitorTTL)
			return nil
		}); err != nil {
			return nil, fmt.Errorf("schedule rate limit cleanup: %w", err)
		}
	}

	a.handler = httpAdapter.NewRouter(httpAdapter.RouterConfig{
		TransferHandler:  handler.NewTransferHandler(a.transfers, a.coordinator).WithEventLog(eventLog),
		EventHandler:     handler.NewEventHandler(a.coordinator, m, a.router.Chains()),
		HealthHandler:    handler.NewHealthHandler(checks),
		IdempotencyStore: idempotency,
		IdempotencyTTL:   cfg.IdempotencyTTL,
		RateLimiter:      limiter,
		Logger:           logger,
	})

	return a, nil
}

// rehydrationSource picks where in-flight transfers are restored from on boot.
// A nil source disables rehydration.
func rehydrationSource(
	from string,
	registry *config.RegistryConfig,
	journal usecase.TransferSource,
	gateway usecase.LedgerGateway,
	logger zerolog.Logger,
) (usecase.TransferSource, error) {
	switch from {
	case config.RehydrateFromJournal:
		return journal, nil
	case config.RehydrateFromLedger:
		if registry == nil {
			return nil, errors.New("rehydration from the ledger needs a registry in the chains file")
		}
		return ledger.NewRegistrySource(gateway, registry.ChainID, registry.Contract, registry.Method, logger), nil
	case config.RehydrateNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown rehydration source %q", from)
	}
}

// start restores in-flight transfers, subscribes to ledger events and starts
// the background jobs. They all stop when ctx is cancelled.
func (a *app) start(ctx context.Context) error {
	if a.rehydrator != nil {
		n, err := a.rehydrator.Run(ctx)
		if err != nil {
			return fmt.Errorf("rehydrate: %w", err)
		}
		a.logger.Info().Int("transfers", n).Msg("rehydrated in-flight transfers")
	}

	if err := a.router.SubscribeAll(ctx, a.coordinator.OnEvent); err != nil {
		return fmt.Errorf("subscribe to ledger events: %w", err)
	}

	a.scheduler.Start()

	if a.publisher != nil {
		go func() {
			if err := a.publisher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error().Err(err).Msg("event publisher stopped")
			}
		}()
	}

	return nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// close stops the scheduler and releases backends in reverse order of
// acquisition.
func (a *app) close() {
	if a.scheduler != nil {
		select {
		case <-a.scheduler.Stop().Done():
		case <-time.After(jobTimeout):
			a.logger.Warn().Msg("scheduled jobs still running at shutdown")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
