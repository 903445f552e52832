package infrastructure

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pointledger/internal/config"
	"pointledger/internal/journal"
	"pointledger/internal/repository"
	"pointledger/internal/service"
	transportGRPC "pointledger/internal/transport/grpc"
	transportHTTP "pointledger/internal/transport/http"
	transportNATS "pointledger/internal/transport/nats"
	"pointledger/internal/tutor"
	"pointledger/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context, log zerolog.Logger) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	var cleanupFns []func()
	fail := func(err error) (*App, func(), error) {
		runCleanup(cleanupFns)()
		return nil, nil, err
	}

	// ── Connections ───────────────────────────────────────────────────────────
	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = connectRedis(cfg.RedisAddr(), cfg.RedisPassword)
		if err != nil {
			return fail(fmt.Errorf("connect redis: %w", err))
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
	}

	var db *pgxpool.Pool
	if cfg.NeedsPostgres() {
		db, err = connectPostgres(cfg.DSN(), cfg.DBMaxConns)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		cleanupFns = append(cleanupFns, db.Close)
	}

	var nc *nats.Conn
	if cfg.BusProvider == "nats" || cfg.WorkerProvider == "nats" {
		nc, err = connectNats(cfg.NatsAddr(), log)
		if err != nil {
			return fail(fmt.Errorf("connect nats: %w", err))
		}
		cleanupFns = append(cleanupFns, nc.Close)
	}

	// ── Ledger store ─────────────────────────────────────────────────────────
	var store repository.Store
	switch cfg.StoreProvider {
	case "mongo":
		client, err := connectMongo(cfg.MongoURI)
		if err != nil {
			return fail(fmt.Errorf("connect mongo: %w", err))
		}
		cleanupFns = append(cleanupFns, func() { _ = client.Disconnect(context.Background()) })
		ms := repository.NewMongoStore(client.Database(cfg.MongoDatabase), cfg.MongoCollection)
		if err := ms.EnsureIndexes(ctx); err != nil {
			return fail(fmt.Errorf("ensure mongo indexes: %w", err))
		}
		store = ms
	case "postgres":
		store = repository.NewPostgresStore(db)
	case "redis":
		store = repository.NewRedisStore(rdb)
	case "memory":
		log.Warn().Msg("using in-memory store, balances are lost on restart")
		store = repository.NewMemoryStore()
	}

	// ── Journal ──────────────────────────────────────────────────────────────
	var jrnl journal.Store
	switch cfg.JournalProvider {
	case "postgres":
		jrnl = journal.NewPostgresStore(db)
	case "sqlite":
		s, err := journal.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return fail(err)
		}
		cleanupFns = append(cleanupFns, func() { _ = s.Close() })
		jrnl = s
	}

	var processor *worker.Processor
	if jrnl != nil {
		processor = worker.NewProcessor(jrnl, log)
	}

	// ── Bus ──────────────────────────────────────────────────────────────────
	var bus repository.MessageBus
	switch cfg.BusProvider {
	case "nats":
		bus = transportNATS.NewBus(nc)
	case "grpc":
		grpcBus, cleanup, err := transportGRPC.NewGrpcBusFromAddr(cfg.GRPCAddr())
		if err != nil {
			return fail(fmt.Errorf("dial grpc bus: %w", err))
		}
		cleanupFns = append(cleanupFns, cleanup)
		bus = grpcBus
	default:
		bus = repository.NewLogBus(log)
	}
	bus = journalBus(cfg.WorkerProvider, bus, processor)

	// ── Service ──────────────────────────────────────────────────────────────
	var idem repository.IdempotencyGuard = repository.NewMemoryIdempotency()
	if rdb != nil {
		idem = repository.NewRedisIdempotency(rdb, "")
	}

	opts := []service.Option{
		service.WithPolicy(service.Policy{
			CycleLength:     cfg.CycleLength,
			ReplenishAmount: cfg.ReplenishAmount,
			MaxBalance:      cfg.MaxBalance,
			InitialGrant:    cfg.InitialGrant,
			CreditAmount:    cfg.CreditAmount,
		}),
		service.WithBus(bus),
		service.WithIdempotency(idem, cfg.IdempotencyTTL),
		service.WithLogger(log),
	}
	if jrnl != nil {
		opts = append(opts, service.WithJournal(jrnl))
	}
	ledger := service.NewPointLedger(store, opts...)
	var svc service.LedgerService = ledger

	catalog, err := service.LoadCatalog(cfg.FeatureCostsFile)
	if err != nil {
		return fail(err)
	}

	// ── Servers ──────────────────────────────────────────────────────────────
	var servers []Server

	var events transportGRPC.EventHandler
	if processor != nil {
		switch cfg.WorkerProvider {
		case "nats":
			servers = append(servers, worker.NewTransactionWorker(processor, nc))
		case "grpc":
			// The gRPC server acts as the worker through EventService.Publish.
			events = processor
		case "none":
			log.Info().Str("journal", cfg.JournalProvider).Msg("no worker configured, journaling events inline")
		}
	} else if cfg.WorkerProvider != "none" {
		log.Warn().Str("worker", cfg.WorkerProvider).Msg("journal disabled, ledger events are not recorded")
	}

	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(svc, nc, log))
	}

	servers = append(servers, transportGRPC.NewServer(cfg.GRPCListenAddr(), svc, events, log))

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		tc := tutor.New(cfg.DeepSeekBaseURL, cfg.DeepSeekAPIKey, cfg.DeepSeekModel, cfg.DeepSeekTimeout)
		if !tc.Configured() {
			log.Warn().Msg("POINTS_DEEPSEEK_API_KEY not set, feature endpoints will answer 503")
		}
		h := transportHTTP.NewHandler(svc, catalog, tc, transportHTTP.Options{
			JWTSecret:           cfg.JWTSecret,
			AdminToken:          cfg.AdminToken,
			StripeWebhookSecret: cfg.StripeWebhookSecret,
			CreditAmount:        cfg.CreditAmount,
		}, log)
		servers = append(servers, transportHTTP.NewServer(addr, h, cfg.CORSAllowedOrigins, log))
	} else {
		log.Info().Err(apiErr).Msg("http api not started")
	}

	log.Info().
		Str("store", cfg.StoreProvider).
		Str("bus", cfg.BusProvider).
		Str("worker", cfg.WorkerProvider).
		Str("journal", cfg.JournalProvider).
		Int("servers", len(servers)).
		Msg("application wired")

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// journalBus records events as they are published when a journal is
// configured but no worker consumes the bus.
func journalBus(workerProvider string, bus repository.MessageBus, p *worker.Processor) repository.MessageBus {
	if p == nil || workerProvider != "none" {
		return bus
	}
	return worker.NewJournalBus(p, bus)
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
