package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bibbank/reconciliation/internal/application/usecase"
	"github.com/bibbank/reconciliation/internal/domain/port"
	"github.com/bibbank/reconciliation/internal/domain/valueobject"
	"github.com/bibbank/reconciliation/internal/infrastructure/config"
	"github.com/bibbank/reconciliation/internal/infrastructure/currency"
	"github.com/bibbank/reconciliation/internal/infrastructure/memory"
	"github.com/bibbank/reconciliation/internal/infrastructure/messaging"
	"github.com/bibbank/reconciliation/internal/infrastructure/metrics"
	infraPG "github.com/bibbank/reconciliation/internal/infrastructure/postgres"
	grpcPresentation "github.com/bibbank/reconciliation/internal/presentation/grpc"
	"github.com/bibbank/reconciliation/internal/presentation/rest"
	"github.com/bibbank/reconciliation/pkg/events"
	kafkapkg "github.com/bibbank/reconciliation/pkg/kafka"
	"github.com/bibbank/reconciliation/pkg/observability"
	pgpkg "github.com/bibbank/reconciliation/pkg/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("reconciliation-service failed", "error", err)
		os.Exit(1)
	}
}

// storage bundles the repositories of one backend.
type storage struct {
	stores   func(kind valueobject.PayableKind) usecase.Stores
	tx       port.TxRunner
	outbox   events.OutboxRepository
	registry port.CurrencyRegistry
	checks   map[string]rest.Pinger
	close    func()
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := observability.InitLogger(observability.LogConfig{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Service:     cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
	})

	logger.Info("starting reconciliation-service",
		"http_port", cfg.HTTPPort,
		"grpc_port", cfg.GRPCPort,
		"storage", cfg.Storage,
		"kafka", cfg.Kafka.Enabled,
	)

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }() //nolint:errcheck
	}

	meterProvider, metricsHandler, err := observability.InitMetrics(observability.MetricsConfig{
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() { _ = meterProvider.Shutdown(context.Background()) }() //nolint:errcheck

	recorder, err := metrics.NewRecorder(meterProvider)
	if err != nil {
		return fmt.Errorf("init recorder: %w", err)
	}

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	// One use-case set per payable kind, sharing the transaction runner and outbox.
	retry := usecase.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialInterval: cfg.Retry.InitialInterval,
		MaxInterval:     cfg.Retry.MaxInterval,
	}
	var sets []*usecase.Set
	consumerUseCases := make(map[valueobject.PayableKind]messaging.PayableUseCases)
	for _, kind := range valueobject.PayableKinds() {
		core := usecase.NewCore(st.stores(kind), st.registry, st.tx, st.outbox,
			usecase.WithLogger(logger),
			usecase.WithMetrics(recorder),
			usecase.WithRetryPolicy(retry),
		)
		set := usecase.NewSet(core)
		sets = append(sets, set)
		consumerUseCases[kind] = messaging.PayableUseCases{
			Register: set.RegisterPayable,
			Reverse:  set.ReversePayableAllocations,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Kafka.Enabled {
		kafkaCfg := kafkapkg.Config{
			Brokers:       cfg.Kafka.Brokers,
			ConsumerGroup: cfg.Kafka.ConsumerGroup,
			TLS:           cfg.Kafka.TLS,
			SASLEnabled:   cfg.Kafka.SASLEnabled,
			SASLMechanism: cfg.Kafka.SASLMechanism,
			SASLUsername:  cfg.Kafka.SASLUsername,
			SASLPassword:  cfg.Kafka.SASLPassword,

			HandlerRetry: kafkapkg.RetryConfig{MaxAttempts: cfg.Kafka.HandlerAttempts},
		}
		if err := kafkaCfg.Validate(); err != nil {
			return fmt.Errorf("invalid kafka config: %w", err)
		}
		producer := kafkapkg.NewProducer(kafkaCfg)
		defer producer.Close()

		relay := messaging.NewOutboxRelay(st.outbox, st.tx, messaging.NewPublisher(producer), messaging.RelayConfig{
			Topic:        cfg.Kafka.EventsTopic,
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			Metrics:      recorder,
		}, logger)
		g.Go(func() error { return relay.Run(gctx) })

		handler := messaging.NewPayablesHandler(consumerUseCases, logger)
		consumer := kafkapkg.NewConsumer(kafkaCfg, cfg.Kafka.PayablesTopic, handler.Handle, logger)
		defer consumer.Close()
		g.Go(func() error { return consumer.Start(gctx) })
	} else {
		logger.Warn("kafka disabled, events stay in the outbox")
	}

	// gRPC server.
	grpcServer := grpcPresentation.NewServer(
		grpcPresentation.NewAllocationHandler(logger, sets...),
		grpcPresentation.ServerConfig{Reflection: cfg.GRPCReflection},
		logger,
	)
	g.Go(func() error { return grpcServer.Serve(fmt.Sprintf(":%d", cfg.GRPCPort)) })

	// HTTP server (health checks + metrics).
	mux := http.NewServeMux()
	rest.NewHealthHandler(logger, st.checks).RegisterRoutes(mux, metricsHandler)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("HTTP server starting", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Wait for shutdown, then stop the servers so the group can drain.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx) //nolint:errcheck
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("reconciliation-service stopped")
	return nil
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage, error) {
	registry, err := staticRegistry(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Storage == config.StorageMemory {
		logger.Warn("using in-memory storage, state is lost on restart")
		store := memory.NewStore()
		return &storage{
			stores: func(kind valueobject.PayableKind) usecase.Stores {
				return usecase.Stores{
					Kind:     kind,
					Payables: store.Payables(kind),
					Entries:  store.Entries(kind),
					Payments: store.Payments(kind),
				}
			},
			tx:       store,
			outbox:   store,
			registry: registry,
			close:    func() {},
		}, nil
	}

	pgCfg := pgpkg.Config{
		Host:            cfg.DB.Host,
		Port:            cfg.DB.Port,
		User:            cfg.DB.User,
		Password:        cfg.DB.Password,
		Database:        cfg.DB.Name,
		SSLMode:         cfg.DB.SSLMode,
		ApplicationName: cfg.Telemetry.ServiceName,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,

		StatementTimeout: cfg.DB.StatementTimeout,
		ConnectTimeout:   cfg.DB.ConnectTimeout,
	}
	// The pool waits for the database, so migrations run against a live server.
	pool, err := pgpkg.NewPool(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if cfg.DB.AutoMigrate {
		if err := infraPG.Migrate(pgCfg.DSN()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	pgRegistry := currency.NewPostgresRegistry(pool)
	if cfg.DB.SeedCurrency {
		if err := pgRegistry.Seed(ctx, registry.All()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("seed currencies: %w", err)
		}
	}

	return &storage{
		stores: func(kind valueobject.PayableKind) usecase.Stores {
			return usecase.Stores{
				Kind:     kind,
				Payables: infraPG.NewPayableRepo(pool, kind),
				Entries:  infraPG.NewEntryRepo(pool, kind),
				Payments: infraPG.NewPaymentRepo(pool, kind),
			}
		},
		tx:       pgpkg.NewTxRunner(pool),
		outbox:   infraPG.NewOutboxRepo(pool),
		registry: pgRegistry,
		checks: map[string]rest.Pinger{
			"postgres": func(ctx context.Context) error { return pgpkg.HealthCheck(ctx, pool) },
		},
		close: pool.Close,
	}, nil
}

// staticRegistry loads the currency reference data used by the memory backend
// and as the postgres seed.
func staticRegistry(cfg config.Config) (*currency.StaticRegistry, error) {
	if cfg.CurrencyFile == "" {
		return currency.Default(), nil
	}
	registry, err := currency.LoadFile(cfg.CurrencyFile)
	if err != nil {
		return nil, fmt.Errorf("load currencies: %w", err)
	}
	return registry, nil
}
