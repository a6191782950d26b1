// Command paymentd serves payment checkout and confirmation and runs the
// outbox relay and recovery jobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sourcegraph/conc"

	apppayment "github.com/coachpo/paygate/internal/app/payment"
	"github.com/coachpo/paygate/internal/app/relay"
	"github.com/coachpo/paygate/internal/domain/outboxstore"
	"github.com/coachpo/paygate/internal/domain/paymentstore"
	brokermemory "github.com/coachpo/paygate/internal/infra/broker/memory"
	"github.com/coachpo/paygate/internal/infra/broker/redisstream"
	"github.com/coachpo/paygate/internal/infra/config"
	"github.com/coachpo/paygate/internal/infra/persistence/memory"
	"github.com/coachpo/paygate/internal/infra/persistence/migrations"
	"github.com/coachpo/paygate/internal/infra/persistence/postgres"
	"github.com/coachpo/paygate/internal/infra/product"
	"github.com/coachpo/paygate/internal/infra/psp/toss"
	httpserver "github.com/coachpo/paygate/internal/infra/server/http"
	"github.com/coachpo/paygate/internal/infra/stream"
	"github.com/coachpo/paygate/internal/observability"
	"github.com/coachpo/paygate/internal/telemetry"
	libtelemetry "github.com/coachpo/paygate/lib/telemetry"
)

const (
	defaultConfigPath         = "config/app.yaml"
	shutdownTimeout           = 30 * time.Second
	lifecycleShutdownTimeout  = 10 * time.Second
	dispatcherShutdownTimeout = 10 * time.Second
	telemetryShutdownTimeout  = 5 * time.Second
	readHeaderTimeout         = 5 * time.Second
	poolName                  = "payments"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	appCfg, loadedFromFile, err := config.LoadOrDefault(ctx, resolveConfigPath(*cfgPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mode := observability.DevelopmentMode
	if appCfg.Environment == config.EnvProd {
		mode = observability.ProductionMode
	}
	zl, err := observability.NewZapLogger(mode)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := zl.With(observability.F("component", "paymentd"))
	observability.SetLogger(logger)

	if !loadedFromFile {
		logger.Info("configuration file not found, using defaults")
	}
	logger.Info("configuration initialised",
		observability.F("env", appCfg.Environment),
		observability.F("driver", appCfg.Database.Driver),
		observability.F("broker", appCfg.Relay.Broker))

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg)
	if err != nil {
		return err
	}
	metrics := telemetry.NewPaymentMetrics()
	_, shutdownTracing, err := libtelemetry.InitTracing(ctx, libtelemetry.TracingConfig{
		Endpoint:    appCfg.Telemetry.TraceEndpoint,
		ServiceName: appCfg.Telemetry.ServiceName,
		Environment: string(appCfg.Environment),
	})
	if err != nil {
		return fmt.Errorf("initialize tracing: %w", err)
	}

	stores, closeStores, err := openStores(ctx, logger, appCfg)
	if err != nil {
		return err
	}
	defer closeStores()

	broker, closeBroker, err := openBroker(ctx, logger, appCfg)
	if err != nil {
		return err
	}
	defer closeBroker()

	dispatcher, err := stream.NewDispatcher(broker, stores.outbox,
		stream.WithBufferSize(appCfg.Relay.BufferSize),
		stream.WithPublishTimeout(appCfg.Relay.PublishTimeout),
		stream.WithLogger(logger.With(observability.F("component", "dispatcher"))),
		stream.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("initialise dispatcher: %w", err)
	}

	executor, err := toss.NewExecutor(toss.Config{
		BaseURL:   appCfg.Toss.BaseURL,
		SecretKey: appCfg.Toss.SecretKey,
		Timeout:   appCfg.Toss.Timeout,
		Headers:   appCfg.Toss.Headers,
		Retry: toss.RetryPolicy{
			InitialInterval:     appCfg.Toss.Retry.InitialInterval,
			Multiplier:          appCfg.Toss.Retry.Multiplier,
			RandomizationFactor: appCfg.Toss.Retry.RandomizationFactor,
			MaxRetries:          appCfg.Toss.Retry.MaxRetries,
		},
	}, toss.WithLogger(logger.With(observability.F("component", "toss"))), toss.WithMetrics(metrics))
	if err != nil {
		return fmt.Errorf("initialise psp executor: %w", err)
	}

	committer := apppayment.NewStatusCommitter(stores.payments,
		apppayment.WithDispatcher(dispatcher),
		apppayment.WithPartitions(appCfg.Relay.Partitions),
		apppayment.WithCommitterLogger(logger))
	validator := apppayment.NewStoreValidator(stores.payments)
	handler := apppayment.NewErrorHandler(committer, logger)
	confirmSvc := apppayment.NewConfirmService(committer, validator, executor, handler,
		apppayment.WithConfirmLogger(logger), apppayment.WithConfirmMetrics(metrics))
	checkoutSvc := apppayment.NewCheckoutService(stores.payments, product.NewMockClient(), logger)
	recoverySvc := apppayment.NewRecoveryService(stores.payments, committer, validator, executor, handler,
		apppayment.RecoveryConfig{
			BatchSize:   appCfg.Recovery.BatchSize,
			StaleAfter:  appCfg.Recovery.StaleAfter,
			Parallelism: appCfg.Recovery.Parallelism,
		},
		apppayment.WithRecoveryLogger(logger.With(observability.F("component", "recovery"))),
		apppayment.WithRecoveryMetrics(metrics))
	relaySvc := relay.NewService(stores.outbox, dispatcher,
		relay.WithMinAge(appCfg.Relay.MinAge),
		relay.WithLogger(logger.With(observability.F("component", "relay"))),
		relay.WithMetrics(metrics))

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { relaySvc.Run(ctx, appCfg.Relay.InitialDelay, appCfg.Relay.Interval) })
	lifecycle.Go(func() { recoverySvc.Run(ctx, appCfg.Recovery.InitialDelay, appCfg.Recovery.Interval) })

	apiServer := &http.Server{
		Addr: appCfg.APIServer.Addr,
		Handler: httpserver.NewHandler(httpserver.Deps{
			Confirm:  confirmSvc,
			Checkout: checkoutSvc,
			Payments: stores.payments,
			Logger:   logger.With(observability.F("component", "http")),
			RateLimit: httpserver.RateLimit{
				RPS:   appCfg.RateLimit.RPS,
				Burst: appCfg.RateLimit.Burst,
			},
			ServiceName:    appCfg.Telemetry.ServiceName,
			AllowedOrigins: appCfg.APIServer.AllowedOrigins,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       appCfg.APIServer.ReadTimeout,
		WriteTimeout:      appCfg.APIServer.WriteTimeout,
	}
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server stopped", observability.Err(err))
			cancel()
		}
	})
	logger.Info("payment API listening", observability.F("addr", apiServer.Addr))

	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:        apiServer,
		serverTimeout: appCfg.APIServer.ShutdownTimeout,
		mainCancel:    cancel,
		lifecycle:     &lifecycle,
		dispatcher:    dispatcher,
		telemetry:     telemetryProvider,
		tracing:       shutdownTracing,
	})
	logger.Info("shutdown completed", observability.F("elapsed", time.Since(shutdownStart)))
	return nil
}

type storeSet struct {
	payments paymentstore.Store
	outbox   outboxstore.Store
}

func openStores(ctx context.Context, logger observability.Logger, cfg config.AppConfig) (storeSet, func(), error) {
	if cfg.Database.Driver == config.DriverMemory {
		db := memory.New()
		logger.Warn("using in-memory payment store; state is lost on restart")
		return storeSet{payments: db.Payments(), outbox: db.Outbox()}, func() {}, nil
	}

	if cfg.Database.RunMigrations {
		if err := migrations.ApplyEmbedded(ctx, cfg.Database.DSN, logger); err != nil {
			return storeSet{}, nil, fmt.Errorf("apply migrations: %w", err)
		}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return storeSet{}, nil, fmt.Errorf("parse database dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.Database.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.Database.HealthCheckPeriod
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return storeSet{}, nil, fmt.Errorf("connect database: %w", err)
	}
	store := postgres.New(pool)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return storeSet{}, nil, err
	}
	postgres.ObservePoolMetrics(pool, poolName)
	return storeSet{payments: store.Payments(), outbox: store.Outbox()}, store.Close, nil
}

func openBroker(ctx context.Context, logger observability.Logger, cfg config.AppConfig) (stream.Broker, func(), error) {
	if cfg.Relay.Broker == config.BrokerMemory {
		b := brokermemory.New()
		logger.Warn("using in-memory broker; confirmation events are not published externally")
		return b, b.Close, nil
	}
	redisCfg := redisstream.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Stream:   cfg.Relay.Stream,
		MaxLen:   cfg.Redis.MaxLen,
	}
	client := redisstream.NewClient(redisCfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	return redisstream.NewPublisher(client, redisCfg), closeRedis(client), nil
}

func closeRedis(client *redis.Client) func() {
	return func() { _ = client.Close() }
}

func initTelemetry(ctx context.Context, logger observability.Logger, appCfg config.AppConfig) (*telemetry.Provider, error) {
	cfg := telemetry.DefaultConfig()
	if appCfg.Telemetry.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = appCfg.Telemetry.OTLPEndpoint
	}
	if appCfg.Telemetry.ServiceName != "" {
		cfg.ServiceName = appCfg.Telemetry.ServiceName
	}
	cfg.Environment = string(appCfg.Environment)
	if appCfg.Telemetry.OTLPInsecure {
		cfg.OTLPInsecure = true
	}
	if appCfg.Telemetry.EnableMetrics {
		cfg.EnableMetrics = true
	}

	provider, err := telemetry.NewProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}
	if provider.Exporting() {
		logger.Info("telemetry initialized",
			observability.F("endpoint", cfg.OTLPEndpoint),
			observability.F("service", cfg.ServiceName))
	} else {
		logger.Info("telemetry disabled")
	}
	return provider, nil
}

type gracefulShutdownConfig struct {
	server        *http.Server
	serverTimeout time.Duration
	mainCancel    context.CancelFunc
	lifecycle     *conc.WaitGroup
	dispatcher    *stream.Dispatcher
	telemetry     *telemetry.Provider
	tracing       func(context.Context) error
}

func performGracefulShutdown(ctx context.Context, logger observability.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Info("shutdown step started", observability.F("step", name))
		if err := fn(stepCtx); err != nil {
			logger.Error("shutdown step failed", observability.F("step", name), observability.Err(err))
			return
		}
		logger.Info("shutdown step completed", observability.F("step", name))
	}

	if cfg.server != nil {
		shutdownStep("stopping api server", cfg.serverTimeout, cfg.server.Shutdown)
	}
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}
	if cfg.lifecycle != nil {
		shutdownStep("waiting for background jobs", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}
	if cfg.dispatcher != nil {
		shutdownStep("closing outbox dispatcher", dispatcherShutdownTimeout, cfg.dispatcher.Close)
	}
	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, cfg.telemetry.Shutdown)
	}
	if cfg.tracing != nil {
		shutdownStep("flushing traces", telemetryShutdownTimeout, cfg.tracing)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return filepath.Clean(defaultConfigPath)
}
