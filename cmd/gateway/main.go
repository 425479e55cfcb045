package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/pj-gateway-go/internal/config"
	"github.com/boddenberg/pj-gateway-go/internal/domain"
	"github.com/boddenberg/pj-gateway-go/internal/handler"
	"github.com/boddenberg/pj-gateway-go/internal/infra/cache"
	"github.com/boddenberg/pj-gateway-go/internal/infra/idempotency"
	"github.com/boddenberg/pj-gateway-go/internal/infra/memstore"
	"github.com/boddenberg/pj-gateway-go/internal/infra/observability"
	"github.com/boddenberg/pj-gateway-go/internal/infra/postgres"
	"github.com/boddenberg/pj-gateway-go/internal/infra/provider"
	"github.com/boddenberg/pj-gateway-go/internal/infra/resilience"
	"github.com/boddenberg/pj-gateway-go/internal/infra/secret"
	"github.com/boddenberg/pj-gateway-go/internal/port"
	"github.com/boddenberg/pj-gateway-go/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("database", cfg.DatabaseURL != ""),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Duration("directory_cache_ttl", cfg.DirectoryCacheTTL),
		zap.Duration("idempotency_ttl", cfg.IdempotencyTTL),
		zap.Duration("balance_timeout", cfg.BalanceTimeout),
		zap.Duration("statement_timeout", cfg.StatementTimeout),
		zap.Duration("transfer_timeout", cfg.TransferTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
	)

	ctx := context.Background()

	// --- Tracing ---
	endpoint := ""
	if cfg.TracingEnabled {
		endpoint = cfg.OTLPEndpoint
	}
	shutdown, err := observability.InitTracer(endpoint, "pj-gateway")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	var checks []handler.HealthCheck

	// --- Account store ---
	var store port.AccountStore
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if err := postgres.Migrate(db, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		sealer, err := secret.NewSealer(cfg.CredentialsKey)
		if err != nil {
			logger.Fatal("invalid credentials key", zap.Error(err))
		}
		store = postgres.NewAccountStore(db, sealer)
		checks = append(checks, handler.HealthCheck{Name: "postgres", Check: db.PingContext})
		logger.Info("account directory backed by postgres")
	} else {
		mem, err := memstore.LoadFile(cfg.AccountsFile)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("accounts file not found, starting with an empty directory", zap.String("path", cfg.AccountsFile))
			mem = memstore.New()
		case err != nil:
			logger.Fatal("failed to load accounts file", zap.String("path", cfg.AccountsFile), zap.Error(err))
		}
		store = mem
		logger.Info("account directory backed by memory", zap.String("path", cfg.AccountsFile))
	}

	// --- Transfer journal ---
	var journal port.IdempotencyStore
	if cfg.RedisURL != "" {
		rdb, err := idempotency.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()

		journal = idempotency.NewRedisStore(rdb)
		checks = append(checks, handler.HealthCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("transfer journal backed by redis")
	} else {
		memJournal := idempotency.NewMemoryStore()
		defer memJournal.Close()
		journal = memJournal
		logger.Warn("transfer journal kept in memory, idempotency does not survive restarts")
	}

	// --- Providers ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	callerCfg := provider.CallerConfig{
		Resilience: resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
		RPS:   cfg.ProviderRPS,
		Burst: cfg.ProviderBurst,
	}

	adapters := []port.Adapter{provider.NewSandbox(provider.WithOpeningBalance(1_000_000))}
	if urls := environments(cfg.CorebankURL, cfg.CorebankSandboxURL); len(urls) > 0 {
		caller := provider.NewCaller(provider.CorebankID, httpClient, callerCfg, metrics, logger)
		adapters = append(adapters, provider.NewCorebank(caller, urls))
	}
	if urls := environments(cfg.PayhubURL, cfg.PayhubSandboxURL); len(urls) > 0 {
		caller := provider.NewCaller(provider.PayhubID, httpClient, callerCfg, metrics, logger)
		adapters = append(adapters, provider.NewPayhub(caller, urls))
	}
	// an attempt never outlives TransferTimeout; the lease adds the same again as slack
	lease := 2 * cfg.TransferTimeout
	for i, a := range adapters {
		adapters[i] = provider.Idempotent(a, journal, lease, cfg.IdempotencyTTL, logger)
	}
	registry := provider.NewRegistry(adapters...)
	logger.Info("providers registered", zap.Any("providers", registry.Providers()))

	// --- Services ---
	accountCache := cache.New[*domain.Account](cfg.DirectoryCacheTTL)
	defer accountCache.Close()

	directory := service.NewDirectory(store, registry, accountCache, metrics, logger)
	gateway := service.NewGateway(directory, registry, service.Config{
		BalanceTimeout:       cfg.BalanceTimeout,
		StatementTimeout:     cfg.StatementTimeout,
		TransferTimeout:      cfg.TransferTimeout,
		MaxStatementSpanDays: cfg.MaxStatementSpanDays,
		MaxConcurrency:       cfg.MaxConcurrency,
	}, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Gateway:    gateway,
		Directory:  directory,
		Metrics:    metrics,
		Checks:     checks,
		AuthSecret: []byte(cfg.AuthSecret),
		Logger:     logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.TransferTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// environments maps the configured base URLs of a provider. A provider with
// no URL at all is left unregistered.
func environments(production, sandbox string) map[domain.Environment]string {
	urls := make(map[domain.Environment]string)
	if production != "" {
		urls[domain.EnvironmentProduction] = production
	}
	if sandbox != "" {
		urls[domain.EnvironmentSandbox] = sandbox
	}
	return urls
}
