/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the till engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, optional YAML, environment)
  2. Open the SQLite store (shifts, sessions, terminals, reasons)
  3. Choose the sale source: local SQLite or the sale system's Postgres
  4. Seed terminals and variance reasons from the catalog, if configured
  5. Build managers, handler, router and the session age monitor
  6. Start server with graceful shutdown

ENVIRONMENT:
  See config/config.go for every key. Common ones:
    TILL_HTTP_ADDR=":8080"
    TILL_SQLITE_PATH="./data/till.db"     (":memory:" for a throwaway store)
    TILL_SALE_SOURCE="postgres"
    TILL_POSTGRES_DSN="postgres://till@db/sales"
    TILL_CATALOG="./catalog.yaml"

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the session monitor
  2. Stop accepting new connections
  3. Wait for active requests to complete (shutdown_timeout)
  4. Close database connections
*/
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/warp/till-engine/api"
	"github.com/warp/till-engine/config"
	"github.com/warp/till-engine/factory"
	"github.com/warp/till-engine/metrics"
	"github.com/warp/till-engine/store/postgres"
	"github.com/warp/till-engine/store/sqlite"
	"github.com/warp/till-engine/till"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = logger.Level(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Sale source
	var (
		source till.TransactionSource = store
		writer till.TransactionWriter = store
		health                        = store.Ping
	)
	if cfg.SaleSource == config.SaleSourcePostgres {
		pg, err := postgres.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		source, writer = pg, nil
		health = func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				return err
			}
			return pg.Health(ctx)
		}
		logger.Info().Msg("reading sales from postgres")
	}

	// Reference data
	denominations, err := cfg.DenominationValues()
	if err != nil {
		return err
	}
	if cfg.CatalogPath != "" {
		catalog, err := factory.LoadFile(cfg.CatalogPath)
		if err != nil {
			return err
		}
		if err := catalog.Seed(ctx, store); err != nil {
			return err
		}
		if len(denominations) == 0 {
			denominations = catalog.Denominations
		}
		logger.Info().
			Int("terminals", len(catalog.Terminals)).
			Int("variance_reasons", len(catalog.VarianceReasons)).
			Msg("catalog seeded")
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	opts := []till.Option{till.WithLogger(logger), till.WithMetrics(m)}
	if len(denominations) > 0 {
		opts = append(opts, till.WithDenominations(denominations...))
	}

	validator := till.NewValidator(source)
	shifts := till.NewShiftManager(store, store, opts...)
	sessions := till.NewSessionManager(store, store, store, validator, opts...)
	settlements := till.NewSettlementEngine(store, store, validator, opts...)

	handler := api.NewHandler(shifts, sessions, settlements, store, writer, logger)
	router := api.NewRouter(handler, api.RouterConfig{
		JWTSecret:          cfg.JWTSecret,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		Logger:             logger,
		Gatherer:           prometheus.DefaultGatherer,
		Health:             health,
	})
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("no JWT secret configured, trusting " + api.OperatorHeader + " header")
	}

	monitor := api.NewSessionMonitor(sessions, m, logger)
	monitor.CheckInterval = cfg.MonitorInterval
	monitor.MaxAge = cfg.SessionMaxAge
	monitor.Start()
	defer monitor.Stop()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("till engine listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
