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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-pq/internal/api"
	"github.com/miradorstack/mirador-pq/internal/cache"
	"github.com/miradorstack/mirador-pq/internal/config"
	"github.com/miradorstack/mirador-pq/internal/engine"
	"github.com/miradorstack/mirador-pq/internal/metrics"
	"github.com/miradorstack/mirador-pq/internal/patterns"
	"github.com/miradorstack/mirador-pq/internal/repo"
	"github.com/miradorstack/mirador-pq/internal/services"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

const healthInterval = 10 * time.Second

// store is what both backends offer: events, rules and lifecycle.
type store interface {
	services.EventStore
	services.EventImporter
	repo.RuleBackend
	api.Pinger
	Close() error
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, gRPC health and metrics servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, os.Stdout)
	logger.Info("starting mirador-pq",
		slog.String("http_address", cfg.Server.HTTPAddress),
		slog.String("store", cfg.Store.Driver),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	rules, closeRules, err := buildRuleStore(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	defer closeRules()

	correlationEngine := engine.NewCorrelationEngine(utils.Component(logger, "correlation"), engine.CorrelationConfig{
		Window: cfg.Correlation.Window,
		Key:    engine.ClusterKey(cfg.Correlation.Key),
	})
	logger.Info("correlation configured",
		slog.Duration("window", correlationEngine.Config().Window),
		slog.String("key", string(correlationEngine.Config().Key)),
	)
	correlationService := services.NewCorrelationService(logger, st, correlationEngine)
	ruleService := services.NewRuleService(logger, rules, st)
	miner := patterns.NewMiner(utils.Component(logger, "patterns"), cfg.Analytics.SuggestMinSamples)
	analyticsService := services.NewAnalyticsService(logger, st, rules, miner, cfg.Analytics.TopN)

	pack, err := engine.LoadRulePack(cfg.Rules.Path)
	if err != nil {
		return fmt.Errorf("load rule pack: %w", err)
	}
	seeded, err := ruleService.SeedRules(ctx, pack)
	if err != nil {
		return err
	}
	if seeded > 0 {
		logger.Info("rule pack seeded", slog.String("path", cfg.Rules.Path), slog.Int("rules", seeded))
	}

	handler := api.NewHandler(utils.Component(logger, "http"), correlationService, ruleService, analyticsService, st, st)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	var grpcServer *api.Server
	if cfg.Server.GRPCAddress != "" {
		grpcServer, err = api.NewServer(cfg.Server, st, utils.Component(logger, "grpc"))
		if err != nil {
			return fmt.Errorf("create gRPC server: %w", err)
		}
		go grpcServer.WatchHealth(ctx, healthInterval)
		go func() {
			logger.Info("grpc health server listening", slog.String("address", grpcServer.Address()))
			if serveErr := grpcServer.Start(); serveErr != nil {
				logger.Error("gRPC server exited", slog.Any("error", serveErr))
				stop()
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}

	logger.Info("mirador-pq stopped")
	return nil
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		st, err := repo.NewSQLiteStore(cfg.Path, utils.Component(logger, "sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	default:
		logger.Warn("using the in-memory store; events and rules are lost on restart")
		return repo.NewMemoryStore(), nil
	}
}

// buildRuleStore layers Redis statistics and the rule-list cache over the backend.
// The returned func releases any Redis clients it opened.
func buildRuleStore(ctx context.Context, cfg *config.Config, backend repo.RuleBackend, logger *slog.Logger) (repo.RuleBackend, func(), error) {
	var clients []*redis.Client
	release := func() {
		for _, client := range clients {
			_ = client.Close()
		}
	}

	rules := backend
	if stats := cfg.Statistics.Redis; stats.Enabled {
		client, err := repo.NewRedisClient(ctx, repo.RedisOptions{Addr: stats.Addr, Password: stats.Password, DB: stats.DB})
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("connect statistics redis: %w", err)
		}
		clients = append(clients, client)
		rules = repo.NewRedisStatistics(rules, client, utils.Component(logger, "rule-stats"))
		logger.Info("rule statistics kept in redis", slog.String("addr", stats.Addr))
	}

	var provider cache.Provider
	switch cfg.Cache.Driver {
	case config.CacheLocal:
		provider = cache.NewLocalProvider(cfg.Cache.Size, cfg.Cache.RuleTTL)
	case config.CacheRedis:
		opts := cfg.Cache.Redis
		client, err := repo.NewRedisClient(ctx, repo.RedisOptions{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
		if err != nil {
			// The cache is optional; classification falls back to the store.
			logger.Warn("redis cache unavailable", slog.Any("error", err))
			break
		}
		clients = append(clients, client)
		provider = cache.NewRedisProvider(client, "mirador:pq:cache:")
	}
	if provider != nil {
		rules = repo.NewCachedRules(rules, provider, cfg.Cache.RuleTTL, utils.Component(logger, "rule-cache"))
	}
	return rules, release, nil
}
