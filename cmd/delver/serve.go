package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/delverhq/delver/internal/analyzer"
	"github.com/delverhq/delver/internal/config"
	"github.com/delverhq/delver/internal/crawler"
	"github.com/delverhq/delver/internal/fingerprint"
	"github.com/delverhq/delver/internal/metrics"
	"github.com/delverhq/delver/internal/pipeline"
	"github.com/delverhq/delver/internal/queue"
	"github.com/delverhq/delver/internal/search"
	"github.com/delverhq/delver/internal/server"
	"github.com/delverhq/delver/internal/storage"
	"github.com/delverhq/delver/internal/storage/jsonbackend"
	"github.com/delverhq/delver/internal/storage/postgres"
	"github.com/delverhq/delver/internal/storage/sqlite"
	"github.com/delverhq/delver/internal/template"
	"github.com/delverhq/delver/pkg/proxy"
	"github.com/delverhq/delver/pkg/useragent"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the research engine API server",
	RunE:  runServe,
}

var serveAPIKey string

func init() {
	serveCmd.Flags().StringVar(&serveAPIKey, "api-key", "", "Gemini API key (overrides GEMINI_API_KEY env var)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Server.Env == "development" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	apiKey := serveAPIKey
	if apiKey == "" {
		apiKey = cfg.Analyzer.APIKey
	}
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("analyzer API key required: set --api-key, analyzer.api_key, or GEMINI_API_KEY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	an, err := analyzer.NewGemini(ctx, apiKey, analyzer.GeminiConfig{
		Model:       cfg.Analyzer.Model,
		Temperature: float32(cfg.Analyzer.Temperature),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("creating analyzer: %w", err)
	}
	defer an.Close()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage backend %q: %w", cfg.Storage.Backend, err)
	}
	defer store.Close()

	providers, err := buildProviders(cfg.Search)
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		logger.Warn("no search providers configured; every job will fail its search phase")
	}
	aggregator := search.NewAggregator(providers, logger)

	cr, err := buildCrawler(cfg.Crawler, logger)
	if err != nil {
		return fmt.Errorf("creating crawler: %w", err)
	}

	templates := template.NewRegistry()
	orchestrator := pipeline.New(aggregator, cr, an, templates, store, pipeline.Config{
		CrawlConcurrency: cfg.Crawler.Concurrency,
	}, logger)

	q := queue.New(orchestrator, templates, queue.Config{
		Workers:     cfg.Queue.Workers,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		StartLimit:  cfg.Queue.StartLimit,
		StartWindow: cfg.Queue.StartWindow,
		Backlog:     cfg.Queue.Backlog,
	}, logger)

	srv := server.New(q, orchestrator, templates, logger)
	q.SetNotifier(srv.Notify)
	q.Start()

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.Start(cfg.Metrics.Port)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening", "port", cfg.Server.Port)
		errCh <- srv.Listen(":" + cfg.Server.Port)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	if err := srv.Shutdown(); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	q.Drain()
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			logger.Error("metrics shutdown", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return storage.NewMemory(), nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "delver.db"
		}
		return sqlite.New(dsn)
	case "postgres":
		return postgres.New(ctx, cfg.DSN)
	case "json":
		path := cfg.DSN
		if path == "" {
			path = "delver-jobs.ndjson"
		}
		return jsonbackend.New(path)
	default:
		return nil, fmt.Errorf("unknown backend")
	}
}

func buildProviders(cfg config.SearchConfig) ([]search.Provider, error) {
	providers := make([]search.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := search.NewHTTPProvider(search.HTTPProviderConfig{
			Name:     pc.Name,
			Endpoint: pc.URL,
			APIKey:   pc.APIKey,
			Weight:   pc.Weight,
		})
		if err != nil {
			return nil, fmt.Errorf("search provider %q: %w", pc.Name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

func buildCrawler(cfg config.CrawlerConfig, logger *slog.Logger) (*crawler.Crawler, error) {
	fetch := crawler.FetchConfig{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UAPool:       useragent.NewPool(cfg.UserAgents),
		Fingerprint:  fingerprint.Profile(cfg.Fingerprint),
	}
	if cfg.ProxyFile != "" {
		pool := proxy.NewPool(proxy.Config{})
		if err := pool.LoadFile(cfg.ProxyFile); err != nil {
			return nil, fmt.Errorf("loading proxies: %w", err)
		}
		fetch.ProxyPool = pool
	}
	return crawler.New(crawler.Config{
		Fetch:         fetch,
		RespectRobots: cfg.RespectRobots,
	}, logger)
}
