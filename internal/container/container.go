package container

import (
	"context"
	"fmt"

	"assetstore/extractor/internal/api"
	"assetstore/extractor/internal/client"
	"assetstore/extractor/internal/config"
	"assetstore/extractor/internal/domain"
	"assetstore/extractor/internal/downloader"
	"assetstore/extractor/internal/metrics"
	"assetstore/extractor/internal/parser"
	"assetstore/extractor/internal/proxy"
	"assetstore/extractor/internal/repository"
	"assetstore/extractor/internal/service"
	"assetstore/extractor/internal/state"
	"assetstore/extractor/internal/synth"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Container holds all initialized components
type Container struct {
	Config     *config.Config
	Metrics    *metrics.Metrics
	Fetcher    client.PageFetcher
	Records    repository.RecordRepository
	Trees      *repository.TreeStore
	Jobs       state.JobTracker
	Downloader downloader.Downloader

	Service *service.Service

	db    *pgxpool.Pool
	redis *redis.Client
}

// New creates a new container with all dependencies initialized. The page
// fetcher is only started when withFetcher is set, since thumbnail runs
// never load pages.
func New(ctx context.Context, cfg *config.Config, withFetcher bool) (*Container, error) {
	c := &Container{
		Config:  cfg,
		Metrics: metrics.New(),
	}

	if err := c.init(ctx, withFetcher); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Container) init(ctx context.Context, withFetcher bool) error {
	cfg := c.Config

	proxySupplier := proxy.NewProxySupplier(ctx, cfg.Fetcher.Proxies, cfg.Extractor.BaseURL)

	if withFetcher {
		fetcher, err := newFetcher(cfg.Fetcher, proxySupplier, c.Metrics)
		if err != nil {
			return err
		}
		c.Fetcher = fetcher
	}

	p, err := parser.New(cfg.Extractor.BaseURL)
	if err != nil {
		return err
	}

	c.Records = repository.NewFileRecordRepository(cfg.Extractor.OutputDir, cfg.Extractor.SourceExt)
	c.Trees = repository.NewTreeStore(cfg.Extractor.TreeFile)

	var sink repository.RecordSink
	if cfg.Database.Enabled {
		db, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		c.db = db

		if err := repository.EnsureSchema(ctx, db); err != nil {
			return err
		}
		sink = repository.NewPostgresSink(db)
		log.Info("✅ Connected to Postgres, records will be mirrored")
	}

	reconciler := repository.NewReconciler(c.Records, sink, cfg.Extractor.DryRun)

	c.Jobs = state.NewMemoryJobTracker()
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		c.redis = rdb

		if _, err := rdb.Ping(ctx).Result(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		log.Info("✅ Connected to Redis successfully")

		c.Jobs = state.NewRedisJobTracker(rdb, cfg.Redis.KeyPrefix)
	}

	c.Downloader = downloader.New(
		downloader.Config{
			UserAgent: cfg.Fetcher.UserAgent,
			Timeout:   cfg.Downloader.Timeout,
		},
		downloader.Options{
			Overwrite: cfg.Downloader.Overwrite,
			DryRun:    cfg.Extractor.DryRun,
		},
		proxySupplier,
		c.Metrics,
	)

	c.Service = service.NewService(service.Deps{
		Config:     cfg.Extractor,
		Downloads:  cfg.Downloader,
		Fetcher:    c.Fetcher,
		Parser:     p,
		Synth:      synth.New(),
		Records:    c.Records,
		Reconciler: reconciler,
		Trees:      c.Trees,
		Downloader: c.Downloader,
		Jobs:       c.Jobs,
		Metrics:    c.Metrics,
	})

	return nil
}

// newFetcher builds the configured page fetcher behind the LRU cache.
func newFetcher(cfg config.FetcherConfig, proxySupplier proxy.ProxySupplier, m *metrics.Metrics) (client.PageFetcher, error) {
	var (
		fetcher client.PageFetcher
		err     error
	)

	switch cfg.Mode {
	case "http":
		fetcher = client.NewHTTPFetcher(cfg, proxySupplier, m)
	default:
		fetcher, err = client.NewBrowserFetcher(cfg, m)
		if err != nil {
			return nil, fmt.Errorf("failed to start browser session: %w", err)
		}
	}

	log.Infof("✅ Using %s fetcher", fetcherName(cfg.Mode))

	return client.NewCachingFetcher(fetcher, cfg.CacheSize, m)
}

func fetcherName(mode string) string {
	if mode == "http" {
		return "HTTP"
	}
	return "browser"
}

// Run executes one pass and records it as a job.
func (c *Container) Run(ctx context.Context, pass domain.Pass) (domain.Summary, error) {
	job, err := c.Service.RunPass(ctx, pass)
	return job.Summary, err
}

// Serve runs the API until ctx is cancelled. Jobs still running are allowed
// to observe the cancellation before Serve returns.
func (c *Container) Serve(ctx context.Context) error {
	handlers := api.NewHandlers(ctx, c.Records, c.Trees, c.Jobs, c.Service)
	err := api.Serve(ctx, c.Config.Server.Addr(), api.NewRouter(handlers, c.Metrics))

	c.Service.Wait()
	return err
}

// Close performs cleanup when shutting down
func (c *Container) Close() error {
	log.Info("Shutting down container...")

	if c.Fetcher != nil {
		if err := c.Fetcher.Close(); err != nil {
			log.Warnf("⚠️ Failed to close fetcher: %v", err)
		}
	}
	if c.Downloader != nil {
		if err := c.Downloader.Close(); err != nil {
			log.Warnf("⚠️ Failed to close downloader: %v", err)
		}
	}
	if c.db != nil {
		c.db.Close()
	}
	if c.redis != nil {
		c.redis.Close()
	}

	log.Info("Container shut down successfully")
	return nil
}
