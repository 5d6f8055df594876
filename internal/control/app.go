// Package control assembles the pipeline and manages its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/minhvn/blockpulse/internal/api"
	"github.com/minhvn/blockpulse/internal/core/config"
	"github.com/minhvn/blockpulse/internal/core/domain"
	"github.com/minhvn/blockpulse/internal/fanout"
	"github.com/minhvn/blockpulse/internal/ingest"
	"github.com/minhvn/blockpulse/internal/ingest/metrics"
	"github.com/minhvn/blockpulse/internal/storage"
	"github.com/minhvn/blockpulse/internal/storage/memory"
	redisstore "github.com/minhvn/blockpulse/internal/storage/redis"
	"github.com/minhvn/blockpulse/internal/upstream"
)

// App is the assembled pipeline with all dependencies wired.
type App struct {
	cfg         *config.AppConfig
	redisClient *goredis.Client
	store       *storage.Router
	governor    *upstream.Governor
	subscriber  *upstream.Subscriber
	pipeline    *ingest.Pipeline
	headChecker *ingest.HeadChecker
	fanoutSrv   *fanout.Server
	apiServer   *api.Server
	log         *slog.Logger
}

// NewApp wires all components from configuration.
func NewApp(cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	// 1. Storage: Redis primary when configured, always an in-memory
	// fallback with the same capacity rule.
	var primary storage.Store
	var redisClient *goredis.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisstore.NewClient(redisstore.Config{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		primary = redisstore.NewStore(redisClient, cfg.Store.KeyPrefix, cfg.Store.Capacity, cfg.Store.Retention)
		log.Info("Using Redis primary store", "prefix", cfg.Store.KeyPrefix)
	} else {
		log.Info("No Redis configured, using in-memory storage only")
	}
	fallback := memory.NewStore(cfg.Store.Capacity)
	store := storage.NewRouter(primary, fallback, log)

	// 2. Fanout: local bus always, Redis pub/sub leg when available.
	localBus := fanout.NewLocalBus()
	var remote fanout.RemoteTransport
	if redisClient != nil {
		remote = fanout.NewRedisTransport(redisClient, cfg.Store.KeyPrefix+":live")
	}
	publisher := fanout.NewPublisher(localBus, remote, store.Degraded)
	fanoutSrv := fanout.NewServer(localBus, log)

	// 3. Upstream: governor, JSON-RPC client, fetch primitive.
	governor := upstream.NewGovernor(cfg.Upstream.GovernorBaseInterval)
	client := upstream.NewClient(cfg.Upstream.RPCURL, cfg.Upstream.RPCTimeout)
	fetcher := ingest.NewFetcher(client, governor, cfg.Ingest.FetchMaxRetries, log)

	// 4. Ingestion pipeline. The backfill sink routes recovered blocks
	// through the same persist-then-publish path as live ones.
	var pipeline *ingest.Pipeline
	sink := func(ctx context.Context, record *domain.BlockRecord) error {
		return pipeline.Persist(ctx, record)
	}
	engine := ingest.NewEngine(ingest.EngineConfig{
		BatchSize:        cfg.Ingest.BatchSize,
		BatchPause:       cfg.Ingest.BatchPause,
		SingleFlightWait: cfg.Ingest.SingleFlightWait,
	}, fetcher, sink, log)
	reconciler := ingest.NewReconciler(store, engine, log)
	pipeline = ingest.NewPipeline(ingest.PipelineConfig{
		MaxLiveGap: cfg.Ingest.MaxLiveGap,
	}, store, publisher, engine, reconciler, log)

	headChecker := ingest.NewHeadChecker(ingest.HeadCheckerConfig{
		Interval: cfg.Ingest.HeadCheckInterval,
		Cap:      cfg.Ingest.HeadCheckCap,
	}, client, store, engine, log)

	subscriber := upstream.NewSubscriber(upstream.SubscriberConfig{
		URL:                  cfg.Upstream.WSURL,
		MaxReconnectAttempts: cfg.Upstream.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Upstream.ReconnectBaseDelay,
	}, pipeline.HandleHead, log)

	apiServer := api.NewServer(cfg.Server.Port, store, subscriber, pipeline, reconciler, fanoutSrv, log)

	return &App{
		cfg:         cfg,
		redisClient: redisClient,
		store:       store,
		governor:    governor,
		subscriber:  subscriber,
		pipeline:    pipeline,
		headChecker: headChecker,
		fanoutSrv:   fanoutSrv,
		apiServer:   apiServer,
		log:         log,
	}, nil
}

// Start launches all components.
func (a *App) Start(ctx context.Context) error {
	go func() {
		a.log.Info("API server listening", "port", a.cfg.Server.Port)
		if err := a.apiServer.Start(); err != nil && err != http.ErrServerClosed {
			a.log.Error("API server failed", "error", err)
		}
	}()

	go func() {
		if err := a.subscriber.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("Upstream subscription terminated", "error", err)
		}
	}()

	go func() {
		if err := a.headChecker.Run(ctx); err != nil && ctx.Err() == nil {
			a.log.Error("Head checker terminated", "error", err)
		}
	}()

	go a.runMetricsUpdater(ctx)

	return nil
}

// Stop shuts the pipeline down: stop accepting API traffic, wait for
// supervised background jobs to notice cancellation, then close stores.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping blockpulse...")

	if err := a.apiServer.Stop(ctx); err != nil {
		a.log.Warn("API server shutdown error", "error", err)
	}

	done := make(chan struct{})
	go func() {
		a.pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("Timed out waiting for background jobs")
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	return nil
}

func (a *App) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.governor.Stats()
			metrics.GovernorInterval.Set(stats.MinInterval.Seconds())
			metrics.RateLimitHits.Set(float64(stats.RateLimitHits))
			metrics.FanoutSubscribers.Set(float64(a.fanoutSrv.ActiveConnections()))
			if a.store.Degraded() {
				metrics.StorageDegraded.Set(1)
			} else {
				metrics.StorageDegraded.Set(0)
			}
			if latest, err := a.store.LatestHeight(ctx); err == nil {
				metrics.LatestHeight.Set(float64(latest))
			}
		}
	}
}
