package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/endpoint-etl/internal/config"
	"github.com/Sternrassler/endpoint-etl/pkg/cache"
	"github.com/Sternrassler/endpoint-etl/pkg/client"
	"github.com/Sternrassler/endpoint-etl/pkg/expand"
	"github.com/Sternrassler/endpoint-etl/pkg/logging"
	"github.com/Sternrassler/endpoint-etl/pkg/pagination"
	"github.com/Sternrassler/endpoint-etl/pkg/ratelimit"
	"github.com/Sternrassler/endpoint-etl/pkg/registry"
	"github.com/Sternrassler/endpoint-etl/pkg/store/postgres"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// app holds the wired components shared by the run and expand commands.
type app struct {
	registry *registry.Registry
	fetcher  *pagination.Fetcher
	store    *postgres.Store
	expander *expand.Expander
	redis    *redis.Client
}

func newRegistry(cfg *config.Config) (*registry.Registry, error) {
	return registry.New(cfg.Source.Endpoints, registry.Options{
		BaseURL:        cfg.Source.BaseURL,
		Namespace:      cfg.Source.Namespace,
		Boilerplate:    cfg.Source.BoilerplateSegments,
		ExpandedSuffix: cfg.Ingest.ExpandedSuffix,
	})
}

// newClient builds the page client. rdb may be nil, which disables the page
// cache and the shared cooldown.
func newClient(cfg *config.Config, rdb *redis.Client) (*client.Client, error) {
	cc := client.DefaultConfig(cfg.Source.UserAgent)
	cc.Headers = cfg.Source.Headers
	cc.Timeout = cfg.Source.Timeout
	cc.Retry = client.RetryConfig{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.Multiplier,
	}
	if cfg.Source.MaxRPS > 0 {
		cc.RateLimit = rate.Limit(cfg.Source.MaxRPS)
		cc.Burst = max(1, int(cfg.Source.MaxRPS))
	}
	if rdb != nil {
		cc.Cooldown = ratelimit.NewTracker(rdb, logging.NewLogger("cooldown"))
		if cfg.Cache.TTL > 0 {
			cc.Cache = cache.NewManager(rdb, cache.Options{TTL: cfg.Cache.TTL, StaleTTL: cfg.Cache.StaleTTL})
		}
	}
	return client.New(cc)
}

func newPageFetcher(cfg *config.Config, c *client.Client) *pagination.Fetcher {
	pc := pagination.DefaultConfig(cfg.Source.BaseURL)
	pc.ResultsField = cfg.Source.ResultsField
	pc.NextField = cfg.Source.NextField
	pc.PageDelay = cfg.Pagination.PageDelay
	pc.MaxPages = cfg.Pagination.MaxPages
	return pagination.NewFetcher(c, pc)
}

func connectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return rdb, nil
}

// newApp connects to the databases and wires the pipeline components.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.NewLogger("cli")
	a := &app{}

	reg, err := newRegistry(cfg)
	if err != nil {
		return nil, err
	}
	a.registry = reg

	if cfg.Redis.URL != "" {
		rdb, err := connectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.redis = rdb
		logger.Info().Bool("page_cache", cfg.Cache.TTL > 0).Msg("Connected to Redis")
	}

	c, err := newClient(cfg, a.redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.fetcher = newPageFetcher(cfg, c)

	store, err := postgres.New(ctx, postgres.Config{
		DSN:          cfg.Database.DSN,
		Schema:       cfg.Schema,
		MaxConns:     cfg.Database.MaxConns,
		DropExisting: cfg.Ingest.DropExisting,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store
	if err := store.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	exp, err := expand.New(store, cfg.Ingest.ExpandedSuffix)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.expander = exp

	logger.Info().
		Str("schema", store.Schema().String()).
		Int("endpoints", len(reg.Keys())).
		Msg("Pipeline ready")
	return a, nil
}

// Close releases the connections held by a.
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
