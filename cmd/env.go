package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scoutline/leadharvest/internal/config"
	"github.com/scoutline/leadharvest/internal/control"
	"github.com/scoutline/leadharvest/internal/credentials"
	"github.com/scoutline/leadharvest/internal/notify"
	"github.com/scoutline/leadharvest/internal/pipeline"
	"github.com/scoutline/leadharvest/internal/qualify"
	"github.com/scoutline/leadharvest/internal/store"
	"github.com/scoutline/leadharvest/pkg/anthropic"
	"github.com/scoutline/leadharvest/pkg/apify"
)

// env bundles the wired application components for a command invocation.
type env struct {
	Store    store.Store
	Tasks    apify.Client
	Registry *control.Registry
	Notifier notify.Notifier
	Pipeline *pipeline.Pipeline
}

func (e *env) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// openStore picks the backend from config.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, eris.New("store.database_url is required for the postgres driver")
		}
		return store.NewPostgres(ctx, cfg.DatabaseURL, store.PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	case "sqlite":
		return store.NewSQLite(ctx, cfg.SQLitePath)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// initEnv wires the full pipeline from config.
func initEnv(ctx context.Context) (*env, error) {
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	tasks := apify.NewClient(
		apify.WithBaseURL(cfg.Scrape.BaseURL),
		apify.WithRequestsPerMinute(cfg.Scrape.RequestsPerMinute),
	)

	var qualifier qualify.Qualifier
	if cfg.Anthropic.Key != "" {
		qualifier = qualify.New(anthropic.NewClient(cfg.Anthropic.Key), qualify.Config{
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
		})
	}

	registry := control.NewRegistry()
	notifier := notify.FromConfig(cfg.Notify.WebhookURL)
	pool := credentials.NewPool(st, cfg.Pipeline.MaxRotations)

	pipe := pipeline.New(st, tasks, pool, qualifier, registry, notifier, pipeline.Config{
		DiscoveryActor:  cfg.Scrape.DiscoveryActor,
		HarvestActor:    cfg.Scrape.HarvestActor,
		EnrichActor:     cfg.Scrape.EnrichActor,
		RunMemoryMB:     cfg.Scrape.RunMemoryMB,
		EnrichBatchSize: cfg.Pipeline.EnrichBatchSize,
		PersistEvery:    cfg.Pipeline.PersistEvery,
		PollOptions: []apify.PollOption{
			apify.WithPollInterval(cfg.Pipeline.PollInterval()),
			apify.WithPollRetryLimit(cfg.Pipeline.PollRetryLimit),
			apify.WithPollCap(30 * time.Second),
		},
	})

	return &env{
		Store:    st,
		Tasks:    tasks,
		Registry: registry,
		Notifier: notifier,
		Pipeline: pipe,
	}, nil
}
