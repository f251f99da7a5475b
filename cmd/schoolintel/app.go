package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/scrypster/schoolintel/internal/cache"
	"github.com/scrypster/schoolintel/internal/config"
	"github.com/scrypster/schoolintel/internal/intel"
	"github.com/scrypster/schoolintel/internal/llm"
	"github.com/scrypster/schoolintel/internal/logger"
	"github.com/scrypster/schoolintel/internal/metrics"
	"github.com/scrypster/schoolintel/internal/school"
)

// app is built once per process and handed to every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	source   school.Source
	dir      *school.Directory
	client   *llm.Client
	cache    *cache.ResultCache
	svc      *intel.Service
}

func newApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	switch cfg.Data.Source {
	case "postgres":
		src, err := school.OpenPostgresSource(cfg.Data.PostgresDSN, cfg.Data.PostgresTable)
		if err != nil {
			return nil, err
		}
		a.source = src
	default:
		a.source = school.NewCSVSource(cfg.Data.CSVPath)
	}
	a.dir = school.NewDirectory(a.source, log)

	var store cache.Store
	if cfg.Cache.Enabled {
		store, err = cache.OpenStore(ctx, cfg.Cache)
		if err != nil {
			// The cache is an optimisation; run without it.
			log.Warn("cache unavailable, continuing without it",
				zap.String("backend", cfg.Cache.Backend), zap.Error(err))
			store = nil
		}
	}
	a.cache = cache.New(store, cfg.Cache.TTL(), cfg.Cache.Enabled, cache.WithLogger(log))

	// The model client connects lazily so commands that never generate
	// run without credentials.
	a.client = llm.NewClient(cfg.LLM, log)

	a.svc = intel.NewService(intel.Deps{
		Directory: a.dir,
		Generator: a.client,
		Cache:     a.cache,
		Logger:    log,
		Metrics:   metrics.New(a.registry),
		Features:  cfg.Features,
	})

	log.Debug("application ready",
		zap.String("data_source", a.source.Name()),
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Bool("cache_enabled", a.cache.Enabled()),
		zap.String("provider", cfg.LLM.Provider))
	return a, nil
}

// Close releases the cache store and data source.
func (a *app) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if err := a.cache.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close cache: %w", err))
	}
	if c, ok := a.source.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close data source: %w", err))
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
