package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/larder-app/larder/pkg/aggregator"
	"github.com/larder-app/larder/pkg/audit"
	"github.com/larder-app/larder/pkg/cache"
	"github.com/larder-app/larder/pkg/config"
	"github.com/larder-app/larder/pkg/discovery"
	"github.com/larder-app/larder/pkg/generation"
	"github.com/larder-app/larder/pkg/kv"
	"github.com/larder-app/larder/pkg/logging"
	"github.com/larder-app/larder/pkg/pantry"
	"github.com/larder-app/larder/pkg/ratelimit"
	"github.com/larder-app/larder/pkg/router"
	"github.com/larder-app/larder/pkg/sources"
	"github.com/larder-app/larder/pkg/synthesis"
)

// app holds the wired discovery core and everything that must be closed.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	store   *cache.Store
	auditor *audit.Logger
	orch    *discovery.Orchestrator
}

// loadConfig resolves configuration from the --env-file and --config flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}

	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openBackend(cfg config.StoreConfig) (kv.Store, error) {
	switch cfg.Backend {
	case "memory":
		return kv.NewMemory(), nil
	case "redis":
		return kv.NewRedis(cfg.RedisURL)
	default:
		return kv.NewSQLite(cfg.Path)
	}
}

// openCache opens only the result cache, for commands that never hit a source.
func openCache(cfg *config.Config, log *logrus.Logger) (*cache.Store, error) {
	backend, err := openBackend(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	c, err := cache.New(backend, cfg.Cache, log)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return c, nil
}

func newApp(cfg *config.Config, log *logrus.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.store, err = openCache(cfg, log); err != nil {
		return nil, err
	}

	srcs := make([]sources.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		src, err := sources.New(sc, log)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}
		srcs = append(srcs, src)
	}

	rt := router.New(srcs, cfg.Routes)
	searchers, err := rt.Searchers()
	if err != nil {
		return nil, err
	}
	resolvers, rerr := rt.Resolvers()
	if rerr != nil {
		log.WithError(rerr).Warn("barcode lookups disabled")
	}

	limiter := ratelimit.New(cfg.RateLimit)
	agg := aggregator.New(searchers, resolvers, limiter, cfg.FanOut, log)
	foodIndex := aggregator.FirstFoodIndex(srcs...)

	var provider synthesis.Provider
	if cfg.Synthesis.Enabled {
		p, err := synthesis.NewOpenAI(cfg.Synthesis.Config, log)
		if err != nil {
			return nil, fmt.Errorf("synthesis: %w", err)
		}
		provider = p
	}
	sessions := generation.NewManager(provider, cfg.Generation, log)

	var ps pantry.Store
	if cfg.Pantry.File != "" {
		fs, err := pantry.NewFileStore(cfg.Pantry.File)
		if err != nil {
			return nil, fmt.Errorf("pantry: %w", err)
		}
		ps = fs
	}

	var auditor discovery.Auditor
	if cfg.Audit.Enabled {
		if a.auditor, err = audit.New(cfg.Audit); err != nil {
			return nil, err
		}
		auditor = a.auditor
	}

	a.orch = discovery.New(cfg.Discovery, a.store, agg, ps, sessions, auditor, log).
		WithFoods(aggregator.NewFoods(foodIndex, limiter, log))
	log.WithFields(logrus.Fields{
		"sources":    len(srcs),
		"foods":      foodIndex != nil,
		"backend":    cfg.Store.Backend,
		"generation": sessions.Enabled(),
		"pantry":     ps != nil,
		"audit":      a.auditor != nil,
	}).Debug("discovery core ready")
	return a, nil
}

// openApp loads configuration and wires the discovery core.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, logging.New(cfg.Log))
}

// Close flushes pending audit writes and releases storage.
func (a *app) Close() {
	if a.orch != nil {
		a.orch.Close()
	}
	if a.auditor != nil {
		if err := a.auditor.Close(); err != nil {
			a.log.WithError(err).Warn("close audit log")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.WithError(err).Warn("close cache")
		}
	}
}
