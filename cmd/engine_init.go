package main

import (
	"context"
	"errors"
	"io/fs"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/reconcile-cli/internal/anomaly"
	"github.com/sells-group/reconcile-cli/internal/engine"
	"github.com/sells-group/reconcile-cli/internal/monitoring"
	"github.com/sells-group/reconcile-cli/internal/quality"
	"github.com/sells-group/reconcile-cli/internal/registry"
	"github.com/sells-group/reconcile-cli/internal/review"
	"github.com/sells-group/reconcile-cli/internal/store"
)

// appEnv bundles the wired subsystems a command needs.
type appEnv struct {
	Store     store.Store
	Registry  *registry.Registry
	Engine    *engine.Engine
	Collector *monitoring.Collector
}

func (e *appEnv) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("store close", zap.Error(err))
	}
}

// initEngine opens the store, loads the source registry and anomaly config,
// rehydrates learned source accuracy, and assembles the engine facade.
func initEngine(ctx context.Context) (*appEnv, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	reg, err := registry.LoadFile(cfg.Registry.Path)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	// Overlay accuracy the feedback loop has already learned, then make
	// sure every registered source has a row.
	persisted, err := st.LoadSources(ctx)
	if err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	reg.ApplyAccuracies(persisted)
	if err := st.SeedSources(ctx, reg.All()); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}

	anomalyCfg, err := anomaly.LoadFile(cfg.Anomaly.Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			st.Close() //nolint:errcheck
			return nil, err
		}
		// Without a config file every range-based check is disabled.
		zap.L().Warn("anomaly config not found, range checks disabled",
			zap.String("path", cfg.Anomaly.Path))
		anomalyCfg = &anomaly.Config{}
	}

	eng := engine.New(engine.Config{
		HistoryLimit: cfg.Engine.HistoryLimit,
		Quality: quality.Config{
			FreshnessHalfLifeDays: cfg.Engine.FreshnessHalfLifeDays,
			ExpectedSources:       cfg.Engine.ExpectedSources,
		},
		Review: review.Config{
			Threshold:    cfg.Engine.ReviewThreshold,
			AccuracyStep: cfg.Engine.AccuracyStep,
		},
	}, st, reg, anomaly.NewDetector(anomalyCfg))

	return &appEnv{
		Store:     st,
		Registry:  reg,
		Engine:    eng,
		Collector: monitoring.NewCollector(st),
	}, nil
}

func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
