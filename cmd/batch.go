package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sort"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/reconcile-cli/internal/engine"
	"github.com/sells-group/reconcile-cli/internal/model"
)

var (
	batchInput       string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Reconcile many units from an observation file",
	Long: `Reads a JSON array of observations carrying their own metric_name,
entity_id, and period, groups them into units, and reconciles each unit
concurrently. A unit failing does not abort the batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		data, err := os.ReadFile(batchInput)
		if err != nil {
			return eris.Wrapf(err, "read batch input %s", batchInput)
		}
		var observations []model.Observation
		if err := json.Unmarshal(data, &observations); err != nil {
			return eris.Wrapf(err, "parse batch input %s", batchInput)
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentUnits
		}

		return processBatch(ctx, observations, concurrency, env.Engine.Resolve)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchInput, "input", "", "JSON file of observations (required)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max concurrent units (default from config)")
	batchCmd.MarkFlagRequired("input") //nolint:errcheck
	rootCmd.AddCommand(batchCmd)
}

// resolveFunc is the callback signature for reconciling one unit.
type resolveFunc func(ctx context.Context, key model.MetricKey, obs []model.Observation) (*engine.Result, error)

// processBatch groups observations into units and reconciles them
// concurrently. Individual unit failures are logged, not fatal; the batch
// only aborts on context cancellation.
func processBatch(ctx context.Context, observations []model.Observation, concurrency int, resolveUnit resolveFunc) error {
	units := groupByUnit(observations)
	if len(units) == 0 {
		zap.L().Info("no observations to process")
		return nil
	}

	keys := make([]model.MetricKey, 0, len(units))
	for k := range units {
		keys = append(keys, k)
	}
	// Deterministic processing order regardless of input arrangement.
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].EntityID != keys[j].EntityID {
			return keys[i].EntityID < keys[j].EntityID
		}
		if keys[i].MetricName != keys[j].MetricName {
			return keys[i].MetricName < keys[j].MetricName
		}
		return keys[i].Period < keys[j].Period
	})

	zap.L().Info("processing batch",
		zap.Int("units", len(keys)),
		zap.Int("observations", len(observations)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed, queued atomic.Int64

	for _, key := range keys {
		obs := units[key]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			log := zap.L().With(
				zap.String("entity_id", key.EntityID),
				zap.String("metric", key.MetricName),
				zap.String("period", key.Period),
			)

			result, err := resolveUnit(gctx, key, obs)
			if err != nil {
				failed.Add(1)
				log.Error("unit resolution failed", zap.Error(err))
				return nil // don't abort batch on individual failure
			}
			succeeded.Add(1)
			if result.ReviewTask != nil {
				queued.Add(1)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch aborted")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Int64("queued_for_review", queued.Load()),
	)
	return nil
}

// groupByUnit buckets observations by their (metric, entity, period) key.
func groupByUnit(observations []model.Observation) map[model.MetricKey][]model.Observation {
	units := make(map[model.MetricKey][]model.Observation)
	for _, o := range observations {
		if o.MetricName == "" || o.EntityID == "" || o.Period == "" {
			zap.L().Warn("skipping observation missing unit key",
				zap.String("source_id", o.SourceID))
			continue
		}
		units[o.Key()] = append(units[o.Key()], o)
	}
	return units
}
