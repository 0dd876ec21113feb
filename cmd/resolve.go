package main

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/reconcile-cli/internal/model"
)

var (
	resolveMetric string
	resolveEntity string
	resolvePeriod string
	resolveObs    []string
	resolveInput  string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Reconcile one metric unit from inline or file observations",
	Long: `Reconciles a single (metric, entity, period) unit. Observations come either
from repeated --obs source=value flags or from a JSON file of observation
objects via --input.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		observations, err := gatherObservations()
		if err != nil {
			return err
		}
		if len(observations) == 0 {
			return eris.New("no observations given: use --obs or --input")
		}

		key := model.MetricKey{
			MetricName: resolveMetric,
			EntityID:   resolveEntity,
			Period:     resolvePeriod,
		}
		result, err := env.Engine.Resolve(ctx, key, observations)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveMetric, "metric", "", "metric name (required)")
	resolveCmd.Flags().StringVar(&resolveEntity, "entity", "", "entity identifier (required)")
	resolveCmd.Flags().StringVar(&resolvePeriod, "period", "", "reporting period, e.g. 2026-Q1 (required)")
	resolveCmd.Flags().StringArrayVar(&resolveObs, "obs", nil, "observation as source=value (repeatable)")
	resolveCmd.Flags().StringVar(&resolveInput, "input", "", "JSON file of observation objects")
	resolveCmd.MarkFlagRequired("metric") //nolint:errcheck
	resolveCmd.MarkFlagRequired("entity") //nolint:errcheck
	resolveCmd.MarkFlagRequired("period") //nolint:errcheck
	rootCmd.AddCommand(resolveCmd)
}

// gatherObservations merges --obs flags and the --input file into one set,
// stamping the unit key onto each.
func gatherObservations() ([]model.Observation, error) {
	var out []model.Observation

	for _, raw := range resolveObs {
		sourceID, valueStr, ok := strings.Cut(raw, "=")
		if !ok || sourceID == "" {
			return nil, eris.Errorf("malformed --obs %q: want source=value", raw)
		}
		value, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			return nil, eris.Wrapf(err, "malformed --obs %q value", raw)
		}
		out = append(out, model.Observation{
			MetricName: resolveMetric,
			EntityID:   resolveEntity,
			Period:     resolvePeriod,
			SourceID:   sourceID,
			Value:      value,
		})
	}

	if resolveInput != "" {
		fromFile, err := readObservationFile(resolveInput)
		if err != nil {
			return nil, err
		}
		for _, o := range fromFile {
			o.MetricName = resolveMetric
			o.EntityID = resolveEntity
			o.Period = resolvePeriod
			out = append(out, o)
		}
	}

	return out, nil
}

func readObservationFile(path string) ([]model.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read observations %s", path)
	}
	var obs []model.Observation
	if err := json.Unmarshal(data, &obs); err != nil {
		return nil, eris.Wrapf(err, "parse observations %s", path)
	}
	return obs, nil
}
