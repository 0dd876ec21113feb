package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatherObservations_ObsFlags(t *testing.T) {
	resolveMetric = "quarterly_revenue"
	resolveEntity = "acme"
	resolvePeriod = "2026-Q1"
	resolveObs = []string{"sec_edgar=1000000", "market_data=985000.5"}
	resolveInput = ""
	t.Cleanup(func() { resolveObs = nil })

	obs, err := gatherObservations()
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "sec_edgar", obs[0].SourceID)
	assert.Equal(t, 1000000.0, obs[0].Value)
	assert.Equal(t, "quarterly_revenue", obs[0].MetricName)
	assert.Equal(t, "acme", obs[0].EntityID)
	assert.Equal(t, "2026-Q1", obs[0].Period)
	assert.Equal(t, 985000.5, obs[1].Value)
}

func TestGatherObservations_MalformedFlag(t *testing.T) {
	resolveObs = []string{"sec_edgar"}
	resolveInput = ""
	t.Cleanup(func() { resolveObs = nil })

	_, err := gatherObservations()
	require.Error(t, err)

	resolveObs = []string{"sec_edgar=not-a-number"}
	_, err = gatherObservations()
	require.Error(t, err)
}

func TestGatherObservations_InputFileStampsKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obs.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"source_id": "market_data", "value": 985000},
		{"source_id": "analyst_consensus", "value": 1010000}
	]`), 0o600))

	resolveMetric = "quarterly_revenue"
	resolveEntity = "acme"
	resolvePeriod = "2026-Q1"
	resolveObs = nil
	resolveInput = path
	t.Cleanup(func() { resolveInput = "" })

	obs, err := gatherObservations()
	require.NoError(t, err)
	require.Len(t, obs, 2)
	for _, o := range obs {
		assert.Equal(t, "quarterly_revenue", o.MetricName)
		assert.Equal(t, "acme", o.EntityID)
		assert.Equal(t, "2026-Q1", o.Period)
	}
}

func TestReadObservationFile_Missing(t *testing.T) {
	_, err := readObservationFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
