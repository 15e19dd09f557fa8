package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/solarproa/powersim/pkg/metrics"
	"github.com/solarproa/powersim/pkg/report"
	"github.com/solarproa/powersim/pkg/simulation"
	"github.com/solarproa/powersim/pkg/storage/storagemock"
	"github.com/solarproa/powersim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const circuitYAML = `
battery_setup:
  choice: lifepo4
  lifepo4:
    battery_in_parallel: 2
    battery_in_series: 2
    min_voltage: 12.8
    max_voltage: 14.6
    max_charge_current: 50
    max_discharge_current: 100
    capacity_ah: 100
    current_soc: 0.5
mppt_panel_setup:
  config_1:
    count: 1
    panel_info: {in_series: 1, in_parallel: 4, voltage: 20, power: 500}
    mppt_info: {max_input_voltage: 50, max_input_current: 120, max_output_voltage: 29, max_output_current: 100, efficiency: 0.95}
load_setup:
  motor: {nominal_voltage: 24, total_power: 2000, throttle: 0.5}
`

const voyageJSON = `{
	"voyage_info": {"name": "morning run"},
	"initial_battery_soc": 0.5,
	"segments": [
		{"duration_minutes": 60, "throttle": 0.5, "solar_power": 1},
		{"duration_minutes": 30, "throttle": 1, "solar_power": 0.2}
	]
}`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestKinds(t *testing.T) {
	t.Run("All With Voyage", func(t *testing.T) {
		a := &app{opts: options{simulationType: typeAll, voyage: "voyage.json"}}
		kinds, err := a.kinds()
		require.NoError(t, err)
		assert.Equal(t, simulation.Kinds, kinds)
	})

	t.Run("All Without Voyage", func(t *testing.T) {
		a := &app{opts: options{simulationType: typeAll}}
		_, err := a.kinds()
		assert.ErrorIs(t, err, errVoyageMissing)
	})

	t.Run("Voyage Without Voyage", func(t *testing.T) {
		a := &app{opts: options{simulationType: simulation.KindVoyage}}
		_, err := a.kinds()
		assert.ErrorIs(t, err, errVoyageMissing)
	})

	t.Run("Single Kind", func(t *testing.T) {
		a := &app{opts: options{simulationType: simulation.KindSweepThrottle}}
		kinds, err := a.kinds()
		require.NoError(t, err)
		assert.Equal(t, []string{simulation.KindSweepThrottle}, kinds)
	})

	t.Run("Unknown", func(t *testing.T) {
		a := &app{opts: options{simulationType: "sweep_everything"}}
		_, err := a.kinds()
		assert.ErrorIs(t, err, errUnknownType)
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Operating Point", func(t *testing.T) {
		dir := t.TempDir()
		db := &storagemock.MockDatabase{}
		db.On("SaveRun", mock.Anything, mock.MatchedBy(func(run types.Run) bool {
			return run.Kind == simulation.KindOperatingPoint && run.Name == "solar proa power network"
		})).Return(nil).Once()

		a := &app{
			opts: options{
				circuit:        writeFile(t, dir, "circuit.yaml", circuitYAML),
				output:         filepath.Join(dir, "out"),
				simulationType: simulation.KindOperatingPoint,
			},
			storage: db,
		}
		require.NoError(t, a.run(ctx))
		db.AssertExpectations(t)
		assert.FileExists(t, report.OperatingPointPath(a.opts.output))
		assert.NoDirExists(t, report.Dir(a.opts.output, simulation.KindSweepThrottle))
	})

	t.Run("All", func(t *testing.T) {
		dir := t.TempDir()
		db := &storagemock.MockDatabase{}
		db.On("SaveRun", mock.Anything, mock.Anything).Return(nil).Times(4)
		m, err := metrics.NewCollector(prometheus.NewRegistry())
		require.NoError(t, err)

		a := &app{
			opts: options{
				circuit:        writeFile(t, dir, "circuit.yaml", circuitYAML),
				constants:      writeFile(t, dir, "constants.json", `{"SWEEP_INTERVAL_COUNT": 4}`),
				voyage:         writeFile(t, dir, "voyage.json", voyageJSON),
				output:         filepath.Join(dir, "out"),
				simulationType: typeAll,
			},
			storage: db,
			metrics: m,
		}
		require.NoError(t, a.run(ctx))
		db.AssertExpectations(t)

		assert.FileExists(t, report.OperatingPointPath(a.opts.output))
		for _, kind := range []string{simulation.KindSweepThrottle, simulation.KindSweepPanelPower, simulation.KindVoyage} {
			assert.FileExists(t, filepath.Join(report.Dir(a.opts.output, kind), report.ResultsFile), kind)
			assert.FileExists(t, filepath.Join(report.Dir(a.opts.output, kind), report.WarningsFile), kind)
		}
		for _, kind := range simulation.Kinds {
			assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(kind)), kind)
		}
		assert.Greater(t, testutil.ToFloat64(m.Solves.WithLabelValues("ok")), 1.0)

		var voyageRun types.Run
		for _, call := range db.Calls {
			if run := call.Arguments.Get(1).(types.Run); run.Kind == simulation.KindVoyage {
				voyageRun = run
			}
		}
		assert.Equal(t, "morning run", voyageRun.Name)
		assert.False(t, voyageRun.Aborted)
	})

	t.Run("Without Storage", func(t *testing.T) {
		dir := t.TempDir()
		a := &app{opts: options{
			circuit:        writeFile(t, dir, "circuit.yaml", circuitYAML),
			output:         filepath.Join(dir, "out"),
			simulationType: simulation.KindOperatingPoint,
		}}
		require.NoError(t, a.run(ctx))
	})

	t.Run("Missing Circuit", func(t *testing.T) {
		dir := t.TempDir()
		a := &app{opts: options{
			circuit:        filepath.Join(dir, "missing.json"),
			output:         filepath.Join(dir, "out"),
			simulationType: simulation.KindOperatingPoint,
		}}
		assert.Error(t, a.run(ctx))
		assert.NoFileExists(t, report.OperatingPointPath(a.opts.output))
	})

	t.Run("Invalid Voyage", func(t *testing.T) {
		dir := t.TempDir()
		a := &app{opts: options{
			circuit:        writeFile(t, dir, "circuit.yaml", circuitYAML),
			voyage:         writeFile(t, dir, "voyage.json", `{"initial_battery_soc": 0.5, "segments": []}`),
			output:         filepath.Join(dir, "out"),
			simulationType: simulation.KindVoyage,
		}}
		assert.Error(t, a.run(ctx))
	})

	t.Run("Unknown Type Stops Before Loading", func(t *testing.T) {
		a := &app{opts: options{circuit: "does-not-matter.json", simulationType: "bogus"}}
		assert.ErrorIs(t, a.run(ctx), errUnknownType)
	})
}
