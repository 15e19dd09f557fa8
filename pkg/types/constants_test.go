package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConstants(t *testing.T) {
	c := DefaultConstants()
	assert.Equal(t, CurrentConstantsVersion, c.Version)
	assert.Equal(t, 1e-6, c.GroundingResistance)
	assert.Equal(t, 0.01, c.WireResistance)
	assert.Equal(t, 1e-4, c.Epsilon)
	assert.Equal(t, 2.0, c.MPPTBatteryVoltageBuffer)
	assert.Equal(t, 5.0, c.VoltageMismatchTolerance)
	assert.Equal(t, 1.0, c.PowerMismatchTolerancePercentage)
	assert.Equal(t, 1e8, c.BehavioralGain)
	assert.Equal(t, 100, c.SweepIntervalCount)
	assert.Equal(t, 100, c.SolverMaxIterations)
	assert.Equal(t, 1e-9, c.SolverTolerance)
	assert.NoError(t, c.Validate())
}

func TestMigrateConstants(t *testing.T) {
	t.Run("v1: stamped current", func(t *testing.T) {
		in := DefaultConstants()
		in.Epsilon = 0
		c, changed, err := MigrateConstants(in, 1)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, CurrentConstantsVersion, c.Version)
		assert.Zero(t, c.Epsilon, "explicit zero is kept")
	})

	t.Run("no change: current version", func(t *testing.T) {
		in := DefaultConstants()
		c, changed, err := MigrateConstants(in, CurrentConstantsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, in, c)
	})

	t.Run("future version", func(t *testing.T) {
		_, _, err := MigrateConstants(DefaultConstants(), CurrentConstantsVersion+1)
		assert.Error(t, err)
	})
}

func TestConstantsValidate(t *testing.T) {
	t.Run("Zero Tolerances Are Allowed", func(t *testing.T) {
		c := DefaultConstants()
		c.Epsilon = 0
		c.VoltageMismatchTolerance = 0
		c.PowerMismatchTolerancePercentage = 0
		assert.NoError(t, c.Validate())
	})

	t.Run("Unusable Solver Settings", func(t *testing.T) {
		c := DefaultConstants()
		c.BehavioralGain = 0
		c.SolverMaxIterations = 0
		c.SweepIntervalCount = 0
		err := c.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "behavioral_gain")
		assert.Contains(t, err.Error(), "solver_max_iterations")
		assert.Contains(t, err.Error(), "sweep_interval_count")
	})
}
