package simulation

import (
	"context"
	"testing"
	"time"

	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/result"
	"github.com/solarproa/powersim/pkg/solver"
	"github.com/solarproa/powersim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// scenario is a 2S2P LiFePO4 bank at half charge, one 2 kW solar sub-array
// and a 2 kW motor at half throttle.
func scenario() types.Circuit {
	return types.Circuit{
		BatteryChoice: "lifepo4",
		Battery: types.BatteryConfig{
			InParallel:          2,
			InSeries:            2,
			MinVoltage:          types.Float(12.8),
			MaxVoltage:          types.Float(14.6),
			MaxChargeCurrent:    50,
			MaxDischargeCurrent: 100,
			CapacityAH:          100,
			CurrentSOC:          types.Float(0.5),
		},
		SolarGroups: []types.SolarGroup{{
			Name:  "config_1",
			Count: 1,
			Panel: types.PanelInfo{InSeries: 1, InParallel: 4, Voltage: 20, Power: 500},
			MPPT: types.MPPTInfo{
				MaxInputVoltage:  50,
				MaxInputCurrent:  120,
				MaxOutputVoltage: 29,
				MaxOutputCurrent: 100,
				Efficiency:       0.95,
			},
		}},
		Loads: []types.LoadConfig{{Name: "motor", NominalVoltage: 24, TotalPower: 2000, Throttle: types.Float(0.5)}},
	}
}

func newSimulator(c types.Circuit) *Simulator {
	k := types.DefaultConstants()
	return NewSimulator(c, k, solver.New(k))
}

type failingSolver struct {
	err error
}

func (s failingSolver) Solve(context.Context, *network.Topology) (solver.Solution, error) {
	return solver.Solution{}, s.err
}

func TestSimulatorRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Operating Point", func(t *testing.T) {
		sim := newSimulator(scenario())
		sim.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
		r := sim.Run(ctx, types.Overrides{})
		require.True(t, r.Analyzed)
		assert.Empty(t, r.Errors.Data)
		assert.Empty(t, r.Warnings.Data)
		assert.Empty(t, r.Unmatched)
		assert.True(t, r.Valid())

		mppt := 0.95 * 2000 / 29.4
		load := 1000 / 27.4
		assert.InDelta(t, mppt, r.MPPTOutputCurrent(), 1e-3)
		assert.InDelta(t, mppt, r.MPPTCurrent(0), 1e-3)
		assert.InDelta(t, load, r.LoadCurrent(0), 1e-3)
		assert.InDelta(t, mppt-load, r.BatteryInputCurrent(), 1e-3)
		assert.InDelta(t, 0, r.LoadBalancerCurrent(), 1e-6)
		assert.InDelta(t, 27.4, r.DCBusVoltage(), 0.5)

		assert.Equal(t, "solar proa power network", r.Info.Name)
		assert.Equal(t, "2026-03-01T12:00:00Z", r.Info.Date)
		assert.NotEmpty(t, r.Info.RunID)
		assert.NotEmpty(t, r.Info.Version)
	})

	t.Run("Overcharge Is Shunted", func(t *testing.T) {
		c := types.Circuit{
			Battery: types.BatteryConfig{
				InParallel:          1,
				InSeries:            2,
				MinVoltage:          types.Float(12.8),
				MaxVoltage:          types.Float(14.6),
				MaxChargeCurrent:    10,
				MaxDischargeCurrent: 100,
				CapacityAH:          100,
				CurrentSOC:          types.Float(0.5),
			},
			SolarGroups: []types.SolarGroup{{
				Count: 1,
				Panel: types.PanelInfo{InSeries: 1, InParallel: 1, Voltage: 20, Power: 1470},
				MPPT: types.MPPTInfo{
					MaxInputVoltage:  50,
					MaxInputCurrent:  100,
					MaxOutputVoltage: 28,
					MaxOutputCurrent: 100,
					Efficiency:       1,
				},
			}},
			Loads: []types.LoadConfig{{Name: "motor", NominalVoltage: 24, TotalPower: 2000, Throttle: types.Float(0)}},
		}
		r := newSimulator(c).Run(ctx, types.Overrides{})
		require.True(t, r.Analyzed)
		assert.Empty(t, r.Errors.Data)
		assert.Equal(t, []string{"Battery is overcharged by 40.00 A"}, r.Warnings.Data)
		assert.InDelta(t, 50, r.MPPTOutputCurrent(), 1e-3)
		assert.InDelta(t, 40, r.LoadBalancerCurrent(), 1e-3)
		assert.InDelta(t, 10, r.BatteryInputCurrent(), 1e-3)
	})

	t.Run("Discharge Limit Restricts The Load", func(t *testing.T) {
		c := scenario()
		c.Loads[0].TotalPower = 10000
		c.Loads[0].Throttle = types.Float(1)
		r := newSimulator(c).Run(ctx, types.Overrides{SolarPower: types.Float(0)})
		require.True(t, r.Analyzed)
		assert.Empty(t, r.Errors.Data)
		assert.InDelta(t, -200, r.BatteryInputCurrent(), 1e-2)
		require.Len(t, r.Warnings.Data, 1)
		assert.Contains(t, r.Warnings.Data[0], "Battery array is being over-discharged. Load motor has been restricted to")
		assert.Contains(t, r.Warnings.Data[0], "instead of 100.00% throttle level.")
	})

	t.Run("Shared Discharge Limit Never Reverses A Load", func(t *testing.T) {
		c := scenario()
		c.Battery.MaxDischargeCurrent = 50
		c.Loads = []types.LoadConfig{
			{Name: "house", NominalVoltage: 24, TotalPower: 274, Throttle: types.Float(1)},
			{Name: "motor", NominalVoltage: 24, TotalPower: 5480, Throttle: types.Float(1)},
		}
		r := newSimulator(c).Run(ctx, types.Overrides{SolarPower: types.Float(0)})
		require.True(t, r.Analyzed)
		assert.Empty(t, r.Errors.Data)
		for i := range c.Loads {
			assert.GreaterOrEqual(t, r.LoadCurrent(i), -1e-9, "load %d", i)
		}
		assert.InDelta(t, 0, r.LoadCurrent(0), 1e-6)
		assert.InDelta(t, 100, r.LoadCurrent(1), 1e-3)
		assert.InDelta(t, 100, r.TotalLoadCurrent(), 1e-3)
		assert.InDelta(t, -100, r.BatteryInputCurrent(), 1e-3)
		for _, w := range r.Warnings.Data {
			assert.NotContains(t, w, "restricted to -")
		}
	})

	t.Run("Conservation Holds Across Settings", func(t *testing.T) {
		sim := newSimulator(scenario())
		for _, throttle := range []float64{0, 0.25, 1} {
			for _, power := range []float64{0.1, 0.5, 1} {
				r := sim.Run(ctx, types.Overrides{Throttle: types.Float(throttle), SolarPower: types.Float(power)})
				require.True(t, r.Analyzed)
				residual := r.MPPTOutputCurrent() - r.BatteryInputCurrent() - r.TotalLoadCurrent() - r.LoadBalancerCurrent()
				assert.InDelta(t, 0, residual, 1e-4, "throttle=%v power=%v", throttle, power)
				assert.Empty(t, r.Errors.Data, "throttle=%v power=%v", throttle, power)
			}
		}
	})

	t.Run("Solver Failure Becomes An Error Entry", func(t *testing.T) {
		k := types.DefaultConstants()
		sim := NewSimulator(scenario(), k, failingSolver{err: solver.ErrNonConvergence})
		r := sim.Run(ctx, types.Overrides{})
		assert.False(t, r.Analyzed)
		assert.Equal(t, []string{"simulation failed: solver did not converge"}, r.Errors.Data)
		assert.Empty(t, r.Warnings.Data)
		assert.NotEmpty(t, r.Info.RunID)
	})

	t.Run("Setup Diagnostics Are Errors", func(t *testing.T) {
		c := scenario()
		c.Loads[0].NominalVoltage = 48
		r := newSimulator(c).Run(ctx, types.Overrides{})
		assert.True(t, r.Analyzed)
		assert.Equal(t, []string{"load motor nominal voltage 48.00 V does not match battery voltage 27.40 V"}, r.Errors.Data)
		assert.False(t, r.Valid())
	})

	t.Run("Circuit Is Copied", func(t *testing.T) {
		c := scenario()
		sim := newSimulator(c)
		*c.Loads[0].Throttle = 1
		assert.Equal(t, 0.5, sim.Circuit().Loads[0].ThrottleSetting())
	})
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, o types.Overrides) *result.Result {
	args := m.Called(ctx, o)
	return args.Get(0).(*result.Result)
}

func charging(amps float64) *result.Result {
	return result.Structure(nil, map[string]float64{"total_battery_input_current": amps}, result.DefaultTable)
}

func TestSweepThrottle(t *testing.T) {
	ctx := context.Background()

	t.Run("Monotonic Battery Current", func(t *testing.T) {
		s, err := SweepThrottle(ctx, newSimulator(scenario()), 10)
		require.NoError(t, err)
		assert.Equal(t, KindSweepThrottle, s.Kind)
		require.Len(t, s.X, 11)
		require.Len(t, s.Results, 11)
		assert.InDelta(t, 0, s.X[0], 1e-9)
		assert.InDelta(t, 100, s.X[10], 1e-9)
		for i := 1; i < len(s.Results); i++ {
			assert.Less(t, s.Results[i].BatteryInputCurrent(), s.Results[i-1].BatteryInputCurrent(), "point %d", i)
			assert.Greater(t, s.Results[i].TotalLoadCurrent(), s.Results[i-1].TotalLoadCurrent(), "point %d", i)
		}
	})

	t.Run("Battery Current Holds Once Clamped", func(t *testing.T) {
		c := scenario()
		c.Loads[0].TotalPower = 12000
		sim := newSimulator(c)
		eps := sim.Constants().Epsilon
		limit := sim.Circuit().Battery.MaxDischargeCurrent * float64(sim.Circuit().Battery.InParallel)

		s, err := SweepThrottle(ctx, sim, 10)
		require.NoError(t, err)
		require.Len(t, s.Results, 11)

		clamped := -1
		for i, r := range s.Results {
			require.True(t, r.Analyzed, "point %d", i)
			if r.BatteryInputCurrent() <= -limit+eps {
				clamped = i
				break
			}
		}
		require.Positive(t, clamped, "the sweep reaches the discharge limit")
		require.Less(t, clamped, len(s.Results)-1)

		for i := 1; i < clamped; i++ {
			assert.Less(t, s.Results[i].BatteryInputCurrent(), s.Results[i-1].BatteryInputCurrent(), "point %d", i)
		}
		held := s.Results[clamped]
		for i := clamped + 1; i < len(s.Results); i++ {
			assert.InDelta(t, held.BatteryInputCurrent(), s.Results[i].BatteryInputCurrent(), eps, "point %d", i)
			assert.InDelta(t, held.TotalLoadCurrent(), s.Results[i].TotalLoadCurrent(), eps, "point %d", i)
			assert.InDelta(t, -limit, s.Results[i].BatteryInputCurrent(), eps, "point %d", i)
		}
	})

	t.Run("Invalid Count", func(t *testing.T) {
		_, err := SweepThrottle(ctx, &mockRunner{}, 0)
		assert.Error(t, err)
	})
}

func TestSweepSolarPower(t *testing.T) {
	ctx := context.Background()

	t.Run("Stops At First Failure", func(t *testing.T) {
		m := &mockRunner{}
		failed := result.New(result.DefaultTable)
		m.On("Run", mock.Anything, mock.MatchedBy(func(o types.Overrides) bool {
			return *o.SolarPower > 0.45
		})).Return(charging(1))
		m.On("Run", mock.Anything, mock.MatchedBy(func(o types.Overrides) bool {
			return *o.SolarPower < 0.45
		})).Return(failed).Once()

		s, err := SweepSolarPower(ctx, m, 10)
		require.NoError(t, err)
		require.Len(t, s.X, 6)
		assert.Len(t, s.Results, 6)
		assert.InDelta(t, 100, s.X[0], 1e-9)
		assert.InDelta(t, 50, s.X[5], 1e-9)
		m.AssertNumberOfCalls(t, "Run", 7)
	})

	t.Run("Full Range", func(t *testing.T) {
		s, err := SweepSolarPower(ctx, newSimulator(scenario()), 4)
		require.NoError(t, err)
		require.Len(t, s.X, 4)
		assert.InDelta(t, 25, s.X[3], 1e-9)
		for i := 1; i < len(s.Results); i++ {
			assert.Less(t, s.Results[i].MPPTOutputCurrent(), s.Results[i-1].MPPTOutputCurrent())
		}
	})

	t.Run("Single Point", func(t *testing.T) {
		m := &mockRunner{}
		m.On("Run", mock.Anything, types.Overrides{SolarPower: types.Float(1)}).Return(charging(1)).Once()
		s, err := SweepSolarPower(ctx, m, 1)
		require.NoError(t, err)
		assert.Equal(t, []float64{100}, s.X)
		m.AssertExpectations(t)
	})
}

func TestSeriesWarnings(t *testing.T) {
	warned := charging(1)
	warned.AddWarning("Battery is overcharged by 1.00 A")
	s := Series{X: []float64{0, 50, 100}, Results: []*result.Result{charging(1), warned, charging(1)}}
	assert.Equal(t, []PointWarnings{{X: 50, Warnings: []string{"Battery is overcharged by 1.00 A"}}}, s.Warnings())
	assert.Equal(t, []PointWarnings{}, Series{}.Warnings())
}

func TestSeriesMessages(t *testing.T) {
	a := charging(1)
	a.AddWarning("w1")
	a.AddError("e1")
	b := charging(1)
	b.AddWarning("w1")
	b.AddWarning("w2")
	errs, warnings := Series{Results: []*result.Result{a, b, charging(1)}}.Messages()
	assert.Equal(t, []string{"e1"}, errs)
	assert.Equal(t, []string{"w1", "w2"}, warnings)

	errs, warnings = Series{}.Messages()
	assert.Nil(t, errs)
	assert.Nil(t, warnings)
}
