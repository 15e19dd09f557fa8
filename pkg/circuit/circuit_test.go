package circuit

import (
	"context"
	"testing"

	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCircuit(arrays int) types.Circuit {
	c := types.Circuit{
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
			Count: arrays,
			Panel: types.PanelInfo{InSeries: 2, InParallel: 2, Voltage: 10, Power: 250},
			MPPT: types.MPPTInfo{
				MaxInputVoltage:  50,
				MaxInputCurrent:  120,
				MaxOutputVoltage: 29,
				MaxOutputCurrent: 100,
				Efficiency:       0.95,
			},
		}},
	}
	for i := 0; i < arrays; i++ {
		c.Loads = append(c.Loads, types.LoadConfig{NominalVoltage: 24, TotalPower: 1000, Throttle: types.Float(0.5)})
	}
	return c
}

func TestBuild(t *testing.T) {
	ctx := context.Background()
	k := types.DefaultConstants()

	t.Run("Addressing Bijection", func(t *testing.T) {
		dec := network.NewDecoder(network.Keywords)
		for _, n := range []int{1, 2, 5} {
			a := Build(ctx, testCircuit(n), k)
			require.Empty(t, a.Diagnostics)
			require.NoError(t, a.Topology.Validate())

			top := a.Topology
			seen := make(map[string]map[int]bool)
			record := func(addr network.Address) {
				got, ok := dec.Decode(addr.Name())
				require.True(t, ok, addr.Name())
				require.Equal(t, addr, got)
				if addr.Array == network.NoIndex {
					return
				}
				assert.Less(t, addr.Array, n, addr.Name())
				if seen[addr.Keyword] == nil {
					seen[addr.Keyword] = make(map[int]bool)
				}
				seen[addr.Keyword][addr.Array] = true
			}

			names := make(map[string]bool)
			for id := 1; id <= top.NodeCount(); id++ {
				addr := top.NodeAddress(network.NodeID(id))
				record(addr)
				assert.False(t, names[addr.Name()], "duplicate node %s", addr.Name())
				names[addr.Name()] = true
			}
			for _, e := range top.Elements() {
				record(e.Address)
			}
			for _, kw := range []string{network.KeywordPanel, network.KeywordSolarArray, network.KeywordMPPT, network.KeywordLoad} {
				assert.Len(t, seen[kw], n, "n=%d keyword=%s", n, kw)
			}
		}
	})

	t.Run("Registry", func(t *testing.T) {
		a := Build(ctx, testCircuit(2), k)
		reg := a.Registry
		require.Len(t, reg.Solar, 2)
		require.Len(t, reg.MPPT, 2)
		require.Len(t, reg.Loads, 2)
		assert.NotNil(t, reg.Battery)
		assert.NotNil(t, reg.Balancer)
		assert.Equal(t, []string{"arr1_mppt_output"}, reg.Terminals["mppt[1]"])
		assert.Equal(t, []string{"arr0_solar_array_output_measured"}, reg.Terminals["solar_array[0]"])
		assert.Equal(t, []string{"total_dc_bus_voltage", "total_battery_input_current"}, reg.Terminals["battery_array"])
		assert.Equal(t, []string{"balancing_load"}, reg.Terminals["load_balancer"])
		assert.InDelta(t, 0.95, reg.AverageMPPTEfficiency(), 1e-12)
	})

	t.Run("Diagnostics Are Collected", func(t *testing.T) {
		c := testCircuit(1)
		c.SolarGroups = append(c.SolarGroups, types.SolarGroup{Name: "config_2", Count: 0})
		c.SolarGroups[0].MPPT.MaxInputCurrent = 1
		c.Loads[0].NominalVoltage = 48
		c.Loads[0].Throttle = types.Float(-1)

		a := Build(ctx, c, k)
		assert.Equal(t, []string{
			"MPPT 0 input current 50.00 A exceeds its 1.00 A rating",
			`solar group "config_2" has count 0 and was skipped`,
			"load load 0 throttle -1.000 is outside [0, 1]",
			"load load 0 nominal voltage 48.00 V does not match battery voltage 27.40 V",
		}, a.Diagnostics)
		assert.NoError(t, a.Topology.Validate())
		assert.Len(t, a.Registry.MPPT, 1)
	})

	t.Run("Empty Circuit", func(t *testing.T) {
		a := Build(ctx, types.Circuit{}, k)
		assert.Contains(t, a.Diagnostics, "no solar groups configured")
		assert.Contains(t, a.Diagnostics, "no loads configured")
		assert.Equal(t, 1.0, a.Registry.AverageMPPTEfficiency())
	})
}
