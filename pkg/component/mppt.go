package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/types"
)

// MPPTBus collects the outputs of every MPPT before they reach the DC bus
// through MPPTBusMeter.
var (
	MPPTBus      = network.Addr(network.KeywordSummary).As("mppt_output")
	MPPTBusMeter = network.Addr(network.KeywordSummary).As("mppt_output_current")
)

var mpptAddr = network.Addr(network.KeywordMPPT)

// MPPT converts the power of its paired solar sub-array to the battery
// voltage plus a small buffer.
type MPPT struct {
	index          int
	info           types.MPPTInfo
	solar          *SolarArray
	batteryVoltage float64
	outputVoltage  float64
	achievable     float64
}

// NewMPPT pairs an MPPT with its solar sub-array and the battery bank it
// charges.
func NewMPPT(index int, info types.MPPTInfo, solar *SolarArray, battery *BatteryArray, c types.Constants) *MPPT {
	m := &MPPT{
		index:          index,
		info:           info,
		solar:          solar,
		batteryVoltage: battery.TotalVoltage(),
		outputVoltage:  battery.TotalVoltage() + c.MPPTBatteryVoltageBuffer,
	}
	if m.outputVoltage > 0 {
		m.achievable = info.Efficiency * m.InputPower() / m.outputVoltage
	}
	return m
}

// Index is the array index shared with the paired solar sub-array.
func (m *MPPT) Index() int {
	return m.index
}

// Efficiency is the rated conversion efficiency.
func (m *MPPT) Efficiency() float64 {
	return m.info.Efficiency
}

// OutputLimit is the rated output current.
func (m *MPPT) OutputLimit() float64 {
	return m.info.MaxOutputCurrent
}

// InputPower is the power drawn from the solar sub-array at its working
// point.
func (m *MPPT) InputPower() float64 {
	return m.solar.TotalVoltage() * m.solar.TotalCurrent()
}

// OutputVoltage is the battery voltage plus the buffer.
func (m *MPPT) OutputVoltage() float64 {
	return m.outputVoltage
}

// AchievableCurrent is the output current the input power supports before
// the rating clamp.
func (m *MPPT) AchievableCurrent() float64 {
	return m.achievable
}

// OutputCurrent is the clamped output current.
func (m *MPPT) OutputCurrent() float64 {
	return math.Min(m.achievable, m.info.MaxOutputCurrent)
}

// Output is the address of the MPPT output meter.
func (m *MPPT) Output() network.Address {
	return mpptAddr.In(m.index).As("output")
}

// Emit loads the solar sub-array with the MPPT input resistance and adds the
// clamped output source feeding MPPTBus. Rating problems are reported but
// the MPPT is still emitted.
func (m *MPPT) Emit(ctx context.Context, top *network.Topology, c types.Constants) error {
	inV := m.solar.TotalVoltage()
	inI := m.solar.TotalCurrent()
	if inV <= 0 || inI <= 0 {
		return fmt.Errorf("MPPT %d has no usable input: %.3f V, %.3f A", m.index, inV, inI)
	}

	base := mpptAddr.In(m.index)
	top.AddResistor(base.As("input_load"), top.Node(m.solar.Output()), network.Ground, inV/inI)

	out := top.Node(m.Output())
	top.AddBehavioral(base.As("regulator"), network.Ground, out, network.Clamp{
		Value: m.achievable,
		Max:   m.info.MaxOutputCurrent,
	})
	sense := top.Node(m.Output().Sense())
	top.AddAmmeter(m.Output(), out, sense)
	top.AddResistor(base.As("wire"), sense, top.Node(MPPTBus), c.WireResistance)

	log.Ctx(ctx).DebugContext(
		ctx,
		"mppt configured",
		slog.Int("index", m.index),
		slog.Float64("inputVoltage", inV),
		slog.Float64("inputCurrent", inI),
		slog.Float64("outputVoltage", m.outputVoltage),
		slog.Float64("achievableCurrent", m.achievable),
		slog.Float64("outputLimit", m.info.MaxOutputCurrent),
	)

	var errs []error
	if math.Abs(m.batteryVoltage-m.info.MaxOutputVoltage) > c.VoltageMismatchTolerance {
		errs = append(errs, fmt.Errorf("MPPT %d output voltage %.2f V does not match battery voltage %.2f V", m.index, m.info.MaxOutputVoltage, m.batteryVoltage))
	}
	if inV > m.info.MaxInputVoltage {
		errs = append(errs, fmt.Errorf("MPPT %d input voltage %.2f V exceeds its %.2f V rating", m.index, inV, m.info.MaxInputVoltage))
	}
	if inI > m.info.MaxInputCurrent {
		errs = append(errs, fmt.Errorf("MPPT %d input current %.2f A exceeds its %.2f A rating", m.index, inI, m.info.MaxInputCurrent))
	}
	return errors.Join(errs...)
}
