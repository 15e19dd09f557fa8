package component

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/types"
)

var (
	solarAddr = network.Addr(network.KeywordSolarArray)
	panelAddr = network.Addr(network.KeywordPanel)
)

// SolarArray is one solar sub-array. Each cell is an ideal current source of
// rated power over rated voltage.
type SolarArray struct {
	index              int
	panel              types.PanelInfo
	cellCurrent        float64
	internalResistance float64
}

// NewSolarArray builds sub-array index. The cell current never drops below
// epsilon so the MPPT input resistance stays finite at zero irradiance.
func NewSolarArray(index int, panel types.PanelInfo, c types.Constants) *SolarArray {
	current := c.Epsilon
	if panel.Voltage > 0 {
		current = math.Max(c.Epsilon, panel.Power/panel.Voltage)
	}
	return &SolarArray{
		index:              index,
		panel:              panel,
		cellCurrent:        current,
		internalResistance: panel.Voltage / current,
	}
}

// Index is the array index of the sub-array.
func (s *SolarArray) Index() int {
	return s.index
}

// CellCurrent is the current of a single cell.
func (s *SolarArray) CellCurrent() float64 {
	return s.cellCurrent
}

// TotalVoltage is the rated voltage of one series string.
func (s *SolarArray) TotalVoltage() float64 {
	return float64(s.panel.InSeries) * s.panel.Voltage
}

// TotalCurrent is the combined current of all parallel strings.
func (s *SolarArray) TotalCurrent() float64 {
	return float64(s.panel.InParallel) * s.cellCurrent
}

// TotalPower is the rated power of the sub-array.
func (s *SolarArray) TotalPower() float64 {
	return s.TotalVoltage() * s.TotalCurrent()
}

// Output is the measured terminal the paired MPPT connects to.
func (s *SolarArray) Output() network.Address {
	return solarAddr.In(s.index).As("output").Sense()
}

// Emit adds every cell of the sub-array to top. Each cell is tied to ground
// through the grounding resistance so series strings stay determinate.
func (s *SolarArray) Emit(ctx context.Context, top *network.Topology, c types.Constants) error {
	if s.panel.InSeries < 1 || s.panel.InParallel < 1 {
		return fmt.Errorf("solar array %d needs at least one cell in series and in parallel, got %dS%dP", s.index, s.panel.InSeries, s.panel.InParallel)
	}
	if s.panel.Voltage <= 0 {
		return fmt.Errorf("solar array %d rated voltage must be positive, got %.3f V", s.index, s.panel.Voltage)
	}

	output := solarAddr.In(s.index).As("output")
	out := top.Node(output)
	for p := 0; p < s.panel.InParallel; p++ {
		var prev network.NodeID
		for i := 0; i < s.panel.InSeries; i++ {
			cell := panelAddr.In(s.index).Cell(p, i)
			pos := top.Node(cell.As("positive"))
			neg := top.Node(cell.As("negative"))
			top.AddCurrentSource(cell, neg, pos, s.cellCurrent)
			top.AddResistor(cell.As("leak"), neg, network.Ground, c.GroundingResistance)
			if i > 0 {
				top.AddResistor(cell.As("internal"), neg, prev, s.internalResistance)
			}
			prev = pos
		}
		top.AddResistor(panelAddr.In(s.index).Row(p).As("wire"), prev, out, c.WireResistance)
	}
	top.AddAmmeter(output, out, top.Node(s.Output()))

	log.Ctx(ctx).DebugContext(
		ctx,
		"solar array configured",
		slog.Int("index", s.index),
		slog.Int("series", s.panel.InSeries),
		slog.Int("parallel", s.panel.InParallel),
		slog.Float64("cellCurrent", s.cellCurrent),
		slog.Float64("totalVoltage", s.TotalVoltage()),
		slog.Float64("totalCurrent", s.TotalCurrent()),
		slog.Float64("totalPower", s.TotalPower()),
	)
	return nil
}
