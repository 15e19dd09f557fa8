package component

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/types"
)

// Bus nodes and meters shared between components.
var (
	// DCBus is the battery terminal every MPPT, load and the load balancer
	// connect to.
	DCBus = network.Addr(network.KeywordSummary).As("dc_bus_voltage")
	// BatteryInputMeter measures current flowing from the DC bus into the
	// battery bank. Positive means charging.
	BatteryInputMeter = network.Addr(network.KeywordSummary).As("battery_input_current")
)

var batteryAddr = network.Addr(network.KeywordBattery)

// BatteryArray is a bank of InParallel chains of InSeries cells.
type BatteryArray struct {
	cfg         types.BatteryConfig
	soc         float64
	cellVoltage float64
}

// NewBatteryArray derives the per-cell voltage from the configured state of
// charge.
func NewBatteryArray(cfg types.BatteryConfig) *BatteryArray {
	soc := min(max(cfg.SOC(), 0), 1)
	return &BatteryArray{
		cfg:         cfg,
		soc:         soc,
		cellVoltage: CellVoltage(cfg, soc),
	}
}

// CellVoltage interpolates linearly between the configured minimum and
// maximum cell voltage. Without both bounds the fixed battery voltage is
// used.
func CellVoltage(cfg types.BatteryConfig, soc float64) float64 {
	if cfg.MinVoltage == nil || cfg.MaxVoltage == nil {
		return cfg.Voltage
	}
	return *cfg.MinVoltage + (*cfg.MaxVoltage-*cfg.MinVoltage)*soc
}

// CellVoltage returns the voltage of one cell.
func (b *BatteryArray) CellVoltage() float64 {
	return b.cellVoltage
}

// TotalVoltage returns the open-circuit voltage of the bank.
func (b *BatteryArray) TotalVoltage() float64 {
	return float64(b.cfg.InSeries) * b.cellVoltage
}

// ChargeLimit is the bank charge current limit in amps.
func (b *BatteryArray) ChargeLimit() float64 {
	return float64(b.cfg.InParallel) * b.cfg.MaxChargeCurrent
}

// DischargeLimit is the bank discharge current limit in amps.
func (b *BatteryArray) DischargeLimit() float64 {
	return float64(b.cfg.InParallel) * b.cfg.MaxDischargeCurrent
}

// CapacityAmpMinutes is the full capacity of the bank.
func (b *BatteryArray) CapacityAmpMinutes() float64 {
	return b.cfg.CapacityAH * float64(b.cfg.InParallel) * 60
}

// SOC returns the state of charge used for the cell voltage.
func (b *BatteryArray) SOC() float64 {
	return b.soc
}

// Config returns the configuration the bank was built from.
func (b *BatteryArray) Config() types.BatteryConfig {
	return b.cfg
}

// Emit adds the bank to top. Each chain is grounded at its first cell,
// linked cell to cell through the wire resistance and joined with the other
// chains at a measured node behind BatteryInputMeter.
func (b *BatteryArray) Emit(ctx context.Context, top *network.Topology, c types.Constants) error {
	if b.cfg.InSeries < 1 || b.cfg.InParallel < 1 {
		return fmt.Errorf("battery array needs at least one cell in series and in parallel, got %dS%dP", b.cfg.InSeries, b.cfg.InParallel)
	}
	if b.cellVoltage <= 0 {
		return fmt.Errorf("battery array cell voltage must be positive, got %.3f V", b.cellVoltage)
	}

	bus := top.Node(DCBus)
	sense := top.Node(batteryAddr.As("input").Sense())
	for p := 0; p < b.cfg.InParallel; p++ {
		var prev network.NodeID
		for s := 0; s < b.cfg.InSeries; s++ {
			cell := batteryAddr.Cell(p, s)
			pos := top.Node(cell.As("positive"))
			neg := top.Node(cell.As("negative"))
			top.AddVoltageSource(cell, pos, neg, b.cellVoltage)
			if s == 0 {
				top.AddResistor(cell.As("grounding"), neg, network.Ground, c.GroundingResistance)
			} else {
				top.AddResistor(cell.As("internal"), neg, prev, c.WireResistance)
			}
			prev = pos
		}
		top.AddResistor(batteryAddr.Row(p).As("wire"), prev, sense, c.WireResistance)
	}
	top.AddAmmeter(BatteryInputMeter, bus, sense)

	log.Ctx(ctx).DebugContext(
		ctx,
		"battery array configured",
		slog.Int("series", b.cfg.InSeries),
		slog.Int("parallel", b.cfg.InParallel),
		slog.Float64("soc", b.soc),
		slog.Float64("cellVoltage", b.cellVoltage),
		slog.Float64("totalVoltage", b.TotalVoltage()),
		slog.Float64("chargeLimit", b.ChargeLimit()),
		slog.Float64("dischargeLimit", b.DischargeLimit()),
	)

	if soc := b.cfg.SOC(); soc < 0 || soc > 1 {
		return fmt.Errorf("battery state of charge %.3f is outside [0, 1], clamped to %.3f", soc, b.soc)
	}
	return nil
}
