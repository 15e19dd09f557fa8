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

var loadAddr = network.Addr(network.KeywordLoad)

// Load draws its throttled share of rated power from the DC bus, backing off
// once the battery would discharge faster than its limit.
type Load struct {
	index          int
	cfg            types.LoadConfig
	batteryVoltage float64
	dischargeLimit float64
	demand         float64
}

// NewLoad converts the load's throttle and rated power into a current demand
// at the battery voltage.
func NewLoad(index int, cfg types.LoadConfig, battery *BatteryArray) *Load {
	l := &Load{
		index:          index,
		cfg:            cfg,
		batteryVoltage: battery.TotalVoltage(),
		dischargeLimit: battery.DischargeLimit(),
	}
	if l.batteryVoltage > 0 {
		l.demand = l.DemandPower() / l.batteryVoltage
	}
	return l
}

// Index is the load's array index.
func (l *Load) Index() int {
	return l.index
}

// Name is the configured load name.
func (l *Load) Name() string {
	if l.cfg.Name == "" {
		return fmt.Sprintf("load %d", l.index)
	}
	return l.cfg.Name
}

// Throttle is the requested throttle fraction.
func (l *Load) Throttle() float64 {
	return l.cfg.ThrottleSetting()
}

// PowerRating is the rated power at full throttle.
func (l *Load) PowerRating() float64 {
	return l.cfg.TotalPower
}

// DemandPower is the requested power.
func (l *Load) DemandPower() float64 {
	return l.cfg.TotalPower * l.Throttle()
}

// DemandCurrent is the requested current at the battery voltage.
func (l *Load) DemandCurrent() float64 {
	return l.demand
}

// Input is the address of the load's supply meter.
func (l *Load) Input() network.Address {
	return loadAddr.In(l.index).As("input")
}

// Emit connects the load to the DC bus through its meter. The load sinks its
// demand until the battery input current falls below minus the discharge
// limit, after which the shortfall is taken out of the load. A load never
// sinks less than nothing.
func (l *Load) Emit(ctx context.Context, top *network.Topology, c types.Constants) error {
	in := top.Node(l.Input())
	top.AddAmmeter(l.Input(), top.Node(DCBus), in)
	top.AddBehavioral(loadAddr.In(l.index).As("demand"), in, network.Ground, network.Ramp{
		Control:   BatteryInputMeter,
		Base:      l.demand,
		Threshold: -l.dischargeLimit,
		Gain:      c.BehavioralGain,
		Floor:     true,
	})

	log.Ctx(ctx).DebugContext(
		ctx,
		"load configured",
		slog.Int("index", l.index),
		slog.String("name", l.Name()),
		slog.Float64("throttle", l.Throttle()),
		slog.Float64("demandPower", l.DemandPower()),
		slog.Float64("demandCurrent", l.demand),
	)

	var errs []error
	if t := l.Throttle(); t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("load %s throttle %.3f is outside [0, 1]", l.Name(), t))
	}
	if math.Abs(l.batteryVoltage-l.cfg.NominalVoltage) > c.VoltageMismatchTolerance {
		errs = append(errs, fmt.Errorf("load %s nominal voltage %.2f V does not match battery voltage %.2f V", l.Name(), l.cfg.NominalVoltage, l.batteryVoltage))
	}
	return errors.Join(errs...)
}
