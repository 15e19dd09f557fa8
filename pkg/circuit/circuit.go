package circuit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solarproa/powersim/pkg/component"
	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/types"
)

// Registry maps each component instance to the model that produced it and
// the solver-facing names it owns. It is used by the checker to look up
// limits and efficiencies and is never passed to a solver.
type Registry struct {
	Battery  *component.BatteryArray
	Solar    []*component.SolarArray
	MPPT     []*component.MPPT
	Loads    []*component.Load
	Balancer *component.LoadBalancer

	Terminals map[string][]string
}

func (r *Registry) addTerminal(role string, addrs ...network.Address) {
	for _, a := range addrs {
		r.Terminals[role] = append(r.Terminals[role], a.Name())
	}
}

// AverageMPPTEfficiency is the mean rated efficiency over every MPPT, or 1
// when there are none.
func (r *Registry) AverageMPPTEfficiency() float64 {
	if len(r.MPPT) == 0 {
		return 1
	}
	var sum float64
	for _, m := range r.MPPT {
		sum += m.Efficiency()
	}
	return sum / float64(len(r.MPPT))
}

// Assembly is a freshly built network ready for one solve.
type Assembly struct {
	Topology *network.Topology
	Registry *Registry
	// Diagnostics collected from component setup. Assembly continues past
	// every one of them.
	Diagnostics []string
}

// Build assembles the network for c. Solar groups expand into consecutive
// array indices in order; every MPPT feeds the MPPT bus, which joins the DC
// bus through a meter, and every load and the load balancer hang off the DC
// bus.
func Build(ctx context.Context, c types.Circuit, k types.Constants) *Assembly {
	top := network.New("solar proa power network")
	reg := &Registry{Terminals: make(map[string][]string)}
	a := &Assembly{Topology: top, Registry: reg}

	battery := component.NewBatteryArray(c.Battery)
	a.collect(battery.Emit(ctx, top, k))
	reg.Battery = battery
	reg.addTerminal("battery_array", component.DCBus, component.BatteryInputMeter)

	if len(c.SolarGroups) == 0 {
		a.Diagnostics = append(a.Diagnostics, "no solar groups configured")
	}
	var index int
	for _, g := range c.SolarGroups {
		if g.Count < 1 {
			a.Diagnostics = append(a.Diagnostics, fmt.Sprintf("solar group %q has count %d and was skipped", g.Name, g.Count))
			continue
		}
		for n := 0; n < g.Count; n++ {
			solar := component.NewSolarArray(index, g.Panel, k)
			a.collect(solar.Emit(ctx, top, k))
			mppt := component.NewMPPT(index, g.MPPT, solar, battery, k)
			a.collect(mppt.Emit(ctx, top, k))

			reg.Solar = append(reg.Solar, solar)
			reg.MPPT = append(reg.MPPT, mppt)
			reg.addTerminal(fmt.Sprintf("solar_array[%d]", index), solar.Output())
			reg.addTerminal(fmt.Sprintf("mppt[%d]", index), mppt.Output())
			index++
		}
	}
	top.AddAmmeter(component.MPPTBusMeter, top.Node(component.MPPTBus), top.Node(component.DCBus))
	reg.addTerminal("mppt_bus", component.MPPTBus, component.MPPTBusMeter)

	if len(c.Loads) == 0 {
		a.Diagnostics = append(a.Diagnostics, "no loads configured")
	}
	for i, lc := range c.Loads {
		load := component.NewLoad(i, lc, battery)
		a.collect(load.Emit(ctx, top, k))
		reg.Loads = append(reg.Loads, load)
		reg.addTerminal(fmt.Sprintf("load[%d]", i), load.Input())
	}

	balancer := component.NewLoadBalancer(battery)
	a.collect(balancer.Emit(ctx, top, k))
	reg.Balancer = balancer
	reg.addTerminal("load_balancer", component.LoadBalancerAddr)

	l := log.Ctx(ctx)
	l.DebugContext(
		ctx,
		"network assembled",
		slog.Int("nodes", top.NodeCount()),
		slog.Int("elements", len(top.Elements())),
		slog.Int("arrays", index),
		slog.Int("loads", len(c.Loads)),
		slog.Int("diagnostics", len(a.Diagnostics)),
	)
	if l.Enabled(ctx, slog.LevelDebug) {
		l.DebugContext(ctx, "netlist", slog.String("netlist", top.Netlist()))
	}
	return a
}

// collect records err, splitting joined errors into separate diagnostics.
func (a *Assembly) collect(err error) {
	if err == nil {
		return
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			a.collect(e)
		}
		return
	}
	a.Diagnostics = append(a.Diagnostics, err.Error())
}
