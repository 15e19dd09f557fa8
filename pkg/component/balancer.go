package component

import (
	"context"
	"log/slog"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/types"
)

// LoadBalancerAddr is both the node and the meter of the load balancer.
var LoadBalancerAddr = network.Addr(network.KeywordLoadBalancer)

// LoadBalancer shunts battery input current above the charge limit to
// ground.
type LoadBalancer struct {
	chargeLimit float64
}

func NewLoadBalancer(battery *BatteryArray) *LoadBalancer {
	return &LoadBalancer{chargeLimit: battery.ChargeLimit()}
}

// ChargeLimit is the battery charge limit the balancer enforces.
func (b *LoadBalancer) ChargeLimit() float64 {
	return b.chargeLimit
}

func (b *LoadBalancer) Emit(ctx context.Context, top *network.Topology, c types.Constants) error {
	node := top.Node(LoadBalancerAddr)
	top.AddAmmeter(LoadBalancerAddr, top.Node(DCBus), node)
	top.AddBehavioral(LoadBalancerAddr.As("shunt"), node, network.Ground, network.Ramp{
		Control:   BatteryInputMeter,
		Threshold: b.chargeLimit,
		Gain:      c.BehavioralGain,
		Above:     true,
	})
	log.Ctx(ctx).DebugContext(ctx, "load balancer configured", slog.Float64("chargeLimit", b.chargeLimit))
	return nil
}
