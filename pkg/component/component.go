// Package component models the parts of the boat's power network. Each model
// is built from a configuration record and emits its share of the network
// topology on demand.
package component

import (
	"context"

	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/types"
)

// Emitter adds a component to a topology. A non-nil error is a diagnostic to
// collect, not a reason to stop assembling the rest of the network.
type Emitter interface {
	Emit(ctx context.Context, top *network.Topology, c types.Constants) error
}

var (
	_ Emitter = (*BatteryArray)(nil)
	_ Emitter = (*SolarArray)(nil)
	_ Emitter = (*MPPT)(nil)
	_ Emitter = (*Load)(nil)
	_ Emitter = (*LoadBalancer)(nil)
)
