// Package checker cross-checks a structured result against conservation and
// the limits of the components that produced it.
package checker

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/solarproa/powersim/pkg/circuit"
	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/result"
	"github.com/solarproa/powersim/pkg/types"
)

// Check appends errors and warnings to r. Only a conservation failure is an
// error. Nothing is checked when r was not analyzed.
func Check(ctx context.Context, r *result.Result, reg *circuit.Registry, k types.Constants) {
	if !r.Analyzed {
		return
	}
	errorsBefore, warningsBefore := len(r.Errors.Data), len(r.Warnings.Data)

	checkConservation(r, k)
	checkMPPTHeadroom(r, reg, k)
	checkOvercharge(r, k)
	checkUnderDischarge(r, reg, k)

	log.Ctx(ctx).DebugContext(
		ctx,
		"result checked",
		slog.Int("errors", len(r.Errors.Data)-errorsBefore),
		slog.Int("warnings", len(r.Warnings.Data)-warningsBefore),
	)
}

// checkConservation applies Kirchhoff's current law to the DC bus. The load
// balancer draws from the bus like any load.
func checkConservation(r *result.Result, k types.Constants) {
	mppt := r.MPPTOutputCurrent()
	battery := r.BatteryInputCurrent()
	loads := r.TotalLoadCurrent() + r.LoadBalancerCurrent()
	residual := mppt - battery - loads
	if math.Abs(residual) > k.Epsilon {
		r.AddError(fmt.Sprintf(
			"Kirchhoff's current law violated: mppt output %.4f A, battery input %.4f A, loads %.4f A (residual %.6f A)",
			mppt, battery, loads, residual,
		))
	}
}

func checkMPPTHeadroom(r *result.Result, reg *circuit.Registry, k types.Constants) {
	for i, m := range reg.MPPT {
		limit := m.OutputLimit()
		actual := r.MPPTCurrent(i)
		if limit-actual >= k.Epsilon {
			continue
		}
		available := r.SolarVoltage(i) * r.SolarCurrent(i) * m.Efficiency()
		r.AddWarning(fmt.Sprintf(
			"MPPT %d is current limited at %.2f A: restricting output to %.2f W of %.2f W available",
			m.Index(), limit, actual*r.MPPTVoltage(i), available,
		))
	}
}

func checkOvercharge(r *result.Result, k types.Constants) {
	if excess := r.LoadBalancerCurrent(); excess > k.Epsilon {
		r.AddWarning(fmt.Sprintf("Battery is overcharged by %.2f A", excess))
	}
}

// checkUnderDischarge compares each load's realized throttle with the
// requested one. Realized power is attributed through the average MPPT
// efficiency rather than per path.
func checkUnderDischarge(r *result.Result, reg *circuit.Registry, k types.Constants) {
	efficiency := reg.AverageMPPTEfficiency()
	for i, l := range reg.Loads {
		rating := l.PowerRating() * efficiency
		var realized float64
		if rating > 0 {
			realized = r.LoadVoltage(i) * r.LoadCurrent(i) / rating
		}
		requested := l.Throttle()
		if (requested-realized)*100 > k.PowerMismatchTolerancePercentage {
			r.AddWarning(fmt.Sprintf(
				"Battery array is being over-discharged. Load %s has been restricted to %.2f%% instead of %.2f%% throttle level.",
				l.Name(), realized*100, requested*100,
			))
		}
	}
}
