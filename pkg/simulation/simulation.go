// Package simulation runs the assemble, solve, structure and check pipeline
// and drives it across sweeps and voyages.
package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/solarproa/powersim/pkg/checker"
	"github.com/solarproa/powersim/pkg/circuit"
	"github.com/solarproa/powersim/pkg/common"
	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/result"
	"github.com/solarproa/powersim/pkg/solver"
	"github.com/solarproa/powersim/pkg/types"
)

// Kinds of simulation run.
const (
	KindOperatingPoint  = "operating_point"
	KindSweepThrottle   = "sweep_throttle"
	KindSweepPanelPower = "sweep_panel_power"
	KindVoyage          = "voyage"
)

// Kinds lists every simulation kind.
var Kinds = []string{KindOperatingPoint, KindSweepThrottle, KindSweepPanelPower, KindVoyage}

// Runner produces one checked result for a configuration derived with the
// given overrides.
type Runner interface {
	Run(ctx context.Context, o types.Overrides) *result.Result
}

// Simulator runs single operating points of one circuit.
type Simulator struct {
	circuit   types.Circuit
	constants types.Constants
	solver    solver.Solver
	now       func() time.Time
}

var _ Runner = (*Simulator)(nil)

// NewSimulator returns a Simulator for c. The circuit is copied so later
// changes by the caller have no effect.
func NewSimulator(c types.Circuit, k types.Constants, s solver.Solver) *Simulator {
	return &Simulator{
		circuit:   c.Clone(),
		constants: k,
		solver:    s,
		now:       time.Now,
	}
}

// Circuit returns the configuration the simulator was built with.
func (s *Simulator) Circuit() types.Circuit {
	return s.circuit.Clone()
}

// Constants returns the simulation constants.
func (s *Simulator) Constants() types.Constants {
	return s.constants
}

// Run applies o, assembles and solves the network, then structures and
// checks the result. Setup diagnostics and solver failures become entries of
// the result's error list; Run itself never fails.
func (s *Simulator) Run(ctx context.Context, o types.Overrides) *result.Result {
	cfg := s.circuit.Apply(o)
	a := circuit.Build(ctx, cfg, s.constants)

	var r *result.Result
	sol, err := s.solver.Solve(ctx, a.Topology)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "simulation failed", slog.Any("error", err))
		r = result.New(result.DefaultTable)
	} else {
		r = result.Structure(sol.NodeVoltages, sol.BranchCurrents, result.DefaultTable)
	}
	for _, d := range a.Diagnostics {
		r.AddError(d)
	}
	if err != nil {
		r.AddError(fmt.Sprintf("simulation failed: %v", err))
	}
	if len(r.Unmatched) > 0 {
		log.Ctx(ctx).WarnContext(ctx, "unmatched solver output", slog.Any("names", r.Unmatched))
	}

	checker.Check(ctx, r, a.Registry, s.constants)

	r.Info = result.Info{
		Name:    a.Topology.Title(),
		Date:    s.now().Format(time.RFC3339),
		RunID:   uuid.NewString(),
		Version: common.Version(),
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"simulation finished",
		slog.String("runID", r.Info.RunID),
		slog.Bool("analyzed", r.Analyzed),
		slog.Int("errors", len(r.Errors.Data)),
		slog.Int("warnings", len(r.Warnings.Data)),
		slog.Float64("batteryInputCurrent", r.BatteryInputCurrent()),
	)
	return r
}
