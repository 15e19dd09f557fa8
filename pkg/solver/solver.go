// Package solver computes the steady-state operating point of a network
// topology.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/network"
	"github.com/solarproa/powersim/pkg/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrUnavailable means the solver could not be used at all.
	ErrUnavailable = errors.New("solver is not available")
	// ErrSingular means the network has no unique operating point, usually
	// because a node is floating.
	ErrSingular = errors.New("network matrix is singular")
	// ErrNonConvergence means the behavioral sources did not settle within
	// the iteration limit.
	ErrNonConvergence = errors.New("solver did not converge")
	// ErrInvalidTopology is returned for topologies that fail validation.
	ErrInvalidTopology = network.ErrInvalidTopology
)

// Solution holds the operating point keyed by solver-facing names.
type Solution struct {
	// NodeVoltages has an entry for every node except ground.
	NodeVoltages map[string]float64
	// BranchCurrents has an entry for every voltage source, positive when
	// flowing into its + terminal.
	BranchCurrents map[string]float64
	Iterations     int
}

// Solver solves a topology.
type Solver interface {
	Solve(ctx context.Context, top *network.Topology) (Solution, error)
}

// Observer is notified once per Solve.
type Observer interface {
	ObserveSolve(outcome string, d time.Duration, iterations, unknowns int)
}

// Outcomes passed to Observer.
const (
	OutcomeOK             = "ok"
	OutcomeInvalid        = "invalid"
	OutcomeSingular       = "singular"
	OutcomeNonConvergence = "nonconvergence"
	OutcomeCanceled       = "canceled"
)

// MNA is an in-process modified nodal analysis solver. Linear elements are
// stamped into a dense matrix that is factorized once; behavioral sources are
// then solved as a small piecewise-linear system over their unit responses.
type MNA struct {
	MaxIterations int
	Tolerance     float64
	Observer      Observer
}

// New returns an MNA solver configured from c.
func New(c types.Constants) *MNA {
	return &MNA{
		MaxIterations: c.SolverMaxIterations,
		Tolerance:     c.SolverTolerance,
	}
}

// Solve implements Solver.
func (s *MNA) Solve(ctx context.Context, top *network.Topology) (Solution, error) {
	start := time.Now()
	sys := newSystem(top)
	sol, err := s.solve(ctx, top, sys)
	outcome := outcomeOf(err)
	if s.Observer != nil {
		s.Observer.ObserveSolve(outcome, time.Since(start), sol.Iterations, sys.size)
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"network solved",
		slog.String("outcome", outcome),
		slog.Int("unknowns", sys.size),
		slog.Int("behavioral", len(sys.behavioral)),
		slog.Int("iterations", sol.Iterations),
		slog.Duration("duration", time.Since(start)),
	)
	return sol, err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrInvalidTopology):
		return OutcomeInvalid
	case errors.Is(err, ErrSingular):
		return OutcomeSingular
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeNonConvergence
	}
}

// system indexes the unknowns of a topology: node voltages 1..n first, then
// one branch current per voltage source.
type system struct {
	nodes      int
	size       int
	sources    []network.Element
	branch     map[string]int
	behavioral []network.Element
}

func newSystem(top *network.Topology) *system {
	sys := &system{nodes: top.NodeCount(), branch: make(map[string]int)}
	for _, e := range top.Elements() {
		switch e.Kind {
		case network.KindVoltageSource:
			sys.branch[e.Name()] = sys.nodes + len(sys.sources)
			sys.sources = append(sys.sources, e)
		case network.KindBehavioral:
			sys.behavioral = append(sys.behavioral, e)
		}
	}
	sys.size = sys.nodes + len(sys.sources)
	return sys
}

// row returns the matrix row of a node, or -1 for ground.
func (sys *system) row(id network.NodeID) int {
	return int(id) - 1
}

// inject adds amps flowing through an element from pos to neg to the right
// hand side.
func (sys *system) inject(z []float64, pos, neg network.NodeID, amps float64) {
	if r := sys.row(pos); r >= 0 {
		z[r] -= amps
	}
	if r := sys.row(neg); r >= 0 {
		z[r] += amps
	}
}

func (s *MNA) solve(ctx context.Context, top *network.Topology, sys *system) (Solution, error) {
	if err := top.Validate(); err != nil {
		return Solution{}, err
	}
	if err := ctx.Err(); err != nil {
		return Solution{}, err
	}
	if sys.size == 0 {
		return Solution{NodeVoltages: map[string]float64{}, BranchCurrents: map[string]float64{}}, nil
	}

	a := mat.NewDense(sys.size, sys.size, nil)
	z := make([]float64, sys.size)
	stamp := func(i, j int, v float64) {
		if i >= 0 && j >= 0 {
			a.Set(i, j, a.At(i, j)+v)
		}
	}
	for _, e := range top.Elements() {
		p, n := sys.row(e.Pos), sys.row(e.Neg)
		switch e.Kind {
		case network.KindResistor:
			g := 1 / e.Value
			stamp(p, p, g)
			stamp(n, n, g)
			stamp(p, n, -g)
			stamp(n, p, -g)
		case network.KindVoltageSource:
			k := sys.branch[e.Name()]
			stamp(p, k, 1)
			stamp(n, k, -1)
			stamp(k, p, 1)
			stamp(k, n, -1)
			z[k] = e.Value
		case network.KindCurrentSource:
			sys.inject(z, e.Pos, e.Neg, e.Value)
		}
	}

	var lu mat.LU
	lu.Factorize(a)
	if c := lu.Cond(); math.IsInf(c, 0) || math.IsNaN(c) {
		return Solution{}, ErrSingular
	}
	solve := func(rhs []float64) ([]float64, error) {
		var x mat.VecDense
		if err := lu.SolveVecTo(&x, false, mat.NewVecDense(len(rhs), rhs)); err != nil {
			var cond mat.Condition
			if errors.As(err, &cond) {
				return nil, fmt.Errorf("%w: condition number %g", ErrSingular, float64(cond))
			}
			return nil, err
		}
		out := x.RawVector().Data
		for _, v := range out {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, ErrSingular
			}
		}
		return out, nil
	}

	x, err := solve(z)
	if err != nil {
		return Solution{}, err
	}
	var iterations int
	if len(sys.behavioral) > 0 {
		responses := make([][]float64, len(sys.behavioral))
		for j, e := range sys.behavioral {
			unit := make([]float64, sys.size)
			sys.inject(unit, e.Pos, e.Neg, 1)
			if responses[j], err = solve(unit); err != nil {
				return Solution{}, err
			}
		}
		u, n, err := s.settle(ctx, sys, x, responses)
		iterations = n
		if err != nil {
			return Solution{Iterations: iterations}, err
		}
		for j, r := range responses {
			floats.AddScaled(x, u[j], r)
		}
	}

	sol := Solution{
		NodeVoltages:   make(map[string]float64, sys.nodes),
		BranchCurrents: make(map[string]float64, len(sys.sources)),
		Iterations:     iterations,
	}
	for id := 1; id <= sys.nodes; id++ {
		sol.NodeVoltages[top.NodeName(network.NodeID(id))] = x[id-1]
	}
	for _, e := range sys.sources {
		sol.BranchCurrents[e.Name()] = x[sys.branch[e.Name()]]
	}
	return sol, nil
}

// settle finds the behavioral source currents u satisfying u = f(y(u)), where
// the control currents y are affine in u through the unit responses. Each
// behavior is piecewise linear so Newton steps settle in a handful of
// iterations.
func (s *MNA) settle(ctx context.Context, sys *system, base []float64, responses [][]float64) ([]float64, int, error) {
	nb := len(sys.behavioral)
	controls := make([][]int, nb)
	for j, e := range sys.behavioral {
		for _, c := range e.Behavior.Controls() {
			controls[j] = append(controls[j], sys.branch[c.Name()])
		}
	}

	// residual returns u - f(y(u)) and, when jac is non-nil, fills in its
	// jacobian.
	residual := func(u []float64, jac *mat.Dense) []float64 {
		r := make([]float64, nb)
		for j, e := range sys.behavioral {
			y := make([]float64, len(controls[j]))
			for k, row := range controls[j] {
				y[k] = base[row]
				for i := range u {
					y[k] += u[i] * responses[i][row]
				}
			}
			f, df := e.Behavior.Eval(y)
			r[j] = u[j] - f
			if jac == nil {
				continue
			}
			for i := 0; i < nb; i++ {
				v := 0.0
				if i == j {
					v = 1
				}
				for k, row := range controls[j] {
					v -= df[k] * responses[i][row]
				}
				jac.Set(j, i, v)
			}
		}
		return r
	}

	u := make([]float64, nb)
	jac := mat.NewDense(nb, nb, nil)
	for iter := 1; iter <= s.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, iter - 1, err
		}
		r := residual(u, jac)
		norm := floats.Norm(r, math.Inf(1))

		var step mat.VecDense
		floats.Scale(-1, r)
		if err := step.SolveVec(jac, mat.NewVecDense(nb, r)); err != nil {
			return nil, iter, fmt.Errorf("%w: jacobian: %v", ErrNonConvergence, err)
		}
		delta := step.RawVector().Data

		// Full steps land exactly on the solution of the linear piece they
		// start from, which is usually enough. Past half the budget the step
		// is halved until the residual stops growing.
		scale := 1.0
		next := make([]float64, nb)
		floats.AddScaledTo(next, u, scale, delta)
		for tries := 0; iter > s.MaxIterations/2 && tries < 30; tries++ {
			if floats.Norm(residual(next, nil), math.Inf(1)) <= norm {
				break
			}
			scale /= 2
			floats.AddScaledTo(next, u, scale, delta)
		}
		moved := scale * floats.Norm(delta, math.Inf(1))
		copy(u, next)
		if moved <= s.Tolerance*(1+floats.Norm(u, math.Inf(1))) {
			return u, iter, nil
		}
	}
	return nil, s.MaxIterations, fmt.Errorf("%w after %d iterations", ErrNonConvergence, s.MaxIterations)
}

// SelfCheck solves a one volt source across a one ohm resistor and reports
// whether s produced the expected operating point.
func SelfCheck(ctx context.Context, s Solver) error {
	top := network.New("check")
	node := network.Addr(network.KeywordSummary).As("check")
	source := network.Addr(network.KeywordSummary).As("check_source")
	n := top.Node(node)
	top.AddVoltageSource(source, n, network.Ground, 1)
	top.AddResistor(network.Addr(network.KeywordSummary).As("check_load"), n, network.Ground, 1)

	sol, err := s.Solve(ctx, top)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	v, i := sol.NodeVoltages[node.Name()], sol.BranchCurrents[source.Name()]
	if math.Abs(v-1) > 1e-6 || math.Abs(i+1) > 1e-6 {
		return fmt.Errorf("%w: self-check solved to %g V, %g A", ErrUnavailable, v, i)
	}
	return nil
}
