package network

import (
	"fmt"
	"math"
)

// Behavior defines the current of a bounded behavioral source as a piecewise
// linear function of voltage-source branch currents.
type Behavior interface {
	// Controls names the voltage sources whose branch currents the behavior
	// reads, in the order Eval expects them.
	Controls() []Address
	// Eval returns the source current and its partial derivative with
	// respect to each control current.
	Eval(controls []float64) (float64, []float64)
	Expression() string
}

// Clamp is a source fixed at min(Value, Max).
type Clamp struct {
	Value float64
	Max   float64
}

// Controls is empty: a clamp reads no branch currents.
func (c Clamp) Controls() []Address {
	return nil
}

// Eval returns min(Value, Max).
func (c Clamp) Eval([]float64) (float64, []float64) {
	return math.Min(c.Value, c.Max), nil
}

// Expression renders the clamp in solver syntax.
func (c Clamp) Expression() string {
	return fmt.Sprintf("min(%g, %g)", c.Max, c.Value)
}

// Ramp holds Base until the control current passes Threshold, then moves
// away from Base with slope Gain. Above selects which side of the threshold
// engages the ramp. The function is continuous at the threshold, which keeps
// the iteration well behaved where a hard step would oscillate.
//
// Floor stops a ramp that moves toward zero at zero, so a source sharing a
// shortfall with larger ones never reverses.
type Ramp struct {
	Control   Address
	Base      float64
	Threshold float64
	Gain      float64
	Above     bool
	Floor     bool
}

// Controls returns the single control source.
func (r Ramp) Controls() []Address {
	return []Address{r.Control}
}

// Eval returns the ramp current and its slope at control current y[0].
func (r Ramp) Eval(y []float64) (float64, []float64) {
	excess := y[0] - r.Threshold
	if (r.Above && excess > 0) || (!r.Above && excess < 0) {
		v := r.Base + r.Gain*excess
		if r.Floor && v < 0 {
			return 0, []float64{0}
		}
		return v, []float64{r.Gain}
	}
	return r.Base, []float64{0}
}

// Expression renders the ramp in solver syntax.
func (r Ramp) Expression() string {
	op := "<"
	if r.Above {
		op = ">"
	}
	ctl := fmt.Sprintf("I(%s)", r.Control.Name())
	expr := fmt.Sprintf("%s %s %g ? %g + %g*(%s - %g) : %g", ctl, op, r.Threshold, r.Base, r.Gain, ctl, r.Threshold, r.Base)
	if r.Floor {
		return fmt.Sprintf("max(0, %s)", expr)
	}
	return expr
}
