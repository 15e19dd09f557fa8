package simulation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/result"
	"github.com/solarproa/powersim/pkg/types"
	"gonum.org/v1/gonum/floats"
)

// Series is an ordered list of results against one swept variable.
type Series struct {
	Kind    string           `json:"kind"`
	XLabel  string           `json:"x_label"`
	X       []float64        `json:"x"`
	Results []*result.Result `json:"results"`
}

// Warnings pairs each point that produced warnings with its x value.
func (s Series) Warnings() []PointWarnings {
	out := []PointWarnings{}
	for i, r := range s.Results {
		if len(r.Warnings.Data) > 0 {
			out = append(out, PointWarnings{X: s.X[i], Warnings: r.Warnings.Data})
		}
	}
	return out
}

// Messages returns the distinct errors and warnings of every point in order
// of first appearance.
func (s Series) Messages() (errs, warnings []string) {
	seenErr := make(map[string]bool)
	seenWarn := make(map[string]bool)
	for _, r := range s.Results {
		for _, e := range r.Errors.Data {
			if !seenErr[e] {
				seenErr[e] = true
				errs = append(errs, e)
			}
		}
		for _, w := range r.Warnings.Data {
			if !seenWarn[w] {
				seenWarn[w] = true
				warnings = append(warnings, w)
			}
		}
	}
	return errs, warnings
}

// PointWarnings are the warnings raised at one point of a series.
type PointWarnings struct {
	X        float64  `json:"x"`
	Warnings []string `json:"warnings"`
}

// SweepThrottle runs every load from 0% to 100% throttle in count equal
// steps.
func SweepThrottle(ctx context.Context, r Runner, count int) (Series, error) {
	if count < 1 {
		return Series{}, fmt.Errorf("sweep interval count must be positive, got %d", count)
	}
	s := Series{Kind: KindSweepThrottle, XLabel: "Throttle Input (%)"}
	for _, throttle := range floats.Span(make([]float64, count+1), 0, 1) {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		log.Ctx(ctx).DebugContext(ctx, "sweep point", slog.String("kind", s.Kind), slog.Float64("throttle", throttle))
		s.X = append(s.X, throttle*100)
		s.Results = append(s.Results, r.Run(ctx, types.Overrides{Throttle: types.Float(throttle)}))
	}
	return s, nil
}

// SweepSolarPower scales every panel from 100% down to 1/count of its rated
// power. The sweep stops at the first point the solver cannot analyze; that
// point and the rest of the range are left out.
func SweepSolarPower(ctx context.Context, r Runner, count int) (Series, error) {
	if count < 1 {
		return Series{}, fmt.Errorf("sweep interval count must be positive, got %d", count)
	}
	powers := []float64{1}
	if count > 1 {
		powers = floats.Span(make([]float64, count), 1, 1/float64(count))
	}

	s := Series{Kind: KindSweepPanelPower, XLabel: "Panel Power (%)"}
	for _, power := range powers {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		log.Ctx(ctx).DebugContext(ctx, "sweep point", slog.String("kind", s.Kind), slog.Float64("solarPower", power))
		res := r.Run(ctx, types.Overrides{SolarPower: types.Float(power)})
		if !res.Analyzed {
			log.Ctx(ctx).InfoContext(ctx, "panel power sweep stopped", slog.Float64("solarPower", power))
			break
		}
		s.X = append(s.X, power*100)
		s.Results = append(s.Results, res)
	}
	return s, nil
}
