package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/result"
	"github.com/solarproa/powersim/pkg/types"
)

var (
	// ErrNoSegments is returned for a voyage without segments.
	ErrNoSegments = errors.New("voyage has no segments")
	// ErrSegmentFailed is returned when a segment could not be analyzed. The
	// voyage is cut short there.
	ErrSegmentFailed = errors.New("voyage segment failed")
)

// VoyagePoint is the battery state at one instant of a voyage together with
// the result that holds from that instant on.
type VoyagePoint struct {
	TimeMinutes        float64 `json:"time_minutes"`
	CapacityAmpMinutes float64 `json:"capacity_amp_minutes"`
	SOC                float64 `json:"soc"`
	Segment            int     `json:"segment"`
	// Step points repeat the previous instant with the next result so plots
	// draw a vertical transition.
	Step   bool           `json:"step"`
	Result *result.Result `json:"result"`
}

// Voyage is the time series produced by RunVoyage.
type Voyage struct {
	Points                 []VoyagePoint `json:"points"`
	FullCapacityAmpMinutes float64       `json:"full_capacity_amp_minutes"`
	Aborted                bool          `json:"aborted"`
	// FailedSegment is -1 unless Aborted.
	FailedSegment int `json:"failed_segment"`
}

// Series returns the points as a series against time.
func (v Voyage) Series() Series {
	s := Series{Kind: KindVoyage, XLabel: "Time (minutes)"}
	for _, p := range v.Points {
		s.X = append(s.X, p.TimeMinutes)
		s.Results = append(s.Results, p.Result)
	}
	return s
}

// Capacities returns the battery capacity of every point.
func (v Voyage) Capacities() []float64 {
	out := make([]float64, len(v.Points))
	for i, p := range v.Points {
		out[i] = p.CapacityAmpMinutes
	}
	return out
}

// FinalSOC is the state of charge at the end of the last recorded point.
func (v Voyage) FinalSOC() float64 {
	if len(v.Points) == 0 {
		return 0
	}
	return v.Points[len(v.Points)-1].SOC
}

type voyageState struct {
	v        *Voyage
	full     float64
	time     float64
	capacity float64
	segment  int
}

func (s *voyageState) soc() float64 {
	if s.full <= 0 {
		return 0
	}
	return s.capacity / s.full
}

// advance moves the state to the end of an interval of the given length over
// which res holds, ending at capacity. A step point at the start of the
// interval carries res back to the previous instant.
func (s *voyageState) advance(minutes, capacity float64, res *result.Result) {
	s.v.Points = append(s.v.Points, VoyagePoint{
		TimeMinutes:        s.time,
		CapacityAmpMinutes: s.capacity,
		SOC:                s.soc(),
		Segment:            s.segment,
		Step:               true,
		Result:             res,
	})
	s.time += minutes
	s.capacity = capacity
	s.v.Points = append(s.v.Points, VoyagePoint{
		TimeMinutes:        s.time,
		CapacityAmpMinutes: s.capacity,
		SOC:                s.soc(),
		Segment:            s.segment,
		Result:             res,
	})
}

// RunVoyage steps the battery through every segment of v. Capacity is
// integrated linearly from the battery input current of each segment. When
// the battery would fill or empty mid-segment the segment is split at that
// instant and the remainder is re-run with the charge or discharge limit
// forced to zero.
//
// A segment that cannot be analyzed stops the voyage; the points recorded so
// far are returned along with ErrSegmentFailed.
func RunVoyage(ctx context.Context, r Runner, battery types.BatteryConfig, v types.Voyage, k types.Constants) (Voyage, error) {
	out := Voyage{FailedSegment: -1}
	if len(v.Segments) == 0 {
		return out, ErrNoSegments
	}
	out.FullCapacityAmpMinutes = battery.CapacityAH * float64(battery.InParallel) * 60

	st := &voyageState{v: &out, full: out.FullCapacityAmpMinutes}
	st.capacity = min(max(v.InitialSOC, 0), 1) * st.full

	fail := func(i int, res *result.Result) (Voyage, error) {
		if len(out.Points) == 0 {
			out.Points = append(out.Points, VoyagePoint{CapacityAmpMinutes: st.capacity, SOC: st.soc(), Segment: i, Result: res})
		}
		out.Aborted = true
		out.FailedSegment = i
		log.Ctx(ctx).WarnContext(ctx, "voyage aborted", slog.Int("segment", i), slog.Float64("timeMinutes", st.time))
		return out, fmt.Errorf("%w: segment %d", ErrSegmentFailed, i)
	}

	for i, seg := range v.Segments {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		st.segment = i
		o := types.Overrides{
			Throttle:   types.Float(seg.Throttle),
			SolarPower: types.Float(seg.SolarPower),
			SOC:        types.Float(st.soc()),
		}
		res := r.Run(ctx, o)
		if !res.Analyzed {
			return fail(i, res)
		}
		if len(out.Points) == 0 {
			out.Points = append(out.Points, VoyagePoint{CapacityAmpMinutes: st.capacity, SOC: st.soc(), Result: res})
		}

		current := res.BatteryInputCurrent()
		projected := st.capacity + current*seg.DurationMinutes
		l := log.Ctx(ctx).With(slog.Int("segment", i), slog.Float64("batteryInputCurrent", current))

		switch {
		case projected > st.full:
			elapsed := (st.full - st.capacity) / current
			if elapsed > k.Epsilon {
				st.advance(elapsed, st.full, res)
			} else {
				elapsed = 0
				st.capacity = st.full
			}
			l.DebugContext(ctx, "battery full", slog.Float64("timeMinutes", st.time))

			o.SOC = types.Float(1)
			o.MaxChargeCurrent = types.Float(0)
			rest := r.Run(ctx, o)
			if !rest.Analyzed {
				return fail(i, rest)
			}
			st.advance(seg.DurationMinutes-elapsed, st.capacity, rest)

		case projected < 0:
			elapsed := -st.capacity / current
			if elapsed > k.Epsilon {
				st.advance(elapsed, 0, res)
			} else {
				elapsed = 0
				st.capacity = 0
			}
			l.DebugContext(ctx, "battery empty", slog.Float64("timeMinutes", st.time))

			o.SOC = types.Float(0)
			o.MaxDischargeCurrent = types.Float(0)
			rest := r.Run(ctx, o)
			if !rest.Analyzed {
				return fail(i, rest)
			}
			st.advance(seg.DurationMinutes-elapsed, st.capacity, rest)

		default:
			st.advance(seg.DurationMinutes, projected, res)
			l.DebugContext(ctx, "segment integrated", slog.Float64("capacity", st.capacity), slog.Float64("soc", st.soc()))
		}
	}
	return out, nil
}
