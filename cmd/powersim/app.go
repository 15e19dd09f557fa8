package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/solarproa/powersim/pkg/config"
	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/metrics"
	"github.com/solarproa/powersim/pkg/report"
	"github.com/solarproa/powersim/pkg/simulation"
	"github.com/solarproa/powersim/pkg/solver"
	"github.com/solarproa/powersim/pkg/storage"
	"github.com/solarproa/powersim/pkg/types"
)

const typeAll = "all"

var (
	errUnknownType   = errors.New("unknown simulation type")
	errVoyageMissing = errors.New("a voyage document is required for voyage simulations")
)

type options struct {
	circuit        string
	constants      string
	boat           string
	voyage         string
	output         string
	simulationType string
	showPlot       bool
}

// app runs the simulations one invocation asked for.
type app struct {
	opts    options
	storage storage.Database
	metrics *metrics.Collector
}

// kinds resolves the simulation type into the kinds to run, in order.
func (a *app) kinds() ([]string, error) {
	var kinds []string
	switch t := a.opts.simulationType; {
	case t == typeAll:
		kinds = slices.Clone(simulation.Kinds)
	case slices.Contains(simulation.Kinds, t):
		kinds = []string{t}
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, t)
	}
	if slices.Contains(kinds, simulation.KindVoyage) && a.opts.voyage == "" {
		return nil, errVoyageMissing
	}
	return kinds, nil
}

func (a *app) run(ctx context.Context) error {
	kinds, err := a.kinds()
	if err != nil {
		return err
	}

	k, err := config.LoadConstants(ctx, a.opts.constants)
	if err != nil {
		return err
	}
	mna := solver.New(k)
	if a.metrics != nil {
		mna.Observer = a.metrics
	}
	if err := solver.SelfCheck(ctx, mna); err != nil {
		return err
	}

	c, err := config.LoadCircuit(ctx, a.opts.circuit, a.opts.boat)
	if err != nil {
		return err
	}
	var voyage types.Voyage
	if slices.Contains(kinds, simulation.KindVoyage) {
		if voyage, err = config.LoadVoyage(ctx, a.opts.voyage); err != nil {
			return err
		}
	}

	sim := simulation.NewSimulator(c, k, mna)
	ropts := report.Options{Charts: a.opts.showPlot}
	for _, kind := range kinds {
		log.Ctx(ctx).InfoContext(ctx, "simulation started", slog.String("kind", kind))
		switch kind {
		case simulation.KindOperatingPoint:
			err = a.operatingPoint(ctx, sim)
		case simulation.KindSweepThrottle:
			err = a.sweep(ctx, simulation.SweepThrottle, sim, ropts)
		case simulation.KindSweepPanelPower:
			err = a.sweep(ctx, simulation.SweepSolarPower, sim, ropts)
		case simulation.KindVoyage:
			err = a.voyage(ctx, sim, voyage, ropts)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", kind, err)
		}
	}
	return nil
}

func (a *app) operatingPoint(ctx context.Context, sim *simulation.Simulator) error {
	res := sim.Run(ctx, types.Overrides{})
	path, err := report.WriteOperatingPoint(ctx, a.opts.output, res)
	if err != nil {
		return err
	}
	logMessages(ctx, res.Errors.Data, res.Warnings.Data)
	return a.archive(ctx, simulation.KindOperatingPoint, res.Info.Name, path, res.Errors.Data, res.Warnings.Data, false, res)
}

type sweepFunc func(context.Context, simulation.Runner, int) (simulation.Series, error)

func (a *app) sweep(ctx context.Context, sweep sweepFunc, sim *simulation.Simulator, ropts report.Options) error {
	series, err := sweep(ctx, sim, sim.Constants().SweepIntervalCount)
	if err != nil {
		return err
	}
	dir, err := report.WriteSweep(ctx, a.opts.output, series, ropts)
	if err != nil {
		return err
	}
	errs, warnings := series.Messages()
	logMessages(ctx, errs, warnings)
	return a.archive(ctx, series.Kind, name(series), dir, errs, warnings, false, series)
}

func (a *app) voyage(ctx context.Context, sim *simulation.Simulator, v types.Voyage, ropts report.Options) error {
	out, err := simulation.RunVoyage(ctx, sim, sim.Circuit().Battery, v, sim.Constants())
	if err != nil && !errors.Is(err, simulation.ErrSegmentFailed) {
		return err
	}
	// the points before a failed segment are still written
	dir, werr := report.WriteVoyage(ctx, a.opts.output, out, ropts)
	if werr != nil {
		return werr
	}
	errs, warnings := out.Series().Messages()
	logMessages(ctx, errs, warnings)
	runName := name(out.Series())
	if n, ok := v.Info["name"].(string); ok && n != "" {
		runName = n
	}
	if err != nil {
		errs = append(errs, err.Error())
	}
	if aerr := a.archive(ctx, simulation.KindVoyage, runName, dir, errs, warnings, out.Aborted, out); aerr != nil {
		return aerr
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"voyage finished",
		slog.Float64("finalSOC", out.FinalSOC()),
		slog.Bool("aborted", out.Aborted),
	)
	return err
}

// archive stores the run when a storage provider is configured.
func (a *app) archive(ctx context.Context, kind, runName, artifact string, errs, warnings []string, aborted bool, payload any) error {
	a.metrics.ObserveRun(kind)
	if a.storage == nil {
		return nil
	}
	run, err := storage.NewRun(kind, runName, errs, warnings, payload)
	if err != nil {
		return err
	}
	run.Aborted = aborted
	if err := a.storage.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to archive run: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "run archived", slog.String("runID", run.ID), slog.String("artifact", artifact))
	return nil
}

func logMessages(ctx context.Context, errs, warnings []string) {
	for _, e := range errs {
		log.Ctx(ctx).ErrorContext(ctx, "simulation error", slog.String("message", e))
	}
	for _, w := range warnings {
		log.Ctx(ctx).WarnContext(ctx, "simulation warning", slog.String("message", w))
	}
}

func name(s simulation.Series) string {
	if len(s.Results) == 0 {
		return ""
	}
	return s.Results[0].Info.Name
}
