package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/metrics"
	"github.com/solarproa/powersim/pkg/storage"

	"github.com/levenlabs/go-lflag"
)

func main() {
	circuit := lflag.RequiredString("circuit", "Path to the circuit document (JSON or YAML)")
	constants := lflag.String("constants", "", "Path to the constants document; defaults apply when empty")
	boat := lflag.String("boat", "", "Boat to simulate when the circuit document describes several")
	voyage := lflag.String("voyage", "", "Path to the voyage document, required for voyage simulations")
	output := lflag.RequiredString("output", "Path prefix for result artifacts")
	simulationType := lflag.String("simulation-type", typeAll, "Simulation to run (operating_point, sweep_throttle, sweep_panel_power, voyage, all)")
	verbose := lflag.Bool("verbose", false, "Log at debug level")
	showPlot := lflag.Bool("show-plot", false, "Render chart panels for sweeps and voyages")
	metricsFile := lflag.String("metrics-textfile", "", "Write solver metrics in Prometheus text format to this path")

	s := storage.Configured()

	// parse flags
	lflag.Configure()

	// lflag automatically sets llog's level, but we need to set the slog level
	level, err := log.LLogLevel()
	if err != nil {
		panic(err)
	}
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))
	log.SetDefaultLogLevel(level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a := &app{
		opts: options{
			circuit:        *circuit,
			constants:      *constants,
			boat:           *boat,
			voyage:         *voyage,
			output:         *output,
			simulationType: *simulationType,
			showPlot:       *showPlot,
		},
		storage: s,
	}
	reg := prometheus.NewRegistry()
	if *metricsFile != "" {
		if a.metrics, err = metrics.NewCollector(reg); err != nil {
			panic(err)
		}
	}

	runErr := a.run(ctx)
	if err := s.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", slog.Any("error", err))
	}
	if *metricsFile != "" {
		if err := prometheus.WriteToTextfile(*metricsFile, reg); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to write metrics", slog.String("path", *metricsFile), slog.Any("error", err))
		}
	}
	if runErr != nil {
		log.Ctx(ctx).ErrorContext(ctx, "simulation failed", slog.Any("error", runErr))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "simulation finished", slog.String("output", *output))
}
