// Package report writes simulation artifacts: result documents, warning
// points and charts.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/result"
	"github.com/solarproa/powersim/pkg/simulation"
)

const (
	// ResultsFile holds the full series of a sweep or voyage.
	ResultsFile = "results.json"
	// WarningsFile lists every point that raised warnings.
	WarningsFile = "sweep_simulation_warnings.json"
)

// Dir is the artifact directory of a run kind under output.
func Dir(output, kind string) string {
	return output + "." + kind
}

// OperatingPointPath is the artifact path of an operating point under
// output.
func OperatingPointPath(output string) string {
	return output + "." + simulation.KindOperatingPoint + ".json"
}

// Options control which artifacts are written.
type Options struct {
	// Charts enables PNG chart panels.
	Charts bool
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// WriteOperatingPoint writes r next to output and returns the path.
func WriteOperatingPoint(ctx context.Context, output string, r *result.Result) (string, error) {
	path := OperatingPointPath(output)
	if err := writeJSON(path, r); err != nil {
		return "", err
	}
	log.Ctx(ctx).InfoContext(ctx, "artifact written", slog.String("path", path))
	return path, nil
}

// WriteSweep writes a sweep series into its artifact directory and returns
// the directory.
func WriteSweep(ctx context.Context, output string, s simulation.Series, opts Options) (string, error) {
	panels, ok := SweepPanels[s.Kind]
	if !ok {
		return "", fmt.Errorf("unknown sweep kind %q", s.Kind)
	}
	return writeSeries(ctx, Dir(output, s.Kind), s, s, nil, panels, opts)
}

// WriteVoyage writes a voyage into its artifact directory and returns the
// directory. The battery capacity gets a chart panel of its own.
func WriteVoyage(ctx context.Context, output string, v simulation.Voyage, opts Options) (string, error) {
	return writeSeries(ctx, Dir(output, simulation.KindVoyage), v, v.Series(), v.Capacities(), VoyagePanels, opts)
}

func writeSeries(ctx context.Context, dir string, doc any, s simulation.Series, capacities []float64, panels Panels, opts Options) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := writeJSON(filepath.Join(dir, ResultsFile), doc); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(dir, WarningsFile), s.Warnings()); err != nil {
		return "", err
	}
	if opts.Charts {
		files, err := writeCharts(dir, s, capacities, panels)
		if err != nil {
			return "", err
		}
		log.Ctx(ctx).DebugContext(ctx, "charts written", slog.String("dir", dir), slog.Any("files", files))
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"artifact written",
		slog.String("path", dir),
		slog.String("kind", s.Kind),
		slog.Int("points", len(s.X)),
	)
	return dir, nil
}
