package report

import (
	"fmt"
	"image/color"
	"path/filepath"
	"sort"
	"strings"

	"github.com/solarproa/powersim/pkg/result"
	"github.com/solarproa/powersim/pkg/simulation"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Panels selects the categories drawn on each chart panel.
type Panels struct {
	Voltage []string
	Current []string
	Power   []string
}

// SweepPanels are the chart selections of each sweep kind.
var SweepPanels = map[string]Panels{
	simulation.KindSweepThrottle: {
		Voltage: []string{result.CategoryMPPT, result.CategoryLoad},
		Current: []string{result.CategoryMPPT, result.CategorySolar, result.CategoryLoad, result.CategoryBattery},
		Power:   []string{result.CategoryLoad, result.CategoryBattery},
	},
	simulation.KindSweepPanelPower: {
		Voltage: []string{result.CategoryMPPT, result.CategoryLoad},
		Current: []string{result.CategoryMPPT, result.CategorySolar, result.CategoryLoad, result.CategoryBattery},
		Power:   []string{result.CategoryLoad, result.CategoryBattery, result.CategorySolar},
	},
}

// VoyagePanels is the chart selection of a voyage.
var VoyagePanels = Panels{
	Voltage: []string{result.CategoryLoad, result.CategoryMPPT},
	Current: []string{result.CategorySummary, result.CategoryLoad},
	Power:   []string{result.CategoryPanel, result.CategoryLoad},
}

var (
	warningColor     = color.RGBA{R: 255, A: 80}
	equilibriumColor = color.RGBA{G: 255, A: 255}
	dotted           = []vg.Length{vg.Points(1), vg.Points(3)}
)

// trace is one named line of a chart panel.
type trace struct {
	name string
	xys  plotter.XYs
}

type quantity int

const (
	voltage quantity = iota
	current
	power
)

// traces collects one line per array record key of the given categories.
// Points are only added where a result has the value.
func traces(s simulation.Series, categories []string, q quantity) []trace {
	var out []trace
	for _, cat := range categories {
		index := make(map[string]int)
		var lines []trace
		for i, r := range s.Results {
			c, ok := r.Categories[cat]
			if !ok {
				continue
			}
			for _, rec := range c.Data {
				for _, kv := range values(rec, q) {
					name := fmt.Sprintf("%s - Arr%d_%s", cat, rec.ArrayIndex, kv.key)
					j, ok := index[name]
					if !ok {
						j = len(lines)
						index[name] = j
						lines = append(lines, trace{name: name})
					}
					lines[j].xys = append(lines[j].xys, plotter.XY{X: s.X[i], Y: kv.value})
				}
			}
		}
		out = append(out, lines...)
	}
	return out
}

type keyValue struct {
	key   string
	value float64
}

// values returns the quantity q of a record in key order. Power pairs each
// voltage with the current of the same key, ignoring a terminal suffix.
func values(rec result.Record, q quantity) []keyValue {
	var src map[string]float64
	switch q {
	case voltage:
		src = rec.Voltage
	case current:
		src = rec.Current
	case power:
		src = make(map[string]float64)
		for k, v := range rec.Voltage {
			ck := strings.TrimSuffix(strings.TrimSuffix(k, "_positive"), "_negative")
			if i, ok := rec.Current[ck]; ok {
				src[k] = v * i
			}
		}
	}
	out := make([]keyValue, 0, len(src))
	for k, v := range src {
		out = append(out, keyValue{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

// warningPoints returns the x of every point that raised warnings.
func warningPoints(s simulation.Series) []float64 {
	var xs []float64
	for _, w := range s.Warnings() {
		xs = append(xs, w.X)
	}
	return xs
}

// equilibriumPoint returns the middle x among points where the battery is
// neither charging nor discharging appreciably.
func equilibriumPoint(s simulation.Series) (float64, bool) {
	var xs []float64
	for i, r := range s.Results {
		if r.Analyzed && r.BatteryInputCurrent() < 1 {
			xs = append(xs, s.X[i])
		}
	}
	if len(xs) == 0 {
		return 0, false
	}
	return xs[len(xs)/2], true
}

func writeCharts(dir string, s simulation.Series, capacities []float64, panels Panels) ([]string, error) {
	type panel struct {
		title  string
		yLabel string
		traces []trace
	}
	var all []panel
	if len(panels.Voltage) > 0 {
		all = append(all, panel{"Voltage", "Voltage (V)", traces(s, panels.Voltage, voltage)})
	}
	if len(panels.Current) > 0 {
		all = append(all, panel{"Current", "Current (A)", traces(s, panels.Current, current)})
	}
	if len(panels.Power) > 0 {
		all = append(all, panel{"Power", "Power (W)", traces(s, panels.Power, power)})
	}
	if len(capacities) > 0 {
		xys := make(plotter.XYs, len(capacities))
		for i, c := range capacities {
			xys[i] = plotter.XY{X: s.X[i], Y: c}
		}
		all = append(all, panel{"Battery Capacity", "Battery Capacity (A·min)", []trace{{name: "Battery Capacity (A·min)", xys: xys}}})
	}

	warnings := warningPoints(s)
	eq, hasEq := equilibriumPoint(s)
	var files []string
	for _, pn := range all {
		title := fmt.Sprintf("%s vs %s", pn.title, s.XLabel)
		p := plot.New()
		p.Title.Text = title
		p.X.Label.Text = s.XLabel
		p.Y.Label.Text = pn.yLabel
		p.Legend.Top = true
		p.Add(plotter.NewGrid())

		var ys []float64
		for i, tr := range pn.traces {
			if len(tr.xys) <= 2 {
				continue
			}
			l, err := plotter.NewLine(tr.xys)
			if err != nil {
				return files, fmt.Errorf("failed to draw %q: %w", tr.name, err)
			}
			l.Color = plotutil.Color(i)
			p.Add(l)
			p.Legend.Add(tr.name, l)
			for _, xy := range tr.xys {
				ys = append(ys, xy.Y)
			}
		}
		if len(ys) == 0 {
			continue
		}

		lo, hi := floats.Min(ys), floats.Max(ys)
		marker := func(x float64, c color.Color) error {
			l, err := plotter.NewLine(plotter.XYs{{X: x, Y: lo}, {X: x, Y: hi}})
			if err != nil {
				return err
			}
			l.Color = c
			l.Dashes = dotted
			p.Add(l)
			return nil
		}
		for _, x := range warnings {
			if err := marker(x, warningColor); err != nil {
				return files, err
			}
		}
		if hasEq {
			if err := marker(eq, equilibriumColor); err != nil {
				return files, err
			}
		}

		path := filepath.Join(dir, title+".png")
		if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
			return files, fmt.Errorf("failed to save %s: %w", path, err)
		}
		files = append(files, path)
	}
	return files, nil
}
