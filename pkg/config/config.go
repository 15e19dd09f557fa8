// Package config loads the circuit, constants and voyage documents. Every
// document may be JSON or YAML; YAML is recognized by its file extension.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/solarproa/powersim/pkg/log"
	"github.com/solarproa/powersim/pkg/types"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoBatteryChoice is returned when battery_setup does not name a
	// battery that it also defines.
	ErrNoBatteryChoice = errors.New("battery_setup has no usable choice")
	// ErrBoatNotFound is returned when a multi-boat document has no entry
	// for the requested boat.
	ErrBoatNotFound = errors.New("boat not found")
)

// Format is the encoding of a document.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf guesses the format of path from its extension, defaulting to JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// toJSON normalizes a document to JSON so that a single set of struct tags
// serves both formats.
func toJSON(b []byte, f Format) ([]byte, error) {
	if f != FormatYAML {
		return b, nil
	}
	var v any
	if err := yaml.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to convert yaml: %w", err)
	}
	return out, nil
}

func read(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return toJSON(b, FormatOf(path))
}

type document struct {
	BatterySetup   map[string]json.RawMessage `json:"battery_setup"`
	MPPTPanelSetup map[string]json.RawMessage `json:"mppt_panel_setup"`
	LoadSetup      map[string]json.RawMessage `json:"load_setup"`
}

// LoadCircuit reads the circuit document at path. When the document is a
// map of boat names to circuit documents, boat selects one of them.
func LoadCircuit(ctx context.Context, path, boat string) (types.Circuit, error) {
	b, err := read(path)
	if err != nil {
		return types.Circuit{}, err
	}
	c, err := ParseCircuit(b, boat)
	if err != nil {
		return types.Circuit{}, fmt.Errorf("%s: %w", path, err)
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"loaded circuit",
		slog.String("path", path),
		slog.String("boat", boat),
		slog.String("battery", c.BatteryChoice),
		slog.Int("solarGroups", len(c.SolarGroups)),
		slog.Int("loads", len(c.Loads)),
	)
	return c, nil
}

// ParseCircuit decodes a JSON circuit document.
func ParseCircuit(b []byte, boat string) (types.Circuit, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return types.Circuit{}, fmt.Errorf("failed to decode circuit: %w", err)
	}
	if _, ok := top["battery_setup"]; !ok {
		raw, err := selectBoat(top, boat)
		if err != nil {
			return types.Circuit{}, err
		}
		b = raw
	}

	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return types.Circuit{}, fmt.Errorf("failed to decode circuit: %w", err)
	}
	var c types.Circuit

	var choice string
	if raw, ok := doc.BatterySetup["choice"]; ok {
		if err := json.Unmarshal(raw, &choice); err != nil {
			return types.Circuit{}, fmt.Errorf("failed to decode battery choice: %w", err)
		}
	}
	raw, ok := doc.BatterySetup[choice]
	if choice == "" || choice == "choice" || !ok {
		return types.Circuit{}, fmt.Errorf("%w: %q", ErrNoBatteryChoice, choice)
	}
	if err := json.Unmarshal(raw, &c.Battery); err != nil {
		return types.Circuit{}, fmt.Errorf("failed to decode battery %q: %w", choice, err)
	}
	c.BatteryChoice = choice

	for _, name := range sections(doc.MPPTPanelSetup) {
		var g types.SolarGroup
		if err := json.Unmarshal(doc.MPPTPanelSetup[name], &g); err != nil {
			return types.Circuit{}, fmt.Errorf("failed to decode solar group %q: %w", name, err)
		}
		g.Name = name
		c.SolarGroups = append(c.SolarGroups, g)
	}
	for _, name := range sections(doc.LoadSetup) {
		var l types.LoadConfig
		if err := json.Unmarshal(doc.LoadSetup[name], &l); err != nil {
			return types.Circuit{}, fmt.Errorf("failed to decode load %q: %w", name, err)
		}
		l.Name = name
		c.Loads = append(c.Loads, l)
	}
	return c, nil
}

// selectBoat picks boat out of a multi-boat document. An empty boat is only
// accepted when the document holds exactly one.
func selectBoat(top map[string]json.RawMessage, boat string) (json.RawMessage, error) {
	if boat == "" && len(top) == 1 {
		for _, raw := range top {
			return raw, nil
		}
	}
	raw, ok := top[boat]
	if !ok {
		names := make([]string, 0, len(top))
		for name := range top {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: %q (have %s)", ErrBoatNotFound, boat, strings.Join(names, ", "))
	}
	return raw, nil
}

// sections returns the object-valued keys of m in natural order. Scalar
// entries such as "description" are not sections.
func sections(m map[string]json.RawMessage) []string {
	var names []string
	for name, raw := range m {
		if trimmed := strings.TrimSpace(string(raw)); !strings.HasPrefix(trimmed, "{") {
			continue
		}
		names = append(names, name)
	}
	slices.SortFunc(names, NaturalCompare)
	return names
}

// NaturalCompare orders strings with embedded numbers by value, so that
// "config_2" sorts before "config_10".
func NaturalCompare(a, b string) int {
	for a != "" && b != "" {
		ca, ra := chunk(a)
		cb, rb := chunk(b)
		if isDigit(ca[0]) && isDigit(cb[0]) {
			na, nb := strings.TrimLeft(ca, "0"), strings.TrimLeft(cb, "0")
			if len(na) != len(nb) {
				return len(na) - len(nb)
			}
			if c := strings.Compare(na, nb); c != 0 {
				return c
			}
		} else if c := strings.Compare(ca, cb); c != 0 {
			return c
		}
		a, b = ra, rb
	}
	return len(a) - len(b)
}

// chunk splits off the leading run of digits or non-digits.
func chunk(s string) (string, string) {
	digit := isDigit(s[0])
	i := 1
	for i < len(s) && isDigit(s[i]) == digit {
		i++
	}
	return s[:i], s[i:]
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// LoadConstants reads the constants document at path and fills defaults for
// anything missing. An empty path yields the defaults. Keys may be given in
// either lower or upper case.
func LoadConstants(ctx context.Context, path string) (types.Constants, error) {
	if path == "" {
		return types.DefaultConstants(), nil
	}
	b, err := read(path)
	if err != nil {
		return types.Constants{}, err
	}
	k, err := ParseConstants(b)
	if err != nil {
		return types.Constants{}, fmt.Errorf("%s: %w", path, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "loaded constants", slog.String("path", path), slog.Any("constants", k))
	return k, nil
}

// ParseConstants decodes a JSON constants document over the defaults, so
// missing keys keep their default and explicit values, zero included, are
// kept as given.
func ParseConstants(b []byte) (types.Constants, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return types.Constants{}, fmt.Errorf("failed to decode constants: %w", err)
	}
	lower := make(map[string]json.RawMessage, len(raw))
	for key, v := range raw {
		lower[strings.ToLower(key)] = v
	}
	b, err := json.Marshal(lower)
	if err != nil {
		return types.Constants{}, fmt.Errorf("failed to normalize constants: %w", err)
	}
	k := types.DefaultConstants()
	if err := json.Unmarshal(b, &k); err != nil {
		return types.Constants{}, fmt.Errorf("failed to decode constants: %w", err)
	}
	k, _, err = types.MigrateConstants(k, k.Version)
	if err != nil {
		return types.Constants{}, err
	}
	if err := k.Validate(); err != nil {
		return types.Constants{}, err
	}
	return k, nil
}

// LoadVoyage reads and validates the voyage document at path.
func LoadVoyage(ctx context.Context, path string) (types.Voyage, error) {
	b, err := read(path)
	if err != nil {
		return types.Voyage{}, err
	}
	var v types.Voyage
	if err := json.Unmarshal(b, &v); err != nil {
		return types.Voyage{}, fmt.Errorf("%s: failed to decode voyage: %w", path, err)
	}
	if err := ValidateVoyage(v); err != nil {
		return types.Voyage{}, fmt.Errorf("%s: %w", path, err)
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"loaded voyage",
		slog.String("path", path),
		slog.Int("segments", len(v.Segments)),
		slog.Float64("totalMinutes", v.TotalMinutes()),
	)
	return v, nil
}

// ValidateVoyage reports every out-of-range field of v.
func ValidateVoyage(v types.Voyage) error {
	var errs []error
	if v.InitialSOC < 0 || v.InitialSOC > 1 {
		errs = append(errs, fmt.Errorf("initial_battery_soc %v is outside [0, 1]", v.InitialSOC))
	}
	if len(v.Segments) == 0 {
		errs = append(errs, errors.New("voyage has no segments"))
	}
	for i, s := range v.Segments {
		if s.DurationMinutes < 0 {
			errs = append(errs, fmt.Errorf("segment %d: duration_minutes %v is negative", i, s.DurationMinutes))
		}
		if s.Throttle < 0 || s.Throttle > 1 {
			errs = append(errs, fmt.Errorf("segment %d: throttle %v is outside [0, 1]", i, s.Throttle))
		}
		if s.SolarPower < 0 || s.SolarPower > 1 {
			errs = append(errs, fmt.Errorf("segment %d: solar_power %v is outside [0, 1]", i, s.SolarPower))
		}
	}
	return errors.Join(errs...)
}
