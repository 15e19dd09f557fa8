package types

import (
	"errors"
	"fmt"
)

// CurrentConstantsVersion is the current version of the Constants struct.
// Increment this value when a key is renamed or changes meaning.
const CurrentConstantsVersion = 2

// Constants are the numeric knobs of the electrical model. They are threaded
// through the assembler, solver and checker instead of living in globals.
type Constants struct {
	Version int `json:"version,omitempty"`

	// Near-zero reference impedance used to tie otherwise floating nodes to
	// ground.
	GroundingResistance float64 `json:"grounding_resistance"`
	// Resistance of every inter-component connection.
	WireResistance float64 `json:"wire_resistance"`
	Epsilon        float64 `json:"epsilon"`

	// MPPT output voltage sits this many volts above the battery voltage.
	MPPTBatteryVoltageBuffer float64 `json:"mppt_battery_voltage_buffer"`
	// Volts of allowed mismatch between nominal and battery voltage.
	VoltageMismatchTolerance float64 `json:"voltage_mismatch_tolerance"`
	// Percentage points a load's realized throttle may fall short.
	PowerMismatchTolerancePercentage float64 `json:"power_mismatch_tolerance_percentage"`

	// Slope of the ramp used by clamped behavioral sources once their limit
	// is passed.
	BehavioralGain     float64 `json:"behavioral_gain"`
	SweepIntervalCount int     `json:"sweep_interval_count"`

	SolverMaxIterations int     `json:"solver_max_iterations"`
	SolverTolerance     float64 `json:"solver_tolerance"`
}

// DefaultConstants returns the constants used for any key a document leaves
// out.
func DefaultConstants() Constants {
	return Constants{
		Version:                          CurrentConstantsVersion,
		GroundingResistance:              1e-6,
		WireResistance:                   0.01,
		Epsilon:                          1e-4,
		MPPTBatteryVoltageBuffer:         2.0,
		VoltageMismatchTolerance:         5.0,
		PowerMismatchTolerancePercentage: 1.0,
		BehavioralGain:                   1e8,
		SweepIntervalCount:               100,
		SolverMaxIterations:              100,
		SolverTolerance:                  1e-9,
	}
}

// MigrateConstants brings constants decoded from a document written at
// currentVersion up to CurrentConstantsVersion. Missing keys already hold
// their defaults because documents are decoded over DefaultConstants, so
// only the version stamp changes today. Documents from a newer version are
// rejected.
func MigrateConstants(c Constants, currentVersion int) (Constants, bool, error) {
	if currentVersion > CurrentConstantsVersion {
		return c, false, fmt.Errorf("unknown constants version: %d", currentVersion)
	}
	if currentVersion == CurrentConstantsVersion {
		return c, false, nil
	}
	c.Version = CurrentConstantsVersion
	return c, true, nil
}

// Validate rejects constants the solver cannot work with.
func (c Constants) Validate() error {
	var errs []error
	if c.GroundingResistance <= 0 {
		errs = append(errs, fmt.Errorf("grounding_resistance must be positive, got %g", c.GroundingResistance))
	}
	if c.WireResistance <= 0 {
		errs = append(errs, fmt.Errorf("wire_resistance must be positive, got %g", c.WireResistance))
	}
	if c.Epsilon < 0 {
		errs = append(errs, fmt.Errorf("epsilon must not be negative, got %g", c.Epsilon))
	}
	if c.BehavioralGain <= 0 {
		errs = append(errs, fmt.Errorf("behavioral_gain must be positive, got %g", c.BehavioralGain))
	}
	if c.SweepIntervalCount < 1 {
		errs = append(errs, fmt.Errorf("sweep_interval_count must be at least 1, got %d", c.SweepIntervalCount))
	}
	if c.SolverMaxIterations < 1 {
		errs = append(errs, fmt.Errorf("solver_max_iterations must be at least 1, got %d", c.SolverMaxIterations))
	}
	if c.SolverTolerance <= 0 {
		errs = append(errs, fmt.Errorf("solver_tolerance must be positive, got %g", c.SolverTolerance))
	}
	return errors.Join(errs...)
}
