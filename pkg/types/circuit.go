package types

// BatteryConfig describes one battery bank choice from the circuit document.
type BatteryConfig struct {
	InParallel int `json:"battery_in_parallel"`
	InSeries   int `json:"battery_in_series"`

	// MinVoltage and MaxVoltage bound the per-cell voltage. When either is
	// missing the cell voltage is the fixed Voltage.
	MinVoltage *float64 `json:"min_voltage,omitempty"`
	MaxVoltage *float64 `json:"max_voltage,omitempty"`
	Voltage    float64  `json:"battery_voltage,omitempty"`

	// Per-cell current limits in amps. They are multiplied by InParallel.
	MaxChargeCurrent    float64 `json:"max_charge_current"`
	MaxDischargeCurrent float64 `json:"max_discharge_current"`

	CapacityAH float64 `json:"capacity_ah"`
	// CurrentSOC is a fraction in [0, 1] and defaults to 1.
	CurrentSOC *float64 `json:"current_soc,omitempty"`
}

// SOC returns the configured state of charge, defaulting to a full battery.
func (b BatteryConfig) SOC() float64 {
	if b.CurrentSOC == nil {
		return 1.0
	}
	return *b.CurrentSOC
}

// PanelInfo describes the cells of one solar sub-array.
type PanelInfo struct {
	InSeries   int     `json:"in_series"`
	InParallel int     `json:"in_parallel"`
	Voltage    float64 `json:"voltage"`
	Power      float64 `json:"power"`
}

// MPPTInfo holds the ratings of the tracker paired with a solar sub-array.
type MPPTInfo struct {
	MaxInputVoltage  float64 `json:"max_input_voltage"`
	MaxInputCurrent  float64 `json:"max_input_current"`
	MaxOutputVoltage float64 `json:"max_output_voltage"`
	MaxOutputCurrent float64 `json:"max_output_current"`
	Efficiency       float64 `json:"efficiency"`
}

// SolarGroup is a solar sub-array and its MPPT, replicated Count times.
type SolarGroup struct {
	Name  string    `json:"name,omitempty"`
	Count int       `json:"count"`
	Panel PanelInfo `json:"panel_info"`
	MPPT  MPPTInfo  `json:"mppt_info"`
}

// LoadConfig describes a propulsion or house load.
type LoadConfig struct {
	Name           string   `json:"name,omitempty"`
	NominalVoltage float64  `json:"nominal_voltage"`
	TotalPower     float64  `json:"total_power"`
	Throttle       *float64 `json:"throttle,omitempty"`
}

// ThrottleSetting returns the configured throttle fraction, defaulting to 0.
func (l LoadConfig) ThrottleSetting() float64 {
	if l.Throttle == nil {
		return 0
	}
	return *l.Throttle
}

// Circuit is the resolved configuration for one simulation run. Group and
// load order fixes the array indices used in the network.
type Circuit struct {
	BatteryChoice string        `json:"battery_choice"`
	Battery       BatteryConfig `json:"battery"`
	SolarGroups   []SolarGroup  `json:"solar_groups"`
	Loads         []LoadConfig  `json:"loads"`
}

// Overrides are the per-run changes applied on top of a Circuit, used by the
// sweep and voyage drivers to derive a configuration for each solve.
type Overrides struct {
	Throttle            *float64  `json:"throttle,omitempty"`
	ThrottlePerLoad     []float64 `json:"throttle_per_load,omitempty"`
	SolarPower          *float64  `json:"solar_power,omitempty"`
	SOC                 *float64  `json:"soc,omitempty"`
	MaxChargeCurrent    *float64  `json:"max_charge_current,omitempty"`
	MaxDischargeCurrent *float64  `json:"max_discharge_current,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Apply returns a copy of c with the overrides applied. c is not modified.
func (c Circuit) Apply(o Overrides) Circuit {
	out := c.Clone()
	if o.MaxChargeCurrent != nil {
		out.Battery.MaxChargeCurrent = *o.MaxChargeCurrent
	}
	if o.MaxDischargeCurrent != nil {
		out.Battery.MaxDischargeCurrent = *o.MaxDischargeCurrent
	}
	if o.SOC != nil {
		out.Battery.CurrentSOC = Float(*o.SOC)
	}
	if o.SolarPower != nil {
		for i := range out.SolarGroups {
			out.SolarGroups[i].Panel.Power *= *o.SolarPower
		}
	}
	for i := range out.Loads {
		switch {
		case i < len(o.ThrottlePerLoad):
			out.Loads[i].Throttle = Float(o.ThrottlePerLoad[i])
		case o.Throttle != nil:
			out.Loads[i].Throttle = Float(*o.Throttle)
		}
	}
	return out
}

// Clone returns a deep copy of c.
func (c Circuit) Clone() Circuit {
	out := c
	out.Battery = c.Battery.clone()
	out.SolarGroups = append([]SolarGroup(nil), c.SolarGroups...)
	if c.Loads == nil {
		return out
	}
	out.Loads = make([]LoadConfig, len(c.Loads))
	for i, l := range c.Loads {
		if l.Throttle != nil {
			l.Throttle = Float(*l.Throttle)
		}
		out.Loads[i] = l
	}
	return out
}

func (b BatteryConfig) clone() BatteryConfig {
	if b.MinVoltage != nil {
		b.MinVoltage = Float(*b.MinVoltage)
	}
	if b.MaxVoltage != nil {
		b.MaxVoltage = Float(*b.MaxVoltage)
	}
	if b.CurrentSOC != nil {
		b.CurrentSOC = Float(*b.CurrentSOC)
	}
	return b
}

// ArrayCount returns the number of solar/MPPT array instances after
// expanding each group's Count.
func (c Circuit) ArrayCount() int {
	var n int
	for _, g := range c.SolarGroups {
		n += max(g.Count, 0)
	}
	return n
}
