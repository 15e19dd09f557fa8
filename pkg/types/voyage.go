package types

// Segment is a fixed-duration interval of constant throttle and solar input.
type Segment struct {
	Name            string  `json:"name,omitempty"`
	DurationMinutes float64 `json:"duration_minutes"`
	Throttle        float64 `json:"throttle"`
	SolarPower      float64 `json:"solar_power"`
}

// Voyage is the voyage document.
type Voyage struct {
	Info       map[string]any `json:"voyage_info,omitempty"`
	InitialSOC float64        `json:"initial_battery_soc"`
	Segments   []Segment      `json:"segments"`
}

// TotalMinutes is the sum of all segment durations.
func (v Voyage) TotalMinutes() float64 {
	var total float64
	for _, s := range v.Segments {
		total += s.DurationMinutes
	}
	return total
}
