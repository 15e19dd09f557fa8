// Package result holds the structured document produced by one simulation
// run and the structurer that fills it from raw solver output.
package result

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/solarproa/powersim/pkg/network"
)

// Category names of the result document.
const (
	CategoryMPPT         = "mppt_result"
	CategorySolar        = "solar_result"
	CategoryPanel        = "panel_result"
	CategoryBattery      = "battery_result"
	CategoryLoad         = "load_result"
	CategoryLoadBalancer = "load_balancer"
	CategorySummary      = "summary"

	keyInfo      = "info"
	keyError     = "error"
	keyWarning   = "warning"
	keyUnmatched = "unmatched"
	keyAnalyzed  = "analyzed"
)

// Entry binds a category to the address keyword whose values it collects.
type Entry struct {
	Category string
	Keyword  string
}

// Table maps address keywords to result categories.
type Table []Entry

// DefaultTable covers every keyword the assembler emits.
var DefaultTable = Table{
	{CategoryMPPT, network.KeywordMPPT},
	{CategorySolar, network.KeywordSolarArray},
	{CategoryPanel, network.KeywordPanel},
	{CategoryBattery, network.KeywordBattery},
	{CategoryLoad, network.KeywordLoad},
	{CategoryLoadBalancer, network.KeywordLoadBalancer},
	{CategorySummary, network.KeywordSummary},
}

func (t Table) keywords() []string {
	kws := make([]string, len(t))
	for i, e := range t {
		kws[i] = e.Keyword
	}
	return kws
}

// Info is run metadata.
type Info struct {
	Name    string `json:"name"`
	Date    string `json:"date"`
	RunID   string `json:"run_id"`
	Version string `json:"version"`
}

// Messages is the error or warning list of a result.
type Messages struct {
	Keyword    string   `json:"keyword"`
	ArrayCount int      `json:"array_count"`
	Data       []string `json:"data"`
}

func (m *Messages) add(msg string) {
	m.Data = append(m.Data, msg)
	m.ArrayCount = len(m.Data)
}

// Record is the voltages and currents of one array instance. Array records
// key their values without the arr{n}_ prefix.
type Record struct {
	ArrayIndex int                `json:"array_index"`
	Voltage    map[string]float64 `json:"voltage"`
	Current    map[string]float64 `json:"current"`
}

func newRecord(index int) Record {
	return Record{ArrayIndex: index, Voltage: map[string]float64{}, Current: map[string]float64{}}
}

// Category holds one record per array instance. Data is never sparse: gaps
// are filled with empty records.
type Category struct {
	Keyword    string   `json:"keyword"`
	ArrayCount int      `json:"array_count"`
	Data       []Record `json:"data"`
}

func (c *Category) record(index int) *Record {
	for len(c.Data) <= index {
		c.Data = append(c.Data, newRecord(len(c.Data)))
	}
	c.ArrayCount = len(c.Data)
	return &c.Data[index]
}

// Result is the structured document of one run.
type Result struct {
	Info       Info
	Errors     Messages
	Warnings   Messages
	Categories map[string]*Category
	// Unmatched lists solver names that no category claimed.
	Unmatched []string
	// Analyzed is false when the solver produced no operating point.
	Analyzed bool
}

// New returns an empty result with every category of t present.
func New(t Table) *Result {
	r := &Result{
		Errors:     Messages{Keyword: keyError, Data: []string{}},
		Warnings:   Messages{Keyword: keyWarning, Data: []string{}},
		Categories: make(map[string]*Category, len(t)),
	}
	for _, e := range t {
		r.Categories[e.Category] = &Category{Keyword: e.Keyword, Data: []Record{}}
	}
	return r
}

// AddError appends an error. Any error makes the result unusable.
func (r *Result) AddError(msg string) {
	r.Errors.add(msg)
}

// AddWarning appends a warning.
func (r *Result) AddWarning(msg string) {
	r.Warnings.add(msg)
}

// HasErrors reports whether any error was recorded.
func (r *Result) HasErrors() bool {
	return len(r.Errors.Data) > 0
}

// Valid is true when the run was analyzed without errors.
func (r *Result) Valid() bool {
	return r.Analyzed && !r.HasErrors()
}

// Record returns the record of category at index.
func (r *Result) Record(category string, index int) (Record, bool) {
	c, ok := r.Categories[category]
	if !ok || index < 0 || index >= len(c.Data) {
		return Record{}, false
	}
	return c.Data[index], true
}

// Count returns the number of records in category.
func (r *Result) Count(category string) int {
	if c, ok := r.Categories[category]; ok {
		return len(c.Data)
	}
	return 0
}

func (r *Result) current(category string, index int, key string) float64 {
	rec, _ := r.Record(category, index)
	return rec.Current[key]
}

func (r *Result) voltage(category string, index int, key string) float64 {
	rec, _ := r.Record(category, index)
	return rec.Voltage[key]
}

// BatteryInputCurrent is the net current into the battery bank, positive
// when charging.
func (r *Result) BatteryInputCurrent() float64 {
	return r.current(CategorySummary, 0, "total_battery_input_current")
}

// MPPTOutputCurrent is the combined output of every MPPT.
func (r *Result) MPPTOutputCurrent() float64 {
	return r.current(CategorySummary, 0, "total_mppt_output_current")
}

// DCBusVoltage is the voltage of the shared DC bus.
func (r *Result) DCBusVoltage() float64 {
	return r.voltage(CategorySummary, 0, "total_dc_bus_voltage")
}

// MPPTCurrent is the output current of MPPT i.
func (r *Result) MPPTCurrent(i int) float64 {
	return r.current(CategoryMPPT, i, "mppt_output")
}

// MPPTVoltage is the output voltage of MPPT i.
func (r *Result) MPPTVoltage(i int) float64 {
	return r.voltage(CategoryMPPT, i, "mppt_output")
}

// SolarVoltage is the terminal voltage of solar sub-array i.
func (r *Result) SolarVoltage(i int) float64 {
	return r.voltage(CategorySolar, i, "solar_array_output")
}

// SolarCurrent is the output current of solar sub-array i.
func (r *Result) SolarCurrent(i int) float64 {
	return r.current(CategorySolar, i, "solar_array_output")
}

// LoadCurrent is the current drawn by load i.
func (r *Result) LoadCurrent(i int) float64 {
	return r.current(CategoryLoad, i, "load_input")
}

// LoadVoltage is the supply voltage of load i.
func (r *Result) LoadVoltage(i int) float64 {
	return r.voltage(CategoryLoad, i, "load_input")
}

// TotalLoadCurrent sums the current of every load.
func (r *Result) TotalLoadCurrent() float64 {
	var sum float64
	for i := 0; i < r.Count(CategoryLoad); i++ {
		sum += r.LoadCurrent(i)
	}
	return sum
}

// LoadBalancerCurrent is the current shunted by the load balancer.
func (r *Result) LoadBalancerCurrent() float64 {
	return r.current(CategoryLoadBalancer, 0, network.KeywordLoadBalancer)
}

// MarshalJSON writes the document with every category at the top level.
func (r *Result) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(r.Categories)+5)
	for name, c := range r.Categories {
		doc[name] = c
	}
	doc[keyInfo] = r.Info
	doc[keyError] = r.Errors
	doc[keyWarning] = r.Warnings
	doc[keyAnalyzed] = r.Analyzed
	if len(r.Unmatched) > 0 {
		doc[keyUnmatched] = r.Unmatched
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads a document written by MarshalJSON.
func (r *Result) UnmarshalJSON(b []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	*r = Result{Categories: make(map[string]*Category)}
	for key, raw := range doc {
		var dst any
		switch key {
		case keyInfo:
			dst = &r.Info
		case keyError:
			dst = &r.Errors
		case keyWarning:
			dst = &r.Warnings
		case keyUnmatched:
			dst = &r.Unmatched
		case keyAnalyzed:
			dst = &r.Analyzed
		default:
			c := &Category{}
			r.Categories[key] = c
			dst = c
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("failed to decode %q: %w", key, err)
		}
	}
	return nil
}

// Structure sorts raw solver output into a new result. Names are decoded
// with the keywords of t; values of measured nodes duplicate their
// unmeasured twin and are skipped. Names no keyword matches are listed in
// Unmatched.
func Structure(voltages, currents map[string]float64, t Table) *Result {
	r := New(t)
	dec := network.NewDecoder(t.keywords())
	byKeyword := make(map[string]*Category, len(t))
	for _, e := range t {
		byKeyword[e.Keyword] = r.Categories[e.Category]
	}

	place := func(values map[string]float64, pick func(*Record) map[string]float64) {
		for _, name := range sortedKeys(values) {
			addr, ok := dec.Decode(name)
			if !ok {
				r.Unmatched = append(r.Unmatched, name)
				continue
			}
			if addr.Measured {
				continue
			}
			index := addr.Array
			if index == network.NoIndex {
				index = 0
			}
			key := addr
			key.Array = network.NoIndex
			pick(byKeyword[addr.Keyword].record(index))[key.Name()] = values[name]
		}
	}
	place(voltages, func(rec *Record) map[string]float64 { return rec.Voltage })
	place(currents, func(rec *Record) map[string]float64 { return rec.Current })

	sort.Strings(r.Unmatched)
	r.Analyzed = true
	return r
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
