package network

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// NoIndex marks an address component that is not present.
const NoIndex = -1

// Category keywords. Every node and element address carries exactly one.
const (
	KeywordBattery      = "battery"
	KeywordSolarArray   = "solar_array"
	KeywordPanel        = "panel"
	KeywordMPPT         = "mppt"
	KeywordLoad         = "load"
	KeywordLoadBalancer = "balancing_load"
	KeywordSummary      = "total"
)

// Keywords lists every category keyword the assembler emits.
var Keywords = []string{
	KeywordBattery,
	KeywordSolarArray,
	KeywordPanel,
	KeywordMPPT,
	KeywordLoad,
	KeywordLoadBalancer,
	KeywordSummary,
}

const measuredSuffix = "measured"

// Address identifies a node or element structurally. String names are only
// produced by Name when the topology is handed to a solver.
type Address struct {
	Array    int
	Keyword  string
	Parallel int
	Series   int
	Role     string
	// Measured marks the far side of an ammeter, which carries no
	// information of its own.
	Measured bool
}

// Addr returns an address with the given keyword and no indices.
func Addr(keyword string) Address {
	return Address{
		Array:    NoIndex,
		Keyword:  keyword,
		Parallel: NoIndex,
		Series:   NoIndex,
	}
}

// In places the address in array instance i.
func (a Address) In(i int) Address {
	a.Array = i
	return a
}

// Row places the address in parallel row p.
func (a Address) Row(p int) Address {
	a.Parallel = p
	return a
}

// Cell places the address at parallel row p, series position s.
func (a Address) Cell(p, s int) Address {
	a.Parallel = p
	a.Series = s
	return a
}

// As sets the role.
func (a Address) As(role string) Address {
	a.Role = role
	return a
}

// Sense returns the measured counterpart of a.
func (a Address) Sense() Address {
	a.Measured = true
	return a
}

// Name renders the address as arr{a}_{keyword}_p{p}_s{s}_{role}_measured,
// omitting absent parts.
func (a Address) Name() string {
	var b strings.Builder
	if a.Array != NoIndex {
		fmt.Fprintf(&b, "arr%d_", a.Array)
	}
	b.WriteString(a.Keyword)
	if a.Parallel != NoIndex {
		fmt.Fprintf(&b, "_p%d", a.Parallel)
	}
	if a.Series != NoIndex {
		fmt.Fprintf(&b, "_s%d", a.Series)
	}
	if a.Role != "" {
		b.WriteString("_")
		b.WriteString(a.Role)
	}
	if a.Measured {
		b.WriteString("_" + measuredSuffix)
	}
	return b.String()
}

func (a Address) String() string {
	return a.Name()
}

// Decoder inverts Address.Name for a fixed keyword table.
type Decoder struct {
	re *regexp.Regexp
}

// NewDecoder builds a decoder recognizing the given keywords. Longer keywords
// are tried first so that "balancing_load" is never read as "load".
func NewDecoder(keywords []string) *Decoder {
	ks := slices.Clone(keywords)
	slices.SortFunc(ks, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	for i, k := range ks {
		ks[i] = regexp.QuoteMeta(k)
	}
	pattern := `^(?:arr(\d+)_)?(` + strings.Join(ks, "|") + `)(?:_p(\d+))?(?:_s(\d+))?(?:_(.+))?$`
	return &Decoder{re: regexp.MustCompile(pattern)}
}

// Decode parses name back into an Address. It returns false when the name
// does not follow the naming scheme or uses an unknown keyword.
func (d *Decoder) Decode(name string) (Address, bool) {
	m := d.re.FindStringSubmatch(name)
	if m == nil {
		return Address{}, false
	}
	a := Addr(m[2])
	for _, f := range []struct {
		s   string
		dst *int
	}{
		{m[1], &a.Array},
		{m[3], &a.Parallel},
		{m[4], &a.Series},
	} {
		if f.s == "" {
			continue
		}
		n, err := strconv.Atoi(f.s)
		if err != nil {
			return Address{}, false
		}
		*f.dst = n
	}
	rest := m[5]
	if rest == measuredSuffix {
		a.Measured = true
		rest = ""
	} else if r, ok := strings.CutSuffix(rest, "_"+measuredSuffix); ok {
		a.Measured = true
		rest = r
	}
	a.Role = rest
	return a, true
}
