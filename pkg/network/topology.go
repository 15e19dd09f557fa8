package network

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidTopology is returned by Validate when a topology cannot be
// handed to a solver.
var ErrInvalidTopology = errors.New("invalid topology")

// NodeID indexes a node within one Topology.
type NodeID int

// Ground is the reference node of every topology.
const Ground NodeID = 0

// GroundName is the solver-facing name of Ground.
const GroundName = "0"

// Kind tags an element as one of the linear variants or a bounded
// behavioral source.
type Kind int

const (
	KindResistor Kind = iota
	KindVoltageSource
	KindCurrentSource
	KindBehavioral
)

func (k Kind) String() string {
	switch k {
	case KindResistor:
		return "R"
	case KindVoltageSource:
		return "V"
	case KindCurrentSource:
		return "I"
	case KindBehavioral:
		return "B"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Element is one two-terminal element. For sources, current flows from Pos
// to Neg through the element; a voltage source's branch current is positive
// when it flows into Pos.
type Element struct {
	Kind    Kind
	Address Address
	Pos     NodeID
	Neg     NodeID
	// Value is ohms, volts or amps depending on Kind. Unused for behavioral
	// sources.
	Value    float64
	Behavior Behavior
}

// Name is the solver-facing name of the element.
func (e Element) Name() string {
	return e.Address.Name()
}

// Topology is a network under construction. It is built once per solve and
// not modified after being handed to a solver.
type Topology struct {
	title     string
	nodes     []Address
	nodeIndex map[Address]NodeID
	elements  []Element
}

// New returns an empty topology containing only the ground node.
func New(title string) *Topology {
	return &Topology{
		title:     title,
		nodes:     []Address{{}},
		nodeIndex: make(map[Address]NodeID),
	}
}

// Title returns the title given to New.
func (t *Topology) Title() string {
	return t.title
}

// Node returns the id of the node at a, creating it on first use.
func (t *Topology) Node(a Address) NodeID {
	if id, ok := t.nodeIndex[a]; ok {
		return id
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, a)
	t.nodeIndex[a] = id
	return id
}

// Lookup returns the id of an existing node.
func (t *Topology) Lookup(a Address) (NodeID, bool) {
	id, ok := t.nodeIndex[a]
	return id, ok
}

// NodeCount returns the number of nodes, not counting ground.
func (t *Topology) NodeCount() int {
	return len(t.nodes) - 1
}

// NodeAddress returns the address of a non-ground node.
func (t *Topology) NodeAddress(id NodeID) Address {
	return t.nodes[id]
}

// NodeName returns the solver-facing name of a node.
func (t *Topology) NodeName(id NodeID) string {
	if id == Ground {
		return GroundName
	}
	return t.nodes[id].Name()
}

// Elements returns the elements in insertion order. The slice must not be
// modified.
func (t *Topology) Elements() []Element {
	return t.elements
}

// AddResistor connects a resistor of the given ohms between pos and neg.
func (t *Topology) AddResistor(a Address, pos, neg NodeID, ohms float64) {
	t.elements = append(t.elements, Element{Kind: KindResistor, Address: a, Pos: pos, Neg: neg, Value: ohms})
}

// AddVoltageSource holds pos at volts above neg.
func (t *Topology) AddVoltageSource(a Address, pos, neg NodeID, volts float64) {
	t.elements = append(t.elements, Element{Kind: KindVoltageSource, Address: a, Pos: pos, Neg: neg, Value: volts})
}

// AddAmmeter inserts a zero-volt source whose branch current measures the
// current flowing from pos to neg.
func (t *Topology) AddAmmeter(a Address, pos, neg NodeID) {
	t.AddVoltageSource(a, pos, neg, 0)
}

// AddCurrentSource drives amps from pos to neg through the source.
func (t *Topology) AddCurrentSource(a Address, pos, neg NodeID, amps float64) {
	t.elements = append(t.elements, Element{Kind: KindCurrentSource, Address: a, Pos: pos, Neg: neg, Value: amps})
}

// AddBehavioral adds a bounded source whose current from pos to neg is
// defined by b.
func (t *Topology) AddBehavioral(a Address, pos, neg NodeID, b Behavior) {
	t.elements = append(t.elements, Element{Kind: KindBehavioral, Address: a, Pos: pos, Neg: neg, Behavior: b})
}

// Validate checks that the topology is well formed: every element refers to
// existing nodes, values are finite, resistances are positive, element names
// are unique, behavioral controls name existing voltage sources and every
// name decodes back to its address.
func (t *Topology) Validate() error {
	dec := NewDecoder(Keywords)
	for id := 1; id < len(t.nodes); id++ {
		a := t.nodes[id]
		if got, ok := dec.Decode(a.Name()); !ok || got != a {
			return fmt.Errorf("%w: node %q does not round-trip", ErrInvalidTopology, a.Name())
		}
	}

	names := make(map[string]Kind, len(t.elements))
	for _, e := range t.elements {
		name := e.Name()
		if got, ok := dec.Decode(name); !ok || got != e.Address {
			return fmt.Errorf("%w: element %q does not round-trip", ErrInvalidTopology, name)
		}
		if _, ok := names[name]; ok {
			return fmt.Errorf("%w: duplicate element %q", ErrInvalidTopology, name)
		}
		names[name] = e.Kind
		if e.Pos < 0 || int(e.Pos) >= len(t.nodes) || e.Neg < 0 || int(e.Neg) >= len(t.nodes) {
			return fmt.Errorf("%w: element %q references a missing node", ErrInvalidTopology, name)
		}
		if e.Pos == e.Neg {
			return fmt.Errorf("%w: element %q is shorted on node %q", ErrInvalidTopology, name, t.NodeName(e.Pos))
		}
		if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
			return fmt.Errorf("%w: element %q has non-finite value %v", ErrInvalidTopology, name, e.Value)
		}
		switch e.Kind {
		case KindResistor:
			if e.Value <= 0 {
				return fmt.Errorf("%w: resistor %q has non-positive resistance %v", ErrInvalidTopology, name, e.Value)
			}
		case KindBehavioral:
			if e.Behavior == nil {
				return fmt.Errorf("%w: behavioral source %q has no behavior", ErrInvalidTopology, name)
			}
		}
	}

	for _, e := range t.elements {
		if e.Kind != KindBehavioral {
			continue
		}
		for _, c := range e.Behavior.Controls() {
			if names[c.Name()] != KindVoltageSource {
				return fmt.Errorf("%w: %q is controlled by %q which is not a voltage source", ErrInvalidTopology, e.Name(), c.Name())
			}
		}
	}
	return nil
}

// Netlist renders the topology as a SPICE-like listing.
func (t *Topology) Netlist() string {
	var b strings.Builder
	fmt.Fprintf(&b, ".title %s\n", t.title)
	for _, e := range t.elements {
		fmt.Fprintf(&b, "%s%s %s %s ", e.Kind, e.Name(), t.NodeName(e.Pos), t.NodeName(e.Neg))
		if e.Kind == KindBehavioral {
			fmt.Fprintf(&b, "I={%s}\n", e.Behavior.Expression())
		} else {
			fmt.Fprintf(&b, "%g\n", e.Value)
		}
	}
	b.WriteString(".end\n")
	return b.String()
}
