// Package address implements the address grammar used to name nodes,
// graphs and imported instances.
//
//	address := [instance "."] [graph "."] ref
//	ref     := label | index | label ":" index
//
// A one-component address is a bare ref, a graph name or an instance name;
// which one is decided during resolution against a job.
package address

import (
	"fmt"
	"strconv"
	"strings"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
)

// NoIndex marks a Ref without a numeric index.
const NoIndex = -1

// Ref identifies a stage within one graph by label, index or both.
type Ref struct {
	Label string
	Index int
}

// HasLabel reports whether the ref carries a label.
func (r Ref) HasLabel() bool { return r.Label != "" }

// HasIndex reports whether the ref carries an index.
func (r Ref) HasIndex() bool { return r.Index != NoIndex }

func (r Ref) String() string {
	switch {
	case r.HasLabel() && r.HasIndex():
		return r.Label + ":" + strconv.Itoa(r.Index)
	case r.HasLabel():
		return r.Label
	}
	return strconv.Itoa(r.Index)
}

// ParseRef reads "label", "index" or "label:index".
func ParseRef(s string) (Ref, error) {
	if s == "" {
		return Ref{}, derrors.Validation("empty address component")
	}
	label, idx, found := strings.Cut(s, ":")
	if !found {
		if n, err := strconv.Atoi(s); err == nil {
			if n < 0 {
				return Ref{}, derrors.Validation("negative index in address %q", s)
			}
			return Ref{Index: n}, nil
		}
		return Ref{Label: s, Index: NoIndex}, nil
	}

	if err := ValidateLabel(label); err != nil {
		return Ref{}, err
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return Ref{}, derrors.Validation("bad index %q in address %q", idx, s)
	}
	return Ref{Label: label, Index: n}, nil
}

// ValidateLabel rejects labels that could be mistaken for an index or
// would break the dotted grammar.
func ValidateLabel(label string) error {
	if label == "" {
		return derrors.Validation("empty label")
	}
	if _, err := strconv.Atoi(label); err == nil {
		return derrors.Validation("label %q must not be numeric", label)
	}
	if strings.ContainsAny(label, ".:") {
		return derrors.Validation("label %q must not contain '.' or ':'", label)
	}
	return nil
}

// Address is an unresolved symbolic reference with one to three components.
type Address struct {
	Parts []string
}

// Parse splits s into its dotted components. The last component must be a
// valid Ref; leading components name an instance and/or graph.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}, derrors.Validation("empty address")
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return Address{}, derrors.Validation("address %q has more than three components", s)
	}
	for _, p := range parts[:len(parts)-1] {
		if p == "" || strings.Contains(p, ":") {
			return Address{}, derrors.Validation("bad qualifier %q in address %q", p, s)
		}
	}
	if _, err := ParseRef(parts[len(parts)-1]); err != nil {
		return Address{}, fmt.Errorf("address %q: %w", s, err)
	}
	return Address{Parts: parts}, nil
}

// MustParse is Parse for addresses known to be valid.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Ref returns the last component as a Ref.
func (a Address) Ref() Ref {
	r, _ := ParseRef(a.Parts[len(a.Parts)-1])
	return r
}

// Len returns the number of components.
func (a Address) Len() int { return len(a.Parts) }

func (a Address) String() string { return strings.Join(a.Parts, ".") }

// GraphAddress names a graph inside an instance.
type GraphAddress struct {
	Instance string
	Graph    string
}

func (g GraphAddress) String() string { return "<" + g.Instance + "." + g.Graph + ">" }

// NodeAddress is the fully qualified, resolved position of a node.
type NodeAddress struct {
	Instance string
	Graph    string
	Label    string
	Index    int
}

// GraphAddress returns the graph containing the node.
func (n NodeAddress) GraphAddress() GraphAddress {
	return GraphAddress{Instance: n.Instance, Graph: n.Graph}
}

// Representation returns the address without angle brackets.
func (n NodeAddress) Representation() string {
	if n.Label != "" {
		return fmt.Sprintf("%s.%s.%s:%d", n.Instance, n.Graph, n.Label, n.Index)
	}
	return fmt.Sprintf("%s.%s.%d", n.Instance, n.Graph, n.Index)
}

func (n NodeAddress) String() string { return "<" + n.Representation() + ">" }

// Matches reports whether ref designates this node within its graph. When
// both label and index are given the label decides and the index must agree.
func (n NodeAddress) Matches(ref Ref) bool {
	if ref.HasLabel() {
		return ref.Label == n.Label && (!ref.HasIndex() || ref.Index == n.Index)
	}
	return ref.Index == n.Index
}
