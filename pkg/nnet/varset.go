package nnet

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// VarSet is an ordered collection of named parameter matrices. It flows
// through the graph as an opaque value: the variables API hands it out and
// the sync operation copies one set into another. Names are stable across
// structurally identical components, which is what makes a sync between a
// policy and its target well defined.
type VarSet struct {
	names []string
	vals  map[string]*mat.Dense
}

// NewVarSet returns an empty set.
func NewVarSet() *VarSet {
	return &VarSet{vals: make(map[string]*mat.Dense)}
}

// Add registers a parameter matrix under a unique name. The set keeps the
// matrix itself, not a copy: owners mutate their parameters in place and
// every holder of the set observes the change.
func (vs *VarSet) Add(name string, m *mat.Dense) error {
	if name == "" || m == nil {
		return fmt.Errorf("nnet: variable needs a name and a matrix")
	}
	if _, ok := vs.vals[name]; ok {
		return fmt.Errorf("nnet: duplicate variable %q", name)
	}
	vs.names = append(vs.names, name)
	vs.vals[name] = m
	return nil
}

// Get returns the matrix registered under name.
func (vs *VarSet) Get(name string) (*mat.Dense, error) {
	m, ok := vs.vals[name]
	if !ok {
		return nil, fmt.Errorf("nnet: unknown variable %q", name)
	}
	return m, nil
}

// Names returns the registered names in addition order.
func (vs *VarSet) Names() []string {
	return append([]string(nil), vs.names...)
}

// Len returns the number of registered matrices.
func (vs *VarSet) Len() int { return len(vs.names) }

// Merge registers every variable of other into vs, sharing the underlying
// matrices. Composites use it to present one set spanning network and
// adapter parameters.
func (vs *VarSet) Merge(other *VarSet) error {
	for _, name := range other.names {
		if err := vs.Add(name, other.vals[name]); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy with detached matrices.
func (vs *VarSet) Clone() *VarSet {
	out := NewVarSet()
	for _, name := range vs.names {
		out.names = append(out.names, name)
		out.vals[name] = mat.DenseCopyOf(vs.vals[name])
	}
	return out
}

// CopyFrom overwrites every matrix in vs with the values of the equally
// named matrix in src. The two sets must be structurally identical: same
// names, same dimensions. This is the parameter-sync primitive.
func (vs *VarSet) CopyFrom(src *VarSet) error {
	if src == nil {
		return fmt.Errorf("nnet: copy from nil variable set")
	}
	if len(src.names) != len(vs.names) {
		return fmt.Errorf("nnet: variable sets differ: %d vs %d entries", len(vs.names), len(src.names))
	}
	for _, name := range vs.names {
		from, ok := src.vals[name]
		if !ok {
			return fmt.Errorf("nnet: source set is missing %q", name)
		}
		to := vs.vals[name]
		tr, tc := to.Dims()
		fr, fc := from.Dims()
		if tr != fr || tc != fc {
			return fmt.Errorf("nnet: variable %q is %dx%d here, %dx%d in source", name, tr, tc, fr, fc)
		}
	}
	for _, name := range vs.names {
		vs.vals[name].Copy(src.vals[name])
	}
	return nil
}
