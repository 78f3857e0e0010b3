package policy

import (
	"fmt"

	"plexus/pkg/graph"
	"plexus/pkg/nnet"
)

// Synchronizable grafts a parameter-push API onto a composite: a pushed,
// structurally identical parameter set overwrites the target in a single
// mutating graph operation.
type Synchronizable struct {
	comp   *graph.Component
	target *nnet.VarSet
}

// NewSynchronizable wraps the target parameter set in a sync component.
func NewSynchronizable(scope string, target *nnet.VarSet) (*Synchronizable, error) {
	if target == nil {
		return nil, fmt.Errorf("%w: synchronizable needs a target parameter set", graph.ErrStructural)
	}
	s := &Synchronizable{comp: graph.NewComponent(scope), target: target}
	if err := s.comp.DefineGraphFn("sync", 1, 1, s.sync, graph.Mutating()); err != nil {
		return nil, err
	}
	if err := s.comp.DefineAPIMethod("sync", 1, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallFn(s.comp, "sync", in[0])
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Component returns the traced sync component.
func (s *Synchronizable) Component() *graph.Component { return s.comp }

// sync copies the pushed parameter set into the target. The executor runs
// mutating rounds exclusively, so concurrent readers never observe a
// half-written set. Returns the number of synced parameter matrices.
func (s *Synchronizable) sync(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	src, ok := in[0].(*nnet.VarSet)
	if !ok {
		return nil, fmt.Errorf("sync: expected a parameter set, got %T", in[0])
	}
	if err := s.target.CopyFrom(src); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}
	return []graph.Value{ops.FromFloats([]float64{float64(s.target.Len())}, 1)}, nil
}
