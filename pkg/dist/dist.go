// Package dist provides the probability-distribution collaborators of the
// policy composites. A distribution is a component with a fixed traced API:
// draw(parameters, flag), sample_deterministic(parameters),
// sample_stochastic(parameters) and entropy(parameters). Parameters arrive
// as tensors produced by an action adapter; what they mean is the concrete
// distribution's business.
package dist

import (
	"fmt"

	"plexus/pkg/graph"
)

// Distribution is the contract policies program against. Implementations
// in this package cover the two action-space kinds; tests substitute
// counting probes.
type Distribution interface {
	Component() *graph.Component
	Kind() string
}

// defineAPI wraps one graph function of comp as an equally named API method.
func defineAPI(comp *graph.Component, name string, in int) error {
	return comp.DefineAPIMethod(name, in, 1, func(tr *graph.Trace, recs ...*graph.OpRec) ([]*graph.OpRec, error) {
		return tr.CallFn(comp, name, recs...)
	})
}

// build declares the uniform distribution surface over three leaf
// implementations. The draw leaf dispatches on its flag input: non-zero
// means deterministic.
func build(comp *graph.Component, det, sto, ent graph.GraphFunc) error {
	if err := comp.DefineGraphFn("sample_deterministic", 1, 1, det); err != nil {
		return err
	}
	if err := comp.DefineGraphFn("sample_stochastic", 1, 1, sto); err != nil {
		return err
	}
	if err := comp.DefineGraphFn("entropy", 1, 1, ent); err != nil {
		return err
	}
	if err := comp.DefineGraphFn("draw", 2, 1, func(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
		flag, err := ops.Scalar(in[1])
		if err != nil {
			return nil, fmt.Errorf("draw flag: %w", err)
		}
		if flag != 0 {
			return det(ops, in[0])
		}
		return sto(ops, in[0])
	}); err != nil {
		return err
	}
	for name, in := range map[string]int{
		"sample_deterministic": 1,
		"sample_stochastic":    1,
		"entropy":              1,
		"draw":                 2,
	} {
		if err := defineAPI(comp, name, in); err != nil {
			return err
		}
	}
	return nil
}
