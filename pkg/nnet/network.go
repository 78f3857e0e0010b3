// Package nnet provides the neural-network collaborator of the policy
// composites: a component exposing apply(input, internals), an ordered
// parameter set, and a reference dense implementation.
package nnet

import "plexus/pkg/graph"

// noState is the explicit stand-in for "this network has no recurrent
// state". The apply contract always returns a pair; non-recurrent networks
// put NoState in the second slot so callers distinguish the cases by type,
// never by result arity.
type noState struct{}

func (noState) String() string { return "no-state" }

// NoState is the value non-recurrent networks return as their last
// internal state.
var NoState = noState{}

// IsNoState reports whether a value is the explicit absent-state marker.
func IsNoState(v graph.Value) bool {
	_, ok := v.(noState)
	return ok
}

// Network is the contract the policy composites build on. Component exposes
// the traced API method apply with fixed arity 2 -> 2: it takes the input
// and the previous internal states, and returns the output and the new
// internal states (NoState when not recurrent).
type Network interface {
	Component() *graph.Component
	OutDim() int
	Recurrent() bool
	Variables() *VarSet
}
