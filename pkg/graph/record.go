package graph

import "fmt"

// Value is the runtime payload flowing through an executed graph. Leaf
// operations decide what they accept; the engine never inspects it.
type Value = any

// nodeKind discriminates the typed IR nodes recorded during tracing.
type nodeKind int

const (
	// kindInput is a method argument placeholder.
	kindInput nodeKind = iota
	// kindFn is a graph-function call, the only node kind that computes.
	kindFn
	// kindBoundary marks the return of a nested API-method call; it
	// forwards the callee's results and carries no computation.
	kindBoundary
)

func (k nodeKind) String() string {
	switch k {
	case kindInput:
		return "input"
	case kindFn:
		return "fn"
	case kindBoundary:
		return "api"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ref addresses one output slot of an IR node.
type ref struct {
	node int
	slot int
}

// node is one vertex of the traced IR DAG. Node ids grow in trace order, so
// every input of a node has a smaller id than the node itself.
type node struct {
	id      int
	kind    nodeKind
	comp    *Component // owning (fn) or target (boundary) component; nil for inputs
	name    string     // fn or method name; empty for inputs
	in      []ref
	outs    int
	fn      *graphFn // kindFn only
	mutates bool
}

// OpRec is a placeholder handle for a value that has not been computed yet.
// It names the producing IR node and an output slot. A record carries no
// data and is only valid within the Trace that created it.
type OpRec struct {
	tr   *Trace
	node int
	slot int
}

func (r *OpRec) String() string {
	if r == nil {
		return "oprec(nil)"
	}
	return fmt.Sprintf("oprec(%d:%d)", r.node, r.slot)
}
