package graph

import "fmt"

// Backend is the execution strategy behind an Executor. Graph mode compiles
// a pruned schedule per requested return set and replays it; eager mode
// resolves the needed subgraph on demand. Both share one numeric-operations
// implementation, so leaf functions never branch on the backend in use.
// The set of backends is closed: the unexported run method keeps
// implementations inside this package, selected through NewBackend.
type Backend interface {
	Name() string
	Ops() Ops
	run(p *plan, feeds []Value, want []ref) (map[int][]Value, error)
}

// Backend names accepted by NewBackend. GraphBackend is the default.
const (
	GraphBackend = "graph"
	EagerBackend = "eager"
)

// NewBackend selects an execution backend by name. The choice is made once
// at startup from configuration and injected into the executor; nothing may
// switch backends mid-run.
func NewBackend(name string) (Backend, error) {
	switch name {
	case GraphBackend, "":
		return &GraphModeBackend{ops: tensorOps{}}, nil
	case EagerBackend:
		return &EagerModeBackend{ops: tensorOps{}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrPrecondition, name)
	}
}

// evalNode computes the outputs of a single IR node given resolved inputs.
func evalNode(ops Ops, n *node, in []Value) ([]Value, error) {
	switch n.kind {
	case kindInput:
		// Inputs are seeded by the runner, never evaluated.
		return nil, fmt.Errorf("%w: input node %d evaluated", ErrExecution, n.id)
	case kindBoundary:
		return in, nil
	case kindFn:
		out, err := n.fn.fn(ops, in...)
		if err != nil {
			return nil, fmt.Errorf("%w: %s fn %s (node %d): %w", ErrExecution, n.comp.Path(), n.name, n.id, err)
		}
		if len(out) != n.outs {
			return nil, fmt.Errorf("%w: %s fn %s returned %d values, declared %d",
				ErrExecution, n.comp.Path(), n.name, len(out), n.outs)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: node %d has unknown kind", ErrExecution, n.id)
	}
}

// seedFeeds checks the feed count and maps feeds onto input node ids.
func seedFeeds(p *plan, feeds []Value) (map[int][]Value, error) {
	if len(feeds) != len(p.inputs) {
		return nil, fmt.Errorf("%w: %s takes %d feeds, got %d",
			ErrSignature, p.method, len(p.inputs), len(feeds))
	}
	vals := make(map[int][]Value, len(p.nodes))
	for i, id := range p.inputs {
		vals[id] = []Value{feeds[i]}
	}
	return vals, nil
}

// GraphModeBackend resolves a method by compiling the pruned, topologically
// ordered node schedule for the requested return set once, then sweeping it
// in order. Schedules are cached per return set on the plan.
type GraphModeBackend struct {
	ops Ops
}

func (b *GraphModeBackend) Name() string { return GraphBackend }
func (b *GraphModeBackend) Ops() Ops     { return b.ops }

func (b *GraphModeBackend) run(p *plan, feeds []Value, want []ref) (map[int][]Value, error) {
	vals, err := seedFeeds(p, feeds)
	if err != nil {
		return nil, err
	}
	for _, id := range p.schedule(want) {
		n := p.nodes[id]
		if n.kind == kindInput {
			if _, ok := vals[id]; !ok {
				return nil, fmt.Errorf("%w: %s input node %d not fed", ErrExecution, p.method, id)
			}
			continue
		}
		in := make([]Value, len(n.in))
		for i, r := range n.in {
			in[i] = vals[r.node][r.slot]
		}
		out, err := evalNode(b.ops, n, in)
		if err != nil {
			return nil, err
		}
		vals[id] = out
	}
	return vals, nil
}

// EagerModeBackend resolves a method by walking backwards from the
// requested results and evaluating each needed node once, memoizing per
// round. Nothing outside the requested closure runs.
type EagerModeBackend struct {
	ops Ops
}

func (b *EagerModeBackend) Name() string { return EagerBackend }
func (b *EagerModeBackend) Ops() Ops     { return b.ops }

func (b *EagerModeBackend) run(p *plan, feeds []Value, want []ref) (map[int][]Value, error) {
	vals, err := seedFeeds(p, feeds)
	if err != nil {
		return nil, err
	}
	var eval func(id int) error
	eval = func(id int) error {
		if _, done := vals[id]; done {
			return nil
		}
		n := p.nodes[id]
		if n.kind == kindInput {
			return fmt.Errorf("%w: %s input node %d not fed", ErrExecution, p.method, id)
		}
		in := make([]Value, len(n.in))
		for i, r := range n.in {
			if err := eval(r.node); err != nil {
				return err
			}
			in[i] = vals[r.node][r.slot]
		}
		out, err := evalNode(b.ops, n, in)
		if err != nil {
			return err
		}
		vals[id] = out
		return nil
	}
	for _, r := range want {
		if err := eval(r.node); err != nil {
			return nil, err
		}
	}
	return vals, nil
}
