package graph

import (
	"fmt"
	"strings"
)

// Trace records the deferred call-graph of one API method of the root
// component. Tracing is single-threaded, happens entirely inside Build,
// and computes nothing: every call appends typed IR nodes and hands back
// placeholder records.
type Trace struct {
	method string
	nodes  []*node
	inputs []int // input node ids, in argument order
	frames []traceFrame
	memo   map[string][]*OpRec // shared-subtree table for non-mutating calls
}

// traceFrame is one level of the API-call stack: the component whose method
// body is currently being traced.
type traceFrame struct {
	comp   *Component
	method string
}

func newTrace(method string) *Trace {
	return &Trace{
		method: method,
		memo:   make(map[string][]*OpRec),
	}
}

func (t *Trace) current() *traceFrame {
	if len(t.frames) == 0 {
		return nil
	}
	return &t.frames[len(t.frames)-1]
}

// newNode appends an IR node and returns it.
func (t *Trace) newNode(kind nodeKind, comp *Component, name string, in []ref, outs int) *node {
	n := &node{
		id:   len(t.nodes),
		kind: kind,
		comp: comp,
		name: name,
		in:   in,
		outs: outs,
	}
	t.nodes = append(t.nodes, n)
	return n
}

func (t *Trace) recsOf(n *node) []*OpRec {
	recs := make([]*OpRec, n.outs)
	for i := range recs {
		recs[i] = &OpRec{tr: t, node: n.id, slot: i}
	}
	return recs
}

// checkArgs validates that every argument belongs to this trace.
func (t *Trace) checkArgs(target string, args []*OpRec) ([]ref, error) {
	refs := make([]ref, len(args))
	for i, a := range args {
		if a == nil {
			return nil, fmt.Errorf("%w: nil argument %d to %s", ErrStructural, i, target)
		}
		if a.tr != t {
			return nil, fmt.Errorf("argument %d to %s: %w", i, target, ErrForeignRecord)
		}
		refs[i] = ref{node: a.node, slot: a.slot}
	}
	return refs, nil
}

// callKey builds the shared-subtree memo key for a call with the given
// resolved argument refs.
func callKey(kind string, target *Component, name string, refs []ref) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteByte(':')
	b.WriteString(target.Path())
	b.WriteByte('.')
	b.WriteString(name)
	for _, r := range refs {
		fmt.Fprintf(&b, ",%d:%d", r.node, r.slot)
	}
	return b.String()
}

// CallAPI records a call to an API method of the current component or one
// of its direct children and returns placeholders for its results. The
// callee's body is traced inline behind a boundary node; calling the same
// method with the same argument records reuses the already traced subtree,
// so shared sub-graphs are never executed twice.
func (t *Trace) CallAPI(target *Component, method string, args ...*OpRec) ([]*OpRec, error) {
	cur := t.current()
	if cur == nil {
		return nil, fmt.Errorf("%w: CallAPI outside of a method trace", ErrStructural)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: nil api target in %s.%s", ErrStructural, cur.comp.Path(), cur.method)
	}
	if target != cur.comp && target.parent != cur.comp {
		return nil, fmt.Errorf("%w: %s.%s may call itself or direct children, not %s",
			ErrStructural, cur.comp.Path(), cur.method, target.Path())
	}
	m, ok := target.api[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAPI, target.Path(), method)
	}
	if len(args) != m.in {
		return nil, fmt.Errorf("%w: %s.%s takes %d args, got %d",
			ErrSignature, target.Path(), method, m.in, len(args))
	}
	refs, err := t.checkArgs(target.Path()+"."+method, args)
	if err != nil {
		return nil, err
	}

	key := callKey("api", target, method, refs)
	if recs, ok := t.memo[key]; ok {
		return recs, nil
	}

	watermark := len(t.nodes)
	t.frames = append(t.frames, traceFrame{comp: target, method: method})
	results, err := m.fn(t, args...)
	t.frames = t.frames[:len(t.frames)-1]
	if err != nil {
		return nil, fmt.Errorf("trace %s.%s: %w", target.Path(), method, err)
	}
	if len(results) != m.out {
		return nil, fmt.Errorf("%w: %s.%s declares %d results, trace produced %d",
			ErrSignature, target.Path(), method, m.out, len(results))
	}
	retRefs, err := t.checkArgs(target.Path()+"."+method+" results", results)
	if err != nil {
		return nil, err
	}

	boundary := t.newNode(kindBoundary, target, method, retRefs, m.out)
	for _, n := range t.nodes[watermark:boundary.id] {
		if n.mutates {
			boundary.mutates = true
			break
		}
	}
	recs := t.recsOf(boundary)
	if !boundary.mutates {
		t.memo[key] = recs
	}
	return recs, nil
}

// CallFn records a call to a graph function of the current component and
// returns placeholders for its results. Graph functions are leaves: their
// inputs may be method arguments, API-boundary results, or outputs of the
// same component's own functions — never the raw function output of another
// component, which must cross an API-method boundary first.
func (t *Trace) CallFn(owner *Component, name string, args ...*OpRec) ([]*OpRec, error) {
	cur := t.current()
	if cur == nil {
		return nil, fmt.Errorf("%w: CallFn outside of a method trace", ErrStructural)
	}
	if owner == nil || owner != cur.comp {
		return nil, fmt.Errorf("%w: graph fn %q is private to %s",
			ErrStructural, name, cur.comp.Path())
	}
	f, ok := owner.fns[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s fn %s", ErrUnknownAPI, owner.Path(), name)
	}
	if len(args) != f.in {
		return nil, fmt.Errorf("%w: %s fn %s takes %d args, got %d",
			ErrSignature, owner.Path(), name, f.in, len(args))
	}
	refs, err := t.checkArgs(owner.Path()+" fn "+name, args)
	if err != nil {
		return nil, err
	}
	for i, r := range refs {
		p := t.nodes[r.node]
		if p.kind == kindFn && p.comp != owner {
			return nil, fmt.Errorf("%w: fn %s.%s consumes raw fn output of %s (argument %d) without an api boundary",
				ErrStructural, owner.Path(), name, p.comp.Path(), i)
		}
	}

	key := callKey("fn", owner, name, refs)
	if !f.mutates {
		if recs, ok := t.memo[key]; ok {
			return recs, nil
		}
	}
	n := t.newNode(kindFn, owner, name, refs, f.out)
	n.fn = f
	n.mutates = f.mutates
	recs := t.recsOf(n)
	if !f.mutates {
		t.memo[key] = recs
	}
	return recs, nil
}

// mutates reports whether any node of the trace writes shared state.
func (t *Trace) mutatesState() bool {
	for _, n := range t.nodes {
		if n.mutates {
			return true
		}
	}
	return false
}

// signature renders the trace as canonical lines, one per node, suitable
// for structural comparison between builds.
func (t *Trace) signature(outs []ref) []string {
	lines := make([]string, 0, len(t.nodes)+1)
	for _, n := range t.nodes {
		var b strings.Builder
		fmt.Fprintf(&b, "%03d %-5s", n.id, n.kind)
		if n.comp != nil {
			b.WriteString(" " + n.comp.Path() + "." + n.name)
		} else {
			b.WriteString(" arg")
		}
		b.WriteString(" (")
		for i, r := range n.in {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d:%d", r.node, r.slot)
		}
		fmt.Fprintf(&b, ") out=%d", n.outs)
		if n.mutates {
			b.WriteString(" mut")
		}
		lines = append(lines, b.String())
	}
	var b strings.Builder
	b.WriteString("ret ")
	for i, r := range outs {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d:%d", r.node, r.slot)
	}
	lines = append(lines, b.String())
	return lines
}
