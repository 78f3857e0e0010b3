package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// plan is the compiled form of one root API method: its IR nodes in trace
// order, the argument input nodes, and the method result refs.
type plan struct {
	method  string
	nodes   []*node
	inputs  []int
	outs    []ref
	mutates bool

	mu        sync.Mutex
	schedules map[string][]int
}

// schedule returns the ascending node ids needed to resolve want, cached
// per return set. Node ids are topological by construction, so the filtered
// ascending order is a valid sweep.
func (p *plan) schedule(want []ref) []int {
	key := make([]string, len(want))
	for i, r := range want {
		key[i] = fmt.Sprintf("%d:%d", r.node, r.slot)
	}
	k := strings.Join(key, ",")

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.schedules[k]; ok {
		return s
	}
	need := make([]bool, len(p.nodes))
	var mark func(id int)
	mark = func(id int) {
		if need[id] {
			return
		}
		need[id] = true
		for _, r := range p.nodes[id].in {
			mark(r.node)
		}
	}
	for _, r := range want {
		mark(r.node)
	}
	s := make([]int, 0, len(p.nodes))
	for id, ok := range need {
		if ok {
			s = append(s, id)
		}
	}
	p.schedules[k] = s
	return s
}

// Invocation names one method execution: feeds in argument order and the
// requested result indices. A nil Returns requests every declared result.
type Invocation struct {
	Method  string
	Feeds   []Value
	Returns []int
}

// Results holds the outputs of one execution round, keyed by method name
// when a companion call rode along. First reads the primary invocation's
// values in requested order.
type Results struct {
	primary string
	values  map[string][]Value
}

// First returns the primary invocation's requested values in order.
func (r *Results) First() []Value { return r.values[r.primary] }

// Of returns the requested values of the named method, or nil if the round
// did not execute it.
func (r *Results) Of(method string) []Value { return r.values[method] }

// Methods lists the methods executed in the round, primary first.
func (r *Results) Methods() []string {
	out := []string{r.primary}
	for m := range r.values {
		if m != r.primary {
			out = append(out, m)
		}
	}
	return out
}

// Executor compiles a component tree once and executes its root API methods
// on the injected backend. Execution is synchronous; rounds that reach a
// mutating leaf are exclusive, read-only rounds share the lock, so a
// parameter sync is atomic relative to in-flight reads.
type Executor struct {
	backend  Backend
	observer Observer

	mu    sync.RWMutex
	root  *Component
	plans map[string]*plan
	built bool
}

// Option configures an Executor during construction.
type Option func(*Executor)

// WithObserver attaches an observer receiving build and round events.
func WithObserver(obs Observer) Option {
	return func(e *Executor) { e.observer = obs }
}

// NewExecutor returns an executor bound to the given backend.
func NewExecutor(backend Backend, opts ...Option) *Executor {
	e := &Executor{
		backend: backend,
		plans:   make(map[string]*plan),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Backend returns the injected backend.
func (e *Executor) Backend() Backend { return e.backend }

// Ops returns the backend's numeric-operations implementation.
func (e *Executor) Ops() Ops { return e.backend.Ops() }

// Build traces every API method of the root component into a compiled plan
// and freezes the tree. Building twice, or building an already frozen tree,
// fails; tracing errors abort the whole build.
func (e *Executor) Build(root *Component) error {
	if root == nil {
		return fmt.Errorf("%w: build of nil root", ErrStructural)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.built {
		return fmt.Errorf("build: %w", ErrBuilt)
	}
	if root.built {
		return fmt.Errorf("build %s: %w", root.Path(), ErrBuilt)
	}

	for _, method := range root.APINames() {
		m := root.api[method]
		t := newTrace(method)
		args := make([]*OpRec, m.in)
		for i := range args {
			in := t.newNode(kindInput, nil, "", nil, 1)
			t.inputs = append(t.inputs, in.id)
			args[i] = &OpRec{tr: t, node: in.id, slot: 0}
		}
		t.frames = append(t.frames, traceFrame{comp: root, method: method})
		results, err := m.fn(t, args...)
		t.frames = t.frames[:len(t.frames)-1]
		if err != nil {
			return fmt.Errorf("trace %s.%s: %w", root.Path(), method, err)
		}
		if len(results) != m.out {
			return fmt.Errorf("%w: %s.%s declares %d results, trace produced %d",
				ErrSignature, root.Path(), method, m.out, len(results))
		}
		outs, err := t.checkArgs(root.Path()+"."+method+" results", results)
		if err != nil {
			return err
		}
		p := &plan{
			method:    method,
			nodes:     t.nodes,
			inputs:    t.inputs,
			outs:      outs,
			mutates:   t.mutatesState(),
			schedules: make(map[string][]int),
		}
		e.plans[method] = p
		e.observe(Event{
			Type:     EventMethodBuilt,
			Method:   method,
			Nodes:    len(p.nodes),
			Mutating: p.mutates,
		})
	}

	root.markBuilt()
	e.root = root
	e.built = true
	return nil
}

// wantRefs resolves the requested return indices of an invocation against
// its plan.
func (e *Executor) wantRefs(p *plan, inv *Invocation) ([]ref, error) {
	if inv.Returns == nil {
		return p.outs, nil
	}
	want := make([]ref, len(inv.Returns))
	for i, idx := range inv.Returns {
		if idx < 0 || idx >= len(p.outs) {
			return nil, fmt.Errorf("%w: %s return index %d of %d results",
				ErrSignature, p.method, idx, len(p.outs))
		}
		want[i] = p.outs[idx]
	}
	return want, nil
}

func (e *Executor) lookup(method string) (*plan, error) {
	p, ok := e.plans[method]
	if !ok {
		return nil, fmt.Errorf("%w: execute %q", ErrUnknownAPI, method)
	}
	return p, nil
}

// Execute runs one invocation, optionally with an independent companion
// call in the same locked round. The companion runs first, so an update
// round that carries a parameter sync sees the freshly synced target.
// Only requested outputs are resolved; unrequested ones may never compute.
func (e *Executor) Execute(inv Invocation, companion *Invocation) (*Results, error) {
	e.mu.RLock()
	if !e.built {
		e.mu.RUnlock()
		return nil, fmt.Errorf("execute %q: %w", inv.Method, ErrNotBuilt)
	}
	primary, err := e.lookup(inv.Method)
	if err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	var second *plan
	if companion != nil {
		if second, err = e.lookup(companion.Method); err != nil {
			e.mu.RUnlock()
			return nil, err
		}
		if companion.Method == inv.Method {
			e.mu.RUnlock()
			return nil, fmt.Errorf("%w: companion duplicates method %q", ErrSignature, inv.Method)
		}
	}
	mutating := primary.mutates || (second != nil && second.mutates)
	e.mu.RUnlock()

	if mutating {
		e.mu.Lock()
		defer e.mu.Unlock()
	} else {
		e.mu.RLock()
		defer e.mu.RUnlock()
	}

	started := time.Now()
	res := &Results{primary: inv.Method, values: make(map[string][]Value, 2)}
	if companion != nil {
		vals, err := e.runOne(second, companion)
		if err != nil {
			return nil, err
		}
		res.values[companion.Method] = vals
	}
	vals, err := e.runOne(primary, &inv)
	if err != nil {
		return nil, err
	}
	res.values[inv.Method] = vals

	e.observe(Event{
		Type:     EventRound,
		Method:   inv.Method,
		Methods:  res.Methods(),
		Mutating: mutating,
		Elapsed:  time.Since(started),
	})
	return res, nil
}

func (e *Executor) runOne(p *plan, inv *Invocation) ([]Value, error) {
	want, err := e.wantRefs(p, inv)
	if err != nil {
		return nil, err
	}
	vals, err := e.backend.run(p, inv.Feeds, want)
	if err != nil {
		return nil, fmt.Errorf("execute %s: %w", p.method, err)
	}
	out := make([]Value, len(want))
	for i, r := range want {
		slots, ok := vals[r.node]
		if !ok {
			return nil, fmt.Errorf("%w: %s result node %d unresolved", ErrExecution, p.method, r.node)
		}
		out[i] = slots[r.slot]
	}
	return out, nil
}

// Methods returns the compiled root API method names in sorted order.
func (e *Executor) Methods() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.methodNames()
}

func (e *Executor) methodNames() []string {
	names := make([]string, 0, len(e.plans))
	for name := range e.plans {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe renders the compiled call-graph as canonical text, one section
// per method. Two builds of the same tree produce identical output, which
// is what the structural determinism checks compare.
func (e *Executor) Describe() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var b strings.Builder
	for i, method := range e.methodNames() {
		p := e.plans[method]
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "method %s in=%d out=%d", method, len(p.inputs), len(p.outs))
		if p.mutates {
			b.WriteString(" mutating")
		}
		b.WriteByte('\n')
		t := &Trace{nodes: p.nodes}
		for _, line := range t.signature(p.outs) {
			b.WriteString("  " + line + "\n")
		}
	}
	return b.String()
}

func (e *Executor) observe(ev Event) {
	if e.observer != nil {
		e.observer.OnEvent(ev)
	}
}
