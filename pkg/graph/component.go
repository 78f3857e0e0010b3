// Package graph is a declarative component-composition engine. Components
// declare API methods by tracing calls into children; an Executor compiles
// the traced call-graph once and runs it on a pluggable backend.
package graph

import (
	"fmt"
	"sort"
)

// APIFunc declares the body of an API method. It is invoked once per build
// to trace the method: it receives argument placeholders and returns result
// placeholders, computing nothing.
type APIFunc func(t *Trace, in ...*OpRec) ([]*OpRec, error)

// GraphFunc is a leaf operation. It runs only during execution, on fully
// resolved values, against the abstract numeric-operations interface of the
// selected backend.
type GraphFunc func(ops Ops, in ...Value) ([]Value, error)

type apiMethod struct {
	name string
	in   int
	out  int
	fn   APIFunc
}

type graphFn struct {
	name    string
	in      int
	out     int
	fn      GraphFunc
	mutates bool
}

// Component is a named, nestable graph node. It owns an ordered list of
// child components, a set of graph functions (backend leaf operations) and
// a set of API methods (composable call chains over itself and children).
// Assembly is single-threaded and ends when an Executor builds the tree;
// after that the component is frozen and structural mutation fails.
type Component struct {
	scope    string
	parent   *Component
	children []*Component
	api      map[string]*apiMethod
	fns      map[string]*graphFn
	built    bool
}

// NewComponent returns an empty component with the given scope name.
func NewComponent(scope string) *Component {
	return &Component{
		scope: scope,
		api:   make(map[string]*apiMethod),
		fns:   make(map[string]*graphFn),
	}
}

// Scope returns the component's scope name, unique among its siblings.
func (c *Component) Scope() string { return c.scope }

// Path returns the slash-joined scope chain from the root to this component.
func (c *Component) Path() string {
	if c.parent == nil {
		return c.scope
	}
	return c.parent.Path() + "/" + c.scope
}

// Parent returns the owning component, or nil for a root.
func (c *Component) Parent() *Component { return c.parent }

// Children returns the owned components in addition order.
func (c *Component) Children() []*Component {
	out := make([]*Component, len(c.children))
	copy(out, c.children)
	return out
}

// Built reports whether the tree containing this component has been compiled.
func (c *Component) Built() bool { return c.built }

// APINames returns the declared API method names in sorted order.
func (c *Component) APINames() []string {
	names := make([]string, 0, len(c.api))
	for name := range c.api {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// APIArity returns the declared input and output counts of an API method.
func (c *Component) APIArity(method string) (in, out int, err error) {
	m, ok := c.api[method]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s has no api method %q", ErrUnknownAPI, c.Path(), method)
	}
	return m.in, m.out, nil
}

// AddComponents attaches children in order. Each child must be unbuilt,
// parentless, and carry a scope name distinct from every existing sibling.
func (c *Component) AddComponents(children ...*Component) error {
	if c.built {
		return fmt.Errorf("add to %s: %w", c.Path(), ErrBuilt)
	}
	for _, child := range children {
		if child == nil {
			return fmt.Errorf("%w: nil child added to %s", ErrStructural, c.Path())
		}
		if child.built {
			return fmt.Errorf("add %s to %s: %w", child.scope, c.Path(), ErrBuilt)
		}
		if child.parent != nil {
			return fmt.Errorf("%w: %s already owned by %s", ErrStructural, child.scope, child.parent.Path())
		}
		if child == c {
			return fmt.Errorf("%w: %s cannot own itself", ErrStructural, c.Path())
		}
		for _, sib := range c.children {
			if sib.scope == child.scope {
				return fmt.Errorf("%w: %q under %s", ErrDuplicateScope, child.scope, c.Path())
			}
		}
		child.parent = c
		c.children = append(c.children, child)
	}
	return nil
}

// DefineAPIMethod registers an API method with fixed input and output
// counts. Conditional, variant-dependent definitions must happen in the
// composite's constructor, before the component gains a parent; redefining
// an existing method with different arity fails rather than overwriting.
func (c *Component) DefineAPIMethod(name string, in, out int, fn APIFunc) error {
	if c.built {
		return fmt.Errorf("define %s.%s: %w", c.Path(), name, ErrBuilt)
	}
	if c.parent != nil {
		return fmt.Errorf("%w: define %s.%s after composition", ErrStructural, c.Path(), name)
	}
	if name == "" || fn == nil {
		return fmt.Errorf("%w: api method on %s needs a name and a body", ErrStructural, c.Path())
	}
	if in < 0 || out < 1 {
		return fmt.Errorf("%w: api method %s.%s declares in=%d out=%d", ErrSignature, c.Path(), name, in, out)
	}
	if prev, ok := c.api[name]; ok && (prev.in != in || prev.out != out) {
		return fmt.Errorf("%w: redefine %s.%s from %d->%d to %d->%d",
			ErrSignature, c.Path(), name, prev.in, prev.out, in, out)
	}
	c.api[name] = &apiMethod{name: name, in: in, out: out, fn: fn}
	return nil
}

// FnOption configures a graph function at definition time.
type FnOption func(*graphFn)

// Mutating marks a graph function as writing shared state (parameter sync,
// optimizer steps, memory inserts). Every API method whose trace reaches a
// mutating function executes under the executor's exclusive lock.
func Mutating() FnOption {
	return func(f *graphFn) { f.mutates = true }
}

// DefineGraphFn registers a backend leaf operation with fixed input and
// output counts. Graph functions are private to their component: only the
// component's own API methods may trace calls to them.
func (c *Component) DefineGraphFn(name string, in, out int, fn GraphFunc, opts ...FnOption) error {
	if c.built {
		return fmt.Errorf("define fn %s.%s: %w", c.Path(), name, ErrBuilt)
	}
	if name == "" || fn == nil {
		return fmt.Errorf("%w: graph fn on %s needs a name and a body", ErrStructural, c.Path())
	}
	if in < 0 || out < 1 {
		return fmt.Errorf("%w: graph fn %s.%s declares in=%d out=%d", ErrSignature, c.Path(), name, in, out)
	}
	if prev, ok := c.fns[name]; ok && (prev.in != in || prev.out != out) {
		return fmt.Errorf("%w: redefine fn %s.%s from %d->%d to %d->%d",
			ErrSignature, c.Path(), name, prev.in, prev.out, in, out)
	}
	gf := &graphFn{name: name, in: in, out: out, fn: fn}
	for _, opt := range opts {
		opt(gf)
	}
	c.fns[name] = gf
	return nil
}

// ExposeAPI re-exports a direct child's API method under the same name on
// this component, forwarding arguments and results unchanged. Used by
// composites that graft a capability child (e.g. a synchronization API)
// into their own public surface.
func (c *Component) ExposeAPI(name string, child *Component) error {
	if child == nil || child.parent != c {
		return fmt.Errorf("%w: expose %q: not a direct child of %s", ErrStructural, name, c.Path())
	}
	m, ok := child.api[name]
	if !ok {
		return fmt.Errorf("%w: expose %s.%s", ErrUnknownAPI, child.Path(), name)
	}
	return c.DefineAPIMethod(name, m.in, m.out, func(t *Trace, in ...*OpRec) ([]*OpRec, error) {
		return t.CallAPI(child, name, in...)
	})
}

// markBuilt freezes the whole subtree.
func (c *Component) markBuilt() {
	c.built = true
	for _, child := range c.children {
		child.markBuilt()
	}
}
