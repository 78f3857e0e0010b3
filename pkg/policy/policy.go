// Package policy assembles the action-selection composites: a neural
// network, an action adapter in one of three variants, and a probability
// distribution picked by the action-space kind, wired into one traced
// component with a fixed public API.
package policy

import (
	"fmt"

	"plexus/pkg/dist"
	"plexus/pkg/graph"
	"plexus/pkg/nnet"
	"plexus/pkg/space"
)

// Policy owns one network, one adapter and one distribution. All
// network-consuming API methods take (nn_input, internals) and thread the
// network's recurrent state through unchanged; non-recurrent networks
// return the NoState sentinel there.
type Policy struct {
	comp    *graph.Component
	network nnet.Network
	adapter *ActionAdapter
	dist    dist.Distribution
	space   space.Space
	vars    *nnet.VarSet
	sync    *Synchronizable
	maxLik  bool
}

// Option configures policy construction.
type Option func(*config)

type config struct {
	variant  Variant
	writable bool
	maxLik   bool
	dist     dist.Distribution
	seed     int64
}

// WithVariant selects the action-adapter wiring. Default is plain.
func WithVariant(v Variant) Option {
	return func(c *config) { c.variant = v }
}

// WithWritable composes in a synchronization API so an external,
// structurally identical policy can push its parameters into this one.
func WithWritable() Option {
	return func(c *config) { c.writable = true }
}

// WithMaxLikelihood makes get_action deterministic by default.
func WithMaxLikelihood() Option {
	return func(c *config) { c.maxLik = true }
}

// WithDistribution overrides the space-derived distribution. Tests inject
// counting probes through this.
func WithDistribution(d dist.Distribution) Option {
	return func(c *config) { c.dist = d }
}

// WithSeed seeds the action-layer initialization.
func WithSeed(seed int64) Option {
	return func(c *config) { c.seed = seed }
}

// New assembles a policy over the given network and action space. The
// distribution kind is a pure function of the space kind and is fixed for
// the policy's lifetime: discrete samples categorically, continuous from a
// Normal; anything else fails construction.
func New(scope string, network nnet.Network, sp space.Space, opts ...Option) (*Policy, error) {
	cfg := config{seed: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if network == nil {
		return nil, fmt.Errorf("%w: policy needs a network", graph.ErrStructural)
	}

	adapter, err := NewActionAdapter("action_adapter", cfg.variant, sp, network.OutDim(), WithAdapterSeed(cfg.seed))
	if err != nil {
		return nil, err
	}
	d := cfg.dist
	if d == nil {
		switch sp.Kind() {
		case space.Discrete:
			d, err = dist.NewCategorical("distribution")
		case space.Continuous:
			d, err = dist.NewNormal("distribution", sp.FlatDim())
		default:
			err = fmt.Errorf("%w: %v", graph.ErrActionSpace, sp.Kind())
		}
		if err != nil {
			return nil, err
		}
	}

	p := &Policy{
		comp:    graph.NewComponent(scope),
		network: network,
		adapter: adapter,
		dist:    d,
		space:   sp,
		vars:    nnet.NewVarSet(),
		maxLik:  cfg.maxLik,
	}
	if err := p.vars.Merge(network.Variables()); err != nil {
		return nil, err
	}
	if err := p.vars.Merge(adapter.Variables()); err != nil {
		return nil, err
	}
	if err := p.comp.AddComponents(network.Component(), adapter.Component(), d.Component()); err != nil {
		return nil, err
	}

	if err := p.comp.DefineGraphFn("argmax", 1, 1, func(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
		out, err := ops.ArgmaxLast(in[0])
		if err != nil {
			return nil, err
		}
		return []graph.Value{out}, nil
	}); err != nil {
		return nil, err
	}
	if err := p.comp.DefineGraphFn("variables", 0, 1, func(graph.Ops, ...graph.Value) ([]graph.Value, error) {
		return []graph.Value{p.vars}, nil
	}); err != nil {
		return nil, err
	}

	if err := p.defineAPI(cfg.variant); err != nil {
		return nil, err
	}

	if cfg.writable {
		sync, err := NewSynchronizable("synchronizable", p.vars)
		if err != nil {
			return nil, err
		}
		if err := p.comp.AddComponents(sync.Component()); err != nil {
			return nil, err
		}
		if err := p.comp.ExposeAPI("sync", sync.Component()); err != nil {
			return nil, err
		}
		p.sync = sync
	}
	return p, nil
}

// traceNN traces the network forward pass, returning (output, internals).
func (p *Policy) traceNN(t *graph.Trace, in []*graph.OpRec) (*graph.OpRec, *graph.OpRec, error) {
	res, err := t.CallAPI(p.network.Component(), "apply", in...)
	if err != nil {
		return nil, nil, err
	}
	return res[0], res[1], nil
}

// traceAction builds an action-selection trace. Deterministic discrete
// selection takes the argmax over logits directly and never touches the
// distribution; every other combination draws from it.
func (p *Policy) traceAction(deterministic bool) graph.APIFunc {
	return func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		out, internals, err := p.traceNN(t, in)
		if err != nil {
			return nil, err
		}
		triple, err := t.CallAPI(p.adapter.Component(), "get_logits_parameters_log_probs", out)
		if err != nil {
			return nil, err
		}
		var action []*graph.OpRec
		switch {
		case deterministic && p.space.Kind() == space.Discrete:
			action, err = t.CallFn(p.comp, "argmax", triple[0])
		case deterministic:
			action, err = t.CallAPI(p.dist.Component(), "sample_deterministic", triple[1])
		default:
			action, err = t.CallAPI(p.dist.Component(), "sample_stochastic", triple[1])
		}
		if err != nil {
			return nil, err
		}
		return []*graph.OpRec{action[0], internals}, nil
	}
}

// defineAPI wires the public method surface. Variant-specific methods are
// added here, exactly once, before the policy can gain a parent.
func (p *Policy) defineAPI(variant Variant) error {
	if err := p.comp.DefineAPIMethod("get_nn_output", 2, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		out, _, err := p.traceNN(t, in)
		if err != nil {
			return nil, err
		}
		return []*graph.OpRec{out}, nil
	}); err != nil {
		return err
	}
	if err := p.comp.DefineAPIMethod("get_action_layer_output", 2, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		out, _, err := p.traceNN(t, in)
		if err != nil {
			return nil, err
		}
		return t.CallAPI(p.adapter.Component(), "get_action_layer_output", out)
	}); err != nil {
		return err
	}
	if err := p.comp.DefineAPIMethod("get_logits_parameters_log_probs", 2, 3, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		out, _, err := p.traceNN(t, in)
		if err != nil {
			return nil, err
		}
		return t.CallAPI(p.adapter.Component(), "get_logits_parameters_log_probs", out)
	}); err != nil {
		return err
	}
	if err := p.comp.DefineAPIMethod("get_q_values", 2, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		out, _, err := p.traceNN(t, in)
		if err != nil {
			return nil, err
		}
		if variant == VariantDueling {
			split, err := t.CallAPI(p.adapter.Component(), "get_dueling_output", out)
			if err != nil {
				return nil, err
			}
			return []*graph.OpRec{split[2]}, nil
		}
		triple, err := t.CallAPI(p.adapter.Component(), "get_logits_parameters_log_probs", out)
		if err != nil {
			return nil, err
		}
		return []*graph.OpRec{triple[0]}, nil
	}); err != nil {
		return err
	}
	if err := p.comp.DefineAPIMethod("get_entropy", 2, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		out, _, err := p.traceNN(t, in)
		if err != nil {
			return nil, err
		}
		triple, err := t.CallAPI(p.adapter.Component(), "get_logits_parameters_log_probs", out)
		if err != nil {
			return nil, err
		}
		return t.CallAPI(p.dist.Component(), "entropy", triple[1])
	}); err != nil {
		return err
	}
	if err := p.comp.DefineAPIMethod("get_action", 2, 2, p.traceAction(p.maxLik)); err != nil {
		return err
	}
	if err := p.comp.DefineAPIMethod("get_max_likelihood_action", 2, 2, p.traceAction(true)); err != nil {
		return err
	}
	if err := p.comp.DefineAPIMethod("get_stochastic_action", 2, 2, p.traceAction(false)); err != nil {
		return err
	}
	if err := p.comp.DefineAPIMethod("variables", 0, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallFn(p.comp, "variables")
	}); err != nil {
		return err
	}

	switch variant {
	case VariantDueling:
		if err := p.comp.DefineAPIMethod("get_dueling_output", 2, 3, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
			out, _, err := p.traceNN(t, in)
			if err != nil {
				return nil, err
			}
			return t.CallAPI(p.adapter.Component(), "get_dueling_output", out)
		}); err != nil {
			return err
		}
	case VariantBaseline:
		if err := p.comp.DefineAPIMethod("get_state_values_and_logits", 2, 2, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
			out, _, err := p.traceNN(t, in)
			if err != nil {
				return nil, err
			}
			return t.CallAPI(p.adapter.Component(), "get_state_values_and_logits", out)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Component returns the traced policy component.
func (p *Policy) Component() *graph.Component { return p.comp }

// Network returns the owned network.
func (p *Policy) Network() nnet.Network { return p.network }

// Adapter returns the owned action adapter.
func (p *Policy) Adapter() *ActionAdapter { return p.adapter }

// Distribution returns the owned distribution.
func (p *Policy) Distribution() dist.Distribution { return p.dist }

// Space returns the action space.
func (p *Policy) Space() space.Space { return p.space }

// Variables returns the live merged parameter set of network and adapter.
func (p *Policy) Variables() *nnet.VarSet { return p.vars }

// Writable reports whether the policy carries the sync capability.
func (p *Policy) Writable() bool { return p.sync != nil }
