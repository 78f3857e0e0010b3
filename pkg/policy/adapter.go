package policy

import (
	"fmt"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"

	"plexus/pkg/graph"
	"plexus/pkg/nnet"
	"plexus/pkg/space"
)

// Variant tags an action-adapter wiring. The tag is fixed at construction;
// each variant contributes its own slicing functions and extra API methods
// through a capability selected once from the tag.
type Variant int

const (
	// VariantPlain maps the action layer straight to logits.
	VariantPlain Variant = iota
	// VariantDueling prepends a state-value column and recombines
	// Q = V + (A - mean(A)).
	VariantDueling
	// VariantBaseline prepends a state-value column kept separate from
	// the logits.
	VariantBaseline
)

func (v Variant) String() string {
	switch v {
	case VariantPlain:
		return "plain"
	case VariantDueling:
		return "dueling"
	case VariantBaseline:
		return "baseline"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// ParseVariant maps a configuration string to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "plain":
		return VariantPlain, nil
	case "dueling":
		return VariantDueling, nil
	case "baseline":
		return VariantBaseline, nil
	default:
		return 0, fmt.Errorf("policy: unknown adapter variant %q", s)
	}
}

// variantOps is the per-variant capability: how many columns the action
// layer carries beyond the flat action dimension, and which slicing fns
// and API methods the variant wires onto the adapter component.
type variantOps interface {
	extraUnits() int
	wire(a *ActionAdapter) error
}

func (v Variant) ops() (variantOps, error) {
	switch v {
	case VariantPlain:
		return plainOps{}, nil
	case VariantDueling:
		return duelingOps{}, nil
	case VariantBaseline:
		return baselineOps{}, nil
	default:
		return nil, fmt.Errorf("%w: adapter variant %d", graph.ErrStructural, int(v))
	}
}

// ActionAdapter owns the action layer: one linear map from network output
// to action-space width, plus the variant-specific slicing that turns raw
// layer rows into (logits, parameters, log probabilities).
type ActionAdapter struct {
	comp    *graph.Component
	variant Variant
	space   space.Space
	inDim   int
	units   int
	w, b    *mat.Dense
	vars    *nnet.VarSet
	wName   string
	bName   string
}

// AdapterOption configures adapter construction.
type AdapterOption func(*adapterConfig)

type adapterConfig struct {
	units int
	seed  int64
}

// WithUnits pins the action-layer width explicitly. The width must equal
// what the variant's slicing expects for the given space; a mismatch fails
// construction instead of truncating at execution time.
func WithUnits(n int) AdapterOption {
	return func(c *adapterConfig) { c.units = n }
}

// WithAdapterSeed seeds the action-layer initialization.
func WithAdapterSeed(seed int64) AdapterOption {
	return func(c *adapterConfig) { c.seed = seed }
}

// NewActionAdapter builds an adapter for the given variant, space and
// network output width.
func NewActionAdapter(scope string, variant Variant, sp space.Space, inDim int, opts ...AdapterOption) (*ActionAdapter, error) {
	cfg := adapterConfig{seed: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if inDim < 1 {
		return nil, fmt.Errorf("%w: adapter input dimension %d", graph.ErrStructural, inDim)
	}
	if len(sp.Shape()) == 0 {
		return nil, fmt.Errorf("%w: adapter needs a non-empty action space", graph.ErrStructural)
	}
	vops, err := variant.ops()
	if err != nil {
		return nil, err
	}

	var required int
	switch sp.Kind() {
	case space.Discrete:
		required = sp.FlatDim() + vops.extraUnits()
	case space.Continuous:
		if variant != VariantPlain {
			return nil, fmt.Errorf("%w: %s adapter over continuous actions", graph.ErrActionSpace, variant)
		}
		required = 2 * sp.FlatDim()
	default:
		return nil, fmt.Errorf("%w: %v", graph.ErrActionSpace, sp.Kind())
	}
	if cfg.units != 0 && cfg.units != required {
		return nil, fmt.Errorf("%w: action layer declares %d units, %s over %s needs %d",
			graph.ErrUnitMismatch, cfg.units, variant, sp, required)
	}

	rng := rand.New(rand.NewSource(cfg.seed))
	a := &ActionAdapter{
		comp:    graph.NewComponent(scope),
		variant: variant,
		space:   sp,
		inDim:   inDim,
		units:   required,
		w:       nnet.InitMatrix(rng, inDim, required),
		b:       mat.NewDense(1, required, nil),
		vars:    nnet.NewVarSet(),
		wName:   scope + "/action_layer/W",
		bName:   scope + "/action_layer/b",
	}
	if err := a.vars.Add(a.wName, a.w); err != nil {
		return nil, err
	}
	if err := a.vars.Add(a.bName, a.b); err != nil {
		return nil, err
	}

	if err := a.comp.DefineGraphFn("action_layer", 1, 1, a.actionLayer); err != nil {
		return nil, err
	}
	if err := a.comp.DefineGraphFn("parameterize", 1, 2, a.parameterize); err != nil {
		return nil, err
	}
	if err := a.comp.DefineAPIMethod("get_action_layer_output", 1, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallFn(a.comp, "action_layer", in[0])
	}); err != nil {
		return nil, err
	}
	if err := vops.wire(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Component returns the traced adapter component.
func (a *ActionAdapter) Component() *graph.Component { return a.comp }

// Variant returns the wiring tag chosen at construction.
func (a *ActionAdapter) Variant() Variant { return a.variant }

// Units returns the action-layer output width.
func (a *ActionAdapter) Units() int { return a.units }

// Variables returns the adapter's parameter set.
func (a *ActionAdapter) Variables() *nnet.VarSet { return a.vars }

// WeightsVar and BiasVar name the action-layer parameters inside the
// adapter's variable set, for optimizers addressing the head directly.
func (a *ActionAdapter) WeightsVar() string { return a.wName }

// BiasVar names the action-layer bias row.
func (a *ActionAdapter) BiasVar() string { return a.bName }

// ColumnOffset returns the first action-layer column belonging to an
// action output. Variants with a leading state-value column shift by one.
func (a *ActionAdapter) ColumnOffset() int {
	if a.variant == VariantPlain {
		return 0
	}
	return 1
}

// actionLayer is the adapter's leaf forward pass: x*W + b.
func (a *ActionAdapter) actionLayer(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	shape, err := ops.Shape(in[0])
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[1] != a.inDim {
		return nil, fmt.Errorf("policy: action layer wants [batch %d] input, got %v", a.inDim, shape)
	}
	data, err := ops.Floats(in[0])
	if err != nil {
		return nil, err
	}
	batch := shape[0]
	x := mat.NewDense(batch, a.inDim, data)
	out := mat.NewDense(batch, a.units, nil)
	out.Mul(x, a.w)
	for r := 0; r < batch; r++ {
		for c := 0; c < a.units; c++ {
			out.Set(r, c, out.At(r, c)+a.b.At(0, c))
		}
	}
	return []graph.Value{ops.FromFloats(nnet.Flatten(out), batch, a.units)}, nil
}

// shapeActions reshapes flat action rows to the space layout.
func (a *ActionAdapter) shapeActions(ops graph.Ops, v graph.Value) (graph.Value, error) {
	shape, err := ops.Shape(v)
	if err != nil {
		return nil, err
	}
	return ops.Reshape(v, a.space.BatchShape(shape[0])...)
}

// parameterize turns shaped logits into distribution parameters and their
// log form. Discrete spaces emit (softmax, log softmax); continuous spaces
// split mean and log-sd halves and exponentiate the spread.
func (a *ActionAdapter) parameterize(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	if a.space.Kind() == space.Continuous {
		f := a.space.FlatDim()
		mean, err := ops.SliceLast(in[0], 0, f)
		if err != nil {
			return nil, err
		}
		logSD, err := ops.SliceLast(in[0], f, 2*f)
		if err != nil {
			return nil, err
		}
		sd, err := ops.Exp(logSD)
		if err != nil {
			return nil, err
		}
		params, err := ops.Concat(1, mean, sd)
		if err != nil {
			return nil, err
		}
		return []graph.Value{params, in[0]}, nil
	}
	probs, err := ops.Softmax(in[0])
	if err != nil {
		return nil, err
	}
	logProbs, err := ops.LogSoftmax(in[0])
	if err != nil {
		return nil, err
	}
	return []graph.Value{probs, logProbs}, nil
}

// traceTriple is the shared trace tail: shaped logits into the
// parameterize leaf, returning (logits, parameters, log probabilities).
func (a *ActionAdapter) traceTriple(t *graph.Trace, logits *graph.OpRec) ([]*graph.OpRec, error) {
	pl, err := t.CallFn(a.comp, "parameterize", logits)
	if err != nil {
		return nil, err
	}
	return []*graph.OpRec{logits, pl[0], pl[1]}, nil
}

type plainOps struct{}

func (plainOps) extraUnits() int { return 0 }

func (plainOps) wire(a *ActionAdapter) error {
	if err := a.comp.DefineGraphFn("shape_logits", 1, 1, func(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
		if a.space.Kind() == space.Continuous {
			// Continuous parameters stay flat: mean and log-sd halves.
			return []graph.Value{in[0]}, nil
		}
		out, err := a.shapeActions(ops, in[0])
		if err != nil {
			return nil, err
		}
		return []graph.Value{out}, nil
	}); err != nil {
		return err
	}
	return a.comp.DefineAPIMethod("get_logits_parameters_log_probs", 1, 3, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		raw, err := t.CallFn(a.comp, "action_layer", in[0])
		if err != nil {
			return nil, err
		}
		logits, err := t.CallFn(a.comp, "shape_logits", raw[0])
		if err != nil {
			return nil, err
		}
		return a.traceTriple(t, logits[0])
	})
}

type duelingOps struct{}

func (duelingOps) extraUnits() int { return 1 }

func (duelingOps) wire(a *ActionAdapter) error {
	if err := a.comp.DefineGraphFn("dueling_split", 1, 3, a.duelingSplit); err != nil {
		return err
	}
	if err := a.comp.DefineAPIMethod("get_dueling_output", 1, 3, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		raw, err := t.CallFn(a.comp, "action_layer", in[0])
		if err != nil {
			return nil, err
		}
		return t.CallFn(a.comp, "dueling_split", raw[0])
	}); err != nil {
		return err
	}
	return a.comp.DefineAPIMethod("get_logits_parameters_log_probs", 1, 3, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		raw, err := t.CallFn(a.comp, "action_layer", in[0])
		if err != nil {
			return nil, err
		}
		split, err := t.CallFn(a.comp, "dueling_split", raw[0])
		if err != nil {
			return nil, err
		}
		// The recombined Q plays the logits role downstream.
		return a.traceTriple(t, split[2])
	})
}

// duelingSplit decomposes raw action-layer rows into state value,
// advantages and recombined Q. Column 0 is the state value; advantages
// are centered over the choice axis so Q = V + (A - mean(A)).
func (a *ActionAdapter) duelingSplit(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	sv, err := ops.SelectLast(in[0], 0)
	if err != nil {
		return nil, err
	}
	advFlat, err := ops.SliceLast(in[0], 1, a.units)
	if err != nil {
		return nil, err
	}
	adv, err := a.shapeActions(ops, advFlat)
	if err != nil {
		return nil, err
	}
	mean, err := ops.MeanLast(adv)
	if err != nil {
		return nil, err
	}
	meanE, err := ops.ExpandLast(mean, a.space.Categories())
	if err != nil {
		return nil, err
	}
	centered, err := ops.Sub(adv, meanE)
	if err != nil {
		return nil, err
	}
	svE := sv
	for _, d := range a.space.Shape() {
		if svE, err = ops.ExpandLast(svE, d); err != nil {
			return nil, err
		}
	}
	q, err := ops.Add(svE, centered)
	if err != nil {
		return nil, err
	}
	return []graph.Value{sv, adv, q}, nil
}

type baselineOps struct{}

func (baselineOps) extraUnits() int { return 1 }

func (baselineOps) wire(a *ActionAdapter) error {
	if err := a.comp.DefineGraphFn("baseline_split", 1, 2, a.baselineSplit); err != nil {
		return err
	}
	if err := a.comp.DefineAPIMethod("get_state_values_and_logits", 1, 2, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		raw, err := t.CallFn(a.comp, "action_layer", in[0])
		if err != nil {
			return nil, err
		}
		return t.CallFn(a.comp, "baseline_split", raw[0])
	}); err != nil {
		return err
	}
	return a.comp.DefineAPIMethod("get_logits_parameters_log_probs", 1, 3, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		raw, err := t.CallFn(a.comp, "action_layer", in[0])
		if err != nil {
			return nil, err
		}
		split, err := t.CallFn(a.comp, "baseline_split", raw[0])
		if err != nil {
			return nil, err
		}
		return a.traceTriple(t, split[1])
	})
}

// baselineSplit slices raw rows into one squeezed state-value column and
// units-1 logit columns reshaped to the action space.
func (a *ActionAdapter) baselineSplit(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	sv, err := ops.SelectLast(in[0], 0)
	if err != nil {
		return nil, err
	}
	flat, err := ops.SliceLast(in[0], 1, a.units)
	if err != nil {
		return nil, err
	}
	logits, err := a.shapeActions(ops, flat)
	if err != nil {
		return nil, err
	}
	return []graph.Value{sv, logits}, nil
}
