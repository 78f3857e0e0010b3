package nnet

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/mat"

	"plexus/pkg/graph"
)

// LayerSpec declares one dense layer: its width and activation.
type LayerSpec struct {
	Units      int
	Activation string
}

type denseLayer struct {
	w   *mat.Dense // in x out
	b   *mat.Dense // 1 x out
	act func(float64) float64
}

// Dense is the reference feed-forward network: a stack of fully connected
// layers over gonum matrices. It is not recurrent, so apply always returns
// NoState as its second result.
type Dense struct {
	comp   *graph.Component
	inDim  int
	outDim int
	layers []denseLayer
	vars   *VarSet
}

// Activation resolves a layer activation by name. The empty string is the
// identity, so linear output layers need no explicit declaration.
func Activation(name string) (func(float64) float64, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear", "identity":
		return func(x float64) float64 { return x }, nil
	case "relu":
		return func(x float64) float64 { return math.Max(0, x) }, nil
	case "tanh":
		return math.Tanh, nil
	default:
		return nil, fmt.Errorf("nnet: unknown activation %q", name)
	}
}

// NewDense builds a dense network with the given layer stack. Weights are
// initialized from a seeded source, so equal seeds give equal parameters.
func NewDense(scope string, inDim int, specs []LayerSpec, seed int64) (*Dense, error) {
	if inDim < 1 {
		return nil, fmt.Errorf("nnet: input dimension %d", inDim)
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("nnet: dense network needs at least one layer")
	}
	d := &Dense{
		comp:  graph.NewComponent(scope),
		inDim: inDim,
		vars:  NewVarSet(),
	}
	rng := rand.New(rand.NewSource(seed))
	prev := inDim
	for i, spec := range specs {
		if spec.Units < 1 {
			return nil, fmt.Errorf("nnet: layer %d declares %d units", i, spec.Units)
		}
		act, err := Activation(spec.Activation)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		layer := denseLayer{
			w:   InitMatrix(rng, prev, spec.Units),
			b:   mat.NewDense(1, spec.Units, nil),
			act: act,
		}
		d.layers = append(d.layers, layer)
		if err := d.vars.Add(fmt.Sprintf("%s/layer_%d/W", scope, i), layer.w); err != nil {
			return nil, err
		}
		if err := d.vars.Add(fmt.Sprintf("%s/layer_%d/b", scope, i), layer.b); err != nil {
			return nil, err
		}
		prev = spec.Units
	}
	d.outDim = prev

	if err := d.comp.DefineGraphFn("forward", 1, 1, d.forward); err != nil {
		return nil, err
	}
	if err := d.comp.DefineGraphFn("no_state", 0, 1, func(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
		return []graph.Value{NoState}, nil
	}); err != nil {
		return nil, err
	}
	if err := d.comp.DefineAPIMethod("apply", 2, 2, func(tr *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		out, err := tr.CallFn(d.comp, "forward", in[0])
		if err != nil {
			return nil, err
		}
		state, err := tr.CallFn(d.comp, "no_state")
		if err != nil {
			return nil, err
		}
		return []*graph.OpRec{out[0], state[0]}, nil
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// InitMatrix fills a rows x cols matrix with scaled uniform noise. Layer
// stacks and action adapters share it so equal seeds give equal parameters.
func InitMatrix(rng *rand.Rand, rows, cols int) *mat.Dense {
	scale := 1 / math.Sqrt(float64(rows))
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * scale
	}
	return mat.NewDense(rows, cols, data)
}

// forward is the network's leaf operation: batched input through the layer
// stack.
func (d *Dense) forward(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	shape, err := ops.Shape(in[0])
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || shape[1] != d.inDim {
		return nil, fmt.Errorf("nnet: forward wants [batch %d] input, got %v", d.inDim, shape)
	}
	data, err := ops.Floats(in[0])
	if err != nil {
		return nil, err
	}
	batch := shape[0]
	x := mat.NewDense(batch, d.inDim, data)
	for _, layer := range d.layers {
		_, units := layer.w.Dims()
		next := mat.NewDense(batch, units, nil)
		next.Mul(x, layer.w)
		for r := 0; r < batch; r++ {
			for c := 0; c < units; c++ {
				next.Set(r, c, layer.act(next.At(r, c)+layer.b.At(0, c)))
			}
		}
		x = next
	}
	rows, cols := x.Dims()
	return []graph.Value{ops.FromFloats(Flatten(x), rows, cols)}, nil
}

// Flatten returns a matrix's values in row-major order.
func Flatten(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		out = append(out, m.RawRowView(r)...)
	}
	return out
}

// Component returns the traced component exposing apply.
func (d *Dense) Component() *graph.Component { return d.comp }

// OutDim returns the width of the last layer.
func (d *Dense) OutDim() int { return d.outDim }

// Recurrent reports false: dense stacks carry no internal state.
func (d *Dense) Recurrent() bool { return false }

// Variables returns the network's parameter set.
func (d *Dense) Variables() *VarSet { return d.vars }
