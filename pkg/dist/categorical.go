package dist

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/sampleuv"

	"plexus/pkg/graph"
)

// Categorical draws from per-row probability vectors. Parameters are
// probabilities over the last axis, as produced by an adapter's softmax.
type Categorical struct {
	comp *graph.Component
}

// NewCategorical builds the categorical distribution component.
func NewCategorical(scope string) (*Categorical, error) {
	c := &Categorical{comp: graph.NewComponent(scope)}
	if err := build(c.comp, c.deterministic, c.stochastic, c.entropy); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Categorical) Component() *graph.Component { return c.comp }
func (c *Categorical) Kind() string                { return "categorical" }

// probRows validates and decomposes a probability tensor.
func probRows(ops graph.Ops, v graph.Value) (data []float64, shape []int, width int, err error) {
	shape, err = ops.Shape(v)
	if err != nil {
		return nil, nil, 0, err
	}
	if len(shape) < 2 {
		return nil, nil, 0, fmt.Errorf("dist: categorical parameters need rank >= 2, got %v", shape)
	}
	data, err = ops.Floats(v)
	if err != nil {
		return nil, nil, 0, err
	}
	return data, shape, shape[len(shape)-1], nil
}

func (c *Categorical) deterministic(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	out, err := ops.ArgmaxLast(in[0])
	if err != nil {
		return nil, err
	}
	return []graph.Value{out}, nil
}

func (c *Categorical) stochastic(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	data, shape, w, err := probRows(ops, in[0])
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(data)/w)
	for r := 0; r < len(data); r += w {
		idx, ok := sampleuv.NewWeighted(data[r:r+w], nil).Take()
		if !ok {
			return nil, fmt.Errorf("dist: weighted draw failed on row %d", r/w)
		}
		out = append(out, float64(idx))
	}
	return []graph.Value{ops.FromFloats(out, shape[:len(shape)-1]...)}, nil
}

func (c *Categorical) entropy(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	data, shape, w, err := probRows(ops, in[0])
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(data)/w)
	for r := 0; r < len(data); r += w {
		var h float64
		for _, p := range data[r : r+w] {
			if p > 0 {
				h -= p * math.Log(p)
			}
		}
		out = append(out, h)
	}
	return []graph.Value{ops.FromFloats(out, shape[:len(shape)-1]...)}, nil
}
