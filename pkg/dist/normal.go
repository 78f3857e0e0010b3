package dist

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"plexus/pkg/graph"
)

// Normal is a diagonal gaussian over the last axis. Parameters are rows of
// 2*dim floats laid out as mean columns followed by standard deviations.
type Normal struct {
	comp *graph.Component
	dim  int
}

// NewNormal builds a gaussian distribution component for dim-wide actions.
func NewNormal(scope string, dim int) (*Normal, error) {
	if dim < 1 {
		return nil, fmt.Errorf("dist: normal needs dim >= 1, got %d", dim)
	}
	n := &Normal{comp: graph.NewComponent(scope), dim: dim}
	if err := build(n.comp, n.deterministic, n.stochastic, n.entropy); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Normal) Component() *graph.Component { return n.comp }
func (n *Normal) Kind() string                { return "normal" }
func (n *Normal) Dim() int                    { return n.dim }

// meanSD splits a parameter tensor into its mean and sd halves.
func (n *Normal) meanSD(ops graph.Ops, v graph.Value) (mean, sd []float64, shape []int, err error) {
	shape, err = ops.Shape(v)
	if err != nil {
		return nil, nil, nil, err
	}
	w := shape[len(shape)-1]
	if len(shape) < 2 || w != 2*n.dim {
		return nil, nil, nil, fmt.Errorf("dist: normal parameters need last axis %d, got %v", 2*n.dim, shape)
	}
	data, err := ops.Floats(v)
	if err != nil {
		return nil, nil, nil, err
	}
	rows := len(data) / w
	mean = make([]float64, 0, rows*n.dim)
	sd = make([]float64, 0, rows*n.dim)
	for r := 0; r < len(data); r += w {
		mean = append(mean, data[r:r+n.dim]...)
		sd = append(sd, data[r+n.dim:r+w]...)
	}
	outShape := append(append([]int{}, shape[:len(shape)-1]...), n.dim)
	return mean, sd, outShape, nil
}

func (n *Normal) deterministic(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	mean, _, shape, err := n.meanSD(ops, in[0])
	if err != nil {
		return nil, err
	}
	return []graph.Value{ops.FromFloats(mean, shape...)}, nil
}

func (n *Normal) stochastic(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	mean, sd, shape, err := n.meanSD(ops, in[0])
	if err != nil {
		return nil, err
	}
	unit := distuv.Normal{Mu: 0, Sigma: 1}
	out := make([]float64, len(mean))
	for i := range mean {
		out[i] = mean[i] + sd[i]*unit.Rand()
	}
	return []graph.Value{ops.FromFloats(out, shape...)}, nil
}

func (n *Normal) entropy(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	_, sd, shape, err := n.meanSD(ops, in[0])
	if err != nil {
		return nil, err
	}
	rows := len(sd) / n.dim
	out := make([]float64, 0, rows)
	for r := 0; r < len(sd); r += n.dim {
		var h float64
		for _, s := range sd[r : r+n.dim] {
			h += 0.5 * math.Log(2*math.Pi*math.E*s*s)
		}
		out = append(out, h)
	}
	return []graph.Value{ops.FromFloats(out, shape[:len(shape)-1]...)}, nil
}
