// Package optim applies parameter updates inside the traced graph. The
// update step is a mutating leaf, so the executor serializes it against
// every concurrent read of the same parameters.
package optim

import (
	"fmt"
	"math"

	"plexus/pkg/graph"
	"plexus/pkg/nnet"
)

// Head addresses the action-layer parameters inside a policy's variable
// set: the weight and bias names plus the column where action outputs
// start (variants with a leading state-value column shift by one).
type Head struct {
	Weights string
	Bias    string
	Offset  int
}

// HeadSGD descends the action-layer head on the signed TD error: for each
// batch item, the column of the taken action moves against error times
// feature. Inputs of the step API, in order: variable set, network
// features, actions, per-item signed error.
type HeadSGD struct {
	comp *graph.Component
	rate float64
	head Head
}

// NewHeadSGD builds the optimizer component.
func NewHeadSGD(scope string, rate float64, head Head) (*HeadSGD, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("%w: learning rate %v", graph.ErrPrecondition, rate)
	}
	if head.Weights == "" || head.Bias == "" {
		return nil, fmt.Errorf("%w: optimizer head needs weight and bias names", graph.ErrStructural)
	}
	s := &HeadSGD{comp: graph.NewComponent(scope), rate: rate, head: head}
	if err := s.comp.DefineGraphFn("step", 4, 1, s.step, graph.Mutating()); err != nil {
		return nil, err
	}
	if err := s.comp.DefineAPIMethod("step", 4, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallFn(s.comp, "step", in...)
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Component returns the traced optimizer component.
func (s *HeadSGD) Component() *graph.Component { return s.comp }

// Rate returns the configured learning rate.
func (s *HeadSGD) Rate() float64 { return s.rate }

func (s *HeadSGD) step(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	vars, ok := in[0].(*nnet.VarSet)
	if !ok {
		return nil, fmt.Errorf("optim: expected a parameter set, got %T", in[0])
	}
	w, err := vars.Get(s.head.Weights)
	if err != nil {
		return nil, fmt.Errorf("optim: %w", err)
	}
	b, err := vars.Get(s.head.Bias)
	if err != nil {
		return nil, fmt.Errorf("optim: %w", err)
	}

	featShape, err := ops.Shape(in[1])
	if err != nil {
		return nil, err
	}
	if len(featShape) != 2 {
		return nil, fmt.Errorf("optim: features need rank 2, got %v", featShape)
	}
	feats, err := ops.Floats(in[1])
	if err != nil {
		return nil, err
	}
	actions, err := ops.Floats(in[2])
	if err != nil {
		return nil, err
	}
	errs, err := ops.Floats(in[3])
	if err != nil {
		return nil, err
	}
	batch, width := featShape[0], featShape[1]
	if len(actions) != batch || len(errs) != batch {
		return nil, fmt.Errorf("optim: %d features, %d actions, %d errors", batch, len(actions), len(errs))
	}
	wRows, wCols := w.Dims()
	if wRows != width {
		return nil, fmt.Errorf("optim: weights %dx%d under %d-wide features", wRows, wCols, width)
	}

	for r := 0; r < batch; r++ {
		col := s.head.Offset + int(math.Round(actions[r]))
		if col < s.head.Offset || col >= wCols {
			return nil, fmt.Errorf("optim: action %v outside %d-column head", actions[r], wCols)
		}
		g := s.rate * errs[r]
		for i := 0; i < width; i++ {
			w.Set(i, col, w.At(i, col)-g*feats[r*width+i])
		}
		b.Set(0, col, b.At(0, col)-g)
	}
	return []graph.Value{ops.FromFloats([]float64{float64(batch)}, 1)}, nil
}
