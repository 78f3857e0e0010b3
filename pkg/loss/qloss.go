// Package loss implements the temporal-difference loss of the update path.
package loss

import (
	"fmt"

	"plexus/pkg/graph"
)

// DoubleQ computes the double-Q TD error: the online network picks the
// next-state action, the target network evaluates it. Inputs of the loss
// API, in order: q_values(s), actions, rewards, terminals,
// q_values(s') online, q_values(s') target.
type DoubleQ struct {
	comp     *graph.Component
	discount float64
}

// NewDoubleQ builds the loss component with the given discount factor.
func NewDoubleQ(scope string, discount float64) (*DoubleQ, error) {
	if discount < 0 || discount > 1 {
		return nil, fmt.Errorf("%w: discount %v outside [0,1]", graph.ErrPrecondition, discount)
	}
	l := &DoubleQ{comp: graph.NewComponent(scope), discount: discount}

	if err := l.comp.DefineGraphFn("td_error", 6, 1, l.tdError); err != nil {
		return nil, err
	}
	if err := l.comp.DefineGraphFn("per_item", 1, 1, l.perItem); err != nil {
		return nil, err
	}
	if err := l.comp.DefineGraphFn("total", 1, 1, l.total); err != nil {
		return nil, err
	}

	if err := l.comp.DefineAPIMethod("loss", 6, 2, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		delta, err := t.CallFn(l.comp, "td_error", in...)
		if err != nil {
			return nil, err
		}
		per, err := t.CallFn(l.comp, "per_item", delta[0])
		if err != nil {
			return nil, err
		}
		tot, err := t.CallFn(l.comp, "total", per[0])
		if err != nil {
			return nil, err
		}
		return []*graph.OpRec{tot[0], per[0]}, nil
	}); err != nil {
		return nil, err
	}
	if err := l.comp.DefineAPIMethod("get_td_error", 6, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallFn(l.comp, "td_error", in...)
	}); err != nil {
		return nil, err
	}
	return l, nil
}

// Component returns the traced loss component.
func (l *DoubleQ) Component() *graph.Component { return l.comp }

// Discount returns the configured discount factor.
func (l *DoubleQ) Discount() float64 { return l.discount }

// tdError is the signed per-item error: Q(s,a) - (r + gamma * (1-t) *
// Q_target(s', argmax_a Q_online(s', a))).
func (l *DoubleQ) tdError(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	qs, actions, rewards, terminals, qspOnline, qspTarget := in[0], in[1], in[2], in[3], in[4], in[5]

	best, err := ops.ArgmaxLast(qspOnline)
	if err != nil {
		return nil, err
	}
	qNext, err := ops.Gather(qspTarget, best)
	if err != nil {
		return nil, err
	}
	discounted, err := ops.Scale(qNext, l.discount)
	if err != nil {
		return nil, err
	}
	negTerm, err := ops.Scale(terminals, -1)
	if err != nil {
		return nil, err
	}
	notDone, err := ops.Shift(negTerm, 1)
	if err != nil {
		return nil, err
	}
	future, err := ops.Mul(discounted, notDone)
	if err != nil {
		return nil, err
	}
	backup, err := ops.Add(rewards, future)
	if err != nil {
		return nil, err
	}
	chosen, err := ops.Gather(qs, actions)
	if err != nil {
		return nil, err
	}
	delta, err := ops.Sub(chosen, backup)
	if err != nil {
		return nil, err
	}
	return []graph.Value{delta}, nil
}

// perItem squares the signed error into the per-item loss 0.5 * delta^2.
func (l *DoubleQ) perItem(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	sq, err := ops.Mul(in[0], in[0])
	if err != nil {
		return nil, err
	}
	half, err := ops.Scale(sq, 0.5)
	if err != nil {
		return nil, err
	}
	return []graph.Value{half}, nil
}

// total reduces per-item losses to the batch mean.
func (l *DoubleQ) total(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	mean, err := ops.MeanAll(in[0])
	if err != nil {
		return nil, err
	}
	return []graph.Value{mean}, nil
}
