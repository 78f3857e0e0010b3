package agent

import (
	"fmt"

	"gorgonia.org/tensor"

	"plexus/internal/config"
	"plexus/internal/replay"
	"plexus/internal/sample"
	"plexus/pkg/graph"
	"plexus/pkg/loss"
	"plexus/pkg/nnet"
	"plexus/pkg/optim"
	"plexus/pkg/policy"
	"plexus/pkg/space"
)

// memory adapts the replay buffer into a graph component. Insert and pull
// are leaves of the traced graph, so replay access shares the executor's
// locking discipline with the parameter updates that consume the samples.
type memory struct {
	comp *graph.Component
	buf  *replay.Uniform
	pull int
}

func newMemory(scope string, buf *replay.Uniform, pull int) (*memory, error) {
	if buf == nil {
		return nil, fmt.Errorf("%w: nil replay buffer", graph.ErrStructural)
	}
	if pull < 1 {
		return nil, fmt.Errorf("%w: pull batch size %d", graph.ErrPrecondition, pull)
	}
	m := &memory{comp: graph.NewComponent(scope), buf: buf, pull: pull}
	cols := len(sample.RequiredKeys())

	if err := m.comp.DefineGraphFn("insert", cols, 1, m.insert, graph.Mutating()); err != nil {
		return nil, err
	}
	if err := m.comp.DefineGraphFn("get_records", 0, cols, m.getRecords, graph.Mutating()); err != nil {
		return nil, err
	}
	if err := m.comp.DefineAPIMethod("insert", cols, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallFn(m.comp, "insert", in...)
	}); err != nil {
		return nil, err
	}
	if err := m.comp.DefineAPIMethod("get_records", 0, cols, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallFn(m.comp, "get_records", in...)
	}); err != nil {
		return nil, err
	}
	return m, nil
}

// insert stores one batch of transition columns and returns the row count.
func (m *memory) insert(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	b := sample.NewBatch()
	for i, key := range sample.RequiredKeys() {
		col, ok := in[i].(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("%w: %s feed is %T, want *tensor.Dense", graph.ErrExecution, key, in[i])
		}
		if err := b.Set(key, col); err != nil {
			return nil, err
		}
	}
	if err := m.buf.InsertBatch(b); err != nil {
		return nil, err
	}
	return []graph.Value{ops.FromFloats([]float64{float64(b.Len())})}, nil
}

// getRecords pulls a uniform sample and emits its columns in key order.
func (m *memory) getRecords(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
	b, err := m.buf.GetBatch(m.pull)
	if err != nil {
		return nil, err
	}
	out := make([]graph.Value, 0, len(sample.RequiredKeys()))
	for _, key := range sample.RequiredKeys() {
		col, err := b.Get(key)
		if err != nil {
			return nil, err
		}
		out = append(out, col)
	}
	return out, nil
}

// wiring is the assembled component tree: one root exposing the agent's
// method surface, with the online policy, the writable target policy, the
// replay memory, the loss and the optimizer as direct children.
type wiring struct {
	root   *graph.Component
	policy *policy.Policy
	target *policy.Policy
	memory *memory
	dq     *loss.DoubleQ
	sgd    *optim.HeadSGD
}

func buildWiring(def *config.RunDef, buf *replay.Uniform) (*wiring, error) {
	sp, err := def.Space.ActionSpace()
	if err != nil {
		return nil, err
	}
	if sp.Kind() != space.Discrete {
		return nil, fmt.Errorf("%w: q-updates need a discrete action space, got %s", graph.ErrActionSpace, sp)
	}
	variant, err := policy.ParseVariant(def.Policy.Variant)
	if err != nil {
		return nil, err
	}

	// Both networks share scope and seed: variable names line up for the
	// sync copy and the target starts identical to the online net.
	specs := def.Network.Specs()
	onlineNet, err := nnet.NewDense("qnet", def.Network.Inputs, specs, def.Seed)
	if err != nil {
		return nil, err
	}
	targetNet, err := nnet.NewDense("qnet", def.Network.Inputs, specs, def.Seed)
	if err != nil {
		return nil, err
	}

	popts := []policy.Option{policy.WithVariant(variant), policy.WithSeed(def.Seed)}
	if def.Policy.MaxLikelihood {
		popts = append(popts, policy.WithMaxLikelihood())
	}
	online, err := policy.New("policy", onlineNet, sp, popts...)
	if err != nil {
		return nil, err
	}
	target, err := policy.New("target_policy", targetNet, sp, append(popts, policy.WithWritable())...)
	if err != nil {
		return nil, err
	}

	dq, err := loss.NewDoubleQ("loss", def.Update.Discount)
	if err != nil {
		return nil, err
	}
	ad := online.Adapter()
	sgd, err := optim.NewHeadSGD("optimizer", def.Update.LearningRate, optim.Head{
		Weights: ad.WeightsVar(),
		Bias:    ad.BiasVar(),
		Offset:  ad.ColumnOffset(),
	})
	if err != nil {
		return nil, err
	}
	mem, err := newMemory("memory", buf, def.Update.BatchSize)
	if err != nil {
		return nil, err
	}

	root := graph.NewComponent("apex")
	if err := root.DefineGraphFn("no_state", 0, 1, func(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
		return []graph.Value{nnet.NoState}, nil
	}); err != nil {
		return nil, err
	}
	// The placeholder crosses into child methods, so it needs an API
	// boundary of its own; raw fn outputs stop at the component border.
	if err := root.DefineAPIMethod("no_state", 0, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallFn(root, "no_state", in...)
	}); err != nil {
		return nil, err
	}

	w := &wiring{root: root, policy: online, target: target, memory: mem, dq: dq, sgd: sgd}
	if err := w.defineAPI(); err != nil {
		return nil, err
	}
	if err := root.AddComponents(online.Component(), target.Component(), mem.comp, dq.Component(), sgd.Component()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *wiring) defineAPI() error {
	cols := len(sample.RequiredKeys())

	if err := w.root.DefineAPIMethod("get_action", 2, 2, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallAPI(w.policy.Component(), "get_action", in...)
	}); err != nil {
		return err
	}
	if err := w.root.DefineAPIMethod("insert_records", cols, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return t.CallAPI(w.memory.comp, "insert", in...)
	}); err != nil {
		return err
	}
	if err := w.root.DefineAPIMethod("sync_target_qnet", 0, 1, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		vars, err := t.CallAPI(w.policy.Component(), "variables")
		if err != nil {
			return nil, err
		}
		return t.CallAPI(w.target.Component(), "sync", vars[0])
	}); err != nil {
		return err
	}
	if err := w.root.DefineAPIMethod("update_from_external_batch", cols, 3, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return w.traceUpdate(t, in[0], in[1], in[2], in[3], in[4])
	}); err != nil {
		return err
	}
	if err := w.root.DefineAPIMethod("update_from_memory", 0, 3, func(t *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		recs, err := t.CallAPI(w.memory.comp, "get_records")
		if err != nil {
			return nil, err
		}
		return w.traceUpdate(t, recs[0], recs[1], recs[2], recs[3], recs[4])
	}); err != nil {
		return err
	}
	return nil
}

// traceUpdate wires the shared update tail: Q-values for current and next
// states, the double-Q loss pair, and the optimizer step on the signed
// per-item error. Results, in order: optimizer trigger, total loss,
// per-item loss. Callers that skip the trigger index prune the whole
// optimizer step out of the round.
func (w *wiring) traceUpdate(t *graph.Trace, states, actions, rewards, terminals, next *graph.OpRec) ([]*graph.OpRec, error) {
	ns, err := t.CallAPI(w.root, "no_state")
	if err != nil {
		return nil, err
	}
	qs, err := t.CallAPI(w.policy.Component(), "get_q_values", states, ns[0])
	if err != nil {
		return nil, err
	}
	qspOnline, err := t.CallAPI(w.policy.Component(), "get_q_values", next, ns[0])
	if err != nil {
		return nil, err
	}
	qspTarget, err := t.CallAPI(w.target.Component(), "get_q_values", next, ns[0])
	if err != nil {
		return nil, err
	}
	pair, err := t.CallAPI(w.dq.Component(), "loss", qs[0], actions, rewards, terminals, qspOnline[0], qspTarget[0])
	if err != nil {
		return nil, err
	}
	delta, err := t.CallAPI(w.dq.Component(), "get_td_error", qs[0], actions, rewards, terminals, qspOnline[0], qspTarget[0])
	if err != nil {
		return nil, err
	}
	feats, err := t.CallAPI(w.policy.Component(), "get_nn_output", states, ns[0])
	if err != nil {
		return nil, err
	}
	vars, err := t.CallAPI(w.policy.Component(), "variables")
	if err != nil {
		return nil, err
	}
	trigger, err := t.CallAPI(w.sgd.Component(), "step", vars[0], feats[0], actions, delta[0])
	if err != nil {
		return nil, err
	}
	return []*graph.OpRec{trigger[0], pair[0], pair[1]}, nil
}
