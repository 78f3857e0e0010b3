package policy

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"plexus/pkg/graph"
	"plexus/pkg/nnet"
	"plexus/pkg/space"
)

// probeDist counts how often each sampling path executes. It mirrors the
// distribution API surface but passes parameters through unchanged.
type probeDist struct {
	comp     *graph.Component
	det, sto atomic.Int64
}

func newProbeDist(t *testing.T) *probeDist {
	t.Helper()
	p := &probeDist{comp: graph.NewComponent("distribution")}
	fns := map[string]*atomic.Int64{
		"sample_deterministic": &p.det,
		"sample_stochastic":    &p.sto,
	}
	for name, counter := range fns {
		if err := p.comp.DefineGraphFn(name, 1, 1, func(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
			counter.Add(1)
			return []graph.Value{in[0]}, nil
		}); err != nil {
			t.Fatalf("define %s: %v", name, err)
		}
		if err := p.comp.DefineAPIMethod(name, 1, 1, func(tr *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
			return tr.CallFn(p.comp, name, in...)
		}); err != nil {
			t.Fatalf("define api %s: %v", name, err)
		}
	}
	if err := p.comp.DefineGraphFn("entropy", 1, 1, func(ops graph.Ops, in ...graph.Value) ([]graph.Value, error) {
		return []graph.Value{in[0]}, nil
	}); err != nil {
		t.Fatalf("define entropy: %v", err)
	}
	if err := p.comp.DefineAPIMethod("entropy", 1, 1, func(tr *graph.Trace, in ...*graph.OpRec) ([]*graph.OpRec, error) {
		return tr.CallFn(p.comp, "entropy", in...)
	}); err != nil {
		t.Fatalf("define api entropy: %v", err)
	}
	return p
}

func (p *probeDist) Component() *graph.Component { return p.comp }
func (p *probeDist) Kind() string                { return "probe" }

func testNetwork(t *testing.T, inDim, outDim int, seed int64) *nnet.Dense {
	t.Helper()
	net, err := nnet.NewDense("qnet", inDim, []nnet.LayerSpec{{Units: outDim, Activation: "tanh"}}, seed)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	return net
}

func policyHarness(t *testing.T, p *Policy) *graph.Executor {
	t.Helper()
	root := graph.NewComponent("harness")
	if err := root.AddComponents(p.Component()); err != nil {
		t.Fatalf("add policy: %v", err)
	}
	for _, name := range p.Component().APINames() {
		if err := root.ExposeAPI(name, p.Component()); err != nil {
			t.Fatalf("expose %s: %v", name, err)
		}
	}
	backend, err := graph.NewBackend(graph.GraphBackend)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	exec := graph.NewExecutor(backend)
	if err := exec.Build(root); err != nil {
		t.Fatalf("build: %v", err)
	}
	return exec
}

func TestGreedyBypassesDistribution(t *testing.T) {
	sp, err := space.NewDiscrete(3)
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	probe := newProbeDist(t)
	p, err := New("policy", testNetwork(t, 4, 6, 3), sp,
		WithMaxLikelihood(), WithDistribution(probe))
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	exec := policyHarness(t, p)
	ops := exec.Ops()
	states := ops.FromFloats([]float64{1, 0, -1, 0.5, 0, 1, 1, 0}, 2, 4)

	var action graph.Value
	for i := 0; i < 3; i++ {
		res, err := exec.Execute(graph.Invocation{
			Method: "get_action",
			Feeds:  []graph.Value{states, nnet.NoState},
		}, nil)
		if err != nil {
			t.Fatalf("get_action: %v", err)
		}
		action = res.First()[0]
		if !nnet.IsNoState(res.First()[1]) {
			t.Fatalf("expected NoState internals, got %T", res.First()[1])
		}
	}
	if got := probe.det.Load() + probe.sto.Load(); got != 0 {
		t.Fatalf("greedy discrete selection touched the distribution %d times", got)
	}

	res, err := exec.Execute(graph.Invocation{
		Method: "get_logits_parameters_log_probs",
		Feeds:  []graph.Value{states, nnet.NoState},
	}, nil)
	if err != nil {
		t.Fatalf("get_logits_parameters_log_probs: %v", err)
	}
	wantArgmax, err := ops.ArgmaxLast(res.First()[0])
	if err != nil {
		t.Fatalf("argmax: %v", err)
	}
	wantFloats, _ := ops.Floats(wantArgmax)
	gotFloats, _ := ops.Floats(action)
	if diff := cmp.Diff(wantFloats, gotFloats); diff != "" {
		t.Errorf("greedy action against logit argmax (-want +got):\n%s", diff)
	}

	if _, err := exec.Execute(graph.Invocation{
		Method: "get_stochastic_action",
		Feeds:  []graph.Value{states, nnet.NoState},
	}, nil); err != nil {
		t.Fatalf("get_stochastic_action: %v", err)
	}
	if got := probe.sto.Load(); got != 1 {
		t.Errorf("expected one stochastic draw, got %d", got)
	}
	if got := probe.det.Load(); got != 0 {
		t.Errorf("expected no deterministic draws, got %d", got)
	}
}

func TestDistributionKindBySpace(t *testing.T) {
	discrete, err := space.NewDiscrete(2)
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	p, err := New("policy", testNetwork(t, 2, 3, 1), discrete)
	if err != nil {
		t.Fatalf("new discrete policy: %v", err)
	}
	if got := p.Distribution().Kind(); got != "categorical" {
		t.Errorf("expected categorical for discrete, got %q", got)
	}

	continuous, err := space.NewContinuous(2)
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	p, err = New("policy", testNetwork(t, 2, 3, 1), continuous)
	if err != nil {
		t.Fatalf("new continuous policy: %v", err)
	}
	if got := p.Distribution().Kind(); got != "normal" {
		t.Errorf("expected normal for continuous, got %q", got)
	}
}

func TestVariantSurface(t *testing.T) {
	sp, err := space.NewDiscrete(2)
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	has := func(p *Policy, name string) bool {
		for _, n := range p.Component().APINames() {
			if n == name {
				return true
			}
		}
		return false
	}

	plain, err := New("policy", testNetwork(t, 2, 3, 1), sp)
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	if has(plain, "get_dueling_output") || has(plain, "get_state_values_and_logits") {
		t.Error("plain policy exposes variant-specific methods")
	}
	if plain.Writable() {
		t.Error("plain policy without writable must not expose sync")
	}

	dueling, err := New("policy", testNetwork(t, 2, 3, 1), sp, WithVariant(VariantDueling))
	if err != nil {
		t.Fatalf("dueling: %v", err)
	}
	if !has(dueling, "get_dueling_output") {
		t.Error("dueling policy misses get_dueling_output")
	}

	baseline, err := New("policy", testNetwork(t, 2, 3, 1), sp, WithVariant(VariantBaseline), WithWritable())
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	if !has(baseline, "get_state_values_and_logits") {
		t.Error("baseline policy misses get_state_values_and_logits")
	}
	if !has(baseline, "sync") || !baseline.Writable() {
		t.Error("writable policy misses sync")
	}
}

func TestDuelingQValues(t *testing.T) {
	sp, err := space.NewDiscrete(3)
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	p, err := New("policy", testNetwork(t, 2, 4, 9), sp, WithVariant(VariantDueling))
	if err != nil {
		t.Fatalf("new policy: %v", err)
	}
	exec := policyHarness(t, p)
	ops := exec.Ops()
	states := ops.FromFloats([]float64{0.5, -0.5, 1, 1}, 2, 2)

	qRes, err := exec.Execute(graph.Invocation{
		Method: "get_q_values",
		Feeds:  []graph.Value{states, nnet.NoState},
	}, nil)
	if err != nil {
		t.Fatalf("get_q_values: %v", err)
	}
	dRes, err := exec.Execute(graph.Invocation{
		Method: "get_dueling_output",
		Feeds:  []graph.Value{states, nnet.NoState},
	}, nil)
	if err != nil {
		t.Fatalf("get_dueling_output: %v", err)
	}
	q, _ := ops.Floats(qRes.First()[0])
	recombined, _ := ops.Floats(dRes.First()[2])
	if diff := cmp.Diff(recombined, q); diff != "" {
		t.Errorf("q values against dueling recombination (-want +got):\n%s", diff)
	}

	sv, _ := ops.Floats(dRes.First()[0])
	for r := 0; r < 2; r++ {
		var m float64
		for c := 0; c < 3; c++ {
			m += q[r*3+c] - sv[r]
		}
		if math.Abs(m/3) > 1e-9 {
			t.Errorf("row %d: expected mean(Q-V) 0, got %v", r, m/3)
		}
	}
}

func TestPolicySync(t *testing.T) {
	sp, err := space.NewDiscrete(2)
	if err != nil {
		t.Fatalf("space: %v", err)
	}
	online, err := New("policy", testNetwork(t, 3, 4, 11), sp, WithSeed(11))
	if err != nil {
		t.Fatalf("online: %v", err)
	}
	target, err := New("target_policy", testNetwork(t, 3, 4, 22), sp, WithSeed(22), WithWritable())
	if err != nil {
		t.Fatalf("target: %v", err)
	}

	onlineW, err := online.Variables().Get("qnet/layer_0/W")
	if err != nil {
		t.Fatalf("online weights: %v", err)
	}
	targetW, err := target.Variables().Get("qnet/layer_0/W")
	if err != nil {
		t.Fatalf("target weights: %v", err)
	}
	if onlineW.At(0, 0) == targetW.At(0, 0) {
		t.Fatal("seeds 11 and 22 produced identical weights")
	}

	exec := policyHarness(t, target)
	res, err := exec.Execute(graph.Invocation{
		Method: "sync",
		Feeds:  []graph.Value{online.Variables()},
	}, nil)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	count, err := exec.Ops().Scalar(res.First()[0])
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if int(count) != online.Variables().Len() {
		t.Errorf("expected %d synced matrices, got %v", online.Variables().Len(), count)
	}
	if got, want := targetW.At(0, 0), onlineW.At(0, 0); got != want {
		t.Errorf("expected synced weight %v, got %v", want, got)
	}
}
