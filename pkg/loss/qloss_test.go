package loss

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"plexus/pkg/graph"
)

func lossHarness(t *testing.T, discount float64) *graph.Executor {
	t.Helper()
	l, err := NewDoubleQ("loss", discount)
	if err != nil {
		t.Fatalf("new loss: %v", err)
	}
	root := graph.NewComponent("harness")
	if err := root.AddComponents(l.Component()); err != nil {
		t.Fatalf("add loss: %v", err)
	}
	for _, name := range []string{"loss", "get_td_error"} {
		if err := root.ExposeAPI(name, l.Component()); err != nil {
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

func TestDoubleQTDError(t *testing.T) {
	exec := lossHarness(t, 0.9)
	ops := exec.Ops()

	// Two transitions over a three-action space. The second is terminal,
	// so its backup collapses to the reward.
	qs := ops.FromFloats([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	actions := ops.FromFloats([]float64{0, 2}, 2)
	rewards := ops.FromFloats([]float64{1, -1}, 2)
	terminals := ops.FromFloats([]float64{0, 1}, 2)
	qspOnline := ops.FromFloats([]float64{0, 9, 0, 7, 0, 0}, 2, 3)
	qspTarget := ops.FromFloats([]float64{10, 20, 30, 40, 50, 60}, 2, 3)

	res, err := exec.Execute(graph.Invocation{
		Method: "get_td_error",
		Feeds:  []graph.Value{qs, actions, rewards, terminals, qspOnline, qspTarget},
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	got, err := ops.Floats(res.First()[0])
	if err != nil {
		t.Fatalf("floats: %v", err)
	}
	// Row 0: online argmax 1, target 20; delta = 1 - (1 + 0.9*20) = -18.
	// Row 1: terminal; delta = 6 - (-1) = 7.
	if diff := cmp.Diff([]float64{-18, 7}, got); diff != "" {
		t.Errorf("td error mismatch (-want +got):\n%s", diff)
	}
}

func TestDoubleQLossPair(t *testing.T) {
	exec := lossHarness(t, 0.5)
	ops := exec.Ops()

	qs := ops.FromFloats([]float64{2, 0, 0, 3}, 2, 2)
	actions := ops.FromFloats([]float64{0, 1}, 2)
	rewards := ops.FromFloats([]float64{0, 0}, 2)
	terminals := ops.FromFloats([]float64{1, 1}, 2)
	qsp := ops.FromFloats([]float64{0, 0, 0, 0}, 2, 2)

	res, err := exec.Execute(graph.Invocation{
		Method: "loss",
		Feeds:  []graph.Value{qs, actions, rewards, terminals, qsp, qsp},
	}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	out := res.First()
	total, err := ops.Scalar(out[0])
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	per, err := ops.Floats(out[1])
	if err != nil {
		t.Fatalf("per item: %v", err)
	}
	// Terminal rows with zero reward: deltas are the chosen q-values.
	if diff := cmp.Diff([]float64{2, 4.5}, per); diff != "" {
		t.Errorf("per-item loss mismatch (-want +got):\n%s", diff)
	}
	if math.Abs(total-3.25) > 1e-12 {
		t.Errorf("expected mean loss 3.25, got %v", total)
	}
}

func TestDoubleQRejectsDiscount(t *testing.T) {
	if _, err := NewDoubleQ("loss", 1.5); err == nil {
		t.Error("expected error for discount above 1")
	}
	if _, err := NewDoubleQ("loss", -0.1); err == nil {
		t.Error("expected error for negative discount")
	}
}
