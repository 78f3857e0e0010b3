package graph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// newProbeComponent counts executions of its leaf functions.
type probeCounts struct {
	cheap, costly, bump int64
}

func newProbeRoot(t *testing.T, counts *probeCounts, total *float64) *Component {
	t.Helper()
	root := NewComponent("probe")
	if err := root.DefineGraphFn("cheap", 1, 1, func(ops Ops, in ...Value) ([]Value, error) {
		atomic.AddInt64(&counts.cheap, 1)
		out, err := ops.Shift(in[0], 1)
		if err != nil {
			return nil, err
		}
		return []Value{out}, nil
	}); err != nil {
		t.Fatalf("define cheap: %v", err)
	}
	if err := root.DefineGraphFn("costly", 1, 1, func(ops Ops, in ...Value) ([]Value, error) {
		atomic.AddInt64(&counts.costly, 1)
		out, err := ops.Scale(in[0], 10)
		if err != nil {
			return nil, err
		}
		return []Value{out}, nil
	}); err != nil {
		t.Fatalf("define costly: %v", err)
	}
	if err := root.DefineGraphFn("bump", 1, 1, func(ops Ops, in ...Value) ([]Value, error) {
		atomic.AddInt64(&counts.bump, 1)
		s, err := ops.Scalar(in[0])
		if err != nil {
			return nil, err
		}
		*total += s
		return []Value{ops.FromFloats([]float64{*total}, 1)}, nil
	}, Mutating()); err != nil {
		t.Fatalf("define bump: %v", err)
	}

	// both: two independent results so callers can request a subset.
	if err := root.DefineAPIMethod("both", 1, 2, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
		a, err := tr.CallFn(root, "cheap", in[0])
		if err != nil {
			return nil, err
		}
		b, err := tr.CallFn(root, "costly", in[0])
		if err != nil {
			return nil, err
		}
		return []*OpRec{a[0], b[0]}, nil
	}); err != nil {
		t.Fatalf("define both: %v", err)
	}
	// shared: the same call traced twice resolves to one node.
	if err := root.DefineAPIMethod("shared", 1, 2, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
		a, err := tr.CallFn(root, "cheap", in[0])
		if err != nil {
			return nil, err
		}
		b, err := tr.CallFn(root, "cheap", in[0])
		if err != nil {
			return nil, err
		}
		return []*OpRec{a[0], b[0]}, nil
	}); err != nil {
		t.Fatalf("define shared: %v", err)
	}
	if err := root.DefineAPIMethod("bump", 1, 1, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
		return tr.CallFn(root, "bump", in[0])
	}); err != nil {
		t.Fatalf("define bump: %v", err)
	}
	return root
}

func scalarFeed(v float64) Value {
	return tensorOps{}.FromFloats([]float64{v}, 1)
}

func firstScalar(t *testing.T, res *Results) float64 {
	t.Helper()
	s, err := (tensorOps{}).Scalar(res.First()[0])
	if err != nil {
		t.Fatalf("scalar: %v", err)
	}
	return s
}

func TestExecuteErrors(t *testing.T) {
	backend, _ := NewBackend(GraphBackend)
	var counts probeCounts
	var total float64
	root := newProbeRoot(t, &counts, &total)
	exec := NewExecutor(backend)

	if _, err := exec.Execute(Invocation{Method: "both"}, nil); !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("before build: expected ErrNotBuilt, got %v", err)
	}
	if err := exec.Build(root); err != nil {
		t.Fatalf("build: %v", err)
	}

	t.Run("unknown method", func(t *testing.T) {
		_, err := exec.Execute(Invocation{Method: "missing"}, nil)
		if !errors.Is(err, ErrUnknownAPI) {
			t.Errorf("expected ErrUnknownAPI, got %v", err)
		}
	})
	t.Run("feed count", func(t *testing.T) {
		_, err := exec.Execute(Invocation{Method: "both"}, nil)
		if !errors.Is(err, ErrSignature) {
			t.Errorf("expected ErrSignature, got %v", err)
		}
	})
	t.Run("return index range", func(t *testing.T) {
		_, err := exec.Execute(Invocation{
			Method:  "both",
			Feeds:   []Value{scalarFeed(1)},
			Returns: []int{2},
		}, nil)
		if !errors.Is(err, ErrSignature) {
			t.Errorf("expected ErrSignature, got %v", err)
		}
	})
	t.Run("leaf failure wraps execution", func(t *testing.T) {
		_, err := exec.Execute(Invocation{Method: "both", Feeds: []Value{"not a tensor"}}, nil)
		if !errors.Is(err, ErrExecution) {
			t.Errorf("expected ErrExecution, got %v", err)
		}
	})
}

func TestReturnPruning(t *testing.T) {
	for _, name := range []string{GraphBackend, EagerBackend} {
		t.Run(name, func(t *testing.T) {
			backend, err := NewBackend(name)
			if err != nil {
				t.Fatalf("backend: %v", err)
			}
			var counts probeCounts
			var total float64
			exec := NewExecutor(backend)
			if err := exec.Build(newProbeRoot(t, &counts, &total)); err != nil {
				t.Fatalf("build: %v", err)
			}

			res, err := exec.Execute(Invocation{
				Method:  "both",
				Feeds:   []Value{scalarFeed(3)},
				Returns: []int{0},
			}, nil)
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if got := firstScalar(t, res); got != 4 {
				t.Errorf("expected 4, got %v", got)
			}
			if counts.cheap != 1 {
				t.Errorf("expected cheap executed once, got %d", counts.cheap)
			}
			if counts.costly != 0 {
				t.Errorf("expected costly skipped, executed %d times", counts.costly)
			}
		})
	}
}

func TestSharedSubtreeExecutesOnce(t *testing.T) {
	backend, _ := NewBackend(GraphBackend)
	var counts probeCounts
	var total float64
	exec := NewExecutor(backend)
	if err := exec.Build(newProbeRoot(t, &counts, &total)); err != nil {
		t.Fatalf("build: %v", err)
	}
	res, err := exec.Execute(Invocation{Method: "shared", Feeds: []Value{scalarFeed(5)}}, nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if counts.cheap != 1 {
		t.Errorf("expected one execution of the shared call, got %d", counts.cheap)
	}
	a, _ := (tensorOps{}).Scalar(res.First()[0])
	b, _ := (tensorOps{}).Scalar(res.First()[1])
	if a != 6 || b != 6 {
		t.Errorf("expected both results 6, got %v and %v", a, b)
	}
}

func TestCompanionRound(t *testing.T) {
	backend, _ := NewBackend(GraphBackend)
	var counts probeCounts
	var total float64
	collector := &Collector{}
	exec := NewExecutor(backend, WithObserver(collector))
	if err := exec.Build(newProbeRoot(t, &counts, &total)); err != nil {
		t.Fatalf("build: %v", err)
	}

	res, err := exec.Execute(
		Invocation{Method: "both", Feeds: []Value{scalarFeed(2)}, Returns: []int{0}},
		&Invocation{Method: "bump", Feeds: []Value{scalarFeed(1)}, Returns: []int{0}},
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := firstScalar(t, res); got != 3 {
		t.Errorf("expected primary result 3, got %v", got)
	}
	if res.Of("bump") == nil {
		t.Error("expected companion results keyed by method name")
	}
	if total != 1 {
		t.Errorf("expected companion to run, total=%v", total)
	}

	rounds := collector.Rounds()
	if len(rounds) != 1 {
		t.Fatalf("expected 1 round event, got %d", len(rounds))
	}
	want := []string{"both", "bump"}
	if diff := cmp.Diff(want, rounds[0].Methods); diff != "" {
		t.Errorf("round methods mismatch (-want +got):\n%s", diff)
	}
	if !rounds[0].Mutating {
		t.Error("expected round with companion bump to be mutating")
	}
}

func TestBackendsAgree(t *testing.T) {
	run := func(name string) []float64 {
		backend, err := NewBackend(name)
		if err != nil {
			t.Fatalf("backend %s: %v", name, err)
		}
		var counts probeCounts
		var total float64
		exec := NewExecutor(backend)
		if err := exec.Build(newProbeRoot(t, &counts, &total)); err != nil {
			t.Fatalf("build %s: %v", name, err)
		}
		res, err := exec.Execute(Invocation{Method: "both", Feeds: []Value{scalarFeed(7)}}, nil)
		if err != nil {
			t.Fatalf("execute %s: %v", name, err)
		}
		out := make([]float64, len(res.First()))
		for i, v := range res.First() {
			s, err := (tensorOps{}).Scalar(v)
			if err != nil {
				t.Fatalf("scalar %s: %v", name, err)
			}
			out[i] = s
		}
		return out
	}
	if diff := cmp.Diff(run(GraphBackend), run(EagerBackend)); diff != "" {
		t.Errorf("backends disagree (-graph +eager):\n%s", diff)
	}
}

func TestMutatingRoundsSerialize(t *testing.T) {
	backend, _ := NewBackend(GraphBackend)
	var counts probeCounts
	var total float64
	exec := NewExecutor(backend)
	if err := exec.Build(newProbeRoot(t, &counts, &total)); err != nil {
		t.Fatalf("build: %v", err)
	}

	const workers = 8
	const rounds = 25
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				if _, err := exec.Execute(Invocation{Method: "bump", Feeds: []Value{scalarFeed(1)}}, nil); err != nil {
					errs <- fmt.Errorf("bump: %w", err)
					return
				}
				if _, err := exec.Execute(Invocation{Method: "both", Feeds: []Value{scalarFeed(1)}}, nil); err != nil {
					errs <- fmt.Errorf("both: %w", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent execute: %v", err)
	}
	if want := float64(workers * rounds); total != want {
		t.Errorf("expected total %v after exclusive bumps, got %v", want, total)
	}
}
