package graph

import (
	"errors"
	"strings"
	"testing"
)

func passthroughAPI(c *Component, fn string) APIFunc {
	return func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
		return tr.CallFn(c, fn, in...)
	}
}

// newMathComponent declares a leaf component with a doubling function, a
// two-result function and a mutating accumulator.
func newMathComponent(t *testing.T, total *float64) *Component {
	t.Helper()
	m := NewComponent("math")
	if err := m.DefineGraphFn("double", 1, 1, func(ops Ops, in ...Value) ([]Value, error) {
		out, err := ops.Scale(in[0], 2)
		if err != nil {
			return nil, err
		}
		return []Value{out}, nil
	}); err != nil {
		t.Fatalf("define double: %v", err)
	}
	if err := m.DefineGraphFn("offsets", 1, 2, func(ops Ops, in ...Value) ([]Value, error) {
		lo, err := ops.Shift(in[0], 1)
		if err != nil {
			return nil, err
		}
		hi, err := ops.Shift(in[0], 2)
		if err != nil {
			return nil, err
		}
		return []Value{lo, hi}, nil
	}); err != nil {
		t.Fatalf("define offsets: %v", err)
	}
	if err := m.DefineGraphFn("absorb", 1, 1, func(ops Ops, in ...Value) ([]Value, error) {
		s, err := ops.Scalar(in[0])
		if err != nil {
			return nil, err
		}
		*total += s
		return []Value{ops.FromFloats([]float64{*total}, 1)}, nil
	}, Mutating()); err != nil {
		t.Fatalf("define absorb: %v", err)
	}
	if err := m.DefineAPIMethod("double", 1, 1, passthroughAPI(m, "double")); err != nil {
		t.Fatalf("define api double: %v", err)
	}
	if err := m.DefineAPIMethod("offsets", 1, 2, passthroughAPI(m, "offsets")); err != nil {
		t.Fatalf("define api offsets: %v", err)
	}
	if err := m.DefineAPIMethod("absorb", 1, 1, passthroughAPI(m, "absorb")); err != nil {
		t.Fatalf("define api absorb: %v", err)
	}
	return m
}

func TestAddComponents(t *testing.T) {
	t.Run("duplicate scope", func(t *testing.T) {
		root := NewComponent("root")
		if err := root.AddComponents(NewComponent("a"), NewComponent("a")); !errors.Is(err, ErrDuplicateScope) {
			t.Fatalf("expected ErrDuplicateScope, got %v", err)
		}
	})
	t.Run("second parent", func(t *testing.T) {
		child := NewComponent("child")
		first := NewComponent("first")
		if err := first.AddComponents(child); err != nil {
			t.Fatalf("first add: %v", err)
		}
		second := NewComponent("second")
		err := second.AddComponents(child)
		if !errors.Is(err, ErrStructural) {
			t.Fatalf("expected structural error, got %v", err)
		}
	})
	t.Run("path", func(t *testing.T) {
		root := NewComponent("root")
		child := NewComponent("child")
		if err := root.AddComponents(child); err != nil {
			t.Fatalf("add: %v", err)
		}
		if got := child.Path(); got != "root/child" {
			t.Errorf("expected path root/child, got %s", got)
		}
	})
}

func TestDefineAPIMethod(t *testing.T) {
	t.Run("arity change fails", func(t *testing.T) {
		c := NewComponent("c")
		body := func(tr *Trace, in ...*OpRec) ([]*OpRec, error) { return in, nil }
		if err := c.DefineAPIMethod("echo", 1, 1, body); err != nil {
			t.Fatalf("first define: %v", err)
		}
		if err := c.DefineAPIMethod("echo", 2, 1, body); !errors.Is(err, ErrSignature) {
			t.Fatalf("expected ErrSignature, got %v", err)
		}
	})
	t.Run("after composition fails", func(t *testing.T) {
		parent := NewComponent("parent")
		child := NewComponent("child")
		if err := parent.AddComponents(child); err != nil {
			t.Fatalf("add: %v", err)
		}
		err := child.DefineAPIMethod("late", 1, 1, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
			return in, nil
		})
		if !errors.Is(err, ErrStructural) {
			t.Fatalf("expected structural error, got %v", err)
		}
	})
}

func buildCalc(t *testing.T, backend Backend, total *float64) (*Executor, *Component) {
	t.Helper()
	root := NewComponent("calc")
	math := newMathComponent(t, total)
	if err := root.AddComponents(math); err != nil {
		t.Fatalf("add math: %v", err)
	}
	// quad doubles twice through the child's api; both traces share the
	// first double call.
	if err := root.DefineAPIMethod("quad", 1, 1, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
		once, err := tr.CallAPI(math, "double", in[0])
		if err != nil {
			return nil, err
		}
		return tr.CallAPI(math, "double", once[0])
	}); err != nil {
		t.Fatalf("define quad: %v", err)
	}
	if err := root.DefineAPIMethod("spread", 1, 2, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
		return tr.CallAPI(math, "offsets", in[0])
	}); err != nil {
		t.Fatalf("define spread: %v", err)
	}
	if err := root.DefineAPIMethod("absorb", 1, 1, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
		return tr.CallAPI(math, "absorb", in[0])
	}); err != nil {
		t.Fatalf("define absorb: %v", err)
	}
	exec := NewExecutor(backend)
	if err := exec.Build(root); err != nil {
		t.Fatalf("build: %v", err)
	}
	return exec, root
}

func TestBuildDeterminism(t *testing.T) {
	backend, err := NewBackend(GraphBackend)
	if err != nil {
		t.Fatalf("backend: %v", err)
	}
	var a, b float64
	first, _ := buildCalc(t, backend, &a)
	second, _ := buildCalc(t, backend, &b)
	if first.Describe() != second.Describe() {
		t.Errorf("two builds differ:\n--- first\n%s--- second\n%s", first.Describe(), second.Describe())
	}
}

func TestBuildFreezes(t *testing.T) {
	backend, _ := NewBackend(GraphBackend)
	var total float64
	exec, root := buildCalc(t, backend, &total)

	if err := exec.Build(root); !errors.Is(err, ErrBuilt) {
		t.Errorf("rebuild: expected ErrBuilt, got %v", err)
	}
	if err := NewExecutor(backend).Build(root); !errors.Is(err, ErrBuilt) {
		t.Errorf("second executor on built tree: expected ErrBuilt, got %v", err)
	}
	if err := root.AddComponents(NewComponent("late")); !errors.Is(err, ErrBuilt) {
		t.Errorf("add after build: expected ErrBuilt, got %v", err)
	}
}

func TestTraceRejects(t *testing.T) {
	backend, _ := NewBackend(GraphBackend)

	build := func(body APIFunc) error {
		root := NewComponent("root")
		var total float64
		math := newMathComponent(t, &total)
		if err := root.AddComponents(math); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := root.DefineAPIMethod("bad", 1, 1, body); err != nil {
			t.Fatalf("define: %v", err)
		}
		return NewExecutor(backend).Build(root)
	}

	t.Run("unknown api", func(t *testing.T) {
		err := build(func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
			root := tr.current().comp
			return tr.CallAPI(root.Children()[0], "missing", in[0])
		})
		if !errors.Is(err, ErrUnknownAPI) {
			t.Fatalf("expected ErrUnknownAPI, got %v", err)
		}
	})
	t.Run("wrong arity", func(t *testing.T) {
		err := build(func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
			root := tr.current().comp
			return tr.CallAPI(root.Children()[0], "double", in[0], in[0])
		})
		if !errors.Is(err, ErrSignature) {
			t.Fatalf("expected ErrSignature, got %v", err)
		}
	})
	t.Run("foreign graph fn", func(t *testing.T) {
		err := build(func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
			root := tr.current().comp
			return tr.CallFn(root.Children()[0], "double", in[0])
		})
		if !errors.Is(err, ErrStructural) {
			t.Fatalf("expected structural error, got %v", err)
		}
	})
	t.Run("grandchild target", func(t *testing.T) {
		grandchild := NewComponent("deep")
		if err := grandchild.DefineAPIMethod("noop", 1, 1, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
			return in, nil
		}); err != nil {
			t.Fatalf("define noop: %v", err)
		}
		mid := NewComponent("mid")
		if err := mid.AddComponents(grandchild); err != nil {
			t.Fatalf("add deep: %v", err)
		}
		root := NewComponent("root")
		if err := root.AddComponents(mid); err != nil {
			t.Fatalf("add mid: %v", err)
		}
		if err := root.DefineAPIMethod("reach", 1, 1, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
			return tr.CallAPI(grandchild, "noop", in[0])
		}); err != nil {
			t.Fatalf("define reach: %v", err)
		}
		err := NewExecutor(backend).Build(root)
		if !errors.Is(err, ErrStructural) {
			t.Fatalf("expected structural error, got %v", err)
		}
	})
}

func TestForeignRecord(t *testing.T) {
	backend, _ := NewBackend(GraphBackend)

	// Leak a placeholder out of the first build, then feed it into a
	// second, unrelated build.
	var leaked *OpRec
	first := NewComponent("first")
	if err := first.DefineAPIMethod("leak", 1, 1, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
		leaked = in[0]
		return in, nil
	}); err != nil {
		t.Fatalf("define leak: %v", err)
	}
	if err := NewExecutor(backend).Build(first); err != nil {
		t.Fatalf("first build: %v", err)
	}
	if leaked == nil {
		t.Fatal("expected a leaked placeholder")
	}

	second := NewComponent("second")
	var total float64
	math := newMathComponent(t, &total)
	if err := second.AddComponents(math); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := second.DefineAPIMethod("use", 1, 1, func(tr *Trace, in ...*OpRec) ([]*OpRec, error) {
		return tr.CallAPI(math, "double", leaked)
	}); err != nil {
		t.Fatalf("define use: %v", err)
	}
	err := NewExecutor(backend).Build(second)
	if !errors.Is(err, ErrForeignRecord) {
		t.Fatalf("expected ErrForeignRecord, got %v", err)
	}
}

func TestDescribeMarksMutating(t *testing.T) {
	backend, _ := NewBackend(GraphBackend)
	var total float64
	exec, _ := buildCalc(t, backend, &total)
	desc := exec.Describe()
	if !strings.Contains(desc, "method absorb in=1 out=1 mutating") {
		t.Errorf("expected absorb marked mutating in:\n%s", desc)
	}
	if strings.Contains(desc, "method quad in=1 out=1 mutating") {
		t.Errorf("quad must not be mutating in:\n%s", desc)
	}
}
