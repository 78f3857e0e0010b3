package store

import (
	"path/filepath"
	"testing"
)

// openStores builds one store of each implementation so every test runs
// against both.
func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sqls, err := Open(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = sqls.Close() })
	return map[string]Store{
		"sqlite": sqls,
		"memory": NewMemStore(),
	}
}

func TestStore_RunLifecycle(t *testing.T) {
	for name, s := range openStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			r, err := s.CreateRun("cartpole", []byte("run: cartpole\n"))
			if err != nil {
				t.Fatalf("CreateRun: %v", err)
			}
			if r.ID == "" || r.CreatedAt == "" {
				t.Fatalf("expected populated run, got %+v", r)
			}
			if r.Steps != 0 || r.Syncs != 0 {
				t.Fatalf("expected zero counters on a fresh run, got %+v", r)
			}

			got, err := s.GetRun(r.ID)
			if err != nil || got == nil || got.Name != "cartpole" {
				t.Fatalf("GetRun: got %+v err %v", got, err)
			}
			byName, err := s.GetRunByName("cartpole")
			if err != nil || byName == nil || byName.ID != r.ID {
				t.Fatalf("GetRunByName: got %+v err %v", byName, err)
			}
			if byName.Definition != "run: cartpole\n" {
				t.Errorf("definition not preserved: %q", byName.Definition)
			}

			missing, err := s.GetRun("not-a-run")
			if err != nil || missing != nil {
				t.Fatalf("expected nil, nil for missing run, got %+v err %v", missing, err)
			}

			if _, err := s.CreateRun("cartpole", nil); err == nil {
				t.Error("expected error for duplicate run name")
			}
			if _, err := s.CreateRun("", nil); err == nil {
				t.Error("expected error for empty run name")
			}

			if _, err := s.CreateRun("gridworld", []byte("run: gridworld\n")); err != nil {
				t.Fatalf("CreateRun second: %v", err)
			}
			runs, err := s.ListRuns()
			if err != nil || len(runs) != 2 {
				t.Fatalf("ListRuns: got %d err %v", len(runs), err)
			}
		})
	}
}

func TestStore_ProgressRoundTrip(t *testing.T) {
	for name, s := range openStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			r, err := s.CreateRun("resume", nil)
			if err != nil {
				t.Fatalf("CreateRun: %v", err)
			}
			if err := s.SaveProgress(r.ID, 9, 3); err != nil {
				t.Fatalf("SaveProgress: %v", err)
			}
			got, err := s.GetRun(r.ID)
			if err != nil || got == nil {
				t.Fatalf("GetRun: got %+v err %v", got, err)
			}
			if got.Steps != 9 || got.Syncs != 3 {
				t.Errorf("expected counters 9/3, got %d/%d", got.Steps, got.Syncs)
			}
			if err := s.SaveProgress("missing", 1, 1); err == nil {
				t.Error("expected error for unknown run id")
			}
		})
	}
}

func TestStore_LossHistory(t *testing.T) {
	for name, s := range openStores(t) {
		s := s
		t.Run(name, func(t *testing.T) {
			r, err := s.CreateRun("history", nil)
			if err != nil {
				t.Fatalf("CreateRun: %v", err)
			}
			for step := 1; step <= 5; step++ {
				if err := s.AppendLoss(r.ID, int64(step), float64(10-step)); err != nil {
					t.Fatalf("AppendLoss: %v", err)
				}
			}

			all, err := s.LossHistory(r.ID, 0)
			if err != nil || len(all) != 5 {
				t.Fatalf("LossHistory all: got %d err %v", len(all), err)
			}
			if all[0].Step != 1 || all[4].Step != 5 {
				t.Errorf("expected ascending steps, got %+v", all)
			}

			last, err := s.LossHistory(r.ID, 2)
			if err != nil || len(last) != 2 {
				t.Fatalf("LossHistory limit: got %d err %v", len(last), err)
			}
			if last[0].Step != 4 || last[1].Step != 5 {
				t.Errorf("expected the two most recent points in order, got %+v", last)
			}
			if last[1].Loss != 5 {
				t.Errorf("expected loss 5 at step 5, got %v", last[1].Loss)
			}
		})
	}
}
