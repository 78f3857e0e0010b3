package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests and throwaway runs. Implements Store.
type MemStore struct {
	mu     sync.Mutex
	runs   map[string]*Run
	byName map[string]string
	losses map[string][]LossPoint
}

// NewMemStore returns a new in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		runs:   make(map[string]*Run),
		byName: make(map[string]string),
		losses: make(map[string][]LossPoint),
	}
}

// CreateRun implements Store.
func (s *MemStore) CreateRun(name string, definition []byte) (*Run, error) {
	if name == "" {
		return nil, errors.New("run name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[name]; ok {
		return nil, fmt.Errorf("run name %q already exists", name)
	}
	now := nowUTC()
	r := &Run{
		ID:         uuid.NewString(),
		Name:       name,
		Definition: string(definition),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.runs[r.ID] = r
	s.byName[name] = r.ID
	return cloneRun(r), nil
}

// GetRun implements Store.
func (s *MemStore) GetRun(id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return cloneRun(r), nil
}

// GetRunByName implements Store.
func (s *MemStore) GetRunByName(name string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[name]
	if !ok {
		return nil, nil
	}
	return cloneRun(s.runs[id]), nil
}

// ListRuns implements Store.
func (s *MemStore) ListRuns() ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, cloneRun(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// SaveProgress implements Store.
func (s *MemStore) SaveProgress(id string, steps, syncs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("run %s not found", id)
	}
	r.Steps = steps
	r.Syncs = syncs
	r.UpdatedAt = nowUTC()
	return nil
}

// AppendLoss implements Store.
func (s *MemStore) AppendLoss(runID string, step int64, loss float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.losses[runID] = append(s.losses[runID], LossPoint{Step: step, Loss: loss})
	return nil
}

// LossHistory implements Store.
func (s *MemStore) LossHistory(runID string, limit int) ([]LossPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pts := s.losses[runID]
	sorted := append([]LossPoint(nil), pts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Step < sorted[j].Step })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[len(sorted)-limit:]
	}
	return sorted, nil
}

// Close implements Store.
func (s *MemStore) Close() error { return nil }

func cloneRun(r *Run) *Run {
	cp := *r
	return &cp
}
