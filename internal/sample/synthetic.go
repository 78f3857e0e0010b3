package sample

import (
	"fmt"
	"math/rand"

	"gorgonia.org/tensor"
)

// Source produces synthetic transition batches for exercising the training
// loop without a live environment. Equal seeds give equal batches.
type Source struct {
	stateDim int
	actions  int
	rng      *rand.Rand
	packed   bool
}

// SourceOption configures a synthetic source.
type SourceOption func(*Source)

// WithPackedStates stores state columns snappy-packed, the way remote
// actors ship them.
func WithPackedStates() SourceOption {
	return func(s *Source) { s.packed = true }
}

// NewSource returns a seeded source over the given state width and
// discrete action count.
func NewSource(stateDim, actions int, seed int64, opts ...SourceOption) (*Source, error) {
	if stateDim < 1 || actions < 2 {
		return nil, fmt.Errorf("sample: source needs stateDim >= 1 and actions >= 2, got %d and %d", stateDim, actions)
	}
	s := &Source{stateDim: stateDim, actions: actions, rng: rand.New(rand.NewSource(seed))}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// StateDim returns the state vector width.
func (s *Source) StateDim() int { return s.stateDim }

// Actions returns the discrete action count.
func (s *Source) Actions() int { return s.actions }

func (s *Source) stateRows(n int) [][]float64 {
	rows := make([][]float64, n)
	for i := range rows {
		row := make([]float64, s.stateDim)
		for j := range row {
			row[j] = s.rng.Float64()*2 - 1
		}
		rows[i] = row
	}
	return rows
}

func (s *Source) setStates(b *Batch, key string, rows [][]float64) error {
	if s.packed {
		packed := make([][]byte, len(rows))
		for i, row := range rows {
			packed[i] = EncodeRow(row)
		}
		return b.SetPacked(key, packed)
	}
	data := make([]float64, 0, len(rows)*s.stateDim)
	for _, row := range rows {
		data = append(data, row...)
	}
	return b.Set(key, tensor.New(tensor.WithShape(len(rows), s.stateDim), tensor.WithBacking(data)))
}

// Batch draws size random transitions with the five canonical columns.
func (s *Source) Batch(size int) (*Batch, error) {
	if size < 1 {
		return nil, fmt.Errorf("sample: batch size %d", size)
	}
	b := NewBatch()
	if err := s.setStates(b, KeyStates, s.stateRows(size)); err != nil {
		return nil, err
	}

	actions := make([]float64, size)
	rewards := make([]float64, size)
	terminals := make([]float64, size)
	for i := 0; i < size; i++ {
		actions[i] = float64(s.rng.Intn(s.actions))
		rewards[i] = s.rng.NormFloat64()
		if s.rng.Float64() < 0.05 {
			terminals[i] = 1
		}
	}
	if err := b.Set(KeyActions, tensor.New(tensor.WithShape(size), tensor.WithBacking(actions))); err != nil {
		return nil, err
	}
	if err := b.Set(KeyRewards, tensor.New(tensor.WithShape(size), tensor.WithBacking(rewards))); err != nil {
		return nil, err
	}
	if err := b.Set(KeyTerminals, tensor.New(tensor.WithShape(size), tensor.WithBacking(terminals))); err != nil {
		return nil, err
	}
	if err := s.setStates(b, KeyNextStates, s.stateRows(size)); err != nil {
		return nil, err
	}
	b.SetMetric("env_frames", float64(size))
	return b, nil
}
