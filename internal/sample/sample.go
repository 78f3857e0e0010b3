// Package sample carries transition batches between environment actors and
// the learner: a fixed mapping of named arrays sharing one leading axis,
// plus optional bookkeeping metrics. State columns may travel
// snappy-packed and are decompressed on first dense access.
package sample

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"

	"plexus/pkg/graph"
)

// Canonical column names of a transition batch.
const (
	KeyStates     = "states"
	KeyActions    = "actions"
	KeyRewards    = "rewards"
	KeyTerminals  = "terminals"
	KeyNextStates = "next_states"
)

// RequiredKeys lists the five columns every update batch must carry, in
// canonical order.
func RequiredKeys() []string {
	return []string{KeyStates, KeyActions, KeyRewards, KeyTerminals, KeyNextStates}
}

// Batch is one actor's contribution. Column order is insertion order; the
// first column fixes the batch length. Not safe for concurrent use.
type Batch struct {
	keys    []string
	cols    map[string]*tensor.Dense
	packed  map[string][][]byte
	metrics map[string]float64
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{
		cols:    make(map[string]*tensor.Dense),
		packed:  make(map[string][][]byte),
		metrics: make(map[string]float64),
	}
}

func (b *Batch) register(key string, length int) error {
	if key == "" {
		return fmt.Errorf("sample: empty column name")
	}
	if b.Has(key) {
		return fmt.Errorf("sample: duplicate column %q", key)
	}
	if n := b.Len(); len(b.keys) > 0 && length != n {
		return fmt.Errorf("sample: column %q has %d rows, batch has %d", key, length, n)
	}
	b.keys = append(b.keys, key)
	return nil
}

// Set adds a dense column.
func (b *Batch) Set(key string, col *tensor.Dense) error {
	if col == nil {
		return fmt.Errorf("sample: nil column %q", key)
	}
	shape := col.Shape()
	if len(shape) == 0 {
		return fmt.Errorf("sample: scalar column %q", key)
	}
	if err := b.register(key, shape[0]); err != nil {
		return err
	}
	b.cols[key] = col
	return nil
}

// SetPacked adds a column as snappy rows, decoded lazily on Get.
func (b *Batch) SetPacked(key string, rows [][]byte) error {
	if len(rows) == 0 {
		return fmt.Errorf("sample: empty packed column %q", key)
	}
	if err := b.register(key, len(rows)); err != nil {
		return err
	}
	b.packed[key] = rows
	return nil
}

// Keys returns the column names in insertion order.
func (b *Batch) Keys() []string {
	return append([]string(nil), b.keys...)
}

// Has reports whether the batch carries the column.
func (b *Batch) Has(key string) bool {
	_, dense := b.cols[key]
	_, packed := b.packed[key]
	return dense || packed
}

// Packed reports whether the column is still in compressed form.
func (b *Batch) Packed(key string) bool {
	_, ok := b.packed[key]
	return ok
}

// Len returns the leading-axis length, 0 for an empty batch.
func (b *Batch) Len() int {
	if len(b.keys) == 0 {
		return 0
	}
	key := b.keys[0]
	if col, ok := b.cols[key]; ok {
		return col.Shape()[0]
	}
	return len(b.packed[key])
}

// Get returns a column in dense form, decompressing a packed one in place.
func (b *Batch) Get(key string) (*tensor.Dense, error) {
	if col, ok := b.cols[key]; ok {
		return col, nil
	}
	rows, ok := b.packed[key]
	if !ok {
		return nil, fmt.Errorf("%w: batch missing %q", graph.ErrPrecondition, key)
	}
	col, err := decodeColumn(key, rows)
	if err != nil {
		return nil, err
	}
	b.cols[key] = col
	delete(b.packed, key)
	return col, nil
}

// Require fails on the first named column the batch does not carry.
func (b *Batch) Require(keys ...string) error {
	for _, key := range keys {
		if !b.Has(key) {
			return fmt.Errorf("%w: batch missing %q", graph.ErrPrecondition, key)
		}
	}
	return nil
}

// SetMetric records a bookkeeping value (frame counts, environment time).
func (b *Batch) SetMetric(name string, v float64) {
	b.metrics[name] = v
}

// Metrics returns a copy of the batch metrics.
func (b *Batch) Metrics() map[string]float64 {
	out := make(map[string]float64, len(b.metrics))
	for name, v := range b.metrics {
		out[name] = v
	}
	return out
}

// Merge concatenates batches along the leading axis, preserving the first
// batch's column order. Packed columns are decompressed first, in parallel
// across batches. Same-named metrics are summed.
func Merge(batches []*Batch) (*Batch, error) {
	if len(batches) == 0 {
		return nil, fmt.Errorf("sample: merge of zero batches")
	}
	keys := batches[0].Keys()
	if len(keys) == 0 {
		return nil, fmt.Errorf("sample: merge of empty batches")
	}
	for i, b := range batches[1:] {
		for _, key := range keys {
			if !b.Has(key) {
				return nil, fmt.Errorf("%w: merge input %d missing %q", graph.ErrPrecondition, i+1, key)
			}
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(runtime.NumCPU())
	for _, b := range batches {
		b := b
		g.Go(func() error {
			for _, key := range keys {
				if _, err := b.Get(key); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := NewBatch()
	for _, key := range keys {
		cols := make([]*tensor.Dense, len(batches))
		for i, b := range batches {
			col, err := b.Get(key)
			if err != nil {
				return nil, err
			}
			cols[i] = col
		}
		merged := cols[0].Clone().(*tensor.Dense)
		if len(cols) > 1 {
			var err error
			merged, err = cols[0].Concat(0, cols[1:]...)
			if err != nil {
				return nil, fmt.Errorf("sample: concat %q: %v", key, err)
			}
		}
		if err := out.Set(key, merged); err != nil {
			return nil, err
		}
	}
	for _, b := range batches {
		for name, v := range b.metrics {
			out.metrics[name] += v
		}
	}
	return out, nil
}
