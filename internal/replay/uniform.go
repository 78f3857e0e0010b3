// Package replay buffers transitions for off-policy updates: a
// fixed-capacity ring sampled uniformly with replacement.
package replay

import (
	"fmt"
	"math/rand"
	"sync"

	"gorgonia.org/tensor"

	"plexus/internal/sample"
	"plexus/pkg/graph"
)

type column struct {
	width  int
	scalar bool
	rows   [][]float64
}

// Uniform is the replay memory. The first insert pins the column set and
// widths; later inserts must match. Inserts overwrite the oldest rows once
// the ring is full. Safe for concurrent use.
type Uniform struct {
	mu       sync.Mutex
	capacity int
	size     int
	next     int
	rng      *rand.Rand
	keys     []string
	cols     map[string]*column
}

// NewUniform returns an empty memory of the given capacity.
func NewUniform(capacity int, seed int64) (*Uniform, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("replay: capacity %d", capacity)
	}
	return &Uniform{
		capacity: capacity,
		rng:      rand.New(rand.NewSource(seed)),
		cols:     make(map[string]*column),
	}, nil
}

// Len returns the number of stored transitions.
func (u *Uniform) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.size
}

// Cap returns the ring capacity.
func (u *Uniform) Cap() int { return u.capacity }

func (u *Uniform) pinLayout(b *sample.Batch) error {
	for _, key := range b.Keys() {
		col, err := b.Get(key)
		if err != nil {
			return err
		}
		shape := col.Shape()
		c := &column{rows: make([][]float64, u.capacity)}
		switch len(shape) {
		case 1:
			c.width, c.scalar = 1, true
		case 2:
			c.width = shape[1]
		default:
			return fmt.Errorf("replay: column %q has rank %d, want 1 or 2", key, len(shape))
		}
		u.keys = append(u.keys, key)
		u.cols[key] = c
	}
	return nil
}

// InsertBatch appends every transition of the batch.
func (u *Uniform) InsertBatch(b *sample.Batch) error {
	if b == nil || b.Len() == 0 {
		return fmt.Errorf("replay: insert of empty batch")
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.keys == nil {
		if err := u.pinLayout(b); err != nil {
			return err
		}
	}
	n := b.Len()
	split := make(map[string][][]float64, len(u.keys))
	for _, key := range u.keys {
		col, err := b.Get(key)
		if err != nil {
			return err
		}
		c := u.cols[key]
		data, ok := col.Data().([]float64)
		if !ok {
			return fmt.Errorf("replay: column %q is not float64 backed", key)
		}
		if len(data) != n*c.width {
			return fmt.Errorf("replay: column %q carries %d values, want %d", key, len(data), n*c.width)
		}
		rows := make([][]float64, n)
		for i := 0; i < n; i++ {
			rows[i] = append([]float64(nil), data[i*c.width:(i+1)*c.width]...)
		}
		split[key] = rows
	}

	for i := 0; i < n; i++ {
		for _, key := range u.keys {
			u.cols[key].rows[u.next] = split[key][i]
		}
		u.next = (u.next + 1) % u.capacity
		if u.size < u.capacity {
			u.size++
		}
	}
	return nil
}

// GetBatch samples n transitions uniformly with replacement, returning
// them as a batch in the pinned column order.
func (u *Uniform) GetBatch(n int) (*sample.Batch, error) {
	if n < 1 {
		return nil, fmt.Errorf("replay: batch size %d", n)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.size == 0 {
		return nil, fmt.Errorf("%w: replay memory is empty", graph.ErrPrecondition)
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = u.rng.Intn(u.size)
	}
	out := sample.NewBatch()
	for _, key := range u.keys {
		c := u.cols[key]
		data := make([]float64, 0, n*c.width)
		for _, i := range idx {
			data = append(data, c.rows[i]...)
		}
		var col *tensor.Dense
		if c.scalar {
			col = tensor.New(tensor.WithShape(n), tensor.WithBacking(data))
		} else {
			col = tensor.New(tensor.WithShape(n, c.width), tensor.WithBacking(data))
		}
		if err := out.Set(key, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}
