package sample

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Producer yields one worker's transition batch.
type Producer func(ctx context.Context, worker int) (*Batch, error)

// Collect fans out workers concurrently and merges their batches in worker
// order. The first producer error cancels the remaining workers.
func Collect(ctx context.Context, workers int, produce Producer) (*Batch, error) {
	if workers < 1 {
		return nil, fmt.Errorf("sample: collect needs at least one worker")
	}
	out := make([]*Batch, workers)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		g.Go(func() error {
			b, err := produce(ctx, i)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			out[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Merge(out)
}
