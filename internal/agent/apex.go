// Package agent assembles the learner and schedules its update rounds: a
// dueling or plain Q-policy, its frozen target twin, uniform replay memory,
// double-Q loss and the action-layer optimizer, all wired under one root
// component and driven through a graph executor.
package agent

import (
	"fmt"
	"log/slog"
	"sync"

	"gorgonia.org/tensor"

	"plexus/internal/config"
	"plexus/internal/logging"
	"plexus/internal/replay"
	"plexus/internal/sample"
	"plexus/pkg/graph"
	"plexus/pkg/nnet"
	"plexus/pkg/policy"
)

// defaultMemoryCapacity backs runs whose definition leaves memory unset.
const defaultMemoryCapacity = 4096

// Executor runs compiled invocation rounds. The concrete type is
// *graph.Executor; tests substitute a probe to observe scheduling.
type Executor interface {
	Execute(inv graph.Invocation, companion *graph.Invocation) (*graph.Results, error)
	Ops() graph.Ops
}

// Snapshot captures the scheduler counters so a stored run resumes its
// sync cadence where it stopped.
type Snapshot struct {
	Steps int64
	Syncs int64
}

// Apex is the update scheduler. Update rounds alternate freely between
// external batches and replay pulls; every sync-interval-th round carries
// the target sync as a companion call. The cadence check runs against the
// step counter before it increments, so a fresh scheduler syncs on its
// very first round.
type Apex struct {
	mu       sync.Mutex
	exec     Executor
	wiring   *wiring
	buf      *replay.Uniform
	interval int64
	steps    int64
	syncs    int64
	log      *slog.Logger
	metrics  *Metrics
}

// Option configures the agent during construction.
type Option func(*options)

type options struct {
	exec    Executor
	metrics *Metrics
}

// WithExecutor injects a pre-built executor instead of compiling the
// wiring. Tests use it to observe the invocations the scheduler issues.
func WithExecutor(exec Executor) Option {
	return func(o *options) { o.exec = exec }
}

// WithMetrics attaches prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds the agent from a validated run definition.
func New(def *config.RunDef, opts ...Option) (*Apex, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil run definition", graph.ErrStructural)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	capacity := def.Memory.Capacity
	if capacity == 0 {
		capacity = defaultMemoryCapacity
	}
	seed := def.Memory.Seed
	if seed == 0 {
		seed = def.Seed
	}
	buf, err := replay.NewUniform(capacity, seed)
	if err != nil {
		return nil, err
	}
	w, err := buildWiring(def, buf)
	if err != nil {
		return nil, err
	}

	exec := o.exec
	if exec == nil {
		backend, err := graph.NewBackend(def.Backend)
		if err != nil {
			return nil, err
		}
		compiled := graph.NewExecutor(backend)
		if err := compiled.Build(w.root); err != nil {
			return nil, err
		}
		exec = compiled
	}

	return &Apex{
		exec:     exec,
		wiring:   w,
		buf:      buf,
		interval: int64(def.Update.SyncInterval),
		log:      logging.New("agent"),
		metrics:  o.metrics,
	}, nil
}

// updateFeeds validates and orders the five update columns of a batch.
func updateFeeds(b *sample.Batch) ([]graph.Value, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil batch", graph.ErrPrecondition)
	}
	if err := b.Require(sample.RequiredKeys()...); err != nil {
		return nil, err
	}
	feeds := make([]graph.Value, 0, len(sample.RequiredKeys()))
	for _, key := range sample.RequiredKeys() {
		col, err := b.Get(key)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, col)
	}
	return feeds, nil
}

// Update runs one update round and returns its scalar loss. A non-nil
// batch is consumed directly; nil pulls a sample from the replay memory.
// Batches are checked for the five required columns before the executor is
// touched. Both the optimizer trigger and the loss are requested, since an
// unrequested mutating step would be pruned out of the round.
func (a *Apex) Update(batch *sample.Batch) (float64, error) {
	inv := graph.Invocation{Method: "update_from_memory", Returns: []int{0, 1}}
	if batch != nil {
		feeds, err := updateFeeds(batch)
		if err != nil {
			return 0, err
		}
		inv = graph.Invocation{Method: "update_from_external_batch", Feeds: feeds, Returns: []int{0, 1}}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	syncDue := a.steps%a.interval == 0
	var companion *graph.Invocation
	if syncDue {
		companion = &graph.Invocation{Method: "sync_target_qnet", Returns: []int{0}}
	}
	res, err := a.exec.Execute(inv, companion)
	if err != nil {
		return 0, err
	}
	a.steps++
	if syncDue {
		a.syncs++
	}

	lossVal, err := a.exec.Ops().Scalar(res.First()[1])
	if err != nil {
		return 0, fmt.Errorf("read loss: %w", err)
	}
	a.metrics.observeUpdate(lossVal, syncDue)
	a.log.Debug("update round",
		"method", inv.Method, "step", a.steps, "loss", lossVal, "synced", syncDue)
	return lossVal, nil
}

// SyncNow copies the online parameters into the target immediately,
// outside the cadence. The sync counter still advances.
func (a *Apex) SyncNow() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.exec.Execute(graph.Invocation{Method: "sync_target_qnet", Returns: []int{0}}, nil); err != nil {
		return err
	}
	a.syncs++
	a.metrics.observeSync()
	return nil
}

// Insert stores a collected batch in the replay memory through the graph,
// so inserts serialize against in-flight update rounds.
func (a *Apex) Insert(b *sample.Batch) error {
	feeds, err := updateFeeds(b)
	if err != nil {
		return err
	}
	res, err := a.exec.Execute(graph.Invocation{Method: "insert_records", Feeds: feeds, Returns: []int{0}}, nil)
	if err != nil {
		return err
	}
	count, err := a.exec.Ops().Scalar(res.First()[0])
	if err != nil {
		return fmt.Errorf("read insert count: %w", err)
	}
	a.metrics.observeInsert(int(count), a.buf.Len())
	return nil
}

// Act maps a batch of states to actions via the policy's configured
// selection mode.
func (a *Apex) Act(states *tensor.Dense) (*tensor.Dense, error) {
	res, err := a.exec.Execute(graph.Invocation{
		Method:  "get_action",
		Feeds:   []graph.Value{states, nnet.NoState},
		Returns: []int{0},
	}, nil)
	if err != nil {
		return nil, err
	}
	out := res.First()[0]
	d, ok := out.(*tensor.Dense)
	if !ok {
		return nil, fmt.Errorf("%w: action is %T, want *tensor.Dense", graph.ErrExecution, out)
	}
	return d, nil
}

// Snapshot reads the scheduler counters.
func (a *Apex) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{Steps: a.steps, Syncs: a.syncs}
}

// Restore resets the scheduler counters, e.g. when resuming a stored run.
func (a *Apex) Restore(s Snapshot) error {
	if s.Steps < 0 || s.Syncs < 0 {
		return fmt.Errorf("%w: negative scheduler counters", graph.ErrPrecondition)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.steps = s.Steps
	a.syncs = s.Syncs
	return nil
}

// Policy returns the online policy.
func (a *Apex) Policy() *policy.Policy { return a.wiring.policy }

// TargetPolicy returns the writable target policy.
func (a *Apex) TargetPolicy() *policy.Policy { return a.wiring.target }

// MemoryLen reports how many records the replay memory holds.
func (a *Apex) MemoryLen() int { return a.buf.Len() }
