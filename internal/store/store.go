// Package store persists training runs: the definition a run started from,
// the scheduler counters it snapshots between sessions, and the per-step
// loss history. Implementations are SQLite or in-memory.
package store

// DefaultDBPath is the default relative path for the SQLite DB.
// Resolve against cwd; Open() creates the parent dir (e.g. .plexus).
const DefaultDBPath = ".plexus/runs.db"

// Run is one training run. Counters mirror the agent's scheduler snapshot,
// so a reopened run resumes its sync cadence where it left off.
type Run struct {
	ID         string
	Name       string
	Definition string
	Steps      int64
	Syncs      int64
	CreatedAt  string
	UpdatedAt  string
}

// LossPoint is one recorded update round: the scheduler step it completed
// and the scalar loss it returned.
type LossPoint struct {
	Step int64
	Loss float64
}

// Store is the persistence facade. The CLI uses only this interface; the
// implementation is SQLite or in-memory.
type Store interface {
	// Runs
	CreateRun(name string, definition []byte) (*Run, error)
	GetRun(id string) (*Run, error)
	GetRunByName(name string) (*Run, error)
	ListRuns() ([]*Run, error)
	SaveProgress(id string, steps, syncs int64) error
	// Loss history
	AppendLoss(runID string, step int64, loss float64) error
	LossHistory(runID string, limit int) ([]LossPoint, error)
	Close() error
}
