package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// nowUTC returns the current UTC time as an ISO 8601 string.
func nowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// SqlStore implements Store with SQLite.
type SqlStore struct {
	db *sql.DB
}

// Open opens or creates a SQLite DB at path and initializes the schema.
// Creates the parent directory (e.g. .plexus) if it does not exist.
func Open(path string) (*SqlStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SqlStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SqlStore) migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", v, schemaVersion)
	}
	return nil
}

// Close closes the underlying database.
func (s *SqlStore) Close() error { return s.db.Close() }

// CreateRun inserts a new run keyed by a fresh UUID.
func (s *SqlStore) CreateRun(name string, definition []byte) (*Run, error) {
	if name == "" {
		return nil, errors.New("run name is empty")
	}
	now := nowUTC()
	r := &Run{
		ID:         uuid.NewString(),
		Name:       name,
		Definition: string(definition),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	_, err := s.db.Exec(
		`INSERT INTO runs(id, name, definition, steps, syncs, created_at, updated_at)
		 VALUES(?, ?, ?, 0, 0, ?, ?)`,
		r.ID, r.Name, r.Definition, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	return r, nil
}

func (s *SqlStore) GetRun(id string) (*Run, error) {
	return scanRun(s.db.QueryRow(
		`SELECT id, name, definition, steps, syncs, created_at, updated_at
		 FROM runs WHERE id = ?`, id))
}

func (s *SqlStore) GetRunByName(name string) (*Run, error) {
	return scanRun(s.db.QueryRow(
		`SELECT id, name, definition, steps, syncs, created_at, updated_at
		 FROM runs WHERE name = ?`, name))
}

func scanRun(row *sql.Row) (*Run, error) {
	var r Run
	err := row.Scan(&r.ID, &r.Name, &r.Definition, &r.Steps, &r.Syncs, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

func (s *SqlStore) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(
		`SELECT id, name, definition, steps, syncs, created_at, updated_at
		 FROM runs ORDER BY created_at, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var out []*Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Name, &r.Definition, &r.Steps, &r.Syncs, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// SaveProgress writes the scheduler counters for a run.
func (s *SqlStore) SaveProgress(id string, steps, syncs int64) error {
	res, err := s.db.Exec(
		"UPDATE runs SET steps = ?, syncs = ?, updated_at = ? WHERE id = ?",
		steps, syncs, nowUTC(), id,
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

func (s *SqlStore) AppendLoss(runID string, step int64, loss float64) error {
	_, err := s.db.Exec(
		"INSERT INTO losses(run_id, step, loss) VALUES(?, ?, ?)",
		runID, step, loss,
	)
	if err != nil {
		return fmt.Errorf("insert loss: %w", err)
	}
	return nil
}

// LossHistory returns the most recent limit points in ascending step order.
// A limit of 0 returns the full history.
func (s *SqlStore) LossHistory(runID string, limit int) ([]LossPoint, error) {
	q := "SELECT step, loss FROM losses WHERE run_id = ? ORDER BY step DESC"
	args := []any{runID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("loss history: %w", err)
	}
	defer rows.Close()
	var out []LossPoint
	for rows.Next() {
		var p LossPoint
		if err := rows.Scan(&p.Step, &p.Loss); err != nil {
			return nil, fmt.Errorf("scan loss: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
