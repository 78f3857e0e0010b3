package store

// schemaVersion is the current schema version.
const schemaVersion = 1

// schemaDDL creates the run and loss tables. Runs are keyed by UUID so IDs
// stay stable if databases are merged; names stay unique per database.
var schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	definition TEXT NOT NULL,
	steps      INTEGER NOT NULL DEFAULT 0,
	syncs      INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS losses (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	step   INTEGER NOT NULL,
	loss   REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS losses_by_run_step ON losses(run_id, step);
`
