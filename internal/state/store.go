package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id        TEXT PRIMARY KEY,
	parent_id     TEXT,
	scenario      TEXT NOT NULL,
	termination   TEXT NOT NULL,
	iterations    INTEGER NOT NULL,
	initial_state TEXT NOT NULL,
	setpoint      TEXT NOT NULL,
	final_state   TEXT NOT NULL,
	rules_json    TEXT NOT NULL,
	seed          TEXT NOT NULL,
	document      TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS run_snapshots (
	run_id        TEXT NOT NULL,
	iteration     INTEGER NOT NULL,
	state_json    TEXT NOT NULL,
	PRIMARY KEY (run_id, iteration),
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS run_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	iteration     INTEGER NOT NULL,
	kind          TEXT NOT NULL,
	variable      TEXT,
	delta         REAL,
	before_value  REAL,
	after_value   REAL,
	rule_index    INTEGER,
	rule_text     TEXT,
	label         TEXT,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE TABLE IF NOT EXISTS active_run (
	id            INTEGER PRIMARY KEY CHECK (id = 1),
	run_id        TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);
`

// #endregion schema

// createdFormat is fixed width so created_at sorts as text.
const createdFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNoRuns is returned by GetLatest when nothing has been saved yet.
var ErrNoRuns = errors.New("no runs recorded")

// #region store-struct
// Store persists control-loop runs and their iteration history in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Pragmas are per connection, and ":memory:" is a separate database per
	// connection, so keep exactly one.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #region save-run
// SaveRun inserts a run with its history and moves the active pointer to it,
// all in one transaction. An empty RunID is filled with a new UUID; the
// stored record is returned.
func (s *Store) SaveRun(rec RunRecord, history []State) (RunRecord, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	initialJSON, err := json.Marshal(rec.InitialState)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal initial state: %w", err)
	}
	setpointJSON, err := json.Marshal(rec.Setpoint)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal setpoint: %w", err)
	}
	finalJSON, err := json.Marshal(rec.FinalState)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal final state: %w", err)
	}
	rules := rec.Rules
	if rules == nil {
		rules = []string{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return RunRecord{}, fmt.Errorf("marshal rules: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return RunRecord{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var parentPtr, docPtr interface{}
	if rec.ParentID != "" {
		parentPtr = rec.ParentID
	}
	if rec.Document != "" {
		docPtr = rec.Document
	}

	_, err = tx.Exec(
		`INSERT INTO runs (run_id, parent_id, scenario, termination, iterations, initial_state,
		                   setpoint, final_state, rules_json, seed, document, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, parentPtr, rec.Scenario, rec.Termination, rec.Iterations,
		string(initialJSON), string(setpointJSON), string(finalJSON), string(rulesJSON),
		strconv.FormatUint(rec.Seed, 10), docPtr, rec.CreatedAt.UTC().Format(createdFormat),
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("insert run: %w", err)
	}

	for i, snap := range history {
		snapJSON, err := json.Marshal(snap)
		if err != nil {
			return RunRecord{}, fmt.Errorf("marshal snapshot %d: %w", i+1, err)
		}
		_, err = tx.Exec(
			`INSERT INTO run_snapshots (run_id, iteration, state_json) VALUES (?, ?, ?)`,
			rec.RunID, i+1, string(snapJSON),
		)
		if err != nil {
			return RunRecord{}, fmt.Errorf("insert snapshot %d: %w", i+1, err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO active_run (id, run_id) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET run_id = excluded.run_id`,
		rec.RunID,
	)
	if err != nil {
		return RunRecord{}, fmt.Errorf("set active: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return RunRecord{}, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// #endregion save-run

// #region get-latest
// GetLatest reads the run the active pointer refers to.
func (s *Store) GetLatest() (RunRecord, error) {
	var runID string
	err := s.db.QueryRow(`SELECT run_id FROM active_run WHERE id = 1`).Scan(&runID)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, ErrNoRuns
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("get active: %w", err)
	}
	return s.GetRun(runID)
}

// #endregion get-latest

// #region get-run
const runColumns = `run_id, parent_id, scenario, termination, iterations, initial_state,
	setpoint, final_state, rules_json, seed, document, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var rec RunRecord
	var parentID, document sql.NullString
	var initialJSON, setpointJSON, finalJSON, rulesJSON, seedStr, createdStr string

	err := row.Scan(&rec.RunID, &parentID, &rec.Scenario, &rec.Termination, &rec.Iterations,
		&initialJSON, &setpointJSON, &finalJSON, &rulesJSON, &seedStr, &document, &createdStr)
	if err != nil {
		return RunRecord{}, err
	}
	if parentID.Valid {
		rec.ParentID = parentID.String
	}
	if document.Valid {
		rec.Document = document.String
	}
	if err := json.Unmarshal([]byte(initialJSON), &rec.InitialState); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal initial state: %w", err)
	}
	if err := json.Unmarshal([]byte(setpointJSON), &rec.Setpoint); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal setpoint: %w", err)
	}
	if err := json.Unmarshal([]byte(finalJSON), &rec.FinalState); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal final state: %w", err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &rec.Rules); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal rules: %w", err)
	}
	rec.Seed, _ = strconv.ParseUint(seedStr, 10, 64)
	rec.CreatedAt, _ = time.Parse(createdFormat, createdStr)
	return rec, nil
}

// GetRun retrieves a specific run by ID.
func (s *Store) GetRun(id string) (RunRecord, error) {
	rec, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return rec, nil
}

// #endregion get-run

// #region list-runs
// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// #endregion list-runs

// #region history
// History returns the stored snapshots of a run in iteration order.
func (s *Store) History(runID string) ([]State, error) {
	rows, err := s.db.Query(
		`SELECT state_json FROM run_snapshots WHERE run_id = ? ORDER BY iteration ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", runID, err)
	}
	defer rows.Close()

	var out []State
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var snap State
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// #endregion history
