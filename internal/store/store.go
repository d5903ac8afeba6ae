// Package store persists runs, their evidence bundles and per-step cycles
// in SQLite so past analyses can be listed and replayed.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"marketintel/internal/types"
)

// schemaVersion is bumped whenever initSchema changes.
// Version 2 stores timestamps in fixed-width form so text order is time order.
const schemaVersion = 2

// timeLayout is RFC 3339 with nanoseconds that keeps trailing zeros.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned when a run id has no stored bundle.
var ErrRunNotFound = errors.New("run not found")

// Store is the SQLite run store. It satisfies reasoning.CycleSink.
type Store struct {
	db     *sql.DB
	dbPath string
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open creates or opens the run store at path.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Cycles arrive from concurrent category workers; a single connection
	// serialises writes without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.logger.Debug("run store opened", zap.String("path", path))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// initSchema creates the database schema.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL,
		applied_at TEXT NOT NULL
	);

	-- One row per completed run
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		query_json TEXT NOT NULL,
		bundle_json TEXT NOT NULL,
		steps_used INTEGER NOT NULL,
		step_budget INTEGER NOT NULL,
		resolved INTEGER NOT NULL,
		categories INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- One row per Think/Act/Observe cycle
	CREATE TABLE IF NOT EXISTS cycles (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		category TEXT NOT NULL,
		tool TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		thought TEXT NOT NULL,
		success INTEGER NOT NULL,
		failure TEXT,
		error TEXT,
		records INTEGER NOT NULL,
		confidence REAL NOT NULL,
		coverage REAL NOT NULL,
		state TEXT NOT NULL,
		elapsed_ms INTEGER NOT NULL,
		at TEXT NOT NULL,
		PRIMARY KEY (run_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_cycles_category ON cycles(run_id, category);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	var current sql.NullInt64
	if err := s.db.QueryRow("SELECT MAX(version) FROM schema_versions").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current.Valid && current.Int64 >= schemaVersion {
		return nil
	}
	if current.Valid && current.Int64 < 2 {
		if err := s.normalizeTimes(); err != nil {
			return fmt.Errorf("failed to migrate timestamps: %w", err)
		}
	}
	_, err := s.db.Exec("INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
		schemaVersion, formatTime(time.Now()))
	return err
}

// normalizeTimes rewrites timestamps written by version 1, whose RFC3339Nano
// text dropped trailing zeros and so did not sort by time.
func (s *Store) normalizeTimes() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := normalizeColumns(tx, "runs", "started_at", "finished_at"); err != nil {
		return err
	}
	if err := normalizeColumns(tx, "cycles", "at"); err != nil {
		return err
	}
	return tx.Commit()
}

func normalizeColumns(tx *sql.Tx, table string, columns ...string) error {
	type cell struct {
		rowid int64
		value string
	}
	for _, col := range columns {
		rows, err := tx.Query(fmt.Sprintf("SELECT rowid, %s FROM %s", col, table))
		if err != nil {
			return err
		}
		var cells []cell
		for rows.Next() {
			var c cell
			if err := rows.Scan(&c.rowid, &c.value); err != nil {
				rows.Close()
				return err
			}
			cells = append(cells, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		update := fmt.Sprintf("UPDATE %s SET %s = ? WHERE rowid = ?", table, col)
		for _, c := range cells {
			if _, err := tx.Exec(update, normalizeTime(c.value), c.rowid); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizeTime(v string) string {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return v
	}
	return formatTime(t)
}

// SchemaVersion returns the highest applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_versions").Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// Emit stores one cycle.
func (s *Store) Emit(ctx context.Context, c types.Cycle) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cycles
			(run_id, seq, category, tool, attempt, thought, success, failure, error,
			 records, confidence, coverage, state, elapsed_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.RunID, c.Seq, string(c.Category), c.Tool, c.Attempt, c.Thought, boolInt(c.Success),
		string(c.Failure), c.Error, c.Records, c.Confidence, c.Coverage, c.State,
		c.Elapsed.Milliseconds(), formatTime(c.At))
	if err != nil {
		return fmt.Errorf("failed to store cycle %d: %w", c.Seq, err)
	}
	return nil
}

// SaveBundle stores the evidence bundle of a completed run, replacing any
// previous bundle with the same run id.
func (s *Store) SaveBundle(ctx context.Context, b *types.EvidenceBundle) error {
	if b.RunID == "" {
		return fmt.Errorf("bundle has no run id")
	}
	queryJSON, err := json.Marshal(b.Query)
	if err != nil {
		return fmt.Errorf("failed to marshal query: %w", err)
	}
	bundleJSON, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}

	resolved := 0
	for _, r := range b.Categories {
		if r.Resolution == types.ResolvedByThreshold {
			resolved++
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, domain, query_json, bundle_json, steps_used, step_budget, resolved, categories, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.RunID, b.Query.Domain, string(queryJSON), string(bundleJSON), b.StepsUsed, b.StepBudget,
		resolved, len(b.Categories), formatTime(b.StartedAt), formatTime(b.FinishedAt))
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", b.RunID, err)
	}
	s.logger.Debug("run stored", zap.String("run_id", b.RunID), zap.Int("resolved", resolved))
	return nil
}

// RunSummary is one row of the run history.
type RunSummary struct {
	ID         string    `json:"id"`
	Domain     string    `json:"domain"`
	StepsUsed  int       `json:"steps_used"`
	StepBudget int       `json:"step_budget"`
	Resolved   int       `json:"resolved"`
	Categories int       `json:"categories"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ListRuns returns the most recent runs first. A non-positive limit returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, steps_used, step_budget, resolved, categories, started_at, finished_at
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Domain, &r.StepsUsed, &r.StepBudget, &r.Resolved, &r.Categories, &started, &finished); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadBundle returns the stored bundle of a run.
func (s *Store) LoadBundle(ctx context.Context, runID string) (*types.EvidenceBundle, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT bundle_json FROM runs WHERE id = ?", runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	var b types.EvidenceBundle
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &b, nil
}

// Cycles returns the cycles of a run ordered by sequence number.
func (s *Store) Cycles(ctx context.Context, runID string) ([]types.Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, category, tool, attempt, thought, success, failure, error,
		       records, confidence, coverage, state, elapsed_ms, at
		FROM cycles WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cycles: %w", err)
	}
	defer rows.Close()

	var out []types.Cycle
	for rows.Next() {
		c := types.Cycle{RunID: runID}
		var category, failure, at string
		var success int
		var elapsedMs int64
		var errText sql.NullString
		if err := rows.Scan(&c.Seq, &category, &c.Tool, &c.Attempt, &c.Thought, &success, &failure,
			&errText, &c.Records, &c.Confidence, &c.Coverage, &c.State, &elapsedMs, &at); err != nil {
			return nil, err
		}
		c.Category = types.Category(category)
		c.Success = success != 0
		c.Failure = types.FailureKind(failure)
		c.Error = errText.String
		c.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		c.At = parseTime(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
