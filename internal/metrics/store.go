package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Canejo/vault-state-plugin/internal/types"
)

// startedAtLayout is fixed width so text ordering matches time ordering
const startedAtLayout = "2006-01-02T15:04:05.000000000Z"

// Store keeps the history of snapshot runs in SQLite.
type Store struct {
	db *sql.DB
}

// DefaultPath returns ~/.vaultstate/history.db
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".vaultstate", "history.db"), nil
}

// NewStore opens the run history at dbPath, or at DefaultPath when empty.
// The directory and database file are created if they don't exist.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		var err error
		if dbPath, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return NewStoreWithPath(dbPath)
}

// NewStoreWithPath opens the run history at an exact path.
func NewStoreWithPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	createTableSQL := `
		CREATE TABLE IF NOT EXISTS snapshot_runs (
			run_id TEXT PRIMARY KEY,
			period TEXT NOT NULL,
			outcome TEXT NOT NULL,
			tracked_files INTEGER DEFAULT 0,
			added INTEGER DEFAULT 0,
			modified INTEGER DEFAULT 0,
			removed INTEGER DEFAULT 0,
			read_errors TEXT DEFAULT '',
			consolidated INTEGER DEFAULT 0,
			delta_count INTEGER DEFAULT 0,
			started_at TEXT NOT NULL,
			duration_ms INTEGER DEFAULT 0,
			error TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_snapshot_runs_started_at ON snapshot_runs (started_at);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &Store{db: db}, nil
}

// RecordRun stores a run summary; recording the same run ID twice replaces it.
func (s *Store) RecordRun(ctx context.Context, summary *types.RunSummary) error {
	if summary == nil || summary.RunID == "" {
		return errors.New("run summary without run id")
	}

	errText := ""
	if summary.Err != nil {
		errText = summary.Err.Error()
	}

	upsertSQL := `
		INSERT INTO snapshot_runs (
			run_id, period, outcome, tracked_files, added, modified, removed,
			read_errors, consolidated, delta_count, started_at, duration_ms, error
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			period = excluded.period,
			outcome = excluded.outcome,
			tracked_files = excluded.tracked_files,
			added = excluded.added,
			modified = excluded.modified,
			removed = excluded.removed,
			read_errors = excluded.read_errors,
			consolidated = excluded.consolidated,
			delta_count = excluded.delta_count,
			started_at = excluded.started_at,
			duration_ms = excluded.duration_ms,
			error = excluded.error;
	`
	_, err := s.db.ExecContext(ctx, upsertSQL,
		summary.RunID,
		summary.Period,
		string(summary.Outcome),
		summary.TrackedFiles,
		summary.Added,
		summary.Modified,
		summary.Removed,
		strings.Join(summary.ReadErrors, "\n"),
		boolToInt(summary.Consolidated),
		summary.DeltaCount,
		summary.StartedAt.UTC().Format(startedAtLayout),
		summary.Duration.Milliseconds(),
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]types.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, period, outcome, tracked_files, added, modified, removed,
			read_errors, consolidated, delta_count, started_at, duration_ms, error
		FROM snapshot_runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []types.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

// LastRun returns the most recent run, or nil when the history is empty.
func (s *Store) LastRun(ctx context.Context) (*types.RunSummary, error) {
	runs, err := s.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// CountByOutcome returns the number of recorded runs for every outcome.
func (s *Store) CountByOutcome(ctx context.Context) (map[types.RunOutcome]int64, error) {
	result := make(map[types.RunOutcome]int64)
	for _, outcome := range types.AllOutcomes {
		result[outcome] = 0
	}

	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM snapshot_runs GROUP BY outcome")
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var outcome string
		var total int64
		if err := rows.Scan(&outcome, &total); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result[types.RunOutcome(outcome)] = total
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (types.RunSummary, error) {
	var (
		run          types.RunSummary
		outcome      string
		readErrors   string
		consolidated int
		startedAt    string
		durationMs   int64
		errText      string
	)
	err := row.Scan(
		&run.RunID, &run.Period, &outcome, &run.TrackedFiles,
		&run.Added, &run.Modified, &run.Removed,
		&readErrors, &consolidated, &run.DeltaCount,
		&startedAt, &durationMs, &errText,
	)
	if err != nil {
		return run, fmt.Errorf("failed to scan row: %w", err)
	}

	run.Outcome = types.RunOutcome(outcome)
	run.Consolidated = consolidated != 0
	run.Duration = time.Duration(durationMs) * time.Millisecond
	if readErrors != "" {
		run.ReadErrors = strings.Split(readErrors, "\n")
	}
	if errText != "" {
		run.Err = errors.New(errText)
	}
	if run.StartedAt, err = time.Parse(startedAtLayout, startedAt); err != nil {
		return run, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	return run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
