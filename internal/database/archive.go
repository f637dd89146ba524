package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/sha3"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/skrob/internal/fetch"
)

// FileName is the name of the database file inside the archive directory.
const FileName = "skrob.db"

// Archive provides SQLite-based storage for run records.
//
// Design decision: We use a single database file for all runs rather than
// one per run. History queries then need no directory scan, and backups
// are one file.
type Archive struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures Archive behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent performance.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates an Archive in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*Archive, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s: %w", dbPath, ErrArchiveNotFound)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file; mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer. Fetches of a run finish concurrently,
	// so their inserts queue on this single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	a := &Archive{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := a.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return a, nil
}

// Path returns the path of the database file.
func (a *Archive) Path() string {
	return a.dbPath
}

// Close closes the database connection.
func (a *Archive) Close() error {
	return a.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (a *Archive) createTables() error {
	schema := `
	-- Runs store one invocation of a script
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		script TEXT NOT NULL,
		seeds TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		fetched INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		duplicates INTEGER DEFAULT 0,
		query_errors INTEGER DEFAULT 0,
		emitted INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	-- Fetches store every locator a run dereferenced
	CREATE TABLE IF NOT EXISTS fetches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL REFERENCES runs(id),
		locator TEXT NOT NULL,
		status_code INTEGER,
		content_type TEXT,
		size INTEGER,
		sha3 TEXT,
		error TEXT,
		fetched_at TEXT NOT NULL,
		duration_ms INTEGER,
		UNIQUE(run_id, locator)
	);

	CREATE INDEX IF NOT EXISTS idx_fetches_run ON fetches(run_id);
	CREATE INDEX IF NOT EXISTS idx_fetches_locator ON fetches(locator);
	`

	_, err := a.db.ExecContext(context.Background(), schema)
	return err
}

// Stats are the counters stored with a finished run.
type Stats struct {
	Fetched     int64
	Failed      int64
	Duplicates  int64
	QueryErrors int64
	Emitted     int64
}

// Run is an open run record. It implements fetch.Recorder, so a fetch
// client can write to it directly.
type Run struct {
	archive *Archive

	// ID is the database identifier of the run.
	ID int64
}

// BeginRun inserts a run record and returns it open for fetch records.
// seeds are the start locators; for a run on literal text it is empty.
func (a *Archive) BeginRun(ctx context.Context, script string, seeds []string) (*Run, error) {
	if seeds == nil {
		seeds = []string{}
	}
	seedsJSON, err := json.Marshal(seeds)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize seeds: %w", err)
	}

	result, err := a.db.ExecContext(ctx,
		`INSERT INTO runs (script, seeds, started_at) VALUES (?, ?, ?)`,
		script, string(seedsJSON), formatTimestamp(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read run id: %w", err)
	}
	return &Run{archive: a, ID: id}, nil
}

// RecordFetch stores one fetch of the run.
// A locator is fetched at most once per run; recording it again replaces
// the earlier row.
func (r *Run) RecordFetch(ctx context.Context, rec fetch.Record) error {
	var digest, errText sql.NullString
	if rec.Body != nil {
		sum := sha3.Sum256(rec.Body)
		digest = sql.NullString{String: hex.EncodeToString(sum[:]), Valid: true}
	}
	if rec.Err != nil {
		errText = sql.NullString{String: rec.Err.Error(), Valid: true}
	}

	query := `
	INSERT INTO fetches (run_id, locator, status_code, content_type, size, sha3, error, fetched_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id, locator) DO UPDATE SET
		status_code = excluded.status_code,
		content_type = excluded.content_type,
		size = excluded.size,
		sha3 = excluded.sha3,
		error = excluded.error,
		fetched_at = excluded.fetched_at,
		duration_ms = excluded.duration_ms
	`

	_, err := r.archive.db.ExecContext(ctx, query,
		r.ID,
		rec.Locator,
		rec.StatusCode,
		rec.ContentType,
		len(rec.Body),
		digest,
		errText,
		formatTimestamp(rec.FetchedAt),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fetch record: %w", err)
	}
	return nil
}

// Finish stores the counters and the outcome of the run.
func (r *Run) Finish(ctx context.Context, stats Stats, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	query := `
	UPDATE runs SET
		finished_at = ?, fetched = ?, failed = ?, duplicates = ?, query_errors = ?, emitted = ?, error = ?
	WHERE id = ?
	`

	_, err := r.archive.db.ExecContext(ctx, query,
		formatTimestamp(time.Now()),
		stats.Fetched,
		stats.Failed,
		stats.Duplicates,
		stats.QueryErrors,
		stats.Emitted,
		errText,
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RunRecord is a stored run.
type RunRecord struct {
	ID     int64
	Script string
	Seeds  []string

	StartedAt time.Time
	// FinishedAt is zero for a run that never finished.
	FinishedAt time.Time

	Stats Stats
	Error string
}

const runColumns = `id, script, seeds, started_at, finished_at, fetched, failed, duplicates, query_errors, emitted, error`

// ListRuns returns the most recent runs first. A limit of zero or less
// returns every run.
func (a *Archive) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY id DESC`
	args := make([]any, 0, 1)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetRun returns the run with id, or nil if there is none.
func (a *Archive) GetRun(ctx context.Context, id int64) (*RunRecord, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// rowScanner is the Scan method shared by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var run RunRecord
	var seedsJSON, startedAt string
	var finishedAt, errText sql.NullString

	err := row.Scan(
		&run.ID,
		&run.Script,
		&seedsJSON,
		&startedAt,
		&finishedAt,
		&run.Stats.Fetched,
		&run.Stats.Failed,
		&run.Stats.Duplicates,
		&run.Stats.QueryErrors,
		&run.Stats.Emitted,
		&errText,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(seedsJSON), &run.Seeds); err != nil {
		return nil, fmt.Errorf("failed to parse seeds: %w", err)
	}
	run.StartedAt = parseTimestamp(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = parseTimestamp(finishedAt.String)
	}
	run.Error = errText.String
	return &run, nil
}

// FetchRecord is a stored fetch.
type FetchRecord struct {
	ID          int64
	RunID       int64
	Locator     string
	StatusCode  int
	ContentType string
	Size        int64
	// SHA3 is the hex SHA3-256 digest of the body, empty when nothing was read.
	SHA3      string
	Error     string
	FetchedAt time.Time
	Duration  time.Duration
}

// ListFetches returns the fetches of a run in the order they started.
func (a *Archive) ListFetches(ctx context.Context, runID int64) ([]FetchRecord, error) {
	query := `
	SELECT id, run_id, locator, status_code, content_type, size, sha3, error, fetched_at, duration_ms
	FROM fetches
	WHERE run_id = ?
	ORDER BY fetched_at, id
	`

	rows, err := a.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fetches: %w", err)
	}
	defer rows.Close()

	var fetches []FetchRecord
	for rows.Next() {
		var f FetchRecord
		var digest, errText sql.NullString
		var fetchedAt string
		var durationMS int64

		err := rows.Scan(
			&f.ID,
			&f.RunID,
			&f.Locator,
			&f.StatusCode,
			&f.ContentType,
			&f.Size,
			&digest,
			&errText,
			&fetchedAt,
			&durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fetch: %w", err)
		}

		f.SHA3 = digest.String
		f.Error = errText.String
		f.FetchedAt = parseTimestamp(fetchedAt)
		f.Duration = time.Duration(durationMS) * time.Millisecond
		fetches = append(fetches, f)
	}
	return fetches, rows.Err()
}

// timestampLayout keeps sub-second precision and sorts lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// timestampFormats contains the timestamp formats that may be stored.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	timestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",  // SQLite default datetime format
	"2006-01-02T15:04:05Z", // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",  // ISO 8601 without timezone
}

// parseTimestamp attempts to parse a timestamp string using multiple formats.
// If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
