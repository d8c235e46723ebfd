package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding focus values, pending suggestions,
// scheduler state and sweep history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "voxbar.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Focus values ---

const timeLayout = time.RFC3339Nano

func nowString() string {
	return time.Now().UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// GetFocusValue returns the stored row for area, or ErrNotFound.
func (s *Store) GetFocusValue(area string) (FocusValue, error) {
	var fv FocusValue
	var hasPrev int
	var updatedAt string
	err := s.db.QueryRow(`
		SELECT area, current_value, previous_value, has_previous, updated_at
		FROM focus_values WHERE area = ?`, area,
	).Scan(&fv.Area, &fv.Current, &fv.Previous, &hasPrev, &updatedAt)
	if err == sql.ErrNoRows {
		return FocusValue{}, ErrNotFound
	}
	if err != nil {
		return FocusValue{}, err
	}
	fv.HasPrevious = hasPrev != 0
	if fv.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return FocusValue{}, err
	}
	return fv, nil
}

func (s *Store) ListFocusValues() ([]FocusValue, error) {
	rows, err := s.db.Query(`
		SELECT area, current_value, previous_value, has_previous, updated_at
		FROM focus_values ORDER BY area ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FocusValue
	for rows.Next() {
		var fv FocusValue
		var hasPrev int
		var updatedAt string
		if err := rows.Scan(&fv.Area, &fv.Current, &fv.Previous, &hasPrev, &updatedAt); err != nil {
			return nil, err
		}
		fv.HasPrevious = hasPrev != 0
		if fv.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		results = append(results, fv)
	}
	return results, rows.Err()
}

// ApplyFocusValue moves the current value into previous and stores value as
// current in one statement. When no row exists yet, fallback (the built-in
// default) becomes the previous value.
func (s *Store) ApplyFocusValue(area, value, fallback string) error {
	_, err := s.db.Exec(`
		INSERT INTO focus_values (area, current_value, previous_value, has_previous, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(area) DO UPDATE SET
			previous_value = focus_values.current_value,
			current_value = excluded.current_value,
			has_previous = 1,
			updated_at = excluded.updated_at`,
		area, value, fallback, nowString(),
	)
	return err
}

// SetFocusValue overwrites the current value and leaves previous untouched.
func (s *Store) SetFocusValue(area, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO focus_values (area, current_value, previous_value, has_previous, updated_at)
		VALUES (?, ?, '', 0, ?)
		ON CONFLICT(area) DO UPDATE SET
			current_value = excluded.current_value,
			updated_at = excluded.updated_at`,
		area, value, nowString(),
	)
	return err
}

// RestoreFocusValue swaps current and previous when a previous value exists.
// It reports whether a swap happened.
func (s *Store) RestoreFocusValue(area string) (bool, error) {
	res, err := s.db.Exec(`
		UPDATE focus_values SET
			current_value = previous_value,
			previous_value = current_value,
			updated_at = ?
		WHERE area = ? AND has_previous = 1`,
		nowString(), area,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) DeleteFocusValue(area string) error {
	_, err := s.db.Exec(`DELETE FROM focus_values WHERE area = ?`, area)
	return err
}

func (s *Store) DeleteAllFocusValues() error {
	_, err := s.db.Exec(`DELETE FROM focus_values`)
	return err
}

// --- Suggestions ---

// SaveSuggestion stores the artifact for its area, replacing any unconsumed one.
func (s *Store) SaveSuggestion(sg Suggestion) error {
	createdAt := sg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO suggestions (area, suggested_text, model, sweep_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(area) DO UPDATE SET
			suggested_text = excluded.suggested_text,
			model = excluded.model,
			sweep_id = excluded.sweep_id,
			created_at = excluded.created_at`,
		sg.Area, sg.Text, sg.Model, sg.SweepID, createdAt.UTC().Format(timeLayout),
	)
	return err
}

func (s *Store) GetSuggestion(area string) (Suggestion, error) {
	var sg Suggestion
	var createdAt string
	err := s.db.QueryRow(`
		SELECT area, suggested_text, model, sweep_id, created_at
		FROM suggestions WHERE area = ?`, area,
	).Scan(&sg.Area, &sg.Text, &sg.Model, &sg.SweepID, &createdAt)
	if err == sql.ErrNoRows {
		return Suggestion{}, ErrNotFound
	}
	if err != nil {
		return Suggestion{}, err
	}
	if sg.CreatedAt, err = parseTime(createdAt); err != nil {
		return Suggestion{}, err
	}
	return sg, nil
}

// DeleteSuggestion consumes or discards the artifact for area. Deleting a
// missing artifact is not an error.
func (s *Store) DeleteSuggestion(area string) error {
	_, err := s.db.Exec(`DELETE FROM suggestions WHERE area = ?`, area)
	return err
}

func (s *Store) DeleteAllSuggestions() error {
	_, err := s.db.Exec(`DELETE FROM suggestions`)
	return err
}

// --- Scheduler state ---

// GetState returns the value stored under key, or ErrNotFound.
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM scheduler_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO scheduler_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, nowString(),
	)
	return err
}

func (s *Store) DeleteState(key string) error {
	_, err := s.db.Exec(`DELETE FROM scheduler_state WHERE key = ?`, key)
	return err
}

// --- Sweep history ---

func (s *Store) SaveSweep(sw Sweep) error {
	applied := sw.Applied
	if applied == "" {
		applied = "[]"
	}
	failed := sw.Failed
	if failed == "" {
		failed = "{}"
	}
	manual := 0
	if sw.Manual {
		manual = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO sweeps (id, started_at, finished_at, manual, applied, failed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sw.ID, sw.StartedAt.UTC().Format(timeLayout), sw.FinishedAt.UTC().Format(timeLayout),
		manual, applied, failed,
	)
	return err
}

// RecentSweeps returns up to limit sweeps, newest first.
func (s *Store) RecentSweeps(limit int) ([]Sweep, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, manual, applied, failed
		FROM sweeps ORDER BY finished_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Sweep
	for rows.Next() {
		var sw Sweep
		var startedAt, finishedAt string
		var manual int
		if err := rows.Scan(&sw.ID, &startedAt, &finishedAt, &manual, &sw.Applied, &sw.Failed); err != nil {
			return nil, err
		}
		sw.Manual = manual != 0
		if sw.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if sw.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, err
		}
		results = append(results, sw)
	}
	return results, rows.Err()
}

func (s *Store) DeleteAllSweeps() error {
	_, err := s.db.Exec(`DELETE FROM sweeps`)
	return err
}
