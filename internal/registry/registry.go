// Package registry implements the PID registry (spec.md §4.6, C6): a
// per-working-directory record of every supervisor invocation, backed
// by SQLite with embedded migrations.
//
// Grounded on the teacher's internal/store.Store — same Open/migrate
// idiom (WAL mode, a schema_migrations ledger, sorted-filename SQL
// files applied inside a transaction) — adapted from the teacher's
// product tables to the single `pids` table spec.md §3 describes.
package registry

import (
	"database/sql"
	"embed"
	"encoding/json"
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

// Status values for a PID record (spec.md §3).
const (
	StatusActive = "active"
	StatusIdle   = "idle"
	StatusExited = "exited"
)

// Exit reasons (spec.md §3, §4.10).
const (
	ReasonNormal       = "normal"
	ReasonCrash        = "crash"
	ReasonFatal        = "fatal"
	ReasonRestarted    = "restarted"
	ReasonStaleCleanup = "stale-cleanup"
)

// Record mirrors the PID record in spec.md §3.
type Record struct {
	PID        int
	ToolName   string
	Args       []string
	Prompt     string
	LogPath    string
	FifoPath   string
	Status     string
	ExitReason string
	ExitCode   *int
	StartedAt  time.Time
	UpdatedAt  time.Time
}

// Registry is safe for concurrent use by goroutines within one process;
// cross-process safety comes from SQLite's own locking.
type Registry struct {
	db      *sql.DB
	dir     string // <cwd>/.agent-yes
	isAlive func(pid int) bool
}

// Open creates the directory layout under cwd/.agent-yes (logs/, fifo/),
// opens (creating if absent) the backing database, applies pending
// migrations, and reclaims stale rows per spec.md §4.6: any record with
// status != exited whose pid is no longer live is marked exited with
// reason stale-cleanup.
func Open(cwd string) (*Registry, error) {
	return open(cwd, processAlive)
}

func open(cwd string, isAlive func(int) bool) (*Registry, error) {
	dir := filepath.Join(cwd, ".agent-yes")
	if err := os.MkdirAll(filepath.Join(dir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "fifo"), 0o755); err != nil {
		return nil, fmt.Errorf("create fifo dir: %w", err)
	}

	dsn := filepath.Join(dir, "store.sqlite")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	r := &Registry{db: db, dir: dir, isAlive: isAlive}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := r.reclaimStale(); err != nil {
		db.Close()
		return nil, fmt.Errorf("reclaim stale pids: %w", err)
	}
	return r, nil
}

// Dir returns the registry's state directory (cwd/.agent-yes).
func (r *Registry) Dir() string { return r.dir }

// LogPath returns the rendered-transcript log path for pid.
func (r *Registry) LogPath(pid int) string {
	return filepath.Join(r.dir, "logs", fmt.Sprintf("%d.log", pid))
}

// RawLogPath returns the unfiltered raw-byte log path for pid.
func (r *Registry) RawLogPath(pid int) string {
	return filepath.Join(r.dir, "logs", fmt.Sprintf("%d.raw.log", pid))
}

// DebugLogPath returns the debug-trace log path for pid.
func (r *Registry) DebugLogPath(pid int) string {
	return filepath.Join(r.dir, "logs", fmt.Sprintf("%d.debug.log", pid))
}

// FifoPath returns the append-prompt FIFO path for pid.
func (r *Registry) FifoPath(pid int) string {
	return filepath.Join(r.dir, "fifo", fmt.Sprintf("%d.stdin", pid))
}

// Close closes the backing database. A best-effort PRAGMA optimize is
// run first per spec.md §4.10's shutdown ordering; no VACUUM is run.
func (r *Registry) Close() error {
	r.db.Exec("PRAGMA optimize")
	return r.db.Close()
}

// Register inserts a new row for pid, or, on pid collision with a prior
// exited row, updates it back to active (spec.md §4.6). pid is unique
// within the store at any moment a row is non-exited.
func (r *Registry) Register(pid int, tool string, args []string, prompt string, logPath, fifoPath string) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.db.Exec(`
		INSERT INTO pids (pid, tool_name, args, prompt, log_path, fifo_path, status, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pid) DO UPDATE SET
			tool_name = excluded.tool_name,
			args = excluded.args,
			prompt = excluded.prompt,
			log_path = excluded.log_path,
			fifo_path = excluded.fifo_path,
			status = excluded.status,
			exit_reason = NULL,
			exit_code = NULL,
			started_at = excluded.started_at,
			updated_at = excluded.updated_at
	`, pid, tool, string(argsJSON), nullable(prompt), logPath, nullable(fifoPath), StatusActive, now, now)
	return err
}

// UpdateStatus sets pid's status (and, for status=exited, reason/code).
// Idempotent: calling it twice with the same arguments leaves the row
// unchanged except for updated_at.
func (r *Registry) UpdateStatus(pid int, status, reason string, exitCode *int) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(
		`UPDATE pids SET status = ?, exit_reason = ?, exit_code = ?, updated_at = ? WHERE pid = ?`,
		status, nullable(reason), exitCode, now, pid,
	)
	return err
}

// Get returns the record for pid, or ok=false if absent.
func (r *Registry) Get(pid int) (Record, bool, error) {
	row := r.db.QueryRow(`
		SELECT pid, tool_name, args, prompt, log_path, fifo_path, status, exit_reason, exit_code, started_at, updated_at
		FROM pids WHERE pid = ?`, pid)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (r *Registry) reclaimStale() error {
	rows, err := r.db.Query(`SELECT pid FROM pids WHERE status != ?`, StatusExited)
	if err != nil {
		return err
	}
	var stale []int
	for rows.Next() {
		var pid int
		if err := rows.Scan(&pid); err != nil {
			rows.Close()
			return err
		}
		if !r.isAlive(pid) {
			stale = append(stale, pid)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, pid := range stale {
		if err := r.UpdateStatus(pid, StatusExited, ReasonStaleCleanup, nil); err != nil {
			return err
		}
	}
	return nil
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	var argsJSON string
	var prompt, fifoPath, exitReason sql.NullString
	var exitCode sql.NullInt64
	if err := row.Scan(&rec.PID, &rec.ToolName, &argsJSON, &prompt, &rec.LogPath, &fifoPath, &rec.Status, &exitReason, &exitCode, &rec.StartedAt, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	json.Unmarshal([]byte(argsJSON), &rec.Args)
	rec.Prompt = prompt.String
	rec.FifoPath = fifoPath.String
	rec.ExitReason = exitReason.String
	if exitCode.Valid {
		c := int(exitCode.Int64)
		rec.ExitCode = &c
	}
	return rec, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *Registry) migrate() error {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := r.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := r.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}
