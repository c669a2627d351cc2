// Package store keeps the history of runs, rounds and evolution events in a
// SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/boristopalov/tutor/pkg/core"
	"github.com/boristopalov/tutor/pkg/logx"
)

// ErrNotFound is returned for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run is one stored run row.
type Run struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	TotalRounds int           `json:"total_rounds"`
	StartedAt   time.Time     `json:"started_at"`
	FinishedAt  *time.Time    `json:"finished_at,omitempty"`
	Error       string        `json:"error,omitempty"`
	Summary     *core.Summary `json:"summary,omitempty"`
}

// Store implements core.Notifier by persisting every event it receives.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	statements := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			total_rounds INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			error TEXT NOT NULL DEFAULT '',
			summary TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			topic TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			outcome TEXT NOT NULL,
			student_action TEXT NOT NULL,
			student_reward REAL NOT NULL,
			teacher_action TEXT NOT NULL,
			teacher_reward REAL NOT NULL,
			degraded INTEGER NOT NULL,
			record TEXT NOT NULL,
			PRIMARY KEY (run_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS evolution_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			round INTEGER NOT NULL,
			role TEXT NOT NULL,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL,
			trailing_average REAL NOT NULL,
			created_at TEXT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_evolution_run ON evolution_events(run_id)",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Notify implements core.Notifier. Write failures are logged and dropped.
func (s *Store) Notify(ev core.Event) {
	ctx := context.Background()
	var err error
	switch ev.Kind {
	case core.EventRunStarted:
		err = s.StartRun(ctx, ev.RunID, ev.TotalRounds, ev.Timestamp)
	case core.EventRoundCompleted:
		if ev.Round != nil {
			err = s.SaveRound(ctx, ev.RunID, *ev.Round)
		}
	case core.EventEvolution:
		if ev.Evolution != nil {
			err = s.SaveEvolution(ctx, ev.RunID, *ev.Evolution)
		}
	case core.EventRunCompleted:
		err = s.FinishRun(ctx, ev.RunID, "completed", "", ev.Summary, ev.Timestamp)
	case core.EventRunFailed:
		status := "failed"
		if ev.Stopped {
			status = "stopped"
		}
		err = s.FinishRun(ctx, ev.RunID, status, ev.Error, ev.Summary, ev.Timestamp)
	}
	if err != nil {
		logx.Warnf("failed to store %s event for %s: %v", ev.Kind, ev.RunID, err)
	}
}

func (s *Store) StartRun(ctx context.Context, runID string, totalRounds int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, total_rounds, started_at) VALUES (?, 'running', ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = 'running', total_rounds = excluded.total_rounds, started_at = excluded.started_at`,
		runID, totalRounds, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (s *Store) SaveRound(ctx context.Context, runID string, rec core.RoundRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode round: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO rounds
		 (run_id, idx, topic, difficulty, outcome, student_action, student_reward, teacher_action, teacher_reward, degraded, record)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, rec.Index, rec.Topic, rec.Difficulty, string(rec.Outcome),
		string(rec.Student.Action), rec.Student.Reward,
		string(rec.Teacher.Action), rec.Teacher.Reward,
		rec.Degraded, string(data))
	if err != nil {
		return fmt.Errorf("failed to insert round %d: %w", rec.Index, err)
	}
	return nil
}

func (s *Store) SaveEvolution(ctx context.Context, runID string, ev core.EvolutionEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evolution_events (run_id, round, role, kind, detail, trailing_average, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, ev.Round, string(ev.Role), string(ev.Kind), ev.Detail, ev.TrailingAverage, formatTime(ev.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to insert evolution event: %w", err)
	}
	return nil
}

// FinishRun records the final status of a run. A nil summary leaves the
// stored one untouched.
func (s *Store) FinishRun(ctx context.Context, runID, status, errMsg string, summary *core.Summary, at time.Time) error {
	var encoded sql.NullString
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		encoded = sql.NullString{String: string(data), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ?, summary = COALESCE(?, summary) WHERE id = ?`,
		status, errMsg, formatTime(at), encoded, runID)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// runs rejected by validation never started
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO runs (id, status, total_rounds, started_at, finished_at, error, summary) VALUES (?, ?, 0, ?, ?, ?, ?)`,
			runID, status, formatTime(at), formatTime(at), errMsg, encoded)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
	}
	return nil
}

// Run returns a stored run.
func (s *Store) Run(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, total_rounds, started_at, finished_at, error, summary FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

// Runs lists the most recent runs first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, total_rounds, started_at, finished_at, error, summary FROM runs
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Rounds returns the rounds of a run in index order.
func (s *Store) Rounds(ctx context.Context, runID string) ([]core.RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM rounds WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer rows.Close()

	var out []core.RoundRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		var rec core.RoundRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode round: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Events returns the evolution events of a run in the order they happened.
func (s *Store) Events(ctx context.Context, runID string) ([]core.EvolutionEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round, role, kind, detail, trailing_average, created_at FROM evolution_events
		 WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evolution events: %w", err)
	}
	defer rows.Close()

	var out []core.EvolutionEvent
	for rows.Next() {
		var (
			ev        core.EvolutionEvent
			role      string
			kind      string
			createdAt string
		)
		if err := rows.Scan(&ev.Round, &role, &kind, &ev.Detail, &ev.TrailingAverage, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan evolution event: %w", err)
		}
		ev.Role = core.Role(role)
		ev.Kind = core.EvolutionKind(kind)
		ev.Timestamp = parseTime(createdAt)
		out = append(out, ev)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r          Run
		startedAt  string
		finishedAt sql.NullString
		summary    sql.NullString
	)
	if err := sc.Scan(&r.ID, &r.Status, &r.TotalRounds, &startedAt, &finishedAt, &r.Error, &summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	r.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		r.FinishedAt = &t
	}
	if summary.Valid {
		var s core.Summary
		if err := json.Unmarshal([]byte(summary.String), &s); err != nil {
			return Run{}, fmt.Errorf("failed to decode summary: %w", err)
		}
		r.Summary = &s
	}
	return r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
