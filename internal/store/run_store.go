// Package store persists pipeline runs in SQLite: one row per run, the
// ordered trajectory of each run and every model call made on its behalf.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"paper2nb/internal/logging"
	"paper2nb/internal/perception"
)

// ErrRunNotFound is returned when no run matches an id or id prefix.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the terminal (or current) state of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusExhausted RunStatus = "exhausted"
	StatusAborted   RunStatus = "aborted"
)

// Run is one pipeline invocation.
type Run struct {
	ID              string          `json:"id"`
	PaperID         string          `json:"paper_id"`
	Input           string          `json:"input"`
	ExperimentIndex int             `json:"experiment_index"`
	Status          RunStatus       `json:"status"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	FinishedAt      time.Time       `json:"finished_at,omitempty"`
	ReportPath      string          `json:"report_path,omitempty"`
	Decomposition   json.RawMessage `json:"decomposition,omitempty"`
}

// Outcome is what FinishRun records.
type Outcome struct {
	Status        RunStatus
	Error         string
	ReportPath    string
	Decomposition json.RawMessage
}

// StepRecord is one stored trajectory entry.
type StepRecord struct {
	RunID     string          `json:"run_id"`
	Seq       int             `json:"seq"`
	Step      string          `json:"step"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// RunStore is the SQLite-backed run history.
type RunStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// NewRunStore opens (creating if needed) the database at path.
func NewRunStore(path string) (*RunStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers and keeps PRAGMAs in effect.
	db.SetMaxOpenConns(1)

	s := &RunStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Run store opened: %s", path)
	return s, nil
}

// Path returns the database file path.
func (s *RunStore) Path() string { return s.dbPath }

// Close closes the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

func (s *RunStore) initialize() error {
	schema := `
	PRAGMA busy_timeout = 5000;
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		paper_id TEXT NOT NULL,
		input TEXT NOT NULL,
		experiment_index INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		report_path TEXT,
		decomposition_json TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS trajectory_entries (
		run_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		step TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (run_id, seq),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS llm_traces (
		id TEXT PRIMARY KEY,
		run_id TEXT,
		step TEXT,
		provider TEXT,
		model TEXT,
		prompt TEXT NOT NULL,
		response TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_llm_traces_run ON llm_traces(run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new running run and returns it.
func (s *RunStore) CreateRun(ctx context.Context, input, paperID string, experimentIndex int) (*Run, error) {
	run := &Run{
		ID:              uuid.NewString(),
		PaperID:         paperID,
		Input:           input,
		ExperimentIndex: experimentIndex,
		Status:          StatusRunning,
		StartedAt:       time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, paper_id, input, experiment_index, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.PaperID, run.Input, run.ExperimentIndex, string(run.Status), formatTime(run.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	logging.StoreDebug("Run created: %s paper=%s experiment=%d", run.ID, paperID, experimentIndex)
	return run, nil
}

// FinishRun records the outcome of a run.
func (s *RunStore) FinishRun(ctx context.Context, runID string, out Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, error = ?, finished_at = ?, report_path = ?, decomposition_json = ?
		WHERE id = ?`,
		string(out.Status), nullable(out.Error), formatTime(time.Now()),
		nullable(out.ReportPath), nullable(string(out.Decomposition)), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	logging.StoreDebug("Run finished: %s status=%s", runID, out.Status)
	return nil
}

// AppendStep adds the next trajectory entry of a run. data is stored as JSON.
func (s *RunStore) AppendStep(ctx context.Context, runID, step string, ts time.Time, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode step data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trajectory_entries (run_id, seq, step, timestamp, data)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM trajectory_entries WHERE run_id = ?), ?, ?, ?)`,
		runID, runID, step, formatTime(ts), string(payload))
	if err != nil {
		return fmt.Errorf("failed to append step %s: %w", step, err)
	}
	return nil
}

// StoreLLMTrace implements perception.TraceStore.
func (s *RunStore) StoreLLMTrace(ctx context.Context, trace *perception.Trace) error {
	timer := logging.StartTimer(logging.CategoryStore, "StoreLLMTrace")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO llm_traces
		(id, run_id, step, provider, model, prompt, response, duration_ms, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trace.ID, nullable(trace.RunID), nullable(trace.Step), nullable(trace.Provider), nullable(trace.Model),
		trace.Prompt, trace.Response, trace.DurationMs, trace.Success, nullable(trace.Error),
		formatTime(trace.CreatedAt))
	if err != nil {
		logging.StoreError("Failed to store LLM trace %s: %v", trace.ID, err)
		return fmt.Errorf("failed to store LLM trace: %w", err)
	}
	return nil
}

const runColumns = `id, paper_id, input, experiment_index, status, error, started_at, finished_at, report_path, decomposition_json`

// GetRun returns the run with the given id. A unique id prefix also matches.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, ErrRunNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY (id = ?) DESC LIMIT 2`,
		id, stripWildcards(id)+"%", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	switch {
	case len(runs) == 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case runs[0].ID == id || len(runs) == 1:
		return &runs[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Steps returns a run's trajectory in order.
func (s *RunStore) Steps(ctx context.Context, runID string) ([]StepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, seq, step, timestamp, data FROM trajectory_entries WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var rec StepRecord
		var ts, data string
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Step, &ts, &data); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		rec.Timestamp = parseTime(ts)
		rec.Data = json.RawMessage(data)
		steps = append(steps, rec)
	}
	return steps, rows.Err()
}

// Traces returns the model calls recorded for a run, oldest first.
func (s *RunStore) Traces(ctx context.Context, runID string) ([]perception.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step, provider, model, prompt, response, duration_ms, success, error, created_at
		FROM llm_traces WHERE run_id = ? ORDER BY created_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}
	defer rows.Close()

	var traces []perception.Trace
	for rows.Next() {
		var t perception.Trace
		var runIDCol, step, provider, model, errMsg sql.NullString
		var created string
		if err := rows.Scan(&t.ID, &runIDCol, &step, &provider, &model, &t.Prompt, &t.Response,
			&t.DurationMs, &t.Success, &errMsg, &created); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		t.RunID = nullStr(runIDCol)
		t.Step = nullStr(step)
		t.Provider = nullStr(provider)
		t.Model = nullStr(model)
		t.Error = nullStr(errMsg)
		t.CreatedAt = parseTime(created)
		traces = append(traces, t)
	}
	return traces, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var status, started string
		var errMsg, finished, report, decomposition sql.NullString
		if err := rows.Scan(&r.ID, &r.PaperID, &r.Input, &r.ExperimentIndex, &status, &errMsg,
			&started, &finished, &report, &decomposition); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Status = RunStatus(status)
		r.Error = nullStr(errMsg)
		r.StartedAt = parseTime(started)
		if finished.Valid {
			r.FinishedAt = parseTime(finished.String)
		}
		r.ReportPath = nullStr(report)
		if decomposition.Valid && decomposition.String != "" {
			r.Decomposition = json.RawMessage(decomposition.String)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// nullStr converts a sql.NullString to a plain string (empty if null).
func nullStr(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func stripWildcards(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
