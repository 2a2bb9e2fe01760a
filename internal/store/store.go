// Package store archives scan runs and their collected rows in a sqlite
// database. The archive is what `status` and `results` answer from and what
// a resumed run derives its offset from; orchestration itself never reads it.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/drillops/cerberus/internal/model"
)

// ErrNotFound is returned when a run id does not exist in the archive.
var ErrNotFound = errors.New("run not found")

// Run is one archived scan invocation.
type Run struct {
	ID            string
	Template      string
	Modes         []string
	TotalRows     int
	ProcessedRows int
	State         string
	Error         string
	StartedAt     time.Time
	FinishedAt    time.Time // zero while the run is live
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			template TEXT,
			modes TEXT,
			total_rows INTEGER,
			processed_rows INTEGER DEFAULT 0,
			state TEXT,
			error TEXT DEFAULT '',
			started_at INTEGER,
			finished_at INTEGER DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS result_rows (
			run_id TEXT,
			global_idx INTEGER,
			mode TEXT,
			batch_idx INTEGER,
			payload TEXT,
			PRIMARY KEY (run_id, global_idx),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateRun registers a new live run.
func (s *Store) CreateRun(id, template string, modes []string, totalRows int) error {
	_, err := s.db.Exec(
		"INSERT INTO runs (id, template, modes, total_rows, processed_rows, state, started_at) VALUES (?, ?, ?, ?, 0, 'running', ?)",
		id, template, strings.Join(modes, ","), totalRows, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// RecordRow archives one collected row and advances the run's processed-row
// high-water mark. Idempotent per (run, global index): a re-collected row
// replaces the previous payload.
func (s *Store) RecordRow(runID string, row model.ResultRow) error {
	payload, err := json.Marshal(row.Values)
	if err != nil {
		return fmt.Errorf("encode row payload: %w", err)
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO result_rows (run_id, global_idx, mode, batch_idx, payload) VALUES (?, ?, ?, ?, ?)",
		runID, row.GlobalIndex, string(row.Mode), row.BatchIndex, string(payload),
	)
	if err != nil {
		return fmt.Errorf("record row: %w", err)
	}
	_, err = s.db.Exec(
		"UPDATE runs SET processed_rows = MAX(processed_rows, ?) WHERE id = ?",
		row.GlobalIndex+1, runID,
	)
	if err != nil {
		return fmt.Errorf("advance run progress: %w", err)
	}
	return nil
}

// FinishRun closes a run with its terminal state and optional error text.
func (s *Store) FinishRun(id, state, errMsg string) error {
	_, err := s.db.Exec(
		"UPDATE runs SET state = ?, error = ?, finished_at = ? WHERE id = ?",
		state, errMsg, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun looks a run up by id.
func (s *Store) GetRun(id string) (Run, error) {
	return s.scanRun(s.db.QueryRow(
		"SELECT id, template, modes, total_rows, processed_rows, state, error, started_at, finished_at FROM runs WHERE id = ?",
		id,
	))
}

// LatestRun returns the most recently started run.
func (s *Store) LatestRun() (Run, error) {
	return s.scanRun(s.db.QueryRow(
		"SELECT id, template, modes, total_rows, processed_rows, state, error, started_at, finished_at FROM runs ORDER BY started_at DESC, id DESC LIMIT 1",
	))
}

func (s *Store) scanRun(row *sql.Row) (Run, error) {
	var run Run
	var modes string
	var startedAt, finishedAt int64
	err := row.Scan(&run.ID, &run.Template, &modes, &run.TotalRows, &run.ProcessedRows, &run.State, &run.Error, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if modes != "" {
		run.Modes = strings.Split(modes, ",")
	}
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt > 0 {
		run.FinishedAt = time.Unix(finishedAt, 0)
	}
	return run, nil
}

// Rows returns a run's archived rows in global-index order.
func (s *Store) Rows(runID string) ([]model.ResultRow, error) {
	rows, err := s.db.Query(
		"SELECT global_idx, mode, batch_idx, payload FROM result_rows WHERE run_id = ? ORDER BY global_idx",
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rows: %w", err)
	}
	defer rows.Close()

	var results []model.ResultRow
	for rows.Next() {
		var result model.ResultRow
		var mode, payload string
		if err := rows.Scan(&result.GlobalIndex, &mode, &result.BatchIndex, &payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		result.Mode = model.Mode(mode)
		if err := json.Unmarshal([]byte(payload), &result.Values); err != nil {
			return nil, fmt.Errorf("decode row payload: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
