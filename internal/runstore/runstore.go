// Package runstore persists subagent run results to SQLite for audit and
// for continuation of paused runs.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	// SQLite driver (required for database/sql registration).
	_ "github.com/mattn/go-sqlite3"

	"github.com/praxis-ai/praxis/internal/errors"
	"github.com/praxis-ai/praxis/pkg/protocol"
)

// Store manages the run database.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite database at the given path.
// Creates the database and tables if they don't exist.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subagent_runs (
		task_id       TEXT PRIMARY KEY,
		role          TEXT NOT NULL,
		prompt        TEXT NOT NULL,
		working_dir   TEXT,
		status        TEXT NOT NULL,
		summary       TEXT,
		error         TEXT,
		history_json  TEXT,
		input_tokens  INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
		updated_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_runs_status ON subagent_runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON subagent_runs(created_at DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record upserts a run's terminal result. Continuations overwrite the
// paused row for the same task id.
func (s *Store) Record(ctx context.Context, task protocol.SubagentTask, result protocol.SubagentResult) error {
	var historyJSON []byte
	if len(result.FullHistory) > 0 {
		var err error
		historyJSON, err = json.Marshal(result.FullHistory)
		if err != nil {
			return fmt.Errorf("encode run history: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subagent_runs
			(task_id, role, prompt, working_dir, status, summary, error, history_json, input_tokens, output_tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status        = excluded.status,
			summary       = excluded.summary,
			error         = excluded.error,
			history_json  = excluded.history_json,
			input_tokens  = excluded.input_tokens,
			output_tokens = excluded.output_tokens,
			updated_at    = strftime('%s', 'now')`,
		task.ID, string(task.Role), task.Prompt, task.WorkingDir,
		string(result.Status), result.Summary, result.Error, string(historyJSON),
		result.Usage.Input, result.Usage.Output)
	return err
}

// Load fetches a recorded run by task id.
func (s *Store) Load(ctx context.Context, taskID string) (protocol.SubagentTask, protocol.SubagentResult, error) {
	var (
		task        protocol.SubagentTask
		result      protocol.SubagentResult
		role        string
		status      string
		historyJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT task_id, role, prompt, working_dir, status, summary, error, history_json, input_tokens, output_tokens
		FROM subagent_runs WHERE task_id = ?`, taskID).Scan(
		&task.ID, &role, &task.Prompt, &task.WorkingDir,
		&status, &result.Summary, &result.Error, &historyJSON,
		&result.Usage.Input, &result.Usage.Output)
	if err == sql.ErrNoRows {
		return task, result, errors.Errorf(errors.CodeFileNotFound,
			"no recorded run for task %s", taskID)
	}
	if err != nil {
		return task, result, err
	}

	task.Role = protocol.SubagentRole(role)
	result.TaskID = task.ID
	result.Role = task.Role
	result.Status = protocol.SubagentStatus(status)
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &result.FullHistory); err != nil {
			return task, result, fmt.Errorf("decode run history: %w", err)
		}
	}
	return task, result, nil
}

// Recent lists the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]protocol.SubagentResult, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, role, status, summary, error, input_tokens, output_tokens
		FROM subagent_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []protocol.SubagentResult
	for rows.Next() {
		var (
			res    protocol.SubagentResult
			role   string
			status string
		)
		if err := rows.Scan(&res.TaskID, &role, &status, &res.Summary, &res.Error,
			&res.Usage.Input, &res.Usage.Output); err != nil {
			return nil, err
		}
		res.Role = protocol.SubagentRole(role)
		res.Status = protocol.SubagentStatus(status)
		results = append(results, res)
	}
	return results, rows.Err()
}
