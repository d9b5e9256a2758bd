// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite backend implementation for single-node deployments.
// It stores runs, run messages and the dispatch job queue in one database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tombee/agentrun/internal/controller/backend"
	"github.com/tombee/agentrun/internal/controller/queue"
	agenterrors "github.com/tombee/agentrun/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ backend.RunStore     = (*Backend)(nil)
	_ backend.RunLister    = (*Backend)(nil)
	_ backend.MessageStore = (*Backend)(nil)
	_ backend.Pinger       = (*Backend)(nil)
	_ backend.Backend      = (*Backend)(nil)
	_ queue.Queue          = (*Backend)(nil)
	_ backend.AccountStore = (*Backend)(nil)
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Backend is a SQLite storage backend.
type Backend struct {
	db  *sql.DB
	now func() time.Time
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New creates a new SQLite backend.
func New(cfg Config) (*Backend, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes, so only 1 connection for writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	b := &Backend{db: db, now: func() time.Time { return time.Now().UTC() }}

	if err := b.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

// configurePragmas sets SQLite configuration options.
func (b *Backend) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}

	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// migrate runs database migrations.
func (b *Backend) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			agent_version TEXT,
			status TEXT NOT NULL,
			input TEXT,
			output TEXT,
			current_step INTEGER NOT NULL DEFAULT 0,
			total_steps INTEGER,
			error_message TEXT,
			error_details TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 0,
			dispatch_job_id TEXT,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_user_created ON runs(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task_type ON runs(task_type)`,
		`CREATE TABLE IF NOT EXISTS run_messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			run_id TEXT NOT NULL,
			step_number INTEGER,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_messages_run_created ON run_messages(run_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS job_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			locked_by TEXT,
			locked_at TEXT,
			last_error TEXT,
			created_at TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_job_queue_status ON job_queue(status, id)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			first_name TEXT,
			last_name TEXT,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (
			token TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_tokens_expires ON refresh_tokens(expires_at)`,
	}

	for _, migration := range migrations {
		if _, err := b.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

const runColumns = `id, user_id, task_type, agent_version, status, input, output,
	current_step, total_steps, error_message, error_details, retry_count, max_retries,
	dispatch_job_id, started_at, completed_at, created_at, updated_at`

// CreateRun creates a new run.
func (b *Backend) CreateRun(ctx context.Context, run *backend.Run) error {
	inputJSON, err := marshalNullable(run.Input)
	if err != nil {
		return fmt.Errorf("failed to marshal input: %w", err)
	}
	outputJSON, err := marshalNullable(run.Output)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	detailsJSON, err := marshalNullable(run.ErrorDetails)
	if err != nil {
		return fmt.Errorf("failed to marshal error_details: %w", err)
	}

	now := b.now()
	_, err = b.db.ExecContext(ctx, `INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.TaskType, nullString(run.AgentVersion), string(run.Status),
		inputJSON, outputJSON,
		run.CurrentStep, nullInt(run.TotalSteps), nullString(run.ErrorMessage), detailsJSON,
		run.RetryCount, run.MaxRetries, nullString(run.DispatchJobID),
		formatTime(run.StartedAt), formatTime(run.CompletedAt),
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	run.CreatedAt = now
	run.UpdatedAt = now
	return nil
}

// GetRun retrieves a run by ID.
func (b *Backend) GetRun(ctx context.Context, id string) (*backend.Run, error) {
	row := b.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &agenterrors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRun applies a partial update to an existing run.
func (b *Backend) UpdateRun(ctx context.Context, id string, update backend.RunUpdate) (*backend.Run, error) {
	sets, args, err := updateAssignments(update)
	if err != nil {
		return nil, err
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, b.now().Format(timeLayout))

	query := "UPDATE runs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	if len(update.IfStatus) > 0 {
		placeholders := make([]string, len(update.IfStatus))
		for i, s := range update.IfStatus {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}

	result, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		current, err := b.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, &agenterrors.InvalidTransitionError{
			RunID: id,
			From:  string(current.Status),
			To:    string(update.Target()),
		}
	}

	return b.GetRun(ctx, id)
}

// ListRuns lists runs with optional filtering, newest first.
func (b *Backend) ListRuns(ctx context.Context, filter backend.RunFilter) ([]*backend.Run, int, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.TaskType != "" {
		where += " AND task_type = ?"
		args = append(args, filter.TaskType)
	}

	var total int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	query := "SELECT " + runColumns + " FROM runs" + where + " ORDER BY created_at DESC, id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*backend.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, total, nil
}

// AppendMessage appends a message to a run's log.
func (b *Backend) AppendMessage(ctx context.Context, msg *backend.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = b.now()
	}

	detailsJSON, err := marshalNullable(msg.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO run_messages (id, run_id, step_number, level, message, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RunID, nullInt(msg.StepNumber), string(msg.Level), msg.Message, detailsJSON,
		msg.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

// ListMessages returns messages created strictly after since, oldest first.
func (b *Backend) ListMessages(ctx context.Context, runID string, since *time.Time) ([]*backend.Message, error) {
	query := `SELECT id, run_id, step_number, level, message, details, created_at
		FROM run_messages WHERE run_id = ?`
	args := []any{runID}
	if since != nil {
		query += " AND created_at > ?"
		args = append(args, since.UTC().Format(timeLayout))
	}
	query += " ORDER BY created_at ASC, seq ASC"

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var messages []*backend.Message
	for rows.Next() {
		var (
			msg        backend.Message
			level      string
			stepNumber sql.NullInt64
			details    sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&msg.ID, &msg.RunID, &stepNumber, &level, &msg.Message, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Level = backend.MessageLevel(level)
		if stepNumber.Valid {
			n := int(stepNumber.Int64)
			msg.StepNumber = &n
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &msg.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal details: %w", err)
			}
		}
		msg.CreatedAt = parseTime(createdAt)
		messages = append(messages, &msg)
	}
	return messages, rows.Err()
}

// --- Job Queue Operations ---

// Enqueue adds a job for runID.
func (b *Backend) Enqueue(ctx context.Context, runID string) (string, error) {
	result, err := b.db.ExecContext(ctx,
		`INSERT INTO job_queue (run_id, status, created_at) VALUES (?, 'pending', ?)`,
		runID, b.now().Format(timeLayout))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("failed to read job id: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

// CancelIfUnclaimed deletes the job if no worker has locked it.
func (b *Backend) CancelIfUnclaimed(ctx context.Context, jobID string) (bool, error) {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return false, nil
	}
	result, err := b.db.ExecContext(ctx, `DELETE FROM job_queue WHERE id = ? AND locked_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel job: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Claim locks the oldest pending job in a single statement.
func (b *Backend) Claim(ctx context.Context, workerID string) (*queue.Job, error) {
	now := b.now()
	row := b.db.QueryRowContext(ctx, `
		UPDATE job_queue SET status = 'running', locked_by = ?, locked_at = ?, attempts = attempts + 1
		WHERE id = (SELECT id FROM job_queue WHERE status = 'pending' ORDER BY id LIMIT 1)
		RETURNING id, run_id, attempts, created_at`,
		workerID, now.Format(timeLayout))

	var (
		id        int64
		job       queue.Job
		createdAt string
	)
	err := row.Scan(&id, &job.RunID, &job.Attempts, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.ID = strconv.FormatInt(id, 10)
	job.Status = queue.JobRunning
	job.LockedBy = workerID
	job.LockedAt = &now
	job.CreatedAt = parseTime(createdAt)
	return &job, nil
}

// Complete removes a finished job.
func (b *Backend) Complete(ctx context.Context, jobID string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM job_queue WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail marks a job permanently failed.
func (b *Backend) Fail(ctx context.Context, jobID string, reason string) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE job_queue SET status = 'failed', last_error = ? WHERE id = ?`, reason, jobID)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// GetJob returns a job by id.
func (b *Backend) GetJob(ctx context.Context, jobID string) (*queue.Job, error) {
	var (
		id                            int64
		job                           queue.Job
		lockedBy, lockedAt, lastError sql.NullString
		createdAt                     string
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT id, run_id, status, attempts, locked_by, locked_at, last_error, created_at
		FROM job_queue WHERE id = ?`, jobID).Scan(
		&id, &job.RunID, &job.Status, &job.Attempts, &lockedBy, &lockedAt, &lastError, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &agenterrors.NotFoundError{Resource: "job", ID: jobID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	job.ID = strconv.FormatInt(id, 10)
	job.LockedBy = lockedBy.String
	job.LastError = lastError.String
	if lockedAt.Valid {
		t := parseTime(lockedAt.String)
		job.LockedAt = &t
	}
	job.CreatedAt = parseTime(createdAt)
	return &job, nil
}

// Ping checks the database connection.
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*backend.Run, error) {
	var (
		run                                       backend.Run
		status                                    string
		agentVersion, errorMessage, dispatchJobID sql.NullString
		inputJSON, outputJSON, detailsJSON        sql.NullString
		totalSteps                                sql.NullInt64
		startedAt, completedAt                    sql.NullString
		createdAt, updatedAt                      string
	)

	err := s.Scan(
		&run.ID, &run.UserID, &run.TaskType, &agentVersion, &status, &inputJSON, &outputJSON,
		&run.CurrentStep, &totalSteps, &errorMessage, &detailsJSON, &run.RetryCount, &run.MaxRetries,
		&dispatchJobID, &startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = backend.RunStatus(status)
	run.AgentVersion = agentVersion.String
	run.ErrorMessage = errorMessage.String
	run.DispatchJobID = dispatchJobID.String
	if totalSteps.Valid {
		n := int(totalSteps.Int64)
		run.TotalSteps = &n
	}

	if inputJSON.Valid && inputJSON.String != "" {
		if err := json.Unmarshal([]byte(inputJSON.String), &run.Input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal input: %w", err)
		}
	}
	if outputJSON.Valid && outputJSON.String != "" {
		if err := json.Unmarshal([]byte(outputJSON.String), &run.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}
	if detailsJSON.Valid && detailsJSON.String != "" {
		if err := json.Unmarshal([]byte(detailsJSON.String), &run.ErrorDetails); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error_details: %w", err)
		}
	}

	if startedAt.Valid {
		t := parseTime(startedAt.String)
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		run.CompletedAt = &t
	}
	run.CreatedAt = parseTime(createdAt)
	run.UpdatedAt = parseTime(updatedAt)

	return &run, nil
}

// updateAssignments renders the set fields of update as SET clauses.
func updateAssignments(update backend.RunUpdate) ([]string, []any, error) {
	var (
		sets []string
		args []any
	)
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.CurrentStep != nil {
		sets = append(sets, "current_step = ?")
		args = append(args, *update.CurrentStep)
	}
	if update.TotalSteps != nil {
		sets = append(sets, "total_steps = ?")
		args = append(args, *update.TotalSteps)
	}
	if update.Output != nil {
		data, err := json.Marshal(update.Output)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal output: %w", err)
		}
		sets = append(sets, "output = ?")
		args = append(args, string(data))
	}
	if update.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *update.ErrorMessage)
	}
	if update.ErrorDetails != nil {
		data, err := json.Marshal(update.ErrorDetails)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal error_details: %w", err)
		}
		sets = append(sets, "error_details = ?")
		args = append(args, string(data))
	}
	if update.DispatchJobID != nil {
		sets = append(sets, "dispatch_job_id = ?")
		args = append(args, *update.DispatchJobID)
	}
	if update.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, formatTime(update.StartedAt))
	}
	if update.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, formatTime(update.CompletedAt))
	}
	return sets, args, nil
}

// formatTime returns nil for a nil time, otherwise the fixed-width UTC form.
func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// nullString returns nil if string is empty, otherwise the string.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

// marshalNullable returns nil for nil values so the column stays NULL.
func marshalNullable(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && m == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
