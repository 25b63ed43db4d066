package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/slok/agentbox/internal/model"
	"github.com/slok/agentbox/internal/storage"
)

const taskColumns = `
	id, user_id, prompt, agent, model, repo_url, branch_name,
	install_dependencies, keep_alive, max_duration_seconds,
	status, progress, logs, error, agent_session_id,
	sandbox_id, sandbox_url,
	created_at, updated_at, completed_at`

// CreateTask creates a new task.
func (r *Repository) CreateTask(ctx context.Context, t model.Task) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}

	query := `INSERT INTO tasks (` + taskColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueErr(err) {
			return fmt.Errorf("task %s: %w", t.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert task: %w", err)
	}

	r.logger.Debugf("Created task in repository: %s", t.ID)
	return nil
}

// GetTask retrieves a task by ID.
func (r *Repository) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task: %w", err)
	}

	return &t, nil
}

// ListTasks returns the tasks matching the filters, newest first.
func (r *Repository) ListTasks(ctx context.Context, opts storage.ListTasksOpts) ([]model.Task, error) {
	var where []string
	var args []any
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for _, s := range opts.Statuses {
			placeholders = append(placeholders, "?")
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return tasks, nil
}

// UpdateTask applies fn to the task inside a transaction.
func (r *Repository) UpdateTask(ctx context.Context, id string, fn func(t *model.Task) error) (*model.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // Rollback is safe to call after Commit

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not query task: %w", err)
	}

	if err := fn(&t); err != nil {
		return nil, err
	}
	t.ID = id
	t.UpdatedAt = time.Now().UTC()

	args, err := taskArgs(t)
	if err != nil {
		return nil, err
	}
	query := `
		UPDATE tasks SET
			user_id = ?, prompt = ?, agent = ?, model = ?, repo_url = ?, branch_name = ?,
			install_dependencies = ?, keep_alive = ?, max_duration_seconds = ?,
			status = ?, progress = ?, logs = ?, error = ?, agent_session_id = ?,
			sandbox_id = ?, sandbox_url = ?,
			created_at = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, append(args[1:], id)...); err != nil {
		return nil, fmt.Errorf("could not update task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("could not commit transaction: %w", err)
	}

	return &t, nil
}

// DeleteTask deletes a task, its messages are deleted in cascade.
func (r *Repository) DeleteTask(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("could not delete task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", id, model.ErrNotFound)
	}

	r.logger.Debugf("Deleted task from repository: %s", id)
	return nil
}

func taskArgs(t model.Task) ([]any, error) {
	logs := t.Logs
	if logs == nil {
		logs = []model.LogEntry{}
	}
	logsJSON, err := json.Marshal(logs)
	if err != nil {
		return nil, fmt.Errorf("could not marshal task logs: %w", err)
	}

	var completedAt *int64
	if t.CompletedAt != nil {
		u := t.CompletedAt.Unix()
		completedAt = &u
	}

	return []any{
		t.ID, t.UserID, t.Prompt, string(t.Agent), t.Model, t.RepoURL, t.BranchName,
		boolToInt(t.InstallDependencies), boolToInt(t.KeepAlive), int64(t.MaxDuration.Seconds()),
		string(t.Status), t.Progress, string(logsJSON), t.Error, t.AgentSessionID,
		t.SandboxID, t.SandboxURL,
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(), completedAt,
	}, nil
}

func scanTask(s scanner) (model.Task, error) {
	var t model.Task
	var installDeps, keepAlive int
	var maxDurationSeconds int64
	var logsJSON string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := s.Scan(
		&t.ID, &t.UserID, &t.Prompt, &t.Agent, &t.Model, &t.RepoURL, &t.BranchName,
		&installDeps, &keepAlive, &maxDurationSeconds,
		&t.Status, &t.Progress, &logsJSON, &t.Error, &t.AgentSessionID,
		&t.SandboxID, &t.SandboxURL,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return model.Task{}, err
	}

	t.InstallDependencies = installDeps == 1
	t.KeepAlive = keepAlive == 1
	t.MaxDuration = time.Duration(maxDurationSeconds) * time.Second
	t.CreatedAt = timeFromUnix(createdAt)
	t.UpdatedAt = timeFromUnix(updatedAt)
	if completedAt.Valid {
		c := timeFromUnix(completedAt.Int64)
		t.CompletedAt = &c
	}

	var logs []model.LogEntry
	if err := json.Unmarshal([]byte(logsJSON), &logs); err != nil {
		return model.Task{}, fmt.Errorf("could not unmarshal task logs: %w", err)
	}
	if len(logs) > 0 {
		t.Logs = logs
	}

	return t, nil
}
