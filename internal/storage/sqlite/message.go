package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/agentbox/internal/model"
)

// CreateMessage creates a new task message.
func (r *Repository) CreateMessage(ctx context.Context, m model.Message) error {
	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = m.CreatedAt
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, task_id, role, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.TaskID, string(m.Role), m.Content, m.CreatedAt.Unix(), updatedAt.Unix(),
	)
	if err != nil {
		if isForeignKeyErr(err) {
			return fmt.Errorf("task %s: %w", m.TaskID, model.ErrNotFound)
		}
		if isUniqueErr(err) {
			return fmt.Errorf("message %s: %w", m.ID, model.ErrAlreadyExists)
		}
		return fmt.Errorf("could not insert message: %w", err)
	}

	return nil
}

// AppendMessageContent appends a delta to a message content.
func (r *Repository) AppendMessageContent(ctx context.Context, id string, delta string) error {
	return r.updateMessage(ctx, `UPDATE messages SET content = content || ?, updated_at = ? WHERE id = ?`, id, delta)
}

// SetMessageContent replaces a message content.
func (r *Repository) SetMessageContent(ctx context.Context, id string, content string) error {
	return r.updateMessage(ctx, `UPDATE messages SET content = ?, updated_at = ? WHERE id = ?`, id, content)
}

func (r *Repository) updateMessage(ctx context.Context, query, id, value string) error {
	result, err := r.db.ExecContext(ctx, query, value, time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("could not update message: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("message %s: %w", id, model.ErrNotFound)
	}

	return nil
}

// ListMessages returns the task messages in creation order.
func (r *Repository) ListMessages(ctx context.Context, taskID string) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, role, content, created_at, updated_at
		FROM messages
		WHERE task_id = ?
		ORDER BY created_at ASC, rowid ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("could not query messages: %w", err)
	}
	defer rows.Close()

	msgs := []model.Message{}
	for rows.Next() {
		var m model.Message
		var createdAt, updatedAt int64
		if err := rows.Scan(&m.ID, &m.TaskID, &m.Role, &m.Content, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		m.CreatedAt = timeFromUnix(createdAt)
		m.UpdatedAt = timeFromUnix(updatedAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return msgs, nil
}
