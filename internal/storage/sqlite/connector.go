package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slok/agentbox/internal/model"
)

// UpsertConnector creates or replaces a user connector.
func (r *Repository) UpsertConnector(ctx context.Context, c model.Connector) error {
	args := c.Args
	if args == nil {
		args = []string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("could not marshal connector args: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO connectors (id, user_id, name, type, command, args, url, sealed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, name) DO UPDATE SET
			type = excluded.type,
			command = excluded.command,
			args = excluded.args,
			url = excluded.url,
			sealed = excluded.sealed`,
		c.ID, c.UserID, c.Name, string(c.Type), c.Command, string(argsJSON), c.URL, c.Sealed, c.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("could not upsert connector: %w", err)
	}

	return nil
}

// ListConnectors returns the user connectors sorted by name.
func (r *Repository) ListConnectors(ctx context.Context, userID string) ([]model.Connector, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, type, command, args, url, sealed, created_at
		FROM connectors
		WHERE user_id = ?
		ORDER BY name ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("could not query connectors: %w", err)
	}
	defer rows.Close()

	cs := []model.Connector{}
	for rows.Next() {
		var c model.Connector
		var argsJSON string
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.Name, &c.Type, &c.Command, &argsJSON, &c.URL, &c.Sealed, &createdAt); err != nil {
			return nil, fmt.Errorf("could not scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &c.Args); err != nil {
			return nil, fmt.Errorf("could not unmarshal connector args: %w", err)
		}
		if len(c.Args) == 0 {
			c.Args = nil
		}
		c.CreatedAt = timeFromUnix(createdAt)
		cs = append(cs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return cs, nil
}

// DeleteConnector deletes a user connector.
func (r *Repository) DeleteConnector(ctx context.Context, userID, name string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connectors WHERE user_id = ? AND name = ?`, userID, name)
	if err != nil {
		return fmt.Errorf("could not delete connector: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("connector %s: %w", name, model.ErrNotFound)
	}

	return nil
}
