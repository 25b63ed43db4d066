package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/slok/agentbox/internal/storage"
)

// Increment increments the user daily counter if it is below the limit.
func (r *Repository) Increment(ctx context.Context, userID string, day time.Time, limit int) (int, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	key := storage.DayKey(day)
	count, err := quotaCount(ctx, tx, userID, key)
	if err != nil {
		return 0, false, err
	}
	if count >= limit {
		return count, false, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO quotas (user_id, day, count) VALUES (?, ?, 1)
		ON CONFLICT (user_id, day) DO UPDATE SET count = count + 1`, userID, key)
	if err != nil {
		return 0, false, fmt.Errorf("could not increment quota: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("could not commit transaction: %w", err)
	}

	return count + 1, true, nil
}

// Decrement decrements the user daily counter if it is above zero.
func (r *Repository) Decrement(ctx context.Context, userID string, day time.Time) (int, error) {
	key := storage.DayKey(day)
	_, err := r.db.ExecContext(ctx, `
		UPDATE quotas SET count = count - 1 WHERE user_id = ? AND day = ? AND count > 0`, userID, key)
	if err != nil {
		return 0, fmt.Errorf("could not decrement quota: %w", err)
	}
	return quotaCount(ctx, r.db, userID, key)
}

// Count returns the user daily counter.
func (r *Repository) Count(ctx context.Context, userID string, day time.Time) (int, error) {
	return quotaCount(ctx, r.db, userID, storage.DayKey(day))
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func quotaCount(ctx context.Context, q queryRower, userID, day string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `SELECT count FROM quotas WHERE user_id = ? AND day = ?`, userID, day).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("could not query quota: %w", err)
	}
	return count, nil
}
