package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/svezina/internal/model"
)

// InsertNotification stores a delivered notification unless one with the
// same fingerprint already exists. It reports whether a row was added.
func InsertNotification(ctx context.Context, db *sql.DB, dedupeKey, fingerprint, title, body string) (bool, error) {
	result, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications (dedupe_key, fingerprint, title, body) VALUES (?, ?, ?, ?)`,
		dedupeKey, fingerprint, title, body,
	)
	if err != nil {
		return false, fmt.Errorf("inserting notification: %w", err)
	}
	return affected(result)
}

// ListNotifications returns notifications newest first.
func ListNotifications(ctx context.Context, db *sql.DB, unreadOnly bool) ([]model.Notification, error) {
	query := `SELECT id, dedupe_key, title, body, created_at, read_at FROM notifications`
	if unreadOnly {
		query += ` WHERE read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var list []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.DedupeKey, &n.Title, &n.Body, &n.CreatedAt, &n.ReadAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		list = append(list, n)
	}
	return list, rows.Err()
}

// MarkNotificationRead sets read_at on an unread notification. It reports
// whether the notification exists.
func MarkNotificationRead(ctx context.Context, db *sql.DB, id int64) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking notification: %w", err)
	}
	if exists == 0 {
		return false, nil
	}

	_, err = db.ExecContext(ctx,
		`UPDATE notifications SET read_at = CURRENT_TIMESTAMP WHERE id = ? AND read_at IS NULL`, id,
	)
	if err != nil {
		return false, fmt.Errorf("marking notification read: %w", err)
	}
	return true, nil
}
