package store

import (
	"context"
	"fmt"

	"github.com/avelkova/taskbus/internal/domain"
	"github.com/jackc/pgx/v5"
)

func (s *PostgresStore) CreateNotification(ctx context.Context, userID int64, title, message string) (*domain.Notification, error) {
	var n domain.Notification
	err := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (user_id, title, message, is_read)
		VALUES ($1, $2, $3, false)
		RETURNING id, user_id, title, message, is_read, created_at, read_at
	`, userID, title, message).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt, &n.ReadAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting notification: %w", err)
	}
	return &n, nil
}

func (s *PostgresStore) GetNotification(ctx context.Context, id int64) (*domain.Notification, error) {
	var n domain.Notification
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, title, message, is_read, created_at, read_at
		FROM notifications WHERE id = $1
	`, id).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt, &n.ReadAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying notification: %w", err)
	}
	return &n, nil
}

func (s *PostgresStore) ListUserNotifications(ctx context.Context, userID int64, offset, limit int) ([]domain.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, title, message, is_read, created_at, read_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		OFFSET $2 LIMIT $3
	`, userID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt, &n.ReadAt)
		if err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if notifications == nil {
		notifications = []domain.Notification{}
	}

	return notifications, nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id int64) (*domain.Notification, error) {
	var n domain.Notification
	err := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = true, read_at = NOW()
		WHERE id = $1
		RETURNING id, user_id, title, message, is_read, created_at, read_at
	`, id).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt, &n.ReadAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("marking notification read: %w", err)
	}
	return &n, nil
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET is_read = true, read_at = NOW()
		WHERE user_id = $1 AND is_read = false
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications read: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("deleting notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
