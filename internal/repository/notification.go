package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
)

const notificationCols = `id, user_id, type, title, body, data, is_read, COALESCE(dedup_key, ''), created_at`

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

func scanNotification(s rowScanner, n *model.Notification) error {
	return s.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Data, &n.IsRead, &n.DedupKey, &n.CreatedAt)
}

// CreateNotification inserts n unless (user, dedup key) already exists; then n
// is replaced with the stored row.
func (r *NotificationRepository) CreateNotification(ctx context.Context, n *model.Notification) (bool, error) {
	defer logger.DeferLogDuration("notification.Create", time.Now())()
	data := n.Data
	if data == nil {
		data = map[string]string{}
	}
	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO notifications (id, user_id, type, title, body, data, is_read, dedup_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, dedup_key) WHERE dedup_key IS NOT NULL DO NOTHING
		 RETURNING id`,
		n.ID, n.UserID, n.Type, n.Title, n.Body, data, n.IsRead, nullable(n.DedupKey), n.CreatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = scanNotification(r.pool.QueryRow(ctx,
			`SELECT `+notificationCols+` FROM notifications WHERE user_id = $1 AND dedup_key = $2`,
			n.UserID, n.DedupKey), n)
		if err != nil {
			return false, fmt.Errorf("notificationRepo.CreateNotification dedup: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("notificationRepo.CreateNotification: %w", err)
	}
	return true, nil
}

func (r *NotificationRepository) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notification.List", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+notificationCols+` FROM notifications
		 WHERE user_id = $1 AND (NOT $2 OR NOT is_read)
		 ORDER BY created_at DESC
		 LIMIT $3`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("notificationRepo.ListNotifications query: %w", err)
	}
	defer rows.Close()

	list := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		if err := scanNotification(rows, &n); err != nil {
			return nil, fmt.Errorf("notificationRepo.ListNotifications scan: %w", err)
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notificationRepo.ListNotifications rows: %w", err)
	}
	return list, nil
}

func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, userID, id string) error {
	defer logger.DeferLogDuration("notification.MarkRead", time.Now())()
	if !validID(id) {
		return ErrNotFound
	}
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("notificationRepo.MarkNotificationRead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *NotificationRepository) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	defer logger.DeferLogDuration("notification.MarkAllRead", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("notificationRepo.MarkAllNotificationsRead: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *NotificationRepository) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("notificationRepo.CountUnreadNotifications: %w", err)
	}
	return count, nil
}
