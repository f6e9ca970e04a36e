package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/linemk/order-escrow/internal/domain/models"
)

type NotificationStorage interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationStorage {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (user_id, type, title, message, link_url, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, NOW())
		RETURNING id, created_at`
	if err := r.db.QueryRowContext(ctx, query, n.UserID, n.Type, n.Title, n.Message, n.LinkURL).
		Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}
