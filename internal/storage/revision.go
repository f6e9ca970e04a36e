package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
)

// RevisionStorage: запросы покупателя на доработку
type RevisionStorage interface {
	// CreateRevisionRequest создаёт открытый запрос в рамках транзакции перехода
	CreateRevisionRequest(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, reason string, at time.Time) (int64, error)
	// CompleteOpenRevisions закрывает все открытые запросы по заказу
	CompleteOpenRevisions(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, at time.Time) (int64, error)
	ListRevisions(ctx context.Context, orderID uuid.UUID) ([]*models.RevisionRequest, error)
}

type revisionRepository struct {
	db *sql.DB
}

func NewRevisionRepository(db *sql.DB) RevisionStorage {
	return &revisionRepository{db: db}
}

func (r *revisionRepository) CreateRevisionRequest(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, reason string, at time.Time) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx,
		"INSERT INTO revision_requests (order_id, reason, requested_at) VALUES ($1, $2, $3) RETURNING id",
		orderID, reason, at,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create revision request: %w", err)
	}
	return id, nil
}

func (r *revisionRepository) CompleteOpenRevisions(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, at time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE revision_requests SET completed_at = $1 WHERE order_id = $2 AND completed_at IS NULL",
		at, orderID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to complete revision requests: %w", err)
	}
	return res.RowsAffected()
}

func (r *revisionRepository) ListRevisions(ctx context.Context, orderID uuid.UUID) ([]*models.RevisionRequest, error) {
	query := `
		SELECT id, order_id, reason, requested_at, completed_at
		FROM revision_requests
		WHERE order_id = $1
		ORDER BY requested_at`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query revision requests: %w", err)
	}
	defer rows.Close()

	var revisions []*models.RevisionRequest
	for rows.Next() {
		rev := &models.RevisionRequest{}
		if err := rows.Scan(&rev.ID, &rev.OrderID, &rev.Reason, &rev.RequestedAt, &rev.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revision request: %w", err)
		}
		revisions = append(revisions, rev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return revisions, nil
}
