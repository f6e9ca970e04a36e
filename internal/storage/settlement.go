package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
)

var ErrSettlementNotFound = errors.New("settlement not found")

// SettlementStorage: журнал расчётов с продавцами.
// Сумма и продавец копируются из заказа при создании и больше не меняются.
type SettlementStorage interface {
	// CreateSettlementFromOrder создаёт pending-запись в той же транзакции, что и переход в paid
	CreateSettlementFromOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, at time.Time) (bool, error)
	// ConfirmSettlement переводит pending -> confirmed, если заказ завершён
	ConfirmSettlement(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error)
	// CancelSettlement отменяет ещё не выплаченный расчёт
	CancelSettlement(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error)
	// MarkPaidOut переводит confirmed -> paid_out
	MarkPaidOut(ctx context.Context, id int64, at time.Time) (int64, error)
	// ListAwaitingPayout: подтверждённые и ещё не выплаченные расчёты
	ListAwaitingPayout(ctx context.Context) ([]*models.Settlement, error)
	// ReconcileConfirmed подтверждает pending-расчёты завершённых заказов
	ReconcileConfirmed(ctx context.Context, at time.Time, limit int) (int64, error)
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Settlement, error)
	GetByID(ctx context.Context, id int64) (*models.Settlement, error)
}

const settlementColumns = `id, order_id, seller_id, amount, status, created_at, confirmed_at, paid_out_at, cancelled_at`

type settlementRepository struct {
	db *sql.DB
}

func NewSettlementRepository(db *sql.DB) SettlementStorage {
	return &settlementRepository{db: db}
}

func scanSettlement(row rowScanner) (*models.Settlement, error) {
	s := &models.Settlement{}
	var status string
	if err := row.Scan(&s.ID, &s.OrderID, &s.SellerID, &s.Amount, &status,
		&s.CreatedAt, &s.ConfirmedAt, &s.PaidOutAt, &s.CancelledAt); err != nil {
		return nil, err
	}
	s.Status = models.SettlementStatus(status)
	return s, nil
}

func (r *settlementRepository) CreateSettlementFromOrder(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, at time.Time) (bool, error) {
	query := `
		INSERT INTO order_settlements (order_id, seller_id, amount, status, created_at)
		SELECT id, seller_id, amount, $2, $3 FROM orders WHERE id = $1
		ON CONFLICT (order_id) DO NOTHING`
	res, err := tx.ExecContext(ctx, query, orderID, string(models.SettlementPending), at)
	if err != nil {
		return false, fmt.Errorf("failed to create settlement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *settlementRepository) ConfirmSettlement(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error) {
	query := `
		UPDATE order_settlements s
		SET status = $1, confirmed_at = $2
		FROM orders o
		WHERE s.order_id = $3 AND s.status = $4 AND o.id = s.order_id AND o.status = $5`
	res, err := r.db.ExecContext(ctx, query,
		string(models.SettlementConfirmed), at, orderID,
		string(models.SettlementPending), string(models.StatusCompleted),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to confirm settlement: %w", err)
	}
	return res.RowsAffected()
}

func (r *settlementRepository) CancelSettlement(ctx context.Context, orderID uuid.UUID, at time.Time) (int64, error) {
	query := `
		UPDATE order_settlements
		SET status = $1, cancelled_at = $2
		WHERE order_id = $3 AND status IN ($4, $5)`
	res, err := r.db.ExecContext(ctx, query,
		string(models.SettlementCancelled), at, orderID,
		string(models.SettlementPending), string(models.SettlementConfirmed),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel settlement: %w", err)
	}
	return res.RowsAffected()
}

func (r *settlementRepository) MarkPaidOut(ctx context.Context, id int64, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE order_settlements SET status = $1, paid_out_at = $2 WHERE id = $3 AND status = $4",
		string(models.SettlementPaidOut), at, id, string(models.SettlementConfirmed),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark settlement paid out: %w", err)
	}
	return res.RowsAffected()
}

func (r *settlementRepository) ListAwaitingPayout(ctx context.Context) ([]*models.Settlement, error) {
	query := `
		SELECT ` + settlementColumns + `
		FROM order_settlements
		WHERE status = $1 AND paid_out_at IS NULL
		ORDER BY confirmed_at`
	rows, err := r.db.QueryContext(ctx, query, string(models.SettlementConfirmed))
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	settlements := make([]*models.Settlement, 0)
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return settlements, nil
}

func (r *settlementRepository) ReconcileConfirmed(ctx context.Context, at time.Time, limit int) (int64, error) {
	query := `
		UPDATE order_settlements s
		SET status = $1, confirmed_at = COALESCE(o.completed_at, $2)
		FROM orders o
		WHERE o.id = s.order_id AND o.status = $3 AND s.status = $4
		  AND s.id IN (
			SELECT s2.id FROM order_settlements s2
			JOIN orders o2 ON o2.id = s2.order_id
			WHERE s2.status = $4 AND o2.status = $3
			ORDER BY s2.id
			LIMIT $5)`
	res, err := r.db.ExecContext(ctx, query,
		string(models.SettlementConfirmed), at, string(models.StatusCompleted),
		string(models.SettlementPending), limit,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile settlements: %w", err)
	}
	return res.RowsAffected()
}

func (r *settlementRepository) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Settlement, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+settlementColumns+" FROM order_settlements WHERE order_id = $1", orderID)
	s, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettlementNotFound
		}
		return nil, err
	}
	return s, nil
}

func (r *settlementRepository) GetByID(ctx context.Context, id int64) (*models.Settlement, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+settlementColumns+" FROM order_settlements WHERE id = $1", id)
	s, err := scanSettlement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSettlementNotFound
		}
		return nil, err
	}
	return s, nil
}
