package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/linemk/order-escrow/internal/domain/models"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentConflict: у заказа уже есть другой успешный платёж
	ErrPaymentConflict = errors.New("order already has a paid payment")
)

const pqUniqueViolation = "23505"

type PaymentStorage interface {
	// CreatePayment записывает платёж. inserted = false, если payment_id уже записан.
	CreatePayment(ctx context.Context, tx *sql.Tx, p *models.Payment) (inserted bool, err error)
	GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)
	// PromotePayment переводит ранее записанную неуспешную попытку того же заказа в paid
	PromotePayment(ctx context.Context, tx *sql.Tx, p *models.Payment) (int64, error)
}

type paymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) PaymentStorage {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) CreatePayment(ctx context.Context, tx *sql.Tx, p *models.Payment) (bool, error) {
	query := `
		INSERT INTO payments (payment_id, order_id, amount, status, created_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (payment_id) DO NOTHING
		RETURNING id`
	err := tx.QueryRowContext(ctx, query,
		p.PaymentID, p.OrderID, p.Amount, string(p.Status), p.CreatedAt, p.PaidAt,
	).Scan(&p.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return false, ErrPaymentConflict
		}
		return false, fmt.Errorf("failed to create payment: %w", err)
	}
	return true, nil
}

func (r *paymentRepository) PromotePayment(ctx context.Context, tx *sql.Tx, p *models.Payment) (int64, error) {
	query := `
		UPDATE payments
		SET status = $3, amount = $4, paid_at = $5
		WHERE payment_id = $1 AND order_id = $2 AND status IN ('failed', 'cancelled')`
	res, err := tx.ExecContext(ctx, query, p.PaymentID, p.OrderID, string(models.PaymentPaid), p.Amount, p.PaidAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return 0, ErrPaymentConflict
		}
		return 0, fmt.Errorf("failed to promote payment %s: %w", p.PaymentID, err)
	}
	return res.RowsAffected()
}

func (r *paymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	p := &models.Payment{}
	var status string
	row := r.db.QueryRowContext(ctx,
		"SELECT id, payment_id, order_id, amount, status, created_at, paid_at FROM payments WHERE payment_id = $1",
		paymentID,
	)
	if err := row.Scan(&p.ID, &p.PaymentID, &p.OrderID, &p.Amount, &status, &p.CreatedAt, &p.PaidAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	p.Status = models.PaymentStatus(status)
	return p, nil
}

// NewPaidPayment: запись успешного платежа
func NewPaidPayment(paymentID string, orderID uuid.UUID, amount int64, at time.Time) *models.Payment {
	paidAt := at
	return &models.Payment{
		PaymentID: paymentID,
		OrderID:   orderID,
		Amount:    amount,
		Status:    models.PaymentPaid,
		CreatedAt: at,
		PaidAt:    &paidAt,
	}
}
