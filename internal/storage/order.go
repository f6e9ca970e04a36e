package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/linemk/order-escrow/internal/domain/models"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrEmptySourceStates = errors.New("transition has no source states")
	ErrIllegalTransition = errors.New("transition is not in the lifecycle table")
)

// OrderStorage описывает методы для работы с заказами.
// Статус заказа меняется только через Transition.
type OrderStorage interface {
	// GetOrderByID возвращает заказ по идентификатору
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// GetOrderByMerchantUID ищет заказ по merchant_uid (ссылка для платёжного шлюза)
	GetOrderByMerchantUID(ctx context.Context, merchantUID string) (*models.Order, error)
	// Transition: условный переход статуса, возвращает число затронутых строк (0 или 1)
	Transition(ctx context.Context, tx *sql.Tx, p TransitionParams) (int64, error)
	// ListAutoConfirmCandidates выбирает заказы, у которых истёк срок подтверждения
	ListAutoConfirmCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)
}

// TransitionParams: параметры условного перехода
type TransitionParams struct {
	OrderID uuid.UUID
	From    []models.OrderStatus
	To      models.OrderStatus
	At      time.Time
	// Stamps выставляются один раз: уже заполненная колонка не перезаписывается
	Stamps []models.Stamp

	AutoConfirmAt *time.Time
	PaymentID     *string

	// дополнительные условия WHERE
	DeadlineNotAfter      *time.Time
	RequireRevisionBudget bool
	RequireNoOpenRevision bool

	ConsumeRevision bool
}

// ParamsFor собирает параметры перехода из таблицы переходов
func ParamsFor(t models.Transition, orderID uuid.UUID, at time.Time) TransitionParams {
	return TransitionParams{
		OrderID: orderID,
		From:    t.From,
		To:      t.To,
		At:      at,
		Stamps:  t.Stamps,
	}
}

const orderColumns = `id, buyer_id, seller_id, amount, delivery_days, revision_count, revisions_used,
	merchant_uid, payment_id, status, created_at, paid_at, delivered_at, auto_confirm_at, completed_at, cancelled_at`

const openRevisionExists = `EXISTS (SELECT 1 FROM revision_requests r WHERE r.order_id = orders.id AND r.completed_at IS NULL)`

// orderRepository: конкретная реализация OrderStorage.
type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *sql.DB) OrderStorage {
	return &orderRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	var status string
	if err := row.Scan(
		&order.ID, &order.BuyerID, &order.SellerID, &order.Amount, &order.DeliveryDays,
		&order.RevisionCount, &order.RevisionsUsed, &order.MerchantUID, &order.PaymentID, &status,
		&order.CreatedAt, &order.PaidAt, &order.DeliveredAt, &order.AutoConfirmAt,
		&order.CompletedAt, &order.CancelledAt,
	); err != nil {
		return nil, err
	}
	st, err := models.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}
	order.Status = st
	return order, nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

func (r *orderRepository) GetOrderByMerchantUID(ctx context.Context, merchantUID string) (*models.Order, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE merchant_uid = $1", merchantUID)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return order, nil
}

// Transition выполняет UPDATE ... WHERE id = ? AND status = ANY(?).
// Единственная точка записи orders.status: победитель гонки определяется числом затронутых строк.
func (r *orderRepository) Transition(ctx context.Context, tx *sql.Tx, p TransitionParams) (int64, error) {
	query, args, err := buildTransition(p)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to transition order %s to %s: %w", p.OrderID, p.To, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return affected, nil
}

func buildTransition(p TransitionParams) (string, []any, error) {
	if len(p.From) == 0 {
		return "", nil, ErrEmptySourceStates
	}
	for _, from := range p.From {
		if !models.CanTransition(from, p.To) {
			return "", nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, p.To)
		}
	}

	args := []any{string(p.To), p.At}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	set := []string{"status = $1", "updated_at = $2"}
	for _, stamp := range p.Stamps {
		switch stamp {
		case models.StampPaidAt, models.StampDeliveredAt, models.StampCompletedAt:
			set = append(set, fmt.Sprintf("%[1]s = COALESCE(%[1]s, $2)", stamp))
		case models.StampCancelledAt:
			// у завершённого заказа completed_at уже стоит, второй конечной отметки быть не должно
			set = append(set, "cancelled_at = CASE WHEN completed_at IS NULL THEN COALESCE(cancelled_at, $2) ELSE cancelled_at END")
		default:
			return "", nil, fmt.Errorf("unknown timestamp column %q", stamp)
		}
	}
	if p.AutoConfirmAt != nil {
		set = append(set, "auto_confirm_at = "+next(*p.AutoConfirmAt))
	}
	if p.PaymentID != nil {
		set = append(set, "payment_id = "+next(*p.PaymentID))
	}
	if p.ConsumeRevision {
		set = append(set, "revisions_used = revisions_used + 1")
	}

	where := []string{
		"id = " + next(p.OrderID),
		"status = ANY(" + next(pq.Array(statusStrings(p.From))) + ")",
	}
	if p.DeadlineNotAfter != nil {
		where = append(where, "auto_confirm_at IS NOT NULL AND auto_confirm_at <= "+next(*p.DeadlineNotAfter))
	}
	if p.RequireRevisionBudget {
		where = append(where, "(revision_count < 0 OR revisions_used < revision_count)")
	}
	if p.RequireNoOpenRevision {
		where = append(where, "NOT "+openRevisionExists)
	}

	query := "UPDATE orders SET " + strings.Join(set, ", ") + " WHERE " + strings.Join(where, " AND ")
	return query, args, nil
}

func (r *orderRepository) ListAutoConfirmCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	auto := models.MustTransition(models.ActionAutoConfirm)
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = ANY($1) AND auto_confirm_at <= $2 AND NOT ` + openRevisionExists + `
		ORDER BY auto_confirm_at
		LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(statusStrings(auto.From)), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query auto-confirm candidates: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func statusStrings(statuses []models.OrderStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
