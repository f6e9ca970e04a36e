package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/gateway"
	"github.com/linemk/order-escrow/internal/storage"
)

// VerifyResult: состояние заказа после успешной проверки платежа
type VerifyResult struct {
	OrderID   uuid.UUID          `json:"id"`
	Status    models.OrderStatus `json:"status"`
	PaymentID string             `json:"payment_id"`
}

// WebhookEvent: уведомление шлюза о платеже
type WebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		PaymentID     string `json:"paymentId"`
		TransactionID string `json:"transactionId,omitempty"`
	} `json:"data"`
}

// Итоги обработки вебхука
const (
	WebhookIgnored        = "ignored"
	WebhookPaid           = "paid"
	WebhookAlreadyPaid    = "already_paid"
	WebhookCancelled      = "cancelled"
	WebhookRefunded       = "refunded"
	WebhookFailedRecorded = "failed_recorded"
	WebhookOrderNotFound  = "order_not_found"
	WebhookAmountMismatch = "amount_mismatch"
)

type PaymentService struct {
	log         *slog.Logger
	tx          storage.Transactor
	orders      storage.OrderStorage
	payments    storage.PaymentStorage
	settlements storage.SettlementStorage
	gateway     gateway.Client
	guard       *Guard
	orderSvc    *OrderService
	publisher   Publisher
	now         func() time.Time
}

func NewPaymentService(
	log *slog.Logger,
	tx storage.Transactor,
	orders storage.OrderStorage,
	payments storage.PaymentStorage,
	settlements storage.SettlementStorage,
	gw gateway.Client,
	guard *Guard,
	orderSvc *OrderService,
	publisher Publisher,
) *PaymentService {
	return &PaymentService{
		log:         log,
		tx:          tx,
		orders:      orders,
		payments:    payments,
		settlements: settlements,
		gateway:     gw,
		guard:       guard,
		orderSvc:    orderSvc,
		publisher:   publisher,
		now:         time.Now,
	}
}

// Verify сверяет платёж со шлюзом и переводит заказ pending_payment -> paid.
// Вызов шлюза идёт вне транзакции БД; в одной транзакции меняется статус,
// пишется платёж и создаётся запись расчёта.
func (s *PaymentService) Verify(ctx context.Context, p models.Principal, paymentID string, orderID uuid.UUID) (*VerifyResult, error) {
	const op = "service.PaymentService.Verify"
	logger := s.log.With(
		slog.String("op", op),
		slog.String("order_id", orderID.String()),
		slog.String("payment_id", paymentID),
	)

	d, err := s.guard.Check(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	if !d.Is(RelationBuyer) {
		logger.Warn("verify rejected: not the buyer")
		return nil, ErrUnauthorized
	}
	order := d.Order

	// повторная проверка не должна ходить в шлюз
	if order.Status.IsPostPaid() {
		return nil, ErrAlreadyVerified
	}
	if order.Status != models.StatusPendingPayment {
		return nil, &InvalidStateError{Current: order.Status}
	}
	if order.MerchantUID == nil || *order.MerchantUID != paymentID {
		logger.Warn("payment id does not match order reference")
		return nil, fmt.Errorf("%w: payment does not belong to order", ErrVerificationFailed)
	}

	gp, err := s.fetchPayment(ctx, paymentID)
	if err != nil {
		logger.Error("gateway lookup failed", slog.Any("error", err))
		return nil, err
	}
	if gp.Status != models.GatewayStatusPaid {
		logger.Warn("payment is not paid", slog.String("gateway_status", gp.Status))
		return nil, fmt.Errorf("%w: gateway status %s", ErrVerificationFailed, gp.Status)
	}
	if gp.Amount != order.Amount {
		logger.Warn("payment amount mismatch", slog.Int64("expected", order.Amount), slog.Int64("actual", gp.Amount))
		return nil, fmt.Errorf("%w: amount mismatch", ErrVerificationFailed)
	}

	won, err := s.markPaid(ctx, order, paymentID)
	if err != nil {
		if errors.Is(err, ErrVerificationFailed) {
			return nil, err
		}
		logger.Error("failed to record payment", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !won {
		// параллельная проверка (или вебхук) успела раньше
		current, err := s.orders.GetOrderByID(ctx, orderID)
		if err == nil && !current.Status.IsPostPaid() {
			return nil, &InvalidStateError{Current: current.Status}
		}
		return nil, ErrAlreadyVerified
	}

	logger.Info("payment verified")
	return &VerifyResult{OrderID: orderID, Status: models.StatusPaid, PaymentID: paymentID}, nil
}

// HandleWebhook обрабатывает уведомление шлюза. Состояние платежа всегда
// перечитывается из шлюза, тело вебхука не считается доверенным.
func (s *PaymentService) HandleWebhook(ctx context.Context, ev WebhookEvent) (string, error) {
	const op = "service.PaymentService.HandleWebhook"
	logger := s.log.With(slog.String("op", op), slog.String("type", ev.Type))

	if !strings.HasPrefix(ev.Type, "Transaction.") {
		logger.Debug("ignoring webhook type")
		return WebhookIgnored, nil
	}
	paymentID := strings.TrimSpace(ev.Data.PaymentID)
	if paymentID == "" {
		return "", fmt.Errorf("%w: paymentId is required", ErrInvalidInput)
	}
	logger = logger.With(slog.String("payment_id", paymentID))

	gp, err := s.fetchPayment(ctx, paymentID)
	if err != nil {
		logger.Error("gateway lookup failed", slog.Any("error", err))
		return "", err
	}

	order, err := s.orders.GetOrderByMerchantUID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			logger.Warn("webhook for unknown order reference")
			return WebhookOrderNotFound, nil
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	logger = logger.With(slog.String("order_id", order.ID.String()), slog.String("gateway_status", gp.Status))

	switch gp.Status {
	case models.GatewayStatusPaid:
		if gp.Amount != order.Amount {
			logger.Error("payment amount mismatch", slog.Int64("expected", order.Amount), slog.Int64("actual", gp.Amount))
			return WebhookAmountMismatch, nil
		}
		won, err := s.markPaid(ctx, order, paymentID)
		if err != nil {
			if errors.Is(err, ErrVerificationFailed) {
				return WebhookIgnored, nil
			}
			return "", fmt.Errorf("%s: %w", op, err)
		}
		if !won {
			if current, err := s.orders.GetOrderByID(ctx, order.ID); err == nil && !current.Status.IsPostPaid() {
				logger.Error("gateway reports paid payment for unpaid order", slog.String("status", string(current.Status)))
				return WebhookIgnored, nil
			}
			return WebhookAlreadyPaid, nil
		}
		logger.Info("order marked as paid via webhook")
		return WebhookPaid, nil

	case models.GatewayStatusCancelled, models.GatewayStatusPartialCancelled:
		return s.applyGatewayCancel(ctx, logger, order)

	case models.GatewayStatusFailed:
		if err := s.recordFailed(ctx, order, gp); err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		logger.Info("failed payment attempt recorded")
		return WebhookFailedRecorded, nil

	default:
		logger.Info("unhandled payment status")
		return WebhookIgnored, nil
	}
}

// applyGatewayCancel: до оплаты заказ отменяется, после оплаты это возврат
func (s *PaymentService) applyGatewayCancel(ctx context.Context, logger *slog.Logger, order *models.Order) (string, error) {
	if order.Status == models.StatusPendingPayment {
		err := s.orderSvc.Cancel(ctx, models.SystemPrincipal, order.ID, "payment cancelled in gateway")
		if err != nil && !isStateConflict(err) {
			return "", err
		}
		logger.Info("order cancelled via webhook")
		return WebhookCancelled, nil
	}
	if order.Status.IsPostPaid() && order.Status != models.StatusRefunded {
		err := s.orderSvc.Refund(ctx, models.SystemPrincipal, order.ID)
		if err != nil && !isStateConflict(err) {
			return "", err
		}
		logger.Info("order refunded via webhook")
		return WebhookRefunded, nil
	}
	return WebhookIgnored, nil
}

func isStateConflict(err error) bool {
	var stateErr *InvalidStateError
	return errors.As(err, &stateErr)
}

// markPaid выполняет в одной транзакции переход, платёж, расчёт.
// Переход pending_payment -> paid коммитится только вместе с успешным платежом этого заказа.
func (s *PaymentService) markPaid(ctx context.Context, order *models.Order, paymentID string) (bool, error) {
	now := s.now()
	params := storage.ParamsFor(models.MustTransition(models.ActionPay), order.ID, now)
	params.PaymentID = &paymentID

	won, err := s.orderSvc.apply(ctx, params, func(tx *sql.Tx) error {
		payment := storage.NewPaidPayment(paymentID, order.ID, order.Amount, now)
		inserted, err := s.payments.CreatePayment(ctx, tx, payment)
		if err != nil {
			return err
		}
		if !inserted {
			if err := s.promoteExisting(ctx, tx, payment); err != nil {
				return err
			}
		}
		if _, err := s.settlements.CreateSettlementFromOrder(ctx, tx, order.ID, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if won {
		s.publisher.Publish(ctx, models.PaymentReceived{SellerID: order.SellerID, OrderID: order.ID, Amount: order.Amount})
	}
	return won, nil
}

// promoteExisting разбирает уже записанный payment_id: чужой платёж откатывает оплату,
// неуспешная попытка того же заказа становится успешной
func (s *PaymentService) promoteExisting(ctx context.Context, tx *sql.Tx, payment *models.Payment) error {
	existing, err := s.payments.GetByPaymentID(ctx, payment.PaymentID)
	if err != nil {
		return fmt.Errorf("failed to load payment %s: %w", payment.PaymentID, err)
	}
	if existing.OrderID != payment.OrderID {
		s.log.Error("payment already recorded for another order",
			slog.String("payment_id", payment.PaymentID),
			slog.String("order_id", payment.OrderID.String()),
			slog.String("recorded_order_id", existing.OrderID.String()),
		)
		return fmt.Errorf("%w: payment belongs to another order", ErrVerificationFailed)
	}
	if existing.Status == models.PaymentPaid {
		return nil
	}

	affected, err := s.payments.PromotePayment(ctx, tx, payment)
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("payment %s changed concurrently", payment.PaymentID)
	}
	s.log.Info("earlier payment attempt marked as paid",
		slog.String("payment_id", payment.PaymentID),
		slog.String("previous_status", string(existing.Status)),
	)
	return nil
}

func (s *PaymentService) recordFailed(ctx context.Context, order *models.Order, gp *models.GatewayPayment) error {
	return s.tx.InTx(ctx, func(tx *sql.Tx) error {
		_, err := s.payments.CreatePayment(ctx, tx, &models.Payment{
			PaymentID: gp.ID,
			OrderID:   order.ID,
			Amount:    gp.Amount,
			Status:    models.PaymentFailed,
			CreatedAt: s.now(),
		})
		return err
	})
}

func (s *PaymentService) fetchPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	gp, err := s.gateway.GetPayment(ctx, paymentID)
	switch {
	case err == nil:
		return gp, nil
	case errors.Is(err, gateway.ErrMissingSecret):
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	case errors.Is(err, gateway.ErrPaymentNotFound):
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
}
