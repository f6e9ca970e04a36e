package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/storage"
)

// SettlementService: журнал обязательств перед продавцами.
// Запись создаётся в транзакции оплаты (PaymentService), здесь только её дальнейшие переходы.
type SettlementService struct {
	log  *slog.Logger
	repo storage.SettlementStorage
	now  func() time.Time
}

func NewSettlementService(log *slog.Logger, repo storage.SettlementStorage) *SettlementService {
	return &SettlementService{log: log, repo: repo, now: time.Now}
}

// ConfirmForOrder переводит расчёт в confirmed после завершения заказа. Повторный вызов безопасен.
func (s *SettlementService) ConfirmForOrder(ctx context.Context, orderID uuid.UUID, at time.Time) error {
	const op = "service.SettlementService.ConfirmForOrder"
	logger := s.log.With(slog.String("op", op), slog.String("order_id", orderID.String()))

	affected, err := s.repo.ConfirmSettlement(ctx, orderID, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 1 {
		logger.Info("settlement confirmed")
		return nil
	}

	existing, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrSettlementNotFound) {
			logger.Error("completed order has no settlement")
			return fmt.Errorf("%s: %w", op, ErrSettlementNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	switch existing.Status {
	case models.SettlementConfirmed, models.SettlementPaidOut, models.SettlementCancelled:
		return nil
	}
	// pending, но заказ ещё не виден как completed: повторим позже
	return fmt.Errorf("%s: %w: order not completed yet", op, ErrSettlementState)
}

// CancelForOrder отменяет ещё не выплаченный расчёт (возврат или отмена заказа)
func (s *SettlementService) CancelForOrder(ctx context.Context, orderID uuid.UUID, at time.Time) error {
	const op = "service.SettlementService.CancelForOrder"
	logger := s.log.With(slog.String("op", op), slog.String("order_id", orderID.String()))

	affected, err := s.repo.CancelSettlement(ctx, orderID, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 1 {
		logger.Info("settlement cancelled")
		return nil
	}

	existing, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrSettlementNotFound) {
			// заказ отменён до оплаты
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if existing.Status == models.SettlementPaidOut {
		logger.Error("refunded order was already paid out to seller",
			slog.Int64("settlement_id", existing.ID),
			slog.Int64("amount", existing.Amount),
		)
	}
	return nil
}

// AwaitingPayout: подтверждённые и ещё не выплаченные расчёты
func (s *SettlementService) AwaitingPayout(ctx context.Context) ([]*models.Settlement, error) {
	const op = "service.SettlementService.AwaitingPayout"

	list, err := s.repo.ListAwaitingPayout(ctx)
	if err != nil {
		s.log.Error("failed to list settlements", slog.String("op", op), slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return list, nil
}

// MarkPaidOut фиксирует выплату продавцу. Повторная отметка возвращает ту же запись.
func (s *SettlementService) MarkPaidOut(ctx context.Context, id int64) (*models.Settlement, error) {
	const op = "service.SettlementService.MarkPaidOut"
	logger := s.log.With(slog.String("op", op), slog.Int64("settlement_id", id))

	affected, err := s.repo.MarkPaidOut(ctx, id, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	settlement, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrSettlementNotFound) {
			return nil, ErrSettlementNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 && settlement.Status != models.SettlementPaidOut {
		logger.Warn("settlement is not payable", slog.String("status", string(settlement.Status)))
		return nil, ErrSettlementState
	}
	if affected == 1 {
		logger.Info("settlement paid out", slog.Int64("amount", settlement.Amount))
	}
	return settlement, nil
}

// Reconcile подтверждает pending-расчёты завершённых заказов, если событие подтверждения потерялось
func (s *SettlementService) Reconcile(ctx context.Context, limit int) (int64, error) {
	const op = "service.SettlementService.Reconcile"

	fixed, err := s.repo.ReconcileConfirmed(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if fixed > 0 {
		s.log.Warn("reconciled settlements of completed orders", slog.String("op", op), slog.Int64("count", fixed))
	}
	return fixed, nil
}

// RegisterSettlementHandlers связывает события outbox с журналом расчётов
func RegisterSettlementHandlers(o *Outbox, s *SettlementService) {
	RegisterHandler(o, func(ctx context.Context, e models.SettlementConfirmRequested) error {
		return s.ConfirmForOrder(ctx, e.OrderID, e.ConfirmedAt)
	})
	RegisterHandler(o, func(ctx context.Context, e models.SettlementCancelRequested) error {
		return s.CancelForOrder(ctx, e.OrderID, e.CancelledAt)
	})
}
