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
	"github.com/linemk/order-escrow/internal/storage"
)

// OrderService: машина состояний заказа. Любая смена статуса идёт через
// условный UPDATE (storage.OrderStorage.Transition): при гонке побеждает ровно один.
type OrderService struct {
	log              *slog.Logger
	tx               storage.Transactor
	orders           storage.OrderStorage
	revisions        storage.RevisionStorage
	guard            *Guard
	publisher        Publisher
	autoConfirmAfter time.Duration
	now              func() time.Time
}

func NewOrderService(
	log *slog.Logger,
	tx storage.Transactor,
	orders storage.OrderStorage,
	revisions storage.RevisionStorage,
	guard *Guard,
	publisher Publisher,
	autoConfirmAfter time.Duration,
) *OrderService {
	return &OrderService{
		log:              log,
		tx:               tx,
		orders:           orders,
		revisions:        revisions,
		guard:            guard,
		publisher:        publisher,
		autoConfirmAfter: autoConfirmAfter,
		now:              time.Now,
	}
}

// WithClock подменяет часы (для тестов и пересчёта сроков)
func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

// Get возвращает заказ с запросами на доработку участнику сделки или администратору
func (s *OrderService) Get(ctx context.Context, p models.Principal, orderID uuid.UUID) (*models.OrderDetails, error) {
	d, err := s.guard.Check(ctx, p, orderID)
	if err != nil {
		return nil, err
	}
	if !d.Is(RelationBuyer, RelationSeller, RelationAdmin, RelationSystem) {
		return nil, ErrUnauthorized
	}

	revisions, err := s.revisions.ListRevisions(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("service.OrderService.Get: %w", err)
	}
	if revisions == nil {
		revisions = []*models.RevisionRequest{}
	}
	return &models.OrderDetails{Order: d.Order, Revisions: revisions}, nil
}

// Confirm: подтверждение покупки покупателем.
// Уже завершённый заказ даёт ErrAlreadyCompleted, чужой заказ: ErrUnauthorized.
func (s *OrderService) Confirm(ctx context.Context, p models.Principal, orderID uuid.UUID) error {
	const op = "service.OrderService.Confirm"
	logger := s.log.With(slog.String("op", op), slog.String("order_id", orderID.String()))

	d, err := s.guard.Check(ctx, p, orderID)
	if err != nil {
		return err
	}
	if !d.Is(RelationBuyer) {
		logger.Warn("confirm rejected: not the buyer", slog.String("relation", d.Relation.String()))
		return ErrUnauthorized
	}

	ok, err := s.complete(ctx, d.Order, false, s.now())
	if err != nil {
		logger.Error("failed to confirm order", slog.Any("error", err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return s.classify(ctx, orderID, models.ActionConfirm)
	}

	logger.Info("order confirmed by buyer")
	return nil
}

// AutoConfirm: та же функция завершения от имени системы.
// false без ошибки: заказ уже не подходит (подтверждён, открыт запрос правки, срок не истёк).
func (s *OrderService) AutoConfirm(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error) {
	const op = "service.OrderService.AutoConfirm"

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("%s: failed to load order: %w", op, err)
	}

	ok, err := s.complete(ctx, order, true, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if ok {
		s.log.Info("order auto-confirmed", slog.String("op", op), slog.String("order_id", orderID.String()))
	}
	return ok, nil
}

// complete: общий путь завершения заказа для покупателя и планировщика
func (s *OrderService) complete(ctx context.Context, order *models.Order, isAuto bool, at time.Time) (bool, error) {
	action := models.ActionConfirm
	if isAuto {
		action = models.ActionAutoConfirm
	}
	params := storage.ParamsFor(models.MustTransition(action), order.ID, at)
	if isAuto {
		params.DeadlineNotAfter = &at
		params.RequireNoOpenRevision = true
	}

	ok, err := s.apply(ctx, params, nil)
	if err != nil || !ok {
		return ok, err
	}

	s.publisher.Publish(ctx,
		models.SettlementConfirmRequested{OrderID: order.ID, ConfirmedAt: at},
		models.OrderConfirmed{SellerID: order.SellerID, OrderID: order.ID, Amount: order.Amount, IsAuto: isAuto},
	)
	return true, nil
}

// Start: продавец берёт оплаченный заказ в работу
func (s *OrderService) Start(ctx context.Context, p models.Principal, orderID uuid.UUID) error {
	const op = "service.OrderService.Start"

	d, err := s.guard.Check(ctx, p, orderID)
	if err != nil {
		return err
	}
	if !d.Is(RelationSeller) {
		return ErrUnauthorized
	}

	params := storage.ParamsFor(models.MustTransition(models.ActionStart), orderID, s.now())
	if err := s.applyOrClassify(ctx, params, models.ActionStart, nil); err != nil {
		return s.wrap(op, err)
	}
	s.log.Info("order started", slog.String("op", op), slog.String("order_id", orderID.String()))
	return nil
}

// Deliver: продавец сдаёт работу, запускается срок автоподтверждения
func (s *OrderService) Deliver(ctx context.Context, p models.Principal, orderID uuid.UUID) error {
	const op = "service.OrderService.Deliver"

	d, err := s.guard.Check(ctx, p, orderID)
	if err != nil {
		return err
	}
	if !d.Is(RelationSeller) {
		return ErrUnauthorized
	}

	now := s.now()
	deadline := now.Add(s.autoConfirmAfter)
	params := storage.ParamsFor(models.MustTransition(models.ActionDeliver), orderID, now)
	params.AutoConfirmAt = &deadline
	if err := s.applyOrClassify(ctx, params, models.ActionDeliver, nil); err != nil {
		return s.wrap(op, err)
	}

	s.publisher.Publish(ctx, models.WorkDelivered{BuyerID: d.Order.BuyerID, OrderID: orderID})
	s.log.Info("order delivered",
		slog.String("op", op),
		slog.String("order_id", orderID.String()),
		slog.Time("auto_confirm_at", deadline),
	)
	return nil
}

// RequestRevision: покупатель просит доработку, пока не исчерпан лимит правок
func (s *OrderService) RequestRevision(ctx context.Context, p models.Principal, orderID uuid.UUID, reason string) error {
	const op = "service.OrderService.RequestRevision"

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: revision reason is required", ErrInvalidInput)
	}

	d, err := s.guard.Check(ctx, p, orderID)
	if err != nil {
		return err
	}
	if !d.Is(RelationBuyer) {
		return ErrUnauthorized
	}

	now := s.now()
	params := storage.ParamsFor(models.MustTransition(models.ActionRequestRevision), orderID, now)
	params.RequireRevisionBudget = true
	params.ConsumeRevision = true

	err = s.applyOrClassify(ctx, params, models.ActionRequestRevision, func(tx *sql.Tx) error {
		_, err := s.revisions.CreateRevisionRequest(ctx, tx, orderID, reason, now)
		return err
	})
	if err != nil {
		return s.wrap(op, err)
	}

	s.publisher.Publish(ctx, models.RevisionRequested{SellerID: d.Order.SellerID, OrderID: orderID, Reason: reason})
	s.log.Info("revision requested", slog.String("op", op), slog.String("order_id", orderID.String()))
	return nil
}

// CompleteRevision: продавец сдаёт доработку, срок автоподтверждения отсчитывается заново
func (s *OrderService) CompleteRevision(ctx context.Context, p models.Principal, orderID uuid.UUID) error {
	const op = "service.OrderService.CompleteRevision"

	d, err := s.guard.Check(ctx, p, orderID)
	if err != nil {
		return err
	}
	if !d.Is(RelationSeller) {
		return ErrUnauthorized
	}

	now := s.now()
	deadline := now.Add(s.autoConfirmAfter)
	params := storage.ParamsFor(models.MustTransition(models.ActionCompleteRevision), orderID, now)
	params.AutoConfirmAt = &deadline

	err = s.applyOrClassify(ctx, params, models.ActionCompleteRevision, func(tx *sql.Tx) error {
		_, err := s.revisions.CompleteOpenRevisions(ctx, tx, orderID, now)
		return err
	})
	if err != nil {
		return s.wrap(op, err)
	}

	s.publisher.Publish(ctx, models.WorkDelivered{BuyerID: d.Order.BuyerID, OrderID: orderID})
	s.log.Info("revision completed", slog.String("op", op), slog.String("order_id", orderID.String()))
	return nil
}

// Cancel: отмена до сдачи работы. Доступна сторонам сделки, администратору и системе.
func (s *OrderService) Cancel(ctx context.Context, p models.Principal, orderID uuid.UUID, reason string) error {
	const op = "service.OrderService.Cancel"

	d, err := s.guard.Check(ctx, p, orderID)
	if err != nil {
		return err
	}
	if !d.Is(RelationBuyer, RelationSeller, RelationAdmin, RelationSystem) {
		return ErrUnauthorized
	}

	now := s.now()
	params := storage.ParamsFor(models.MustTransition(models.ActionCancel), orderID, now)
	if err := s.applyOrClassify(ctx, params, models.ActionCancel, nil); err != nil {
		return s.wrap(op, err)
	}

	events := []models.Event{models.SettlementCancelRequested{OrderID: orderID, CancelledAt: now}}
	for _, userID := range counterparties(d) {
		events = append(events, models.OrderCancelled{UserID: userID, OrderID: orderID})
	}
	s.publisher.Publish(ctx, events...)

	s.log.Info("order cancelled",
		slog.String("op", op),
		slog.String("order_id", orderID.String()),
		slog.String("by", d.Relation.String()),
		slog.String("reason", reason),
	)
	return nil
}

// Refund: возврат оплаченного заказа (администратор или вебхук шлюза).
// Расчёт с продавцом отменяется, если ещё не выплачен.
func (s *OrderService) Refund(ctx context.Context, p models.Principal, orderID uuid.UUID) error {
	const op = "service.OrderService.Refund"

	d, err := s.guard.Check(ctx, p, orderID)
	if err != nil {
		return err
	}
	if !p.IsAdmin() && !p.IsSystem() {
		return ErrUnauthorized
	}

	now := s.now()
	params := storage.ParamsFor(models.MustTransition(models.ActionRefund), orderID, now)
	if err := s.applyOrClassify(ctx, params, models.ActionRefund, nil); err != nil {
		return s.wrap(op, err)
	}

	s.publisher.Publish(ctx,
		models.SettlementCancelRequested{OrderID: orderID, CancelledAt: now},
		models.OrderCancelled{UserID: d.Order.BuyerID, OrderID: orderID, Refund: true},
		models.OrderCancelled{UserID: d.Order.SellerID, OrderID: orderID, Refund: true},
	)
	s.log.Info("order refunded", slog.String("op", op), slog.String("order_id", orderID.String()))
	return nil
}

// apply выполняет условный переход и, если он выигран, extra в той же транзакции
func (s *OrderService) apply(ctx context.Context, params storage.TransitionParams, extra func(tx *sql.Tx) error) (bool, error) {
	var won bool
	err := s.tx.InTx(ctx, func(tx *sql.Tx) error {
		affected, err := s.orders.Transition(ctx, tx, params)
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		won = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return won, nil
}

func (s *OrderService) applyOrClassify(ctx context.Context, params storage.TransitionParams, action models.Action, extra func(tx *sql.Tx) error) error {
	ok, err := s.apply(ctx, params, extra)
	if err != nil {
		return err
	}
	if !ok {
		return s.classify(ctx, params.OrderID, action)
	}
	return nil
}

// classify перечитывает заказ после проигранного перехода и объясняет отказ
func (s *OrderService) classify(ctx context.Context, orderID uuid.UUID, action models.Action) error {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to reload order: %w", err)
	}

	switch {
	case action == models.ActionConfirm && order.Status == models.StatusCompleted:
		return ErrAlreadyCompleted
	case action == models.ActionRequestRevision && order.Status == models.StatusDelivered && !order.HasRevisionBudget():
		return ErrRevisionLimit
	}
	return &InvalidStateError{Current: order.Status}
}

// wrap не оборачивает ожидаемые доменные ошибки, чтобы их текст оставался коротким
func (s *OrderService) wrap(op string, err error) error {
	var stateErr *InvalidStateError
	if errors.As(err, &stateErr) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrRevisionLimit) ||
		errors.Is(err, ErrAlreadyCompleted) || errors.Is(err, ErrUnauthorized) {
		return err
	}
	s.log.Error("order transition failed", slog.String("op", op), slog.Any("error", err))
	return fmt.Errorf("%s: %w", op, err)
}

// counterparties: кого уведомить об отмене
func counterparties(d Decision) []uuid.UUID {
	switch d.Relation {
	case RelationBuyer:
		return []uuid.UUID{d.Order.SellerID}
	case RelationSeller:
		return []uuid.UUID{d.Order.BuyerID}
	default:
		return []uuid.UUID{d.Order.BuyerID, d.Order.SellerID}
	}
}
