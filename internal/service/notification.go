package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/storage"
)

// Notifier: уведомления участникам заказа
type Notifier interface {
	NotifyOrderConfirmed(ctx context.Context, sellerID, orderID uuid.UUID, amount int64, isAuto bool) error
	NotifyPaymentReceived(ctx context.Context, sellerID, orderID uuid.UUID, amount int64) error
	NotifyWorkDelivered(ctx context.Context, buyerID, orderID uuid.UUID) error
	NotifyRevisionRequested(ctx context.Context, sellerID, orderID uuid.UUID, reason string) error
	NotifyOrderCancelled(ctx context.Context, userID, orderID uuid.UUID, refund bool) error
}

const (
	NotificationOrderConfirmed    = "order_confirmed"
	NotificationPaymentReceived   = "payment_received"
	NotificationWorkCompleted     = "work_completed"
	NotificationRevisionRequested = "revision_requested"
	NotificationOrderCancelled    = "order_cancelled"
)

type NotificationService struct {
	log     *slog.Logger
	repo    storage.NotificationStorage
	printer *message.Printer
	timeout time.Duration
}

var _ Notifier = (*NotificationService)(nil)

func NewNotificationService(log *slog.Logger, repo storage.NotificationStorage, timeout time.Duration) *NotificationService {
	return &NotificationService{
		log:     log,
		repo:    repo,
		printer: message.NewPrinter(language.Korean),
		timeout: timeout,
	}
}

// FormatKRW форматирует сумму с разделителями разрядов, 100000 -> "100,000원"
func (s *NotificationService) FormatKRW(amount int64) string {
	return s.printer.Sprintf("%d원", amount)
}

func orderLink(orderID uuid.UUID) string {
	return "/mypage/orders/" + orderID.String()
}

func (s *NotificationService) NotifyOrderConfirmed(ctx context.Context, sellerID, orderID uuid.UUID, amount int64, isAuto bool) error {
	title := "구매가 확정되었습니다"
	msg := fmt.Sprintf("구매자가 구매를 확정했습니다. 정산 예정 금액: %s", s.FormatKRW(amount))
	if isAuto {
		title = "구매가 자동 확정되었습니다"
		msg = fmt.Sprintf("확인 기간이 지나 구매가 자동 확정되었습니다. 정산 예정 금액: %s", s.FormatKRW(amount))
	}
	return s.create(ctx, &models.Notification{
		UserID:  sellerID,
		Type:    NotificationOrderConfirmed,
		Title:   title,
		Message: msg,
		LinkURL: orderLink(orderID),
	})
}

func (s *NotificationService) NotifyPaymentReceived(ctx context.Context, sellerID, orderID uuid.UUID, amount int64) error {
	return s.create(ctx, &models.Notification{
		UserID:  sellerID,
		Type:    NotificationPaymentReceived,
		Title:   "결제가 완료되었습니다",
		Message: fmt.Sprintf("%s 결제가 완료되었습니다. 작업을 시작해주세요.", s.FormatKRW(amount)),
		LinkURL: orderLink(orderID),
	})
}

func (s *NotificationService) NotifyWorkDelivered(ctx context.Context, buyerID, orderID uuid.UUID) error {
	return s.create(ctx, &models.Notification{
		UserID:  buyerID,
		Type:    NotificationWorkCompleted,
		Title:   "작업물이 도착했습니다",
		Message: "판매자가 작업물을 전달했습니다. 확인 후 구매를 확정해주세요.",
		LinkURL: orderLink(orderID),
	})
}

func (s *NotificationService) NotifyRevisionRequested(ctx context.Context, sellerID, orderID uuid.UUID, reason string) error {
	return s.create(ctx, &models.Notification{
		UserID:  sellerID,
		Type:    NotificationRevisionRequested,
		Title:   "수정 요청이 도착했습니다",
		Message: "수정 요청 사유: " + reason,
		LinkURL: orderLink(orderID),
	})
}

func (s *NotificationService) NotifyOrderCancelled(ctx context.Context, userID, orderID uuid.UUID, refund bool) error {
	title, msg := "주문이 취소되었습니다", "주문이 취소되었습니다."
	if refund {
		title, msg = "주문이 환불되었습니다", "주문 금액이 환불 처리되었습니다."
	}
	return s.create(ctx, &models.Notification{
		UserID:  userID,
		Type:    NotificationOrderCancelled,
		Title:   title,
		Message: msg,
		LinkURL: orderLink(orderID),
	})
}

func (s *NotificationService) create(ctx context.Context, n *models.Notification) error {
	const op = "service.NotificationService.create"

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.log.Debug("notification created",
		slog.String("op", op),
		slog.String("type", n.Type),
		slog.String("user_id", n.UserID.String()),
	)
	return nil
}

// RegisterNotificationHandlers связывает события outbox с уведомлениями
func RegisterNotificationHandlers(o *Outbox, n Notifier) {
	RegisterHandler(o, func(ctx context.Context, e models.OrderConfirmed) error {
		return n.NotifyOrderConfirmed(ctx, e.SellerID, e.OrderID, e.Amount, e.IsAuto)
	})
	RegisterHandler(o, func(ctx context.Context, e models.PaymentReceived) error {
		return n.NotifyPaymentReceived(ctx, e.SellerID, e.OrderID, e.Amount)
	})
	RegisterHandler(o, func(ctx context.Context, e models.WorkDelivered) error {
		return n.NotifyWorkDelivered(ctx, e.BuyerID, e.OrderID)
	})
	RegisterHandler(o, func(ctx context.Context, e models.RevisionRequested) error {
		return n.NotifyRevisionRequested(ctx, e.SellerID, e.OrderID, e.Reason)
	})
	RegisterHandler(o, func(ctx context.Context, e models.OrderCancelled) error {
		return n.NotifyOrderCancelled(ctx, e.UserID, e.OrderID, e.Refund)
	})
}
