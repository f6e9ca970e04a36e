package models

import "fmt"

// OrderStatus: статус заказа. Закрытое перечисление, другие значения не допускаются.
type OrderStatus string

const (
	StatusPendingPayment    OrderStatus = "pending_payment"
	StatusPaid              OrderStatus = "paid"
	StatusInProgress        OrderStatus = "in_progress"
	StatusDelivered         OrderStatus = "delivered"
	StatusRevisionRequested OrderStatus = "revision_requested"
	StatusRevisionCompleted OrderStatus = "revision_completed"
	StatusCompleted         OrderStatus = "completed"
	StatusCancelled         OrderStatus = "cancelled"
	StatusRefunded          OrderStatus = "refunded"
)

// AllStatuses перечисляет все статусы в порядке жизненного цикла
var AllStatuses = []OrderStatus{
	StatusPendingPayment,
	StatusPaid,
	StatusInProgress,
	StatusDelivered,
	StatusRevisionRequested,
	StatusRevisionCompleted,
	StatusCompleted,
	StatusCancelled,
	StatusRefunded,
}

// ParseOrderStatus разбирает строку из БД или запроса
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case StatusPendingPayment, StatusPaid, StatusInProgress, StatusDelivered,
		StatusRevisionRequested, StatusRevisionCompleted, StatusCompleted,
		StatusCancelled, StatusRefunded:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

func (s OrderStatus) String() string {
	return string(s)
}

// IsPostPaid: оплата уже прошла (paid или любой статус после него, кроме отмены до оплаты)
func (s OrderStatus) IsPostPaid() bool {
	switch s {
	case StatusPaid, StatusInProgress, StatusDelivered, StatusRevisionRequested,
		StatusRevisionCompleted, StatusCompleted, StatusRefunded:
		return true
	}
	return false
}

// SettlementStatus: статус записи расчёта с продавцом
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementPaidOut   SettlementStatus = "paid_out"
	SettlementCancelled SettlementStatus = "cancelled"
)

// PaymentStatus: итог попытки оплаты через шлюз
type PaymentStatus string

const (
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)
