package models

import (
	"time"

	"github.com/google/uuid"
)

// Settlement: обязательство выплаты продавцу по заказу. Сумма и продавец фиксируются при создании.
type Settlement struct {
	ID          int64            `json:"id"`
	OrderID     uuid.UUID        `json:"order_id"`
	SellerID    uuid.UUID        `json:"seller_id"`
	Amount      int64            `json:"amount"`
	Status      SettlementStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ConfirmedAt *time.Time       `json:"confirmed_at,omitempty"`
	PaidOutAt   *time.Time       `json:"paid_out_at,omitempty"`
	CancelledAt *time.Time       `json:"cancelled_at,omitempty"`
}

// Payment: запись об одной попытке оплаты через шлюз
type Payment struct {
	ID        int64         `json:"id"`
	PaymentID string        `json:"payment_id"` // идентификатор платежа в шлюзе
	OrderID   uuid.UUID     `json:"order_id"`
	Amount    int64         `json:"amount"`
	Status    PaymentStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`
}

// Статусы платежа на стороне шлюза
const (
	GatewayStatusPaid                 = "PAID"
	GatewayStatusCancelled            = "CANCELLED"
	GatewayStatusPartialCancelled     = "PARTIAL_CANCELLED"
	GatewayStatusFailed               = "FAILED"
	GatewayStatusVirtualAccountIssued = "VIRTUAL_ACCOUNT_ISSUED"
)

// GatewayPayment: авторитетное состояние платежа, полученное от шлюза
type GatewayPayment struct {
	ID     string
	Status string
	Amount int64
}
