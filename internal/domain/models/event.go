package models

import (
	"time"

	"github.com/google/uuid"
)

// Event: побочный эффект, который публикуется в outbox после перехода
type Event interface{ Kind() string }

type SettlementConfirmRequested struct {
	OrderID     uuid.UUID `json:"order_id"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func (e SettlementConfirmRequested) Kind() string { return "settlement.confirm" }

type SettlementCancelRequested struct {
	OrderID     uuid.UUID `json:"order_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}

func (e SettlementCancelRequested) Kind() string { return "settlement.cancel" }

type OrderConfirmed struct {
	SellerID uuid.UUID `json:"seller_id"`
	OrderID  uuid.UUID `json:"order_id"`
	Amount   int64     `json:"amount"`
	IsAuto   bool      `json:"is_auto"`
}

func (e OrderConfirmed) Kind() string { return "notification.order_confirmed" }

type PaymentReceived struct {
	SellerID uuid.UUID `json:"seller_id"`
	OrderID  uuid.UUID `json:"order_id"`
	Amount   int64     `json:"amount"`
}

func (e PaymentReceived) Kind() string { return "notification.payment_received" }

type WorkDelivered struct {
	BuyerID uuid.UUID `json:"buyer_id"`
	OrderID uuid.UUID `json:"order_id"`
}

func (e WorkDelivered) Kind() string { return "notification.work_delivered" }

type RevisionRequested struct {
	SellerID uuid.UUID `json:"seller_id"`
	OrderID  uuid.UUID `json:"order_id"`
	Reason   string    `json:"reason"`
}

func (e RevisionRequested) Kind() string { return "notification.revision_requested" }

type OrderCancelled struct {
	UserID  uuid.UUID `json:"user_id"`
	OrderID uuid.UUID `json:"order_id"`
	Refund  bool      `json:"refund"`
}

func (e OrderCancelled) Kind() string { return "notification.order_cancelled" }
