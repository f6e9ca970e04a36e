package models

import (
	"time"

	"github.com/google/uuid"
)

// RevisionUnlimited: значение revision_count для безлимитных правок
const RevisionUnlimited = -1

// Order представляет заказ услуги у продавца
type Order struct {
	ID            uuid.UUID   `json:"id"`
	BuyerID       uuid.UUID   `json:"buyer_id"`
	SellerID      uuid.UUID   `json:"seller_id"`
	Amount        int64       `json:"amount"` // в минимальных единицах валюты
	DeliveryDays  int         `json:"delivery_days"`
	RevisionCount int         `json:"revision_count"` // RevisionUnlimited = без ограничений
	RevisionsUsed int         `json:"revisions_used"`
	MerchantUID   *string     `json:"merchant_uid,omitempty"`
	PaymentID     *string     `json:"payment_id,omitempty"`
	Status        OrderStatus `json:"status"`

	CreatedAt     time.Time  `json:"created_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty"`
	AutoConfirmAt *time.Time `json:"auto_confirm_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty"`
}

// HasRevisionBudget: можно ли ещё запросить правку
func (o *Order) HasRevisionBudget() bool {
	return o.RevisionCount == RevisionUnlimited || o.RevisionsUsed < o.RevisionCount
}

// RevisionRequest: запрос покупателя на доработку
// OrderDetails: заказ вместе с историей запросов на доработку
type OrderDetails struct {
	*Order
	Revisions []*RevisionRequest `json:"revisions"`
}

type RevisionRequest struct {
	ID          int64      `json:"id"`
	OrderID     uuid.UUID  `json:"order_id"`
	Reason      string     `json:"reason"`
	RequestedAt time.Time  `json:"requested_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
