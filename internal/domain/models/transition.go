package models

import "slices"

// Action: событие, которое двигает заказ по жизненному циклу
type Action string

const (
	ActionPay              Action = "pay"
	ActionStart            Action = "start"
	ActionDeliver          Action = "deliver"
	ActionRequestRevision  Action = "request_revision"
	ActionCompleteRevision Action = "complete_revision"
	ActionConfirm          Action = "confirm"
	ActionAutoConfirm      Action = "auto_confirm"
	ActionCancel           Action = "cancel"
	ActionRefund           Action = "refund"
)

// Stamp: колонка с отметкой времени, которую выставляет переход
type Stamp string

const (
	StampPaidAt      Stamp = "paid_at"
	StampDeliveredAt Stamp = "delivered_at"
	StampCompletedAt Stamp = "completed_at"
	StampCancelledAt Stamp = "cancelled_at"
)

// Transition описывает одно ребро (или группу рёбер) таблицы переходов
type Transition struct {
	Action Action
	From   []OrderStatus
	To     OrderStatus
	Stamps []Stamp
	// ResetsDeadline: переход заново выставляет auto_confirm_at
	ResetsDeadline bool
}

// Allows проверяет, что переход допустим из текущего статуса
func (t Transition) Allows(from OrderStatus) bool {
	return slices.Contains(t.From, from)
}

// таблица переходов: единственный источник правды о допустимых рёбрах
var transitions = map[Action]Transition{
	ActionPay: {
		Action: ActionPay,
		From:   []OrderStatus{StatusPendingPayment},
		To:     StatusPaid,
		Stamps: []Stamp{StampPaidAt},
	},
	ActionStart: {
		Action: ActionStart,
		From:   []OrderStatus{StatusPaid},
		To:     StatusInProgress,
	},
	ActionDeliver: {
		Action:         ActionDeliver,
		From:           []OrderStatus{StatusInProgress},
		To:             StatusDelivered,
		Stamps:         []Stamp{StampDeliveredAt},
		ResetsDeadline: true,
	},
	ActionRequestRevision: {
		Action: ActionRequestRevision,
		From:   []OrderStatus{StatusDelivered},
		To:     StatusRevisionRequested,
	},
	ActionCompleteRevision: {
		Action:         ActionCompleteRevision,
		From:           []OrderStatus{StatusRevisionRequested},
		To:             StatusRevisionCompleted,
		ResetsDeadline: true,
	},
	ActionConfirm: {
		Action: ActionConfirm,
		From:   []OrderStatus{StatusInProgress, StatusDelivered, StatusRevisionRequested, StatusRevisionCompleted},
		To:     StatusCompleted,
		Stamps: []Stamp{StampCompletedAt},
	},
	ActionAutoConfirm: {
		Action: ActionAutoConfirm,
		From:   []OrderStatus{StatusDelivered, StatusRevisionCompleted},
		To:     StatusCompleted,
		Stamps: []Stamp{StampCompletedAt},
	},
	ActionCancel: {
		Action: ActionCancel,
		From:   []OrderStatus{StatusPendingPayment, StatusPaid, StatusInProgress},
		To:     StatusCancelled,
		Stamps: []Stamp{StampCancelledAt},
	},
	ActionRefund: {
		Action: ActionRefund,
		From: []OrderStatus{StatusPaid, StatusInProgress, StatusDelivered, StatusRevisionRequested,
			StatusRevisionCompleted, StatusCompleted},
		To: StatusRefunded,
		// cancelled_at ставится только если заказ не был завершён (см. storage)
		Stamps: []Stamp{StampCancelledAt},
	},
}

// TransitionFor возвращает описание перехода для действия
func TransitionFor(a Action) (Transition, bool) {
	t, ok := transitions[a]
	if !ok {
		return Transition{}, false
	}
	// копия, чтобы вызывающий не мог поменять таблицу
	t.From = slices.Clone(t.From)
	t.Stamps = slices.Clone(t.Stamps)
	return t, true
}

// MustTransition: то же, что TransitionFor, но паникует на неизвестном действии
func MustTransition(a Action) Transition {
	t, ok := TransitionFor(a)
	if !ok {
		panic("unknown order action: " + string(a))
	}
	return t
}

// CanTransition: есть ли в таблице ребро from -> to хотя бы для одного действия
func CanTransition(from, to OrderStatus) bool {
	for _, t := range transitions {
		if t.To == to && t.Allows(from) {
			return true
		}
	}
	return false
}
