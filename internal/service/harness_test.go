package service_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/service"
)

const testAmount int64 = 100000

const autoConfirmAfter = 72 * time.Hour

// harness собирает сервисы поверх memStore так же, как это делает cmd/server
type harness struct {
	store       *memStore
	gw          *fakeGateway
	outbox      *service.Outbox
	notifier    *service.NotificationService
	orders      *service.OrderService
	payments    *service.PaymentService
	settlements *service.SettlementService

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := discardLogger()
	h := &harness{
		store: newMemStore(),
		gw:    newFakeGateway(),
		now:   time.Now().UTC().Truncate(time.Second),
	}
	tx := &memTransactor{store: h.store}
	guard := service.NewGuard(h.store)

	h.outbox = service.NewOutbox(log, h.store, service.OutboxOptions{MaxAttempts: 3})
	h.notifier = service.NewNotificationService(log, h.store, time.Second)
	h.settlements = service.NewSettlementService(log, h.store)
	service.RegisterSettlementHandlers(h.outbox, h.settlements)
	service.RegisterNotificationHandlers(h.outbox, h.notifier)

	h.orders = service.NewOrderService(log, tx, h.store, h.store, guard, h.outbox, autoConfirmAfter).
		WithClock(h.clock)
	h.payments = service.NewPaymentService(log, tx, h.store, h.store, h.store, h.gw, guard, h.orders, h.outbox)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

type parties struct {
	buyer  models.Principal
	seller models.Principal
}

// seed создаёт заказ в заданном статусе. Для оплаченных статусов создаётся и pending-расчёт,
// как это сделала бы транзакция оплаты.
func (h *harness) seed(status models.OrderStatus, mutate ...func(o *models.Order)) (*models.Order, parties) {
	now := h.clock()
	merchantUID := "pay-" + uuid.NewString()
	o := &models.Order{
		ID:            uuid.New(),
		BuyerID:       uuid.New(),
		SellerID:      uuid.New(),
		Amount:        testAmount,
		DeliveryDays:  7,
		RevisionCount: 2,
		MerchantUID:   &merchantUID,
		Status:        status,
		CreatedAt:     now.Add(-96 * time.Hour),
	}
	if status.IsPostPaid() {
		paidAt := now.Add(-90 * time.Hour)
		o.PaidAt = &paidAt
		o.PaymentID = &merchantUID
	}
	switch status {
	case models.StatusDelivered, models.StatusRevisionCompleted:
		deliveredAt := now.Add(-80 * time.Hour)
		deadline := deliveredAt.Add(autoConfirmAfter)
		o.DeliveredAt = &deliveredAt
		o.AutoConfirmAt = &deadline
	case models.StatusCompleted:
		completedAt := now.Add(-time.Hour)
		o.CompletedAt = &completedAt
	}
	for _, fn := range mutate {
		fn(o)
	}
	h.store.put(o)

	if status.IsPostPaid() {
		h.store.mu.Lock()
		s := &models.Settlement{
			ID: h.store.id(), OrderID: o.ID, SellerID: o.SellerID, Amount: o.Amount,
			Status: models.SettlementPending, CreatedAt: *o.PaidAt,
		}
		if status == models.StatusCompleted {
			s.Status = models.SettlementConfirmed
			s.ConfirmedAt = o.CompletedAt
		}
		h.store.settlements[o.ID] = s
		h.store.mu.Unlock()
	}

	return o, parties{
		buyer:  models.Principal{UserID: o.BuyerID, Role: models.RoleUser},
		seller: models.Principal{UserID: o.SellerID, Role: models.RoleUser},
	}
}

func stranger() models.Principal {
	return models.Principal{UserID: uuid.New(), Role: models.RoleUser}
}

func admin() models.Principal {
	return models.Principal{UserID: uuid.New(), Role: models.RoleAdmin}
}

func uuidOf(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := uuid.NewRandom()
	if err != nil {
		t.Fatal(err)
	}
	return id
}
