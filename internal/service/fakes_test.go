package service_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/gateway"
	"github.com/linemk/order-escrow/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore: хранилище в памяти с той же семантикой условных переходов, что и SQL
type memStore struct {
	mu            sync.Mutex
	orders        map[uuid.UUID]*models.Order
	revisions     []*models.RevisionRequest
	payments      map[string]*models.Payment
	settlements   map[uuid.UUID]*models.Settlement
	outbox        []*models.OutboxEvent
	notifications []*models.Notification
	nextID        int64

	notifyErr     error
	transitionErr error
	listErr       error
}

var (
	_ storage.OrderStorage        = (*memStore)(nil)
	_ storage.RevisionStorage     = (*memStore)(nil)
	_ storage.PaymentStorage      = (*memStore)(nil)
	_ storage.SettlementStorage   = (*memStore)(nil)
	_ storage.OutboxStorage       = (*memStore)(nil)
	_ storage.NotificationStorage = (*memStore)(nil)
)

func newMemStore() *memStore {
	return &memStore{
		orders:      make(map[uuid.UUID]*models.Order),
		payments:    make(map[string]*models.Payment),
		settlements: make(map[uuid.UUID]*models.Settlement),
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) put(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

func (m *memStore) order(id uuid.UUID) models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memStore) GetOrderByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, storage.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrderByMerchantUID(_ context.Context, merchantUID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.MerchantUID != nil && *o.MerchantUID == merchantUID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, storage.ErrOrderNotFound
}

func (m *memStore) openRevision(orderID uuid.UUID) bool {
	for _, r := range m.revisions {
		if r.OrderID == orderID && r.CompletedAt == nil {
			return true
		}
	}
	return false
}

func (m *memStore) Transition(_ context.Context, _ *sql.Tx, p storage.TransitionParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transitionErr != nil {
		return 0, m.transitionErr
	}
	if len(p.From) == 0 {
		return 0, storage.ErrEmptySourceStates
	}
	o, ok := m.orders[p.OrderID]
	if !ok {
		return 0, nil
	}
	allowed := false
	for _, st := range p.From {
		if o.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return 0, nil
	}
	if p.DeadlineNotAfter != nil && (o.AutoConfirmAt == nil || o.AutoConfirmAt.After(*p.DeadlineNotAfter)) {
		return 0, nil
	}
	if p.RequireRevisionBudget && !o.HasRevisionBudget() {
		return 0, nil
	}
	if p.RequireNoOpenRevision && m.openRevision(o.ID) {
		return 0, nil
	}

	at := p.At
	o.Status = p.To
	for _, stamp := range p.Stamps {
		switch stamp {
		case models.StampPaidAt:
			if o.PaidAt == nil {
				o.PaidAt = &at
			}
		case models.StampDeliveredAt:
			if o.DeliveredAt == nil {
				o.DeliveredAt = &at
			}
		case models.StampCompletedAt:
			if o.CompletedAt == nil {
				o.CompletedAt = &at
			}
		case models.StampCancelledAt:
			if o.CompletedAt == nil && o.CancelledAt == nil {
				o.CancelledAt = &at
			}
		}
	}
	if p.AutoConfirmAt != nil {
		v := *p.AutoConfirmAt
		o.AutoConfirmAt = &v
	}
	if p.PaymentID != nil {
		v := *p.PaymentID
		o.PaymentID = &v
	}
	if p.ConsumeRevision {
		o.RevisionsUsed++
	}
	return 1, nil
}

func (m *memStore) ListAutoConfirmCandidates(_ context.Context, now time.Time, limit int) ([]*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	auto := models.MustTransition(models.ActionAutoConfirm)
	var out []*models.Order
	for _, o := range m.orders {
		if !auto.Allows(o.Status) || o.AutoConfirmAt == nil || o.AutoConfirmAt.After(now) || m.openRevision(o.ID) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AutoConfirmAt.Before(*out[j].AutoConfirmAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CreateRevisionRequest(_ context.Context, _ *sql.Tx, orderID uuid.UUID, reason string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &models.RevisionRequest{ID: m.id(), OrderID: orderID, Reason: reason, RequestedAt: at}
	m.revisions = append(m.revisions, r)
	return r.ID, nil
}

func (m *memStore) CompleteOpenRevisions(_ context.Context, _ *sql.Tx, orderID uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.revisions {
		if r.OrderID == orderID && r.CompletedAt == nil {
			done := at
			r.CompletedAt = &done
			n++
		}
	}
	return n, nil
}

func (m *memStore) ListRevisions(_ context.Context, orderID uuid.UUID) ([]*models.RevisionRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RevisionRequest
	for _, r := range m.revisions {
		if r.OrderID == orderID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) CreatePayment(_ context.Context, _ *sql.Tx, p *models.Payment) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[p.PaymentID]; ok {
		return false, nil
	}
	if p.Status == models.PaymentPaid {
		for _, existing := range m.payments {
			if existing.OrderID == p.OrderID && existing.Status == models.PaymentPaid {
				return false, storage.ErrPaymentConflict
			}
		}
	}
	cp := *p
	cp.ID = m.id()
	p.ID = cp.ID
	m.payments[p.PaymentID] = &cp
	return true, nil
}

func (m *memStore) GetByPaymentID(_ context.Context, paymentID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, storage.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) PromotePayment(_ context.Context, _ *sql.Tx, p *models.Payment) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.payments[p.PaymentID]
	if !ok || existing.OrderID != p.OrderID || existing.Status == models.PaymentPaid {
		return 0, nil
	}
	for _, other := range m.payments {
		if other.OrderID == p.OrderID && other.Status == models.PaymentPaid {
			return 0, storage.ErrPaymentConflict
		}
	}
	existing.Status = models.PaymentPaid
	existing.Amount = p.Amount
	existing.PaidAt = p.PaidAt
	return 1, nil
}

func (m *memStore) putPayment(p models.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id()
	m.payments[p.PaymentID] = &p
}

func (m *memStore) paidPayments(orderID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.payments {
		if p.OrderID == orderID && p.Status == models.PaymentPaid {
			n++
		}
	}
	return n
}

func (m *memStore) CreateSettlementFromOrder(_ context.Context, _ *sql.Tx, orderID uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return false, nil
	}
	if _, exists := m.settlements[orderID]; exists {
		return false, nil
	}
	m.settlements[orderID] = &models.Settlement{
		ID: m.id(), OrderID: orderID, SellerID: o.SellerID, Amount: o.Amount,
		Status: models.SettlementPending, CreatedAt: at,
	}
	return true, nil
}

func (m *memStore) ConfirmSettlement(_ context.Context, orderID uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[orderID]
	o := m.orders[orderID]
	if !ok || s.Status != models.SettlementPending || o == nil || o.Status != models.StatusCompleted {
		return 0, nil
	}
	s.Status = models.SettlementConfirmed
	s.ConfirmedAt = &at
	return 1, nil
}

func (m *memStore) CancelSettlement(_ context.Context, orderID uuid.UUID, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[orderID]
	if !ok || (s.Status != models.SettlementPending && s.Status != models.SettlementConfirmed) {
		return 0, nil
	}
	s.Status = models.SettlementCancelled
	s.CancelledAt = &at
	return 1, nil
}

func (m *memStore) MarkPaidOut(_ context.Context, id int64, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.settlements {
		if s.ID == id && s.Status == models.SettlementConfirmed {
			s.Status = models.SettlementPaidOut
			s.PaidOutAt = &at
			return 1, nil
		}
	}
	return 0, nil
}

func (m *memStore) ListAwaitingPayout(_ context.Context) ([]*models.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Settlement, 0)
	for _, s := range m.settlements {
		if s.Status == models.SettlementConfirmed && s.PaidOutAt == nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) ReconcileConfirmed(_ context.Context, at time.Time, limit int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for orderID, s := range m.settlements {
		if int(n) >= limit {
			break
		}
		if o := m.orders[orderID]; o != nil && o.Status == models.StatusCompleted && s.Status == models.SettlementPending {
			s.Status = models.SettlementConfirmed
			s.ConfirmedAt = &at
			n++
		}
	}
	return n, nil
}

func (m *memStore) GetByOrderID(_ context.Context, orderID uuid.UUID) (*models.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[orderID]
	if !ok {
		return nil, storage.ErrSettlementNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*models.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.settlements {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, storage.ErrSettlementNotFound
}

func (m *memStore) settlement(orderID uuid.UUID) (models.Settlement, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[orderID]
	if !ok {
		return models.Settlement{}, false
	}
	return *s, true
}

func (m *memStore) Enqueue(_ context.Context, kind string, payload json.RawMessage, next time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := &models.OutboxEvent{
		ID: m.id(), Kind: kind, Payload: append(json.RawMessage(nil), payload...),
		Status: models.OutboxPending, NextAttemptAt: next, CreatedAt: next,
	}
	m.outbox = append(m.outbox, ev)
	return ev.ID, nil
}

func (m *memStore) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*models.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.OutboxEvent
	for _, ev := range m.outbox {
		if len(out) >= limit {
			break
		}
		if ev.Status == models.OutboxPending && !ev.NextAttemptAt.After(now) {
			ev.NextAttemptAt = now.Add(lease)
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) MarkDone(_ context.Context, id int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.outbox {
		if ev.ID == id {
			ev.Status = models.OutboxDone
			ev.Attempts++
		}
	}
	return nil
}

func (m *memStore) Reschedule(_ context.Context, id int64, lastErr string, next time.Time, dead bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.outbox {
		if ev.ID == id {
			ev.Attempts++
			msg := lastErr
			ev.LastError = &msg
			ev.NextAttemptAt = next
			if dead {
				ev.Status = models.OutboxDead
			}
		}
	}
	return nil
}

func (m *memStore) outboxByStatus(status models.OutboxStatus) []models.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OutboxEvent
	for _, ev := range m.outbox {
		if ev.Status == status {
			out = append(out, *ev)
		}
	}
	return out
}

func (m *memStore) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifyErr != nil {
		return m.notifyErr
	}
	cp := *n
	cp.ID = m.id()
	m.notifications = append(m.notifications, &cp)
	return nil
}

func (m *memStore) notificationsFor(userID uuid.UUID, typ string) []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID && n.Type == typ {
			out = append(out, *n)
		}
	}
	return out
}

type snapshot struct {
	orders      map[uuid.UUID]models.Order
	revisions   []models.RevisionRequest
	payments    map[string]models.Payment
	settlements map[uuid.UUID]models.Settlement
}

func (m *memStore) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snapshot{
		orders:      make(map[uuid.UUID]models.Order, len(m.orders)),
		payments:    make(map[string]models.Payment, len(m.payments)),
		settlements: make(map[uuid.UUID]models.Settlement, len(m.settlements)),
	}
	for k, v := range m.orders {
		s.orders[k] = *v
	}
	for _, r := range m.revisions {
		s.revisions = append(s.revisions, *r)
	}
	for k, v := range m.payments {
		s.payments[k] = *v
	}
	for k, v := range m.settlements {
		s.settlements[k] = *v
	}
	return s
}

func (m *memStore) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders = make(map[uuid.UUID]*models.Order, len(s.orders))
	for k, v := range s.orders {
		v := v
		m.orders[k] = &v
	}
	m.revisions = nil
	for _, r := range s.revisions {
		r := r
		m.revisions = append(m.revisions, &r)
	}
	m.payments = make(map[string]*models.Payment, len(s.payments))
	for k, v := range s.payments {
		v := v
		m.payments[k] = &v
	}
	m.settlements = make(map[uuid.UUID]*models.Settlement, len(s.settlements))
	for k, v := range s.settlements {
		v := v
		m.settlements[k] = &v
	}
}

// memTransactor выполняет транзакции последовательно и откатывает состояние при ошибке
type memTransactor struct {
	mu    sync.Mutex
	store *memStore
}

func (t *memTransactor) InTx(_ context.Context, fn func(tx *sql.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := t.store.snapshot()
	if err := fn(nil); err != nil {
		t.store.restore(snap)
		return err
	}
	return nil
}

// fakeGateway: ответы шлюза по payment id
type fakeGateway struct {
	mu       sync.Mutex
	payments map[string]*models.GatewayPayment
	err      error
	calls    atomic.Int32
}

var _ gateway.Client = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{payments: make(map[string]*models.GatewayPayment)}
}

func (g *fakeGateway) set(p models.GatewayPayment) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payments[p.ID] = &p
}

func (g *fakeGateway) GetPayment(_ context.Context, paymentID string) (*models.GatewayPayment, error) {
	g.calls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	p, ok := g.payments[paymentID]
	if !ok {
		return nil, gateway.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

var errBoom = errors.New("boom")
