package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/linemk/order-escrow/internal/storage"
)

// Итог обработки одного заказа планировщиком
const (
	OutcomeConfirmed = "confirmed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

type AutoConfirmer interface {
	AutoConfirm(ctx context.Context, orderID uuid.UUID, now time.Time) (bool, error)
}

type OutboxDispatcher interface {
	DispatchPending(ctx context.Context, limit int) (int, error)
}

type SettlementReconciler interface {
	Reconcile(ctx context.Context, limit int) (int64, error)
}

type Outcome struct {
	OrderID uuid.UUID `json:"order_id"`
	Status  string    `json:"status"`
	Error   string    `json:"error,omitempty"`
}

type RunReport struct {
	Total      int       `json:"total"`
	Processed  int       `json:"processed"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Results    []Outcome `json:"results"`
	Dispatched int       `json:"dispatched"`
	Reconciled int64     `json:"reconciled"`
}

type SchedulerOptions struct {
	BatchSize   int
	Concurrency int
	OutboxBatch int
}

// Scheduler подтверждает заказы с истёкшим сроком проверки.
// Ошибка по одному заказу не останавливает обработку остальных.
type Scheduler struct {
	log         *slog.Logger
	orders      storage.OrderStorage
	confirmer   AutoConfirmer
	outbox      OutboxDispatcher
	settlements SettlementReconciler
	opts        SchedulerOptions
	now         func() time.Time
}

func NewScheduler(
	log *slog.Logger,
	orders storage.OrderStorage,
	confirmer AutoConfirmer,
	outbox OutboxDispatcher,
	settlements SettlementReconciler,
	opts SchedulerOptions,
) *Scheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.OutboxBatch <= 0 {
		opts.OutboxBatch = opts.BatchSize
	}
	return &Scheduler{
		log:         log,
		orders:      orders,
		confirmer:   confirmer,
		outbox:      outbox,
		settlements: settlements,
		opts:        opts,
		now:         time.Now,
	}
}

func (s *Scheduler) Run(ctx context.Context) (*RunReport, error) {
	const op = "service.Scheduler.Run"
	logger := s.log.With(slog.String("op", op))

	now := s.now()
	candidates, err := s.orders.ListAutoConfirmCandidates(ctx, now, s.opts.BatchSize)
	if err != nil {
		logger.Error("failed to select auto-confirm candidates", slog.Any("error", err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	results := make([]Outcome, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)

	for i, order := range candidates {
		i, orderID := i, order.ID
		g.Go(func() error {
			results[i] = s.confirmOne(ctx, logger, orderID, now)
			return nil
		})
	}
	_ = g.Wait()

	report := &RunReport{Total: len(candidates), Results: results}
	for _, r := range results {
		switch r.Status {
		case OutcomeConfirmed:
			report.Processed++
		case OutcomeSkipped:
			report.Skipped++
		default:
			report.Failed++
		}
	}

	if s.outbox != nil {
		dispatched, err := s.outbox.DispatchPending(ctx, s.opts.OutboxBatch)
		if err != nil {
			logger.Error("outbox dispatch failed", slog.Any("error", err))
		}
		report.Dispatched = dispatched
	}
	if s.settlements != nil {
		reconciled, err := s.settlements.Reconcile(ctx, s.opts.BatchSize)
		if err != nil {
			logger.Error("settlement reconciliation failed", slog.Any("error", err))
		}
		report.Reconciled = reconciled
	}

	logger.Info("auto-confirm run finished",
		slog.Int("total", report.Total),
		slog.Int("processed", report.Processed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (s *Scheduler) confirmOne(ctx context.Context, logger *slog.Logger, orderID uuid.UUID, now time.Time) (out Outcome) {
	out.OrderID = orderID
	defer func() {
		if r := recover(); r != nil {
			logger.Error("auto-confirm panicked", slog.String("order_id", orderID.String()), slog.Any("panic", r))
			out.Status = OutcomeFailed
			out.Error = fmt.Sprint(r)
		}
	}()

	ok, err := s.confirmer.AutoConfirm(ctx, orderID, now)
	switch {
	case err != nil:
		logger.Error("auto-confirm failed", slog.String("order_id", orderID.String()), slog.Any("error", err))
		out.Status = OutcomeFailed
		out.Error = err.Error()
	case ok:
		out.Status = OutcomeConfirmed
	default:
		out.Status = OutcomeSkipped
	}
	return out
}
