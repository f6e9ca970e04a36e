package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/storage"
)

const maxBackoff = time.Hour

// EventHandler обрабатывает одно событие outbox
type EventHandler func(ctx context.Context, payload json.RawMessage) error

type OutboxOptions struct {
	MaxAttempts     int
	BaseBackoff     time.Duration
	Lease           time.Duration
	DispatchTimeout time.Duration
}

// Publisher публикует побочные эффекты уже закоммиченного перехода
type Publisher interface {
	Publish(ctx context.Context, events ...models.Event)
}

// Outbox сохраняет событие, пытается выполнить его сразу и при неудаче
// оставляет диспетчеру (DispatchPending) с экспоненциальной задержкой.
type Outbox struct {
	log      *slog.Logger
	repo     storage.OutboxStorage
	opts     OutboxOptions
	handlers map[string]EventHandler
	now      func() time.Time
}

func NewOutbox(log *slog.Logger, repo storage.OutboxStorage, opts OutboxOptions) *Outbox {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 3 * time.Second
	}
	return &Outbox{
		log:      log,
		repo:     repo,
		opts:     opts,
		handlers: make(map[string]EventHandler),
		now:      time.Now,
	}
}

// Register задаёт обработчик для вида события. Вызывается до старта сервера.
func (o *Outbox) Register(kind string, h EventHandler) {
	o.handlers[kind] = h
}

// RegisterHandler регистрирует типизированный обработчик события E
func RegisterHandler[E models.Event](o *Outbox, fn func(ctx context.Context, e E) error) {
	var zero E
	o.Register(zero.Kind(), func(ctx context.Context, payload json.RawMessage) error {
		var e E
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("decode %s: %w", zero.Kind(), err)
		}
		return fn(ctx, e)
	})
}

// Publish никогда не возвращает ошибку: основной переход уже закоммичен.
func (o *Outbox) Publish(ctx context.Context, events ...models.Event) {
	const op = "service.Outbox.Publish"
	// клиент может отключиться, а побочный эффект всё равно должен быть записан
	ctx = context.WithoutCancel(ctx)

	for _, ev := range events {
		logger := o.log.With(slog.String("op", op), slog.String("kind", ev.Kind()))

		payload, err := json.Marshal(ev)
		if err != nil {
			logger.Error("failed to encode event", slog.Any("error", err))
			continue
		}

		now := o.now()
		id, enqueueErr := o.repo.Enqueue(ctx, ev.Kind(), payload, now.Add(o.opts.Lease))
		if enqueueErr != nil {
			logger.Error("failed to enqueue event, dispatching without retry", slog.Any("error", enqueueErr))
		}

		err = o.dispatch(ctx, ev.Kind(), payload)
		if enqueueErr != nil {
			if err != nil {
				logger.Error("side effect lost", slog.Any("error", err))
			}
			continue
		}
		if err != nil {
			logger.Warn("side effect failed, scheduled for retry", slog.Int64("event_id", id), slog.Any("error", err))
			o.fail(ctx, logger, id, 1, err)
			continue
		}
		if err := o.repo.MarkDone(ctx, id, o.now()); err != nil {
			logger.Error("failed to mark event done", slog.Int64("event_id", id), slog.Any("error", err))
		}
	}
}

// DispatchPending обрабатывает накопившиеся события, возвращает число успешно выполненных.
func (o *Outbox) DispatchPending(ctx context.Context, limit int) (int, error) {
	const op = "service.Outbox.DispatchPending"
	logger := o.log.With(slog.String("op", op))

	events, err := o.repo.ClaimDue(ctx, o.now(), o.opts.Lease, limit)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	done := 0
	for _, ev := range events {
		attempt := ev.Attempts + 1
		if err := o.dispatch(ctx, ev.Kind, ev.Payload); err != nil {
			logger.Warn("outbox event failed",
				slog.Int64("event_id", ev.ID),
				slog.String("kind", ev.Kind),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
			o.fail(ctx, logger, ev.ID, attempt, err)
			continue
		}
		if err := o.repo.MarkDone(ctx, ev.ID, o.now()); err != nil {
			logger.Error("failed to mark event done", slog.Int64("event_id", ev.ID), slog.Any("error", err))
			continue
		}
		done++
	}
	if len(events) > 0 {
		logger.Info("outbox dispatched", slog.Int("claimed", len(events)), slog.Int("done", done))
	}
	return done, nil
}

func (o *Outbox) dispatch(ctx context.Context, kind string, payload json.RawMessage) error {
	h, ok := o.handlers[kind]
	if !ok {
		return fmt.Errorf("no handler for event kind %q", kind)
	}
	ctx, cancel := context.WithTimeout(ctx, o.opts.DispatchTimeout)
	defer cancel()
	return h(ctx, payload)
}

func (o *Outbox) fail(ctx context.Context, logger *slog.Logger, id int64, attempt int, cause error) {
	dead := attempt >= o.opts.MaxAttempts
	if dead {
		logger.Error("outbox event exhausted retries", slog.Int64("event_id", id), slog.Int("attempts", attempt))
	}
	next := o.now().Add(o.backoff(attempt))
	if err := o.repo.Reschedule(ctx, id, cause.Error(), next, dead); err != nil {
		logger.Error("failed to reschedule event", slog.Int64("event_id", id), slog.Any("error", err))
	}
}

// backoff = base * 2^(attempt-1), не больше часа
func (o *Outbox) backoff(attempt int) time.Duration {
	d := o.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
