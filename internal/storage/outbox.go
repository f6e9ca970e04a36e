package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linemk/order-escrow/internal/domain/models"
)

// OutboxStorage: очередь побочных эффектов переходов
type OutboxStorage interface {
	// Enqueue ставит событие в очередь; до nextAttemptAt его не заберёт диспетчер
	Enqueue(ctx context.Context, kind string, payload json.RawMessage, nextAttemptAt time.Time) (int64, error)
	// ClaimDue забирает готовые события и продлевает их аренду до now+lease
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.OutboxEvent, error)
	MarkDone(ctx context.Context, id int64, at time.Time) error
	// Reschedule фиксирует неудачную попытку; dead = true снимает событие с очереди
	Reschedule(ctx context.Context, id int64, lastErr string, next time.Time, dead bool) error
}

type outboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) OutboxStorage {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Enqueue(ctx context.Context, kind string, payload json.RawMessage, nextAttemptAt time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO outbox_events (kind, payload, status, attempts, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, 0, $4, NOW()) RETURNING id`,
		kind, []byte(payload), string(models.OutboxPending), nextAttemptAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return id, nil
}

func (r *outboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.OutboxEvent, error) {
	query := `
		UPDATE outbox_events
		SET next_attempt_at = $1
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE status = $2 AND next_attempt_at <= $3
			ORDER BY next_attempt_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED)
		RETURNING id, kind, payload, status, attempts, last_error, next_attempt_at, created_at`
	rows, err := r.db.QueryContext(ctx, query, now.Add(lease), string(models.OutboxPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []*models.OutboxEvent
	for rows.Next() {
		ev := &models.OutboxEvent{}
		var status string
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Kind, &payload, &status, &ev.Attempts,
			&ev.LastError, &ev.NextAttemptAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		ev.Payload = payload
		ev.Status = models.OutboxStatus(status)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (r *outboxRepository) MarkDone(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE outbox_events SET status = $1, processed_at = $2, attempts = attempts + 1 WHERE id = $3",
		string(models.OutboxDone), at, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox event done: %w", err)
	}
	return nil
}

func (r *outboxRepository) Reschedule(ctx context.Context, id int64, lastErr string, next time.Time, dead bool) error {
	status := models.OutboxPending
	if dead {
		status = models.OutboxDead
	}
	_, err := r.db.ExecContext(ctx,
		"UPDATE outbox_events SET status = $1, attempts = attempts + 1, last_error = $2, next_attempt_at = $3 WHERE id = $4",
		string(status), lastErr, next, id,
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule outbox event: %w", err)
	}
	return nil
}
