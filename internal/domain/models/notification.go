package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification: уведомление пользователю (таблица notifications)
type Notification struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	LinkURL   string    `json:"link_url,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// OutboxStatus: состояние события в очереди побочных эффектов
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxDone    OutboxStatus = "done"
	OutboxDead    OutboxStatus = "dead"
)

// OutboxEvent: отложенный побочный эффект перехода (расчёт, уведомление)
type OutboxEvent struct {
	ID            int64           `json:"id"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Status        OutboxStatus    `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     *string         `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
}
