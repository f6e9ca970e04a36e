package service

import (
	"errors"
	"fmt"

	"github.com/linemk/order-escrow/internal/domain/models"
)

var (
	ErrNotFound     = errors.New("order not found")
	ErrUnauthorized = errors.New("principal is not allowed to act on this order")
	// ErrAlreadyCompleted: заказ уже подтверждён (ручным или автоматическим подтверждением)
	ErrAlreadyCompleted = errors.New("order already completed")
	// ErrAlreadyVerified: платёж по заказу уже проверен
	ErrAlreadyVerified    = errors.New("order payment already verified")
	ErrVerificationFailed = errors.New("payment verification failed")
	ErrUpstream           = errors.New("payment gateway unavailable")
	ErrConfiguration      = errors.New("service is not configured")
	ErrRevisionLimit      = errors.New("revision limit reached")
	ErrInvalidInput       = errors.New("invalid input")
	ErrSettlementNotFound = errors.New("settlement not found")
)

// InvalidStateError: переход не разрешён из текущего статуса
type InvalidStateError struct {
	Current models.OrderStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("transition not allowed from status %s", e.Current)
}

// CurrentStatus извлекает текущий статус из ошибки перехода
func CurrentStatus(err error) (models.OrderStatus, bool) {
	var stateErr *InvalidStateError
	if errors.As(err, &stateErr) {
		return stateErr.Current, true
	}
	if errors.Is(err, ErrAlreadyCompleted) {
		return models.StatusCompleted, true
	}
	return "", false
}

// ErrSettlementState: расчёт нельзя перевести в запрошенный статус
var ErrSettlementState = errors.New("settlement is not in a payable state")
