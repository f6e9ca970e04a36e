package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidRule = errors.New("rate limit rule must have positive limit and window")

// Result: итог проверки лимита для одного ключа
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter считает запросы по ключу (субъект и эндпоинт)
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Rule: limit запросов за window
type Rule struct {
	Limit  int
	Window time.Duration
}

func (r Rule) validate() error {
	if r.Limit <= 0 || r.Window <= 0 {
		return ErrInvalidRule
	}
	return nil
}
