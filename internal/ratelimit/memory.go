package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter: token bucket на каждый ключ в памяти процесса.
// Используется, когда Redis не настроен; лимиты не разделяются между инстансами.
// Корзины, к которым не обращались дольше окна, удаляются: к этому моменту они всё равно полные.
type MemoryLimiter struct {
	rule      Rule
	buckets   sync.Map // map[string]*bucket
	lastSweep atomic.Int64
	now       func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen atomic.Int64
}

func NewMemoryLimiter(rule Rule) (*MemoryLimiter, error) {
	if err := rule.validate(); err != nil {
		return nil, fmt.Errorf("memory limiter: %w", err)
	}
	return &MemoryLimiter{rule: rule, now: time.Now}, nil
}

func (l *MemoryLimiter) bucketFor(key string) *bucket {
	if v, ok := l.buckets.Load(key); ok {
		return v.(*bucket)
	}
	every := l.rule.Window / time.Duration(l.rule.Limit)
	b := &bucket{lim: rate.NewLimiter(rate.Every(every), l.rule.Limit)}
	actual, _ := l.buckets.LoadOrStore(key, b)
	return actual.(*bucket)
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()
	l.sweep(now)

	b := l.bucketFor(key)
	b.lastSeen.Store(now.UnixNano())
	allowed := b.lim.AllowN(now, 1)

	tokens := b.lim.TokensAt(now)
	remaining := int(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}
	// время до полного восстановления корзины
	deficit := float64(l.rule.Limit) - tokens
	refill := time.Duration(deficit * float64(l.rule.Window) / float64(l.rule.Limit))

	return Result{
		Allowed:   allowed,
		Limit:     l.rule.Limit,
		Remaining: remaining,
		Reset:     now.Add(refill),
	}, nil
}

// sweep проходит по корзинам не чаще раза за окно
func (l *MemoryLimiter) sweep(now time.Time) {
	last := l.lastSweep.Load()
	if now.UnixNano()-last < int64(l.rule.Window) || !l.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	idleBefore := now.Add(-l.rule.Window).UnixNano()
	l.buckets.Range(func(k, v any) bool {
		if v.(*bucket).lastSeen.Load() < idleBefore {
			l.buckets.Delete(k)
		}
		return true
	})
}
