package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter: фиксированное окно на INCR + EXPIRE, общий счётчик для всех инстансов.
// При гонке INCR/EXPIRE возможен пересчёт на границе окна, это допустимо.
type RedisLimiter struct {
	log    *slog.Logger
	client redis.Cmdable
	name   string
	rule   Rule
	now    func() time.Time
}

func NewRedisLimiter(log *slog.Logger, client redis.Cmdable, name string, rule Rule) (*RedisLimiter, error) {
	if err := rule.validate(); err != nil {
		return nil, fmt.Errorf("redis limiter %s: %w", name, err)
	}
	return &RedisLimiter{
		log:    log,
		client: client,
		name:   name,
		rule:   rule,
		now:    time.Now,
	}, nil
}

func (l *RedisLimiter) windowKey(key string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", l.name, key, windowStart.Unix())
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	const op = "ratelimit.Redis.Allow"

	windowStart := l.now().Truncate(l.rule.Window)
	redisKey := l.windowKey(key, windowStart)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("%s: incr: %w", op, err)
	}
	if count == 1 {
		// первый запрос в окне ставит TTL
		if err := l.client.Expire(ctx, redisKey, l.rule.Window).Err(); err != nil {
			l.log.Warn("failed to set window ttl", slog.String("op", op), slog.String("key", redisKey), slog.Any("error", err))
		}
	}

	remaining := l.rule.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(l.rule.Limit),
		Limit:     l.rule.Limit,
		Remaining: remaining,
		Reset:     windowStart.Add(l.rule.Window),
	}, nil
}
