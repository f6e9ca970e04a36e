package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/linemk/order-escrow/internal/jwt-new/jwtmiddleware"
)

const limitedMessage = "too many requests, please try again later"

type limitedResponse struct {
	Error     string `json:"error"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	Reset     string `json:"reset"`
}

// Middleware ограничивает запросы по субъекту из JWT (или по адресу клиента)
// отдельно для каждого эндпоинта. Ошибка хранилища лимитов не блокирует запрос.
func Middleware(log *slog.Logger, limiter Limiter) func(http.Handler) http.Handler {
	log = log.With(slog.String("component", "middleware/ratelimit"))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				log.Warn("rate limit check failed, allowing request", slog.String("key", key), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			setHeaders(w, res)
			if !res.Allowed {
				log.Info("rate limit exceeded", slog.String("key", key), slog.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(limitedResponse{
					Error:     limitedMessage,
					Limit:     res.Limit,
					Remaining: res.Remaining,
					Reset:     res.Reset.UTC().Format(time.RFC3339Nano),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func setHeaders(w http.ResponseWriter, res Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.UnixMilli(), 10))
}

func clientKey(r *http.Request) string {
	return subject(r) + ":" + endpoint(r)
}

func subject(r *http.Request) string {
	if p, ok := jwtmiddleware.FromContext(r.Context()); ok {
		return "user:" + p.UserID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// endpoint: метод и шаблон маршрута chi, чтобы /orders/{id} разных заказов шли в один счётчик
func endpoint(r *http.Request) string {
	path := r.URL.Path
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			path = pattern
		}
	}
	return r.Method + " " + path
}
