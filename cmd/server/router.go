package main

import (
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/linemk/order-escrow/internal/app/handlers"
	"github.com/linemk/order-escrow/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/order-escrow/internal/lib/logger/handlers/urllog"
	"github.com/linemk/order-escrow/internal/ratelimit"
)

type routerDeps struct {
	JWTSecret   string
	CronSecret  string
	CronTimeout time.Duration

	Orders      handlers.OrderService
	Payments    handlers.PaymentService
	Settlements handlers.SettlementService
	Scheduler   handlers.AutoConfirmRunner

	DefaultLimiter ratelimit.Limiter
	PaymentLimiter ratelimit.Limiter
}

func newRouter(log *slog.Logger, d routerDeps) chi.Router {
	router := chi.NewRouter()
	// настройка middleware
	router.Use(middleware.RequestID)
	router.Use(urllog.CustomLoggerMiddleware(log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.URLFormat)

	// вызовы планировщика и шлюза: без JWT, со своей проверкой
	router.Get("/cron/auto-confirm", handlers.AutoConfirmCronHandler(log, d.Scheduler, d.CronSecret, d.CronTimeout))
	router.Post("/webhook/payment", handlers.PaymentWebhookHandler(log, d.Payments))

	router.Group(func(r chi.Router) {
		r.Use(jwtmiddleware.NewJWTMiddleware(d.JWTSecret))

		// проверка оплаты ходит в шлюз, лимит строже
		r.With(ratelimit.Middleware(log, d.PaymentLimiter)).
			Post("/payments/verify", handlers.VerifyPaymentHandler(log, d.Payments))

		r.Group(func(r chi.Router) {
			r.Use(ratelimit.Middleware(log, d.DefaultLimiter))

			r.Get("/orders/{id}", handlers.GetOrderHandler(log, d.Orders))
			r.Post("/orders/{id}/confirm", handlers.ConfirmHandler(log, d.Orders))
			r.Post("/orders/{id}/start", handlers.StartHandler(log, d.Orders))
			r.Post("/orders/{id}/deliver", handlers.DeliverHandler(log, d.Orders))
			r.Post("/orders/{id}/revision", handlers.RevisionHandler(log, d.Orders))
			r.Post("/orders/{id}/revision/complete", handlers.CompleteRevisionHandler(log, d.Orders))
			r.Post("/orders/{id}/cancel", handlers.CancelHandler(log, d.Orders))

			r.Route("/admin", func(r chi.Router) {
				r.Use(jwtmiddleware.RequireAdmin)
				r.Post("/orders/{id}/refund", handlers.RefundHandler(log, d.Orders))
				r.Get("/settlements/awaiting-payout", handlers.AwaitingPayoutHandler(log, d.Settlements))
				r.Post("/settlements/{id}/paid-out", handlers.PaidOutHandler(log, d.Settlements))
			})
		})
	})

	return router
}
