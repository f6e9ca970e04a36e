package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/linemk/order-escrow/internal/app"
	"github.com/linemk/order-escrow/internal/config"
	"github.com/linemk/order-escrow/internal/gateway"
	"github.com/linemk/order-escrow/internal/lib/logger"
	"github.com/linemk/order-escrow/internal/ratelimit"
	"github.com/linemk/order-escrow/internal/service"
	"github.com/linemk/order-escrow/internal/storage"
)

func main() {
	// загрузка конфигурации
	cfg := config.MustLoad()

	// инициализация логгера, зависит от настройки окружения
	log := logger.SetupLogger(cfg.Env, cfg.LogLevel)
	log.Info("starting app", slog.String("env", cfg.Env))

	// загружаем объект приложения, конфигом и подключением к БД
	application, err := app.NewApp(log, cfg)
	if err != nil {
		log.Error("failed to initialize app", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to initialize app"))
	}
	defer application.Close()

	// слои по работе с БД
	tx := storage.NewTransactor(log, application.DB)
	orderRepo := storage.NewOrderRepository(application.DB)
	revisionRepo := storage.NewRevisionRepository(application.DB)
	paymentRepo := storage.NewPaymentRepository(application.DB)
	settlementRepo := storage.NewSettlementRepository(application.DB)
	notificationRepo := storage.NewNotificationRepository(application.DB)
	outboxRepo := storage.NewOutboxRepository(application.DB)

	// побочные эффекты переходов: расчёты и уведомления через outbox
	outbox := service.NewOutbox(log, outboxRepo, service.OutboxOptions{
		MaxAttempts:     cfg.Outbox.MaxAttempts,
		BaseBackoff:     cfg.Outbox.BaseBackoff,
		Lease:           cfg.Outbox.Lease,
		DispatchTimeout: cfg.Notifications.Timeout,
	})
	settlementService := service.NewSettlementService(log, settlementRepo)
	notificationService := service.NewNotificationService(log, notificationRepo, cfg.Notifications.Timeout)
	service.RegisterSettlementHandlers(outbox, settlementService)
	service.RegisterNotificationHandlers(outbox, notificationService)

	guard := service.NewGuard(orderRepo)
	gw := gateway.NewPortOneClient(log, cfg.Gateway.BaseURL, cfg.Gateway.Secret, cfg.Gateway.Timeout)
	if cfg.Gateway.Secret == "" {
		log.Warn("PORTONE_API_SECRET is not set, payment verification will fail")
	}

	orderService := service.NewOrderService(log, tx, orderRepo, revisionRepo, guard, outbox, cfg.Orders.AutoConfirmAfter)
	paymentService := service.NewPaymentService(log, tx, orderRepo, paymentRepo, settlementRepo, gw, guard, orderService, outbox)
	scheduler := service.NewScheduler(log, orderRepo, orderService, outbox, settlementService, service.SchedulerOptions{
		BatchSize:   cfg.Cron.BatchSize,
		Concurrency: cfg.Cron.Concurrency,
		OutboxBatch: cfg.Outbox.BatchSize,
	})

	defaultLimiter, paymentLimiter, err := newLimiters(log, application, cfg.RateLimit)
	if err != nil {
		log.Error("failed to configure rate limits", slog.Any("error", err))
		panic(errors.Wrap(err, "failed to configure rate limits"))
	}

	router := newRouter(log, routerDeps{
		JWTSecret:      cfg.JWT.Secret,
		CronSecret:     cfg.Cron.Secret,
		CronTimeout:    cfg.Cron.Timeout,
		Orders:         orderService,
		Payments:       paymentService,
		Settlements:    settlementService,
		Scheduler:      scheduler,
		DefaultLimiter: defaultLimiter,
		PaymentLimiter: paymentLimiter,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.Timeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		log.Info("starting server", slog.String("address", cfg.HTTPServer.Address))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", slog.Any("error", err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	stopSign := <-stop
	log.Info("received shutdown signal", slog.String("signal", stopSign.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown failed", slog.Any("error", err))
	}
	log.Info("server gracefully stopped")
}

// newLimiters выбирает хранилище счётчиков: Redis для нескольких инстансов, иначе память процесса
func newLimiters(log *slog.Logger, application *app.App, cfg config.RateLimitConfig) (ratelimit.Limiter, ratelimit.Limiter, error) {
	def := ratelimit.Rule{Limit: cfg.Default.Limit, Window: cfg.Default.Window}
	payment := ratelimit.Rule{Limit: cfg.Payment.Limit, Window: cfg.Payment.Window}

	if application.Redis == nil {
		log.Info("rate limiting in memory")
		defLimiter, err := ratelimit.NewMemoryLimiter(def)
		if err != nil {
			return nil, nil, errors.Wrap(err, "default")
		}
		paymentLimiter, err := ratelimit.NewMemoryLimiter(payment)
		if err != nil {
			return nil, nil, errors.Wrap(err, "payment")
		}
		return defLimiter, paymentLimiter, nil
	}

	log.Info("rate limiting in redis")
	defLimiter, err := ratelimit.NewRedisLimiter(log, application.Redis, "default", def)
	if err != nil {
		return nil, nil, err
	}
	paymentLimiter, err := ratelimit.NewRedisLimiter(log, application.Redis, "payment", payment)
	if err != nil {
		return nil, nil, err
	}
	return defLimiter, paymentLimiter, nil
}
