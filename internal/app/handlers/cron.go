package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/linemk/order-escrow/internal/service"
)

// AutoConfirmRunner: один проход планировщика
type AutoConfirmRunner interface {
	Run(ctx context.Context) (*service.RunReport, error)
}

type CronResponse struct {
	Success bool `json:"success"`
	*service.RunReport
}

// AutoConfirmCronHandler обрабатывает GET /cron/auto-confirm.
// Доступ по заголовку "Authorization: Bearer <CRON_SECRET>".
// Проход может идти дольше общего WriteTimeout сервера, поэтому дедлайн записи
// для этого запроса сдвигается на timeout.
func AutoConfirmCronHandler(log *slog.Logger, runner AutoConfirmRunner, secret string, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.AutoConfirmCronHandler"
		logger := log.With(slog.String("op", op))

		if secret == "" {
			logger.Error("CRON_SECRET is not configured")
			writeError(w, logger, http.StatusInternalServerError, "configuration_error", "service is not configured")
			return
		}

		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			logger.Warn("cron request with invalid secret")
			writeError(w, logger, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		ctx := r.Context()
		if timeout > 0 {
			err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(timeout))
			if err != nil && !errors.Is(err, http.ErrNotSupported) {
				logger.Warn("failed to extend write deadline", slog.Any("error", err))
			}
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		report, err := runner.Run(ctx)
		if err != nil {
			logger.Error("auto-confirm run failed", slog.Any("error", err))
			writeError(w, logger, http.StatusInternalServerError, "internal_error", "auto-confirm run failed")
			return
		}
		writeJSON(w, logger, http.StatusOK, CronResponse{Success: true, RunReport: report})
	}
}
