package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/order-escrow/internal/service"
)

// PaymentService: проверка платежа и вебхуки шлюза
type PaymentService interface {
	Verify(ctx context.Context, p models.Principal, paymentID string, orderID uuid.UUID) (*service.VerifyResult, error)
	HandleWebhook(ctx context.Context, ev service.WebhookEvent) (string, error)
}

// VerifyRequest: тело POST /payments/verify
type VerifyRequest struct {
	PaymentID string `json:"payment_id" validate:"required"`
	OrderID   string `json:"order_id" validate:"required,uuid"`
}

type VerifyResponse struct {
	Success bool                  `json:"success"`
	Order   *service.VerifyResult `json:"order"`
}

type WebhookResponse struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
}

// VerifyPaymentHandler обрабатывает POST /payments/verify
func VerifyPaymentHandler(log *slog.Logger, payments PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.VerifyPaymentHandler"
		logger := log.With(slog.String("op", op))

		p, ok := jwtmiddleware.FromContext(r.Context())
		if !ok {
			logger.Error("principal not found in context")
			writeError(w, logger, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		var req VerifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(w, logger, http.StatusBadRequest, "invalid_input", "invalid request")
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			writeError(w, logger, http.StatusBadRequest, "invalid_input", "payment_id and order_id are required")
			return
		}
		orderID := uuid.MustParse(req.OrderID)

		res, err := payments.Verify(r.Context(), p, req.PaymentID, orderID)
		if err != nil {
			// чужой заказ при проверке оплаты: 403, а не 401
			if errors.Is(err, service.ErrUnauthorized) {
				writeError(w, logger, http.StatusForbidden, "forbidden", "order belongs to another buyer")
				return
			}
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, VerifyResponse{Success: true, Order: res})
	}
}

// PaymentWebhookHandler обрабатывает POST /webhook/payment.
// Тело вебхука даёт только payment id, состояние платежа перечитывается из шлюза.
func PaymentWebhookHandler(log *slog.Logger, payments PaymentService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.PaymentWebhookHandler"
		logger := log.With(slog.String("op", op))

		var ev service.WebhookEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			logger.Error("invalid webhook payload", slog.Any("error", err))
			writeError(w, logger, http.StatusBadRequest, "invalid_input", "invalid payload")
			return
		}

		result, err := payments.HandleWebhook(r.Context(), ev)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, WebhookResponse{Success: true, Result: result})
	}
}
