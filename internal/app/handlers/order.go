package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
)

// OrderService: операции жизненного цикла заказа
type OrderService interface {
	Get(ctx context.Context, p models.Principal, orderID uuid.UUID) (*models.OrderDetails, error)
	Confirm(ctx context.Context, p models.Principal, orderID uuid.UUID) error
	Start(ctx context.Context, p models.Principal, orderID uuid.UUID) error
	Deliver(ctx context.Context, p models.Principal, orderID uuid.UUID) error
	RequestRevision(ctx context.Context, p models.Principal, orderID uuid.UUID, reason string) error
	CompleteRevision(ctx context.Context, p models.Principal, orderID uuid.UUID) error
	Cancel(ctx context.Context, p models.Principal, orderID uuid.UUID, reason string) error
	Refund(ctx context.Context, p models.Principal, orderID uuid.UUID) error
}

// RevisionRequest: тело запроса на доработку
type RevisionRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// CancelRequest: необязательная причина отмены
type CancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// GetOrderHandler обрабатывает GET /orders/{id}
func GetOrderHandler(log *slog.Logger, orders OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.GetOrderHandler"
		logger := log.With(slog.String("op", op))

		p, orderID, ok := principalAndOrder(w, r, logger)
		if !ok {
			return
		}

		order, err := orders.Get(r.Context(), p, orderID)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, order)
	}
}

// ConfirmHandler обрабатывает POST /orders/{id}/confirm: подтверждение покупки покупателем
func ConfirmHandler(log *slog.Logger, orders OrderService) http.HandlerFunc {
	return actionHandler(log, "handlers.ConfirmHandler", orders.Confirm)
}

// StartHandler обрабатывает POST /orders/{id}/start
func StartHandler(log *slog.Logger, orders OrderService) http.HandlerFunc {
	return actionHandler(log, "handlers.StartHandler", orders.Start)
}

// DeliverHandler обрабатывает POST /orders/{id}/deliver
func DeliverHandler(log *slog.Logger, orders OrderService) http.HandlerFunc {
	return actionHandler(log, "handlers.DeliverHandler", orders.Deliver)
}

// CompleteRevisionHandler обрабатывает POST /orders/{id}/revision/complete
func CompleteRevisionHandler(log *slog.Logger, orders OrderService) http.HandlerFunc {
	return actionHandler(log, "handlers.CompleteRevisionHandler", orders.CompleteRevision)
}

// RefundHandler обрабатывает POST /admin/orders/{id}/refund
func RefundHandler(log *slog.Logger, orders OrderService) http.HandlerFunc {
	return actionHandler(log, "handlers.RefundHandler", orders.Refund)
}

func actionHandler(log *slog.Logger, op string, action func(ctx context.Context, p models.Principal, orderID uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := log.With(slog.String("op", op))

		p, orderID, ok := principalAndOrder(w, r, logger)
		if !ok {
			return
		}

		if err := action(r.Context(), p, orderID); err != nil {
			logger.Info("order action rejected", slog.String("order_id", orderID.String()), slog.Any("error", err))
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, SuccessResponse{Success: true})
	}
}

// RevisionHandler обрабатывает POST /orders/{id}/revision
func RevisionHandler(log *slog.Logger, orders OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.RevisionHandler"
		logger := log.With(slog.String("op", op))

		p, orderID, ok := principalAndOrder(w, r, logger)
		if !ok {
			return
		}

		var req RevisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Error("invalid request: decoding error", slog.Any("error", err))
			writeError(w, logger, http.StatusBadRequest, "invalid_input", "invalid request")
			return
		}
		if err := validate.Struct(req); err != nil {
			logger.Error("invalid request: validation error", slog.Any("error", err))
			writeError(w, logger, http.StatusBadRequest, "invalid_input", "reason is required")
			return
		}

		if err := orders.RequestRevision(r.Context(), p, orderID, req.Reason); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, SuccessResponse{Success: true})
	}
}

// CancelHandler обрабатывает POST /orders/{id}/cancel
func CancelHandler(log *slog.Logger, orders OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.CancelHandler"
		logger := log.With(slog.String("op", op))

		p, orderID, ok := principalAndOrder(w, r, logger)
		if !ok {
			return
		}

		var req CancelRequest
		if err := decodeOptional(r, &req); err != nil {
			writeError(w, logger, http.StatusBadRequest, "invalid_input", "invalid request")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, logger, http.StatusBadRequest, "invalid_input", "reason is too long")
			return
		}

		if err := orders.Cancel(r.Context(), p, orderID, req.Reason); err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, SuccessResponse{Success: true})
	}
}
