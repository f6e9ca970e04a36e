package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/jwt-new/jwtmiddleware"
	"github.com/linemk/order-escrow/internal/service"
)

var validate = validator.New()

// ErrorResponse: тело ответа с ошибкой
type ErrorResponse struct {
	Error         string `json:"error"`
	Code          string `json:"code"`
	CurrentStatus string `json:"current_status,omitempty"`
}

// SuccessResponse: ответ на действие без полезной нагрузки
type SuccessResponse struct {
	Success bool `json:"success"`
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, log *slog.Logger, status int, code, msg string) {
	writeJSON(w, log, status, ErrorResponse{Error: msg, Code: code})
}

// writeServiceError переводит доменную ошибку в HTTP-ответ
func writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	if current, ok := service.CurrentStatus(err); ok {
		code := "invalid_state"
		if errors.Is(err, service.ErrAlreadyCompleted) {
			code = "already_completed"
		}
		writeJSON(w, log, http.StatusBadRequest, ErrorResponse{
			Error:         err.Error(),
			Code:          code,
			CurrentStatus: string(current),
		})
		return
	}

	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, log, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, log, http.StatusUnauthorized, "unauthorized", "not allowed to act on this order")
	case errors.Is(err, service.ErrAlreadyVerified):
		writeError(w, log, http.StatusConflict, "already_verified", "payment already verified")
	case errors.Is(err, service.ErrRevisionLimit):
		writeError(w, log, http.StatusBadRequest, "revision_limit", "revision limit reached")
	case errors.Is(err, service.ErrVerificationFailed):
		writeError(w, log, http.StatusBadRequest, "verification_failed", err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, log, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, service.ErrSettlementNotFound):
		writeError(w, log, http.StatusNotFound, "not_found", "settlement not found")
	case errors.Is(err, service.ErrSettlementState):
		writeError(w, log, http.StatusConflict, "invalid_state", "settlement is not payable")
	case errors.Is(err, service.ErrUpstream):
		writeError(w, log, http.StatusBadGateway, "upstream_failure", "payment gateway unavailable")
	case errors.Is(err, service.ErrConfiguration):
		writeError(w, log, http.StatusInternalServerError, "configuration_error", "service is not configured")
	default:
		log.Error("unexpected error", slog.Any("error", err))
		writeError(w, log, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// principalAndOrder достаёт субъекта из контекста и id заказа из пути.
// При ошибке ответ уже записан.
func principalAndOrder(w http.ResponseWriter, r *http.Request, log *slog.Logger) (models.Principal, uuid.UUID, bool) {
	p, ok := jwtmiddleware.FromContext(r.Context())
	if !ok {
		log.Error("principal not found in context")
		writeError(w, log, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return models.Principal{}, uuid.Nil, false
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, log, http.StatusBadRequest, "invalid_input", "invalid order id")
		return models.Principal{}, uuid.Nil, false
	}
	return p, orderID, true
}

// decodeOptional разбирает тело запроса; пустое тело допустимо
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
