package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/linemk/order-escrow/internal/domain/models"
)

// SettlementService: журнал выплат продавцам (только для администратора)
type SettlementService interface {
	AwaitingPayout(ctx context.Context) ([]*models.Settlement, error)
	MarkPaidOut(ctx context.Context, id int64) (*models.Settlement, error)
}

type AwaitingPayoutResponse struct {
	Settlements []*models.Settlement `json:"settlements"`
	Total       int64                `json:"total"`
}

// AwaitingPayoutHandler обрабатывает GET /admin/settlements/awaiting-payout
func AwaitingPayoutHandler(log *slog.Logger, settlements SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.AwaitingPayoutHandler"
		logger := log.With(slog.String("op", op))

		list, err := settlements.AwaitingPayout(r.Context())
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}

		resp := AwaitingPayoutResponse{Settlements: list}
		for _, s := range list {
			resp.Total += s.Amount
		}
		writeJSON(w, logger, http.StatusOK, resp)
	}
}

// PaidOutHandler обрабатывает POST /admin/settlements/{id}/paid-out
func PaidOutHandler(log *slog.Logger, settlements SettlementService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.PaidOutHandler"
		logger := log.With(slog.String("op", op))

		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id <= 0 {
			writeError(w, logger, http.StatusBadRequest, "invalid_input", "invalid settlement id")
			return
		}

		settlement, err := settlements.MarkPaidOut(r.Context(), id)
		if err != nil {
			writeServiceError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, settlement)
	}
}
