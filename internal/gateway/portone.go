package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/linemk/order-escrow/internal/domain/models"
)

var (
	// ErrMissingSecret: секрет шлюза не задан в окружении
	ErrMissingSecret = errors.New("payment gateway secret is not configured")
	// ErrPaymentNotFound: шлюз не знает такого платежа
	ErrPaymentNotFound = errors.New("payment not found in gateway")
	// ErrMalformedResponse: ответ шлюза не удалось разобрать
	ErrMalformedResponse = errors.New("malformed gateway response")
)

const defaultBaseURL = "https://api.portone.io"

// Client: источник авторитетного состояния платежа
type Client interface {
	GetPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error)
}

// PortOneClient ходит в REST API PortOne v2.
type PortOneClient struct {
	log     *slog.Logger
	baseURL string
	secret  string
	client  *http.Client
}

type paymentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount struct {
		Total json.Number `json:"total"`
	} `json:"amount"`
}

type errorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewPortOneClient(log *slog.Logger, baseURL, secret string, timeout time.Duration) *PortOneClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &PortOneClient{
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetPayment запрашивает платёж по идентификатору. Сумма должна быть целым числом.
func (c *PortOneClient) GetPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	const op = "gateway.PortOne.GetPayment"

	if c.secret == "" {
		return nil, ErrMissingSecret
	}

	endpoint := c.baseURL + "/payments/" + url.PathEscape(paymentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Authorization", "PortOne "+c.secret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrPaymentNotFound
	case resp.StatusCode != http.StatusOK:
		var apiErr errorResponse
		_ = json.Unmarshal(body, &apiErr)
		c.log.Warn("gateway returned error",
			slog.String("op", op),
			slog.Int("status", resp.StatusCode),
			slog.String("type", apiErr.Type),
		)
		return nil, fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, apiErr.Message)
	}

	var parsed paymentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, ErrMalformedResponse, err)
	}
	amount, err := parsed.Amount.Total.Int64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: amount %q is not an integer", op, ErrMalformedResponse, parsed.Amount.Total)
	}
	id := parsed.ID
	if id == "" {
		id = paymentID
	}

	return &models.GatewayPayment{
		ID:     id,
		Status: parsed.Status,
		Amount: amount,
	}, nil
}
