package gateway_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetPayment_Paid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments/pay_123", r.URL.Path)
		assert.Equal(t, "PortOne secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pay_123","status":"PAID","amount":{"total":50000,"paid":50000}}`))
	}))
	defer srv.Close()

	c := gateway.NewPortOneClient(testLogger(), srv.URL+"/", "secret", time.Second)
	p, err := c.GetPayment(context.Background(), "pay_123")
	require.NoError(t, err)
	assert.Equal(t, "pay_123", p.ID)
	assert.Equal(t, models.GatewayStatusPaid, p.Status)
	assert.Equal(t, int64(50000), p.Amount)
}

func TestGetPayment_MissingSecret(t *testing.T) {
	c := gateway.NewPortOneClient(testLogger(), "http://127.0.0.1:1", "", time.Second)
	_, err := c.GetPayment(context.Background(), "pay_1")
	assert.True(t, errors.Is(err, gateway.ErrMissingSecret))
}

func TestGetPayment_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"type":"PAYMENT_NOT_FOUND","message":"not found"}`))
	}))
	defer srv.Close()

	c := gateway.NewPortOneClient(testLogger(), srv.URL, "secret", time.Second)
	_, err := c.GetPayment(context.Background(), "missing")
	assert.True(t, errors.Is(err, gateway.ErrPaymentNotFound))
}

func TestGetPayment_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := gateway.NewPortOneClient(testLogger(), srv.URL, "secret", time.Second)
	_, err := c.GetPayment(context.Background(), "pay_1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, gateway.ErrPaymentNotFound))
	assert.Contains(t, err.Error(), "502")
}

func TestGetPayment_FractionalAmountRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"pay_1","status":"PAID","amount":{"total":100.5}}`))
	}))
	defer srv.Close()

	c := gateway.NewPortOneClient(testLogger(), srv.URL, "secret", time.Second)
	_, err := c.GetPayment(context.Background(), "pay_1")
	assert.True(t, errors.Is(err, gateway.ErrMalformedResponse))
}

func TestGetPayment_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := gateway.NewPortOneClient(testLogger(), srv.URL, "secret", 20*time.Millisecond)
	_, err := c.GetPayment(context.Background(), "pay_1")
	assert.Error(t, err)
}
