package jwtmiddleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linemk/order-escrow/internal/domain/models"
	security "github.com/linemk/order-escrow/internal/jwt-new"
	"github.com/linemk/order-escrow/internal/jwt-new/jwtmiddleware"
)

const testSecret = "testsecret"

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestJWTMiddleware_MissingAuthorization(t *testing.T) {
	handler := jwtmiddleware.NewJWTMiddleware(testSecret)(okHandler())

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code, "Expected unauthorized status when no token provided")
	assert.True(t, strings.Contains(rr.Body.String(), "missing token"))
}

func TestJWTMiddleware_InvalidAuthorizationFormat(t *testing.T) {
	handler := jwtmiddleware.NewJWTMiddleware(testSecret)(okHandler())

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "InvalidFormat")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "invalid token format"))
}

func TestJWTMiddleware_InvalidToken(t *testing.T) {
	handler := jwtmiddleware.NewJWTMiddleware(testSecret)(okHandler())

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer invalid.token.value")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "invalid token"))
}

func TestJWTMiddleware_WrongSecret(t *testing.T) {
	tokenStr, err := security.NewToken(context.Background(),
		models.Principal{UserID: uuid.New(), Role: models.RoleUser}, "other", time.Hour)
	require.NoError(t, err)

	handler := jwtmiddleware.NewJWTMiddleware(testSecret)(okHandler())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestJWTMiddleware_NonUUIDSubject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "123"})
	tokenStr, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	handler := jwtmiddleware.NewJWTMiddleware(testSecret)(okHandler())
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "invalid user id")
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	cases := []struct {
		name     string
		role     models.Role
		wantRole models.Role
	}{
		{"user", models.RoleUser, models.RoleUser},
		{"admin", models.RoleAdmin, models.RoleAdmin},
		// роль system через токен не принимается
		{"system downgraded", models.RoleSystem, models.RoleUser},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			userID := uuid.New()
			tokenStr, err := security.NewToken(context.Background(),
				models.Principal{UserID: userID, Role: tc.role}, testSecret, time.Hour)
			require.NoError(t, err)

			var got models.Principal
			handler := jwtmiddleware.NewJWTMiddleware(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				p, ok := jwtmiddleware.FromContext(r.Context())
				if !ok {
					http.Error(w, "principal not found", http.StatusInternalServerError)
					return
				}
				got = p
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", "Bearer "+tokenStr)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, userID, got.UserID)
			assert.Equal(t, tc.wantRole, got.Role)
		})
	}
}

func TestNewToken_EmptySecret(t *testing.T) {
	_, err := security.NewToken(context.Background(), models.Principal{UserID: uuid.New()}, "", time.Hour)
	assert.ErrorIs(t, err, security.ErrEmptySecret)
}

func TestFromContext(t *testing.T) {
	p := models.Principal{UserID: uuid.New(), Role: models.RoleAdmin}
	ctx := jwtmiddleware.WithPrincipal(context.Background(), p)
	got, ok := jwtmiddleware.FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, p, got)

	_, ok = jwtmiddleware.FromContext(context.Background())
	assert.False(t, ok)
}

func TestRequireAdmin(t *testing.T) {
	handler := jwtmiddleware.RequireAdmin(okHandler())

	tests := []struct {
		name string
		ctx  context.Context
		want int
	}{
		{"no principal", context.Background(), http.StatusForbidden},
		{"user", jwtmiddleware.WithPrincipal(context.Background(), models.Principal{UserID: uuid.New(), Role: models.RoleUser}), http.StatusForbidden},
		{"admin", jwtmiddleware.WithPrincipal(context.Background(), models.Principal{UserID: uuid.New(), Role: models.RoleAdmin}), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin", nil).WithContext(tt.ctx)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}
