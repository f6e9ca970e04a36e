package security

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/linemk/order-escrow/internal/domain/models"
)

var ErrEmptySecret = errors.New("jwt secret is empty")

// NewToken генерирует JWT-токен для субъекта с заданным временем жизни.
// Роль кладётся в claim "role".
func NewToken(_ context.Context, p models.Principal, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  p.UserID.String(),
		"role": string(p.Role),
		"exp":  now.Add(ttl).Unix(),
		"iat":  now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
