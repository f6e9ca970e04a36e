package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/linemk/order-escrow/internal/domain/models"
	"github.com/linemk/order-escrow/internal/storage"
)

// Relation: кем субъект приходится заказу
type Relation int

const (
	RelationNone Relation = iota
	RelationBuyer
	RelationSeller
	RelationAdmin
	RelationSystem
)

func (r Relation) String() string {
	switch r {
	case RelationBuyer:
		return "buyer"
	case RelationSeller:
		return "seller"
	case RelationAdmin:
		return "admin"
	case RelationSystem:
		return "system"
	default:
		return "none"
	}
}

// Decision описывает результат проверки прав, то есть заказ и роль субъекта в нём
type Decision struct {
	Order    *models.Order
	Relation Relation
}

func (d Decision) Is(relations ...Relation) bool {
	for _, r := range relations {
		if d.Relation == r {
			return true
		}
	}
	return false
}

// Guard загружает заказ и определяет отношение субъекта к нему.
// Какие отношения допустимы, решает вызывающая операция.
type Guard struct {
	orders storage.OrderStorage
}

func NewGuard(orders storage.OrderStorage) *Guard {
	return &Guard{orders: orders}
}

func (g *Guard) Check(ctx context.Context, p models.Principal, orderID uuid.UUID) (Decision, error) {
	order, err := g.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrOrderNotFound) {
			return Decision{}, ErrNotFound
		}
		return Decision{}, fmt.Errorf("service.Guard.Check: failed to load order: %w", err)
	}

	return Decision{Order: order, Relation: relationOf(p, order)}, nil
}

func relationOf(p models.Principal, order *models.Order) Relation {
	switch {
	case p.IsSystem():
		return RelationSystem
	case p.UserID != uuid.Nil && p.UserID == order.BuyerID:
		return RelationBuyer
	case p.UserID != uuid.Nil && p.UserID == order.SellerID:
		return RelationSeller
	case p.IsAdmin():
		return RelationAdmin
	default:
		return RelationNone
	}
}
