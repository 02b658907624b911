package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

// ShopService serves the read side: catalog, order history and payment attempts.
type ShopService struct {
	catalog  store.CatalogStore
	orders   store.OrderSink
	attempts store.AttemptLog
}

func NewShopService(catalog store.CatalogStore, orders store.OrderSink, attempts store.AttemptLog) *ShopService {
	return &ShopService{catalog: catalog, orders: orders, attempts: attempts}
}

// ListProducts returns the products currently for sale.
func (s *ShopService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	all, err := s.catalog.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	active := make([]domain.Product, 0, len(all))
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *ShopService) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	p, err := s.catalog.GetProduct(ctx, id)
	if errors.Is(err, store.ErrProductNotFound) || (err == nil && !p.Active) {
		return domain.Product{}, fmt.Errorf("%w: %s", ErrProductUnavailable, id)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to load product: %w", err)
	}
	return p, nil
}

func (s *ShopService) ListOrders(ctx context.Context, userID string) ([]domain.OrderOutcome, error) {
	orders, err := s.orders.ListOrders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// GetOrder returns the order only to the user who placed it; anyone else gets
// ErrOrderNotFound.
func (s *ShopService) GetOrder(ctx context.Context, userID, orderID string) (domain.OrderOutcome, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return domain.OrderOutcome{}, err
	}
	if o.UserID != userID {
		return domain.OrderOutcome{}, ErrOrderNotFound
	}
	return o, nil
}

func (s *ShopService) ListAttempts(ctx context.Context, userID string, success *bool) ([]domain.PaymentAttempt, error) {
	attempts, err := s.attempts.ListAttempts(ctx, domain.AttemptFilter{UserID: userID, Success: success})
	if err != nil {
		return nil, fmt.Errorf("failed to list payment attempts: %w", err)
	}
	return attempts, nil
}
