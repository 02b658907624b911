package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/cache"
	"github.com/jhologic12/eshop-mvp/internal/store"
	"github.com/jhologic12/eshop-mvp/pkg/logger"
)

const (
	minLineQuantity = 1
	maxLineQuantity = 99

	cacheWriteTimeout = time.Second
)

type CartService struct {
	carts   store.CartStore
	catalog store.CatalogStore
	cache   cache.CartCache
	log     *logger.Logger
	now     func() time.Time
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartService(carts store.CartStore, catalog store.CatalogStore, c cache.CartCache, log *logger.Logger) *CartService {
	if c == nil {
		c = cache.NopCache{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CartService{
		carts:   carts,
		catalog: catalog,
		cache:   c,
		log:     log,
		now:     time.Now,
	}
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn(ctx, "cache get error", "user_id", userID, "error", err)
		}

		lines, err := s.carts.ListLines(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load cart: %w", err)
		}
		cart = &domain.Cart{UserID: userID, Lines: lines}

		go func() {
			setCtx, cancel := context.WithTimeout(context.Background(), cacheWriteTimeout)
			defer cancel()
			if err := s.cache.Set(setCtx, userID, cart); err != nil {
				s.log.Warn(setCtx, "cache set error", "user_id", userID, "error", err)
			}
		}()
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// AddItem puts quantity units of an active product in the cart, on top of
// what is already there.
func (s *CartService) AddItem(ctx context.Context, userID, productID string, quantity int) error {
	if err := checkQuantity(quantity); err != nil {
		return err
	}
	if err := s.checkProduct(ctx, productID); err != nil {
		return err
	}

	lines, err := s.carts.ListLines(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load cart: %w", err)
	}
	for _, l := range lines {
		if l.ProductID == productID && l.Quantity+quantity > maxLineQuantity {
			return fmt.Errorf("%w: already %d in cart", ErrInvalidQuantity, l.Quantity)
		}
	}

	err = s.carts.AddLine(ctx, domain.CartLine{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		AddedAt:   s.now(),
	})
	if err != nil {
		s.log.Error(ctx, "repo add line error", "user_id", userID, "product_id", productID, "error", err)
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, userID, productID string, quantity int) error {
	if err := checkQuantity(quantity); err != nil {
		return err
	}
	if err := s.carts.SetQuantity(ctx, userID, productID, quantity); err != nil {
		if !errors.Is(err, store.ErrLineNotFound) {
			s.log.Error(ctx, "repo set quantity error", "user_id", userID, "product_id", productID, "error", err)
		}
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *CartService) RemoveItem(ctx context.Context, userID, productID string) error {
	if err := s.carts.DeleteLine(ctx, userID, productID); err != nil {
		if !errors.Is(err, store.ErrLineNotFound) {
			s.log.Error(ctx, "repo delete line error", "user_id", userID, "product_id", productID, "error", err)
		}
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	if err := s.carts.ClearCart(ctx, userID); err != nil {
		s.log.Error(ctx, "repo clear cart error", "user_id", userID, "error", err)
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *CartService) checkProduct(ctx context.Context, productID string) error {
	p, err := s.catalog.GetProduct(ctx, productID)
	if errors.Is(err, store.ErrProductNotFound) {
		return fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
	}
	if err != nil {
		return fmt.Errorf("failed to load product: %w", err)
	}
	if !p.Active {
		return fmt.Errorf("%w: %s is not for sale", ErrProductUnavailable, p.Name)
	}
	return nil
}

func (s *CartService) invalidate(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn(ctx, "cache invalidate error", "user_id", userID, "error", err)
	}
}

func checkQuantity(q int) error {
	if q < minLineQuantity || q > maxLineQuantity {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, q)
	}
	return nil
}
