package cache

import (
	"context"
	"errors"

	"github.com/jhologic12/eshop-mvp/domain"
)

// CartCache is a read-through cache in front of the cart store.
// A miss is never an error for callers; they fall back to the store.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// NopCache never stores anything. Used when Redis is not configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }
func (NopCache) Set(context.Context, string, *domain.Cart) error   { return nil }
func (NopCache) Delete(context.Context, string) error              { return nil }
