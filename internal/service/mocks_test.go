package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/cache"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

// fakeGateway approves everything unless told otherwise.
type fakeGateway struct {
	validateErr error
	chargeErr   error
	decline     bool

	// hooks run before the call returns
	onValidate func()
	onCharge   func()

	validates atomic.Int32
	charges   atomic.Int32
	refCount  atomic.Int32
}

func (g *fakeGateway) ValidateInstrument(_ context.Context, _ domain.PaymentInstrument) (domain.AccountRef, error) {
	g.validates.Add(1)
	if g.onValidate != nil {
		g.onValidate()
	}
	if g.validateErr != nil {
		return "", g.validateErr
	}
	return "acct-1", nil
}

func (g *fakeGateway) Charge(_ context.Context, accountRef domain.AccountRef, amount decimal.Decimal, _ string) (domain.ChargeResult, error) {
	g.charges.Add(1)
	if g.onCharge != nil {
		g.onCharge()
	}
	if g.chargeErr != nil {
		return domain.ChargeResult{}, g.chargeErr
	}
	n := g.refCount.Add(1)
	return domain.ChargeResult{
		AccountRef:  accountRef,
		Approved:    !g.decline,
		Amount:      amount,
		ExternalRef: fmt.Sprintf("ext-%d", n),
	}, nil
}

// failingCases wraps a ReconciliationLog and refuses to open cases.
type failingCases struct {
	store.ReconciliationLog
}

func (failingCases) OpenCase(context.Context, domain.ReconciliationCase, domain.OutboxEvent) error {
	return errors.New("disk full")
}

// stalledCommitter never finishes before its context does.
type stalledCommitter struct{}

func (stalledCommitter) CommitCheckout(ctx context.Context, _ domain.CheckoutCommit) error {
	<-ctx.Done()
	return fmt.Errorf("begin tx: %w", ctx.Err())
}

// deadlineCases refuses to write on a finished context, as a SQL transaction would.
type deadlineCases struct {
	store.ReconciliationLog
}

func (c deadlineCases) OpenCase(ctx context.Context, rc domain.ReconciliationCase, e domain.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	return c.ReconciliationLog.OpenCase(ctx, rc, e)
}

// recordingCache counts invalidations on top of a map.
type recordingCache struct {
	mu      sync.Mutex
	carts   map[string]*domain.Cart
	gets    int
	deletes int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{carts: make(map[string]*domain.Cart)}
}

func (c *recordingCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	cart, ok := c.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cart, nil
}

func (c *recordingCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.carts[userID] = cart
	return nil
}

func (c *recordingCache) Delete(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deletes++
	delete(c.carts, userID)
	return nil
}

func (c *recordingCache) deleteCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes
}

var (
	testInstrument = domain.PaymentInstrument{CardNumber: "4111111111111111", HolderName: "Ann Smith", ExpirationDate: "12/30", CVV: "123"}
)

func seedStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: "p1", Name: "Mug", UnitPrice: decimal.RequireFromString("10.50"), Stock: 10, Active: true}))
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: "p2", Name: "Tea", UnitPrice: decimal.NewFromInt(4), Stock: 3, Active: true}))
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: "p3", Name: "Gift card", UnitPrice: decimal.Zero, Stock: 50, Active: true}))
	require.NoError(t, s.UpsertProduct(ctx, domain.Product{ID: "old", Name: "Retired", UnitPrice: decimal.NewFromInt(1), Stock: 5, Active: false}))
	return s
}

func addLine(t *testing.T, s *store.MemoryStore, userID, productID string, qty int) {
	t.Helper()
	require.NoError(t, s.AddLine(context.Background(), domain.CartLine{UserID: userID, ProductID: productID, Quantity: qty}))
}

func stockOf(t *testing.T, s *store.MemoryStore, id string) int {
	t.Helper()
	p, err := s.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func linesOf(t *testing.T, s *store.MemoryStore, userID string) []domain.CartLine {
	t.Helper()
	lines, err := s.ListLines(context.Background(), userID)
	require.NoError(t, err)
	return lines
}
