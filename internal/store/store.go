package store

import (
	"context"
	"errors"

	"github.com/jhologic12/eshop-mvp/domain"
)

// Common errors returned by the stores
var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrLineNotFound      = errors.New("cart line not found")
	ErrCartChanged       = errors.New("cart changed during checkout")
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderExists       = errors.New("order already recorded")
	ErrCaseNotFound      = errors.New("reconciliation case not found")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// CartStore holds per-user cart lines.
type CartStore interface {
	// ListLines returns the user's lines ordered by insertion time.
	ListLines(ctx context.Context, userID string) ([]domain.CartLine, error)

	// AddLine creates the line or adds to its quantity if the product is already in the cart.
	AddLine(ctx context.Context, line domain.CartLine) error

	// SetQuantity overwrites the quantity of an existing line.
	SetQuantity(ctx context.Context, userID, productID string, quantity int) error

	DeleteLine(ctx context.Context, userID, productID string) error
	ClearCart(ctx context.Context, userID string) error
}

// CatalogStore holds product price and stock.
type CatalogStore interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)

	// GetProducts returns the products that exist among ids, keyed by id.
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	UpsertProduct(ctx context.Context, p domain.Product) error
	DeleteProduct(ctx context.Context, id string) error

	// DecrementIfSufficient removes qty units only if at least qty are in stock.
	// It reports whether the decrement happened.
	DecrementIfSufficient(ctx context.Context, productID string, qty int) (bool, error)
}

// OrderSink is the append-only record of checkout outcomes.
type OrderSink interface {
	AppendOrder(ctx context.Context, o domain.OrderOutcome) error
	GetOrder(ctx context.Context, id string) (domain.OrderOutcome, error)

	// ListOrders returns the user's outcomes, newest first.
	ListOrders(ctx context.Context, userID string) ([]domain.OrderOutcome, error)
}

// CheckoutCommitter applies a CheckoutCommit as one all-or-nothing unit:
// every stock debit, every cart line removal, the order record and the outbox event.
type CheckoutCommitter interface {
	CommitCheckout(ctx context.Context, c domain.CheckoutCommit) error
}

type AttemptLog interface {
	RecordAttempt(ctx context.Context, a domain.PaymentAttempt) error
	ListAttempts(ctx context.Context, f domain.AttemptFilter) ([]domain.PaymentAttempt, error)
}

type ReconciliationLog interface {
	// OpenCase stores the case together with its outbox event.
	OpenCase(ctx context.Context, c domain.ReconciliationCase, event domain.OutboxEvent) error
	GetCase(ctx context.Context, id string) (domain.ReconciliationCase, error)
	ResolveCase(ctx context.Context, id string, status domain.ReconciliationStatus) error
}

type Outbox interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}
