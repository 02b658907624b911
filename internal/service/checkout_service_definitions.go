package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/cache"
	"github.com/jhologic12/eshop-mvp/internal/store"
	"github.com/jhologic12/eshop-mvp/pkg/logger"
	"github.com/jhologic12/eshop-mvp/pkg/metrics"
)

const defaultCommitTimeout = 10 * time.Second

type FulfillmentMode string

const (
	// FulfillmentStrict fails the checkout if any line is short on stock.
	FulfillmentStrict FulfillmentMode = "strict"
	// FulfillmentPartial buys what is available and reports the rest as adjustments.
	FulfillmentPartial FulfillmentMode = "partial"
)

// PaymentGateway is the part of the payment client the checkout needs.
type PaymentGateway interface {
	ValidateInstrument(ctx context.Context, instrument domain.PaymentInstrument) (domain.AccountRef, error)
	Charge(ctx context.Context, accountRef domain.AccountRef, amount decimal.Decimal, description string) (domain.ChargeResult, error)
}

type CheckoutService interface {
	Checkout(ctx context.Context, userID string, instrument domain.PaymentInstrument) (*domain.OrderOutcome, error)
}

// Stores groups the persistence the checkout touches.
type Stores struct {
	Carts     store.CartStore
	Catalog   store.CatalogStore
	Orders    store.OrderSink
	Committer store.CheckoutCommitter
	Attempts  store.AttemptLog
	Cases     store.ReconciliationLog
}

// FullStore is implemented by store.MemoryStore and repository.Repository.
type FullStore interface {
	store.CartStore
	store.CatalogStore
	store.OrderSink
	store.CheckoutCommitter
	store.AttemptLog
	store.ReconciliationLog
}

func StoresFrom(s FullStore) Stores {
	return Stores{Carts: s, Catalog: s, Orders: s, Committer: s, Attempts: s, Cases: s}
}

type CheckoutServiceImpl struct {
	stores        Stores
	gateway       PaymentGateway
	cache         cache.CartCache
	mode          FulfillmentMode
	commitTimeout time.Duration
	now           func() time.Time
	newID         func() string

	log     *logger.Logger
	metrics *metrics.CheckoutMetrics
	tracer  trace.Tracer
}

type Option func(*CheckoutServiceImpl)

func WithLogger(l *logger.Logger) Option {
	return func(s *CheckoutServiceImpl) { s.log = l }
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *CheckoutServiceImpl) { s.metrics = m }
}

func WithCartCache(c cache.CartCache) Option {
	return func(s *CheckoutServiceImpl) { s.cache = c }
}

func WithFulfillmentMode(m FulfillmentMode) Option {
	return func(s *CheckoutServiceImpl) { s.mode = m }
}

// WithCommitTimeout bounds the work done after a charge is approved.
func WithCommitTimeout(d time.Duration) Option {
	return func(s *CheckoutServiceImpl) { s.commitTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *CheckoutServiceImpl) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *CheckoutServiceImpl) { s.newID = newID }
}

func NewCheckoutService(stores Stores, gateway PaymentGateway, opts ...Option) *CheckoutServiceImpl {
	s := &CheckoutServiceImpl{
		stores:        stores,
		gateway:       gateway,
		cache:         cache.NopCache{},
		mode:          FulfillmentStrict,
		commitTimeout: defaultCommitTimeout,
		now:           time.Now,
		newID:         newUUID,
		log:           logger.Nop(),
		tracer:        otel.Tracer("github.com/jhologic12/eshop-mvp/internal/service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
