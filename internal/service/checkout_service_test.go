package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/gateway"
	"github.com/jhologic12/eshop-mvp/internal/store"
	"github.com/jhologic12/eshop-mvp/pkg/logger"
	"github.com/jhologic12/eshop-mvp/pkg/metrics"
)

func newTestService(s *store.MemoryStore, gw PaymentGateway, opts ...Option) *CheckoutServiceImpl {
	return NewCheckoutService(StoresFrom(s), gw, opts...)
}

func assertNothingChanged(t *testing.T, s *store.MemoryStore, userID string, wantLines int) {
	t.Helper()
	assert.Equal(t, 10, stockOf(t, s, "p1"))
	assert.Equal(t, 3, stockOf(t, s, "p2"))
	assert.Len(t, linesOf(t, s, userID), wantLines)
	events, err := s.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestCheckout_Success(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 2)
	addLine(t, s, "u1", "p2", 1)
	gw := &fakeGateway{}
	c := newRecordingCache()
	svc := newTestService(s, gw, WithCartCache(c))

	outcome, err := svc.Checkout(context.Background(), "u1", testInstrument)
	require.NoError(t, err)

	assert.Equal(t, domain.OrderStatusApproved, outcome.Status)
	assert.True(t, decimal.RequireFromString("25.00").Equal(outcome.Total), outcome.Total.String())
	assert.Equal(t, "ext-1", outcome.ExternalRef)
	require.Len(t, outcome.Lines, 2)
	assert.Equal(t, "Mug", outcome.Lines[0].Name)
	assert.True(t, decimal.RequireFromString("21").Equal(outcome.Lines[0].Subtotal))
	assert.Empty(t, outcome.Adjustments)

	assert.Equal(t, 8, stockOf(t, s, "p1"))
	assert.Equal(t, 2, stockOf(t, s, "p2"))
	assert.Empty(t, linesOf(t, s, "u1"))
	assert.Equal(t, int32(1), gw.charges.Load())
	assert.Equal(t, 1, c.deleteCount())

	stored, err := s.GetOrder(context.Background(), outcome.ID)
	require.NoError(t, err)
	assert.Equal(t, outcome.ExternalRef, stored.ExternalRef)

	events, err := s.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventCheckoutCompleted, events[0].EventType)
	assert.Equal(t, outcome.ID, events[0].AggregateID)
	var payload domain.CheckoutCompleted
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "25.00", payload.Total)
	assert.Equal(t, "u1", payload.UserID)

	attempts, err := s.ListAttempts(context.Background(), domain.AttemptFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
}

func TestCheckout_EmptyCart(t *testing.T) {
	s := seedStore(t)
	gw := &fakeGateway{}
	svc := newTestService(s, gw)

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, int32(0), gw.validates.Load())
}

func TestCheckout_ZeroTotalIsEmptyCart(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p3", 2)
	gw := &fakeGateway{}
	svc := newTestService(s, gw)

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Equal(t, int32(0), gw.charges.Load())
	assert.Equal(t, 50, stockOf(t, s, "p3"))
}

func TestCheckout_InactiveProduct(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 1)
	addLine(t, s, "u1", "old", 1)
	gw := &fakeGateway{}
	svc := newTestService(s, gw)

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	assert.ErrorIs(t, err, ErrProductUnavailable)
	assert.Equal(t, int32(0), gw.validates.Load())
	assertNothingChanged(t, s, "u1", 2)
}

func TestCheckout_InsufficientStockBeforeCharge(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 1)
	addLine(t, s, "u1", "p2", 4)
	gw := &fakeGateway{}
	svc := newTestService(s, gw)

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, int32(0), gw.charges.Load())
	assertNothingChanged(t, s, "u1", 2)
}

func TestCheckout_InvalidInstrument(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 1)
	gw := &fakeGateway{validateErr: fmt.Errorf("%w: status 422", gateway.ErrInvalidInstrument)}
	svc := newTestService(s, gw)

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	assert.ErrorIs(t, err, ErrInvalidInstrument)
	assert.Equal(t, int32(0), gw.charges.Load())
	assertNothingChanged(t, s, "u1", 1)

	attempts, err := s.ListAttempts(context.Background(), domain.AttemptFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
	assert.Equal(t, "validate: invalid_instrument", attempts[0].Reason)
}

func TestCheckout_ValidateGatewayDown(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 1)
	gw := &fakeGateway{validateErr: gateway.ErrGatewayUnavailable}
	svc := newTestService(s, gw)

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(0), gw.charges.Load())
	assertNothingChanged(t, s, "u1", 1)
}

func TestCheckout_Declined(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 1)
	gw := &fakeGateway{decline: true}
	svc := newTestService(s, gw)

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	assertNothingChanged(t, s, "u1", 1)

	orders, err := s.ListOrders(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusRejected, orders[0].Status)
	assert.Empty(t, orders[0].ExternalRef)
}

func TestCheckout_ChargeTimeout(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 1)
	gw := &fakeGateway{chargeErr: fmt.Errorf("%w: context deadline exceeded", gateway.ErrGatewayUnavailable)}
	svc := newTestService(s, gw)

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(1), gw.charges.Load())
	assertNothingChanged(t, s, "u1", 1)

	orders, err := s.ListOrders(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, orders)

	// the gateway recovers; the same cart and card go through
	gw.chargeErr = nil
	outcome, err := svc.Checkout(context.Background(), "u1", testInstrument)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusApproved, outcome.Status)
	assert.True(t, decimal.RequireFromString("10.50").Equal(outcome.Total))
	assert.Equal(t, int32(2), gw.charges.Load())
	assert.Equal(t, 9, stockOf(t, s, "p1"))
	assert.Empty(t, linesOf(t, s, "u1"))
}

func TestCheckout_ShortfallAfterCharge(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 1)
	addLine(t, s, "u1", "p2", 2)

	core, logs := observer.New(zapcore.ErrorLevel)
	reg := prometheus.NewRegistry()
	m := metrics.NewCheckoutMetrics(reg)

	gw := &fakeGateway{}
	gw.onCharge = func() {
		// someone else buys the remaining tea between pricing and commit
		ok, err := s.DecrementIfSufficient(context.Background(), "p2", 3)
		require.NoError(t, err)
		require.True(t, ok)
	}
	svc := newTestService(s, gw, WithLogger(logger.FromZap(zap.New(core))), WithMetrics(m))

	outcome, err := svc.Checkout(context.Background(), "u1", testInstrument)
	require.Error(t, err)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	var recErr *ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Equal(t, "ext-1", recErr.ExternalRef)
	assert.Equal(t, domain.AccountRef("acct-1"), recErr.AccountRef)
	assert.True(t, decimal.RequireFromString("18.50").Equal(recErr.Amount))
	require.NotEmpty(t, recErr.CaseID)

	// nothing of the checkout was applied
	assert.Equal(t, 10, stockOf(t, s, "p1"))
	assert.Equal(t, 0, stockOf(t, s, "p2"))
	assert.Len(t, linesOf(t, s, "u1"), 2)

	c, err := s.GetCase(context.Background(), recErr.CaseID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconciliationPending, c.Status)
	assert.Equal(t, recErr.OrderID, c.OrderID)

	events, err := s.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventReconciliationRequired, events[0].EventType)
	var payload domain.ReconciliationRequired
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, "18.50", payload.Amount)
	assert.Equal(t, recErr.CaseID, payload.CaseID)

	failed, err := s.GetOrder(context.Background(), recErr.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, failed.Status)
	assert.Equal(t, "ext-1", failed.ExternalRef)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconciliations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues("reconciliation")))
	require.Equal(t, 1, logs.FilterMessageSnippet("refund required").Len())
	fields := logs.FilterMessageSnippet("refund required").All()[0].ContextMap()
	assert.Equal(t, "ext-1", fields["external_ref"])
	assert.Equal(t, recErr.CaseID, fields["case_id"])
}

func TestCheckout_ReconciliationCaseNotStored(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p2", 2)
	gw := &fakeGateway{}
	gw.onCharge = func() {
		_, _ = s.DecrementIfSufficient(context.Background(), "p2", 3)
	}
	stores := StoresFrom(s)
	stores.Cases = failingCases{s}
	svc := NewCheckoutService(stores, gw)

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	var recErr *ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.Empty(t, recErr.CaseID)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "disk full")
}

func TestCheckout_CommitTimeoutStillOpensCase(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 2)
	stores := StoresFrom(s)
	stores.Committer = stalledCommitter{}
	stores.Cases = deadlineCases{s}
	svc := NewCheckoutService(stores, &fakeGateway{}, WithCommitTimeout(50*time.Millisecond))

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	var recErr *ReconciliationError
	require.ErrorAs(t, err, &recErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotEmpty(t, recErr.CaseID)

	c, err := s.GetCase(context.Background(), recErr.CaseID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReconciliationPending, c.Status)
	assert.Equal(t, "ext-1", c.ExternalRef)

	events, err := s.GetUnprocessedEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventReconciliationRequired, events[0].EventType)

	failed, err := s.GetOrder(context.Background(), recErr.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, failed.Status)
	assert.Equal(t, 10, stockOf(t, s, "p1"))
}

func TestCheckout_ConcurrentLastUnit(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.UpsertProduct(context.Background(), domain.Product{ID: "last", Name: "Last one", UnitPrice: decimal.NewFromInt(7), Stock: 1, Active: true}))

	const buyers = 10
	for i := 0; i < buyers; i++ {
		addLine(t, s, fmt.Sprintf("u%d", i), "last", 1)
	}
	svc := newTestService(s, &fakeGateway{})

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Checkout(context.Background(), fmt.Sprintf("u%d", i), testInstrument)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrInsufficientStock)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, stockOf(t, s, "last"))
}

func TestCheckout_CancelledAfterChargeStillCommits(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := &fakeGateway{onCharge: cancel}
	svc := newTestService(s, gw)

	outcome, err := svc.Checkout(ctx, "u1", testInstrument)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusApproved, outcome.Status)
	assert.Equal(t, 9, stockOf(t, s, "p1"))
	assert.Empty(t, linesOf(t, s, "u1"))
}

func TestCheckout_CancelledBeforeCharge(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw := &fakeGateway{onValidate: cancel}
	svc := newTestService(s, gw)

	_, err := svc.Checkout(ctx, "u1", testInstrument)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), gw.charges.Load())
	assertNothingChanged(t, s, "u1", 1)
}

func TestCheckout_PartialFulfillment(t *testing.T) {
	s := seedStore(t)
	addLine(t, s, "u1", "p1", 2)
	addLine(t, s, "u1", "p2", 5)
	svc := newTestService(s, &fakeGateway{}, WithFulfillmentMode(FulfillmentPartial))

	outcome, err := svc.Checkout(context.Background(), "u1", testInstrument)
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("33").Equal(outcome.Total), outcome.Total.String())
	require.Len(t, outcome.Adjustments, 1)
	assert.Equal(t, domain.Adjustment{ProductID: "p2", Name: "Tea", Requested: 5, Purchased: 3}, outcome.Adjustments[0])
	assert.Equal(t, 0, stockOf(t, s, "p2"))
	assert.Empty(t, linesOf(t, s, "u1"))
}

func TestCheckout_PartialSkipsSoldOutLines(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.UpsertProduct(context.Background(), domain.Product{ID: "p2", Name: "Tea", UnitPrice: decimal.NewFromInt(4), Stock: 0, Active: true}))
	addLine(t, s, "u1", "p1", 1)
	addLine(t, s, "u1", "p2", 1)
	svc := newTestService(s, &fakeGateway{}, WithFulfillmentMode(FulfillmentPartial))

	outcome, err := svc.Checkout(context.Background(), "u1", testInstrument)
	require.NoError(t, err)
	require.Len(t, outcome.Lines, 1)
	assert.Equal(t, "p1", outcome.Lines[0].ProductID)
	require.Len(t, outcome.Adjustments, 1)
	assert.Equal(t, 0, outcome.Adjustments[0].Purchased)

	lines := linesOf(t, s, "u1")
	require.Len(t, lines, 1)
	assert.Equal(t, "p2", lines[0].ProductID)
}

func TestCheckout_PartialNothingInStock(t *testing.T) {
	s := seedStore(t)
	require.NoError(t, s.UpsertProduct(context.Background(), domain.Product{ID: "p2", Name: "Tea", UnitPrice: decimal.NewFromInt(4), Stock: 0, Active: true}))
	addLine(t, s, "u1", "p2", 1)
	gw := &fakeGateway{}
	svc := newTestService(s, gw, WithFulfillmentMode(FulfillmentPartial))

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, int32(0), gw.validates.Load())
}

func TestCheckout_CountsResults(t *testing.T) {
	s := seedStore(t)
	m := metrics.NewCheckoutMetrics(prometheus.NewRegistry())
	gw := &fakeGateway{}
	svc := newTestService(s, gw, WithMetrics(m))

	_, err := svc.Checkout(context.Background(), "u1", testInstrument)
	require.ErrorIs(t, err, ErrEmptyCart)

	addLine(t, s, "u1", "p1", 1)
	_, err = svc.Checkout(context.Background(), "u1", testInstrument)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues("empty_cart")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues("approved")))
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "approved"},
		{&ReconciliationError{Cause: ErrInsufficientStock}, "reconciliation"},
		{fmt.Errorf("wrapped: %w", ErrPaymentDeclined), "declined"},
		{ErrGatewayUnavailable, "gateway_unavailable"},
		{context.DeadlineExceeded, "cancelled"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, resultLabel(tt.err))
		})
	}
}

func TestCheckoutRun_RejectsIllegalTransition(t *testing.T) {
	run := &checkoutRun{userID: "u1", status: domain.CheckoutStatusInit}
	err := run.advance(domain.CheckoutStatusCharged)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.Equal(t, domain.CheckoutStatusInit, run.status)
}
