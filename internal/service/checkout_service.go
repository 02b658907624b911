package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jhologic12/eshop-mvp/domain"
)

func newUUID() string {
	return uuid.NewString()
}

// checkoutRun tracks the state of one checkout.
type checkoutRun struct {
	userID string
	status domain.CheckoutStatus
}

func (r *checkoutRun) advance(to domain.CheckoutStatus) error {
	if !domain.CanTransitionTo(r.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.status, to)
	}
	r.status = to
	return nil
}

// Checkout turns the user's cart into an order paid with instrument.
//
// Nothing is mutated before the gateway approves the charge. After approval
// the stock debit, the cart cleanup, the order and its outbox event are
// written as one unit; if that unit fails the charge is handed over to
// reconciliation and a *ReconciliationError is returned.
func (s *CheckoutServiceImpl) Checkout(ctx context.Context, userID string, instrument domain.PaymentInstrument) (*domain.OrderOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "checkout")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	run := &checkoutRun{userID: userID, status: domain.CheckoutStatusInit}
	outcome, err := s.checkout(ctx, run, instrument)
	if err != nil && !run.status.IsTerminal() {
		_ = run.advance(domain.CheckoutStatusRolledBack)
	}

	s.countResult(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, resultLabel(err))
		s.log.Info(ctx, "checkout failed", "user_id", userID, "status", run.status, "error", err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", outcome.ID))
	s.log.Info(ctx, "checkout completed",
		"user_id", userID,
		"order_id", outcome.ID,
		"total", outcome.Total.StringFixed(2),
		"external_ref", outcome.ExternalRef,
		"adjustments", len(outcome.Adjustments))
	return outcome, nil
}

func (s *CheckoutServiceImpl) checkout(ctx context.Context, run *checkoutRun, instrument domain.PaymentInstrument) (*domain.OrderOutcome, error) {
	snapshot, err := s.getCart(ctx, run)
	if err != nil {
		return nil, err
	}

	accountRef, err := s.validateInstrument(ctx, run, instrument, snapshot.Total)
	if err != nil {
		return nil, err
	}

	// Last point where the caller can still walk away with nothing charged.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("checkout cancelled before charge: %w", err)
	}

	charge, err := s.processPayment(ctx, run, accountRef, snapshot)
	if err != nil {
		return nil, err
	}

	// The charge is approved; the caller going away must not leave it half applied.
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()
	return s.complete(commitCtx, run, snapshot, charge)
}

func (s *CheckoutServiceImpl) countResult(err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.Results.WithLabelValues(resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	var recErr *ReconciliationError
	switch {
	case err == nil:
		return "approved"
	case errors.As(err, &recErr):
		return "reconciliation"
	case errors.Is(err, ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, ErrInvalidInstrument):
		return "invalid_instrument"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrProductUnavailable):
		return "product_unavailable"
	case errors.Is(err, ErrPaymentDeclined):
		return "declined"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}
