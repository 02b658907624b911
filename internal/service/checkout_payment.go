package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/gateway"
)

func (s *CheckoutServiceImpl) validateInstrument(ctx context.Context, run *checkoutRun, instrument domain.PaymentInstrument, amount decimal.Decimal) (domain.AccountRef, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.validate_instrument")
	defer span.End()

	ref, err := s.gateway.ValidateInstrument(ctx, instrument)
	if err != nil {
		err = translateGatewayErr(err)
		s.recordAttempt(ctx, run.userID, amount, false, "validate: "+resultLabel(err))
		s.log.Warn(ctx, "instrument validation failed", "user_id", run.userID, "card", instrument.Last4(), "error", err)
		return "", err
	}

	if err := run.advance(domain.CheckoutStatusInstrumentValidated); err != nil {
		return "", err
	}
	return ref, nil
}

// processPayment issues the single charge of a checkout.
func (s *CheckoutServiceImpl) processPayment(ctx context.Context, run *checkoutRun, accountRef domain.AccountRef, snapshot *cartSnapshot) (domain.ChargeResult, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.charge")
	defer span.End()

	if err := run.advance(domain.CheckoutStatusChargeRequested); err != nil {
		return domain.ChargeResult{}, err
	}

	description := fmt.Sprintf("eshop order for %s (%d lines)", run.userID, len(snapshot.Lines))
	res, err := s.gateway.Charge(ctx, accountRef, snapshot.Total, description)
	if err != nil {
		_ = run.advance(domain.CheckoutStatusGatewayError)
		s.recordAttempt(ctx, run.userID, snapshot.Total, false, "charge: gateway unavailable")
		// The request may have reached the gateway before the failure; nothing
		// here can tell, so the outcome stays unknown to us.
		s.log.Warn(ctx, "charge outcome unknown", "user_id", run.userID, "amount", snapshot.Total.StringFixed(2), "error", err)
		return domain.ChargeResult{}, translateGatewayErr(err)
	}

	if !res.Approved {
		_ = run.advance(domain.CheckoutStatusDeclined)
		s.recordAttempt(ctx, run.userID, snapshot.Total, false, "charge: declined")
		s.appendHistory(ctx, s.newID(), snapshot, domain.OrderStatusRejected, "")
		return domain.ChargeResult{}, ErrPaymentDeclined
	}

	if err := run.advance(domain.CheckoutStatusCharged); err != nil {
		return domain.ChargeResult{}, err
	}
	s.recordAttempt(ctx, run.userID, snapshot.Total, true, "")
	return res, nil
}

func translateGatewayErr(err error) error {
	switch {
	case errors.Is(err, gateway.ErrInvalidInstrument), errors.Is(err, ErrInvalidInstrument):
		return fmt.Errorf("%w: %v", ErrInvalidInstrument, err)
	case errors.Is(err, ErrGatewayUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
}

// recordAttempt is best effort; the attempt log never decides a checkout.
func (s *CheckoutServiceImpl) recordAttempt(ctx context.Context, userID string, amount decimal.Decimal, success bool, reason string) {
	if s.stores.Attempts == nil {
		return
	}
	attempt := domain.PaymentAttempt{
		ID:        s.newID(),
		UserID:    userID,
		Amount:    amount,
		Success:   success,
		Reason:    reason,
		CreatedAt: s.now(),
	}
	if err := s.stores.Attempts.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		s.log.Error(ctx, "failed to record payment attempt", "user_id", userID, "error", err)
	}
}

// appendHistory stores a non-approved outcome. It touches neither stock nor cart.
func (s *CheckoutServiceImpl) appendHistory(ctx context.Context, id string, snapshot *cartSnapshot, status domain.OrderStatus, externalRef string) {
	outcome := domain.OrderOutcome{
		ID:          id,
		UserID:      snapshot.UserID,
		Total:       snapshot.Total,
		Status:      status,
		Lines:       snapshot.Lines,
		ExternalRef: externalRef,
		Adjustments: snapshot.Adjustments,
		CreatedAt:   s.now(),
	}
	if err := s.stores.Orders.AppendOrder(context.WithoutCancel(ctx), outcome); err != nil {
		s.log.Error(ctx, "failed to append order history", "order_id", id, "status", status, "error", err)
	}
}
