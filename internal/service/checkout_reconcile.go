package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jhologic12/eshop-mvp/domain"
)

// reconcile records a charge that has to be refunded because its order could
// not be committed, and returns the error handed back to the caller.
func (s *CheckoutServiceImpl) reconcile(ctx context.Context, run *checkoutRun, outcome *domain.OrderOutcome, charge domain.ChargeResult, cause error) error {
	// ctx may be the commit context that just expired.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.commitTimeout)
	defer cancel()

	_ = run.advance(domain.CheckoutStatusRolledBack)
	if s.metrics != nil {
		s.metrics.Reconciliations.Inc()
	}

	recErr := &ReconciliationError{
		CaseID:      s.newID(),
		OrderID:     outcome.ID,
		UserID:      run.userID,
		AccountRef:  charge.AccountRef,
		ExternalRef: charge.ExternalRef,
		Amount:      outcome.Total,
		Cause:       cause,
	}

	s.log.Error(ctx, "charge approved but checkout not committed, refund required",
		"case_id", recErr.CaseID,
		"order_id", recErr.OrderID,
		"user_id", recErr.UserID,
		"account_ref", recErr.AccountRef,
		"external_ref", recErr.ExternalRef,
		"amount", recErr.Amount.StringFixed(2),
		"error", cause)

	s.appendHistory(ctx, outcome.ID, &cartSnapshot{
		UserID:      run.userID,
		Lines:       outcome.Lines,
		Adjustments: outcome.Adjustments,
		Total:       outcome.Total,
	}, domain.OrderStatusFailed, charge.ExternalRef)

	if err := s.openCase(ctx, recErr); err != nil {
		s.log.Error(ctx, "failed to persist reconciliation case",
			"case_id", recErr.CaseID,
			"external_ref", recErr.ExternalRef,
			"amount", recErr.Amount.StringFixed(2),
			"error", err)
		recErr.CaseID = ""
		recErr.Cause = errors.Join(cause, fmt.Errorf("reconciliation case not stored: %w", err))
	}
	return recErr
}

func (s *CheckoutServiceImpl) openCase(ctx context.Context, recErr *ReconciliationError) error {
	reason := recErr.Cause.Error()
	payload, err := json.Marshal(domain.ReconciliationRequired{
		CaseID:      recErr.CaseID,
		OrderID:     recErr.OrderID,
		UserID:      recErr.UserID,
		ExternalRef: recErr.ExternalRef,
		Amount:      recErr.Amount.StringFixed(2),
		Reason:      reason,
	})
	if err != nil {
		return fmt.Errorf("marshal reconciliation payload: %w", err)
	}

	now := s.now()
	c := domain.ReconciliationCase{
		ID:          recErr.CaseID,
		UserID:      recErr.UserID,
		OrderID:     recErr.OrderID,
		AccountRef:  recErr.AccountRef,
		ExternalRef: recErr.ExternalRef,
		Amount:      recErr.Amount,
		Reason:      reason,
		Status:      domain.ReconciliationPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	event := domain.OutboxEvent{
		AggregateID: c.ID,
		EventType:   domain.EventReconciliationRequired,
		Payload:     payload,
		CreatedAt:   now,
	}
	return s.stores.Cases.OpenCase(ctx, c, event)
}
