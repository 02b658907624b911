package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jhologic12/eshop-mvp/domain"
)

// complete applies an approved charge: stock, cart, order and outbox event in
// one unit. ctx is already detached from the caller.
func (s *CheckoutServiceImpl) complete(ctx context.Context, run *checkoutRun, snapshot *cartSnapshot, charge domain.ChargeResult) (*domain.OrderOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.commit")
	defer span.End()

	outcome := &domain.OrderOutcome{
		ID:          s.newID(),
		UserID:      run.userID,
		Total:       snapshot.Total,
		Status:      domain.OrderStatusApproved,
		Lines:       snapshot.Lines,
		ExternalRef: charge.ExternalRef,
		Adjustments: snapshot.Adjustments,
		CreatedAt:   s.now(),
	}

	payload, err := json.Marshal(domain.CheckoutCompleted{
		OrderID:     outcome.ID,
		UserID:      outcome.UserID,
		Total:       outcome.Total.StringFixed(2),
		ExternalRef: outcome.ExternalRef,
		Lines:       outcome.Lines,
		CompletedAt: outcome.CreatedAt,
	})
	if err != nil {
		return nil, s.reconcile(ctx, run, outcome, charge, fmt.Errorf("failed to marshal checkout payload: %w", err))
	}

	commit := domain.CheckoutCommit{
		UserID:  run.userID,
		Lines:   snapshot.commitLines(),
		Outcome: *outcome,
		Event: domain.OutboxEvent{
			AggregateID: outcome.ID,
			EventType:   domain.EventCheckoutCompleted,
			Payload:     payload,
			CreatedAt:   outcome.CreatedAt,
		},
	}

	if err := s.stores.Committer.CommitCheckout(ctx, commit); err != nil {
		return nil, s.reconcile(ctx, run, outcome, charge, translateStoreErr(err))
	}

	// Debit, cart cleanup and order were written together.
	for _, next := range []domain.CheckoutStatus{
		domain.CheckoutStatusStockCommitted,
		domain.CheckoutStatusCartCleared,
		domain.CheckoutStatusDone,
	} {
		if err := run.advance(next); err != nil {
			return nil, err
		}
	}

	s.invalidateCart(ctx, run.userID)
	return outcome, nil
}

func (s *CheckoutServiceImpl) invalidateCart(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn(ctx, "cart cache invalidate failed", "user_id", userID, "error", err)
	}
}
