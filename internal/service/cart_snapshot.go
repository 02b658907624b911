package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jhologic12/eshop-mvp/domain"
)

// cartSnapshot is the cart priced against the catalog at one instant.
// Lines holds only what will be bought; Adjustments what was cut.
type cartSnapshot struct {
	UserID      string
	Lines       []domain.PurchasedLine
	Adjustments []domain.Adjustment
	Total       decimal.Decimal
}

func (s *CheckoutServiceImpl) getCart(ctx context.Context, run *checkoutRun) (*cartSnapshot, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.load_cart")
	defer span.End()

	lines, err := s.stores.Carts.ListLines(ctx, run.userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if err := run.advance(domain.CheckoutStatusCartLoaded); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}

	snapshot, err := s.buildCartSnapshot(ctx, run.userID, lines)
	if err != nil {
		return nil, err
	}
	if err := run.advance(domain.CheckoutStatusStockChecked); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// buildCartSnapshot joins cart lines with current products, checks stock
// and computes the total.
func (s *CheckoutServiceImpl) buildCartSnapshot(ctx context.Context, userID string, lines []domain.CartLine) (*cartSnapshot, error) {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	products, err := s.stores.Catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	snapshot := &cartSnapshot{
		UserID: userID,
		Lines:  make([]domain.PurchasedLine, 0, len(lines)),
		Total:  decimal.Zero,
	}

	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.Active {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, l.ProductID)
		}

		qty := l.Quantity
		if p.Stock < qty {
			if s.mode != FulfillmentPartial {
				return nil, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, p.Name, p.Stock, l.Quantity)
			}
			qty = p.Stock
			snapshot.Adjustments = append(snapshot.Adjustments, domain.Adjustment{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: l.Quantity,
				Purchased: qty,
			})
			if qty == 0 {
				continue
			}
		}

		subtotal := p.UnitPrice.Mul(decimal.NewFromInt(int64(qty)))
		snapshot.Lines = append(snapshot.Lines, domain.PurchasedLine{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  qty,
			UnitPrice: p.UnitPrice,
			Subtotal:  subtotal,
		})
		snapshot.Total = snapshot.Total.Add(subtotal)
	}

	if len(snapshot.Lines) == 0 {
		return nil, fmt.Errorf("%w: nothing in the cart is in stock", ErrInsufficientStock)
	}
	if !snapshot.Total.IsPositive() {
		return nil, fmt.Errorf("%w: total is %s", ErrEmptyCart, snapshot.Total.StringFixed(2))
	}
	return snapshot, nil
}

func (c *cartSnapshot) commitLines() []domain.CommitLine {
	out := make([]domain.CommitLine, len(c.Lines))
	for i, l := range c.Lines {
		out[i] = domain.CommitLine{ProductID: l.ProductID, Quantity: l.Quantity}
	}
	return out
}
