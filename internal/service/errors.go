package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

var (
	ErrEmptyCart          = errors.New("cart is empty, nothing to checkout")
	ErrInvalidInstrument  = errors.New("payment instrument is invalid")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrInvalidQuantity    = errors.New("quantity must be between 1 and 99")
	ErrIllegalTransition  = errors.New("illegal transition of checkout status")

	ErrLineNotFound  = store.ErrLineNotFound
	ErrOrderNotFound = store.ErrOrderNotFound
	ErrCartChanged   = store.ErrCartChanged
)

// ReconciliationError reports a charge that the gateway approved but that
// could not be turned into an order. The money has to be returned.
type ReconciliationError struct {
	CaseID      string
	OrderID     string
	UserID      string
	AccountRef  domain.AccountRef
	ExternalRef string
	Amount      decimal.Decimal
	Cause       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("charge %s for %s approved but order %s was not committed (case %q): %v",
		e.ExternalRef, e.Amount.StringFixed(2), e.OrderID, e.CaseID, e.Cause)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Cause
}

// translateStoreErr maps store failures to the checkout vocabulary.
func translateStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrInsufficientStock):
		return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
	case errors.Is(err, store.ErrProductNotFound):
		return fmt.Errorf("%w: %v", ErrProductUnavailable, err)
	default:
		return err
	}
}
