package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusApproved OrderStatus = "approved"
	OrderStatusRejected OrderStatus = "rejected"
	OrderStatusFailed   OrderStatus = "failed"
)

// PurchasedLine is a snapshot taken at commit time. Later product edits do not affect it.
type PurchasedLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"product_name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// OrderOutcome is append-only.
type OrderOutcome struct {
	ID          string          `json:"outcome_id"`
	UserID      string          `json:"user_id"`
	Total       decimal.Decimal `json:"total"`
	Status      OrderStatus     `json:"status"`
	Lines       []PurchasedLine `json:"lines"`
	ExternalRef string          `json:"external_ref,omitempty"`
	Adjustments []Adjustment    `json:"adjustments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Adjustment reports a cart line purchased below the requested quantity in partial fulfillment mode.
type Adjustment struct {
	ProductID string `json:"product_id"`
	Name      string `json:"product_name"`
	Requested int    `json:"requested"`
	Purchased int    `json:"purchased"`
}

// CommitLine is one stock debit plus the cart line it consumes.
type CommitLine struct {
	ProductID string
	Quantity  int
}

// CheckoutCommit is everything that must change together once a charge is approved.
type CheckoutCommit struct {
	UserID  string
	Lines   []CommitLine
	Outcome OrderOutcome
	Event   OutboxEvent
}
