package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReconciliationStatus string

const (
	ReconciliationPending      ReconciliationStatus = "pending"
	ReconciliationRefunded     ReconciliationStatus = "refunded"
	ReconciliationManualReview ReconciliationStatus = "manual_review"
)

// ReconciliationCase tracks a charge that succeeded at the gateway while the local commit failed.
type ReconciliationCase struct {
	ID          string               `json:"case_id"`
	UserID      string               `json:"user_id"`
	OrderID     string               `json:"order_id"`
	AccountRef  AccountRef           `json:"account_ref"`
	ExternalRef string               `json:"external_ref"`
	Amount      decimal.Decimal      `json:"amount"`
	Reason      string               `json:"reason"`
	Status      ReconciliationStatus `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}
