package domain

import "time"

const (
	EventCheckoutCompleted      = "checkout.completed"
	EventReconciliationRequired = "checkout.reconciliation_required"
)

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// CheckoutCompleted is the payload of EventCheckoutCompleted.
type CheckoutCompleted struct {
	OrderID     string          `json:"order_id"`
	UserID      string          `json:"user_id"`
	Total       string          `json:"total"`
	ExternalRef string          `json:"external_ref"`
	Lines       []PurchasedLine `json:"lines"`
	CompletedAt time.Time       `json:"completed_at"`
}

// ReconciliationRequired is the payload of EventReconciliationRequired.
type ReconciliationRequired struct {
	CaseID      string `json:"case_id"`
	OrderID     string `json:"order_id"`
	UserID      string `json:"user_id"`
	ExternalRef string `json:"external_ref"`
	Amount      string `json:"amount"`
	Reason      string `json:"reason"`
}
