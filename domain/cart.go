package domain

import "time"

// CartLine is one product in a user's cart. A user holds at most one line per product.
type CartLine struct {
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

type Cart struct {
	UserID string     `json:"user_id"`
	Lines  []CartLine `json:"lines"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Lines) == 0
}
