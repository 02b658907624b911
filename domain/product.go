package domain

import "github.com/shopspring/decimal"

type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Stock       int             `json:"stock"`
	Active      bool            `json:"active"`
}

// Purchasable reports whether qty units can be sold right now.
func (p Product) Purchasable(qty int) bool {
	return p.Active && qty > 0 && p.Stock >= qty
}
