package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentInstrument is passed opaquely to the gateway. It is never persisted.
type PaymentInstrument struct {
	CardNumber     string `json:"card_number"`
	HolderName     string `json:"holder_name"`
	ExpirationDate string `json:"expiration_date"`
	CVV            string `json:"cvv"`
}

// Last4 returns the masked card number, safe for logs.
func (p PaymentInstrument) Last4() string {
	n := len(p.CardNumber)
	if n < 4 {
		return "****"
	}
	return "****" + p.CardNumber[n-4:]
}

// AccountRef identifies a validated instrument at the gateway.
type AccountRef string

type ChargeResult struct {
	AccountRef  AccountRef      `json:"account_ref"`
	Approved    bool            `json:"approved"`
	Amount      decimal.Decimal `json:"amount"`
	ExternalRef string          `json:"external_ref"`
}

// PaymentAttempt records one interaction with the gateway on behalf of a user.
type PaymentAttempt struct {
	ID        string          `json:"attempt_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Success   bool            `json:"success"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type AttemptFilter struct {
	UserID  string
	Success *bool
}
