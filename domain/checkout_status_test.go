package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to CheckoutStatus
		want     bool
	}{
		{CheckoutStatusInit, CheckoutStatusCartLoaded, true},
		{CheckoutStatusInit, CheckoutStatusCharged, false},
		{CheckoutStatusChargeRequested, CheckoutStatusDeclined, true},
		{CheckoutStatusChargeRequested, CheckoutStatusGatewayError, true},
		{CheckoutStatusCharged, CheckoutStatusStockCommitted, true},
		{CheckoutStatusCharged, CheckoutStatusRolledBack, true},
		{CheckoutStatusCartCleared, CheckoutStatusDone, true},
		{CheckoutStatusDone, CheckoutStatusRolledBack, false},
		{CheckoutStatusRolledBack, CheckoutStatusInit, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransitionTo(tt.from, tt.to))
		})
	}
}

func TestPaymentInstrument_Last4(t *testing.T) {
	assert.Equal(t, "****1111", PaymentInstrument{CardNumber: "4111111111111111"}.Last4())
	assert.Equal(t, "****", PaymentInstrument{CardNumber: "12"}.Last4())
}
