package domain

type CheckoutStatus string

const (
	CheckoutStatusInit                CheckoutStatus = "INIT"
	CheckoutStatusCartLoaded          CheckoutStatus = "CART_LOADED"
	CheckoutStatusStockChecked        CheckoutStatus = "STOCK_CHECKED"
	CheckoutStatusInstrumentValidated CheckoutStatus = "INSTRUMENT_VALIDATED"
	CheckoutStatusChargeRequested     CheckoutStatus = "CHARGE_REQUESTED"
	CheckoutStatusCharged             CheckoutStatus = "CHARGED"
	CheckoutStatusDeclined            CheckoutStatus = "DECLINED"
	CheckoutStatusGatewayError        CheckoutStatus = "GATEWAY_ERROR"
	CheckoutStatusStockCommitted      CheckoutStatus = "STOCK_COMMITTED"
	CheckoutStatusCartCleared         CheckoutStatus = "CART_CLEARED"
	CheckoutStatusDone                CheckoutStatus = "DONE"
	CheckoutStatusRolledBack          CheckoutStatus = "ROLLED_BACK"
)

// transitions lists the allowed next states for each state.
// Any non-terminal state may fall back to ROLLED_BACK.
var transitions = map[CheckoutStatus][]CheckoutStatus{
	CheckoutStatusInit:                {CheckoutStatusCartLoaded},
	CheckoutStatusCartLoaded:          {CheckoutStatusStockChecked},
	CheckoutStatusStockChecked:        {CheckoutStatusInstrumentValidated},
	CheckoutStatusInstrumentValidated: {CheckoutStatusChargeRequested},
	CheckoutStatusChargeRequested:     {CheckoutStatusCharged, CheckoutStatusDeclined, CheckoutStatusGatewayError},
	CheckoutStatusCharged:             {CheckoutStatusStockCommitted},
	CheckoutStatusStockCommitted:      {CheckoutStatusCartCleared},
	CheckoutStatusCartCleared:         {CheckoutStatusDone},
}

func CanTransitionTo(from, to CheckoutStatus) bool {
	if from.IsTerminal() {
		return false
	}
	if to == CheckoutStatusRolledBack {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s CheckoutStatus) IsTerminal() bool {
	return s == CheckoutStatusDone || s == CheckoutStatusRolledBack
}

// String representation (for logging)
func (s CheckoutStatus) String() string {
	return string(s)
}
