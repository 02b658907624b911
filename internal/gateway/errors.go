package gateway

import "errors"

var (
	// ErrInvalidInstrument means the gateway refused the card. Retrying will not help.
	ErrInvalidInstrument = errors.New("payment instrument rejected")
	// ErrGatewayUnavailable covers transport failures, timeouts, 5xx and an open breaker.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrRefundRejected means the gateway answered a refund with a 4xx.
	ErrRefundRejected = errors.New("refund rejected")
)
