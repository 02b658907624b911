package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jhologic12/eshop-mvp/internal/service"
	"github.com/jhologic12/eshop-mvp/internal/store"
)

// retryAfterSeconds is sent with 503 answers while the gateway is down.
const retryAfterSeconds = "5"

// statusClientClosedRequest is the nginx convention for a caller that hung up.
const statusClientClosedRequest = 499

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError maps service errors to HTTP answers.
func handleServiceError(w http.ResponseWriter, err error) {
	var recErr *service.ReconciliationError
	if errors.As(err, &recErr) {
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error: "payment was taken but the order could not be completed; it will be refunded",
			Code:  "refund_pending",
			Details: fmt.Sprintf("case %s, charge %s, amount %s",
				recErr.CaseID, recErr.ExternalRef, recErr.Amount.StringFixed(2)),
		})
		return
	}

	var httpStatus int
	var code string

	switch {
	case errors.Is(err, service.ErrEmptyCart):
		httpStatus, code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, service.ErrInvalidInstrument):
		httpStatus, code = http.StatusBadRequest, "invalid_instrument"
	case errors.Is(err, service.ErrInvalidQuantity), errors.Is(err, store.ErrInvalidQuantity):
		httpStatus, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, service.ErrPaymentDeclined):
		httpStatus, code = http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, service.ErrInsufficientStock):
		httpStatus, code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, service.ErrProductUnavailable):
		httpStatus, code = http.StatusConflict, "product_unavailable"
	case errors.Is(err, service.ErrCartChanged):
		httpStatus, code = http.StatusConflict, "cart_changed"
	case errors.Is(err, service.ErrLineNotFound), errors.Is(err, service.ErrOrderNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrGatewayUnavailable):
		w.Header().Set("Retry-After", retryAfterSeconds)
		httpStatus, code = http.StatusServiceUnavailable, "gateway_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		httpStatus, code = statusClientClosedRequest, "client_closed_request"
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
