package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/service"
)

type CheckoutHandler struct {
	checkout service.CheckoutService
	timeout  time.Duration
}

func NewCheckoutHandler(checkout service.CheckoutService, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
	}
}

type CheckoutRequestDTO struct {
	CardNumber     string `json:"card_number"`
	HolderName     string `json:"holder_name"`
	ExpirationDate string `json:"expiration_date"`
	CVV            string `json:"cvv"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req CheckoutRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.CardNumber == "" || req.HolderName == "" || req.ExpirationDate == "" || req.CVV == "" {
		respondError(w, http.StatusBadRequest, "invalid_instrument", "card_number, holder_name, expiration_date and cvv are required")
		return
	}

	outcome, err := h.checkout.Checkout(ctx, userID, domain.PaymentInstrument{
		CardNumber:     req.CardNumber,
		HolderName:     req.HolderName,
		ExpirationDate: req.ExpirationDate,
		CVV:            req.CVV,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, outcome)
}
