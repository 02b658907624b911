package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jhologic12/eshop-mvp/domain"
)

type ShopReader interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	ListOrders(ctx context.Context, userID string) ([]domain.OrderOutcome, error)
	GetOrder(ctx context.Context, userID, orderID string) (domain.OrderOutcome, error)
	ListAttempts(ctx context.Context, userID string, success *bool) ([]domain.PaymentAttempt, error)
}

type OrdersHandler struct {
	shop    ShopReader
	timeout time.Duration
}

func NewOrdersHandler(shop ShopReader, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		shop:    shop,
		timeout: timeout,
	}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orders, err := h.shop.ListOrders(ctx, userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.OrderOutcome{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	order, err := h.shop.GetOrder(ctx, userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// GET /api/v1/payment-attempts?success=true|false
func (h *OrdersHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var success *bool
	if raw := r.URL.Query().Get("success"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_filter", "success must be true or false")
			return
		}
		success = &v
	}

	attempts, err := h.shop.ListAttempts(ctx, userID, success)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if attempts == nil {
		attempts = []domain.PaymentAttempt{}
	}
	respondJSON(w, http.StatusOK, attempts)
}
