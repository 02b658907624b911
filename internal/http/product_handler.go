package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jhologic12/eshop-mvp/internal/service"
)

type ProductHandler struct {
	shop    ShopReader
	timeout time.Duration
}

func NewProductHandler(shop ShopReader, timeout time.Duration) *ProductHandler {
	return &ProductHandler{shop: shop, timeout: timeout}
}

// GET /api/v1/products
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.shop.ListProducts(ctx)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// GET /api/v1/products/{id}
func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	p, err := h.shop.GetProduct(ctx, chi.URLParam(r, "id"))
	if errors.Is(err, service.ErrProductUnavailable) {
		respondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}
