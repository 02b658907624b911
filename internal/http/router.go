package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jhologic12/eshop-mvp/internal/service"
	"github.com/jhologic12/eshop-mvp/pkg/logger"
	"github.com/jhologic12/eshop-mvp/pkg/metrics"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxRequestBodySize    = 1 << 20 // 1MB
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	Checkout service.CheckoutService
	Carts    CartService
	Shop     ShopReader
	Identity IdentityResolver
	Health   Pinger
	Gatherer prometheus.Gatherer
	Log      *logger.Logger

	RequestTimeout time.Duration
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Identity == nil {
		cfg.Identity = HeaderIdentity{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}

	checkoutHandler := NewCheckoutHandler(cfg.Checkout, cfg.RequestTimeout)
	cartHandler := NewCartHandler(cfg.Carts, cfg.RequestTimeout)
	ordersHandler := NewOrdersHandler(cfg.Shop, cfg.RequestTimeout)
	productHandler := NewProductHandler(cfg.Shop, cfg.RequestTimeout)

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(cfg.Log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Get("/health", healthHandler(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(cfg.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", productHandler.ListProducts)
		r.Get("/products/{id}", productHandler.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Identity))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.ClearCart)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items/{product_id}", cartHandler.UpdateQuantity)
				r.Delete("/items/{product_id}", cartHandler.RemoveItem)
			})

			r.Post("/checkout", checkoutHandler.Checkout)

			r.Get("/orders", ordersHandler.ListOrders)
			r.Get("/orders/{id}", ordersHandler.GetOrder)
			r.Get("/payment-attempts", ordersHandler.ListAttempts)
		})
	})

	return otelhttp.NewHandler(r, "eshop-api")
}

func healthHandler(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
