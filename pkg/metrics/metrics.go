package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eshop"

type CheckoutMetrics struct {
	Results         *prometheus.CounterVec
	GatewayLatency  *prometheus.HistogramVec
	Reconciliations prometheus.Counter
	OutboxPublished *prometheus.CounterVec
	Refunds         *prometheus.CounterVec
}

// NewCheckoutMetrics registers the checkout collectors on reg.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	m := &CheckoutMetrics{
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "results_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		GatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "payment_gateway",
			Name:      "request_duration_seconds",
			Help:      "Payment gateway call latency.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"operation", "result"}),
		Reconciliations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "reconciliations_total",
			Help:      "Charges approved at the gateway whose local commit failed.",
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox events handed to the broker.",
		}, []string{"event_type", "result"}),
		Refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciliation",
			Name:      "refunds_total",
			Help:      "Refunds issued for reconciliation cases.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Results, m.GatewayLatency, m.Reconciliations, m.OutboxPublished, m.Refunds)
	return m
}

// ObserveGateway records the latency of one gateway call.
func (m *CheckoutMetrics) ObserveGateway(operation, result string, started time.Time) {
	m.GatewayLatency.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
