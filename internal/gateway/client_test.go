package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/pkg/circuitbreaker"
	"github.com/jhologic12/eshop-mvp/pkg/metrics"
)

var card = domain.PaymentInstrument{
	CardNumber:     "4111111111111111",
	HolderName:     "Ada Lovelace",
	ExpirationDate: "12/30",
	CVV:            "123",
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{
		WithHTTPClient(srv.Client()),
		WithRetryBackoff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}, opts...)
	return NewClient(srv.URL, time.Second, opts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestValidateInstrument_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cards/validate", r.URL.Path)
		var req validateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, card.CardNumber, req.CardNumber)
		assert.Equal(t, card.CVV, req.CVV)
		writeJSON(w, http.StatusOK, map[string]string{"account_ref": "acc-1"})
	})

	ref, err := client.ValidateInstrument(context.Background(), card)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountRef("acc-1"), ref)
}

func TestValidateInstrument_RejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "invalid card"})
	})

	_, err := client.ValidateInstrument(context.Background(), card)
	assert.ErrorIs(t, err, ErrInvalidInstrument)
	assert.Equal(t, int32(1), calls.Load())
}

func TestValidateInstrument_MissingAccountRef(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{})
	})

	_, err := client.ValidateInstrument(context.Background(), card)
	assert.ErrorIs(t, err, ErrInvalidInstrument)
}

func TestValidateInstrument_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"account_ref": "acc-9"})
	})

	ref, err := client.ValidateInstrument(context.Background(), card)
	require.NoError(t, err)
	assert.Equal(t, domain.AccountRef("acc-9"), ref)
	assert.Equal(t, int32(3), calls.Load())
}

func TestValidateInstrument_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}, WithValidateRetries(2), WithBreakerSettings(circuitbreaker.Settings{ConsecutiveFailures: 100}))

	_, err := client.ValidateInstrument(context.Background(), card)
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCharge_Approved(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/payments", r.URL.Path)
		var req chargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "acc-1", req.AccountRef)
		assert.InDelta(t, 25.5, req.Amount, 0.0001)
		writeJSON(w, http.StatusOK, map[string]string{"status": "approved", "external_ref": "ext-1"})
	})

	res, err := client.Charge(context.Background(), "acc-1", decimal.RequireFromString("25.50"), "order")
	require.NoError(t, err)
	assert.True(t, res.Approved)
	assert.Equal(t, "ext-1", res.ExternalRef)
	assert.True(t, decimal.RequireFromString("25.50").Equal(res.Amount))
}

func TestCharge_Declined(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "declined"})
	})

	res, err := client.Charge(context.Background(), "acc-1", decimal.NewFromInt(10), "order")
	require.NoError(t, err)
	assert.False(t, res.Approved)
}

func TestCharge_ServerErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Charge(context.Background(), "acc-1", decimal.NewFromInt(10), "order")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCharge_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewClient(srv.URL, 50*time.Millisecond, WithHTTPClient(srv.Client()))

	_, err := client.Charge(context.Background(), "acc-1", decimal.NewFromInt(10), "order")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestCharge_UnknownStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
	})

	_, err := client.Charge(context.Background(), "acc-1", decimal.NewFromInt(10), "order")
	assert.ErrorIs(t, err, ErrGatewayUnavailable)
}

func TestCharge_OpenBreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, WithBreakerSettings(circuitbreaker.Settings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}))

	for i := 0; i < 4; i++ {
		_, err := client.Charge(context.Background(), "acc-1", decimal.NewFromInt(1), "order")
		assert.ErrorIs(t, err, ErrGatewayUnavailable)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestValidate_RejectionsDoNotTripBreaker(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}, WithBreakerSettings(circuitbreaker.Settings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}))

	for i := 0; i < 5; i++ {
		_, err := client.ValidateInstrument(context.Background(), card)
		assert.ErrorIs(t, err, ErrInvalidInstrument)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestRefund(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/payments/ext-1/refund":
			writeJSON(w, http.StatusOK, map[string]string{"status": "refunded"})
		case "/payments/ext-404/refund":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	})
	ctx := context.Background()

	assert.NoError(t, client.Refund(ctx, "ext-1", decimal.NewFromInt(5)))
	assert.ErrorIs(t, client.Refund(ctx, "ext-404", decimal.NewFromInt(5)), ErrRefundRejected)
	assert.ErrorIs(t, client.Refund(ctx, "ext-500", decimal.NewFromInt(5)), ErrGatewayUnavailable)
}

func TestClient_RecordsLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCheckoutMetrics(reg)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "approved", "external_ref": "x"})
	}, WithMetrics(m))

	_, err := client.Charge(context.Background(), "acc-1", decimal.NewFromInt(1), "order")
	require.NoError(t, err)
	assert.Equal(t, 1, testutil.CollectAndCount(m.GatewayLatency))
}
