package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/pkg/circuitbreaker"
	"github.com/jhologic12/eshop-mvp/pkg/logger"
	"github.com/jhologic12/eshop-mvp/pkg/metrics"
)

const (
	defaultTimeout       = 5 * time.Second
	defaultValidateTries = 3
)

type validateRequest struct {
	CardNumber     string `json:"card_number"`
	HolderName     string `json:"holder_name"`
	ExpirationDate string `json:"expiration_date"`
	CVV            string `json:"cvv"`
}

type validateResponse struct {
	AccountRef string `json:"account_ref"`
}

type chargeRequest struct {
	AccountRef  string  `json:"account_ref"`
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

type chargeResponse struct {
	Status      string `json:"status"`
	ExternalRef string `json:"external_ref"`
}

type refundRequest struct {
	Amount float64 `json:"amount"`
}

type refundResponse struct {
	Status string `json:"status"`
}

// Client talks to the external payment service.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	timeout       time.Duration
	validateTries uint
	retryBackoff  func() backoff.BackOff

	validateBreaker *circuitbreaker.Breaker[domain.AccountRef]
	chargeBreaker   *circuitbreaker.Breaker[domain.ChargeResult]

	log     *logger.Logger
	metrics *metrics.CheckoutMetrics
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithValidateRetries sets how many times validation is attempted in total.
func WithValidateRetries(tries uint) Option {
	return func(c *Client) { c.validateTries = tries }
}

// WithRetryBackoff replaces the exponential policy used between validation attempts.
func WithRetryBackoff(f func() backoff.BackOff) Option {
	return func(c *Client) { c.retryBackoff = f }
}

func WithBreakerSettings(s circuitbreaker.Settings) Option {
	return func(c *Client) {
		c.validateBreaker = newBreaker[domain.AccountRef](s, "payment-validate")
		c.chargeBreaker = newBreaker[domain.ChargeResult](s, "payment-charge")
	}
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:       timeout,
		validateTries: defaultValidateTries,
		retryBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = time.Second
			return b
		},
		log: logger.Nop(),
	}
	WithBreakerSettings(circuitbreaker.Settings{})(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker[T any](s circuitbreaker.Settings, name string) *circuitbreaker.Breaker[T] {
	s.Name = name
	// a refused card or a declined charge is an answer, not an outage
	s.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrInvalidInstrument)
	}
	return circuitbreaker.New[T](s)
}

// ValidateInstrument exchanges card details for an account reference.
// Transport errors and 5xx answers are retried; a 4xx is final.
func (c *Client) ValidateInstrument(ctx context.Context, instrument domain.PaymentInstrument) (domain.AccountRef, error) {
	started := time.Now()
	body := validateRequest{
		CardNumber:     instrument.CardNumber,
		HolderName:     instrument.HolderName,
		ExpirationDate: instrument.ExpirationDate,
		CVV:            instrument.CVV,
	}

	attempt := 0
	op := func() (domain.AccountRef, error) {
		attempt++
		ref, err := c.validateBreaker.Execute(func() (domain.AccountRef, error) {
			return c.validateOnce(ctx, body)
		})
		switch {
		case err == nil:
			return ref, nil
		case errors.Is(err, ErrInvalidInstrument), errors.Is(err, circuitbreaker.ErrOpen):
			return "", backoff.Permanent(err)
		default:
			c.log.Warn(ctx, "validate attempt failed", "attempt", attempt, "card", instrument.Last4(), "error", err)
			return "", err
		}
	}

	ref, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.retryBackoff()),
		backoff.WithMaxTries(c.validateTries),
	)
	c.observe("validate", err, started)
	if err == nil {
		return ref, nil
	}
	if errors.Is(err, ErrInvalidInstrument) {
		return "", err
	}
	return "", fmt.Errorf("%w: validate: %v", ErrGatewayUnavailable, err)
}

func (c *Client) validateOnce(ctx context.Context, body validateRequest) (domain.AccountRef, error) {
	var out validateResponse
	status, err := c.post(ctx, "/cards/validate", body, &out)
	if err != nil {
		return "", err
	}
	if status >= 400 && status < 500 {
		return "", fmt.Errorf("%w: gateway answered %d", ErrInvalidInstrument, status)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("validate: unexpected status %d", status)
	}
	if out.AccountRef == "" {
		return "", fmt.Errorf("%w: no account reference returned", ErrInvalidInstrument)
	}
	return domain.AccountRef(out.AccountRef), nil
}

// Charge requests a single charge. It is never retried: the gateway offers no
// idempotency key, so a repeated request could charge twice.
func (c *Client) Charge(ctx context.Context, accountRef domain.AccountRef, amount decimal.Decimal, description string) (domain.ChargeResult, error) {
	started := time.Now()
	res, err := c.chargeBreaker.Execute(func() (domain.ChargeResult, error) {
		return c.chargeOnce(ctx, accountRef, amount, description)
	})
	c.observe("charge", err, started)
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("%w: charge: %v", ErrGatewayUnavailable, err)
	}
	return res, nil
}

func (c *Client) chargeOnce(ctx context.Context, accountRef domain.AccountRef, amount decimal.Decimal, description string) (domain.ChargeResult, error) {
	body := chargeRequest{
		AccountRef:  string(accountRef),
		Amount:      amount.InexactFloat64(),
		Description: description,
	}
	var out chargeResponse
	status, err := c.post(ctx, "/payments", body, &out)
	if err != nil {
		return domain.ChargeResult{}, err
	}
	if status < 200 || status >= 300 {
		return domain.ChargeResult{}, fmt.Errorf("unexpected status %d", status)
	}

	res := domain.ChargeResult{AccountRef: accountRef, Amount: amount, ExternalRef: out.ExternalRef}
	switch out.Status {
	case "approved":
		res.Approved = true
	case "declined":
	default:
		return domain.ChargeResult{}, fmt.Errorf("unknown charge status %q", out.Status)
	}
	return res, nil
}

// Refund returns a previously approved charge.
func (c *Client) Refund(ctx context.Context, externalRef string, amount decimal.Decimal) error {
	started := time.Now()
	var out refundResponse
	status, err := c.post(ctx, "/payments/"+url.PathEscape(externalRef)+"/refund", refundRequest{Amount: amount.InexactFloat64()}, &out)
	switch {
	case err != nil:
		err = fmt.Errorf("%w: refund: %v", ErrGatewayUnavailable, err)
	case status >= 400 && status < 500:
		err = fmt.Errorf("%w: gateway answered %d", ErrRefundRejected, status)
	case status < 200 || status >= 300:
		err = fmt.Errorf("%w: refund: unexpected status %d", ErrGatewayUnavailable, status)
	case out.Status != "refunded":
		err = fmt.Errorf("%w: refund status %q", ErrRefundRejected, out.Status)
	}
	c.observe("refund", err, started)
	return err
}

// post sends body as JSON and decodes a 2xx answer into out.
// It returns the status code; non-2xx bodies are discarded.
func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func (c *Client) observe(operation string, err error, started time.Time) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidInstrument), errors.Is(err, ErrRefundRejected):
		result = "rejected"
	default:
		result = "error"
	}
	c.metrics.ObserveGateway(operation, result, started)
}
