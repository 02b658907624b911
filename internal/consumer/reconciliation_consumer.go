package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/gateway"
	"github.com/jhologic12/eshop-mvp/internal/store"
	"github.com/jhologic12/eshop-mvp/pkg/logger"
	"github.com/jhologic12/eshop-mvp/pkg/metrics"
)

const defaultRefundTries = 5

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Refunder interface {
	Refund(ctx context.Context, externalRef string, amount decimal.Decimal) error
}

// Consumer refunds charges whose checkout could not be committed.
type Consumer struct {
	cases    store.ReconciliationLog
	refunder Refunder
	reader   MessageReader
	log      *logger.Logger
	metrics  *metrics.CheckoutMetrics

	refundTries uint
	newBackOff  func() backoff.BackOff
}

type Option func(*Consumer)

func WithLogger(l *logger.Logger) Option {
	return func(c *Consumer) { c.log = l }
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithRefundRetry sets how often a refund is tried while the gateway is unavailable.
func WithRefundRetry(tries uint, newBackOff func() backoff.BackOff) Option {
	return func(c *Consumer) {
		c.refundTries = tries
		c.newBackOff = newBackOff
	}
}

func NewConsumer(cases store.ReconciliationLog, refunder Refunder, reader MessageReader, opts ...Option) *Consumer {
	c := &Consumer{
		cases:       cases,
		refunder:    refunder,
		reader:      reader,
		log:         logger.Nop(),
		refundTries: defaultRefundTries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func NewKafkaReader(topic, groupID string, brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
}

func (c *Consumer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Warn(context.Background(), "error closing kafka reader", "error", err)
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.log.Error(ctx, "error reading message", "error", err)
		return
	}

	var event domain.ReconciliationRequired
	if err := json.Unmarshal(m.Value, &event); err != nil {
		c.log.Error(ctx, "error parsing reconciliation message", "offset", m.Offset, "error", err)
		c.commit(ctx, m)
		return
	}

	if err := c.Handle(ctx, event); err != nil {
		if ctx.Err() != nil {
			// not committed; the message is delivered again after restart
			return
		}
		c.log.Error(ctx, "reconciliation case not handled", "case_id", event.CaseID, "external_ref", event.ExternalRef, "error", err)
	}
	c.commit(ctx, m)
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		c.log.Error(ctx, "failed to commit message", "offset", m.Offset, "error", err)
	}
}

// Handle refunds one case. Cases that are no longer pending are skipped, so
// a redelivered message does not refund twice.
func (c *Consumer) Handle(ctx context.Context, event domain.ReconciliationRequired) error {
	rc, err := c.cases.GetCase(ctx, event.CaseID)
	if err != nil {
		return fmt.Errorf("load case %s: %w", event.CaseID, err)
	}
	if rc.Status != domain.ReconciliationPending {
		c.log.Info(ctx, "reconciliation case already resolved, skipping", "case_id", rc.ID, "status", rc.Status)
		return nil
	}

	err = c.refund(ctx, rc)
	switch {
	case err == nil:
		c.count("refunded")
		c.log.Info(ctx, "charge refunded",
			"case_id", rc.ID,
			"order_id", rc.OrderID,
			"external_ref", rc.ExternalRef,
			"amount", rc.Amount.StringFixed(2))
		return c.resolve(ctx, rc.ID, domain.ReconciliationRefunded)
	case errors.Is(err, gateway.ErrRefundRejected):
		c.count("rejected")
		c.log.Error(ctx, "refund rejected, case needs manual review",
			"case_id", rc.ID,
			"order_id", rc.OrderID,
			"external_ref", rc.ExternalRef,
			"amount", rc.Amount.StringFixed(2),
			"error", err)
		return c.resolve(ctx, rc.ID, domain.ReconciliationManualReview)
	case ctx.Err() != nil:
		return err
	default:
		// Pending cases are never picked up again once the offset is committed.
		c.count("exhausted")
		c.log.Error(ctx, "refund retries exhausted, case needs manual review",
			"case_id", rc.ID,
			"order_id", rc.OrderID,
			"external_ref", rc.ExternalRef,
			"amount", rc.Amount.StringFixed(2),
			"error", err)
		if rerr := c.resolve(ctx, rc.ID, domain.ReconciliationManualReview); rerr != nil {
			return errors.Join(err, rerr)
		}
		return nil
	}
}

func (c *Consumer) refund(ctx context.Context, rc domain.ReconciliationCase) error {
	op := func() (struct{}, error) {
		err := c.refunder.Refund(ctx, rc.ExternalRef, rc.Amount)
		if err != nil && !errors.Is(err, gateway.ErrGatewayUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(c.refundTries),
		backoff.WithMaxElapsedTime(time.Minute))
	return err
}

func (c *Consumer) resolve(ctx context.Context, id string, status domain.ReconciliationStatus) error {
	if err := c.cases.ResolveCase(ctx, id, status); err != nil {
		return fmt.Errorf("resolve case %s as %s: %w", id, status, err)
	}
	return nil
}

func (c *Consumer) count(result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Refunds.WithLabelValues(result).Inc()
}
