package publisher

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jhologic12/eshop-mvp/domain"
	"github.com/jhologic12/eshop-mvp/internal/store"
	"github.com/jhologic12/eshop-mvp/pkg/logger"
	"github.com/jhologic12/eshop-mvp/pkg/metrics"
)

const (
	defaultPollEvery = time.Second
	defaultBatchSize = 100
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Topics routes outbox event types to Kafka topics.
type Topics struct {
	CheckoutCompleted      string
	ReconciliationRequired string
}

func (t Topics) forEvent(eventType string) string {
	switch eventType {
	case domain.EventReconciliationRequired:
		return t.ReconciliationRequired
	default:
		return t.CheckoutCompleted
	}
}

// OutboxPoller moves events committed to the outbox table onto Kafka.
// Delivery is at least once: an event is marked processed only after the
// write was acknowledged.
type OutboxPoller struct {
	pollEvery time.Duration
	batchSize int
	outbox    store.Outbox
	writer    MessageWriter
	topics    Topics
	log       *logger.Logger
	metrics   *metrics.CheckoutMetrics
}

type Option func(*OutboxPoller)

func WithPollInterval(d time.Duration) Option {
	return func(p *OutboxPoller) { p.pollEvery = d }
}

func WithBatchSize(n int) Option {
	return func(p *OutboxPoller) { p.batchSize = n }
}

func WithLogger(l *logger.Logger) Option {
	return func(p *OutboxPoller) { p.log = l }
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(p *OutboxPoller) { p.metrics = m }
}

func NewOutboxPoller(outbox store.Outbox, writer MessageWriter, topics Topics, opts ...Option) *OutboxPoller {
	p := &OutboxPoller{
		pollEvery: defaultPollEvery,
		batchSize: defaultBatchSize,
		outbox:    outbox,
		writer:    writer,
		topics:    topics,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewKafkaWriter builds the writer used in production. The topic is set per
// message, so the writer itself has none.
func NewKafkaWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processUnpublishedEvents publishes one batch and returns how many events
// were marked processed.
func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) int {
	events, err := p.outbox.GetUnprocessedEvents(ctx, p.batchSize)
	if err != nil {
		p.log.Error(ctx, "failed to fetch outbox events", "error", err)
		return 0
	}

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.count(event.EventType, "error")
			p.log.Warn(ctx, "failed to publish outbox event", "event_id", event.ID, "event_type", event.EventType, "error", err)
			// keep order per aggregate: stop here and retry the rest next tick
			return published
		}
		p.count(event.EventType, "ok")

		if err := p.outbox.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.Error(ctx, "failed to mark outbox event as processed", "event_id", event.ID, "error", err)
			return published
		}
		published++
	}
	return published
}

func (p *OutboxPoller) publish(ctx context.Context, event *domain.OutboxEvent) error {
	msg := kafka.Message{
		Topic: p.topics.forEvent(event.EventType),
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *OutboxPoller) count(eventType, result string) {
	if p.metrics == nil {
		return
	}
	p.metrics.OutboxPublished.WithLabelValues(eventType, result).Inc()
}
