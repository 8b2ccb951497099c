// Package kafka streams audit events to a Kafka topic.
//
// Records are keyed by token id so every event for one token lands on the
// same partition and is consumed in order. Emission is synchronous but
// guarded by a circuit breaker: when the brokers keep failing, events are
// dropped (and counted) instead of blocking verification.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "tokenverif/pkg/platform/audit"
)

// ErrCircuitOpen is returned when an event is dropped because the breaker is open.
var ErrCircuitOpen = errors.New("audit publisher circuit open")

// Publisher writes audit events to Kafka.
type Publisher struct {
	client  *kgo.Client
	topic   string
	breaker *circuitBreaker
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
}

// Option configures the Publisher.
type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithCircuitBreaker overrides the failure threshold and cooldown.
func WithCircuitBreaker(threshold int, cooldown time.Duration) Option {
	return func(p *Publisher) {
		p.breaker = newCircuitBreaker(threshold, cooldown)
	}
}

// WithProduceTimeout bounds each synchronous produce call.
func WithProduceTimeout(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New connects a producer to the given brokers.
func New(brokers []string, topic string, opts ...Option) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	p := &Publisher{
		client:  client,
		topic:   topic,
		breaker: newCircuitBreaker(5, 30*time.Second),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (p *Publisher) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	adm := kadm.NewClient(p.client)
	responses, err := adm.CreateTopics(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, resp := range responses {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// Ping checks that at least one broker is reachable.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Emit produces the event and waits for the broker acknowledgement.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if !p.breaker.Allow() {
		p.metrics.IncCircuitBreakerDropped()
		return ErrCircuitOpen
	}
	if event.Category == "" {
		event.Category = event.Action.Category()
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.TokenID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(event.Category)},
			{Key: "action", Value: []byte(event.Action)},
		},
		Timestamp: event.Timestamp,
	}

	produceCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.client.ProduceSync(produceCtx, record).FirstErr(); err != nil {
		p.breaker.RecordFailure()
		p.metrics.IncProduceFailures()
		p.metrics.SetCircuitBreakerOpen(p.breaker.IsOpen())
		if p.logger != nil {
			p.logger.WarnContext(ctx, "audit event produce failed",
				"action", string(event.Action),
				"topic", p.topic,
				"error", err,
			)
		}
		return fmt.Errorf("produce audit event: %w", err)
	}

	p.breaker.RecordSuccess()
	p.metrics.SetCircuitBreakerOpen(false)
	p.metrics.IncProduced(string(event.Category))
	return nil
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close(ctx context.Context) error {
	err := p.client.Flush(ctx)
	p.client.Close()
	return err
}
