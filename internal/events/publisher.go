// Package events delivers transcript events to Kafka and other sinks.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech-stream-bridge/internal/observability/metrics"
)

// Sink receives transcript events. Publisher is the Kafka implementation;
// the WebSocket transport adds its own.
type Sink interface {
	PublishPartial(ctx context.Context, key string, event any) error
	PublishFinal(ctx context.Context, key string, event any) error
}

// Multi fans events out to every sink and joins their errors.
type Multi []Sink

// PublishPartial publishes to every sink.
func (m Multi) PublishPartial(ctx context.Context, key string, event any) error {
	return m.each(func(s Sink) error { return s.PublishPartial(ctx, key, event) })
}

// PublishFinal publishes to every sink.
func (m Multi) PublishFinal(ctx context.Context, key string, event any) error {
	return m.each(func(s Sink) error { return s.PublishFinal(ctx, key, event) })
}

func (m Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
	BatchTimeout time.Duration
	Metrics      *metrics.Metrics // defaults to metrics.DefaultMetrics
}

// topic pairs a Kafka topic with the event type written to it. The writer
// is nil in log-only mode.
type topic struct {
	name      string
	eventType string
	writer    *kafka.Writer
}

// Publisher writes partial and final transcripts to their own topics, keyed
// by stream id.
type Publisher struct {
	partial   topic
	final     topic
	principal string
	metrics   *metrics.Metrics
}

// New builds a publisher. A nil or disabled config, or one without brokers,
// yields a log-only publisher.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}
	p := &Publisher{
		partial:   topic{name: cfg.TopicPartial, eventType: "partial"},
		final:     topic{name: cfg.TopicFinal, eventType: "final"},
		principal: cfg.Principal,
		metrics:   cfg.Metrics,
	}
	if p.metrics == nil {
		p.metrics = metrics.DefaultMetrics
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, transcripts are logged only")
		return p
	}

	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 10 * time.Millisecond
	}
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	transport := &kafka.Transport{Dial: dialer.DialFunc}

	for _, t := range []*topic{&p.partial, &p.final} {
		t.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        t.name,
			Balancer:     &kafka.Hash{},
			BatchTimeout: batch,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", p.partial.name).
		Str("topicFinal", p.final.name).
		Str("principal", p.principal).
		Msg("Kafka publisher ready")
	return p
}

// Enabled reports whether events are written to Kafka.
func (p *Publisher) Enabled() bool { return p.final.writer != nil }

// PublishPartial writes a partial transcript event.
func (p *Publisher) PublishPartial(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.partial, key, event)
}

// PublishFinal writes a final transcript event.
func (p *Publisher) PublishFinal(ctx context.Context, key string, event any) error {
	return p.publish(ctx, p.final, key, event)
}

func (p *Publisher) publish(ctx context.Context, t topic, key string, event any) (err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordKafkaPublish(t.name, t.eventType, err, time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", t.name).Msg("Cannot encode event")
		return err
	}
	log.Debug().Str("topic", t.name).Str("key", key).RawJSON("payload", payload).Msg("Publishing event")

	if t.writer == nil {
		return nil
	}

	err = t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(t.eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("topic", t.name).Str("key", key).Msg("Kafka write failed")
	}
	return err
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, t := range []topic{p.partial, p.final} {
		if t.writer == nil {
			continue
		}
		if err := t.writer.Close(); err != nil {
			log.Error().Err(err).Str("topic", t.name).Msg("Closing Kafka writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
