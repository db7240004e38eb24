// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/voicebridge/call-gateway/internal/models"
	"github.com/voicebridge/call-gateway/internal/observability/logging"
	"github.com/voicebridge/call-gateway/internal/observability/metrics"
	"github.com/voicebridge/call-gateway/internal/schema"
)

// Publisher publishes transcript fragments and finished utterances to
// separate Kafka topics.
type Publisher struct {
	writerInterim   *kafka.Writer
	writerUtterance *kafka.Writer
	principal       string
	topicInterim    string
	topicUtterance  string
	enabled         bool
	validator       *schema.Validator
	metrics         *metrics.Metrics
	logger          zerolog.Logger
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicInterim   string
	TopicUtterance string
	Principal      string
	Enabled        bool
	// Async writes return immediately; delivery results are logged and
	// counted when the batch completes.
	Async bool
}

// New creates a new Kafka event publisher.
func New(cfg *Config) *Publisher {
	p := &Publisher{
		validator: schema.New(),
		metrics:   metrics.DefaultMetrics,
		logger:    logging.WithComponent("events"),
	}

	if cfg == nil {
		p.logger.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.principal = cfg.Principal
	p.topicInterim = cfg.TopicInterim
	p.topicUtterance = cfg.TopicUtterance

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerInterim = p.newWriter(cfg, cfg.TopicInterim, "transcript", transport)
	p.writerUtterance = p.newWriter(cfg, cfg.TopicUtterance, "utterance", transport)
	p.enabled = true

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicInterim", cfg.TopicInterim).
		Str("topicUtterance", cfg.TopicUtterance).
		Str("principal", cfg.Principal).
		Bool("async", cfg.Async).
		Msg("Kafka publisher initialized")

	return p
}

func (p *Publisher) newWriter(cfg *Config, topic, eventType string, transport *kafka.Transport) *kafka.Writer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        cfg.Async,
		Transport:    transport,
	}
	if cfg.Async {
		w.Completion = func(messages []kafka.Message, err error) {
			for range messages {
				p.metrics.RecordKafkaPublish(topic, eventType, err, 0)
			}
			if err != nil {
				p.logger.Error().Err(err).
					Str("topic", topic).
					Int("messages", len(messages)).
					Msg("Async Kafka write failed")
			}
		}
	}
	return w
}

// PublishTranscript publishes an interim or final transcript fragment.
func (p *Publisher) PublishTranscript(ctx context.Context, ev models.TranscriptEvent) error {
	if err := p.validator.Validate(ev); err != nil {
		return err
	}
	return p.publish(ctx, p.writerInterim, p.topicInterim, "transcript", ev.CallID, ev)
}

// PublishUtterance publishes a finished utterance. With a synchronous writer
// the call blocks until delivery or until ctx ends.
func (p *Publisher) PublishUtterance(ctx context.Context, ev models.UtteranceEvent) error {
	if err := p.validator.Validate(ev); err != nil {
		return err
	}
	return p.publish(ctx, p.writerUtterance, p.topicUtterance, "utterance", ev.CallID, ev)
}

// Enabled reports whether events are written to Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// publish writes one event to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	p.logger.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return fmt.Errorf("events: write %s: %w", topic, err)
	}

	if !writer.Async {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	}
	return nil
}

// Close flushes and closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerInterim != nil {
		if e := p.writerInterim.Close(); e != nil {
			p.logger.Error().Err(e).Msg("Error closing transcript writer")
			err = e
		}
	}
	if p.writerUtterance != nil {
		if e := p.writerUtterance.Close(); e != nil {
			p.logger.Error().Err(e).Msg("Error closing utterance writer")
			err = e
		}
	}
	return err
}
