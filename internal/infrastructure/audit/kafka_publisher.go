// Package audit publishes rejected admissions to an audit stream.
package audit

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/internal/domain/models"
	"github.com/turtacn/admit/internal/domain/service"
	"github.com/turtacn/admit/pkg/logger"
)

// MessageWriter is the part of kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes rejection events as JSON, keyed by client so one
// client's events stay ordered within a partition.
type KafkaPublisher struct {
	writer MessageWriter
	logger logger.Logger
}

var _ service.AuditPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates an asynchronous writer for cfg.Topic.
func NewKafkaPublisher(cfg config.KafkaConfig, log logger.Logger) *KafkaPublisher {
	log = log.WithComponent("kafka_audit")
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Error(context.Background(), "Failed to write audit batch", err, logger.Int("messages", len(messages)))
			}
		},
	}
	return NewKafkaPublisherWithWriter(writer, log)
}

// NewKafkaPublisherWithWriter wraps an existing writer.
func NewKafkaPublisherWithWriter(w MessageWriter, log logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, logger: log}
}

// PublishRejection sends ev to the audit topic.
func (p *KafkaPublisher) PublishRejection(ctx context.Context, ev models.RejectionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error(ctx, "Failed to marshal rejection event", err)
		return err
	}
	msg := kafka.Message{
		Key:   []byte(ev.ClientKey),
		Value: value,
		Headers: []kafka.Header{
			{Key: "class", Value: []byte(ev.Class)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error(ctx, "Failed to write rejection event", err, logger.String("route", ev.Route))
		return err
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes rejection events to the log only.
type LogPublisher struct {
	logger logger.Logger
}

// NewLogPublisher creates a publisher for deployments without Kafka.
func NewLogPublisher(log logger.Logger) *LogPublisher {
	return &LogPublisher{logger: log.WithComponent("audit")}
}

// PublishRejection logs ev.
func (p *LogPublisher) PublishRejection(ctx context.Context, ev models.RejectionEvent) error {
	p.logger.Info(ctx, "Admission rejected",
		logger.String("route", ev.Route),
		logger.String("client_key", ev.ClientKey),
		logger.String("class", string(ev.Class)),
		logger.Uint64("limit", ev.Limit),
		logger.Time("reset_at", ev.ResetAt),
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
