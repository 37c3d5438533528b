package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/admit/internal/config"
	"github.com/turtacn/admit/internal/domain/models"
	"github.com/turtacn/admit/pkg/logger"
)

const fetchRetryDelay = time.Second

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// RejectionHandler processes one decoded event. Returning an error stops the
// consumer before the message is committed; the group resumes from it on the
// next run.
type RejectionHandler func(ctx context.Context, ev models.RejectionEvent) error

// RejectionConsumer reads rejection events back from the audit topic.
type RejectionConsumer struct {
	reader MessageReader
	handle RejectionHandler
	logger logger.Logger
}

// NewRejectionConsumer joins groupID on cfg.Topic.
func NewRejectionConsumer(cfg config.KafkaConfig, groupID string, handle RejectionHandler, log logger.Logger) *RejectionConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
	return NewRejectionConsumerWithReader(reader, handle, log)
}

// NewRejectionConsumerWithReader wraps an existing reader.
func NewRejectionConsumerWithReader(r MessageReader, handle RejectionHandler, log logger.Logger) *RejectionConsumer {
	return &RejectionConsumer{
		reader: r,
		handle: handle,
		logger: log.WithComponent("kafka_audit_consumer"),
	}
}

// Run consumes until ctx is done or the handler fails. Undecodable messages
// are committed and skipped; fetch failures are retried after a short delay.
// Commits are by offset, so a handler failure ends the run rather than being
// skipped past by the next commit.
func (c *RejectionConsumer) Run(ctx context.Context) error {
	c.logger.Info(ctx, "Rejection consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info(context.Background(), "Rejection consumer stopped")
				return nil
			}
			c.logger.Error(ctx, "Failed to fetch audit message", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchRetryDelay):
			}
			continue
		}

		var ev models.RejectionEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			c.logger.Warn(ctx, "Skipping undecodable audit message",
				logger.Int64("offset", msg.Offset),
				logger.Err(err),
			)
			c.commit(ctx, msg)
			continue
		}

		if err := c.handle(ctx, ev); err != nil {
			c.logger.Error(ctx, "Failed to handle rejection event", err,
				logger.Int64("offset", msg.Offset),
				logger.String("route", ev.Route),
			)
			return fmt.Errorf("handle audit message at offset %d: %w", msg.Offset, err)
		}
		c.commit(ctx, msg)
	}
}

func (c *RejectionConsumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Warn(ctx, "Failed to commit audit message",
			logger.Int64("offset", msg.Offset),
			logger.Err(err),
		)
	}
}

// Close leaves the consumer group.
func (c *RejectionConsumer) Close() error {
	return c.reader.Close()
}
