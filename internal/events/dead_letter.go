package events

import (
	"context"
	"fmt"
	"strconv"

	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// DeadLetterProducer parks messages the materializer could not process.
type DeadLetterProducer struct {
	writer MessageWriter
	topic  string
	clock  clock.Clock
	logger *zap.Logger
}

func NewDeadLetterProducer(writer MessageWriter, topic string, clk clock.Clock, logger *zap.Logger) *DeadLetterProducer {
	return &DeadLetterProducer{
		writer: writer,
		topic:  topic,
		clock:  clk,
		logger: logger,
	}
}

// Send republishes msg verbatim with error and failed-at headers appended.
func (p *DeadLetterProducer) Send(ctx context.Context, msg kafka.Message, cause error) error {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}

	headers := WithoutHeaders(msg.Headers, HeaderError, HeaderFailedAt)
	headers = append(headers,
		kafka.Header{Key: HeaderError, Value: []byte(reason)},
		kafka.Header{Key: HeaderFailedAt, Value: []byte(strconv.FormatInt(p.clock.Now().UnixMilli(), 10))},
	)

	dead := kafka.Message{
		Topic:   p.topic,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := p.writer.WriteMessages(ctx, dead); err != nil {
		p.logger.Error("Failed to publish dead letter",
			zap.String("key", string(msg.Key)),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return fmt.Errorf("publish to %s: %w: %w", p.topic, domain.ErrChannelUnavailable, err)
	}

	p.logger.Warn("Message dead-lettered",
		zap.String("key", string(msg.Key)),
		zap.String("source_topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("error", reason))
	return nil
}
