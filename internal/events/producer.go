package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Topics struct {
	Reservations string
	Orders       string
	DeadLetter   string
}

// NewWriter returns a synchronous writer that waits for all in-sync replicas and
// routes by key hash, so one reservation always lands on one partition.
// Topics are set per message.
func NewWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            3,
		BatchTimeout:           5 * time.Millisecond,
		Compression:            kafka.Snappy,
		AllowAutoTopicCreation: false,
	}
}

type KafkaProducer struct {
	writer  MessageWriter
	topics  Topics
	brokers []string
	logger  *zap.Logger
}

func NewKafkaProducer(writer MessageWriter, topics Topics, brokers []string, logger *zap.Logger) *KafkaProducer {
	return &KafkaProducer{
		writer:  writer,
		topics:  topics,
		brokers: brokers,
		logger:  logger,
	}
}

// PublishReservation returns only after the broker acknowledged the write.
func (p *KafkaProducer) PublishReservation(ctx context.Context, event ReservationEvent) error {
	event.Status = StatusReserved
	return p.publish(ctx, p.topics.Reservations, event.ReservationID.String(), event)
}

// PublishOrder forwards a materialized order to the payment stream keyed by order id.
func (p *KafkaProducer) PublishOrder(ctx context.Context, event ReservationEvent) error {
	event.Status = StatusPendingPayment
	return p.publish(ctx, p.topics.Orders, event.OrderID.String(), event)
}

func (p *KafkaProducer) publish(ctx context.Context, topic, key string, event ReservationEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
	}
	if event.TraceID != "" {
		msg.Headers = []kafka.Header{{Key: HeaderTraceID, Value: []byte(event.TraceID)}}
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("publish to %s: %w: %w", topic, domain.ErrChannelUnavailable, err)
	}
	return nil
}

// HealthCheck dials the first reachable broker.
func (p *KafkaProducer) HealthCheck(ctx context.Context) error {
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	if lastErr == nil {
		lastErr = &net.AddrError{Err: "no brokers configured"}
	}
	return fmt.Errorf("%w: %w", domain.ErrChannelUnavailable, lastErr)
}

func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}
