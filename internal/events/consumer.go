package events

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageReader is satisfied by *kafka.Reader.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ReaderOptions struct {
	Brokers []string
	GroupID string
	Topic   string
	// FromBeginning starts a new group at the oldest offset instead of the newest.
	FromBeginning bool
}

// NewReader returns a consumer-group reader with explicit, synchronous commits.
func NewReader(opts ReaderOptions) *kafka.Reader {
	start := kafka.LastOffset
	if opts.FromBeginning {
		start = kafka.FirstOffset
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           opts.Brokers,
		GroupID:           opts.GroupID,
		Topic:             opts.Topic,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           500 * time.Millisecond,
		CommitInterval:    0,
		StartOffset:       start,
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
	})
}
