// Package eventstest provides in-memory Kafka writers and readers for tests.
package eventstest

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Writer records every message written to it.
type Writer struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool

	// Err, when set, is returned from every WriteMessages call.
	Err error
	// Fail, when set, is consulted per message and may reject it.
	Fail func(kafka.Message) error
	// Acked, when set, runs per message after it was recorded. A returned
	// error reaches the caller as if the acknowledgement was lost.
	Acked func(kafka.Message) error
}

func (w *Writer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	if w.Err != nil {
		w.mu.Unlock()
		return w.Err
	}
	for _, m := range msgs {
		if w.Fail != nil {
			if err := w.Fail(m); err != nil {
				w.mu.Unlock()
				return err
			}
		}
	}
	w.messages = append(w.messages, msgs...)
	acked := w.Acked
	w.mu.Unlock()

	if acked != nil {
		for _, m := range msgs {
			if err := acked(m); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *Writer) Messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]kafka.Message, len(w.messages))
	copy(out, w.messages)
	return out
}

// Topic returns the messages written to one topic.
func (w *Writer) Topic(name string) []kafka.Message {
	var out []kafka.Message
	for _, m := range w.Messages() {
		if m.Topic == name {
			out = append(out, m)
		}
	}
	return out
}

func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Reader serves queued messages in order and blocks once drained until
// more are pushed or ctx ends.
type Reader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
	notify    chan struct{}
	offset    int64
	closed    bool

	// CommitErr, when set, is returned from CommitMessages.
	CommitErr error
}

func NewReader(topic string, msgs ...kafka.Message) *Reader {
	r := &Reader{notify: make(chan struct{}, 1)}
	for _, m := range msgs {
		r.push(topic, m)
	}
	return r
}

func (r *Reader) Push(topic string, msgs ...kafka.Message) {
	for _, m := range msgs {
		r.push(topic, m)
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Reader) push(topic string, m kafka.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Topic == "" {
		m.Topic = topic
	}
	m.Offset = r.offset
	r.offset++
	r.queue = append(r.queue, m)
}

func (r *Reader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	for {
		r.mu.Lock()
		if len(r.queue) > 0 {
			m := r.queue[0]
			r.queue = r.queue[1:]
			r.mu.Unlock()
			return m, nil
		}
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return kafka.Message{}, ctx.Err()
		case <-r.notify:
		}
	}
}

func (r *Reader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.CommitErr != nil {
		return r.CommitErr
	}
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *Reader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *Reader) Committed() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]kafka.Message, len(r.committed))
	copy(out, r.committed)
	return out
}

func (r *Reader) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
