package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type ReplayOptions struct {
	// Target is the topic dead letters are returned to.
	Target string
	// IdleTimeout ends the run when no message arrives for this long.
	IdleTimeout time.Duration
	// MaxMessages stops after this many replays; zero means no limit.
	MaxMessages int
	// RatePerSecond throttles republishing; zero means unthrottled.
	RatePerSecond float64
}

// Replayer moves dead letters back onto the reservations topic. It is an
// operator action and never runs inside the materializer.
type Replayer struct {
	reader  MessageReader
	writer  MessageWriter
	opts    ReplayOptions
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewReplayer(reader MessageReader, writer MessageWriter, opts ReplayOptions, logger *zap.Logger) *Replayer {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return &Replayer{
		reader:  reader,
		writer:  writer,
		opts:    opts,
		limiter: limiter,
		logger:  logger,
	}
}

// Run replays until the dead-letter topic goes idle, MaxMessages is reached,
// or ctx is cancelled. It returns the number of messages replayed.
func (r *Replayer) Run(ctx context.Context) (int, error) {
	replayed := 0
	for r.opts.MaxMessages == 0 || replayed < r.opts.MaxMessages {
		fetchCtx, cancel := context.WithTimeout(ctx, r.opts.IdleTimeout)
		msg, err := r.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
				r.logger.Info("Dead-letter topic idle, replay finished", zap.Int("replayed", replayed))
				return replayed, nil
			}
			return replayed, fmt.Errorf("fetch dead letter: %w", err)
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return replayed, err
		}

		out := kafka.Message{
			Topic:   r.opts.Target,
			Key:     msg.Key,
			Value:   msg.Value,
			Headers: WithoutHeaders(msg.Headers, HeaderError, HeaderFailedAt),
		}
		if err := r.writer.WriteMessages(ctx, out); err != nil {
			return replayed, fmt.Errorf("replay to %s: %w: %w", r.opts.Target, domain.ErrChannelUnavailable, err)
		}
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			return replayed, fmt.Errorf("commit dead letter: %w", err)
		}

		replayed++
		r.logger.Info("Replayed message",
			zap.String("key", string(msg.Key)),
			zap.String("original_error", HeaderValue(msg.Headers, HeaderError)),
			zap.Int64("offset", msg.Offset))
	}
	return replayed, nil
}
