package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/noah-isme/idest-grading-api/internal/observability"
)

const (
	headerError    = "Idest-Error"
	headerAttempts = "Idest-Attempts"
)

// NATSQueue is a JetStream work queue. Each queue name maps to a stream holding the queue subject
// and its dead-letter subject; consumers are durable pull consumers with one pending ack.
type NATSQueue struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	streams map[string]struct{}
}

// NewNATSQueue binds a JetStream context to the connection.
func NewNATSQueue(conn *nats.Conn, opts Options, logger zerolog.Logger) (*NATSQueue, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	return &NATSQueue{
		conn:    conn,
		js:      js,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("component", "nats_queue").Logger(),
		streams: make(map[string]struct{}),
	}, nil
}

// StreamName converts a queue name into a valid JetStream stream name.
func StreamName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(name))
	if mapped == "" {
		return "QUEUE"
	}
	return mapped
}

func durableName(stream string) string {
	return stream + "_WORKER"
}

// Publish stores the body on the queue subject and waits for the stream ack.
func (q *NATSQueue) Publish(ctx context.Context, name string, body []byte) error {
	if q.conn.IsClosed() {
		return ErrClosed
	}
	if limit := q.MaxPayload(); limit > 0 && int64(len(body)) > limit {
		return fmt.Errorf("publish to %s: %w: %d bytes, server accepts %d", name, ErrMessageTooLarge, len(body), limit)
	}
	if err := q.ensureStream(name); err != nil {
		return err
	}

	if _, err := q.js.Publish(name, body, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish to %s: %w", name, err)
	}
	return nil
}

// Consume fetches and handles one message at a time until ctx is cancelled.
func (q *NATSQueue) Consume(ctx context.Context, name string, handler Handler) error {
	if err := q.ensureStream(name); err != nil {
		return err
	}

	stream := StreamName(name)
	sub, err := q.js.PullSubscribe(name, durableName(stream),
		nats.BindStream(stream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(q.opts.AckWait),
		nats.MaxAckPending(1),
	)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", name, err)
	}
	defer func() {
		if err := sub.Drain(); err != nil {
			q.logger.Warn().Err(err).Str("queue", name).Msg("failed to drain subscription")
		}
	}()

	q.logger.Info().Str("queue", name).Str("stream", stream).Int("max_attempts", q.opts.MaxAttempts).Msg("consumer started")
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(q.opts.FetchWait))
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, nats.ErrConnectionClosed) {
				return nil
			}
			q.logger.Error().Err(err).Str("queue", name).Msg("fetch failed")
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			q.deliver(ctx, name, msg, handler)
		}
	}
}

// MaxPayload is the largest message body the connected server accepts.
func (q *NATSQueue) MaxPayload() int64 {
	return q.conn.MaxPayload()
}

// Close drains the connection.
func (q *NATSQueue) Close() error {
	return q.conn.Drain()
}

func (q *NATSQueue) deliver(ctx context.Context, name string, msg *nats.Msg, handler Handler) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil && meta.NumDelivered > 0 {
		attempt = int(meta.NumDelivered)
	}

	stopHeartbeat := q.heartbeat(name, msg)
	handlerErr := handler(ctx, Message{
		Data:    msg.Data,
		Attempt: attempt,
		Final:   attempt >= q.opts.MaxAttempts,
	})
	stopHeartbeat()
	if handlerErr != nil && ctx.Err() != nil {
		// Not acknowledged; JetStream redelivers after the ack wait.
		return
	}

	switch settle(handlerErr, attempt, q.opts.MaxAttempts) {
	case outcomeAck:
		if err := msg.Ack(); err != nil {
			q.logger.Error().Err(err).Str("queue", name).Msg("ack failed")
		}
		observability.QueueDeliveries().WithLabelValues("nats", string(outcomeAck)).Inc()
	case outcomeRetry:
		if err := msg.NakWithDelay(retryDelay(attempt, q.opts.RetryBackoff)); err != nil {
			q.logger.Error().Err(err).Str("queue", name).Msg("nak failed")
		}
		q.logger.Warn().Err(handlerErr).Str("queue", name).Int("attempt", attempt).Msg("message requeued")
		observability.QueueDeliveries().WithLabelValues("nats", string(outcomeRetry)).Inc()
	case outcomeDead:
		dead := nats.NewMsg(DeadLetterName(name))
		dead.Data = msg.Data
		dead.Header.Set(headerError, handlerErr.Error())
		dead.Header.Set(headerAttempts, strconv.Itoa(attempt))
		if _, err := q.js.PublishMsg(dead); err != nil {
			q.logger.Error().Err(err).Str("queue", name).Msg("dead-letter publish failed, leaving message for redelivery")
			_ = msg.Nak()
			return
		}
		if err := msg.Term(); err != nil {
			q.logger.Error().Err(err).Str("queue", name).Msg("term failed")
		}
		q.logger.Error().Str("queue", name).Int("attempt", attempt).Str("reason", handlerErr.Error()).Msg("message dead-lettered")
		observability.QueueDeliveries().WithLabelValues("nats", string(outcomeDead)).Inc()
	}
}

func (q *NATSQueue) ensureStream(name string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.streams[name]; ok {
		return nil
	}

	stream := StreamName(name)
	_, err := q.js.StreamInfo(stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = q.js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{name, DeadLetterName(name)},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		})
	}
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", stream, err)
	}

	q.streams[name] = struct{}{}
	return nil
}

// heartbeat keeps extending the ack deadline of msg until the returned func is called, so a
// handler running longer than the ack wait is not redelivered underneath itself.
func (q *NATSQueue) heartbeat(name string, msg *nats.Msg) func() {
	interval := q.opts.AckWait / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					q.logger.Warn().Err(err).Str("queue", name).Msg("failed to extend ack deadline")
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}
