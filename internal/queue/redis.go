package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/idest-grading-api/internal/observability"
)

const (
	processingSuffix = ":processing"
	delayedSuffix    = ":delayed"
	redisOpTimeout   = 5 * time.Second
	redisErrBackoff  = time.Second
	promoteBatch     = 100
)

// promoteDue moves delayed frames whose not_before score has passed onto the consuming end of the queue.
var promoteDue = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	redis.call('RPUSH', KEYS[2], member)
end
return #due
`)

// frame wraps a body with its delivery count so retries survive the round trip through Redis.
type frame struct {
	Attempt int    `json:"attempt"`
	Body    []byte `json:"body"`
	Error   string `json:"error,omitempty"`
	// NotBefore is the unix millisecond time before which a retry is not delivered.
	NotBefore int64 `json:"not_before,omitempty"`
}

// RedisQueue is a list backed queue. In-flight messages are parked in "<name>:processing"
// and moved back to the queue when a consumer starts. Retries wait in the "<name>:delayed"
// sorted set, scored by their not_before time, until they are due.
type RedisQueue struct {
	client *redis.Client
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisQueue builds a queue on top of an existing Redis client.
func NewRedisQueue(client *redis.Client, opts Options, logger zerolog.Logger) *RedisQueue {
	return &RedisQueue{
		client: client,
		opts:   opts.withDefaults(),
		logger: logger.With().Str("component", "redis_queue").Logger(),
		now:    time.Now,
	}
}

// Publish appends a first-attempt frame to the queue.
func (q *RedisQueue) Publish(ctx context.Context, name string, body []byte) error {
	if q.client == nil {
		return ErrClosed
	}

	payload, err := json.Marshal(frame{Attempt: 1, Body: body})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	if err := q.client.LPush(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", name, err)
	}
	return nil
}

// Consume processes one message at a time until ctx is cancelled.
func (q *RedisQueue) Consume(ctx context.Context, name string, handler Handler) error {
	processing := name + processingSuffix

	recovered, err := q.requeueInFlight(ctx, name, processing)
	if err != nil {
		return err
	}
	if recovered > 0 {
		q.logger.Warn().Str("queue", name).Int("recovered", recovered).Msg("requeued in-flight messages")
	}

	q.logger.Info().Str("queue", name).Int("max_attempts", q.opts.MaxAttempts).Msg("consumer started")
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := q.promote(ctx, name); err != nil && ctx.Err() == nil {
			q.logger.Error().Err(err).Str("queue", name).Msg("failed to promote delayed messages")
		}

		raw, err := q.client.BRPopLPush(ctx, name, processing, q.fetchWait(ctx, name)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Error().Err(err).Str("queue", name).Msg("fetch failed")
			if !sleep(ctx, redisErrBackoff) {
				return nil
			}
			continue
		}

		q.deliver(ctx, name, processing, raw, handler)
	}
}

// Close releases the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) deliver(ctx context.Context, name, processing, raw string, handler Handler) {
	var current frame
	if err := json.Unmarshal([]byte(raw), &current); err != nil || current.Attempt < 1 {
		q.logger.Error().Str("queue", name).Msg("dropping malformed frame to dead-letter queue")
		q.deadLetter(ctx, name, processing, raw, frame{Attempt: 1, Body: []byte(raw), Error: "malformed frame"})
		return
	}

	msg := Message{
		Data:    current.Body,
		Attempt: current.Attempt,
		Final:   current.Attempt >= q.opts.MaxAttempts,
	}
	handlerErr := handler(ctx, msg)
	if handlerErr != nil && ctx.Err() != nil {
		// Left in the processing list; the next consumer start requeues it.
		return
	}

	switch settle(handlerErr, current.Attempt, q.opts.MaxAttempts) {
	case outcomeAck:
		opCtx, cancel := opContext(ctx)
		defer cancel()
		if err := q.client.LRem(opCtx, processing, 1, raw).Err(); err != nil {
			q.logger.Error().Err(err).Str("queue", name).Msg("ack failed")
		}
		observability.QueueDeliveries().WithLabelValues("redis", string(outcomeAck)).Inc()
	case outcomeRetry:
		delay := retryDelay(current.Attempt, q.opts.RetryBackoff)
		notBefore := q.now().Add(delay).UnixMilli()
		next, err := json.Marshal(frame{Attempt: current.Attempt + 1, Body: current.Body, NotBefore: notBefore})
		if err != nil {
			q.logger.Error().Err(err).Msg("encode retry frame")
			return
		}
		opCtx, cancel := opContext(ctx)
		defer cancel()
		_, err = q.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
			pipe.LRem(opCtx, processing, 1, raw)
			pipe.ZAdd(opCtx, name+delayedSuffix, redis.Z{Score: float64(notBefore), Member: next})
			return nil
		})
		if err != nil {
			q.logger.Error().Err(err).Str("queue", name).Msg("requeue failed")
		}
		q.logger.Warn().Err(handlerErr).Str("queue", name).Int("attempt", current.Attempt).Dur("delay", delay).Msg("message requeued")
		observability.QueueDeliveries().WithLabelValues("redis", string(outcomeRetry)).Inc()
	case outcomeDead:
		q.deadLetter(ctx, name, processing, raw, frame{Attempt: current.Attempt, Body: current.Body, Error: handlerErr.Error()})
	}
}

func (q *RedisQueue) deadLetter(ctx context.Context, name, processing, raw string, dead frame) {
	payload, err := json.Marshal(dead)
	if err != nil {
		q.logger.Error().Err(err).Msg("encode dead-letter frame")
		return
	}

	opCtx, cancel := opContext(ctx)
	defer cancel()
	_, err = q.client.TxPipelined(opCtx, func(pipe redis.Pipeliner) error {
		pipe.LRem(opCtx, processing, 1, raw)
		pipe.LPush(opCtx, DeadLetterName(name), payload)
		return nil
	})
	if err != nil {
		q.logger.Error().Err(err).Str("queue", name).Msg("dead-letter failed")
		return
	}

	q.logger.Error().Str("queue", name).Int("attempt", dead.Attempt).Str("reason", dead.Error).Msg("message dead-lettered")
	observability.QueueDeliveries().WithLabelValues("redis", string(outcomeDead)).Inc()
}

func (q *RedisQueue) promote(ctx context.Context, name string) error {
	moved, err := promoteDue.Run(ctx, q.client, []string{name + delayedSuffix, name}, q.now().UnixMilli(), promoteBatch).Int()
	if err != nil {
		return err
	}
	if moved > 0 {
		q.logger.Debug().Str("queue", name).Int("moved", moved).Msg("promoted delayed messages")
	}
	return nil
}

// fetchWait shortens the blocking pop when a delayed message falls due before FetchWait elapses.
// Redis blocks in whole seconds, so one second is the floor.
func (q *RedisQueue) fetchWait(ctx context.Context, name string) time.Duration {
	wait := q.opts.FetchWait
	next, err := q.client.ZRangeWithScores(ctx, name+delayedSuffix, 0, 0).Result()
	if err != nil || len(next) == 0 {
		return wait
	}

	until := time.UnixMilli(int64(next[0].Score)).Sub(q.now())
	switch {
	case until < time.Second:
		return time.Second
	case until < wait:
		return until
	default:
		return wait
	}
}

// requeueInFlight moves leftovers of a crashed consumer to the consuming end of the queue.
func (q *RedisQueue) requeueInFlight(ctx context.Context, name, processing string) (int, error) {
	count := 0
	for {
		err := q.client.LMove(ctx, processing, name, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return count, nil
		}
		if err != nil {
			return count, fmt.Errorf("recover %s: %w", processing, err)
		}
		count++
	}
}

func opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
