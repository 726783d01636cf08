package queue

import (
	"context"
	"errors"
	"strings"
	"time"
)

const (
	// DefaultMaxAttempts bounds redelivery of a failing message.
	DefaultMaxAttempts = 5
	// DefaultAckWait is how long a delivered message may stay unacknowledged.
	DefaultAckWait = 5 * time.Minute
	// DefaultFetchWait is the blocking wait of a single fetch.
	DefaultFetchWait = 5 * time.Second
	// DefaultRetryBackoff is the delay before the second attempt; later attempts wait proportionally longer.
	DefaultRetryBackoff = 5 * time.Second

	maxRetryDelay = time.Minute

	deadLetterSuffix = ".dead"
)

var (
	// ErrClosed is returned when publishing on a closed queue.
	ErrClosed = errors.New("queue is closed")
	// ErrMessageTooLarge is returned when a body exceeds what the transport accepts.
	ErrMessageTooLarge = errors.New("message exceeds transport payload limit")
)

// Message is one delivery handed to a Handler.
type Message struct {
	Data []byte
	// Attempt starts at 1 and grows with every redelivery.
	Attempt int
	// Final is true when a failure of this delivery moves the message to the dead-letter queue.
	Final bool
}

// Handler processes one message. Returning nil acknowledges it. Any other error requeues the message
// until the attempt budget is exhausted; errors wrapped with Permanent skip the remaining attempts.
type Handler func(ctx context.Context, msg Message) error

// Queue is a durable work queue with a single in-flight message per consumer.
type Queue interface {
	Publish(ctx context.Context, name string, body []byte) error
	// Consume blocks until ctx is cancelled.
	Consume(ctx context.Context, name string, handler Handler) error
	Close() error
}

// Options tunes delivery behaviour shared by all drivers.
type Options struct {
	MaxAttempts  int
	AckWait      time.Duration
	FetchWait    time.Duration
	RetryBackoff time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.AckWait <= 0 {
		o.AckWait = DefaultAckWait
	}
	if o.FetchWait <= 0 {
		o.FetchWait = DefaultFetchWait
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	return o
}

// retryDelay grows linearly with the attempt number, capped at one minute.
func retryDelay(attempt int, backoff time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(attempt) * backoff
	if delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

// DeadLetterName returns the queue receiving messages that exhausted their attempts.
func DeadLetterName(name string) string {
	return strings.TrimSpace(name) + deadLetterSuffix
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}

type outcome string

const (
	outcomeAck   outcome = "ack"
	outcomeRetry outcome = "retry"
	outcomeDead  outcome = "dead_letter"
)

func settle(err error, attempt, maxAttempts int) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case IsPermanent(err) || attempt >= maxAttempts:
		return outcomeDead
	default:
		return outcomeRetry
	}
}
