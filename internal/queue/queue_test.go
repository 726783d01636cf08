package queue

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSettle(t *testing.T) {
	boom := errors.New("boom")

	require.Equal(t, outcomeAck, settle(nil, 1, 3))
	require.Equal(t, outcomeAck, settle(nil, 3, 3))
	require.Equal(t, outcomeRetry, settle(boom, 1, 3))
	require.Equal(t, outcomeRetry, settle(boom, 2, 3))
	require.Equal(t, outcomeDead, settle(boom, 3, 3))
	require.Equal(t, outcomeDead, settle(Permanent(boom), 1, 3))
}

func TestPermanent(t *testing.T) {
	base := errors.New("bad payload")
	wrapped := fmt.Errorf("handle job: %w", Permanent(base))

	require.True(t, IsPermanent(wrapped))
	require.ErrorIs(t, wrapped, base)
	require.False(t, IsPermanent(base))
	require.NoError(t, Permanent(nil))
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	require.Equal(t, DefaultMaxAttempts, opts.MaxAttempts)
	require.Equal(t, DefaultAckWait, opts.AckWait)
	require.Equal(t, DefaultFetchWait, opts.FetchWait)
	require.Equal(t, DefaultRetryBackoff, opts.RetryBackoff)

	opts = Options{MaxAttempts: 2, FetchWait: time.Second}.withDefaults()
	require.Equal(t, 2, opts.MaxAttempts)
	require.Equal(t, time.Second, opts.FetchWait)
}

func TestNames(t *testing.T) {
	require.Equal(t, "grading_jobs.dead", DeadLetterName("grading_jobs"))
	require.Equal(t, "GRADING_JOBS", StreamName("grading_jobs"))
	require.Equal(t, "IDEST_GRADING", StreamName("idest.grading"))
	require.Equal(t, "QUEUE", StreamName(" "))
}

func TestRetryDelay(t *testing.T) {
	require.Equal(t, 5*time.Second, retryDelay(1, DefaultRetryBackoff))
	require.Equal(t, 20*time.Second, retryDelay(4, DefaultRetryBackoff))
	require.Equal(t, time.Minute, retryDelay(30, DefaultRetryBackoff))
	require.Equal(t, 200*time.Millisecond, retryDelay(2, 100*time.Millisecond))
	require.Equal(t, 100*time.Millisecond, retryDelay(0, 100*time.Millisecond))
}

func TestOpenSelectsDriver(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q, err := Open("redis", nil, client, Options{}, zerolog.Nop())
	require.NoError(t, err)
	require.IsType(t, &RedisQueue{}, q)

	_, err = Open("redis", nil, nil, Options{}, zerolog.Nop())
	require.Error(t, err)

	_, err = Open("nats", nil, nil, Options{}, zerolog.Nop())
	require.Error(t, err)

	_, err = Open("kafka", nil, client, Options{}, zerolog.Nop())
	require.ErrorContains(t, err, "unsupported queue driver")
}
