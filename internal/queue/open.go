package queue

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Open builds the queue for the configured driver ("nats" or "redis").
func Open(driver string, natsConn *nats.Conn, redisClient *redis.Client, opts Options, logger zerolog.Logger) (Queue, error) {
	switch driver {
	case "nats":
		q, err := NewNATSQueue(natsConn, opts, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis client is required")
		}
		return NewRedisQueue(redisClient, opts, logger), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", driver)
	}
}
