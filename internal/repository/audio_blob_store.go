package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const audioBlobPrefix = "speaking:audio:"

// DefaultAudioBlobTTL keeps an uploaded recording long enough for every retry of its grading job.
const DefaultAudioBlobTTL = 24 * time.Hour

// ErrAudioBlobNotFound indicates a recording reference that expired or was never stored.
var ErrAudioBlobNotFound = errors.New("audio blob not found")

// AudioBlobStore holds uploaded speaking recordings between the API and the grading worker,
// keeping the queue envelope small.
type AudioBlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
}

// AudioBlobKey names the stored recording of one part of a speaking submission.
func AudioBlobKey(submissionID, part string) string {
	return audioBlobPrefix + submissionID + ":" + part
}

type redisAudioBlobStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAudioBlobStore stores recordings as Redis strings expiring after ttl. A nil client returns nil.
func NewRedisAudioBlobStore(client *redis.Client, ttl time.Duration) AudioBlobStore {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultAudioBlobTTL
	}
	return &redisAudioBlobStore{client: client, ttl: ttl}
}

func (s *redisAudioBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (s *redisAudioBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrAudioBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return data, nil
}

func (s *redisAudioBlobStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}
