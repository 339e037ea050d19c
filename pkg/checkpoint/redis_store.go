package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"apikit/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces checkpoint keys in redis
const DefaultKeyPrefix = "apikit:checkpoint"

// RedisStore keeps each checkpoint as a JSON value under <prefix>:<stream key>
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	// TTL of zero keeps checkpoints until deleted
	TTL    time.Duration
	logger logger.Logger
}

// NewRedisStore connects to url and checks the connection
func NewRedisStore(ctx context.Context, url, prefix string, log logger.Logger) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis URL is required")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStoreFromClient(rdb, prefix, log), nil
}

// NewRedisStoreFromClient wraps an existing client
func NewRedisStoreFromClient(rdb *redis.Client, prefix string, log logger.Logger) *RedisStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, logger: logger.OrNop(log)}
}

// Key returns the redis key of a stream's checkpoint
func (s *RedisStore) Key(stream string) string {
	return s.prefix + ":" + StreamKey(stream)
}

func (s *RedisStore) Load(ctx context.Context, stream string) (*Checkpoint, error) {
	data, err := s.rdb.Get(ctx, s.Key(stream)).Bytes()
	if err == redis.Nil {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	s.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"stream": cp.Stream,
		"pages":  cp.Pages,
		"cursor": cp.Cursor,
	})
	return &cp, nil
}

func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.rdb.Set(ctx, s.Key(cp.Stream), data, s.TTL).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	s.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"stream": cp.Stream,
		"pages":  cp.Pages,
	})
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, stream string) error {
	if err := s.rdb.Del(ctx, s.Key(stream)).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}

// Close closes the redis connection
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
