package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
)

const (
	defaultKeyPrefix = "session:"
	maxUpdateRetries = 3
)

// RedisBackend stores sessions in Redis (or Valkey). Values are written
// with SET and an optional TTL; Update uses WATCH/MULTI/EXEC.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    *logging.Logger
}

// NewRedisBackend wraps an existing client. A zero ttl stores keys without
// expiry; an empty prefix defaults to "session:".
func NewRedisBackend(client *redis.Client, ttl time.Duration, prefix string, log *logging.Logger) *RedisBackend {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if log == nil {
		log = logging.Nop()
	}
	return &RedisBackend{client: client, ttl: ttl, prefix: prefix, log: log}
}

// Load implements Backend. Reads refresh the TTL.
func (b *RedisBackend) Load(ctx context.Context, id string) ([]byte, error) {
	key := b.key(id)
	val, err := b.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if b.ttl > 0 {
		if err := b.client.Expire(ctx, key, b.ttl).Err(); err != nil {
			b.log.Debug().Err(err).Str("session_id", id).Msg("session ttl refresh failed")
		}
	}
	return val, nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, id string, data []byte) error {
	return b.client.Set(ctx, b.key(id), data, b.ttl).Err()
}

// Update implements Backend. A concurrent write between WATCH and EXEC
// restarts the read-modify-write, at most maxUpdateRetries times.
func (b *RedisBackend) Update(ctx context.Context, id string, fn UpdateFunc) error {
	key := b.key(id)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			current, found = nil, false
		} else if err != nil {
			return err
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, b.ttl)
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err = b.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	return b.client.Del(ctx, b.key(id)).Err()
}

// Ping implements Backend.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) key(id string) string {
	return b.prefix + id
}
