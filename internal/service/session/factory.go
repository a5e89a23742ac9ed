package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/tenantfirstaid/backend/internal/config"
	"github.com/zhouzirui/tenantfirstaid/backend/internal/logging"
)

const pingTimeout = 3 * time.Second

// Open builds a Store for cfg.Backend.
//
// An unreachable Redis does not fail construction: the failure is logged
// and the store keeps running degraded, absorbing read errors unless
// strict reads are on.
func Open(ctx context.Context, cfg config.StoreConfig, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}

	opts := []Option{
		WithLogger(log),
		WithStrictReads(cfg.StrictReads),
		WithOptimisticLocking(cfg.OptimisticLocking),
	}

	switch cfg.Backend {
	case config.StoreMemory:
		log.Info().Msg("using in-memory session store")
		return NewStore(NewMemoryBackend(cfg.TTL), opts...), nil

	case config.StoreRedis:
		redisOpts := &redis.Options{
			Addr:     cfg.Addr(),
			Password: cfg.Password,
			DB:       cfg.DB,
		}
		if cfg.UseSSL {
			redisOpts.TLSConfig = &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: cfg.Host,
			}
		}

		backend := NewRedisBackend(redis.NewClient(redisOpts), cfg.TTL, cfg.KeyPrefix, log)

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := backend.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("addr", redisOpts.Addr).Msg("session store unreachable, continuing degraded")
		} else {
			log.Info().Str("addr", redisOpts.Addr).Int("db", cfg.DB).Msg("connected to session store")
		}
		return NewStore(backend, opts...), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidBackend, cfg.Backend)
	}
}
