package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// cacheTTL bounds how long synthesized audio sticks around. Scripted phrases
// recur within a discharge planning cycle, not across months.
const cacheTTL = 7 * 24 * time.Hour

// Cache is a best-effort Redis cache for synthesized audio. All failures
// degrade to a cache miss; the conversation never depends on Redis being up.
type Cache struct {
	rdb    *goredis.Client
	logger *slog.Logger
}

func NewCache(ctx context.Context, addr string, logger *slog.Logger) (*Cache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb, logger: logger}, nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	audio, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			c.logger.Warn("tts cache read failed", "error", err)
		}
		return nil, false
	}
	return audio, true
}

func (c *Cache) Put(ctx context.Context, key string, audio []byte) {
	if err := c.rdb.Set(ctx, key, audio, cacheTTL).Err(); err != nil {
		c.logger.Warn("tts cache write failed", "error", err)
	}
}

func (c *Cache) Close() {
	_ = c.rdb.Close()
}
