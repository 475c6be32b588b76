package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"chattranslator/internal/models"
	"chattranslator/internal/redis"
)

// Cache keeps translation results in redis. A nil *Cache never hits; redis
// errors are logged and treated as misses.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache returns nil when redis is disabled or the TTL is not positive.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if !client.Enabled() || ttl <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

// CacheKey is stable for a backend, pair and text.
func CacheKey(backend, source, target, text string) string {
	sum := sha256.Sum256([]byte(backend + "|" + source + "|" + target + "|" + text))
	return "translate:" + hex.EncodeToString(sum[:])
}

func (c *Cache) Get(ctx context.Context, key string) (models.TranslationResult, bool) {
	if c == nil {
		return models.TranslationResult{}, false
	}
	raw, err := c.client.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.logger.Warn("translation cache read failed", "error", err)
		}
		return models.TranslationResult{}, false
	}
	var res models.TranslationResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		c.logger.Warn("translation cache entry corrupt", "key", key, "error", err)
		_ = c.client.Del(ctx, key)
		return models.TranslationResult{}, false
	}
	return res, true
}

func (c *Cache) Put(ctx context.Context, key string, res models.TranslationResult) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl); err != nil {
		c.logger.Warn("translation cache write failed", "error", err)
	}
}
