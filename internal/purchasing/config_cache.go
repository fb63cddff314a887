package purchasing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const configCacheKey = "purchasing:approval_configurations"

// ConfigCache serves the active approval configuration from redis in front
// of the repository. The configuration set is read-mostly and append-only,
// so a short TTL plus explicit invalidation on writes is enough; any cache
// failure falls through to the repository so decisions never depend on
// redis being up.
type ConfigCache struct {
	repo   RepositoryPort
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewConfigCache constructs the cache.
func NewConfigCache(repo RepositoryPort, client *redis.Client, ttl time.Duration, logger *slog.Logger) *ConfigCache {
	return &ConfigCache{repo: repo, client: client, ttl: ttl, logger: logger}
}

// Active returns the configuration in force at the given instant.
func (c *ConfigCache) Active(ctx context.Context, at time.Time) (ApprovalConfiguration, error) {
	if configs, ok := c.cached(ctx); ok {
		return ActiveConfiguration(configs, at)
	}
	configs, err := c.repo.ListApprovalConfigurations(ctx)
	if err != nil {
		return ApprovalConfiguration{}, err
	}
	c.store(ctx, configs)
	return ActiveConfiguration(configs, at)
}

// Invalidate drops the cached set after a configuration write.
func (c *ConfigCache) Invalidate(ctx context.Context) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, configCacheKey).Err(); err != nil && c.logger != nil {
		c.logger.Warn("invalidate configuration cache", slog.Any("error", err))
	}
}

func (c *ConfigCache) cached(ctx context.Context) ([]ApprovalConfiguration, bool) {
	if c.client == nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, configCacheKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) && c.logger != nil {
			c.logger.Warn("read configuration cache", slog.Any("error", err))
		}
		return nil, false
	}
	var configs []ApprovalConfiguration
	if err := json.Unmarshal(payload, &configs); err != nil {
		if c.logger != nil {
			c.logger.Warn("decode configuration cache", slog.Any("error", err))
		}
		return nil, false
	}
	return configs, true
}

func (c *ConfigCache) store(ctx context.Context, configs []ApprovalConfiguration) {
	if c.client == nil || len(configs) == 0 {
		return
	}
	payload, err := json.Marshal(configs)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, configCacheKey, payload, c.ttl).Err(); err != nil && c.logger != nil {
		c.logger.Warn("write configuration cache", slog.Any("error", err))
	}
}
