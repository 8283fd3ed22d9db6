package templates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"settlement-engine/internal/common/logger"
	"settlement-engine/internal/models"
)

const cacheKeyPrefix = "settlement:template:"

// RedisCache is a read-through cache for registered templates. Cache errors
// are logged and treated as misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, log logger.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger.ForComponent(log, "template-cache"),
	}
}

func (c *RedisCache) Get(ctx context.Context, id string) (*models.Template, bool) {
	data, err := c.client.Get(ctx, cacheKeyPrefix+id).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Template cache read failed", map[string]interface{}{"templateId": id, "error": err})
		}
		return nil, false
	}
	var t models.Template
	if err := json.Unmarshal(data, &t); err != nil {
		c.logger.Warn("Template cache entry corrupt", map[string]interface{}{"templateId": id, "error": err})
		return nil, false
	}
	return &t, true
}

func (c *RedisCache) Set(ctx context.Context, t *models.Template) {
	data, err := json.Marshal(t)
	if err != nil {
		c.logger.Warn("Template cache encode failed", map[string]interface{}{"templateId": t.ID, "error": err})
		return
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+t.ID, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Template cache write failed", map[string]interface{}{"templateId": t.ID, "error": err})
	}
}
