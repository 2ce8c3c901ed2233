package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "congregate:path"

// redisPathCache shares path names across processes. Invalidation bumps a per-org
// generation counter so stale keys become unreachable and expire on their own.
type redisPathCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisPathCache returns a PathCache backed by redis.
func NewRedisPathCache(client *redis.Client, ttl time.Duration, log *zap.Logger) PathCache {
	if client == nil {
		return NoopPathCache{}
	}
	if ttl <= 0 {
		ttl = defaultPathTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &redisPathCache{
		client: client,
		ttl:    ttl,
		log:    log.Named("cache.path"),
	}
}

func (c *redisPathCache) Get(ctx context.Context, orgID, groupID snowflake.ID) (string, bool) {
	gen, err := c.generation(ctx, orgID)
	if err != nil {
		c.log.Warn("path cache generation lookup failed", zap.Error(err))
		return "", false
	}
	value, err := c.client.Get(ctx, entryKey(orgID, gen, groupID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("path cache get failed", zap.Error(err))
		}
		return "", false
	}
	return value, true
}

func (c *redisPathCache) Set(ctx context.Context, orgID, groupID snowflake.ID, path string) {
	gen, err := c.generation(ctx, orgID)
	if err != nil {
		c.log.Warn("path cache generation lookup failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, entryKey(orgID, gen, groupID), path, c.ttl).Err(); err != nil {
		c.log.Warn("path cache set failed", zap.Error(err))
	}
}

func (c *redisPathCache) InvalidateOrg(ctx context.Context, orgID snowflake.ID) {
	if err := c.client.Incr(ctx, generationKey(orgID)).Err(); err != nil {
		c.log.Warn("path cache invalidate failed", zap.String("org_id", orgID.String()), zap.Error(err))
	}
}

func (c *redisPathCache) generation(ctx context.Context, orgID snowflake.ID) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(orgID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func generationKey(orgID snowflake.ID) string {
	return fmt.Sprintf("%s:%s:gen", redisKeyPrefix, orgID.String())
}

func entryKey(orgID snowflake.ID, gen int64, groupID snowflake.ID) string {
	return fmt.Sprintf("%s:%s:%d:%s", redisKeyPrefix, orgID.String(), gen, groupID.String())
}
