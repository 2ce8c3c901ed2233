package cache

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

const defaultPathTTL = 5 * time.Minute

// PathCache stores resolved hierarchical path names per organization.
// Lookups are best-effort; a miss always falls back to the database.
type PathCache interface {
	Get(ctx context.Context, orgID, groupID snowflake.ID) (string, bool)
	Set(ctx context.Context, orgID, groupID snowflake.ID, path string)
	InvalidateOrg(ctx context.Context, orgID snowflake.ID)
}

type pathKey struct {
	orgID   snowflake.ID
	groupID snowflake.ID
}

type memoryPathCache struct {
	entries Cache[pathKey, string]
	ttl     time.Duration
}

// NewMemoryPathCache returns a process-local PathCache.
func NewMemoryPathCache(ttl time.Duration) PathCache {
	if ttl <= 0 {
		ttl = defaultPathTTL
	}
	return &memoryPathCache{
		entries: NewTTLCache[pathKey, string](),
		ttl:     ttl,
	}
}

func (c *memoryPathCache) Get(_ context.Context, orgID, groupID snowflake.ID) (string, bool) {
	return c.entries.Get(pathKey{orgID: orgID, groupID: groupID})
}

func (c *memoryPathCache) Set(_ context.Context, orgID, groupID snowflake.ID, path string) {
	c.entries.Set(pathKey{orgID: orgID, groupID: groupID}, path, c.ttl)
}

func (c *memoryPathCache) InvalidateOrg(_ context.Context, orgID snowflake.ID) {
	c.entries.DeleteFunc(func(key pathKey) bool {
		return key.orgID == orgID
	})
}

// NoopPathCache never stores anything.
type NoopPathCache struct{}

func (NoopPathCache) Get(context.Context, snowflake.ID, snowflake.ID) (string, bool) { return "", false }

func (NoopPathCache) Set(context.Context, snowflake.ID, snowflake.ID, string) {}

func (NoopPathCache) InvalidateOrg(context.Context, snowflake.ID) {}
