package flow

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedRepository fronts another repository with an in-process cache. Pinned
// versions never change so they are cached without expiry; "latest" lookups
// expire after ttl and are dropped whenever a new version is saved through it.
type CachedRepository struct {
	next  Repository
	cache *gocache.Cache
	ttl   time.Duration
}

// NewCachedRepository wraps next. A non-positive ttl defaults to five minutes.
func NewCachedRepository(next Repository, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository{
		next:  next,
		cache: gocache.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

func latestKey(orgID, flowID string) string {
	return fmt.Sprintf("%s/%s/latest", orgID, flowID)
}

func versionKey(orgID, flowID string, version int) string {
	return fmt.Sprintf("%s/%s/v%d", orgID, flowID, version)
}

// Get returns the latest version, hitting the wrapped repository on a miss.
func (c *CachedRepository) Get(ctx context.Context, orgID, flowID string) (*Definition, error) {
	if v, ok := c.cache.Get(latestKey(orgID, flowID)); ok {
		return v.(*Definition).Clone(), nil
	}
	def, err := c.next.Get(ctx, orgID, flowID)
	if err != nil {
		return nil, err
	}
	c.cache.Set(latestKey(orgID, flowID), def.Clone(), c.ttl)
	c.cache.Set(versionKey(orgID, flowID, def.Version), def.Clone(), gocache.NoExpiration)
	return def, nil
}

// GetVersion returns a pinned version.
func (c *CachedRepository) GetVersion(ctx context.Context, orgID, flowID string, version int) (*Definition, error) {
	key := versionKey(orgID, flowID, version)
	if v, ok := c.cache.Get(key); ok {
		return v.(*Definition).Clone(), nil
	}
	def, err := c.next.GetVersion(ctx, orgID, flowID, version)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, def.Clone(), gocache.NoExpiration)
	return def, nil
}

// Save writes through and invalidates the cached latest version.
func (c *CachedRepository) Save(ctx context.Context, def *Definition) (*Definition, error) {
	saved, err := c.next.Save(ctx, def)
	if err != nil {
		return nil, err
	}
	c.cache.Delete(latestKey(saved.OrgID, saved.ID))
	c.cache.Set(versionKey(saved.OrgID, saved.ID, saved.Version), saved.Clone(), gocache.NoExpiration)
	return saved, nil
}

// List is not cached.
func (c *CachedRepository) List(ctx context.Context, orgID string) ([]*Definition, error) {
	return c.next.List(ctx, orgID)
}
