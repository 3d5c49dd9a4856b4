package store

import (
	"context"
	"strconv"
	"time"

	"personafeed/pkg/cache"
)

// JSONCache is the subset of *cache.Cache used for read-through caching.
type JSONCache interface {
	Key(parts ...string) string
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedStore caches persona lookups and the platform-wide recent posts
// window in Redis. Writes go to the underlying store first and then drop the
// affected keys.
type CachedStore struct {
	Store
	cache  JSONCache
	window int
}

// NewCachedStore caches ListPosts calls whose only filter is a limit equal
// to window.
func NewCachedStore(store Store, c JSONCache, window int) *CachedStore {
	return &CachedStore{
		Store:  store,
		cache:  c,
		window: window,
	}
}

func (c *CachedStore) personaKey(id string) string {
	return c.cache.Key("persona", id)
}

func (c *CachedStore) recentKey(limit int) string {
	return c.cache.Key("recent_posts", strconv.Itoa(limit))
}

func (c *CachedStore) GetPersona(ctx context.Context, id string) (*Persona, error) {
	key := c.personaKey(id)

	var p Persona
	if err := c.cache.GetJSON(ctx, key, &p); err == nil && p.ID != "" {
		return &p, nil
	}

	got, err := c.Store.GetPersona(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = c.cache.SetJSON(ctx, key, got, cache.PersonaTTL)
	return got, nil
}

func (c *CachedStore) RecordPersonaPost(ctx context.Context, id string, cost int64, at time.Time) error {
	if err := c.Store.RecordPersonaPost(ctx, id, cost, at); err != nil {
		return err
	}
	_ = c.cache.Delete(ctx, c.personaKey(id))
	return nil
}

func (c *CachedStore) DeletePersona(ctx context.Context, id string) error {
	if err := c.Store.DeletePersona(ctx, id); err != nil {
		return err
	}
	// The recent window may hold posts by this persona.
	_ = c.cache.Delete(ctx, c.personaKey(id))
	c.dropRecent(ctx)
	return nil
}

func (c *CachedStore) CreatePost(ctx context.Context, p *Post) error {
	if err := c.Store.CreatePost(ctx, p); err != nil {
		return err
	}
	c.dropRecent(ctx)
	return nil
}

func (c *CachedStore) ListPosts(ctx context.Context, f PostFilter) ([]Post, error) {
	if f.AuthorID != "" || f.OriginalPostID != "" || f.Hashtag != "" || f.Limit != c.window || c.window <= 0 {
		return c.Store.ListPosts(ctx, f)
	}

	key := c.recentKey(f.Limit)
	var posts []Post
	if err := c.cache.GetJSON(ctx, key, &posts); err == nil {
		return posts, nil
	}

	posts, err := c.Store.ListPosts(ctx, f)
	if err != nil {
		return nil, err
	}
	_ = c.cache.SetJSON(ctx, key, posts, cache.RecentPostsTTL)
	return posts, nil
}

func (c *CachedStore) dropRecent(ctx context.Context) {
	_ = c.cache.Delete(ctx, c.recentKey(c.window))
}
