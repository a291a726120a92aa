package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"chatgate/internal/anythingllm"
)

const keyPrefix = "chatgate:cache:"

// Store is the durable tier of the cache.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DeleteByPrefix(ctx context.Context, prefix string) (int64, error)
}

// Cache memoizes formatted replies by normalized query text. The fast tier
// is an in-process map; a fast-tier miss falls through to redis and
// repopulates the fast tier on hit. Requests with attachments never reach
// the cache (the orchestrator skips it).
type Cache struct {
	store     Store
	workspace string
	enabled   bool
	ttl       time.Duration

	mu   sync.Mutex
	fast map[string]fastEntry

	now func() time.Time
}

type fastEntry struct {
	resp      anythingllm.Response
	expiresAt time.Time
}

func New(store Store, workspace string, enabled bool, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Cache{
		store:     store,
		workspace: workspace,
		enabled:   enabled,
		ttl:       ttl,
		fast:      make(map[string]fastEntry),
		now:       time.Now,
	}
}

func (c *Cache) Enabled() bool { return c.enabled }

// Key hashes the workspace plus the lower-cased, whitespace-collapsed
// query, so trivially reworded queries share an entry.
func Key(workspace, query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(workspace + ":" + normalized))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Get(ctx context.Context, query string) (anythingllm.Response, bool) {
	if !c.enabled {
		return anythingllm.Response{}, false
	}
	key := Key(c.workspace, query)

	c.mu.Lock()
	if e, ok := c.fast[key]; ok {
		if c.now().Before(e.expiresAt) {
			c.mu.Unlock()
			return e.resp, true
		}
		delete(c.fast, key)
	}
	c.mu.Unlock()

	v, ok, err := c.store.Get(ctx, keyPrefix+key)
	if err != nil || !ok {
		return anythingllm.Response{}, false
	}
	var resp anythingllm.Response
	if err := json.Unmarshal([]byte(v), &resp); err != nil {
		return anythingllm.Response{}, false
	}

	c.mu.Lock()
	c.fast[key] = fastEntry{resp: resp, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return resp, true
}

func (c *Cache) Set(ctx context.Context, query string, resp anythingllm.Response) error {
	if !c.enabled {
		return nil
	}
	key := Key(c.workspace, query)

	c.mu.Lock()
	c.fast[key] = fastEntry{resp: resp, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, keyPrefix+key, string(b), c.ttl)
}

func (c *Cache) Delete(ctx context.Context, query string) error {
	key := Key(c.workspace, query)

	c.mu.Lock()
	delete(c.fast, key)
	c.mu.Unlock()

	return c.store.Del(ctx, keyPrefix+key)
}

// Clear purges both tiers.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	c.mu.Lock()
	c.fast = make(map[string]fastEntry)
	c.mu.Unlock()

	return c.store.DeleteByPrefix(ctx, keyPrefix)
}

// Cleanup drops expired fast-tier entries. Durable entries self-expire via
// TTL, so the daily job has nothing else to do.
func (c *Cache) Cleanup() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.fast {
		if !now.Before(e.expiresAt) {
			delete(c.fast, k)
		}
	}
}
