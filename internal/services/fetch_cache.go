package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

type FetchFunc func(ctx context.Context) (any, error)

type FetchStats struct {
	Hits     int64 `json:"hits"`
	Upstream int64 `json:"upstream"`
	Shared   int64 `json:"shared"`
}

// FetchCache deduplicates concurrent upstream pulls per key and keeps the
// encoded result until its ttl passes. Errors are never cached and nothing is
// refreshed in the background.
type FetchCache struct {
	group        singleflight.Group
	l2           Cache
	fetchTimeout time.Duration
	now          func() time.Time

	mu          sync.Mutex
	entries     map[string]fetchEntry
	lastCleanup time.Time

	hits     atomic.Int64
	upstream atomic.Int64
	shared   atomic.Int64
}

type fetchEntry struct {
	val []byte
	exp time.Time
}

// sharedEntry is the second-level form of an entry. It carries the absolute
// expiry so a reader arms its local copy for the time left, not a fresh ttl.
type sharedEntry struct {
	Exp time.Time       `json:"exp"`
	Val json.RawMessage `json:"val"`
}

func NewFetchCache(l2 Cache, fetchTimeout time.Duration) *FetchCache {
	return &FetchCache{
		l2:           l2,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
		entries:      make(map[string]fetchEntry),
	}
}

// GetOrFetch decodes the cached value for key into out, calling fetch at most
// once across concurrent callers when the entry is missing or expired. The
// shared fetch is detached from the first caller's cancellation; each caller
// still stops waiting when its own ctx ends.
func (c *FetchCache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc, out any) error {
	if b, ok := c.local(key); ok {
		c.hits.Add(1)
		return UnmarshalCache(b, out)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		if b, ok := c.local(key); ok {
			c.hits.Add(1)
			return b, nil
		}
		fctx := context.WithoutCancel(ctx)
		if c.fetchTimeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(fctx, c.fetchTimeout)
			defer cancel()
		}
		if b, ok := c.fromShared(fctx, key); ok {
			c.hits.Add(1)
			return b, nil
		}

		c.upstream.Add(1)
		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		b, err := MarshalCache(v)
		if err != nil {
			return nil, fmt.Errorf("fetch cache: encode %s: %w", key, err)
		}
		exp := c.put(key, b, ttl)
		if c.l2 != nil && ttl > 0 {
			if env, err := MarshalCache(sharedEntry{Exp: exp, Val: b}); err == nil {
				_ = c.l2.Set(fctx, key, env, ttl)
			}
		}
		return b, nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		if res.Shared {
			c.shared.Add(1)
		}
		return UnmarshalCache(res.Val.([]byte), out)
	}
}

func (c *FetchCache) Stats() FetchStats {
	return FetchStats{Hits: c.hits.Load(), Upstream: c.upstream.Load(), Shared: c.shared.Load()}
}

func (c *FetchCache) local(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.exp) {
		delete(c.entries, key)
		return nil, false
	}
	return e.val, true
}

// fromShared reads key from the second level and arms the local entry until the
// expiry recorded with it. Undecodable or expired entries are misses.
func (c *FetchCache) fromShared(ctx context.Context, key string) ([]byte, bool) {
	if c.l2 == nil {
		return nil, false
	}
	raw, ok := c.l2.Get(ctx, key)
	if !ok {
		return nil, false
	}
	var e sharedEntry
	if err := UnmarshalCache(raw, &e); err != nil || len(e.Val) == 0 {
		return nil, false
	}
	left := e.Exp.Sub(c.now())
	if left <= 0 {
		return nil, false
	}
	c.put(key, e.Val, left)
	return e.Val, true
}

// put stores val locally and returns its expiry.
func (c *FetchCache) put(key string, val []byte, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.lastCleanup.IsZero() || now.Sub(c.lastCleanup) > time.Minute {
		for k, e := range c.entries {
			if !now.Before(e.exp) {
				delete(c.entries, k)
			}
		}
		c.lastCleanup = now
	}
	exp := now.Add(ttl)
	c.entries[key] = fetchEntry{val: val, exp: exp}
	return exp
}

// FetchKey builds a stable key from provider, symbols and params. Symbol order
// and case do not matter.
func FetchKey(provider string, symbols []string, params map[string]string) string {
	syms := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			syms = append(syms, s)
		}
	}
	sort.Strings(syms)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(parts, "&")))
	return fmt.Sprintf("fetch:v1:%s:%s:%s", provider, strings.Join(syms, ","), hex.EncodeToString(sum[:6]))
}
