/*
 * Datastream
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package utils

import (
	"context"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

// FnCacheConfig contains the configuration of an FnCache.
type FnCacheConfig struct {
	// TTL is the absolute time to live of cached entries.
	TTL time.Duration
	// Clock is the clock used to expire entries, a real clock if unset.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *FnCacheConfig) CheckAndSetDefaults() error {
	if c.TTL <= 0 {
		return trace.BadParameter("missing TTL parameter")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// FnCache is a helper for temporarily storing the results of regularly
// called functions. Concurrent loads of the same key are collapsed into a
// single upstream call; entries expire after the configured absolute TTL.
type FnCache struct {
	cfg     FnCacheConfig
	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]fnCacheEntry
}

type fnCacheEntry struct {
	value   any
	expires time.Time
}

// NewFnCache creates a new FnCache instance.
func NewFnCache(cfg FnCacheConfig) (*FnCache, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &FnCache{
		cfg:     cfg,
		entries: make(map[string]fnCacheEntry),
	}, nil
}

// FnCacheGet loads the value for key from the cache, calling loadfn on a
// miss or after expiry. Load errors are returned to all collapsed waiters
// and are not cached.
func FnCacheGet[T any](ctx context.Context, cache *FnCache, key string, loadfn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	cache.mu.Lock()
	entry, ok := cache.entries[key]
	if ok && cache.cfg.Clock.Now().Before(entry.expires) {
		cache.mu.Unlock()
		value, ok := entry.value.(T)
		if !ok {
			return zero, trace.BadParameter("value of cached key %q is %T, not %T", key, entry.value, zero)
		}
		return value, nil
	}
	cache.mu.Unlock()

	ch := cache.group.DoChan(key, func() (any, error) {
		// The load is detached from the caller's context so that one
		// cancelled waiter does not poison the result for the others.
		value, err := loadfn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, trace.Wrap(err)
		}
		cache.mu.Lock()
		cache.entries[key] = fnCacheEntry{
			value:   value,
			expires: cache.cfg.Clock.Now().Add(cache.cfg.TTL),
		}
		cache.mu.Unlock()
		return value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, trace.Wrap(res.Err)
		}
		value, ok := res.Val.(T)
		if !ok {
			return zero, trace.BadParameter("value of loaded key %q is %T, not %T", key, res.Val, zero)
		}
		return value, nil
	case <-ctx.Done():
		return zero, trace.Wrap(ctx.Err())
	}
}

// Remove drops the entry for key, if any.
func (c *FnCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries currently stored, expired or not.
func (c *FnCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
