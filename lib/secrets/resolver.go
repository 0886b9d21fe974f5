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

package secrets

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/datastream/lib/defaults"
	"github.com/gravitational/datastream/lib/utils"
)

// placeholderRe matches {vault:<path>} tokens inside connection templates.
var placeholderRe = regexp.MustCompile(`\{vault:([^}]+)\}`)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Client fetches secrets on cache misses.
	Client Client
	// CacheTTL is the absolute TTL of cached secret values.
	CacheTTL time.Duration
	// Clock is used for cache expiry, a real clock if unset.
	Clock clockwork.Clock
}

// Resolver rewrites connection templates, replacing every {vault:path}
// placeholder with the secret stored under path. Secret values are cached
// process-wide; concurrent fetches of the same path collapse into one
// upstream request.
type Resolver struct {
	client Client
	cache  *utils.FnCache
}

// NewResolver creates a Resolver backed by the given client.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Client == nil {
		return nil, trace.BadParameter("missing secret store client")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaults.SecretCacheTTL
	}
	cache, err := utils.NewFnCache(utils.FnCacheConfig{
		TTL:   cfg.CacheTTL,
		Clock: cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Resolver{
		client: cfg.Client,
		cache:  cache,
	}, nil
}

// Resolve replaces every placeholder in template with its secret value.
// Templates without placeholders are returned unchanged without touching
// the store. The first unrecoverable secret error fails the resolution.
func (r *Resolver) Resolve(ctx context.Context, template string) (string, error) {
	matches := placeholderRe.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return template, nil
	}

	values := make(map[string]string)
	for _, match := range matches {
		path := match[1]
		if _, ok := values[path]; ok {
			continue
		}
		value, err := utils.FnCacheGet(ctx, r.cache, path, func(ctx context.Context) (string, error) {
			log.DebugContext(ctx, "Fetching secret", "path", path, "provider", r.client.ProviderName())
			return r.client.GetSecret(ctx, path)
		})
		if err != nil {
			return "", trace.Wrap(err, "resolving secret %q", path)
		}
		values[path] = value
	}

	resolved := template
	for path, value := range values {
		resolved = strings.ReplaceAll(resolved, "{vault:"+path+"}", value)
	}
	return resolved, nil
}
