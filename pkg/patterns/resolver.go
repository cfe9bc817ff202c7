package patterns

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otherjamesbrown/binaudit/pkg/logging"
)

type cachedPatterns struct {
	patterns []ResponsePattern
	cachedAt time.Time
}

// Resolver loads and caches per-organization patterns and hands out
// immutable snapshots.
type Resolver struct {
	repo     Repository
	cache    map[string]*cachedPatterns
	cacheTTL time.Duration
	now      func() time.Time
	logger   logging.Logger
	mu       sync.RWMutex
}

// ResolverOption configures the resolver.
type ResolverOption func(*Resolver)

// WithCacheTTL sets the cache TTL. Zero disables caching.
func WithCacheTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

// WithClock overrides the time source used for expiry and cache age.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithLogger sets the logger used to report skipped patterns.
func WithLogger(l logging.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver creates a resolver over repo. A nil repo yields empty sets.
func NewResolver(repo Repository, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		repo:     repo,
		cache:    make(map[string]*cachedPatterns),
		cacheTTL: 5 * time.Minute,
		now:      time.Now,
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot returns the organization's live patterns as a Set. Expiry is
// evaluated at call time even when the list comes from cache.
func (r *Resolver) Snapshot(ctx context.Context, organizationID string) (*Set, error) {
	if r == nil || r.repo == nil {
		return EmptySet(organizationID), nil
	}

	ps, err := r.patterns(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	return NewSet(organizationID, ps, r.now(), r.logger), nil
}

func (r *Resolver) patterns(ctx context.Context, organizationID string) ([]ResponsePattern, error) {
	now := r.now()

	r.mu.RLock()
	if cached, ok := r.cache[organizationID]; ok && now.Sub(cached.cachedAt) < r.cacheTTL {
		r.mu.RUnlock()
		return cached.patterns, nil
	}
	r.mu.RUnlock()

	ps, err := r.repo.ListPatterns(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load response patterns for %s: %w", organizationID, err)
	}

	if r.cacheTTL > 0 {
		r.mu.Lock()
		r.cache[organizationID] = &cachedPatterns{patterns: ps, cachedAt: now}
		r.mu.Unlock()
	}

	return ps, nil
}

// InvalidateCache drops the cached patterns of one organization.
func (r *Resolver) InvalidateCache(organizationID string) {
	r.mu.Lock()
	delete(r.cache, organizationID)
	r.mu.Unlock()
}

// InvalidateAll drops every cached organization.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]*cachedPatterns)
	r.mu.Unlock()
}
