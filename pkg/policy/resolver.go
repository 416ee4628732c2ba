package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ErrPolicyNotSet is returned by a Source when a facility has never
// customized its policy. The resolver substitutes the platform defaults.
var ErrPolicyNotSet = errors.New("security policy not set for facility")

// Source loads the stored (possibly absent) policy for a facility.
type Source interface {
	GetSecurityPolicy(ctx context.Context, facilityID string) (*SecurityPolicy, error)
}

const (
	defaultCacheSize = 1024
	defaultCacheTTL  = 30 * time.Second
)

// Resolver computes the effective policy for a facility: the stored policy
// clamped to platform bounds, or the global defaults when none is stored.
// Resolutions are cached briefly and deduplicated across concurrent callers.
type Resolver struct {
	source Source
	cache  *lru.LRU[string, SecurityPolicy]
	group  singleflight.Group

	mu       sync.RWMutex
	defaults SecurityPolicy
}

// NewResolver creates a resolver over the given source. A nil source yields
// the global defaults for every facility (useful for administrators, who
// have no tenant).
func NewResolver(source Source) *Resolver {
	return &Resolver{
		source:   source,
		cache:    lru.NewLRU[string, SecurityPolicy](defaultCacheSize, nil, defaultCacheTTL),
		defaults: Default(),
	}
}

// Defaults returns the current global default policy.
func (r *Resolver) Defaults() SecurityPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// SetDefaults replaces the global defaults (clamped) and drops the cache so
// facilities without custom policy pick the change up immediately.
func (r *Resolver) SetDefaults(p SecurityPolicy) {
	r.mu.Lock()
	r.defaults = p.Clamp()
	r.mu.Unlock()
	r.cache.Purge()
}

// Resolve returns the effective policy for facilityID. An empty facilityID
// (administrator scope) resolves to the global defaults.
func (r *Resolver) Resolve(ctx context.Context, facilityID string) (SecurityPolicy, error) {
	if facilityID == "" || r.source == nil {
		return r.Defaults(), nil
	}

	if cached, ok := r.cache.Get(facilityID); ok {
		return cached, nil
	}

	v, err, _ := r.group.Do(facilityID, func() (interface{}, error) {
		stored, err := r.source.GetSecurityPolicy(ctx, facilityID)
		if errors.Is(err, ErrPolicyNotSet) {
			return r.Defaults(), nil
		}
		if err != nil {
			return SecurityPolicy{}, fmt.Errorf("resolve policy for facility %s: %w", facilityID, err)
		}
		return stored.Clamp(), nil
	})
	if err != nil {
		return SecurityPolicy{}, err
	}

	effective := v.(SecurityPolicy)
	r.cache.Add(facilityID, effective)
	return effective, nil
}

// ResolveFor returns the policy governing a principal scoped to the given
// facilities. An empty scope (administrators) resolves to the global
// defaults; a multi-facility scope resolves every facility and combines the
// results most restrictively, so one lax facility never weakens another's
// rules for a shared owner.
func (r *Resolver) ResolveFor(ctx context.Context, facilityIDs []string) (SecurityPolicy, error) {
	if len(facilityIDs) == 0 {
		return r.Defaults(), nil
	}
	pol, err := r.Resolve(ctx, facilityIDs[0])
	if err != nil {
		return SecurityPolicy{}, err
	}
	for _, id := range facilityIDs[1:] {
		next, err := r.Resolve(ctx, id)
		if err != nil {
			return SecurityPolicy{}, err
		}
		pol = MostRestrictive(pol, next)
	}
	return pol, nil
}

// Invalidate drops the cached policy for a facility. Called after a policy
// update so the next resolution sees the new values.
func (r *Resolver) Invalidate(facilityID string) {
	r.cache.Remove(facilityID)
}
