package tiers

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/auralink/proactive/internal/datastore/repository"
	"github.com/auralink/proactive/internal/errors"
	"github.com/auralink/proactive/internal/logger"
)

// Resolver looks up a user's tier from their subscription. Results are
// cached briefly since a run resolves the same user for every entity.
type Resolver struct {
	repo  repository.SubscriptionRepository
	cache *cache.Cache
	log   logger.Logger
}

// NewResolver creates a Resolver caching lookups for ttl.
func NewResolver(repo repository.SubscriptionRepository, ttl time.Duration, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.Discard()
	}
	return &Resolver{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
		log:   log.Module("tiers"),
	}
}

// GetTier returns the user's tier. Missing or inactive subscriptions are FREE.
// Lookup errors are returned alongside FREE so callers can proceed.
func (r *Resolver) GetTier(ctx context.Context, userID string) (Tier, error) {
	if v, ok := r.cache.Get(userID); ok {
		return v.(Tier), nil
	}

	sub, err := r.repo.GetByUser(ctx, userID)
	switch {
	case errors.Is(err, repository.ErrSubscriptionNotFound):
		r.cache.SetDefault(userID, Free)
		return Free, nil
	case err != nil:
		r.log.Warn("tier lookup failed, defaulting to FREE",
			logger.String("user_id", userID),
			logger.Error(err))
		return Free, err
	}

	tier := Free
	if sub.Active {
		tier = Parse(sub.Tier)
	}
	r.cache.SetDefault(userID, tier)
	return tier, nil
}

// Invalidate drops a cached tier, e.g. after a subscription change.
func (r *Resolver) Invalidate(userID string) {
	r.cache.Delete(userID)
}
