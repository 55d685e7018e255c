package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/xledger/internal/domain"
)

const ruleCachePrefix = "rule:"

// CachedRuleRepository reads rules through a Cache. Cache failures fall back
// to the underlying repository.
type CachedRuleRepository struct {
	next   RuleRepository
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedRuleRepository wraps next with a read-through cache.
func NewCachedRuleRepository(next RuleRepository, cache Cache, ttl time.Duration, logger zerolog.Logger) *CachedRuleRepository {
	return &CachedRuleRepository{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "rule-cache").Logger(),
	}
}

// GetByID returns the cached rule or loads and caches it.
func (r *CachedRuleRepository) GetByID(ctx context.Context, id string) (*domain.ConversionRule, error) {
	key := ruleCachePrefix + id

	data, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn().Err(err).Str("rule_id", id).Msg("rule cache read failed")
	}
	if data != nil {
		var rule domain.ConversionRule
		if err := json.Unmarshal(data, &rule); err == nil {
			return &rule, nil
		}
		r.logger.Warn().Str("rule_id", id).Msg("dropping undecodable cached rule")
		_ = r.cache.Delete(ctx, key)
	}

	rule, err := r.next.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(rule); err == nil {
		if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
			r.logger.Warn().Err(err).Str("rule_id", id).Msg("rule cache write failed")
		}
	}

	return rule, nil
}

// List always reads the underlying repository.
func (r *CachedRuleRepository) List(ctx context.Context) ([]*domain.ConversionRule, error) {
	return r.next.List(ctx)
}

// Invalidate drops the cached copy of a rule.
func (r *CachedRuleRepository) Invalidate(ctx context.Context, id string) error {
	return r.cache.Delete(ctx, ruleCachePrefix+id)
}
