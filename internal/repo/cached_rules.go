package repo

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-pq/internal/cache"
	"github.com/miradorstack/mirador-pq/internal/models"
)

const ruleListCacheKey = "mirador:pq:rules:all"

// CachedRules serves ListRules from a cache provider. Any write drops the entry.
type CachedRules struct {
	backend RuleBackend
	cache   cache.Provider
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCachedRules wraps backend. A nil provider or non-positive ttl disables caching.
func NewCachedRules(backend RuleBackend, provider cache.Provider, ttl time.Duration, logger *slog.Logger) *CachedRules {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRules{backend: backend, cache: provider, ttl: ttl, logger: logger}
}

// ListRules returns cached rules when present, otherwise loads and caches them.
func (c *CachedRules) ListRules(ctx context.Context) ([]models.Rule, error) {
	if c.ttl > 0 {
		if data, err := c.cache.Get(ctx, ruleListCacheKey); err == nil {
			var cached []models.Rule
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Debug("rule cache read failed", slog.Any("error", err))
		}
	}

	rules, err := c.backend.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		if payload, err := json.Marshal(rules); err == nil {
			_ = c.cache.Set(ctx, ruleListCacheKey, payload, c.ttl)
		}
	}
	return rules, nil
}

// GetRule always reads through.
func (c *CachedRules) GetRule(ctx context.Context, id string) (models.Rule, error) {
	return c.backend.GetRule(ctx, id)
}

// SaveRule writes through and invalidates the list.
func (c *CachedRules) SaveRule(ctx context.Context, rule models.Rule) (models.Rule, error) {
	saved, err := c.backend.SaveRule(ctx, rule)
	c.invalidate(ctx)
	return saved, err
}

// DeleteRule writes through and invalidates the list.
func (c *CachedRules) DeleteRule(ctx context.Context, id string) error {
	err := c.backend.DeleteRule(ctx, id)
	c.invalidate(ctx)
	return err
}

// SetRuleActive writes through and invalidates the list.
func (c *CachedRules) SetRuleActive(ctx context.Context, id string, active *bool) (models.Rule, error) {
	rule, err := c.backend.SetRuleActive(ctx, id, active)
	c.invalidate(ctx)
	return rule, err
}

// IncrementRuleStatistics writes through and invalidates the list.
func (c *CachedRules) IncrementRuleStatistics(ctx context.Context, deltas []models.StatisticsDelta) error {
	err := c.backend.IncrementRuleStatistics(ctx, deltas)
	c.invalidate(ctx)
	return err
}

// CreditFalsePositive writes through and invalidates the list.
func (c *CachedRules) CreditFalsePositive(ctx context.Context, eventID string) ([]string, error) {
	credited, err := c.backend.CreditFalsePositive(ctx, eventID)
	c.invalidate(ctx)
	return credited, err
}

func (c *CachedRules) invalidate(ctx context.Context) {
	if err := c.cache.Del(ctx, ruleListCacheKey); err != nil {
		c.logger.Warn("rule cache invalidation failed", slog.Any("error", err))
	}
}
