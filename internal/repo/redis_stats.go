package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

// RuleBackend is the persistent half of the Rule Store. IncrementRuleStatistics and
// CreditFalsePositive must each apply atomically.
type RuleBackend interface {
	ListRules(ctx context.Context) ([]models.Rule, error)
	GetRule(ctx context.Context, id string) (models.Rule, error)
	SaveRule(ctx context.Context, rule models.Rule) (models.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	SetRuleActive(ctx context.Context, id string, active *bool) (models.Rule, error)
	IncrementRuleStatistics(ctx context.Context, deltas []models.StatisticsDelta) error
	CreditFalsePositive(ctx context.Context, eventID string) ([]string, error)
}

const (
	statsKeyPrefix        = "mirador:pq:rule-stats:"
	applicationsKeyPrefix = "mirador:pq:rule-apps:"
)

// applyScript records a whole apply batch. KEYS come in (stats, applications) pairs;
// ARGV[1] is the trigger time in unix ms, followed per pair by an event count and the
// event ids. Only first-seen events bump processed.
var applyScript = redis.NewScript(`
local ts = tonumber(ARGV[1])
local pos = 2
for i = 1, #KEYS, 2 do
	local stats, apps = KEYS[i], KEYS[i + 1]
	local n = tonumber(ARGV[pos])
	pos = pos + 1
	local added = 0
	for _ = 1, n do
		added = added + redis.call('HSETNX', apps, ARGV[pos], '0')
		pos = pos + 1
	end
	redis.call('HINCRBY', stats, 'processed', added)
	if ts and ts > 0 then
		local current = tonumber(redis.call('HGET', stats, 'last_triggered') or '0')
		if ts > current then
			redis.call('HSET', stats, 'last_triggered', ARGV[1])
		end
	end
end
return 1
`)

// creditScript credits ARGV[1] once per rule it was applied to and returns the
// 1-based pair positions it credited.
var creditScript = redis.NewScript(`
local credited = {}
for i = 1, #KEYS, 2 do
	if redis.call('HGET', KEYS[i + 1], ARGV[1]) == '0' then
		redis.call('HSET', KEYS[i + 1], ARGV[1], '1')
		redis.call('HINCRBY', KEYS[i], 'caught', 1)
		table.insert(credited, (i + 1) / 2)
	end
end
return credited
`)

// RedisStatistics keeps rule counters in Redis hashes so several engine replicas can
// increment them concurrently. Authored rule fields stay in the backend; counters read
// back from Redis are added on top of whatever the backend holds.
type RedisStatistics struct {
	backend RuleBackend
	client  redis.UniversalClient
	logger  *slog.Logger
}

// RedisOptions are the connection parameters for the statistics store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient dials Redis and pings it so misconfiguration fails at startup.
func NewRedisClient(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return client, nil
}

// NewRedisStatistics wraps backend with Redis-held counters.
func NewRedisStatistics(backend RuleBackend, client redis.UniversalClient, logger *slog.Logger) *RedisStatistics {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStatistics{backend: backend, client: client, logger: logger}
}

// ListRules returns backend rules with Redis counters applied.
func (r *RedisStatistics) ListRules(ctx context.Context) ([]models.Rule, error) {
	rules, err := r.backend.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return rules, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(rules))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, rule := range rules {
			cmds[i] = pipe.HGetAll(ctx, statsKey(rule.ID))
		}
		return nil
	})
	if err != nil {
		return nil, utils.NewStoreError("list rules", "read statistics", err)
	}
	for i := range rules {
		overlayStatistics(&rules[i], cmds[i].Val())
	}
	return rules, nil
}

// GetRule returns one rule with Redis counters applied.
func (r *RedisStatistics) GetRule(ctx context.Context, id string) (models.Rule, error) {
	rule, err := r.backend.GetRule(ctx, id)
	if err != nil {
		return models.Rule{}, err
	}
	values, err := r.client.HGetAll(ctx, statsKey(id)).Result()
	if err != nil {
		return models.Rule{}, utils.NewStoreError("get rule", "read statistics", err)
	}
	overlayStatistics(&rule, values)
	return rule, nil
}

// SaveRule delegates to the backend and returns the saved rule with counters.
func (r *RedisStatistics) SaveRule(ctx context.Context, rule models.Rule) (models.Rule, error) {
	saved, err := r.backend.SaveRule(ctx, rule)
	if err != nil {
		return models.Rule{}, err
	}
	values, err := r.client.HGetAll(ctx, statsKey(saved.ID)).Result()
	if err != nil {
		return models.Rule{}, utils.NewStoreError("save rule", "read statistics", err)
	}
	overlayStatistics(&saved, values)
	return saved, nil
}

// DeleteRule removes the rule, its counters and its application history.
func (r *RedisStatistics) DeleteRule(ctx context.Context, id string) error {
	if err := r.backend.DeleteRule(ctx, id); err != nil {
		return err
	}
	if err := r.client.Del(ctx, statsKey(id), applicationsKey(id)).Err(); err != nil {
		r.logger.Warn("failed to drop rule statistics", slog.String("rule_id", id), slog.Any("error", err))
	}
	return nil
}

// SetRuleActive delegates to the backend and returns the rule with counters.
func (r *RedisStatistics) SetRuleActive(ctx context.Context, id string, active *bool) (models.Rule, error) {
	rule, err := r.backend.SetRuleActive(ctx, id, active)
	if err != nil {
		return models.Rule{}, err
	}
	values, err := r.client.HGetAll(ctx, statsKey(id)).Result()
	if err != nil {
		return models.Rule{}, utils.NewStoreError("set rule active", "read statistics", err)
	}
	overlayStatistics(&rule, values)
	return rule, nil
}

// IncrementRuleStatistics applies the whole batch with one script run. Deltas for
// rules the backend does not know are dropped, since their counters would never be
// read back.
func (r *RedisStatistics) IncrementRuleStatistics(ctx context.Context, deltas []models.StatisticsDelta) error {
	known, err := r.knownRules(ctx)
	if err != nil {
		return err
	}

	var (
		keys      []string
		args      = []any{int64(0)}
		triggered int64
	)
	for _, delta := range deltas {
		if _, ok := known[delta.RuleID]; !ok {
			continue
		}
		keys = append(keys, statsKey(delta.RuleID), applicationsKey(delta.RuleID))
		args = append(args, len(delta.EventIDs))
		for _, eventID := range delta.EventIDs {
			args = append(args, eventID)
		}
		if delta.TriggeredAt != nil && delta.TriggeredAt.UnixMilli() > triggered {
			triggered = delta.TriggeredAt.UTC().UnixMilli()
		}
	}
	if len(keys) == 0 {
		return nil
	}
	args[0] = triggered
	if err := applyScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return utils.NewStoreError("increment rule statistics", "run apply script", err)
	}
	return nil
}

// CreditFalsePositive credits eventID to every rule it was applied to, at most once
// per rule, with one script run.
func (r *RedisStatistics) CreditFalsePositive(ctx context.Context, eventID string) ([]string, error) {
	rules, err := r.backend.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	credited := make([]string, 0)
	if len(rules) == 0 {
		return credited, nil
	}

	keys := make([]string, 0, 2*len(rules))
	for _, rule := range rules {
		keys = append(keys, statsKey(rule.ID), applicationsKey(rule.ID))
	}
	positions, err := creditScript.Run(ctx, r.client, keys, eventID).Int64Slice()
	if err != nil {
		return nil, utils.NewStoreError("credit false positive", "run credit script", err)
	}
	for _, pos := range positions {
		if pos >= 1 && int(pos) <= len(rules) {
			credited = append(credited, rules[pos-1].ID)
		}
	}
	sort.Strings(credited)
	return credited, nil
}

func (r *RedisStatistics) knownRules(ctx context.Context) (map[string]struct{}, error) {
	rules, err := r.backend.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		known[rule.ID] = struct{}{}
	}
	return known, nil
}

func statsKey(id string) string {
	return statsKeyPrefix + id
}

func applicationsKey(id string) string {
	return applicationsKeyPrefix + id
}

func overlayStatistics(rule *models.Rule, values map[string]string) {
	if len(values) == 0 {
		return
	}
	stats := &rule.Statistics
	if v, err := strconv.ParseInt(values["processed"], 10, 64); err == nil {
		stats.TotalProcessed += v
	}
	if v, err := strconv.ParseInt(values["caught"], 10, 64); err == nil {
		stats.FalsePositivesCaught += v
	}
	stats.AccuracyRate = models.AccuracyRate(stats.FalsePositivesCaught, stats.TotalProcessed)
	if ms, err := strconv.ParseInt(values["last_triggered"], 10, 64); err == nil && ms > 0 {
		triggered := time.UnixMilli(ms).UTC()
		if stats.LastTriggered == nil || triggered.After(*stats.LastTriggered) {
			stats.LastTriggered = &triggered
		}
	}
}
