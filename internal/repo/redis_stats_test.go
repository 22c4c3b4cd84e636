package repo

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pq/internal/models"
)

func newTestRedisStats(t *testing.T) (*RedisStatistics, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), RedisOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStatistics(NewMemoryStore(), client, quietLogger()), mr
}

func TestRedisStatisticsRules(t *testing.T) {
	stats, _ := newTestRedisStats(t)
	runRuleStoreContract(t, stats)
}

func TestRedisStatisticsKeepsCountersInRedis(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStore()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	stats := NewRedisStatistics(backend, client, quietLogger())

	_, err := stats.SaveRule(ctx, models.Rule{ID: "r", Name: "r"})
	require.NoError(t, err)
	require.NoError(t, stats.IncrementRuleStatistics(ctx, []models.StatisticsDelta{
		{RuleID: "r", EventIDs: []string{"e1", "e2", "e3", "e4"}},
	}))
	credited, err := stats.CreditFalsePositive(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, credited)

	raw, err := backend.GetRule(ctx, "r")
	require.NoError(t, err)
	assert.Zero(t, raw.Statistics.TotalProcessed)
	assert.Equal(t, "4", mr.HGet(statsKey("r"), "processed"))
	assert.Equal(t, "1", mr.HGet(applicationsKey("r"), "e2"))
	assert.Equal(t, "0", mr.HGet(applicationsKey("r"), "e1"))

	rules, err := stats.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.EqualValues(t, 4, rules[0].Statistics.TotalProcessed)
	assert.InDelta(t, 0.25, rules[0].Statistics.AccuracyRate, 1e-9)

	require.NoError(t, stats.DeleteRule(ctx, "r"))
	assert.False(t, mr.Exists(statsKey("r")))
	assert.False(t, mr.Exists(applicationsKey("r")))
}

func TestRedisStatisticsSkipsUnknownRules(t *testing.T) {
	ctx := context.Background()
	stats, mr := newTestRedisStats(t)
	_, err := stats.SaveRule(ctx, models.Rule{ID: "r", Name: "r"})
	require.NoError(t, err)

	require.NoError(t, stats.IncrementRuleStatistics(ctx, []models.StatisticsDelta{
		{RuleID: "deleted", EventIDs: []string{"e1"}},
	}))
	assert.False(t, mr.Exists(statsKey("deleted")))

	credited, err := stats.CreditFalsePositive(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, credited)
}

func TestNewRedisClientFailsFast(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisOptions{})
	require.Error(t, err)
}
