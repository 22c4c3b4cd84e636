package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/patterns"
)

func TestAnalyticsSummarizeClassifiesRange(t *testing.T) {
	ctx := context.Background()
	long := event("long", time.Hour, "S1")
	long.DurationMs = ptr(120.0)
	confirmed := event("confirmed", 2*time.Hour, "S1")
	confirmed.FalseEvent = true
	outside := event("outside", 72*time.Hour, "S1")

	store := seededStore(t, event("short", 0, "S1"), long, confirmed, outside)
	_, err := store.SaveRule(ctx, shortSagRule("r1", 1))
	require.NoError(t, err)

	svc := NewAnalyticsService(quietLogger(), store, store, nil, 5)
	snapshot, err := svc.Summarize(ctx, models.TimeRange{Start: baseTime, End: baseTime.Add(24 * time.Hour)})
	require.NoError(t, err)

	assert.Equal(t, 3, snapshot.TotalEvents)
	assert.Equal(t, 2, snapshot.FlaggedEvents)
	assert.Equal(t, 1, snapshot.ConfirmedFalse)
	require.Len(t, snapshot.RulePerformance, 1)
	assert.Equal(t, "r1", snapshot.RulePerformance[0].RuleID)
	assert.Equal(t, 2, snapshot.RulePerformance[0].TriggeredCount)
}

func TestAnalyticsSuggestRules(t *testing.T) {
	ctx := context.Background()
	events := make([]models.Event, 0, 6)
	for i := 0; i < 6; i++ {
		e := event(fmt.Sprintf("f%d", i), time.Duration(i)*time.Minute, "S1")
		e.DurationMs = ptr(float64(10 * (i + 1)))
		e.FalseEvent = true
		events = append(events, e)
	}
	store := seededStore(t, events...)

	svc := NewAnalyticsService(quietLogger(), store, store, patterns.NewMiner(quietLogger(), 5), 0)
	suggestions, err := svc.SuggestRules(ctx, models.TimeRange{})
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	assert.Equal(t, "voltage_sag", suggestions[0].EventType)

	rules, err := store.ListRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, rules)
}
