package repo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

var baseTime = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

func sampleEvent(id string, offset time.Duration, substation string) models.Event {
	return models.Event{
		ID:             id,
		Timestamp:      baseTime.Add(offset),
		SubstationID:   substation,
		CircuitID:      substation + "-c1",
		MeterID:        "m-" + id,
		EventType:      "voltage_sag",
		Severity:       "minor",
		DurationMs:     ptr(40.0),
		Magnitude:      ptr(0.82),
		AffectedPhases: []string{"A", "B"},
		GroupingState:  models.Standalone(),
	}
}

type eventStore interface {
	InsertEvents(ctx context.Context, events []models.Event) error
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	GetEvent(ctx context.Context, id string) (models.Event, error)
	BatchUpdateEvents(ctx context.Context, updates []models.EventUpdate) error
}

func groupUpdates(mother string, children ...string) []models.EventUpdate {
	groupedAt := baseTime.Add(time.Hour)
	updates := []models.EventUpdate{{
		ID:       mother,
		Expected: models.Standalone(),
		Fields: models.GroupingState{
			IsMotherEvent: true,
			GroupingType:  models.GroupingManual,
			GroupedAt:     &groupedAt,
		},
	}}
	for _, child := range children {
		updates = append(updates, models.EventUpdate{
			ID:       child,
			Expected: models.Standalone(),
			Fields: models.GroupingState{
				ParentEventID: ptr(mother),
				IsChildEvent:  true,
				GroupingType:  models.GroupingManual,
				GroupedAt:     &groupedAt,
			},
		})
	}
	return updates
}

func runEventStoreContract(t *testing.T, store eventStore) {
	ctx := context.Background()
	require.NoError(t, store.InsertEvents(ctx, []models.Event{
		sampleEvent("e3", 2*time.Minute, "S1"),
		sampleEvent("e1", 0, "S1"),
		sampleEvent("e2", time.Minute, "S1"),
		sampleEvent("e4", 0, "S2"),
	}))

	t.Run("list orders by time then id", func(t *testing.T) {
		events, err := store.ListEvents(ctx, models.EventFilter{})
		require.NoError(t, err)
		ids := make([]string, len(events))
		for i, e := range events {
			ids[i] = e.ID
		}
		assert.Equal(t, []string{"e1", "e4", "e2", "e3"}, ids)
	})

	t.Run("filters", func(t *testing.T) {
		events, err := store.ListEvents(ctx, models.EventFilter{
			SubstationID: "S1",
			TimeRange:    models.TimeRange{Start: baseTime, End: baseTime.Add(2 * time.Minute)},
		})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "e1", events[0].ID)
		assert.Equal(t, "e2", events[1].ID)

		byID, err := store.ListEvents(ctx, models.EventFilter{IDs: []string{"e3", "e4"}})
		require.NoError(t, err)
		assert.Len(t, byID, 2)
	})

	t.Run("round trips fields", func(t *testing.T) {
		event, err := store.GetEvent(ctx, "e2")
		require.NoError(t, err)
		assert.True(t, event.Timestamp.Equal(baseTime.Add(time.Minute)))
		require.NotNil(t, event.DurationMs)
		assert.InDelta(t, 40.0, *event.DurationMs, 1e-9)
		assert.Nil(t, event.RemainingVoltagePct)
		assert.Equal(t, []string{"A", "B"}, event.AffectedPhases)
		assert.Equal(t, models.GroupingNone, event.GroupingType)
		assert.False(t, event.IsGrouped())
	})

	t.Run("missing event", func(t *testing.T) {
		_, err := store.GetEvent(ctx, "nope")
		assert.ErrorIs(t, err, utils.ErrNotFound)
	})

	t.Run("batch applies all updates", func(t *testing.T) {
		require.NoError(t, store.BatchUpdateEvents(ctx, groupUpdates("e1", "e2")))

		mother, err := store.GetEvent(ctx, "e1")
		require.NoError(t, err)
		assert.True(t, mother.IsMotherEvent)
		assert.Equal(t, models.GroupingManual, mother.GroupingType)
		require.NotNil(t, mother.GroupedAt)

		children, err := store.ListEvents(ctx, models.EventFilter{ParentEventID: "e1"})
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, "e2", children[0].ID)
		assert.True(t, children[0].IsChildEvent)

		ungrouped, err := store.ListEvents(ctx, models.EventFilter{OnlyUngrouped: true})
		require.NoError(t, err)
		assert.Len(t, ungrouped, 2)
	})

	t.Run("stale expectation rejects whole batch", func(t *testing.T) {
		// e2 is already a child of e1, so this plan is stale.
		err := store.BatchUpdateEvents(ctx, groupUpdates("e3", "e2"))
		assert.ErrorIs(t, err, utils.ErrConflict)

		e3, err := store.GetEvent(ctx, "e3")
		require.NoError(t, err)
		assert.False(t, e3.IsGrouped())
	})

	t.Run("unknown id rejects whole batch", func(t *testing.T) {
		err := store.BatchUpdateEvents(ctx, groupUpdates("e3", "ghost"))
		assert.ErrorIs(t, err, utils.ErrNotFound)

		e3, err := store.GetEvent(ctx, "e3")
		require.NoError(t, err)
		assert.False(t, e3.IsGrouped())
	})

	t.Run("child count is checked before any row is written", func(t *testing.T) {
		mother, err := store.GetEvent(ctx, "e1")
		require.NoError(t, err)
		child, err := store.GetEvent(ctx, "e2")
		require.NoError(t, err)

		// Planned as if e1 still had two children: release e2 and keep e1 a mother.
		stale := 2
		err = store.BatchUpdateEvents(ctx, []models.EventUpdate{
			{ID: "e2", Expected: child.GroupingState, Fields: models.Standalone()},
			{ID: "e1", Expected: mother.GroupingState, Fields: mother.GroupingState, ExpectedChildren: &stale},
		})
		assert.ErrorIs(t, err, utils.ErrConflict)

		child, err = store.GetEvent(ctx, "e2")
		require.NoError(t, err)
		assert.Equal(t, "e1", child.ParentID())

		current := 1
		require.NoError(t, store.BatchUpdateEvents(ctx, []models.EventUpdate{
			{ID: "e1", Expected: mother.GroupingState, Fields: mother.GroupingState, ExpectedChildren: &current},
		}))
	})

	t.Run("re-import keeps grouping and ignores grouping fields", func(t *testing.T) {
		redelivered := sampleEvent("e1", 0, "S1")
		redelivered.Severity = "major"
		injected := sampleEvent("e5", 3*time.Minute, "S1")
		injected.ParentEventID = ptr("e2")
		injected.IsChildEvent = true
		injected.GroupingType = models.GroupingManual
		require.NoError(t, store.InsertEvents(ctx, []models.Event{redelivered, injected}))

		mother, err := store.GetEvent(ctx, "e1")
		require.NoError(t, err)
		assert.Equal(t, "major", mother.Severity)
		assert.True(t, mother.IsMotherEvent)
		assert.Equal(t, models.GroupingManual, mother.GroupingType)

		children, err := store.ListEvents(ctx, models.EventFilter{ParentEventID: "e1"})
		require.NoError(t, err)
		assert.Len(t, children, 1)

		e5, err := store.GetEvent(ctx, "e5")
		require.NoError(t, err)
		assert.Equal(t, models.Standalone(), e5.GroupingState)
	})

	t.Run("zero timestamp rejects whole import", func(t *testing.T) {
		undated := sampleEvent("e6", 0, "S1")
		undated.Timestamp = time.Time{}
		err := store.InsertEvents(ctx, []models.Event{sampleEvent("e7", 0, "S1"), undated})
		assert.ErrorIs(t, err, utils.ErrValidation)

		_, err = store.GetEvent(ctx, "e7")
		assert.ErrorIs(t, err, utils.ErrNotFound)
	})
}

func runRuleStoreContract(t *testing.T, store RuleBackend) {
	ctx := context.Background()

	saved, err := store.SaveRule(ctx, models.Rule{
		ID:       "short",
		Name:     "Short sags",
		IsActive: true,
		Priority: 2,
		Conditions: models.RuleConditions{
			MaxDuration:       ptr(50.0),
			AllowedEventTypes: []string{"voltage_sag"},
			ExcludedHours:     []int{0, 1},
		},
		Actions: models.RuleActions{AutoMark: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "short", saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	_, err = store.SaveRule(ctx, models.Rule{ID: "first", Name: "First", Priority: 1})
	require.NoError(t, err)

	rules, err := store.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "first", rules[0].ID)
	assert.Equal(t, "short", rules[1].ID)
	require.NotNil(t, rules[1].Conditions.MaxDuration)
	assert.InDelta(t, 50.0, *rules[1].Conditions.MaxDuration, 1e-9)
	assert.Equal(t, []int{0, 1}, rules[1].Conditions.ExcludedHours)

	early := baseTime
	late := baseTime.Add(time.Hour)
	require.NoError(t, store.IncrementRuleStatistics(ctx, []models.StatisticsDelta{
		{RuleID: "short", EventIDs: []string{"e1", "e2", "e3"}, TriggeredAt: &late},
		{RuleID: "ghost", EventIDs: []string{"e1"}, TriggeredAt: &late},
	}))
	// e1 was already counted; only e4 is new, and the older trigger time is ignored.
	require.NoError(t, store.IncrementRuleStatistics(ctx, []models.StatisticsDelta{
		{RuleID: "short", EventIDs: []string{"e1", "e4"}, TriggeredAt: &early},
	}))

	credited, err := store.CreditFalsePositive(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, credited)
	credited, err = store.CreditFalsePositive(ctx, "e1")
	require.NoError(t, err)
	assert.Empty(t, credited)
	credited, err = store.CreditFalsePositive(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, credited)
	credited, err = store.CreditFalsePositive(ctx, "never-applied")
	require.NoError(t, err)
	assert.Empty(t, credited)

	rule, err := store.GetRule(ctx, "short")
	require.NoError(t, err)
	assert.EqualValues(t, 4, rule.Statistics.TotalProcessed)
	assert.EqualValues(t, 2, rule.Statistics.FalsePositivesCaught)
	assert.InDelta(t, 0.5, rule.Statistics.AccuracyRate, 1e-9)
	require.NotNil(t, rule.Statistics.LastTriggered)
	assert.True(t, rule.Statistics.LastTriggered.Equal(late))

	first, err := store.GetRule(ctx, "first")
	require.NoError(t, err)
	assert.Zero(t, first.Statistics.TotalProcessed)

	// Re-saving authored fields keeps statistics.
	rule.Name = "Renamed"
	rule.Statistics = models.RuleStatistics{}
	resaved, err := store.SaveRule(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", resaved.Name)
	assert.EqualValues(t, 4, resaved.Statistics.TotalProcessed)

	toggled, err := store.SetRuleActive(ctx, "short", nil)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)
	assert.Equal(t, "Renamed", toggled.Name)
	assert.EqualValues(t, 4, toggled.Statistics.TotalProcessed)
	toggled, err = store.SetRuleActive(ctx, "short", ptr(true))
	require.NoError(t, err)
	assert.True(t, toggled.IsActive)
	toggled, err = store.SetRuleActive(ctx, "short", ptr(true))
	require.NoError(t, err)
	assert.True(t, toggled.IsActive)
	_, err = store.SetRuleActive(ctx, "ghost", nil)
	assert.ErrorIs(t, err, utils.ErrNotFound)

	require.NoError(t, store.DeleteRule(ctx, "short"))
	_, err = store.GetRule(ctx, "short")
	assert.ErrorIs(t, err, utils.ErrNotFound)
	assert.ErrorIs(t, store.DeleteRule(ctx, "short"), utils.ErrNotFound)

	// A rule re-created under the same id starts without history.
	_, err = store.SaveRule(ctx, models.Rule{ID: "short", Name: "Again", IsActive: true})
	require.NoError(t, err)
	require.NoError(t, store.IncrementRuleStatistics(ctx, []models.StatisticsDelta{{RuleID: "short", EventIDs: []string{"e1"}}}))
	rule, err = store.GetRule(ctx, "short")
	require.NoError(t, err)
	assert.EqualValues(t, 1, rule.Statistics.TotalProcessed)
	assert.Zero(t, rule.Statistics.FalsePositivesCaught)
	credited, err = store.CreditFalsePositive(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, credited)
}
