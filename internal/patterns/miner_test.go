package patterns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pq/internal/engine"
	"github.com/miradorstack/mirador-pq/internal/models"
)

func falseSag(id string, duration float64) models.Event {
	d := duration
	return models.Event{
		ID:         id,
		Timestamp:  time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC),
		EventType:  "Voltage Sag",
		DurationMs: &d,
		FalseEvent: true,
	}
}

func TestMinerSuggestsDurationCeiling(t *testing.T) {
	events := []models.Event{}
	for i, d := range []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} {
		events = append(events, falseSag(string(rune('a'+i)), d))
	}
	events = append(events, models.Event{ID: "real", EventType: "Voltage Sag"})

	suggestions := NewMiner(nil, 5).Suggest(events)
	require.Len(t, suggestions, 1)

	s := suggestions[0]
	assert.Equal(t, "Voltage Sag", s.EventType)
	assert.Equal(t, 10, s.Samples)
	assert.InDelta(t, 10.0/11.0, s.Support, 1e-9)
	assert.Equal(t, "suggested-voltage-sag", s.Rule.ID)
	assert.False(t, s.Rule.IsActive)
	require.NotNil(t, s.Rule.Conditions.MaxDuration)
	assert.InDelta(t, 90, *s.Rule.Conditions.MaxDuration, 1e-9)

	// The proposal flags the samples it was mined from up to the ceiling.
	s.Rule.IsActive = true
	assert.True(t, engine.EvaluateRule(s.Rule, events[8]))
	assert.False(t, engine.EvaluateRule(s.Rule, events[9]))
}

func TestMinerSkipsTypesWithFewSamples(t *testing.T) {
	events := []models.Event{falseSag("a", 10), falseSag("b", 20)}
	assert.Empty(t, NewMiner(nil, 5).Suggest(events))
	assert.Len(t, NewMiner(nil, 2).Suggest(events), 1)
}

func TestMinerIgnoresEventsWithoutDuration(t *testing.T) {
	events := []models.Event{
		{ID: "a", EventType: "swell", FalseEvent: true},
		{ID: "b", EventType: "swell", FalseEvent: true},
	}
	assert.Empty(t, NewMiner(nil, 1).Suggest(events))
	assert.Nil(t, NewMiner(nil, 1).Suggest(nil))
}

func TestPercentileNearestRank(t *testing.T) {
	assert.InDelta(t, 3, percentile([]float64{5, 1, 3, 2, 4}, 50), 1e-9)
	assert.InDelta(t, 5, percentile([]float64{5, 1, 3, 2, 4}, 100), 1e-9)
	assert.InDelta(t, 1, percentile([]float64{5, 1, 3, 2, 4}, 0), 1e-9)
}
