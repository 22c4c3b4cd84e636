package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

func withDuration(ms float64) models.Event {
	e := event("e1", 0, "S1")
	e.DurationMs = ptr(ms)
	return e
}

func TestEvaluateRuleVacuousTruth(t *testing.T) {
	rule := models.Rule{ID: "catch-all", IsActive: true}
	assert.True(t, EvaluateRule(rule, models.Event{}))
	assert.True(t, EvaluateRule(rule, withDuration(10)))
}

func TestEvaluateRuleMaxDurationScenario(t *testing.T) {
	rule := models.Rule{
		ID:         "short",
		IsActive:   true,
		Conditions: models.RuleConditions{MaxDuration: ptr(50.0)},
		Actions:    models.RuleActions{AutoMark: true},
	}
	assert.True(t, EvaluateRule(rule, withDuration(40)))
	assert.False(t, EvaluateRule(rule, withDuration(60)))
	assert.False(t, EvaluateRule(rule, event("no-duration", 0, "S1")))
}

func TestEvaluateRuleConditions(t *testing.T) {
	base := withDuration(30)
	base.Magnitude = ptr(0.85)
	base.Timestamp = time.Date(2024, 3, 4, 2, 30, 0, 0, time.UTC)

	cases := []struct {
		name  string
		cond  models.RuleConditions
		event func(models.Event) models.Event
		want  bool
	}{
		{"duration bracket", models.RuleConditions{MinDuration: ptr(10.0), MaxDuration: ptr(40.0)}, nil, true},
		{"below min duration", models.RuleConditions{MinDuration: ptr(31.0)}, nil, false},
		{"magnitude bracket", models.RuleConditions{MinMagnitude: ptr(0.8), MaxMagnitude: ptr(0.9)}, nil, true},
		{"missing magnitude", models.RuleConditions{MaxMagnitude: ptr(0.9)}, func(e models.Event) models.Event { e.Magnitude = nil; return e }, false},
		{"allowed type", models.RuleConditions{AllowedEventTypes: []string{"dip", "swell"}}, nil, true},
		{"type not allowed", models.RuleConditions{AllowedEventTypes: []string{"swell"}}, nil, false},
		{"excluded type", models.RuleConditions{ExcludedEventTypes: []string{"dip"}}, nil, false},
		{"type not excluded", models.RuleConditions{ExcludedEventTypes: []string{"interruption"}}, nil, true},
		{"requires validation", models.RuleConditions{RequiresExternalValidation: true}, nil, false},
		{"validated", models.RuleConditions{RequiresExternalValidation: true}, func(e models.Event) models.Event { e.ValidatedExternally = true; return e }, true},
		{"excluded substation", models.RuleConditions{ExcludedSubstations: []string{"S1"}}, nil, false},
		{"excluded circuit", models.RuleConditions{ExcludedCircuits: []string{"C9"}}, nil, true},
		{"excluded hour", models.RuleConditions{ExcludedHours: []int{2}}, nil, false},
		{"other hour", models.RuleConditions{ExcludedHours: []int{3, 4}}, nil, true},
		{"impossible bounds", models.RuleConditions{MinDuration: ptr(100.0), MaxDuration: ptr(10.0)}, nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := base
			if tc.event != nil {
				e = tc.event(e)
			}
			rule := models.Rule{ID: "r", IsActive: true, Conditions: tc.cond}
			assert.Equal(t, tc.want, EvaluateRule(rule, e))
		})
	}
}

func TestClassifyOrAggregation(t *testing.T) {
	marker := models.Rule{
		ID: "marker", IsActive: true, Priority: 1,
		Conditions: models.RuleConditions{MaxDuration: ptr(50.0)},
		Actions:    models.RuleActions{AutoMark: true},
	}
	reviewer := models.Rule{
		ID: "reviewer", IsActive: true, Priority: 2,
		Conditions: models.RuleConditions{MinDuration: ptr(50.0)},
		Actions:    models.RuleActions{RequireReview: true},
	}

	long := withDuration(80)
	for _, rules := range [][]models.Rule{{marker, reviewer}, {reviewer, marker}} {
		result := Classify(long, rules)
		assert.False(t, result.WouldMarkFalse)
		assert.True(t, result.RequiresReview)
		assert.Equal(t, []string{"reviewer"}, result.TriggeredRuleIDs)
	}

	short := withDuration(20)
	for _, rules := range [][]models.Rule{{marker, reviewer}, {reviewer, marker}} {
		result := Classify(short, rules)
		assert.True(t, result.WouldMarkFalse)
		assert.False(t, result.RequiresReview)
	}
}

func TestClassifyReportsTriggeredRulesByPriority(t *testing.T) {
	rules := []models.Rule{
		{ID: "low", IsActive: true, Priority: 9, Actions: models.RuleActions{AutoHide: true}},
		{ID: "inactive", IsActive: false, Actions: models.RuleActions{AutoMark: true}},
		{ID: "high", IsActive: true, Priority: 1, Actions: models.RuleActions{NotifyOperator: true}},
	}
	result := Classify(withDuration(10), rules)
	assert.Equal(t, []string{"high", "low"}, result.TriggeredRuleIDs)
	assert.False(t, result.WouldMarkFalse)
	assert.True(t, result.WouldHide)
	assert.True(t, result.NotifyOperator)

	counts := TriggerCounts(ClassifyAll([]models.Event{withDuration(1), withDuration(2)}, rules))
	assert.Equal(t, map[string]int{"high": 2, "low": 2}, counts)
}

func TestStatisticsDeltas(t *testing.T) {
	at := baseTime.Add(time.Hour)
	results := []models.ClassificationResult{
		{EventID: "e1", TriggeredRuleIDs: []string{"b", "a"}},
		{EventID: "e2"},
		{EventID: "e3", TriggeredRuleIDs: []string{"a"}},
	}

	deltas := StatisticsDeltas(results, at)
	require.Len(t, deltas, 2)
	assert.Equal(t, "a", deltas[0].RuleID)
	assert.Equal(t, []string{"e1", "e3"}, deltas[0].EventIDs)
	assert.Equal(t, "b", deltas[1].RuleID)
	assert.Equal(t, []string{"e1"}, deltas[1].EventIDs)
	require.NotNil(t, deltas[1].TriggeredAt)
	assert.True(t, deltas[1].TriggeredAt.Equal(at))

	assert.Empty(t, StatisticsDeltas(results[1:2], at))
}

func TestValidateRule(t *testing.T) {
	warnings, err := ValidateRule(models.Rule{Name: "catch all"})
	require.NoError(t, err)
	assert.Equal(t, []string{WarningCatchAll}, warnings)

	warnings, err = ValidateRule(models.Rule{Name: "short", Conditions: models.RuleConditions{MaxDuration: ptr(50.0)}})
	require.NoError(t, err)
	assert.Empty(t, warnings)

	invalid := []models.Rule{
		{Name: ""},
		{Name: "bounds", Conditions: models.RuleConditions{MinDuration: ptr(60.0), MaxDuration: ptr(50.0)}},
		{Name: "magnitude", Conditions: models.RuleConditions{MinMagnitude: ptr(1.0), MaxMagnitude: ptr(0.5)}},
		{Name: "negative", Conditions: models.RuleConditions{MaxDuration: ptr(-1.0)}},
		{Name: "hours", Conditions: models.RuleConditions{ExcludedHours: []int{24}}},
		{Name: "types", Conditions: models.RuleConditions{AllowedEventTypes: []string{"dip"}, ExcludedEventTypes: []string{"dip"}}},
		{Name: "priority", Priority: -1},
	}
	for _, rule := range invalid {
		_, err := ValidateRule(rule)
		assert.ErrorIs(t, err, utils.ErrValidation, rule.Name)
	}
}
