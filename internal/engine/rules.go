package engine

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-pq/internal/models"
)

// EvaluateRule reports whether every condition specified on rule holds for event.
// A rule without conditions matches everything. Conditions that reference an absent
// event field are not satisfied, and impossible bounds simply never match.
func EvaluateRule(rule models.Rule, event models.Event) bool {
	c := rule.Conditions

	if c.MinDuration != nil || c.MaxDuration != nil {
		if event.DurationMs == nil || !within(*event.DurationMs, c.MinDuration, c.MaxDuration) {
			return false
		}
	}
	if c.MinMagnitude != nil || c.MaxMagnitude != nil {
		if event.Magnitude == nil || !within(*event.Magnitude, c.MinMagnitude, c.MaxMagnitude) {
			return false
		}
	}
	if len(c.AllowedEventTypes) > 0 {
		if event.EventType == "" || !contains(c.AllowedEventTypes, event.EventType) {
			return false
		}
	}
	if len(c.ExcludedEventTypes) > 0 {
		if event.EventType == "" || contains(c.ExcludedEventTypes, event.EventType) {
			return false
		}
	}
	if c.RequiresExternalValidation && !event.ValidatedExternally {
		return false
	}
	if len(c.ExcludedSubstations) > 0 {
		if event.SubstationID == "" || contains(c.ExcludedSubstations, event.SubstationID) {
			return false
		}
	}
	if len(c.ExcludedCircuits) > 0 {
		if event.CircuitID == "" || contains(c.ExcludedCircuits, event.CircuitID) {
			return false
		}
	}
	if len(c.ExcludedHours) > 0 {
		if event.Timestamp.IsZero() {
			return false
		}
		hour := event.Timestamp.UTC().Hour()
		for _, excluded := range c.ExcludedHours {
			if excluded == hour {
				return false
			}
		}
	}
	return true
}

// Classify evaluates the active rules against event. Action flags are OR-ed across
// every triggered rule, so input order never changes them; triggered ids are listed
// by ascending priority, then id.
func Classify(event models.Event, rules []models.Rule) models.ClassificationResult {
	result := models.ClassificationResult{EventID: event.ID, TriggeredRuleIDs: []string{}}

	triggered := make([]models.Rule, 0)
	for _, rule := range rules {
		if !rule.IsActive || !EvaluateRule(rule, event) {
			continue
		}
		triggered = append(triggered, rule)
		result.WouldMarkFalse = result.WouldMarkFalse || rule.Actions.AutoMark
		result.WouldHide = result.WouldHide || rule.Actions.AutoHide
		result.RequiresReview = result.RequiresReview || rule.Actions.RequireReview
		result.NotifyOperator = result.NotifyOperator || rule.Actions.NotifyOperator
	}

	SortByPriority(triggered)
	for _, rule := range triggered {
		result.TriggeredRuleIDs = append(result.TriggeredRuleIDs, rule.ID)
	}
	return result
}

// ClassifyAll classifies every event without side effects.
func ClassifyAll(events []models.Event, rules []models.Rule) []models.ClassificationResult {
	results := make([]models.ClassificationResult, 0, len(events))
	for _, event := range events {
		results = append(results, Classify(event, rules))
	}
	return results
}

// TriggerCounts tallies how many results each rule triggered in.
func TriggerCounts(results []models.ClassificationResult) map[string]int {
	counts := make(map[string]int)
	for _, result := range results {
		for _, id := range result.TriggeredRuleIDs {
			counts[id]++
		}
	}
	return counts
}

// StatisticsDeltas lists, per triggered rule, the events it flagged. Deltas are
// ordered by rule id and event ids keep result order.
func StatisticsDeltas(results []models.ClassificationResult, triggeredAt time.Time) []models.StatisticsDelta {
	byRule := make(map[string][]string)
	for _, result := range results {
		for _, id := range result.TriggeredRuleIDs {
			byRule[id] = append(byRule[id], result.EventID)
		}
	}
	deltas := make([]models.StatisticsDelta, 0, len(byRule))
	for id, events := range byRule {
		at := triggeredAt
		deltas = append(deltas, models.StatisticsDelta{RuleID: id, EventIDs: events, TriggeredAt: &at})
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i].RuleID < deltas[j].RuleID })
	return deltas
}

// SortByPriority orders rules by ascending priority, then id.
func SortByPriority(rules []models.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

func within(value float64, min, max *float64) bool {
	if min != nil && value < *min {
		return false
	}
	if max != nil && value > *max {
		return false
	}
	return true
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
