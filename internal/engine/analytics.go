package engine

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

// DefaultTopRules bounds RulePerformance when no limit is given.
const DefaultTopRules = 10

// MaxTrendDays bounds gap-filling. Wider spans list only the days that saw events.
const MaxTrendDays = 366

// SummaryOptions tunes Summarize.
type SummaryOptions struct {
	TopN int
}

// Summarize derives trend, accuracy and per-rule metrics. It never mutates its inputs.
// Results for events outside timeRange are ignored; events without a result count as
// not flagged.
func Summarize(events []models.Event, results []models.ClassificationResult, rules []models.Rule, timeRange models.TimeRange, opts SummaryOptions) models.AnalyticsSnapshot {
	topN := opts.TopN
	if topN <= 0 {
		topN = DefaultTopRules
	}

	byEvent := make(map[string]models.ClassificationResult, len(results))
	for _, result := range results {
		byEvent[result.EventID] = result
	}

	snapshot := models.AnalyticsSnapshot{
		TimeRange:       timeRange,
		RulePerformance: []models.RulePerformance{},
		DailyTrend:      []models.TrendPoint{},
		ByEventType:     []models.EventTypeBreakdown{},
	}

	daily := make(map[time.Time]*models.TrendPoint)
	types := make(map[string]*models.EventTypeBreakdown)
	triggers := make(map[string]int)
	agreed := 0
	var first, last time.Time

	for _, event := range events {
		if !timeRange.Contains(event.Timestamp) {
			continue
		}
		result := byEvent[event.ID]
		flagged := result.WouldMarkFalse

		snapshot.TotalEvents++
		if flagged {
			snapshot.FlaggedEvents++
		}
		if event.FalseEvent {
			snapshot.ConfirmedFalse++
		}
		if flagged == event.FalseEvent {
			agreed++
		}
		for _, id := range result.TriggeredRuleIDs {
			triggers[id]++
		}

		day := utils.DayStart(event.Timestamp)
		point, ok := daily[day]
		if !ok {
			point = &models.TrendPoint{Day: day}
			daily[day] = point
		}
		point.Total++
		if flagged {
			point.Flagged++
		}

		eventType := event.EventType
		if eventType == "" {
			eventType = "unknown"
		}
		breakdown, ok := types[eventType]
		if !ok {
			breakdown = &models.EventTypeBreakdown{EventType: eventType}
			types[eventType] = breakdown
		}
		breakdown.Total++
		if flagged {
			breakdown.Flagged++
		}
		if event.FalseEvent {
			breakdown.ConfirmedFalse++
		}

		if first.IsZero() || event.Timestamp.Before(first) {
			first = event.Timestamp
		}
		if event.Timestamp.After(last) {
			last = event.Timestamp
		}
	}

	snapshot.FlaggedRate = ratio(snapshot.FlaggedEvents, snapshot.TotalEvents)
	snapshot.Agreement = ratio(agreed, snapshot.TotalEvents)
	snapshot.RulePerformance = rankRules(rules, triggers, topN)
	snapshot.DailyTrend = trend(daily, timeRange, first, last)

	for _, breakdown := range types {
		breakdown.Rate = ratio(breakdown.Flagged, breakdown.Total)
		snapshot.ByEventType = append(snapshot.ByEventType, *breakdown)
	}
	sort.Slice(snapshot.ByEventType, func(i, j int) bool {
		a, b := snapshot.ByEventType[i], snapshot.ByEventType[j]
		if a.Flagged != b.Flagged {
			return a.Flagged > b.Flagged
		}
		return a.EventType < b.EventType
	})
	return snapshot
}

func rankRules(rules []models.Rule, triggers map[string]int, topN int) []models.RulePerformance {
	known := make(map[string]models.Rule, len(rules))
	for _, rule := range rules {
		known[rule.ID] = rule
	}

	ranked := make([]models.RulePerformance, 0, len(triggers))
	for id, count := range triggers {
		perf := models.RulePerformance{RuleID: id, TriggeredCount: count}
		if rule, ok := known[id]; ok {
			perf.Name = rule.Name
			perf.Accuracy = rule.Statistics.AccuracyRate
		}
		ranked = append(ranked, perf)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].TriggeredCount != ranked[j].TriggeredCount {
			return ranked[i].TriggeredCount > ranked[j].TriggeredCount
		}
		return ranked[i].RuleID < ranked[j].RuleID
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}

// trend gap-fills days across the requested range, or across the observed events when
// the range is open.
func trend(daily map[time.Time]*models.TrendPoint, timeRange models.TimeRange, first, last time.Time) []models.TrendPoint {
	start, end := timeRange.Start, timeRange.End
	if start.IsZero() {
		start = first
	}
	if end.IsZero() && !last.IsZero() {
		end = utils.DayStart(last).AddDate(0, 0, 1)
	}

	days := observedDays(daily)
	if !start.IsZero() && !end.IsZero() && end.Sub(utils.DayStart(start)) <= MaxTrendDays*24*time.Hour {
		days = utils.DaysBetween(start, end)
	}

	points := make([]models.TrendPoint, 0, len(days))
	for _, day := range days {
		point := models.TrendPoint{Day: day}
		if observed, ok := daily[day]; ok {
			point = *observed
		}
		point.Rate = ratio(point.Flagged, point.Total)
		points = append(points, point)
	}
	return points
}

func observedDays(daily map[time.Time]*models.TrendPoint) []time.Time {
	days := make([]time.Time, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

func ratio(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}
