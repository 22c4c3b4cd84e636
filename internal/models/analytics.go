package models

import "time"

// AnalyticsSnapshot summarises classification output over a time range.
type AnalyticsSnapshot struct {
	TimeRange       TimeRange            `json:"timeRange"`
	TotalEvents     int                  `json:"totalEvents"`
	FlaggedEvents   int                  `json:"flaggedEvents"`
	FlaggedRate     float64              `json:"flaggedRate"`
	ConfirmedFalse  int                  `json:"confirmedFalse"`
	Agreement       float64              `json:"agreement"`
	RulePerformance []RulePerformance    `json:"rulePerformance"`
	DailyTrend      []TrendPoint         `json:"dailyTrend"`
	ByEventType     []EventTypeBreakdown `json:"byEventType"`
}

// RulePerformance ranks a rule by how often it triggered.
type RulePerformance struct {
	RuleID         string  `json:"ruleId"`
	Name           string  `json:"name"`
	TriggeredCount int     `json:"triggeredCount"`
	Accuracy       float64 `json:"accuracy"`
}

// TrendPoint is one UTC day of the flagged-rate trend.
type TrendPoint struct {
	Day     time.Time `json:"day"`
	Total   int       `json:"total"`
	Flagged int       `json:"flagged"`
	Rate    float64   `json:"rate"`
}

// EventTypeBreakdown is the false-positive breakdown for one event type.
type EventTypeBreakdown struct {
	EventType      string  `json:"eventType"`
	Total          int     `json:"total"`
	Flagged        int     `json:"flagged"`
	ConfirmedFalse int     `json:"confirmedFalse"`
	Rate           float64 `json:"rate"`
}

// RuleSuggestion is a mined candidate rule awaiting operator review.
type RuleSuggestion struct {
	EventType string  `json:"eventType"`
	Samples   int     `json:"samples"`
	Support   float64 `json:"support"`
	Rule      Rule    `json:"rule"`
}
