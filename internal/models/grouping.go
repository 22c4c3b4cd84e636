package models

import "time"

// GroupCheck is the outcome of a groupability check.
type GroupCheck struct {
	CanGroup bool   `json:"canGroup"`
	Reason   string `json:"reason,omitempty"`
}

// GroupingResult describes one committed mother/child group.
type GroupingResult struct {
	MotherEventID string       `json:"motherEventId"`
	ChildEventIDs []string     `json:"childEventIds"`
	GroupingType  GroupingType `json:"groupingType"`
	GroupedAt     time.Time    `json:"groupedAt"`
}

// GroupingPlan pairs a result with the batch that realises it.
type GroupingPlan struct {
	Result  GroupingResult
	Updates []EventUpdate
}
