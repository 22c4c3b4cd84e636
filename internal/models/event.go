package models

import "time"

// GroupingType records how an event joined its group.
type GroupingType string

const (
	GroupingNone      GroupingType = "none"
	GroupingManual    GroupingType = "manual"
	GroupingAutomatic GroupingType = "automatic"
)

// Event is a power-quality disturbance reported by a field meter.
type Event struct {
	ID                  string    `json:"id"`
	Timestamp           time.Time `json:"timestamp"`
	SubstationID        string    `json:"substationId"`
	CircuitID           string    `json:"circuitId"`
	MeterID             string    `json:"meterId"`
	EventType           string    `json:"eventType"`
	Severity            string    `json:"severity"`
	DurationMs          *float64  `json:"durationMs,omitempty"`
	Magnitude           *float64  `json:"magnitude,omitempty"`
	RemainingVoltagePct *float64  `json:"remainingVoltagePct,omitempty"`
	AffectedPhases      []string  `json:"affectedPhases,omitempty"`

	GroupingState

	FalseEvent          bool `json:"falseEvent"`
	ValidatedExternally bool `json:"validatedExternally"`
}

// GroupingState holds the mother/child fields of an event.
type GroupingState struct {
	ParentEventID *string      `json:"parentEventId,omitempty"`
	IsMotherEvent bool         `json:"isMotherEvent"`
	IsChildEvent  bool         `json:"isChildEvent"`
	GroupingType  GroupingType `json:"groupingType"`
	GroupedAt     *time.Time   `json:"groupedAt,omitempty"`
}

// IsGrouped reports whether the event is already a mother or a child.
func (s GroupingState) IsGrouped() bool {
	return s.ParentEventID != nil || s.IsMotherEvent
}

// ParentID returns the parent id or "" for roots.
func (s GroupingState) ParentID() string {
	if s.ParentEventID == nil {
		return ""
	}
	return *s.ParentEventID
}

// SameGrouping compares the fields that define group membership.
func (s GroupingState) SameGrouping(other GroupingState) bool {
	return s.ParentID() == other.ParentID() && s.IsMotherEvent == other.IsMotherEvent
}

// Standalone is the grouping state of an event outside any group.
func Standalone() GroupingState {
	return GroupingState{GroupingType: GroupingNone}
}

// EventTreeNode is one node of the display forest built from parent references.
type EventTreeNode struct {
	Event    Event            `json:"event"`
	Children []*EventTreeNode `json:"children"`
}

// EventUpdate is one row of an atomic batch write. Expected is the grouping state the
// change was planned against; stores reject the whole batch when it no longer matches.
// ExpectedChildren, when set, must equal the number of events whose parent is ID
// before any row of the batch is written.
type EventUpdate struct {
	ID               string        `json:"id"`
	Expected         GroupingState `json:"expected"`
	Fields           GroupingState `json:"fields"`
	ExpectedChildren *int          `json:"expectedChildren,omitempty"`
}

// EventFilter narrows ListEvents. Zero values mean "any".
type EventFilter struct {
	IDs           []string
	SubstationID  string
	ParentEventID string
	TimeRange     TimeRange
	OnlyUngrouped bool
}

// TimeRange bounds a query window as [Start, End). Zero bounds are open.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && !t.Before(r.End) {
		return false
	}
	return true
}

// Matches applies the filter to a single event.
func (f EventFilter) Matches(e Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, e.ID) {
		return false
	}
	if f.SubstationID != "" && f.SubstationID != e.SubstationID {
		return false
	}
	if f.ParentEventID != "" && f.ParentEventID != e.ParentID() {
		return false
	}
	if f.OnlyUngrouped && e.IsGrouped() {
		return false
	}
	return f.TimeRange.Contains(e.Timestamp)
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
