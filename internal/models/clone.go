package models

import "time"

// Clone returns a deep copy so stores never share pointers with callers.
func (e Event) Clone() Event {
	out := e
	out.DurationMs = cloneFloat(e.DurationMs)
	out.Magnitude = cloneFloat(e.Magnitude)
	out.RemainingVoltagePct = cloneFloat(e.RemainingVoltagePct)
	if e.AffectedPhases != nil {
		out.AffectedPhases = append([]string(nil), e.AffectedPhases...)
	}
	out.GroupingState = e.GroupingState.Clone()
	return out
}

// Clone returns a deep copy of the grouping fields.
func (s GroupingState) Clone() GroupingState {
	out := s
	if s.ParentEventID != nil {
		parent := *s.ParentEventID
		out.ParentEventID = &parent
	}
	out.GroupedAt = cloneTime(s.GroupedAt)
	return out
}

// Clone returns a deep copy of the rule.
func (r Rule) Clone() Rule {
	out := r
	c := r.Conditions
	out.Conditions = RuleConditions{
		MinDuration:                cloneFloat(c.MinDuration),
		MaxDuration:                cloneFloat(c.MaxDuration),
		MinMagnitude:               cloneFloat(c.MinMagnitude),
		MaxMagnitude:               cloneFloat(c.MaxMagnitude),
		AllowedEventTypes:          cloneStrings(c.AllowedEventTypes),
		ExcludedEventTypes:         cloneStrings(c.ExcludedEventTypes),
		RequiresExternalValidation: c.RequiresExternalValidation,
		ExcludedSubstations:        cloneStrings(c.ExcludedSubstations),
		ExcludedCircuits:           cloneStrings(c.ExcludedCircuits),
	}
	if c.ExcludedHours != nil {
		out.Conditions.ExcludedHours = append([]int(nil), c.ExcludedHours...)
	}
	out.Statistics.LastTriggered = cloneTime(r.Statistics.LastTriggered)
	return out
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneStrings(v []string) []string {
	if v == nil {
		return nil
	}
	return append([]string(nil), v...)
}
