package models

import "time"

// Rule is a user-authored filter that flags likely false events.
type Rule struct {
	ID          string         `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name" validate:"required,max=200"`
	Description string         `json:"description" yaml:"description" validate:"max=2000"`
	IsActive    bool           `json:"isActive" yaml:"isActive"`
	Priority    int            `json:"priority" yaml:"priority" validate:"gte=0"`
	Conditions  RuleConditions `json:"conditions" yaml:"conditions"`
	Actions     RuleActions    `json:"actions" yaml:"actions"`
	Statistics  RuleStatistics `json:"statistics" yaml:"-"`
	CreatedAt   time.Time      `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time      `json:"updatedAt" yaml:"-"`
}

// RuleConditions is a sparse set of bounds. Nil or empty fields are "don't care".
type RuleConditions struct {
	MinDuration                *float64 `json:"minDuration,omitempty" yaml:"minDuration,omitempty" validate:"omitempty,gte=0"`
	MaxDuration                *float64 `json:"maxDuration,omitempty" yaml:"maxDuration,omitempty" validate:"omitempty,gte=0"`
	MinMagnitude               *float64 `json:"minMagnitude,omitempty" yaml:"minMagnitude,omitempty"`
	MaxMagnitude               *float64 `json:"maxMagnitude,omitempty" yaml:"maxMagnitude,omitempty"`
	AllowedEventTypes          []string `json:"allowedEventTypes,omitempty" yaml:"allowedEventTypes,omitempty" validate:"omitempty,dive,required"`
	ExcludedEventTypes         []string `json:"excludedEventTypes,omitempty" yaml:"excludedEventTypes,omitempty" validate:"omitempty,dive,required"`
	RequiresExternalValidation bool     `json:"requiresExternalValidation,omitempty" yaml:"requiresExternalValidation,omitempty"`
	ExcludedSubstations        []string `json:"excludedSubstations,omitempty" yaml:"excludedSubstations,omitempty" validate:"omitempty,dive,required"`
	ExcludedCircuits           []string `json:"excludedCircuits,omitempty" yaml:"excludedCircuits,omitempty" validate:"omitempty,dive,required"`
	// ExcludedHours are UTC hours of day (0-23) during which the rule never matches.
	ExcludedHours []int `json:"excludedHours,omitempty" yaml:"excludedHours,omitempty" validate:"omitempty,dive,gte=0,lte=23"`
}

// IsEmpty reports whether no condition is specified.
func (c RuleConditions) IsEmpty() bool {
	return c.MinDuration == nil && c.MaxDuration == nil &&
		c.MinMagnitude == nil && c.MaxMagnitude == nil &&
		len(c.AllowedEventTypes) == 0 && len(c.ExcludedEventTypes) == 0 &&
		!c.RequiresExternalValidation &&
		len(c.ExcludedSubstations) == 0 && len(c.ExcludedCircuits) == 0 &&
		len(c.ExcludedHours) == 0
}

// RuleActions are the effects a triggered rule requests.
type RuleActions struct {
	AutoMark       bool `json:"autoMark" yaml:"autoMark"`
	AutoHide       bool `json:"autoHide" yaml:"autoHide"`
	RequireReview  bool `json:"requireReview" yaml:"requireReview"`
	NotifyOperator bool `json:"notifyOperator" yaml:"notifyOperator"`
}

// RuleStatistics are maintained by engine bookkeeping only.
type RuleStatistics struct {
	TotalProcessed       int64      `json:"totalProcessed"`
	FalsePositivesCaught int64      `json:"falsePositivesCaught"`
	AccuracyRate         float64    `json:"accuracyRate"`
	LastTriggered        *time.Time `json:"lastTriggered,omitempty"`
}

// StatisticsDelta is one rule's share of an apply run. The Rule Store records each
// (rule, event) pair once, so TotalProcessed only grows for events the rule had not
// been applied to before. A batch of deltas is applied atomically.
type StatisticsDelta struct {
	RuleID      string
	EventIDs    []string
	TriggeredAt *time.Time
}

// AccuracyRate computes caught/processed, zero when nothing was processed.
func AccuracyRate(caught, processed int64) float64 {
	if processed <= 0 {
		return 0
	}
	return float64(caught) / float64(processed)
}

// ClassificationResult is the engine's verdict for one event.
type ClassificationResult struct {
	EventID          string   `json:"eventId"`
	TriggeredRuleIDs []string `json:"triggeredRuleIds"`
	WouldMarkFalse   bool     `json:"wouldMarkFalse"`
	WouldHide        bool     `json:"wouldHide"`
	RequiresReview   bool     `json:"requiresReview"`
	NotifyOperator   bool     `json:"notifyOperator"`
}

// Triggered reports whether any rule matched.
func (r ClassificationResult) Triggered() bool {
	return len(r.TriggeredRuleIDs) > 0
}
