package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-pq/internal/engine"
	"github.com/miradorstack/mirador-pq/internal/metrics"
	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

// ClassifyRequest selects the events to classify: explicit ids win over the filter.
type ClassifyRequest struct {
	EventIDs []string
	Filter   models.EventFilter
}

// ReviewOutcome reports which rules a review credited.
type ReviewOutcome struct {
	EventID        string   `json:"eventId"`
	ConfirmedFalse bool     `json:"confirmedFalse"`
	CreditedRules  []string `json:"creditedRules"`
}

// RuleService manages rules and runs classification in test or apply mode.
// Classification never writes events.
type RuleService struct {
	logger  *slog.Logger
	rules   RuleStore
	events  EventStore
	now     func() time.Time
	tracker *operationTracker
}

// NewRuleService constructs the rule facade.
func NewRuleService(logger *slog.Logger, rules RuleStore, events EventStore) *RuleService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleService{
		logger:  logger,
		rules:   rules,
		events:  events,
		now:     time.Now,
		tracker: newOperationTracker(logger),
	}
}

// WithClock overrides the clock used for lastTriggered.
func (s *RuleService) WithClock(now func() time.Time) *RuleService {
	if now != nil {
		s.now = now
	}
	return s
}

// ListRules returns every rule by ascending priority.
func (s *RuleService) ListRules(ctx context.Context) ([]models.Rule, error) {
	return s.rules.ListRules(ctx)
}

// GetRule returns one rule.
func (s *RuleService) GetRule(ctx context.Context, id string) (models.Rule, error) {
	return s.rules.GetRule(ctx, id)
}

// CreateRule validates and stores a new rule, generating an id when none is given.
// Warnings flag valid but probably unintended rules.
func (s *RuleService) CreateRule(ctx context.Context, rule models.Rule) (models.Rule, []string, error) {
	rule.ID = strings.TrimSpace(rule.ID)
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	} else if _, err := s.rules.GetRule(ctx, rule.ID); err == nil {
		return models.Rule{}, nil, utils.NewConflictError("create rule", fmt.Sprintf("rule %s already exists", rule.ID), nil)
	} else if !errors.Is(err, utils.ErrNotFound) {
		return models.Rule{}, nil, err
	}
	return s.save(ctx, "create rule", rule)
}

// UpdateRule replaces the authored fields of an existing rule.
func (s *RuleService) UpdateRule(ctx context.Context, id string, rule models.Rule) (models.Rule, []string, error) {
	if _, err := s.rules.GetRule(ctx, id); err != nil {
		return models.Rule{}, nil, err
	}
	rule.ID = id
	return s.save(ctx, "update rule", rule)
}

func (s *RuleService) save(ctx context.Context, op string, rule models.Rule) (models.Rule, []string, error) {
	warnings, err := engine.ValidateRule(rule)
	if err != nil {
		return models.Rule{}, nil, err
	}
	saved, err := s.rules.SaveRule(ctx, rule)
	if err != nil {
		return models.Rule{}, nil, err
	}
	attrs := []any{slog.String("operation", op), slog.String("rule_id", saved.ID), slog.Bool("active", saved.IsActive)}
	if len(warnings) > 0 {
		attrs = append(attrs, slog.Any("warnings", warnings))
	}
	s.logger.Info("rule saved", attrs...)
	return saved, warnings, nil
}

// DeleteRule removes a rule.
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	if err := s.rules.DeleteRule(ctx, id); err != nil {
		return err
	}
	s.logger.Info("rule deleted", slog.String("rule_id", id))
	return nil
}

// ToggleRule sets isActive, or flips it when active is nil. Only the flag is written,
// so concurrent edits to other fields survive.
func (s *RuleService) ToggleRule(ctx context.Context, id string, active *bool) (models.Rule, error) {
	saved, err := s.rules.SetRuleActive(ctx, id, active)
	if err != nil {
		return models.Rule{}, err
	}
	s.logger.Info("rule toggled", slog.String("rule_id", id), slog.Bool("active", saved.IsActive))
	return saved, nil
}

// EvaluateRule reports whether rule matches event, ignoring isActive.
func (s *RuleService) EvaluateRule(rule models.Rule, event models.Event) bool {
	return engine.EvaluateRule(rule, event)
}

// SeedRules saves pack rules when the store holds no rules yet, generating ids for
// rules that have none. It returns how many rules were written.
func (s *RuleService) SeedRules(ctx context.Context, pack []models.Rule) (int, error) {
	if len(pack) == 0 {
		return 0, nil
	}
	existing, err := s.rules.ListRules(ctx)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		s.logger.Debug("rule store already populated; seed skipped", slog.Int("rules", len(existing)))
		return 0, nil
	}
	for _, rule := range pack {
		rule.ID = strings.TrimSpace(rule.ID)
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		if _, _, err := s.save(ctx, "seed rule", rule); err != nil {
			return 0, fmt.Errorf("seed rule %s: %w", rule.ID, err)
		}
	}
	return len(pack), nil
}

// TestRules classifies the selected events without touching any store.
func (s *RuleService) TestRules(ctx context.Context, req ClassifyRequest) ([]models.ClassificationResult, error) {
	defer s.tracker.observe("classify_test", time.Now())

	results, err := s.classify(ctx, req)
	if err != nil {
		return nil, err
	}
	metrics.ObserveClassification(metrics.ModeTest, len(results), nil)
	return results, nil
}

// ApplyRules classifies the selected events and records the triggered (rule, event)
// pairs as one statistics batch. Events themselves are never written. Re-applying an
// event a rule already flagged does not count it again.
func (s *RuleService) ApplyRules(ctx context.Context, req ClassifyRequest) ([]models.ClassificationResult, error) {
	defer s.tracker.observe("classify_apply", time.Now())

	results, err := s.classify(ctx, req)
	if err != nil {
		return nil, err
	}
	counts := engine.TriggerCounts(results)
	if deltas := engine.StatisticsDeltas(results, s.now().UTC()); len(deltas) > 0 {
		if err := s.rules.IncrementRuleStatistics(ctx, deltas); err != nil {
			return nil, err
		}
	}

	flagged := 0
	for _, result := range results {
		if result.Triggered() {
			flagged++
		}
	}
	metrics.ObserveClassification(metrics.ModeApply, len(results), counts)
	s.logger.Info("rules applied",
		slog.Int("events", len(results)),
		slog.Int("events_triggered", flagged),
		slog.Int("rules_triggered", len(counts)),
	)
	return results, nil
}

// RecordReview records operator ground truth for one event. When the event is
// confirmed false, each rule that was applied to it is credited with one catch.
// Repeating a review credits nothing new.
func (s *RuleService) RecordReview(ctx context.Context, eventID string, confirmedFalse bool) (ReviewOutcome, error) {
	defer s.tracker.observe("record_review", time.Now())

	outcome := ReviewOutcome{EventID: eventID, ConfirmedFalse: confirmedFalse, CreditedRules: []string{}}
	if _, err := s.events.GetEvent(ctx, eventID); err != nil {
		return ReviewOutcome{}, err
	}
	if !confirmedFalse {
		return outcome, nil
	}

	credited, err := s.rules.CreditFalsePositive(ctx, eventID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	outcome.CreditedRules = append(outcome.CreditedRules, credited...)
	if len(credited) > 0 {
		s.logger.Info("review credited", slog.String("event_id", eventID), slog.Any("rules", credited))
	}
	return outcome, nil
}

func (s *RuleService) classify(ctx context.Context, req ClassifyRequest) ([]models.ClassificationResult, error) {
	var (
		events []models.Event
		err    error
	)
	if ids := normaliseIDs(req.EventIDs); len(ids) > 0 {
		events, err = fetchEvents(ctx, s.events, "classify events", ids)
	} else {
		events, err = s.events.ListEvents(ctx, req.Filter)
	}
	if err != nil {
		return nil, err
	}
	rules, err := s.rules.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	return engine.ClassifyAll(events, rules), nil
}

// LatencyP95 returns the rolling p95 latency of a rule operation.
func (s *RuleService) LatencyP95(op string) time.Duration {
	return s.tracker.P95(op)
}
