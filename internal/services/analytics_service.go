package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-pq/internal/engine"
	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/patterns"
)

// AnalyticsService classifies a time range on demand and summarises the result.
type AnalyticsService struct {
	logger  *slog.Logger
	events  EventStore
	rules   RuleStore
	miner   *patterns.Miner
	topN    int
	tracker *operationTracker
}

// NewAnalyticsService constructs the analytics facade. miner may be nil.
func NewAnalyticsService(logger *slog.Logger, events EventStore, rules RuleStore, miner *patterns.Miner, topN int) *AnalyticsService {
	if logger == nil {
		logger = slog.Default()
	}
	if miner == nil {
		miner = patterns.NewMiner(logger, 0)
	}
	return &AnalyticsService{
		logger:  logger,
		events:  events,
		rules:   rules,
		miner:   miner,
		topN:    topN,
		tracker: newOperationTracker(logger),
	}
}

// Summarize returns the analytics snapshot for timeRange.
func (s *AnalyticsService) Summarize(ctx context.Context, timeRange models.TimeRange) (models.AnalyticsSnapshot, error) {
	defer s.tracker.observe("summarize", time.Now())

	events, err := s.events.ListEvents(ctx, models.EventFilter{TimeRange: timeRange})
	if err != nil {
		return models.AnalyticsSnapshot{}, err
	}
	rules, err := s.rules.ListRules(ctx)
	if err != nil {
		return models.AnalyticsSnapshot{}, err
	}
	results := engine.ClassifyAll(events, rules)
	return engine.Summarize(events, results, rules, timeRange, engine.SummaryOptions{TopN: s.topN}), nil
}

// SuggestRules mines candidate rules from confirmed false events in timeRange.
func (s *AnalyticsService) SuggestRules(ctx context.Context, timeRange models.TimeRange) ([]models.RuleSuggestion, error) {
	defer s.tracker.observe("suggest_rules", time.Now())

	events, err := s.events.ListEvents(ctx, models.EventFilter{TimeRange: timeRange})
	if err != nil {
		return nil, err
	}
	suggestions := s.miner.Suggest(events)
	if suggestions == nil {
		suggestions = []models.RuleSuggestion{}
	}
	return suggestions, nil
}
