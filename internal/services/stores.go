package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/miradorstack/mirador-pq/internal/metrics"
	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

// EventStore is the event persistence the services need. BatchUpdateEvents must be
// atomic and must reject the batch when an update's Expected state is stale.
type EventStore interface {
	ListEvents(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	GetEvent(ctx context.Context, id string) (models.Event, error)
	BatchUpdateEvents(ctx context.Context, updates []models.EventUpdate) error
}

// EventImporter accepts events from meter feeds.
type EventImporter interface {
	InsertEvents(ctx context.Context, events []models.Event) error
}

// RuleStore persists rules and their statistics. IncrementRuleStatistics applies a
// whole batch or nothing and counts each (rule, event) pair once, so a failed apply
// can be retried. CreditFalsePositive credits each rule applied to the event at most
// once.
type RuleStore interface {
	ListRules(ctx context.Context) ([]models.Rule, error)
	GetRule(ctx context.Context, id string) (models.Rule, error)
	SaveRule(ctx context.Context, rule models.Rule) (models.Rule, error)
	DeleteRule(ctx context.Context, id string) error
	SetRuleActive(ctx context.Context, id string, active *bool) (models.Rule, error)
	IncrementRuleStatistics(ctx context.Context, deltas []models.StatisticsDelta) error
	CreditFalsePositive(ctx context.Context, eventID string) ([]string, error)
}

const latencyLogEvery = 20

// operationTracker feeds operation latency into Prometheus and logs a rolling p95.
type operationTracker struct {
	logger    *slog.Logger
	latencies *utils.LatencyTracker
}

func newOperationTracker(logger *slog.Logger) *operationTracker {
	return &operationTracker{logger: logger, latencies: utils.NewLatencyTracker(1024)}
}

func (t *operationTracker) observe(op string, start time.Time) {
	duration := time.Since(start)
	metrics.ObserveOperation(op, duration)
	if count := t.latencies.Observe(op, duration); count >= latencyLogEvery && count%latencyLogEvery == 0 {
		t.logger.Info("operation latency",
			slog.String("operation", op),
			slog.Duration("p95", t.latencies.Percentile(op, 95)),
			slog.Int("samples", t.latencies.Count(op)),
		)
	}
}

// P95 returns the rolling p95 latency of op.
func (t *operationTracker) P95(op string) time.Duration {
	return t.latencies.Percentile(op, 95)
}

// fetchEvents loads exactly the requested ids, failing with NotFound on any gap.
func fetchEvents(ctx context.Context, store EventStore, op string, ids []string) ([]models.Event, error) {
	events, err := store.ListEvents(ctx, models.EventFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	found := make(map[string]struct{}, len(events))
	for _, event := range events {
		found[event.ID] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, utils.NewNotFoundError(op, fmt.Sprintf("unknown event ids: %s", strings.Join(missing, ", ")))
	}
	return events, nil
}

// normaliseIDs trims, drops blanks and removes duplicates while keeping order.
func normaliseIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
