package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-pq/internal/engine"
	"github.com/miradorstack/mirador-pq/internal/metrics"
	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

// commitAttempts bounds how often a plan is rebuilt after a conflicting commit.
const commitAttempts = 2

// CorrelationService fetches snapshots, asks the correlation engine for a plan and
// commits the plan as one atomic batch.
type CorrelationService struct {
	logger  *slog.Logger
	events  EventStore
	engine  *engine.CorrelationEngine
	tree    *engine.TreeBuilder
	tracker *operationTracker
}

// NewCorrelationService constructs the correlation facade.
func NewCorrelationService(logger *slog.Logger, events EventStore, correlation *engine.CorrelationEngine) *CorrelationService {
	if logger == nil {
		logger = slog.Default()
	}
	if correlation == nil {
		correlation = engine.NewCorrelationEngine(logger, engine.CorrelationConfig{})
	}
	return &CorrelationService{
		logger:  logger,
		events:  events,
		engine:  correlation,
		tree:    engine.NewTreeBuilder(logger),
		tracker: newOperationTracker(logger),
	}
}

// BuildEventTree returns the display forest for the events matching filter.
func (s *CorrelationService) BuildEventTree(ctx context.Context, filter models.EventFilter) ([]*models.EventTreeNode, error) {
	defer s.tracker.observe("build_event_tree", time.Now())

	events, err := s.events.ListEvents(ctx, filter)
	if err != nil {
		return nil, err
	}
	return s.tree.Build(events), nil
}

// CanGroupEvents checks whether the identified events may form a new group.
func (s *CorrelationService) CanGroupEvents(ctx context.Context, ids []string) (models.GroupCheck, error) {
	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return engine.CanGroupEvents(nil), nil
	}
	events, err := fetchEvents(ctx, s.events, "can group events", ids)
	if err != nil {
		return models.GroupCheck{}, err
	}
	return engine.CanGroupEvents(events), nil
}

// PerformManualGrouping groups the identified events under the earliest of them.
func (s *CorrelationService) PerformManualGrouping(ctx context.Context, ids []string) (result models.GroupingResult, err error) {
	defer s.tracker.observe("manual_grouping", time.Now())
	defer func() { metrics.ObserveGrouping(metrics.ModeManual, metrics.Outcome(err), 1) }()

	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return models.GroupingResult{}, utils.NewValidationError("manual grouping", "no events selected")
	}

	err = s.commit(ctx, "manual grouping", func(ctx context.Context) ([]models.EventUpdate, error) {
		events, err := fetchEvents(ctx, s.events, "manual grouping", ids)
		if err != nil {
			return nil, err
		}
		plan, err := s.engine.PlanGrouping(events, models.GroupingManual)
		if err != nil {
			return nil, err
		}
		result = plan.Result
		return plan.Updates, nil
	})
	if err != nil {
		return models.GroupingResult{}, err
	}

	s.logger.Info("events grouped",
		slog.String("mode", string(models.GroupingManual)),
		slog.String("mother_event_id", result.MotherEventID),
		slog.Int("children", len(result.ChildEventIDs)),
	)
	return result, nil
}

// PerformAutomaticGrouping clusters the ungrouped events matching filter and commits
// every resulting group in one batch. Re-running on the same data creates nothing.
func (s *CorrelationService) PerformAutomaticGrouping(ctx context.Context, filter models.EventFilter) (results []models.GroupingResult, err error) {
	defer s.tracker.observe("automatic_grouping", time.Now())
	defer func() { metrics.ObserveGrouping(metrics.ModeAutomatic, metrics.Outcome(err), len(results)) }()

	filter.OnlyUngrouped = true
	err = s.commit(ctx, "automatic grouping", func(ctx context.Context) ([]models.EventUpdate, error) {
		events, err := s.events.ListEvents(ctx, filter)
		if err != nil {
			return nil, err
		}
		plans := s.engine.PlanAutomaticGrouping(events)
		results = make([]models.GroupingResult, 0, len(plans))
		updates := make([]models.EventUpdate, 0)
		for _, plan := range plans {
			results = append(results, plan.Result)
			updates = append(updates, plan.Updates...)
		}
		return updates, nil
	})
	if err != nil {
		return nil, err
	}

	if len(results) > 0 {
		s.logger.Info("automatic grouping committed", slog.Int("groups", len(results)))
	}
	return results, nil
}

// UngroupEvents dissolves the group led by motherID. It returns false without changes
// when the mother does not exist (with a NotFound error) or has no children.
func (s *CorrelationService) UngroupEvents(ctx context.Context, motherID string) (ungrouped bool, err error) {
	defer s.tracker.observe("ungroup", time.Now())
	defer func() {
		if ungrouped || err != nil {
			metrics.ObserveGrouping(metrics.ModeUngroup, metrics.Outcome(err), 1)
		}
	}()

	err = s.commit(ctx, "ungroup events", func(ctx context.Context) ([]models.EventUpdate, error) {
		mother, err := s.events.GetEvent(ctx, motherID)
		if err != nil {
			return nil, err
		}
		children, err := s.events.ListEvents(ctx, models.EventFilter{ParentEventID: motherID})
		if err != nil {
			return nil, err
		}
		updates, ok := s.engine.PlanUngroup(mother, children)
		ungrouped = ok
		return updates, nil
	})
	if err != nil {
		return false, err
	}
	if ungrouped {
		s.logger.Info("group dissolved", slog.String("mother_event_id", motherID))
	}
	return ungrouped, nil
}

// UngroupSpecificEvents detaches the listed children. A mother left without children
// is demoted in the same batch.
func (s *CorrelationService) UngroupSpecificEvents(ctx context.Context, ids []string) (ungrouped bool, err error) {
	defer s.tracker.observe("ungroup_specific", time.Now())
	defer func() { metrics.ObserveGrouping(metrics.ModeUngroup, metrics.Outcome(err), 1) }()

	ids = normaliseIDs(ids)
	if len(ids) == 0 {
		return false, utils.NewValidationError("ungroup specific events", "no events selected")
	}

	err = s.commit(ctx, "ungroup specific events", func(ctx context.Context) ([]models.EventUpdate, error) {
		targets, err := fetchEvents(ctx, s.events, "ungroup specific events", ids)
		if err != nil {
			return nil, err
		}
		mothers := make(map[string]models.Event)
		siblings := make(map[string][]models.Event)
		for _, target := range targets {
			motherID := target.ParentID()
			if motherID == "" {
				continue
			}
			if _, done := siblings[motherID]; done {
				continue
			}
			children, err := s.events.ListEvents(ctx, models.EventFilter{ParentEventID: motherID})
			if err != nil {
				return nil, err
			}
			siblings[motherID] = children
			mother, err := s.events.GetEvent(ctx, motherID)
			switch {
			case err == nil:
				mothers[motherID] = mother
			case errors.Is(err, utils.ErrNotFound):
				// Dangling reference; the children are still released.
			default:
				return nil, err
			}
		}
		return s.engine.PlanUngroupSpecific(targets, mothers, siblings)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// commit plans and writes a batch, rebuilding the plan once from a fresh snapshot when
// the store reports that grouping state changed underneath it.
func (s *CorrelationService) commit(ctx context.Context, op string, plan func(context.Context) ([]models.EventUpdate, error)) error {
	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		var updates []models.EventUpdate
		updates, err = plan(ctx)
		if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		err = s.events.BatchUpdateEvents(ctx, updates)
		if err == nil || !errors.Is(err, utils.ErrConflict) {
			return err
		}
		s.logger.Warn("grouping state changed during commit",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Any("error", err),
		)
	}
	return err
}

// LatencyP95 returns the rolling p95 latency of a correlation operation.
func (s *CorrelationService) LatencyP95(op string) time.Duration {
	return s.tracker.P95(op)
}
