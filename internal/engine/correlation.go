package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

// ClusterKey selects how automatic grouping partitions candidates.
type ClusterKey string

const (
	ClusterBySubstation        ClusterKey = "substation"
	ClusterBySubstationCircuit ClusterKey = "substation_circuit"
)

// DefaultCorrelationWindow is used when no window is configured.
const DefaultCorrelationWindow = 5 * time.Minute

const (
	reasonTooFew         = "at least two events required"
	reasonAlreadyGrouped = "event already part of a group; ungroup first"
)

// CorrelationConfig tunes automatic grouping.
type CorrelationConfig struct {
	Window time.Duration
	Key    ClusterKey
}

// CorrelationEngine plans mother/child grouping changes. It never talks to a store:
// callers commit the returned updates as one atomic batch.
type CorrelationEngine struct {
	logger *slog.Logger
	cfg    CorrelationConfig
	now    func() time.Time
}

// NewCorrelationEngine constructs a CorrelationEngine, filling config defaults.
func NewCorrelationEngine(logger *slog.Logger, cfg CorrelationConfig) *CorrelationEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultCorrelationWindow
	}
	if cfg.Key == "" {
		cfg.Key = ClusterBySubstation
	}
	return &CorrelationEngine{logger: logger, cfg: cfg, now: time.Now}
}

// WithClock overrides the clock used for groupedAt.
func (e *CorrelationEngine) WithClock(now func() time.Time) *CorrelationEngine {
	if now != nil {
		e.now = now
	}
	return e
}

// Config returns the effective configuration.
func (e *CorrelationEngine) Config() CorrelationConfig {
	return e.cfg
}

// CanGroupEvents checks, in order, that at least two distinct events are present and
// that none of them is already a mother or a child.
func CanGroupEvents(events []models.Event) models.GroupCheck {
	distinct := make(map[string]struct{}, len(events))
	for _, event := range events {
		distinct[event.ID] = struct{}{}
	}
	if len(distinct) < 2 {
		return models.GroupCheck{Reason: reasonTooFew}
	}
	for _, event := range events {
		if event.IsGrouped() {
			return models.GroupCheck{Reason: reasonAlreadyGrouped}
		}
	}
	return models.GroupCheck{CanGroup: true}
}

// ElectMother picks the earliest event, breaking timestamp ties by lowest id.
func ElectMother(events []models.Event) models.Event {
	sorted := sortedByTime(events)
	return sorted[0]
}

// PlanGrouping validates events and returns the updates that make the elected mother
// the parent of every other event.
func (e *CorrelationEngine) PlanGrouping(events []models.Event, groupingType models.GroupingType) (models.GroupingPlan, error) {
	check := CanGroupEvents(events)
	if !check.CanGroup {
		return models.GroupingPlan{}, utils.NewValidationError("plan grouping", check.Reason)
	}
	if groupingType != models.GroupingManual && groupingType != models.GroupingAutomatic {
		return models.GroupingPlan{}, utils.NewValidationError("plan grouping", fmt.Sprintf("unsupported grouping type %q", groupingType))
	}

	events = dedupe(events)
	mother := ElectMother(events)
	groupedAt := e.now().UTC()
	motherID := mother.ID

	plan := models.GroupingPlan{
		Result: models.GroupingResult{
			MotherEventID: motherID,
			ChildEventIDs: make([]string, 0, len(events)-1),
			GroupingType:  groupingType,
			GroupedAt:     groupedAt,
		},
		Updates: make([]models.EventUpdate, 0, len(events)),
	}
	plan.Updates = append(plan.Updates, models.EventUpdate{
		ID:       motherID,
		Expected: mother.GroupingState,
		Fields: models.GroupingState{
			IsMotherEvent: true,
			GroupingType:  groupingType,
			GroupedAt:     &groupedAt,
		},
	})

	for _, event := range sortedByTime(events) {
		if event.ID == motherID {
			continue
		}
		plan.Result.ChildEventIDs = append(plan.Result.ChildEventIDs, event.ID)
		plan.Updates = append(plan.Updates, models.EventUpdate{
			ID:       event.ID,
			Expected: event.GroupingState,
			Fields: models.GroupingState{
				ParentEventID: &motherID,
				IsChildEvent:  true,
				GroupingType:  groupingType,
				GroupedAt:     &groupedAt,
			},
		})
	}
	return plan, nil
}

// PlanAutomaticGrouping clusters ungrouped events per partition with a window anchored
// at each cluster's first event. Clusters of one stay standalone.
func (e *CorrelationEngine) PlanAutomaticGrouping(events []models.Event) []models.GroupingPlan {
	partitions := make(map[string][]models.Event)
	for _, event := range dedupe(events) {
		if event.IsGrouped() {
			continue
		}
		if event.SubstationID == "" {
			e.logger.Debug("event without substation skipped for automatic grouping", slog.String("event_id", event.ID))
			continue
		}
		key := e.partitionKey(event)
		partitions[key] = append(partitions[key], event)
	}

	keys := make([]string, 0, len(partitions))
	for key := range partitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	plans := make([]models.GroupingPlan, 0)
	for _, key := range keys {
		for _, cluster := range e.clusters(partitions[key]) {
			if len(cluster) < 2 {
				continue
			}
			plan, err := e.PlanGrouping(cluster, models.GroupingAutomatic)
			if err != nil {
				// Candidates were filtered above; this only fires on inconsistent input.
				e.logger.Warn("automatic cluster rejected", slog.String("partition", key), slog.Any("error", err))
				continue
			}
			plans = append(plans, plan)
		}
	}
	return plans
}

func (e *CorrelationEngine) partitionKey(event models.Event) string {
	if e.cfg.Key == ClusterBySubstationCircuit {
		return event.SubstationID + "/" + event.CircuitID
	}
	return event.SubstationID
}

func (e *CorrelationEngine) clusters(events []models.Event) [][]models.Event {
	sorted := sortedByTime(events)
	var (
		out     [][]models.Event
		current []models.Event
	)
	for _, event := range sorted {
		if len(current) > 0 && event.Timestamp.Sub(current[0].Timestamp) > e.cfg.Window {
			out = append(out, current)
			current = nil
		}
		current = append(current, event)
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out
}

// PlanUngroup clears every child of mother and demotes the mother. It returns false
// when mother has no children.
func (e *CorrelationEngine) PlanUngroup(mother models.Event, children []models.Event) ([]models.EventUpdate, bool) {
	updates := make([]models.EventUpdate, 0, len(children)+1)
	for _, child := range children {
		if child.ParentID() != mother.ID {
			continue
		}
		updates = append(updates, models.EventUpdate{ID: child.ID, Expected: child.GroupingState, Fields: models.Standalone()})
	}
	if len(updates) == 0 {
		return nil, false
	}
	childCount := len(updates)
	updates = append(updates, models.EventUpdate{
		ID:               mother.ID,
		Expected:         mother.GroupingState,
		Fields:           models.Standalone(),
		ExpectedChildren: &childCount,
	})
	return updates, true
}

// PlanUngroupSpecific clears the listed children. Every affected mother is part of
// the batch, guarded by the child count it was planned against, and is demoted when
// no children remain. mothers and siblings are keyed by mother id; siblings must list
// every current child of that mother.
func (e *CorrelationEngine) PlanUngroupSpecific(targets []models.Event, mothers map[string]models.Event, siblings map[string][]models.Event) ([]models.EventUpdate, error) {
	if len(targets) == 0 {
		return nil, utils.NewValidationError("plan ungroup", "no events selected")
	}

	removed := make(map[string]struct{}, len(targets))
	updates := make([]models.EventUpdate, 0, len(targets))
	affected := make([]string, 0)
	for _, target := range dedupe(targets) {
		if target.ParentEventID == nil {
			return nil, utils.NewValidationError("plan ungroup", fmt.Sprintf("event %s is not part of a group", target.ID))
		}
		removed[target.ID] = struct{}{}
		updates = append(updates, models.EventUpdate{ID: target.ID, Expected: target.GroupingState, Fields: models.Standalone()})
		if motherID := target.ParentID(); !containsID(affected, motherID) {
			affected = append(affected, motherID)
		}
	}

	for _, motherID := range affected {
		mother, ok := mothers[motherID]
		if !ok {
			e.logger.Warn("ungrouping children of a missing mother", slog.String("mother_event_id", motherID))
			continue
		}
		children := len(siblings[motherID])
		remaining := 0
		for _, sibling := range siblings[motherID] {
			if _, gone := removed[sibling.ID]; !gone {
				remaining++
			}
		}
		fields := mother.GroupingState.Clone()
		if remaining == 0 {
			fields = models.Standalone()
		}
		updates = append(updates, models.EventUpdate{
			ID:               mother.ID,
			Expected:         mother.GroupingState,
			Fields:           fields,
			ExpectedChildren: &children,
		})
	}
	return updates, nil
}

func sortedByTime(events []models.Event) []models.Event {
	sorted := append([]models.Event(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

func dedupe(events []models.Event) []models.Event {
	seen := make(map[string]struct{}, len(events))
	out := make([]models.Event, 0, len(events))
	for _, event := range events {
		if _, ok := seen[event.ID]; ok {
			continue
		}
		seen[event.ID] = struct{}{}
		out = append(out, event)
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
