package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

// MemoryStore is an in-process Event and Rule store. Every batch is applied under a
// single lock, so it is atomic with respect to other callers.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]models.Event
	rules  map[string]models.Rule
	// applied maps rule id -> event id -> whether the event was credited as a catch.
	applied map[string]map[string]bool
	now     func() time.Time
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string]models.Event),
		rules:   make(map[string]models.Rule),
		applied: make(map[string]map[string]bool),
		now:     time.Now,
	}
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// InsertEvents upserts events as delivered by the meters. Grouping is owned by the
// correlation engine: new events start standalone and re-delivered events keep the
// grouping they already have.
func (s *MemoryStore) InsertEvents(_ context.Context, events []models.Event) error {
	if err := validateImport(events); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		stored := event.Clone()
		stored.GroupingState = models.Standalone()
		if existing, ok := s.events[event.ID]; ok {
			stored.GroupingState = existing.GroupingState
		}
		s.events[event.ID] = stored
	}
	return nil
}

// ListEvents returns matching events ordered by timestamp, then id.
func (s *MemoryStore) ListEvents(_ context.Context, filter models.EventFilter) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Event, 0)
	for _, event := range s.events {
		if filter.Matches(event) {
			out = append(out, event.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetEvent returns one event or a not-found error.
func (s *MemoryStore) GetEvent(_ context.Context, id string) (models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return models.Event{}, utils.NewNotFoundError("get event", fmt.Sprintf("event %s not found", id))
	}
	return event.Clone(), nil
}

// BatchUpdateEvents applies every update or none of them.
func (s *MemoryStore) BatchUpdateEvents(ctx context.Context, updates []models.EventUpdate) error {
	if err := ctx.Err(); err != nil {
		return utils.NewStoreError("batch update events", "context done", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, update := range updates {
		current, ok := s.events[update.ID]
		if !ok {
			return utils.NewNotFoundError("batch update events", fmt.Sprintf("event %s not found", update.ID))
		}
		if !current.GroupingState.SameGrouping(update.Expected) {
			return utils.NewConflictError("batch update events", fmt.Sprintf("event %s changed since it was read", update.ID), nil)
		}
		if update.ExpectedChildren != nil {
			if n := s.countChildren(update.ID); n != *update.ExpectedChildren {
				return utils.NewConflictError("batch update events",
					fmt.Sprintf("event %s has %d children, planned against %d", update.ID, n, *update.ExpectedChildren), nil)
			}
		}
	}
	for _, update := range updates {
		event := s.events[update.ID]
		event.GroupingState = update.Fields.Clone()
		s.events[update.ID] = event
	}
	return nil
}

func (s *MemoryStore) countChildren(id string) int {
	n := 0
	for _, event := range s.events {
		if event.ParentID() == id {
			n++
		}
	}
	return n
}

// ListRules returns every rule ordered by priority, then id.
func (s *MemoryStore) ListRules(context.Context) ([]models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule.Clone())
	}
	sortRules(out)
	return out, nil
}

// GetRule returns one rule or a not-found error.
func (s *MemoryStore) GetRule(_ context.Context, id string) (models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rule, ok := s.rules[id]
	if !ok {
		return models.Rule{}, utils.NewNotFoundError("get rule", fmt.Sprintf("rule %s not found", id))
	}
	return rule.Clone(), nil
}

// SaveRule upserts the authored fields of rule. Statistics are never overwritten.
func (s *MemoryStore) SaveRule(_ context.Context, rule models.Rule) (models.Rule, error) {
	if rule.ID == "" {
		return models.Rule{}, utils.NewValidationError("save rule", "rule id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	stored := rule.Clone()
	if existing, ok := s.rules[rule.ID]; ok {
		stored.Statistics = existing.Statistics
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.Statistics = models.RuleStatistics{}
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.rules[rule.ID] = stored
	return stored.Clone(), nil
}

// DeleteRule removes a rule and its application history.
func (s *MemoryStore) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rules[id]; !ok {
		return utils.NewNotFoundError("delete rule", fmt.Sprintf("rule %s not found", id))
	}
	delete(s.rules, id)
	delete(s.applied, id)
	return nil
}

// SetRuleActive sets isActive, or flips it when active is nil, without touching any
// other field.
func (s *MemoryStore) SetRuleActive(_ context.Context, id string, active *bool) (models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return models.Rule{}, utils.NewNotFoundError("set rule active", fmt.Sprintf("rule %s not found", id))
	}
	if active != nil {
		rule.IsActive = *active
	} else {
		rule.IsActive = !rule.IsActive
	}
	rule.UpdatedAt = s.now().UTC()
	s.rules[id] = rule
	return rule.Clone(), nil
}

// IncrementRuleStatistics applies the whole batch under the store lock. Deltas for
// unknown rules are skipped.
func (s *MemoryStore) IncrementRuleStatistics(_ context.Context, deltas []models.StatisticsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, delta := range deltas {
		rule, ok := s.rules[delta.RuleID]
		if !ok {
			continue
		}
		applied := s.applied[delta.RuleID]
		if applied == nil {
			applied = make(map[string]bool)
			s.applied[delta.RuleID] = applied
		}
		for _, eventID := range delta.EventIDs {
			if _, seen := applied[eventID]; !seen {
				applied[eventID] = false
				rule.Statistics.TotalProcessed++
			}
		}
		rule.Statistics.AccuracyRate = models.AccuracyRate(rule.Statistics.FalsePositivesCaught, rule.Statistics.TotalProcessed)
		if delta.TriggeredAt != nil && (rule.Statistics.LastTriggered == nil || delta.TriggeredAt.After(*rule.Statistics.LastTriggered)) {
			triggered := delta.TriggeredAt.UTC()
			rule.Statistics.LastTriggered = &triggered
		}
		s.rules[delta.RuleID] = rule
	}
	return nil
}

// CreditFalsePositive credits one catch to every rule applied to eventID that has not
// been credited for it yet, and returns those rule ids in order.
func (s *MemoryStore) CreditFalsePositive(_ context.Context, eventID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credited := make([]string, 0)
	for ruleID, applied := range s.applied {
		done, ok := applied[eventID]
		if !ok || done {
			continue
		}
		rule, exists := s.rules[ruleID]
		if !exists {
			continue
		}
		applied[eventID] = true
		rule.Statistics.FalsePositivesCaught++
		rule.Statistics.AccuracyRate = models.AccuracyRate(rule.Statistics.FalsePositivesCaught, rule.Statistics.TotalProcessed)
		s.rules[ruleID] = rule
		credited = append(credited, ruleID)
	}
	sort.Strings(credited)
	return credited, nil
}

func sortRules(rules []models.Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// validateImport rejects events no store can index. Zero timestamps are refused so
// every backend reads back the same instant.
func validateImport(events []models.Event) error {
	for _, event := range events {
		if event.ID == "" {
			return utils.NewValidationError("insert events", "event id is required")
		}
		if event.Timestamp.IsZero() {
			return utils.NewValidationError("insert events", fmt.Sprintf("event %s has no timestamp", event.ID))
		}
	}
	return nil
}
