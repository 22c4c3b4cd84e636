package engine

import (
	"log/slog"

	"github.com/miradorstack/mirador-pq/internal/models"
)

// TreeBuilder converts flat event lists into a one-level mother/child forest.
type TreeBuilder struct {
	logger *slog.Logger
}

// NewTreeBuilder constructs a TreeBuilder.
func NewTreeBuilder(logger *slog.Logger) *TreeBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeBuilder{logger: logger}
}

// BuildEventTree builds a forest with the default logger.
func BuildEventTree(events []models.Event) []*models.EventTreeNode {
	return NewTreeBuilder(nil).Build(events)
}

// Build returns the forest for events. Every input event appears exactly once.
//
// A node is attached only under a parent that is itself a root, which keeps the
// hierarchy one level deep and makes cycles impossible. Dangling, self-referencing
// and nested references are promoted to roots and logged.
func (b *TreeBuilder) Build(events []models.Event) []*models.EventTreeNode {
	if len(events) == 0 {
		return []*models.EventTreeNode{}
	}

	nodes := make(map[string]*models.EventTreeNode, len(events))
	order := make([]*models.EventTreeNode, 0, len(events))
	for _, event := range events {
		node := &models.EventTreeNode{Event: event, Children: []*models.EventTreeNode{}}
		if _, dup := nodes[event.ID]; !dup {
			nodes[event.ID] = node
		}
		order = append(order, node)
	}

	anchored := func(e models.Event) bool {
		parent := e.ParentID()
		if parent == "" || parent == e.ID {
			return true
		}
		_, ok := nodes[parent]
		return !ok
	}

	roots := make([]*models.EventTreeNode, 0, len(events))
	for _, node := range order {
		event := node.Event
		parentID := event.ParentID()
		if parentID == "" {
			roots = append(roots, node)
			continue
		}
		parent, ok := nodes[parentID]
		switch {
		case parentID == event.ID:
			b.logger.Warn("event references itself as parent", slog.String("event_id", event.ID))
			roots = append(roots, node)
		case !ok:
			b.logger.Warn("dangling parent reference promoted to root",
				slog.String("event_id", event.ID),
				slog.String("parent_event_id", parentID))
			roots = append(roots, node)
		case !anchored(parent.Event):
			b.logger.Warn("nested grouping promoted to root",
				slog.String("event_id", event.ID),
				slog.String("parent_event_id", parentID))
			roots = append(roots, node)
		default:
			parent.Children = append(parent.Children, node)
		}
	}
	return roots
}

// CountNodes counts every node in the forest.
func CountNodes(forest []*models.EventTreeNode) int {
	count := 0
	for _, node := range forest {
		if node == nil {
			continue
		}
		count++
		count += CountNodes(node.Children)
	}
	return count
}
