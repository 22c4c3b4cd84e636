package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pq/internal/models"
)

func TestBuildEventTreeGroupsChildrenUnderMother(t *testing.T) {
	events := []models.Event{
		mother(event("a", 0, "S1")),
		child(event("b", time.Second, "S1"), "a"),
		child(event("c", 2*time.Second, "S1"), "a"),
		event("d", 3*time.Second, "S2"),
	}

	forest := NewTreeBuilder(quietLogger()).Build(events)
	require.Len(t, forest, 2)
	assert.Equal(t, "a", forest[0].Event.ID)
	require.Len(t, forest[0].Children, 2)
	assert.Equal(t, "b", forest[0].Children[0].Event.ID)
	assert.Equal(t, "c", forest[0].Children[1].Event.ID)
	assert.Equal(t, "d", forest[1].Event.ID)
	assert.Empty(t, forest[1].Children)
	assert.Equal(t, len(events), CountNodes(forest))
}

func TestBuildEventTreeEmpty(t *testing.T) {
	forest := BuildEventTree(nil)
	assert.NotNil(t, forest)
	assert.Empty(t, forest)
	assert.Zero(t, CountNodes(forest))
}

func TestBuildEventTreePromotesDanglingParent(t *testing.T) {
	events := []models.Event{
		child(event("b", 0, "S1"), "missing"),
		event("c", time.Second, "S1"),
	}
	forest := NewTreeBuilder(quietLogger()).Build(events)
	require.Len(t, forest, 2)
	assert.Equal(t, 2, CountNodes(forest))
}

func TestBuildEventTreeConservesNodesOnBadReferences(t *testing.T) {
	cases := map[string][]models.Event{
		"self reference": {child(event("a", 0, "S1"), "a")},
		"two cycle": {
			child(event("a", 0, "S1"), "b"),
			child(event("b", time.Second, "S1"), "a"),
		},
		"three cycle": {
			child(event("a", 0, "S1"), "c"),
			child(event("b", time.Second, "S1"), "a"),
			child(event("c", 2*time.Second, "S1"), "b"),
		},
		"grandchild": {
			mother(event("a", 0, "S1")),
			child(event("b", time.Second, "S1"), "a"),
			child(event("c", 2*time.Second, "S1"), "b"),
		},
	}

	for name, events := range cases {
		t.Run(name, func(t *testing.T) {
			forest := NewTreeBuilder(quietLogger()).Build(events)
			assert.Equal(t, len(events), CountNodes(forest))
			for _, root := range forest {
				for _, c := range root.Children {
					assert.Empty(t, c.Children, "hierarchy must stay one level deep")
				}
			}
		})
	}
}
