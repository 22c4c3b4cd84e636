package repo

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

func TestMemoryStoreEvents(t *testing.T) {
	runEventStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreRules(t *testing.T) {
	runRuleStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	err := NewMemoryStore().InsertEvents(context.Background(), []models.Event{{}})
	assert.ErrorIs(t, err, utils.ErrValidation)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.InsertEvents(ctx, []models.Event{sampleEvent("e1", 0, "S1")}))

	event, err := store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	event.AffectedPhases[0] = "C"
	*event.DurationMs = 999

	again, err := store.GetEvent(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "A", again.AffectedPhases[0])
	assert.InDelta(t, 40.0, *again.DurationMs, 1e-9)
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.SaveRule(ctx, models.Rule{ID: "r", Name: "r"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			delta := models.StatisticsDelta{RuleID: "r", EventIDs: []string{fmt.Sprintf("e%d", i), "shared"}}
			assert.NoError(t, store.IncrementRuleStatistics(ctx, []models.StatisticsDelta{delta}))
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreditFalsePositive(ctx, "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rule, err := store.GetRule(ctx, "r")
	require.NoError(t, err)
	assert.EqualValues(t, 51, rule.Statistics.TotalProcessed)
	assert.EqualValues(t, 1, rule.Statistics.FalsePositivesCaught)
	assert.InDelta(t, 1.0/51.0, rule.Statistics.AccuracyRate, 1e-9)
}
