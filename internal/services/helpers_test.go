package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/repo"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

var baseTime = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

func event(id string, offset time.Duration, substation string) models.Event {
	return models.Event{
		ID:            id,
		Timestamp:     baseTime.Add(offset),
		SubstationID:  substation,
		CircuitID:     substation + "-c1",
		EventType:     "voltage_sag",
		DurationMs:    ptr(40.0),
		Magnitude:     ptr(0.8),
		GroupingState: models.Standalone(),
	}
}

func seededStore(t *testing.T, events ...models.Event) *repo.MemoryStore {
	t.Helper()
	store := repo.NewMemoryStore()
	require.NoError(t, store.InsertEvents(context.Background(), events))
	return store
}

// racingStore lets a test mutate the store between a plan being read and committed.
type racingStore struct {
	*repo.MemoryStore
	mu       sync.Mutex
	before   func()
	batches  int
	failNext error
}

func (r *racingStore) BatchUpdateEvents(ctx context.Context, updates []models.EventUpdate) error {
	r.mu.Lock()
	r.batches++
	hook := r.before
	r.before = nil
	fail := r.failNext
	r.failNext = nil
	r.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail != nil {
		return fail
	}
	return r.MemoryStore.BatchUpdateEvents(ctx, updates)
}

func storeDown() error {
	return utils.NewStoreError("batch update events", "connection refused", nil)
}
