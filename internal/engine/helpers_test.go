package engine

import (
	"io"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-pq/internal/models"
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
		CircuitID:     "C1",
		EventType:     "dip",
		GroupingState: models.Standalone(),
	}
}

func child(e models.Event, parent string) models.Event {
	e.ParentEventID = ptr(parent)
	e.IsChildEvent = true
	e.GroupingType = models.GroupingManual
	return e
}

func mother(e models.Event) models.Event {
	e.IsMotherEvent = true
	e.GroupingType = models.GroupingManual
	return e
}

// apply mimics a store committing a batch against a snapshot.
func apply(events []models.Event, updates []models.EventUpdate) []models.Event {
	byID := make(map[string]models.EventUpdate, len(updates))
	for _, u := range updates {
		byID[u.ID] = u
	}
	out := make([]models.Event, len(events))
	for i, e := range events {
		if u, ok := byID[e.ID]; ok {
			e.GroupingState = u.Fields
		}
		out[i] = e
	}
	return out
}
