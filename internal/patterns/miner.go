package patterns

import (
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/miradorstack/mirador-pq/internal/engine"
	"github.com/miradorstack/mirador-pq/internal/models"
)

const (
	// DefaultMinSamples is how many confirmed false events a type needs before a rule is proposed.
	DefaultMinSamples = 5
	// DefaultPercentile is the duration percentile used as the proposed ceiling.
	DefaultPercentile = 90
	suggestionPriority = 100
)

// Miner proposes duration-ceiling rules from events operators confirmed as false.
type Miner struct {
	logger     *slog.Logger
	minSamples int
	percentile float64
}

// NewMiner constructs a Miner. Non-positive minSamples falls back to DefaultMinSamples.
func NewMiner(logger *slog.Logger, minSamples int) *Miner {
	if logger == nil {
		logger = slog.Default()
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Miner{logger: logger, minSamples: minSamples, percentile: DefaultPercentile}
}

// Suggest returns one inactive candidate rule per event type with enough confirmed
// false samples, ordered by support (share of that type confirmed false), then type.
// Suggestions are never persisted here.
func (m *Miner) Suggest(events []models.Event) []models.RuleSuggestion {
	if len(events) == 0 {
		return nil
	}

	byType := make(map[string]*typeAggregate)
	for _, event := range events {
		if event.EventType == "" {
			continue
		}
		agg, ok := byType[event.EventType]
		if !ok {
			agg = &typeAggregate{}
			byType[event.EventType] = agg
		}
		agg.total++
		if event.FalseEvent && event.DurationMs != nil {
			agg.durations = append(agg.durations, *event.DurationMs)
		}
	}

	suggestions := make([]models.RuleSuggestion, 0)
	for eventType, agg := range byType {
		if len(agg.durations) < m.minSamples {
			continue
		}
		ceiling := percentile(agg.durations, m.percentile)
		rule := models.Rule{
			ID:          "suggested-" + slug(eventType),
			Name:        eventType + " short-duration false events",
			Description: "Mined from confirmed false events; review before activating",
			IsActive:    false,
			Priority:    suggestionPriority,
			Conditions: models.RuleConditions{
				MaxDuration:       &ceiling,
				AllowedEventTypes: []string{eventType},
			},
			Actions: models.RuleActions{RequireReview: true},
		}
		if _, err := engine.ValidateRule(rule); err != nil {
			m.logger.Warn("mined rule failed validation", slog.String("event_type", eventType), slog.Any("error", err))
			continue
		}
		suggestions = append(suggestions, models.RuleSuggestion{
			EventType: eventType,
			Samples:   len(agg.durations),
			Support:   float64(len(agg.durations)) / float64(agg.total),
			Rule:      rule,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Support != suggestions[j].Support {
			return suggestions[i].Support > suggestions[j].Support
		}
		return suggestions[i].EventType < suggestions[j].EventType
	})
	return suggestions
}

type typeAggregate struct {
	total     int
	durations []float64
}

// percentile uses the nearest-rank method.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func slug(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, value)
}
