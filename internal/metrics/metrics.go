package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/miradorstack/mirador-pq/internal/utils"
)

const (
	// OutcomeSuccess labels operations that committed.
	OutcomeSuccess = "success"
	// OutcomeRejected labels operations refused for validation or not-found reasons.
	OutcomeRejected = "rejected"
	// OutcomeConflict labels batches refused because grouping state changed underneath.
	OutcomeConflict = "conflict"
	// OutcomeError labels store or dependency failures.
	OutcomeError = "error"

	ModeManual    = "manual"
	ModeAutomatic = "automatic"
	ModeUngroup   = "ungroup"

	ModeTest  = "test"
	ModeApply = "apply"
)

var (
	groupingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_pq",
			Name:      "groupings_total",
			Help:      "Grouping and ungrouping operations, partitioned by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	classifiedEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_pq",
			Name:      "classified_events_total",
			Help:      "Events run through the rule engine, partitioned by mode.",
		},
		[]string{"mode"},
	)

	ruleTriggersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_pq",
			Name:      "rule_triggers_total",
			Help:      "Applied classifications in which a rule triggered.",
		},
		[]string{"rule"},
	)

	operationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_pq",
			Name:      "operation_seconds",
			Help:      "Service operation latency in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)
)

// Register attaches mirador-pq collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		groupingsTotal,
		classifiedEventsTotal,
		ruleTriggersTotal,
		operationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveGrouping counts one grouping operation. n is the number of groups it touched.
func ObserveGrouping(mode, outcome string, n int) {
	if n <= 0 {
		n = 1
	}
	groupingsTotal.WithLabelValues(mode, outcome).Add(float64(n))
}

// ObserveClassification counts classified events and, in apply mode, rule triggers.
func ObserveClassification(mode string, events int, triggers map[string]int) {
	classifiedEventsTotal.WithLabelValues(mode).Add(float64(events))
	if mode != ModeApply {
		return
	}
	for rule, count := range triggers {
		ruleTriggersTotal.WithLabelValues(rule).Add(float64(count))
	}
}

// ObserveOperation records the latency of a service operation.
func ObserveOperation(operation string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	operationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// Outcome maps an operation error onto an outcome label.
func Outcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}
	kind, _ := utils.IsKind(err)
	switch kind {
	case utils.ErrConflict:
		return OutcomeConflict
	case utils.ErrValidation, utils.ErrNotFound:
		return OutcomeRejected
	default:
		return OutcomeError
	}
}
