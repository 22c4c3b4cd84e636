package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-pq/internal/utils"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObserveGrouping(t *testing.T) {
	before := testutil.ToFloat64(groupingsTotal.WithLabelValues(ModeAutomatic, OutcomeSuccess))
	ObserveGrouping(ModeAutomatic, OutcomeSuccess, 3)
	ObserveGrouping(ModeAutomatic, OutcomeSuccess, 0)
	after := testutil.ToFloat64(groupingsTotal.WithLabelValues(ModeAutomatic, OutcomeSuccess))
	assert.InDelta(t, 4, after-before, 1e-9)
}

func TestObserveClassificationCountsTriggersOnlyWhenApplied(t *testing.T) {
	before := testutil.ToFloat64(ruleTriggersTotal.WithLabelValues("metrics-test-rule"))
	ObserveClassification(ModeTest, 5, map[string]int{"metrics-test-rule": 2})
	ObserveClassification(ModeApply, 5, map[string]int{"metrics-test-rule": 2})
	after := testutil.ToFloat64(ruleTriggersTotal.WithLabelValues("metrics-test-rule"))
	assert.InDelta(t, 2, after-before, 1e-9)
}

func TestObserveOperationClampsNegative(t *testing.T) {
	ObserveOperation("metrics-test-op", -time.Second)
	assert.Equal(t, 1, testutil.CollectAndCount(operationSeconds, "mirador_pq_operation_seconds"))
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeSuccess, Outcome(nil))
	assert.Equal(t, OutcomeConflict, Outcome(utils.NewConflictError("op", "changed", nil)))
	assert.Equal(t, OutcomeRejected, Outcome(utils.NewValidationError("op", "bad")))
	assert.Equal(t, OutcomeRejected, Outcome(utils.NewNotFoundError("op", "gone")))
	assert.Equal(t, OutcomeError, Outcome(utils.NewStoreError("op", "down", nil)))
}
