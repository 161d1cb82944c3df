package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordRun("completed", 2*time.Second)
	m.RecordEntity(true)
	m.RecordEntity(false)
	m.RecordEntity(false)
	m.RecordRuleResult("matched")
	m.RecordDelivery("IN_APP", "delivered", 10*time.Millisecond)
	m.RecordDelivery("SMS", "blocked", 0)
	m.SetDispatchQueueDepth(7)
	m.RecordDispatchPanic()

	assert.InDelta(t, 1, testutil.ToFloat64(m.runsTotal.WithLabelValues("completed")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.entitiesTotal.WithLabelValues("failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.deliveriesTotal.WithLabelValues("SMS", "blocked")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.dispatchQueueDepth), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.dispatchPanics), 0)

	// Blocked attempts are not timed.
	var hist dto.Metric
	require.NoError(t, m.deliveryDuration.WithLabelValues("IN_APP").(interface{ Write(*dto.Metric) error }).Write(&hist))
	assert.Equal(t, uint64(1), hist.GetHistogram().GetSampleCount())
	assert.Equal(t, 1, testutil.CollectAndCount(m.deliveryDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun("failed", time.Second)
		m.RecordEntity(true)
		m.RecordDelivery("SMS", "failed", time.Second)
		m.SetDispatchQueueDepth(1)
		m.RecordSensorReading(false)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := New()
	m.RecordSensorReading(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `proactive_sensors_readings_total{result="accepted"} 1`)
}
