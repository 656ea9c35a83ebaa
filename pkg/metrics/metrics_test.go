package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSubmission(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordSubmission("native", "accepted", 10)
	m.RecordSubmission("native", "accepted", 5)
	m.RecordSubmission("credit_alphanum4", "rejected", 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SubmissionCount.WithLabelValues("native", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionCount.WithLabelValues("credit_alphanum4", "rejected")))
}

func TestSequenceConflictsAndErrors(t *testing.T) {
	m := New(DefaultConfig())

	m.RecordSequenceConflict()
	m.RecordSubmissionError("SUBMISSION_REJECTED")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SequenceConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubmissionErrorCount.WithLabelValues("SUBMISSION_REJECTED")))
}

func TestInFlightGauge(t *testing.T) {
	m := New(DefaultConfig())

	done := m.TrackInFlight()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestInFlight.WithLabelValues("lumenpay")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RequestInFlight.WithLabelValues("lumenpay")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRequest("GET", "/api/health", 200, time.Millisecond)
		m.RecordSubmission("native", "accepted", 1)
		m.RecordDependencyLatency("horizon", "load_account", time.Millisecond)
		m.RecordLockWait(time.Millisecond)
		m.TrackInFlight()()
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordRequest("GET", "/api/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lumenpay_request_total")
}
