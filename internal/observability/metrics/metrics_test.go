package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewQueueMetrics(reg)
	m.ObserveAllocation(OutcomeAllocated)
	m.ObserveAllocation(OutcomeAllocated)
	m.ObserveAllocation(OutcomeForceBooked)
	m.ObserveReservation(true)
	m.ObserveReservation(false)
	m.ObserveTransition("Pending", "Skipped", "sweep")
	m.ObserveCompute("ok", 0.002)
	m.ObserveDegradedRead("queue")
	m.ObserveDoctorStatus("Out", "sweep")

	summary := Summarize(reg)
	assert.Equal(t, 2.0, summary.Allocations[OutcomeAllocated])
	assert.Equal(t, 1.0, summary.Allocations[OutcomeForceBooked])
	assert.Equal(t, 1.0, summary.Reservations["conflict"])
	assert.Equal(t, 1.0, summary.Transitions)
	assert.Equal(t, 1.0, summary.DegradedReads)
	assert.Equal(t, uint64(1), summary.Computations)
}

func TestQueueMetricsNilSafe(t *testing.T) {
	var m *QueueMetrics
	m.ObserveAllocation(OutcomeError)
	m.ObserveReservation(true)
	m.ObserveTransition("a", "b", "c")
	m.ObserveCompute("ok", 0.1)
	m.ObserveDegradedRead("queue")
	m.ObserveDoctorStatus("In", "staff")
}

type stubGatherer struct {
	families []*dto.MetricFamily
}

func (s stubGatherer) Gather() ([]*dto.MetricFamily, error) {
	return s.families, nil
}

func TestSummarizeIgnoresUnrelatedFamilies(t *testing.T) {
	name := "go_goroutines"
	value := 12.0
	g := stubGatherer{families: []*dto.MetricFamily{{
		Name:   &name,
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: &value}}},
	}}}

	summary := Summarize(g)
	assert.Empty(t, summary.Allocations)
	assert.Zero(t, summary.Transitions)
}

func TestSummaryHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewQueueMetrics(reg).ObserveAllocation(OutcomeSlotUnavailable)

	rec := httptest.NewRecorder()
	SummaryHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ops/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1.0, body.Allocations[OutcomeSlotUnavailable])
}
