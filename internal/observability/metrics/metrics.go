package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "frontdesk"
	subsystem = "queue"
)

// Allocation outcomes recorded by ObserveAllocation.
const (
	OutcomeAllocated         = "allocated"
	OutcomeForceBooked       = "force_booked"
	OutcomeSlotUnavailable   = "slot_unavailable"
	OutcomeDoctorUnavailable = "doctor_unavailable"
	OutcomeConflict          = "reservation_conflict"
	OutcomeError             = "error"
)

// QueueMetrics exposes counters/histograms for the queue engine.
type QueueMetrics struct {
	allocations     *prometheus.CounterVec
	reservations    *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	computeLatency  *prometheus.HistogramVec
	degradedReads   *prometheus.CounterVec
	doctorStatusSet *prometheus.CounterVec
}

func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "walkin_allocations_total",
			Help:      "Walk-in allocation attempts by outcome",
		}, []string{"outcome"}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "slot_reservations_total",
			Help:      "Slot reservation attempts by result",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "status_transitions_total",
			Help:      "Appointment status transitions",
		}, []string{"from", "to", "source"}),
		computeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "compute_seconds",
			Help:      "Latency of queue snapshot computation including the store read",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		degradedReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "degraded_reads_total",
			Help:      "Store reads that failed and were served as an empty result",
		}, []string{"component"}),
		doctorStatusSet: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "doctor_status_changes_total",
			Help:      "Doctor In/Out changes by source",
		}, []string{"to", "source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.allocations, m.reservations, m.transitions, m.computeLatency, m.degradedReads, m.doctorStatusSet)
	return m
}

func (m *QueueMetrics) ObserveAllocation(outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(outcome).Inc()
}

func (m *QueueMetrics) ObserveReservation(acquired bool) {
	if m == nil {
		return
	}
	result := "acquired"
	if !acquired {
		result = "conflict"
	}
	m.reservations.WithLabelValues(result).Inc()
}

func (m *QueueMetrics) ObserveTransition(from, to, source string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to, source).Inc()
}

func (m *QueueMetrics) ObserveCompute(result string, seconds float64) {
	if m == nil {
		return
	}
	m.computeLatency.WithLabelValues(result).Observe(seconds)
}

func (m *QueueMetrics) ObserveDegradedRead(component string) {
	if m == nil {
		return
	}
	m.degradedReads.WithLabelValues(component).Inc()
}

func (m *QueueMetrics) ObserveDoctorStatus(to, source string) {
	if m == nil {
		return
	}
	m.doctorStatusSet.WithLabelValues(to, source).Inc()
}
