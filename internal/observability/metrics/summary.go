package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Summary is a compact JSON view over the queue counters for the staff
// console, so it does not need to parse the Prometheus exposition format.
type Summary struct {
	Allocations   map[string]float64 `json:"allocations"`
	Reservations  map[string]float64 `json:"reservations"`
	Transitions   float64            `json:"transitions"`
	DegradedReads float64            `json:"degraded_reads"`
	Computations  uint64             `json:"queue_computations"`
}

// Summarize reads the queue families from gatherer.
func Summarize(gatherer prometheus.Gatherer) Summary {
	out := Summary{
		Allocations:  map[string]float64{},
		Reservations: map[string]float64{},
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mfs, err := gatherer.Gather()
	if err != nil {
		return out
	}

	for _, mf := range mfs {
		if mf == nil {
			continue
		}
		switch mf.GetName() {
		case "frontdesk_queue_walkin_allocations_total":
			sumByLabel(mf, "outcome", out.Allocations)
		case "frontdesk_queue_slot_reservations_total":
			sumByLabel(mf, "result", out.Reservations)
		case "frontdesk_queue_status_transitions_total":
			out.Transitions = sumCounters(mf)
		case "frontdesk_queue_degraded_reads_total":
			out.DegradedReads = sumCounters(mf)
		case "frontdesk_queue_compute_seconds":
			for _, metric := range mf.Metric {
				if h := metric.GetHistogram(); h != nil {
					out.Computations += h.GetSampleCount()
				}
			}
		}
	}
	return out
}

func sumByLabel(mf *dto.MetricFamily, label string, into map[string]float64) {
	for _, metric := range mf.Metric {
		if metric == nil || metric.GetCounter() == nil {
			continue
		}
		into[labelValue(metric, label)] += metric.GetCounter().GetValue()
	}
}

func sumCounters(mf *dto.MetricFamily) float64 {
	var total float64
	for _, metric := range mf.Metric {
		if metric != nil && metric.GetCounter() != nil {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func labelValue(metric *dto.Metric, name string) string {
	for _, lp := range metric.Label {
		if lp != nil && lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// SummaryHandler serves Summarize as JSON.
func SummaryHandler(gatherer prometheus.Gatherer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Summarize(gatherer))
	}
}
