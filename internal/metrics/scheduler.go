// Package metrics provides Prometheus metrics for the tunerd subsystems.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// No cardinality explosion: user ids and request ids never become labels.

var (
	// SchedulerRequestsTotal counts stream requests by outcome and the selection step that served them.
	SchedulerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_scheduler_requests_total",
		Help: "Total number of stream requests, by result and selection step (join/start/replace/preempt/none).",
	}, []string{"result", "step"})

	// SchedulerRetriesTotal counts deferred re-checks while no device was eligible.
	SchedulerRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunerd_scheduler_retries_total",
		Help: "Total number of device selection retries.",
	})

	// PreemptTotal counts preemption events by victim and request priority.
	PreemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_preempt_total",
		Help: "Total number of preemption events, by victim and request priority.",
	}, []string{"victim_priority", "request_priority"})
)

// IncSchedulerRequest records the outcome of a device selection.
func IncSchedulerRequest(success bool, step string) {
	result := "failure"
	if success {
		result = "success"
	}
	SchedulerRequestsTotal.WithLabelValues(result, step).Inc()
}

// IncSchedulerRetry records one deferred re-check.
func IncSchedulerRetry() {
	SchedulerRetriesTotal.Inc()
}

// IncPreempt records a preemption of a device held at victim priority.
func IncPreempt(victim, request int) {
	PreemptTotal.WithLabelValues(priorityLabel(victim), priorityLabel(request)).Inc()
}

func priorityLabel(p int) string {
	// clamp so arbitrary client-supplied priorities cannot explode the label set
	switch {
	case p < -2:
		return "lowest"
	case p > 10:
		return "highest"
	default:
		return strconv.Itoa(p)
	}
}
