package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProcTerminateTotal counts termination signals sent to process groups.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_proc_terminate_total",
		Help: "Total number of termination attempts, by signal and result (sent/esrch/error).",
	}, []string{"signal", "result"})

	// ProcWaitTotal counts how terminated processes finished.
	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_proc_wait_total",
		Help: "Total number of reaped processes, by result.",
	}, []string{"result"})
)

// IncProcTerminate records a termination attempt.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records how a terminated process was reaped.
func IncProcWait(result string) {
	ProcWaitTotal.WithLabelValues(result).Inc()
}
