package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EPGSectionsTotal counts EIT schedule sections handed to the EPG sink.
	EPGSectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_epg_sections_total",
		Help: "Total EIT sections delivered to the EPG sink, by table kind (basic/extended).",
	}, []string{"table"})

	// EPGReadyTotal counts completed EPG captures.
	EPGReadyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunerd_epg_ready_total",
		Help: "Total number of times a stream filter observed a complete EPG.",
	})

	// EPGGatherTotal counts gathering runs per network by result.
	EPGGatherTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_epg_gather_total",
		Help: "Total number of EPG gathering runs, by result.",
	}, []string{"result"})

	// EPGEventsWrittenTotal counts events upserted into the program store.
	EPGEventsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunerd_epg_events_written_total",
		Help: "Total number of EIT events written to the program store.",
	})

	// EPGDroppedTotal counts EIT sections dropped because the store queue was full.
	EPGDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunerd_epg_dropped_sections_total",
		Help: "Total number of EIT sections dropped before persistence.",
	})
)

// IncEPGSection records a schedule section.
func IncEPGSection(extended bool) {
	table := "basic"
	if extended {
		table = "extended"
	}
	EPGSectionsTotal.WithLabelValues(table).Inc()
}

// IncEPGReady records a completed capture.
func IncEPGReady() {
	EPGReadyTotal.Inc()
}

// IncEPGGather records a gathering outcome.
func IncEPGGather(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	EPGGatherTotal.WithLabelValues(result).Inc()
}

// AddEPGEventsStored records events written by one store transaction.
func AddEPGEventsStored(n int) {
	if n > 0 {
		EPGEventsWrittenTotal.Add(float64(n))
	}
}

// IncEPGDropped records a section dropped on a full store queue.
func IncEPGDropped() {
	EPGDroppedTotal.Inc()
}
