package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FilterBytesTotal tracks bytes entering and leaving stream filters.
	FilterBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_filter_bytes_total",
		Help: "Total bytes processed by stream filters, by direction (in/out).",
	}, []string{"direction"})

	// FilterOverflowTotal counts filters force-closed because the consumer fell behind.
	FilterOverflowTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tunerd_filter_overflow_total",
		Help: "Total number of stream filters closed because the output buffer exceeded its high-water mark.",
	})

	// FilterSectionErrorsTotal counts PSI/SI sections dropped by the decoder.
	FilterSectionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_filter_section_errors_total",
		Help: "Total number of PSI/SI sections dropped, by table.",
	}, []string{"table"})

	// FiltersActive tracks open stream filters.
	FiltersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tunerd_filters_active",
		Help: "Number of open stream filters.",
	})
)

// AddFilterBytes records filter throughput.
func AddFilterBytes(direction string, n int) {
	FilterBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// IncFilterOverflow records a high-water close.
func IncFilterOverflow() {
	FilterOverflowTotal.Inc()
}

// IncSectionError records a dropped section.
func IncSectionError(table string) {
	FilterSectionErrorsTotal.WithLabelValues(table).Inc()
}
