package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TunerProcessesSpawnedTotal counts capture process spawns per device.
	TunerProcessesSpawnedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_tuner_processes_spawned_total",
		Help: "Total number of capture processes spawned, by device index.",
	}, []string{"device"})

	// TunerRespawnsTotal counts automatic respawns after an unexpected capture exit.
	TunerRespawnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_tuner_respawns_total",
		Help: "Total number of automatic capture process respawns, by device index.",
	}, []string{"device"})

	// TunerProcessExitsTotal counts capture process exits by cause.
	TunerProcessExitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_tuner_process_exits_total",
		Help: "Total number of capture process exits, by device index and cause (killed/crashed/error).",
	}, []string{"device", "cause"})

	// TunerUsers tracks attached consumers per device.
	TunerUsers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tunerd_tuner_users",
		Help: "Number of consumers attached to a device.",
	}, []string{"device"})

	// TunerAvailable reports 1 while a device accepts new streams.
	TunerAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tunerd_tuner_available",
		Help: "Whether the device is available (1) or releasing (0).",
	}, []string{"device"})

	// TunerBytesTotal counts raw capture bytes read per device.
	TunerBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tunerd_tuner_bytes_total",
		Help: "Total number of transport stream bytes read from capture processes.",
	}, []string{"device"})
)

func deviceLabel(index int) string {
	return strconv.Itoa(index)
}

// IncTunerSpawn records a capture process spawn.
func IncTunerSpawn(index int) {
	TunerProcessesSpawnedTotal.WithLabelValues(deviceLabel(index)).Inc()
}

// IncTunerRespawn records an automatic respawn.
func IncTunerRespawn(index int) {
	TunerRespawnsTotal.WithLabelValues(deviceLabel(index)).Inc()
}

// IncTunerExit records a capture process exit.
func IncTunerExit(index int, cause string) {
	TunerProcessExitsTotal.WithLabelValues(deviceLabel(index), cause).Inc()
}

// SetTunerUsers updates the attached consumer gauge.
func SetTunerUsers(index, n int) {
	TunerUsers.WithLabelValues(deviceLabel(index)).Set(float64(n))
}

// SetTunerAvailable updates the availability gauge.
func SetTunerAvailable(index int, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	TunerAvailable.WithLabelValues(deviceLabel(index)).Set(v)
}

// AddTunerBytes records bytes read from a capture process.
func AddTunerBytes(index, n int) {
	TunerBytesTotal.WithLabelValues(deviceLabel(index)).Add(float64(n))
}
