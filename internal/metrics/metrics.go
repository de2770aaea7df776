package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts compiler sessions by outcome: "compiled",
	// "compile_error", "creation_error" or "abandoned" (closed without compiling).
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptxcompiler_sessions_total",
		Help: "The total number of PTX compiler sessions by outcome",
	}, []string{"outcome"})

	// HandlesLive is the number of native compiler handles not yet destroyed.
	HandlesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ptxcompiler_handles_live",
		Help: "Native compiler handles currently allocated",
	})

	CompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ptxcompiler_compile_duration_ms",
		Help:    "Duration of native PTX compilation in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1ms to ~32s
	})

	CubinCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptxcompiler_cubin_cache_total",
		Help: "Architecture-keyed cubin cache lookups by result (hit, miss)",
	}, []string{"result"})

	// ProbesTotal counts version probes by outcome: "ok" or "failed".
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptxcompiler_version_probes_total",
		Help: "The total number of isolated driver/runtime version probes",
	}, []string{"outcome"})

	// Decisions counts gate decisions by terminal state.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ptxcompiler_gate_decisions_total",
		Help: "Compatibility gate decisions by terminal state",
	}, []string{"state"})

	PatchApplied = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ptxcompiler_patch_applied",
		Help: "1 once the forward-compatible strategy has been installed",
	})
)

// WriteTextfile writes every registered metric to path in the text exposition
// format, for collection by a node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
