package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BruteforceOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitrot_bruteforce_total",
		Help: "The total number of bit-flip searches by outcome and backend",
	}, []string{"outcome", "backend"})

	BruteforceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitrot_bruteforce_errors_total",
		Help: "The total number of searches that failed on the selected backend",
	}, []string{"backend"})

	BruteforceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bitrot_bruteforce_duration_ms",
		Help:    "Duration of a GPU bit-flip search in milliseconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1ms to ~32s
	})

	BackendSelected = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bitrot_backend_selected",
		Help: "Set to 1 for the execution backend and vendor selected by this process",
	}, []string{"backend", "vendor"})

	DeviceInit = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitrot_device_init_total",
		Help: "The total number of bytecode runtime initializations by result",
	}, []string{"result"})

	// Repair Metrics
	PiecesVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitrot_pieces_total",
		Help: "The total number of pieces verified by result",
	}, []string{"result"})

	BytesVerified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitrot_bytes_verified_total",
		Help: "The total number of bytes hashed during verification",
	})
)

// WriteTextfile writes the default registry to path in the text exposition
// format read by the node exporter's textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
