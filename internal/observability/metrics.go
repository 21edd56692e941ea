package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muxctl",
			Name:      "operations_total",
			Help:      "Host operations by outcome status.",
		},
		[]string{"op", "status"},
	)
	operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "muxctl",
			Name:      "operation_duration_seconds",
			Help:      "Host operation duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"op"},
	)
	controlCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muxctl",
			Name:      "control_commands_total",
			Help:      "Debugserver commands issued by stage and result.",
		},
		[]string{"stage", "result"},
	)
	stagedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "muxctl",
			Name:      "staged_bytes_total",
			Help:      "Package bytes written to the staging area.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "muxctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "muxctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(operations, operationDuration, controlCommands, stagedBytes, httpRequests, httpDuration)
	})
}

// Recorder feeds operation telemetry into the process registry.
type Recorder struct{}

func (Recorder) ObserveOperation(op string, status string, elapsed time.Duration) {
	RegisterMetrics()
	operations.WithLabelValues(op, status).Inc()
	operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (Recorder) ObserveControlCommand(stage string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	controlCommands.WithLabelValues(stage, result).Inc()
}

func (Recorder) AddStagedBytes(n int) {
	RegisterMetrics()
	if n > 0 {
		stagedBytes.Add(float64(n))
	}
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
