package blake3pool

import (
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	influxdbreporter "github.com/ethereum/go-ethereum/metrics/influxdb"
)

// Metrics counter/timer names, grouped the way the teacher names its
// netstore counters ("netstore/get", "netstore/fetcher/lifetime/...").
const (
	metricHashFileCalls   = "blake3pool/hash_file/calls"
	metricHashFileLatency = "blake3pool/hash_file/latency"
	metricTasksDispatched = "blake3pool/tasks/dispatched"
	metricTasksFailed     = "blake3pool/tasks/failed"
	metricTaskTimeouts    = "blake3pool/tasks/timeout"
	metricWorkerFailures  = "blake3pool/workers/failed"
)

// recordHashFileCall updates the package-level counters/timer for one
// completed HashFile call, win or lose.
func recordHashFileCall(start time.Time, err error) {
	metrics.GetOrRegisterCounter(metricHashFileCalls, nil).Inc(1)
	metrics.GetOrRegisterResettingTimer(metricHashFileLatency, nil).UpdateSince(start)
	if err != nil {
		metrics.GetOrRegisterCounter(metricTasksFailed, nil).Inc(1)
	}
}

func recordTaskDispatched() {
	metrics.GetOrRegisterCounter(metricTasksDispatched, nil).Inc(1)
}

func recordTaskTimeout() {
	metrics.GetOrRegisterCounter(metricTaskTimeouts, nil).Inc(1)
}

func recordWorkerFailure() {
	metrics.GetOrRegisterCounter(metricWorkerFailures, nil).Inc(1)
}

// MetricsExportOptions configures the optional push of this package's
// metrics registry to InfluxDB, mirroring metrics/flags.go's
// Options/Setup pattern in the teacher.
type MetricsExportOptions struct {
	Endpoint     string
	Database     string
	Username     string
	Password     string
	InfluxDBTags map[string]string
}

// SetupMetricsExport starts a background goroutine pushing
// metrics.DefaultRegistry to InfluxDB every 10s, exactly as
// metrics/flags.go's Setup does for swarm's own registry. Callers
// decide whether to invoke this; the package itself never starts
// export on its own.
func SetupMetricsExport(o MetricsExportOptions) {
	go influxdbreporter.InfluxDBWithTags(
		metrics.DefaultRegistry, 10*time.Second,
		o.Endpoint, o.Database, o.Username, o.Password,
		"blake3pool.", o.InfluxDBTags,
	)
}
