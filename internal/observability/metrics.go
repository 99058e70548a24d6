package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Command results recorded by RecordCommand.
const (
	ResultOK              = "ok"
	ResultServerError     = "server_error"
	ResultConnectionError = "connection_error"
	ResultProtocolError   = "protocol_error"
	ResultCanceled        = "canceled"
)

var (
	registerOnce sync.Once

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpdctl",
			Subsystem: "client",
			Name:      "commands_total",
			Help:      "Commands executed against the daemon.",
		},
		[]string{"command", "result"},
	)
	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mpdctl",
			Subsystem: "client",
			Name:      "command_duration_seconds",
			Help:      "Round trip time of one command in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	framesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpdctl",
			Subsystem: "client",
			Name:      "frames_total",
			Help:      "Response frames decoded from the wire.",
		},
		[]string{"kind"},
	)
	connectionLosses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mpdctl",
			Subsystem: "client",
			Name:      "connection_losses_total",
			Help:      "Unexpected connection losses.",
		},
	)
	reconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpdctl",
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts fired after a connection loss.",
		},
		[]string{"success"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mpdctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mpdctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			commandsTotal,
			commandDuration,
			framesTotal,
			connectionLosses,
			reconnectsTotal,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordCommand(command, result string, duration time.Duration) {
	RegisterMetrics()
	commandsTotal.WithLabelValues(command, result).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

func RecordFrame(kind string) {
	RegisterMetrics()
	framesTotal.WithLabelValues(kind).Inc()
}

func RecordConnectionLoss() {
	RegisterMetrics()
	connectionLosses.Inc()
}

func RecordReconnect(success bool) {
	RegisterMetrics()
	reconnectsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

func RecordHTTPRequest(service, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(service, method, path, statusLabel).Observe(duration.Seconds())
}
