package prometheus

import (
	"time"

	"github.com/cin-tie/remote-shell/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// shellMetrics is the Prometheus implementation of metrics.ShellMetrics.
type shellMetrics struct {
	commandsTotal    *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	commandsInFlight *prometheus.GaugeVec
	bytesTransferred *prometheus.CounterVec
	sessionsOpened   *prometheus.CounterVec
	sessionsClosed   *prometheus.CounterVec
	connectRejected  *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

// NewShellMetrics creates a Prometheus-backed ShellMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewShellMetrics() metrics.ShellMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &shellMetrics{
		commandsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_commands_total",
				Help: "Total number of commands by transport, command, and status",
			},
			[]string{"transport", "command", "status"}, // status: "ok", "error"
		),
		commandDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "rshell_command_duration_milliseconds",
				Help: "Duration of commands in milliseconds",
				Buckets: []float64{
					1,     // 1ms - getdir, chdir
					10,    // 10ms
					100,   // 100ms - short shell commands
					1000,  // 1s
					10000, // 10s
					30000, // 30s - default execute timeout
				},
			},
			[]string{"transport", "command"},
		),
		commandsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rshell_commands_in_flight",
				Help: "Current number of commands being processed",
			},
			[]string{"transport", "command"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_file_bytes_total",
				Help: "Total file bytes moved by upload and download commands",
			},
			[]string{"transport", "direction"},
		),
		sessionsOpened: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_sessions_opened_total",
				Help: "Total number of successful connects by transport",
			},
			[]string{"transport"},
		),
		sessionsClosed: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_sessions_closed_total",
				Help: "Total number of session teardowns by transport and reason",
			},
			[]string{"transport", "reason"},
		),
		connectRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_connect_rejected_total",
				Help: "Total number of refused connects by reason",
			},
			[]string{"reason"},
		),
		activeSessions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "rshell_active_sessions",
				Help: "Current number of registered sessions",
			},
		),
	}
}

func (m *shellMetrics) RecordCommand(transport, command string, duration time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	m.commandsTotal.WithLabelValues(transport, command, status).Inc()
	m.commandDuration.WithLabelValues(transport, command).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *shellMetrics) RecordCommandStart(transport, command string) {
	m.commandsInFlight.WithLabelValues(transport, command).Inc()
}

func (m *shellMetrics) RecordCommandEnd(transport, command string) {
	m.commandsInFlight.WithLabelValues(transport, command).Dec()
}

func (m *shellMetrics) RecordBytesTransferred(transport, direction string, bytes int64) {
	if bytes > 0 {
		m.bytesTransferred.WithLabelValues(transport, direction).Add(float64(bytes))
	}
}

func (m *shellMetrics) RecordSessionOpened(transport string) {
	m.sessionsOpened.WithLabelValues(transport).Inc()
}

func (m *shellMetrics) RecordSessionClosed(transport, reason string) {
	m.sessionsClosed.WithLabelValues(transport, reason).Inc()
}

func (m *shellMetrics) RecordConnectRejected(reason string) {
	m.connectRejected.WithLabelValues(reason).Inc()
}

func (m *shellMetrics) SetActiveSessions(count int) {
	m.activeSessions.Set(float64(count))
}
