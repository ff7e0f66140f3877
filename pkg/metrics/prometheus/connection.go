package prometheus

import (
	"sync"

	"github.com/cin-tie/remote-shell/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// connectionCollectors are shared by every transport; each recorder curries
// the transport label.
type connectionCollectors struct {
	accepted    *prometheus.CounterVec
	closed      *prometheus.CounterVec
	forceClosed *prometheus.CounterVec
	active      *prometheus.GaugeVec
	rejected    *prometheus.CounterVec
}

var (
	connOnce sync.Once
	connVecs *connectionCollectors
)

func sharedConnectionCollectors() *connectionCollectors {
	connOnce.Do(func() {
		reg := metrics.GetRegistry()
		connVecs = &connectionCollectors{
			accepted: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "rshell_connections_accepted_total",
					Help: "Total number of accepted connections or new datagram endpoints",
				},
				[]string{"transport"},
			),
			closed: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "rshell_connections_closed_total",
					Help: "Total number of closed connections",
				},
				[]string{"transport"},
			),
			forceClosed: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "rshell_connections_force_closed_total",
					Help: "Total number of connections force-closed after the shutdown timeout",
				},
				[]string{"transport"},
			),
			active: promauto.With(reg).NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "rshell_active_connections",
					Help: "Current number of active connections",
				},
				[]string{"transport"},
			),
			rejected: promauto.With(reg).NewCounterVec(
				prometheus.CounterOpts{
					Name: "rshell_messages_rejected_total",
					Help: "Total number of inbound messages rejected before dispatch",
				},
				[]string{"transport", "reason"},
			),
		}
	})
	return connVecs
}

// connectionMetrics is the Prometheus implementation of
// metrics.ConnectionMetrics for one transport.
type connectionMetrics struct {
	transport string
	vecs      *connectionCollectors
}

// NewConnectionMetrics creates a recorder labelled with transport.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewConnectionMetrics(transport string) metrics.ConnectionMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return &connectionMetrics{
		transport: transport,
		vecs:      sharedConnectionCollectors(),
	}
}

func (m *connectionMetrics) RecordConnectionAccepted() {
	m.vecs.accepted.WithLabelValues(m.transport).Inc()
}

func (m *connectionMetrics) RecordConnectionClosed() {
	m.vecs.closed.WithLabelValues(m.transport).Inc()
}

func (m *connectionMetrics) RecordConnectionForceClosed() {
	m.vecs.forceClosed.WithLabelValues(m.transport).Inc()
}

func (m *connectionMetrics) SetActiveConnections(count int32) {
	m.vecs.active.WithLabelValues(m.transport).Set(float64(count))
}

func (m *connectionMetrics) RecordMessageRejected(reason string) {
	m.vecs.rejected.WithLabelValues(m.transport, reason).Inc()
}
