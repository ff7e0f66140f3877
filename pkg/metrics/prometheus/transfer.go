package prometheus

import (
	"strconv"
	"time"

	"github.com/cin-tie/remote-shell/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// transferMetrics is the Prometheus implementation of metrics.TransferMetrics.
type transferMetrics struct {
	fragmentsSent      *prometheus.CounterVec
	retransmissions    *prometheus.CounterVec
	fragmentsReceived  *prometheus.CounterVec
	fragmentsRejected  prometheus.Counter
	transfersCompleted *prometheus.CounterVec
	transferBytes      *prometheus.HistogramVec
	transferDuration   *prometheus.HistogramVec
	transfersAborted   *prometheus.CounterVec
	transfersEvicted   prometheus.Counter
	activeTransfers    *prometheus.GaugeVec
}

// NewTransferMetrics creates a Prometheus-backed TransferMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewTransferMetrics() metrics.TransferMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &transferMetrics{
		fragmentsSent: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_fragments_sent_total",
				Help: "Total number of fragment transmissions by direction",
			},
			[]string{"direction"},
		),
		retransmissions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_fragment_retransmissions_total",
				Help: "Total number of fragments resent after an ACK timeout",
			},
			[]string{"direction"},
		),
		fragmentsReceived: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_fragments_received_total",
				Help: "Total number of accepted inbound fragments",
			},
			[]string{"duplicate"},
		),
		fragmentsRejected: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "rshell_fragments_rejected_total",
				Help: "Total number of inbound fragments acknowledged with ok=false",
			},
		),
		transfersCompleted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_transfers_completed_total",
				Help: "Total number of completed fragmented transfers",
			},
			[]string{"direction"},
		),
		transferBytes: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "rshell_transfer_bytes",
				Help: "Distribution of fragmented transfer sizes",
				Buckets: []float64{
					4000,     // one fragment
					40000,    // 10 fragments
					400000,   // 100 fragments
					4000000,  // 1000 fragments
					40000000, // 10000 fragments
				},
			},
			[]string{"direction"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "rshell_transfer_duration_milliseconds",
				Help: "Duration of completed fragmented transfers in milliseconds",
				Buckets: []float64{
					10,     // 10ms
					100,    // 100ms
					1000,   // 1s
					10000,  // 10s
					100000, // 100s
				},
			},
			[]string{"direction"},
		),
		transfersAborted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "rshell_transfers_aborted_total",
				Help: "Total number of transfers aborted after exhausted retries",
			},
			[]string{"direction"},
		),
		transfersEvicted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "rshell_transfers_evicted_total",
				Help: "Total number of idle inbound transfers evicted",
			},
		),
		activeTransfers: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rshell_active_transfers",
				Help: "Current number of in-progress fragmented transfers",
			},
			[]string{"direction"},
		),
	}
}

func (m *transferMetrics) RecordFragmentSent(direction string) {
	m.fragmentsSent.WithLabelValues(direction).Inc()
}

func (m *transferMetrics) RecordRetransmission(direction string) {
	m.retransmissions.WithLabelValues(direction).Inc()
}

func (m *transferMetrics) RecordFragmentReceived(duplicate bool) {
	m.fragmentsReceived.WithLabelValues(strconv.FormatBool(duplicate)).Inc()
}

func (m *transferMetrics) RecordFragmentRejected() {
	m.fragmentsRejected.Inc()
}

func (m *transferMetrics) RecordTransferCompleted(direction string, bytes int64, duration time.Duration) {
	m.transfersCompleted.WithLabelValues(direction).Inc()
	m.transferBytes.WithLabelValues(direction).Observe(float64(bytes))
	m.transferDuration.WithLabelValues(direction).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *transferMetrics) RecordTransferAborted(direction string) {
	m.transfersAborted.WithLabelValues(direction).Inc()
}

func (m *transferMetrics) RecordTransferEvicted() {
	m.transfersEvicted.Inc()
}

func (m *transferMetrics) SetActiveTransfers(direction string, count int) {
	m.activeTransfers.WithLabelValues(direction).Set(float64(count))
}
