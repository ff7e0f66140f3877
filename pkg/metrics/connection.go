package metrics

// ConnectionMetrics records connection lifecycle for one transport. It
// satisfies adapter.MetricsRecorder.
type ConnectionMetrics interface {
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	SetActiveConnections(count int32)

	// RecordMessageRejected counts an inbound message discarded before
	// dispatch: a datagram on udp, a call body on rpc. Reason is
	// "malformed", "queue_full" or "unexpected".
	RecordMessageRejected(reason string)
}
