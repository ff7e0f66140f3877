package metrics

import "time"

// TransferMetrics provides observability for the fragmented datagram
// transfer engine. Direction is "upload" (client to server) or "download".
type TransferMetrics interface {
	// RecordFragmentSent counts one fragment transmission, including
	// retransmissions.
	RecordFragmentSent(direction string)

	// RecordRetransmission counts a fragment resent after an ACK timeout.
	RecordRetransmission(direction string)

	// RecordFragmentReceived counts an accepted inbound fragment.
	RecordFragmentReceived(duplicate bool)

	// RecordFragmentRejected counts an inbound fragment acknowledged with
	// ok=false.
	RecordFragmentRejected()

	// RecordTransferCompleted records a finished transfer.
	RecordTransferCompleted(direction string, bytes int64, duration time.Duration)

	// RecordTransferAborted counts a transfer abandoned after exhausted retries.
	RecordTransferAborted(direction string)

	// RecordTransferEvicted counts an idle inbound transfer removed by the
	// sweeper.
	RecordTransferEvicted()

	// SetActiveTransfers updates the in-progress transfer gauge.
	SetActiveTransfers(direction string, count int)
}
