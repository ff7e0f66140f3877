package fragment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/internal/telemetry"
	"github.com/cin-tie/remote-shell/pkg/metrics"
	"github.com/cin-tie/remote-shell/pkg/protocol"
)

// SendFunc transmits one message to endpoint.
type SendFunc func(ctx context.Context, endpoint string, msg protocol.Message) error

// outbound is the acknowledgement state of one transfer being sent.
type outbound struct {
	total    uint32
	acked    bitmap
	rejected int64 // index of a fragment acked with ok=false, -1 if none
	notify   chan struct{}
}

// Sender delivers payloads fragment by fragment.
type Sender struct {
	cfg       Config
	direction string
	send      SendFunc
	metrics   metrics.TransferMetrics

	mu       sync.Mutex
	inFlight map[key]*outbound
}

// NewSender creates a sender for transfers in direction. A nil m disables
// metrics.
func NewSender(cfg Config, direction string, send SendFunc, m metrics.TransferMetrics) *Sender {
	cfg.ApplyDefaults()
	return &Sender{
		cfg:       cfg,
		direction: direction,
		send:      send,
		metrics:   m,
		inFlight:  make(map[key]*outbound),
	}
}

// Config returns the effective configuration.
func (s *Sender) Config() Config {
	return s.cfg
}

// Active returns the number of transfers in flight.
func (s *Sender) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inFlight)
}

// Send delivers data with meta to endpoint and returns once every fragment
// has been acknowledged. A fragment that stays unacknowledged after
// MaxAttempts transmissions, or that the receiver rejects, aborts the
// transfer with ErrTransferAborted.
func (s *Sender) Send(ctx context.Context, endpoint, transferID string, meta protocol.TransferMetadata, data []byte) (err error) {
	frags, err := Split(transferID, meta, data, s.cfg.FragmentSize)
	if err != nil {
		return err
	}
	total := uint32(len(frags))

	ctx, span := telemetry.StartTransferSpan(ctx, s.direction, transferID, total,
		telemetry.Size(int64(len(data))), telemetry.ClientAddr(endpoint))
	defer span.End()

	k := key{endpoint: endpoint, id: transferID}
	out := &outbound{
		total:    total,
		acked:    newBitmap(total),
		rejected: -1,
		notify:   make(chan struct{}, 1),
	}

	s.mu.Lock()
	if _, exists := s.inFlight[k]; exists {
		s.mu.Unlock()
		return fmt.Errorf("transfer %s to %s already in flight", transferID, endpoint)
	}
	s.inFlight[k] = out
	s.setActive()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, k)
		s.setActive()
		s.mu.Unlock()
	}()

	start := time.Now()
	retransmissions := 0
	defer func() {
		telemetry.SetAttributes(ctx, telemetry.Retransmissions(retransmissions))
		if err != nil {
			telemetry.RecordError(ctx, err)
			if s.metrics != nil {
				s.metrics.RecordTransferAborted(s.direction)
			}
			return
		}
		if s.metrics != nil {
			s.metrics.RecordTransferCompleted(s.direction, int64(len(data)), time.Since(start))
		}
	}()

	logger.DebugCtx(ctx, "Transfer started",
		logger.KeyTransferID, transferID,
		logger.KeyFragmentTotal, total,
		logger.KeySize, len(data))

	for _, f := range frags {
		attempts, err := s.deliver(ctx, endpoint, out, f)
		retransmissions += attempts - 1
		if err != nil {
			logger.WarnCtx(ctx, "Transfer aborted",
				logger.KeyTransferID, transferID,
				logger.KeyFragmentIndex, f.Index,
				logger.KeyAttempt, attempts,
				logger.Err(err))
			return err
		}
	}

	logger.DebugCtx(ctx, "Transfer completed",
		logger.KeyTransferID, transferID,
		logger.KeyFragmentTotal, total,
		"retransmissions", retransmissions)
	return nil
}

// deliver sends f until it is acknowledged. It returns the number of
// transmissions made.
func (s *Sender) deliver(ctx context.Context, endpoint string, out *outbound, f *protocol.Fragment) (int, error) {
	timer := time.NewTimer(s.cfg.AckTimeout)
	defer timer.Stop()

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			logger.DebugCtx(ctx, "Retransmitting fragment",
				logger.KeyTransferID, f.TransferID,
				logger.KeyFragmentIndex, f.Index,
				logger.KeyAttempt, attempt)
			if s.metrics != nil {
				s.metrics.RecordRetransmission(s.direction)
			}
		}

		if err := s.send(ctx, endpoint, f); err != nil {
			return attempt, fmt.Errorf("%w: send fragment %d: %w", ErrTransferAborted, f.Index, err)
		}
		if s.metrics != nil {
			s.metrics.RecordFragmentSent(s.direction)
		}

		timer.Reset(s.cfg.AckTimeout)
		acked, err := s.await(ctx, out, f.Index, timer.C)
		if err != nil {
			return attempt, err
		}
		if acked {
			return attempt, nil
		}
	}

	return s.cfg.MaxAttempts, fmt.Errorf("%w: no acknowledgement for fragment %d after %d attempts",
		ErrTransferAborted, f.Index, s.cfg.MaxAttempts)
}

// await blocks until index is acknowledged (true), the timer fires (false),
// or the transfer fails.
func (s *Sender) await(ctx context.Context, out *outbound, index uint32, expired <-chan time.Time) (bool, error) {
	for {
		s.mu.Lock()
		acked := out.acked.has(index)
		rejected := out.rejected
		s.mu.Unlock()

		if acked {
			return true, nil
		}
		if rejected >= 0 {
			return false, fmt.Errorf("%w: fragment %d rejected by receiver", ErrTransferAborted, rejected)
		}

		select {
		case <-out.notify:
		case <-expired:
			return false, nil
		case <-ctx.Done():
			return false, fmt.Errorf("%w: %w", ErrTransferAborted, ctx.Err())
		}
	}
}

// HandleAck records an acknowledgement from endpoint. It reports whether the
// ack belonged to a transfer in flight; stale acks are ignored.
func (s *Sender) HandleAck(endpoint string, ack *protocol.FragmentAck) bool {
	s.mu.Lock()
	out, ok := s.inFlight[key{endpoint: endpoint, id: ack.TransferID}]
	if !ok || ack.Index >= out.total {
		s.mu.Unlock()
		return false
	}
	if ack.OK {
		out.acked.set(ack.Index)
	} else if out.rejected < 0 {
		out.rejected = int64(ack.Index)
	}
	s.mu.Unlock()

	select {
	case out.notify <- struct{}{}:
	default:
	}
	return true
}

// setActive publishes the in-flight gauge. Callers hold s.mu.
func (s *Sender) setActive() {
	if s.metrics != nil {
		s.metrics.SetActiveTransfers(s.direction, len(s.inFlight))
	}
}
