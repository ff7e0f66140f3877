package fragment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/metrics"
	"github.com/cin-tie/remote-shell/pkg/protocol"
)

// Completed is a fully reassembled inbound transfer.
type Completed struct {
	Endpoint   string
	TransferID string
	Meta       protocol.TransferMetadata
	Data       []byte
	Duration   time.Duration
}

// inbound is the reassembly state of one transfer being received.
type inbound struct {
	total        uint32
	chunks       [][]byte
	received     uint32
	bytes        int64
	meta         protocol.TransferMetadata
	started      time.Time
	lastActivity time.Time
}

// Receiver reassembles inbound transfers.
type Receiver struct {
	cfg       Config
	direction string
	metrics   metrics.TransferMetrics
	now       func() time.Time

	mu        sync.Mutex
	transfers map[key]*inbound

	// finished remembers completed transfers until they go idle, so a
	// retransmitted final fragment whose ack was lost is re-acknowledged
	// instead of starting a new transfer.
	finished map[key]time.Time
}

// NewReceiver creates a receiver for transfers in direction. A nil m
// disables metrics.
func NewReceiver(cfg Config, direction string, m metrics.TransferMetrics) *Receiver {
	cfg.ApplyDefaults()
	return &Receiver{
		cfg:       cfg,
		direction: direction,
		metrics:   m,
		now:       time.Now,
		transfers: make(map[key]*inbound),
		finished:  make(map[key]time.Time),
	}
}

// Active returns the number of transfers being reassembled.
func (r *Receiver) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers)
}

// HandleFragment stores f. It returns the reassembled transfer when f
// completes it, exactly once per transfer. Duplicates are accepted and
// return nil. Fragments that can never be accepted return an error wrapping
// ErrInvalidFragment; either way the caller acknowledges with Ack(f, err).
func (r *Receiver) HandleFragment(endpoint string, f *protocol.Fragment) (*Completed, error) {
	if err := r.validate(f); err != nil {
		r.reject()
		return nil, err
	}

	k := key{endpoint: endpoint, id: f.TransferID}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, done := r.finished[k]; done {
		r.finished[k] = now
		r.received(true)
		return nil, nil
	}

	t, ok := r.transfers[k]
	if !ok {
		t = &inbound{
			total:   f.TotalCount,
			chunks:  make([][]byte, f.TotalCount),
			started: now,
		}
		r.transfers[k] = t
		r.setActive()
	} else if t.total != f.TotalCount {
		r.reject()
		return nil, fmt.Errorf("%w: total count %d does not match %d", ErrInvalidFragment, f.TotalCount, t.total)
	}
	t.lastActivity = now

	if t.chunks[f.Index] != nil {
		r.received(true)
		return nil, nil
	}

	chunk := f.Payload
	if f.Index == 0 {
		meta, rest, err := protocol.DecodeMetadata(f.Payload)
		if err != nil {
			r.reject()
			return nil, fmt.Errorf("%w: %w", ErrInvalidFragment, err)
		}
		t.meta = meta
		chunk = rest
	}

	if t.bytes+int64(len(chunk)) > r.cfg.MaxTransferSize {
		delete(r.transfers, k)
		r.setActive()
		r.reject()
		return nil, fmt.Errorf("%w: transfer exceeds %d bytes", ErrInvalidFragment, r.cfg.MaxTransferSize)
	}

	// Keep a private copy; f.Payload may alias a reused read buffer.
	t.chunks[f.Index] = append(make([]byte, 0, len(chunk)), chunk...)
	t.bytes += int64(len(chunk))
	t.received++
	r.received(false)

	logger.Debug("Fragment stored",
		logger.KeyClientAddr, endpoint,
		logger.KeyTransferID, f.TransferID,
		logger.KeyFragmentIndex, f.Index,
		logger.KeyFragmentTotal, t.total)

	if t.received < t.total {
		return nil, nil
	}

	data := make([]byte, 0, t.bytes)
	for _, c := range t.chunks {
		data = append(data, c...)
	}
	delete(r.transfers, k)
	r.finished[k] = now
	r.setActive()

	done := &Completed{
		Endpoint:   endpoint,
		TransferID: f.TransferID,
		Meta:       t.meta,
		Data:       data,
		Duration:   now.Sub(t.started),
	}
	if r.metrics != nil {
		r.metrics.RecordTransferCompleted(r.direction, int64(len(data)), done.Duration)
	}
	return done, nil
}

// validate checks the parts of f that do not depend on transfer state.
func (r *Receiver) validate(f *protocol.Fragment) error {
	switch {
	case f.TransferID == "":
		return fmt.Errorf("%w: empty transfer id", ErrInvalidFragment)
	case f.TotalCount == 0:
		return fmt.Errorf("%w: zero total count", ErrInvalidFragment)
	case f.Index >= f.TotalCount:
		return fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidFragment, f.Index, f.TotalCount)
	case f.Kind != protocol.KindFor(f.Index, f.TotalCount):
		return fmt.Errorf("%w: kind %s at index %d of %d", ErrInvalidFragment, f.Kind, f.Index, f.TotalCount)
	case int64(f.TotalCount-1)*int64(r.cfg.FragmentSize) > r.cfg.MaxTransferSize:
		return fmt.Errorf("%w: %d fragments exceed the transfer size limit", ErrInvalidFragment, f.TotalCount)
	}
	return nil
}

// Sweep evicts transfers idle since before now minus the idle timeout and
// returns how many in-progress transfers were dropped.
func (r *Receiver) Sweep(now time.Time) int {
	cutoff := now.Add(-r.cfg.IdleTimeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for k, t := range r.transfers {
		if t.lastActivity.Before(cutoff) {
			delete(r.transfers, k)
			evicted++
			logger.Info("Evicted idle transfer",
				logger.KeyClientAddr, k.endpoint,
				logger.KeyTransferID, k.id,
				"received", t.received,
				logger.KeyFragmentTotal, t.total)
			if r.metrics != nil {
				r.metrics.RecordTransferEvicted()
			}
		}
	}
	for k, at := range r.finished {
		if at.Before(cutoff) {
			delete(r.finished, k)
		}
	}
	if evicted > 0 {
		r.setActive()
	}
	return evicted
}

// Forget drops every transfer from endpoint, used when its session ends.
func (r *Receiver) Forget(endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.transfers {
		if k.endpoint == endpoint {
			delete(r.transfers, k)
		}
	}
	for k := range r.finished {
		if k.endpoint == endpoint {
			delete(r.finished, k)
		}
	}
	r.setActive()
}

// Run sweeps every interval until ctx is cancelled.
func (r *Receiver) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

func (r *Receiver) received(duplicate bool) {
	if r.metrics != nil {
		r.metrics.RecordFragmentReceived(duplicate)
	}
}

func (r *Receiver) reject() {
	if r.metrics != nil {
		r.metrics.RecordFragmentRejected()
	}
}

// setActive publishes the in-progress gauge. Callers hold r.mu.
func (r *Receiver) setActive() {
	if r.metrics != nil {
		r.metrics.SetActiveTransfers(r.direction, len(r.transfers))
	}
}
