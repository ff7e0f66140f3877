// Package fragment implements reliable transfer of large payloads over the
// datagram transport.
//
// A payload is split into fixed-size fragments sent stop-and-wait: the sender
// transmits fragment i, waits for its FragmentAck, and retransmits the same
// bytes on timeout up to a bounded number of attempts. The receiver
// acknowledges every valid fragment (duplicates included), stores chunks
// idempotently, and reassembles them in index order once all have arrived.
//
// The first fragment of every transfer carries a metadata block (see
// protocol.EncodeMetadata) ahead of the first data slice.
package fragment

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cin-tie/remote-shell/pkg/protocol"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultFragmentSize    = 4000
	DefaultAckTimeout      = 5 * time.Second
	DefaultMaxAttempts     = 5
	DefaultIdleTimeout     = 60 * time.Second
	DefaultMaxTransferSize = 256 << 20
)

// Transfer directions, used as metric and span labels.
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

var (
	// ErrTransferAborted is returned by Sender.Send when a fragment could not
	// be delivered.
	ErrTransferAborted = errors.New("transfer aborted")

	// ErrInvalidFragment is returned by Receiver.HandleFragment for fragments
	// that can never be accepted. They are acknowledged with ok=false.
	ErrInvalidFragment = errors.New("invalid fragment")
)

// Config holds the engine tunables.
type Config struct {
	// FragmentSize is the number of file bytes per fragment.
	FragmentSize int

	// AckTimeout is how long the sender waits for each acknowledgement.
	AckTimeout time.Duration

	// MaxAttempts bounds transmissions of a single fragment.
	MaxAttempts int

	// IdleTimeout evicts inbound transfers that stopped making progress.
	IdleTimeout time.Duration

	// MaxTransferSize bounds the bytes an inbound transfer may announce.
	MaxTransferSize int64
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.FragmentSize <= 0 {
		c.FragmentSize = DefaultFragmentSize
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxTransferSize <= 0 {
		c.MaxTransferSize = DefaultMaxTransferSize
	}
}

// key identifies a transfer. Transfer ids are only unique per endpoint.
type key struct {
	endpoint string
	id       string
}

var lastStamp atomic.Int64

// NewTransferID returns fileName + "_" + a nanosecond stamp. Stamps are
// strictly increasing within the process, so two transfers of the same file
// never share an id.
func NewTransferID(fileName string) string {
	now := time.Now().UnixNano()
	for {
		prev := lastStamp.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if lastStamp.CompareAndSwap(prev, next) {
			return fmt.Sprintf("%s_%d", fileName, next)
		}
	}
}

// Count returns the number of fragments needed for size bytes. An empty
// payload still takes one fragment to carry the metadata block.
func Count(size, fragmentSize int) uint32 {
	if size <= 0 {
		return 1
	}
	return uint32((size + fragmentSize - 1) / fragmentSize)
}

// Split cuts data into the fragments of one transfer. The START fragment
// payload is the metadata block followed by the first data slice.
func Split(transferID string, meta protocol.TransferMetadata, data []byte, fragmentSize int) ([]*protocol.Fragment, error) {
	if fragmentSize <= 0 {
		return nil, fmt.Errorf("fragment size must be positive, got %d", fragmentSize)
	}
	block, err := protocol.EncodeMetadata(meta)
	if err != nil {
		return nil, err
	}

	total := Count(len(data), fragmentSize)
	frags := make([]*protocol.Fragment, total)
	for i := range total {
		start := int(i) * fragmentSize
		end := min(start+fragmentSize, len(data))

		var payload []byte
		if i == 0 {
			payload = make([]byte, 0, len(block)+end-start)
			payload = append(payload, block...)
			payload = append(payload, data[start:end]...)
		} else {
			payload = data[start:end]
		}

		frags[i] = &protocol.Fragment{
			Kind:       protocol.KindFor(i, total),
			TotalCount: total,
			Index:      i,
			TransferID: transferID,
			FileName:   meta.FileName,
			Payload:    payload,
		}
	}
	return frags, nil
}

// Ack builds the acknowledgement for f. A non-nil err from HandleFragment
// yields ok=false.
func Ack(f *protocol.Fragment, err error) *protocol.FragmentAck {
	return &protocol.FragmentAck{
		TransferID: f.TransferID,
		Index:      f.Index,
		OK:         err == nil,
	}
}

// bitmap tracks acknowledged fragment indices, one bit per fragment.
type bitmap []uint64

func newBitmap(n uint32) bitmap {
	return make(bitmap, (n+63)/64)
}

func (b bitmap) set(i uint32) {
	b[i/64] |= 1 << (i % 64)
}

func (b bitmap) has(i uint32) bool {
	return b[i/64]&(1<<(i%64)) != 0
}
