package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cin-tie/remote-shell/internal/protocol/wire"
)

// ErrFrameTooLarge is returned when a frame header declares more than
// wire.MaxLength bytes.
var ErrFrameTooLarge = errors.New("frame too large")

// WriteFrame writes m to w prefixed with its 4-byte big-endian length.
// The header and body go out in a single Write so concurrent writers
// serialized by the caller never interleave partial frames.
func WriteFrame(w io.Writer, m Message) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}

	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame[:4], uint32(len(data)))
	copy(frame[4:], data)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed message from r.
//
// An io.EOF before the first header byte is returned unwrapped so callers
// can tell a clean close from a truncated frame.
func ReadFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > wire.MaxLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	data, err := wire.ReadN(r, length)
	if err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return Decode(data)
}
