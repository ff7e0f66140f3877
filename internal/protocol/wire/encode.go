// Package wire holds the low-level field encoders shared by every message of
// the remote shell protocol.
//
// Layout rules:
//   - integers are fixed width, big-endian
//   - booleans are a single byte (0 or 1)
//   - strings and byte buffers are a uint32 length followed by the raw bytes,
//     with no padding
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// MaxLength bounds every length-prefixed field and every stream frame.
const MaxLength = 512 << 20

// WriteUint8 appends a single byte.
func WriteUint8(buf *bytes.Buffer, v uint8) error {
	return buf.WriteByte(v)
}

// WriteBool appends a boolean as one byte.
func WriteBool(buf *bytes.Buffer, v bool) error {
	if v {
		return buf.WriteByte(1)
	}
	return buf.WriteByte(0)
}

// WriteUint32 appends a big-endian uint32.
func WriteUint32(buf *bytes.Buffer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := buf.Write(b[:])
	return err
}

// WriteInt32 appends a big-endian two's complement int32.
func WriteInt32(buf *bytes.Buffer, v int32) error {
	return WriteUint32(buf, uint32(v))
}

// WriteInt64 appends a big-endian two's complement int64.
func WriteInt64(buf *bytes.Buffer, v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	_, err := buf.Write(b[:])
	return err
}

// WriteBytes appends a length-prefixed byte buffer.
//
// Example:
//
//	[]byte{0x01, 0x02, 0x03} -> [00 00 00 03][01 02 03]
func WriteBytes(buf *bytes.Buffer, data []byte) error {
	if len(data) > MaxLength {
		return fmt.Errorf("field length %d exceeds maximum %d", len(data), MaxLength)
	}
	if err := WriteUint32(buf, uint32(len(data))); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := buf.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// WriteString appends a length-prefixed UTF-8 string.
func WriteString(buf *bytes.Buffer, s string) error {
	if len(s) > MaxLength {
		return fmt.Errorf("field length %d exceeds maximum %d", len(s), MaxLength)
	}
	if err := WriteUint32(buf, uint32(len(s))); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := buf.WriteString(s); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}
