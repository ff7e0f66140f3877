package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrTooLong is returned when a declared length exceeds MaxLength.
var ErrTooLong = errors.New("declared length exceeds maximum")

// ReadUint8 reads a single byte.
func ReadUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read uint8: %w", err)
	}
	return b[0], nil
}

// ReadBool reads a one-byte boolean. Any non-zero value is true.
func ReadBool(r io.Reader) (bool, error) {
	v, err := ReadUint8(r)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// ReadUint32 reads a big-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read uint32: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// ReadInt32 reads a big-endian int32.
func ReadInt32(r io.Reader) (int32, error) {
	v, err := ReadUint32(r)
	return int32(v), err
}

// ReadInt64 reads a big-endian int64.
func ReadInt64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("read int64: %w", err)
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// ReadBytes reads a length-prefixed byte buffer.
func ReadBytes(r io.Reader) ([]byte, error) {
	length, err := ReadUint32(r)
	if err != nil {
		return nil, fmt.Errorf("read length: %w", err)
	}
	if length > MaxLength {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLong, length, MaxLength)
	}

	data, err := ReadN(r, length)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}
	return data, nil
}

// eagerReadLimit is the largest buffer ReadN allocates before any of its
// bytes have arrived.
const eagerReadLimit = 64 << 10

// ReadN reads exactly n bytes. A reader that knows how many bytes remain
// (bytes.Reader, bytes.Buffer) fails before allocating when n exceeds them;
// any other reader grows the buffer as data arrives. Either way a short
// input returns io.ErrUnexpectedEOF.
func ReadN(r io.Reader, n uint32) ([]byte, error) {
	if lr, ok := r.(interface{ Len() int }); ok {
		if int64(n) > int64(lr.Len()) {
			return nil, fmt.Errorf("%w: %d bytes declared, %d available", io.ErrUnexpectedEOF, n, lr.Len())
		}
	} else if n > eagerReadLimit {
		data, err := io.ReadAll(io.LimitReader(r, int64(n)))
		if err != nil {
			return nil, err
		}
		if len(data) != int(n) {
			return nil, io.ErrUnexpectedEOF
		}
		return data, nil
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return data, nil
}

// ReadString reads a length-prefixed string.
func ReadString(r io.Reader) (string, error) {
	data, err := ReadBytes(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
