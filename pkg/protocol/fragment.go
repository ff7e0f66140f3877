package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// FragmentKind is the positional role of a fragment within a transfer.
type FragmentKind uint8

const (
	FragmentStart  FragmentKind = 1
	FragmentMiddle FragmentKind = 2
	FragmentEnd    FragmentKind = 3
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentStart:
		return "START"
	case FragmentMiddle:
		return "MIDDLE"
	case FragmentEnd:
		return "END"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// KindFor derives the role of fragment index within a transfer of total
// fragments. Index 0 is always START, even for single-fragment transfers.
func KindFor(index, total uint32) FragmentKind {
	switch {
	case index == 0:
		return FragmentStart
	case index == total-1:
		return FragmentEnd
	default:
		return FragmentMiddle
	}
}

// Fragment carries one chunk of a transfer over the datagram transport.
type Fragment struct {
	Kind       FragmentKind
	TotalCount uint32
	Index      uint32
	TransferID string
	FileName   string
	Payload    []byte
}

// PayloadLen is the number of payload bytes in the fragment.
func (f *Fragment) PayloadLen() int { return len(f.Payload) }

// FragmentAck acknowledges one fragment. OK=false reports a fragment the
// receiver could not accept.
type FragmentAck struct {
	TransferID string
	Index      uint32
	OK         bool
}

func (*Fragment) Tag() Tag    { return TagFragment }
func (*FragmentAck) Tag() Tag { return TagFragmentAck }

// TransferMetadata is the record embedded at the head of a START fragment
// payload. Uploads fill FileName, TargetDir, Overwrite and FileSize; downloads
// also set Offset and Partial so the receiver can rebuild a DownloadResult.
type TransferMetadata struct {
	FileName  string `json:"fileName"`
	TargetDir string `json:"targetDir"`
	Overwrite bool   `json:"overwrite"`
	FileSize  int64  `json:"fileSize"`
	Offset    int64  `json:"offset,omitempty"`
	Partial   bool   `json:"partial,omitempty"`
}

// ErrBadMetadata is returned for a malformed START metadata block.
var ErrBadMetadata = errors.New("malformed transfer metadata block")

// maxMetadataLen bounds the JSON record; real records are well under 1 KiB.
const maxMetadataLen = 64 << 10

// EncodeMetadata renders the metadata block: a 4-byte big-endian length
// followed by the JSON record.
func EncodeMetadata(m TransferMetadata) ([]byte, error) {
	record, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal transfer metadata: %w", err)
	}
	block := make([]byte, 4+len(record))
	binary.BigEndian.PutUint32(block, uint32(len(record)))
	copy(block[4:], record)
	return block, nil
}

// DecodeMetadata parses the metadata block at the start of payload and
// returns it together with the file bytes that follow it.
func DecodeMetadata(payload []byte) (TransferMetadata, []byte, error) {
	var m TransferMetadata
	if len(payload) < 4 {
		return m, nil, fmt.Errorf("%w: %d bytes", ErrBadMetadata, len(payload))
	}
	n := binary.BigEndian.Uint32(payload)
	if n > maxMetadataLen || int(n) > len(payload)-4 {
		return m, nil, fmt.Errorf("%w: declared length %d", ErrBadMetadata, n)
	}
	if err := json.Unmarshal(payload[4:4+n], &m); err != nil {
		return m, nil, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}
	return m, payload[4+n:], nil
}
