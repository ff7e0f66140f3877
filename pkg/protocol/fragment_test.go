package protocol

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFor(t *testing.T) {
	assert.Equal(t, FragmentStart, KindFor(0, 1))
	assert.Equal(t, FragmentStart, KindFor(0, 3))
	assert.Equal(t, FragmentMiddle, KindFor(1, 3))
	assert.Equal(t, FragmentEnd, KindFor(2, 3))
}

func TestMetadataBlockLayout(t *testing.T) {
	meta := TransferMetadata{FileName: "a.txt", TargetDir: "/srv", Overwrite: true, FileSize: 9000}

	block, err := EncodeMetadata(meta)
	require.NoError(t, err)

	n := binary.BigEndian.Uint32(block[:4])
	require.Equal(t, int(n), len(block)-4)

	var record map[string]any
	require.NoError(t, json.Unmarshal(block[4:], &record))
	assert.Equal(t, "a.txt", record["fileName"])
	assert.Equal(t, "/srv", record["targetDir"])
	assert.Equal(t, true, record["overwrite"])
	assert.Equal(t, float64(9000), record["fileSize"])
	assert.NotContains(t, record, "offset")
}

func TestDecodeMetadataSplitsFileBytes(t *testing.T) {
	meta := TransferMetadata{FileName: "b.bin", FileSize: 3}
	block, err := EncodeMetadata(meta)
	require.NoError(t, err)

	got, rest, err := DecodeMetadata(append(block, 'x', 'y', 'z'))
	require.NoError(t, err)
	assert.Equal(t, meta, got)
	assert.Equal(t, []byte("xyz"), rest)
}

func TestDecodeMetadataErrors(t *testing.T) {
	_, _, err := DecodeMetadata([]byte{0, 0})
	assert.ErrorIs(t, err, ErrBadMetadata)

	_, _, err = DecodeMetadata([]byte{0, 0, 0, 50, '{'})
	assert.ErrorIs(t, err, ErrBadMetadata)

	_, _, err = DecodeMetadata([]byte{0, 0, 0, 1, '{'})
	assert.ErrorIs(t, err, ErrBadMetadata)
}
