package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeConnectLayout(t *testing.T) {
	data, err := Encode(&Connect{Username: "al", FullName: "A", Secret: ""})
	require.NoError(t, err)

	expected := []byte{
		0x01,
		0, 0, 0, 2, 'a', 'l',
		0, 0, 0, 1, 'A',
		0, 0, 0, 0,
	}
	assert.Equal(t, expected, data)
}

func TestDecodeCommands(t *testing.T) {
	msgs := []Message{
		&Connect{Username: "alice", FullName: "Alice A", Secret: "s3cret"},
		&Disconnect{Reason: "bye"},
		&Execute{Command: "ls -la", WorkingDir: "/tmp", TimeoutMs: 1500},
		&Upload{FileName: "a.txt", TargetDir: "/srv", Data: []byte("payload"), Overwrite: true},
		&Download{Path: "/etc/hosts", Offset: 10, Length: -1},
		&Chdir{NewDir: ".."},
		&Getdir{},
		&Fragment{Kind: FragmentMiddle, TotalCount: 3, Index: 1, TransferID: "a.txt_1", Payload: []byte{9, 8}},
		&FragmentAck{TransferID: "a.txt_1", Index: 1, OK: true},
	}

	for _, m := range msgs {
		t.Run(m.Tag().String(), func(t *testing.T) {
			data, err := Encode(m)
			require.NoError(t, err)
			assert.Equal(t, byte(m.Tag()), data[0])

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, m, decoded)
		})
	}
}

func TestErrorResultCarriesNoSuccessFields(t *testing.T) {
	res := &ExecuteResult{
		Status:   Failure("Command timed out after 100ms"),
		Stdout:   "ignored",
		ExitCode: 3,
	}

	data, err := Encode(res)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	got, ok := decoded.(*ExecuteResult)
	require.True(t, ok)
	assert.True(t, got.Failed())
	assert.Equal(t, "Command timed out after 100ms", got.Err())
	assert.Empty(t, got.Stdout)
	assert.Zero(t, got.ExitCode)
}

func TestSuccessResults(t *testing.T) {
	results := []Result{
		&ConnectResult{ServerOS: "linux 6.1", CurrentDir: "/home", ServerVersion: "Remote Shell server 1.1"},
		&DisconnectResult{},
		&ExecuteResult{Stdout: "out", Stderr: "err", ExitCode: 2, ElapsedMs: 12, WorkingDir: "/"},
		&UploadResult{AbsolutePath: "/tmp/a", Size: 4, PreExisted: true},
		&DownloadResult{FileName: "a", TotalSize: 10, Data: []byte("abc"), Partial: true},
		&ChdirResult{OldDir: "/a", NewDir: "/b"},
		&GetdirResult{CurrentDir: "/b"},
	}

	for _, r := range results {
		t.Run(r.Tag().String(), func(t *testing.T) {
			assert.True(t, r.Tag().IsResult())

			data, err := Encode(r)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, r, decoded)
			assert.False(t, decoded.(Result).Failed())
		})
	}
}

func TestErrorResultShape(t *testing.T) {
	tests := []struct {
		tag  Tag
		want Result
	}{
		{TagConnect, &ConnectResult{Status: Failure("x")}},
		{TagUpload, &UploadResult{Status: Failure("x")}},
		{TagDownload.Result(), &DownloadResult{Status: Failure("x")}},
		{TagGetdir, &GetdirResult{Status: Failure("x")}},
		{Tag(0x42), &ExecuteResult{Status: Failure("x")}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorResult(tt.tag, "x"))
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		_, err := Decode(nil)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	})

	t.Run("UnknownTag", func(t *testing.T) {
		_, err := Decode([]byte{0x7f})
		assert.ErrorIs(t, err, ErrUnknownTag)
	})

	t.Run("TrailingBytes", func(t *testing.T) {
		data, err := Encode(&Getdir{})
		require.NoError(t, err)
		_, err = Decode(append(data, 0x00))
		assert.ErrorIs(t, err, ErrTrailingData)
	})

	t.Run("HugeDeclaredLength", func(t *testing.T) {
		// CHDIR whose path claims 512 MiB but carries three bytes.
		data := []byte{byte(TagChdir), 0x20, 0x00, 0x00, 0x00, 'a', 'b', 'c'}
		var before, after runtime.MemStats
		runtime.GC()
		runtime.ReadMemStats(&before)
		_, err := Decode(data)
		runtime.ReadMemStats(&after)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
	})

	t.Run("Truncated", func(t *testing.T) {
		data, err := Encode(&Chdir{NewDir: "/var/tmp"})
		require.NoError(t, err)
		_, err = Decode(data[:len(data)-2])
		assert.Error(t, err)
	})
}

func TestTagNames(t *testing.T) {
	assert.Equal(t, "EXECUTE", TagExecute.String())
	assert.Equal(t, "UPLOAD_RESULT", TagUpload.Result().String())
	assert.Equal(t, "FRAGMENT_ACK", TagFragmentAck.String())
	assert.Equal(t, TagChdir, TagChdir.Result().Command())
	assert.False(t, TagFragment.IsCommand())
	assert.False(t, TagFragment.IsResult())
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Chdir{NewDir: "/tmp"}))
	require.NoError(t, WriteFrame(&buf, &Getdir{}))

	length := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.Equal(t, uint32(1+4+len("/tmp")), length)

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, &Chdir{NewDir: "/tmp"}, first)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, &Getdir{}, second)

	_, err = ReadFrame(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameTooLarge(t *testing.T) {
	header := []byte{0xff, 0xff, 0xff, 0xff}
	_, err := ReadFrame(bytes.NewReader(header))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &Disconnect{Reason: "bye"}))
	truncated := buf.Bytes()[:buf.Len()-1]

	_, err := ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestReadFrameHugeHeaderShortBody(t *testing.T) {
	// Header claims 512 MiB; the stream ends after a few bytes.
	stream := io.MultiReader(bytes.NewReader([]byte{0x20, 0x00, 0x00, 0x00, byte(TagGetdir)}))

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := ReadFrame(stream)
	runtime.ReadMemStats(&after)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}
