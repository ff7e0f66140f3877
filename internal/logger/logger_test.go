package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, format string) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "DEBUG", format, false)
	t.Cleanup(func() {
		InitWithWriter(bytes.NewBuffer(nil), "INFO", "text", false)
	})
	return buf
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugShowsEverything", func(t *testing.T) {
		buf := captureOutput(t, "text")

		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("WarnHidesDebugAndInfo", func(t *testing.T) {
		buf := captureOutput(t, "text")
		SetLevel("warn")

		Debug("debug message")
		Info("info message")
		Warn("warn message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.NotContains(t, out, "info message")
		assert.Contains(t, out, "warn message")
	})

	t.Run("UnknownLevelIgnored", func(t *testing.T) {
		buf := captureOutput(t, "text")
		SetLevel("LOUD")

		Debug("still debug")
		assert.Contains(t, buf.String(), "still debug")
	})
}

func TestTextFormat(t *testing.T) {
	buf := captureOutput(t, "text")

	Info("session registered", KeyUsername, "alice", KeyTransport, "tcp")

	line := buf.String()
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "username=alice")
	assert.Contains(t, line, "transport=tcp")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestTextFormatGroups(t *testing.T) {
	buf := captureOutput(t, "text")

	With("component", "udp").WithGroup("transfer").Info("fragment stored", "index", 3)

	line := buf.String()
	assert.Contains(t, line, "component=udp")
	assert.Contains(t, line, "transfer.index=3")
}

func TestJSONFormat(t *testing.T) {
	buf := captureOutput(t, "json")

	Warn("command failed", KeyCommand, "EXECUTE", Err(assert.AnError))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "command failed", entry["msg"])
	assert.Equal(t, "EXECUTE", entry[KeyCommand])
	assert.Equal(t, assert.AnError.Error(), entry[KeyError])
}

func TestContextFields(t *testing.T) {
	buf := captureOutput(t, "json")

	lc := NewLogContext("udp", "127.0.0.1:5000").WithUsername("bob").WithCommand("CHDIR")
	ctx := WithContext(context.Background(), lc)

	InfoCtx(ctx, "handled")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "udp", entry[KeyTransport])
	assert.Equal(t, "bob", entry[KeyUsername])
	assert.Equal(t, "CHDIR", entry[KeyCommand])
	assert.Equal(t, "127.0.0.1:5000", entry[KeyClientAddr])
}

func TestLogContextClone(t *testing.T) {
	var nilCtx *LogContext
	assert.Nil(t, nilCtx.Clone())
	assert.Nil(t, FromContext(context.Background()))

	lc := NewLogContext("tcp", "10.0.0.1:1")
	derived := lc.WithCommand("GETDIR")
	assert.Empty(t, lc.Command)
	assert.Equal(t, "GETDIR", derived.Command)
	assert.GreaterOrEqual(t, derived.DurationMs(), 0.0)
}

func TestErrNilIsEmpty(t *testing.T) {
	buf := captureOutput(t, "text")
	Info("no error", Err(nil))
	assert.NotContains(t, buf.String(), KeyError+"=")
}
