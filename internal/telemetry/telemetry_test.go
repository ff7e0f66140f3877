package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "remote-shell", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	active.Store(nil)
	enabled.Store(false)

	require.NotNil(t, Tracer())
}

func TestSpanHelpersWithoutActiveSpan(t *testing.T) {
	ctx := context.Background()

	require.NotPanics(t, func() {
		AddEvent(ctx, "fragment.retransmit", FragmentIndex(1))
		RecordError(ctx, nil)
		RecordError(ctx, errors.New("boom"))
		SetStatus(ctx, codes.Ok, "")
		SetAttributes(ctx, Username("alice"))
	})

	assert.Empty(t, TraceID(ctx))
	assert.Empty(t, SpanID(ctx))
	assert.NotNil(t, SpanFromContext(ctx))
}

func TestAttributeValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		got  func() any
		want any
	}{
		{"ClientAddr", AttrClientAddr, func() any { return ClientAddr("10.0.0.1:4000").Value.AsString() }, "10.0.0.1:4000"},
		{"Transport", AttrTransport, func() any { return Transport("udp").Value.AsString() }, "udp"},
		{"Username", AttrUsername, func() any { return Username("alice").Value.AsString() }, "alice"},
		{"Command", AttrCommand, func() any { return Command("EXECUTE").Value.AsString() }, "EXECUTE"},
		{"ExitCode", AttrExitCode, func() any { return ExitCode(2).Value.AsInt64() }, int64(2)},
		{"TimeoutMs", AttrTimeoutMs, func() any { return TimeoutMs(100).Value.AsInt64() }, int64(100)},
		{"Size", AttrSize, func() any { return Size(4096).Value.AsInt64() }, int64(4096)},
		{"Partial", AttrPartial, func() any { return Partial(true).Value.AsBool() }, true},
		{"TransferID", AttrTransferID, func() any { return TransferID("a.txt_1").Value.AsString() }, "a.txt_1"},
		{"FragmentTotal", AttrFragmentTotal, func() any { return FragmentTotal(3).Value.AsInt64() }, int64(3)},
		{"FragmentIndex", AttrFragmentIndex, func() any { return FragmentIndex(1).Value.AsInt64() }, int64(1)},
		{"Attempts", AttrAttempts, func() any { return Attempts(5).Value.AsInt64() }, int64(5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got())
		})
	}

	assert.Equal(t, AttrCommand, string(Command("GETDIR").Key))
	assert.Equal(t, AttrTransferID, string(TransferID("x").Key))
}

func TestStartCommandSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartCommandSpan(ctx, "EXECUTE", "tcp", "127.0.0.1:5000", Shell("ls"))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)

	require.NotPanics(t, func() {
		EndCommandSpan(span, true, "Command timed out after 100ms")
	})

	_, span2 := StartCommandSpan(ctx, "GETDIR", "rpc", "")
	require.NotPanics(t, func() {
		EndCommandSpan(span2, false, "")
	})
}

func TestStartTransferSpan(t *testing.T) {
	newCtx, span := StartTransferSpan(context.Background(), "download", "big.bin_1", 4, Attempts(1))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	_, span2 := StartAuditSpan(context.Background(), "record", "memory")
	span2.End()
}

func TestInitProfilingDisabled(t *testing.T) {
	shutdown, err := InitProfiling(ProfilingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown())
	assert.False(t, IsProfilingEnabled())
}

func TestParseProfileTypes(t *testing.T) {
	types, err := ParseProfileTypes([]string{"cpu", "Inuse_Space"})
	require.NoError(t, err)
	assert.Len(t, types, 2)

	_, err = ParseProfileTypes([]string{"cpu", "heap-ish"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "heap-ish")

	assert.Contains(t, ProfileTypeNames(), "goroutines")
}
