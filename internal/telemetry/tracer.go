package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for remote shell spans.
// These follow OpenTelemetry semantic conventions where applicable.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientAddr = "client.address"

	// ========================================================================
	// Session attributes
	// ========================================================================
	AttrTransport = "rshell.transport" // tcp, udp, rpc
	AttrUsername  = "rshell.username"
	AttrCommand   = "rshell.command" // CONNECT, EXECUTE, ...
	AttrIsError   = "rshell.is_error"
	AttrError     = "rshell.error_message"

	// ========================================================================
	// Command attributes
	// ========================================================================
	AttrShell     = "rshell.exec.command"
	AttrDir       = "rshell.dir"
	AttrExitCode  = "rshell.exec.exit_code"
	AttrTimeoutMs = "rshell.exec.timeout_ms"
	AttrPath      = "rshell.file.path"
	AttrSize      = "rshell.file.size"
	AttrOffset    = "rshell.file.offset"
	AttrPartial   = "rshell.file.partial"

	// ========================================================================
	// Transfer attributes (datagram fragmentation)
	// ========================================================================
	AttrTransferID     = "rshell.transfer.id"
	AttrDirection      = "rshell.transfer.direction" // upload, download
	AttrFragmentTotal  = "rshell.transfer.fragments"
	AttrFragmentIndex  = "rshell.transfer.fragment_index"
	AttrAttempts       = "rshell.transfer.attempts"
	AttrRetransmission = "rshell.transfer.retransmissions"

	// ========================================================================
	// Audit attributes
	// ========================================================================
	AttrAuditBackend = "rshell.audit.backend"
)

func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

func Transport(name string) attribute.KeyValue {
	return attribute.String(AttrTransport, name)
}

func Username(name string) attribute.KeyValue {
	return attribute.String(AttrUsername, name)
}

func Command(name string) attribute.KeyValue {
	return attribute.String(AttrCommand, name)
}

func IsError(v bool) attribute.KeyValue {
	return attribute.Bool(AttrIsError, v)
}

func ErrorMessage(msg string) attribute.KeyValue {
	return attribute.String(AttrError, msg)
}

func Shell(cmdline string) attribute.KeyValue {
	return attribute.String(AttrShell, cmdline)
}

func Dir(dir string) attribute.KeyValue {
	return attribute.String(AttrDir, dir)
}

func ExitCode(code int32) attribute.KeyValue {
	return attribute.Int64(AttrExitCode, int64(code))
}

func TimeoutMs(ms int64) attribute.KeyValue {
	return attribute.Int64(AttrTimeoutMs, ms)
}

func Path(p string) attribute.KeyValue {
	return attribute.String(AttrPath, p)
}

func Size(n int64) attribute.KeyValue {
	return attribute.Int64(AttrSize, n)
}

func Offset(n int64) attribute.KeyValue {
	return attribute.Int64(AttrOffset, n)
}

func Partial(v bool) attribute.KeyValue {
	return attribute.Bool(AttrPartial, v)
}

func TransferID(id string) attribute.KeyValue {
	return attribute.String(AttrTransferID, id)
}

func Direction(d string) attribute.KeyValue {
	return attribute.String(AttrDirection, d)
}

func FragmentTotal(n uint32) attribute.KeyValue {
	return attribute.Int64(AttrFragmentTotal, int64(n))
}

func FragmentIndex(i uint32) attribute.KeyValue {
	return attribute.Int64(AttrFragmentIndex, int64(i))
}

func Attempts(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempts, n)
}

func Retransmissions(n int) attribute.KeyValue {
	return attribute.Int(AttrRetransmission, n)
}

func AuditBackend(name string) attribute.KeyValue {
	return attribute.String(AttrAuditBackend, name)
}

// StartCommandSpan starts a span for one dispatched command.
// This is a convenience function that sets the common session attributes.
func StartCommandSpan(ctx context.Context, command, transport, clientAddr string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Command(command),
		Transport(transport),
	}
	if clientAddr != "" {
		allAttrs = append(allAttrs, ClientAddr(clientAddr))
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "rshell."+command, trace.WithAttributes(allAttrs...))
}

// StartTransferSpan starts a span covering a whole fragmented transfer.
func StartTransferSpan(ctx context.Context, direction, transferID string, total uint32, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		Direction(direction),
		TransferID(transferID),
		FragmentTotal(total),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, "transfer."+direction, trace.WithAttributes(allAttrs...))
}

// StartAuditSpan starts a span for an audit journal operation.
func StartAuditSpan(ctx context.Context, operation, backend string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := append([]attribute.KeyValue{AuditBackend(backend)}, attrs...)
	return StartSpan(ctx, "audit."+operation, trace.WithAttributes(allAttrs...))
}
