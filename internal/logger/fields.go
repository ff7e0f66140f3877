package logger

import (
	"log/slog"
)

// Standard field keys. Use them consistently so logs from every transport can
// be queried the same way.
const (
	// Tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Transport and session
	KeyTransport  = "transport"   // tcp, udp, rpc
	KeyClientAddr = "client_addr" // Remote endpoint (host:port) or caller token
	KeyUsername   = "username"
	KeyFullName   = "full_name"
	KeyActive     = "active" // Active session or connection count
	KeyReason     = "reason" // Disconnect reason

	// Commands
	KeyCommand   = "command" // Protocol command name
	KeyShell     = "shell"   // Shell command line for Execute
	KeyDir       = "dir"
	KeyPath      = "path"
	KeyExitCode  = "exit_code"
	KeyTimeoutMs = "timeout_ms"
	KeyIsError   = "is_error"

	// Transfers
	KeyTransferID    = "transfer_id"
	KeyFragmentIndex = "fragment_index"
	KeyFragmentTotal = "fragment_total"
	KeyAttempt       = "attempt"
	KeySize          = "size"
	KeyOffset        = "offset"

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyBackend    = "backend"
	KeyAddress    = "address"
	KeyPort       = "port"
)

func Transport(name string) slog.Attr { return slog.String(KeyTransport, name) }

func ClientAddr(addr string) slog.Attr { return slog.String(KeyClientAddr, addr) }

func Username(name string) slog.Attr { return slog.String(KeyUsername, name) }

func Command(name string) slog.Attr { return slog.String(KeyCommand, name) }

func TransferID(id string) slog.Attr { return slog.String(KeyTransferID, id) }

func FragmentIndex(i uint32) slog.Attr { return slog.Uint64(KeyFragmentIndex, uint64(i)) }

func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }

// Err returns an error attribute, or an empty attribute for a nil error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
