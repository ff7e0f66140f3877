package metrics

import "time"

// ShellMetrics provides observability for dispatched commands and sessions.
//
// Pass nil to disable metrics collection with zero overhead.
type ShellMetrics interface {
	// RecordCommand records a completed command with its transport, name,
	// duration and whether the result was an error result.
	RecordCommand(transport, command string, duration time.Duration, failed bool)

	// RecordCommandStart increments the in-flight command gauge.
	RecordCommandStart(transport, command string)

	// RecordCommandEnd decrements the in-flight command gauge.
	RecordCommandEnd(transport, command string)

	// RecordBytesTransferred records file bytes moved by Upload ("upload")
	// or Download ("download").
	RecordBytesTransferred(transport, direction string, bytes int64)

	// RecordSessionOpened counts a successful Connect.
	RecordSessionOpened(transport string)

	// RecordSessionClosed counts a session teardown. Reason is one of
	// "disconnect", "transport", "idle", "shutdown" or "kicked".
	RecordSessionClosed(transport, reason string)

	// RecordConnectRejected counts a refused Connect by reason: "password",
	// "duplicate", "full" or "invalid".
	RecordConnectRejected(reason string)

	// SetActiveSessions updates the registered session gauge.
	SetActiveSessions(count int)
}
