package client

import (
	"errors"

	"github.com/cin-tie/remote-shell/pkg/protocol"
)

var (
	// ErrClosed is returned by commands issued after Close.
	ErrClosed = errors.New("client closed")

	// ErrConnectionLost is returned when the transport fails while a
	// command is pending.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoResponse is returned when a datagram command gets no result in
	// time.
	ErrNoResponse = errors.New("no response from server")

	// ErrUnexpectedResult is returned when the server answers with a result
	// for another command.
	ErrUnexpectedResult = errors.New("unexpected result")
)

// CommandError is a command the server executed and reported as failed.
type CommandError struct {
	Command protocol.Tag
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// IsCommandError reports whether err is a server-side command failure, as
// opposed to a transport problem.
func IsCommandError(err error) bool {
	var ce *CommandError
	return errors.As(err, &ce)
}
