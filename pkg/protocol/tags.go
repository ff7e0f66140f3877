// Package protocol defines the remote shell message catalog and its wire
// encoding.
//
// Every message is a one-byte tag followed by tag-specific fields. Commands
// use tags 0x01-0x07, their results reuse the command tag with the high bit
// set, and the datagram transport adds the Fragment and FragmentAck control
// messages. The stream transport wraps each encoded message in a 4-byte
// big-endian length frame (see WriteFrame); the datagram transport sends one
// encoded message per packet.
package protocol

import "fmt"

// Tag discriminates message variants on the wire.
type Tag uint8

const (
	TagConnect    Tag = 0x01
	TagDisconnect Tag = 0x02
	TagExecute    Tag = 0x03
	TagUpload     Tag = 0x04
	TagDownload   Tag = 0x05
	TagChdir      Tag = 0x06
	TagGetdir     Tag = 0x07

	// Datagram transport control messages.
	TagFragment    Tag = 0x10
	TagFragmentAck Tag = 0x11

	resultBit Tag = 0x80
)

var commandNames = map[Tag]string{
	TagConnect:    "CONNECT",
	TagDisconnect: "DISCONNECT",
	TagExecute:    "EXECUTE",
	TagUpload:     "UPLOAD",
	TagDownload:   "DOWNLOAD",
	TagChdir:      "CHDIR",
	TagGetdir:     "GETDIR",
}

// String returns the symbolic name of the tag.
func (t Tag) String() string {
	switch {
	case t == TagFragment:
		return "FRAGMENT"
	case t == TagFragmentAck:
		return "FRAGMENT_ACK"
	case t.IsCommand():
		return commandNames[t]
	case t.IsResult():
		return commandNames[t.Command()] + "_RESULT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// IsCommand reports whether t is one of the seven command tags.
func (t Tag) IsCommand() bool {
	return t >= TagConnect && t <= TagGetdir
}

// IsResult reports whether t is the result tag of a command.
func (t Tag) IsResult() bool {
	return t&resultBit != 0 && t.Command().IsCommand()
}

// Result returns the result tag paired with command tag t.
func (t Tag) Result() Tag {
	return t | resultBit
}

// Command returns the command tag a result tag answers.
func (t Tag) Command() Tag {
	return t &^ resultBit
}
