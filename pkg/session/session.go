// Package session holds the per-user session state shared by every transport
// and the global registry that keeps usernames unique across transports.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/pkg/protocol"
)

// Transport names.
const (
	TransportTCP = "tcp"
	TransportUDP = "udp"
	TransportRPC = "rpc"
)

// Identity is who the session belongs to.
type Identity struct {
	Username string
	FullName string
}

// Session is the capability set every transport variant exposes.
type Session interface {
	// Send delivers a message to the client: a result, or a server notice
	// such as a Disconnect during shutdown.
	Send(ctx context.Context, m protocol.Message) error

	// Disconnect tears the session down immediately.
	Disconnect() error

	// GracefulDisconnect sends a best-effort Disconnect notice, waits a
	// bounded grace period, then calls Disconnect.
	GracefulDisconnect(ctx context.Context, reason string)

	CurrentDirectory() string
	SetCurrentDirectory(dir string)
	Identity() Identity

	// Transport returns tcp, udp or rpc.
	Transport() string

	// RemoteAddr identifies the transport handle: connection peer address,
	// datagram endpoint or caller token.
	RemoteAddr() string

	ConnectedAt() time.Time
	LastActivity() time.Time

	// Touch records activity on the session.
	Touch()
}

// State is the transport-independent part of a session. Transport variants
// embed *State.
type State struct {
	mu           sync.RWMutex
	identity     Identity
	cwd          string
	connectedAt  time.Time
	lastActivity time.Time
}

// NewState creates the state of a freshly connected session.
func NewState(id Identity, cwd string) *State {
	now := time.Now()
	return &State{
		identity:     id,
		cwd:          cwd,
		connectedAt:  now,
		lastActivity: now,
	}
}

func (s *State) CurrentDirectory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd
}

func (s *State) SetCurrentDirectory(dir string) {
	s.mu.Lock()
	s.cwd = dir
	s.mu.Unlock()
}

func (s *State) Identity() Identity {
	return s.identity
}

func (s *State) ConnectedAt() time.Time {
	return s.connectedAt
}

func (s *State) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *State) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Info is a point-in-time description of a session for status output.
type Info struct {
	Username     string    `json:"username"`
	FullName     string    `json:"full_name"`
	Transport    string    `json:"transport"`
	RemoteAddr   string    `json:"remote_addr"`
	CurrentDir   string    `json:"current_dir"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

// Describe snapshots s.
func Describe(s Session) Info {
	id := s.Identity()
	return Info{
		Username:     id.Username,
		FullName:     id.FullName,
		Transport:    s.Transport(),
		RemoteAddr:   s.RemoteAddr(),
		CurrentDir:   s.CurrentDirectory(),
		ConnectedAt:  s.ConnectedAt(),
		LastActivity: s.LastActivity(),
	}
}
