package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultMaxUsers is the number of concurrent sessions allowed when none is
// configured.
const DefaultMaxUsers = 50

// ErrTooManyUsers is returned by Register when the registry is full.
var ErrTooManyUsers = errors.New("too many users connected")

// Registry maps usernames to their owning session. At most one session per
// username exists across all transports. A single mutex covers every
// operation so register is an atomic test-and-set.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session
	maxUsers int

	// total counts successful registrations since start.
	total atomic.Int64
}

// NewRegistry creates a registry admitting at most maxUsers sessions.
// maxUsers <= 0 selects DefaultMaxUsers.
func NewRegistry(maxUsers int) *Registry {
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	return &Registry{
		sessions: make(map[string]Session),
		maxUsers: maxUsers,
	}
}

// Register inserts s for username unless the name is taken.
//
// Returns the current owner when the username is already registered, in
// which case nothing changes. Returns ErrTooManyUsers when the registry is
// full.
func (r *Registry) Register(username string, s Session) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.sessions[username]; ok {
		return prev, nil
	}
	if len(r.sessions) >= r.maxUsers {
		return nil, fmt.Errorf("%w (max %d)", ErrTooManyUsers, r.maxUsers)
	}

	r.sessions[username] = s
	r.total.Add(1)
	return nil, nil
}

// Unregister removes username regardless of which session owns it.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	delete(r.sessions, username)
	r.mu.Unlock()
}

// UnregisterIf removes username only while s still owns it. Transports use
// it on teardown so a stale session never evicts a newer one.
func (r *Registry) UnregisterIf(username string, s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[username]; ok && cur == s {
		delete(r.sessions, username)
		return true
	}
	return false
}

// Lookup returns the session owning username.
func (r *Registry) Lookup(username string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[username]
	return s, ok
}

// ListActive returns the registered usernames in sorted order.
func (r *Registry) ListActive() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.Unlock()

	sort.Strings(names)
	return names
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of the registered sessions ordered by username.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity().Username < out[j].Identity().Username
	})
	return out
}

// MaxUsers returns the configured capacity.
func (r *Registry) MaxUsers() int {
	return r.maxUsers
}

// TotalRegistrations returns the number of successful registrations since
// the registry was created.
func (r *Registry) TotalRegistrations() int64 {
	return r.total.Load()
}
