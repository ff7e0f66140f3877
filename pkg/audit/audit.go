// Package audit keeps a journal of session and command events.
//
// The server records every Connect (accepted or rejected), every Disconnect
// and every dispatched command. Backends are interchangeable behind Journal:
// an in-memory ring for development, BadgerDB for a single node, and SQLite
// or PostgreSQL through GORM.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType classifies journal entries.
type EventType string

const (
	EventConnect         EventType = "connect"
	EventConnectRejected EventType = "connect_rejected"
	EventDisconnect      EventType = "disconnect"
	EventCommand         EventType = "command"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// ErrClosed is returned by a journal after Close.
var ErrClosed = errors.New("audit journal closed")

// Event is one journal entry.
type Event struct {
	ID           string    `json:"id"`
	Time         time.Time `json:"time"`
	Type         EventType `json:"type"`
	Transport    string    `json:"transport"`
	Username     string    `json:"username,omitempty"`
	RemoteAddr   string    `json:"remote_addr,omitempty"`
	Command      string    `json:"command,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	IsError      bool      `json:"is_error"`
	ErrorMessage string    `json:"error_message,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
}

// NewEvent stamps a fresh event with an id and the current time.
func NewEvent(typ EventType, transport, username, remoteAddr string) Event {
	return Event{
		ID:         uuid.NewString(),
		Time:       time.Now().UTC(),
		Type:       typ,
		Transport:  transport,
		Username:   username,
		RemoteAddr: remoteAddr,
	}
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Username string
	Type     EventType
	Since    time.Time

	// Limit caps the number of events returned; 0 means DefaultListLimit.
	Limit int
}

// DefaultListLimit bounds List when Filter.Limit is zero.
const DefaultListLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

func (f Filter) matches(e *Event) bool {
	if f.Username != "" && e.Username != f.Username {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	return true
}

// Journal stores audit events.
//
// Implementations must be safe for concurrent use.
type Journal interface {
	// Record appends e. Events missing an ID or Time are stamped.
	Record(ctx context.Context, e Event) error

	// List returns matching events, newest first.
	List(ctx context.Context, f Filter) ([]Event, error)

	// Close releases backend resources.
	Close() error
}

// stamp fills the id and time of events built by hand.
func stamp(e *Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
}

// Config selects and configures a backend.
type Config struct {
	Backend string

	// MemoryCapacity is the ring size of the memory backend.
	MemoryCapacity int

	Badger BadgerConfig
	SQL    SQLConfig
}

// Open creates the journal described by cfg, wrapped with tracing.
func Open(ctx context.Context, cfg Config) (Journal, error) {
	var (
		j   Journal
		err error
	)

	switch cfg.Backend {
	case "", BackendMemory:
		j = NewMemoryJournal(cfg.MemoryCapacity)
	case BackendBadger:
		j, err = NewBadgerJournal(ctx, cfg.Badger)
	case BackendSQLite, BackendPostgres:
		sqlCfg := cfg.SQL
		sqlCfg.Type = DatabaseType(cfg.Backend)
		j, err = NewGORMJournal(&sqlCfg)
	default:
		return nil, fmt.Errorf("unsupported audit backend: %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	backend := cfg.Backend
	if backend == "" {
		backend = BackendMemory
	}
	return &tracedJournal{Journal: j, backend: backend}, nil
}
