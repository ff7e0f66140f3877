package audit

import (
	"context"
	"sync"
)

// DefaultMemoryCapacity is the ring size used when none is configured.
const DefaultMemoryCapacity = 10000

// MemoryJournal keeps the most recent events in a fixed-size ring.
type MemoryJournal struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
	closed bool
}

// NewMemoryJournal creates a ring holding at most capacity events.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryJournal{events: make([]Event, capacity)}
}

func (m *MemoryJournal) Record(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stamp(&e)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	m.events[m.next] = e
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	return nil
}

func (m *MemoryJournal) List(ctx context.Context, f Filter) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	n := m.next
	if m.full {
		n = len(m.events)
	}

	limit := f.limit()
	out := make([]Event, 0, min(limit, n))
	// Walk backwards from the most recent slot.
	for i := 0; i < n && len(out) < limit; i++ {
		idx := (m.next - 1 - i + len(m.events)) % len(m.events)
		if f.matches(&m.events[idx]) {
			out = append(out, m.events[idx])
		}
	}
	return out, nil
}

// Len returns the number of retained events.
func (m *MemoryJournal) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.full {
		return len(m.events)
	}
	return m.next
}

func (m *MemoryJournal) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
