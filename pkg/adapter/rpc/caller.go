package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// caller is the state of one session token. It implements dispatcher.Peer.
type caller struct {
	server *Adapter
	token  string

	// serial orders calls carrying this token.
	serial sync.Mutex

	mu         sync.Mutex
	remoteAddr string
	session    *Session
	lastSeen   time.Time
	notices    []protocol.Message
}

// caller returns the caller for token, creating it on first use.
func (a *Adapter) caller(token, remoteAddr string) *caller {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := a.callers[token]
	if !ok {
		c = &caller{server: a, token: token, lastSeen: time.Now()}
		a.callers[token] = c
	}
	c.mu.Lock()
	c.remoteAddr = remoteAddr
	c.mu.Unlock()
	return c
}

// forget removes c if it is still the entry for its token.
func (a *Adapter) forget(c *caller) {
	a.mu.Lock()
	if a.callers[c.token] == c {
		delete(a.callers, c.token)
	}
	a.mu.Unlock()
}

func (a *Adapter) snapshot() []*caller {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*caller, 0, len(a.callers))
	for _, c := range a.callers {
		out = append(out, c)
	}
	return out
}

// release unbinds and unregisters the caller session, then forgets the
// token.
func (a *Adapter) release(c *caller, reason string) {
	a.dispatcher.Release(context.Background(), c, reason)
	a.forget(c)
}

// sweepCallers evicts idle tokens every SweepInterval until ctx is
// cancelled.
func (a *Adapter) sweepCallers(ctx context.Context) {
	ticker := time.NewTicker(a.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			a.sweep(now)
		}
	}
}

// sweep evicts sessions idle longer than SessionIdleTimeout and tokens that
// never connected and went quiet for the same bound (or the request timeout
// when session eviction is disabled).
func (a *Adapter) sweep(now time.Time) int {
	sessionBound := a.config.SessionIdleTimeout
	callerBound := sessionBound
	if callerBound <= 0 {
		callerBound = a.config.RequestTimeout
	}

	evicted := 0
	for _, c := range a.snapshot() {
		s := c.Session()
		if s == nil {
			if now.Sub(c.idleSince()) > callerBound {
				a.forget(c)
			}
			continue
		}
		if sessionBound <= 0 || now.Sub(s.LastActivity()) <= sessionBound {
			continue
		}

		logger.Info("Evicting idle RPC session",
			logger.KeyUsername, s.Identity().Username,
			logger.KeyClientAddr, c.RemoteAddr())
		a.release(c, "idle")
		evicted++
	}
	return evicted
}

func (c *caller) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *caller) idleSince() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *caller) queue(m protocol.Message) {
	c.mu.Lock()
	c.notices = append(c.notices, m)
	c.mu.Unlock()
}

func (c *caller) takeNotices() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.notices
	c.notices = nil
	return n
}

// Transport implements dispatcher.Peer.
func (c *caller) Transport() string { return session.TransportRPC }

// RemoteAddr implements dispatcher.Peer. It is the address of the latest
// call.
func (c *caller) RemoteAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteAddr
}

// Session implements dispatcher.Peer.
func (c *caller) Session() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session
}

// NewSession implements dispatcher.Peer.
func (c *caller) NewSession(id session.Identity, cwd string) session.Session {
	return &Session{
		State:    session.NewState(id, cwd),
		caller:   c,
		released: make(chan struct{}),
	}
}

// Bind implements dispatcher.Peer.
func (c *caller) Bind(s session.Session) {
	c.mu.Lock()
	prev := c.session
	if s == nil {
		c.session = nil
	} else {
		c.session = s.(*Session)
	}
	c.mu.Unlock()

	m := c.server.metrics
	switch {
	case s != nil && prev == nil:
		n := c.server.active.Add(1)
		if m != nil {
			m.RecordConnectionAccepted()
			m.SetActiveConnections(n)
		}
	case s == nil && prev != nil:
		prev.markReleased()
		n := c.server.active.Add(-1)
		if m != nil {
			m.RecordConnectionClosed()
			m.SetActiveConnections(n)
		}
	}
}

// Session is a session bound to one caller token.
type Session struct {
	*session.State
	caller *caller

	releaseOnce sync.Once
	released    chan struct{}
}

func (s *Session) markReleased() {
	s.releaseOnce.Do(func() { close(s.released) })
}

// Send queues m for the response of the caller's next call.
func (s *Session) Send(_ context.Context, m protocol.Message) error {
	s.caller.queue(m)
	return nil
}

// Disconnect unregisters the session and forgets the token. It does nothing
// once the token is bound to a newer session.
func (s *Session) Disconnect() error {
	if cur := s.caller.Session(); cur != nil && cur != session.Session(s) {
		return nil
	}

	reason := "transport"
	select {
	case <-s.caller.server.shutdown:
		reason = "shutdown"
	default:
	}
	s.caller.server.release(s.caller, reason)
	return nil
}

// GracefulDisconnect queues a Disconnect notice and gives the client the
// grace period to pick it up and answer before the session is dropped.
func (s *Session) GracefulDisconnect(ctx context.Context, reason string) {
	_ = s.Send(ctx, &protocol.Disconnect{Reason: reason})

	timer := time.NewTimer(s.caller.server.config.GracePeriod)
	defer timer.Stop()

	select {
	case <-s.released:
		return
	case <-timer.C:
	case <-ctx.Done():
	}
	_ = s.Disconnect()
}

func (s *Session) Transport() string { return session.TransportRPC }

func (s *Session) RemoteAddr() string { return s.caller.RemoteAddr() }
