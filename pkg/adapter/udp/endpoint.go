package udp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// endpoint is one remote UDP address. It implements dispatcher.Peer.
type endpoint struct {
	server *Adapter
	addr   *net.UDPAddr
	key    string

	// serial orders dispatches from this endpoint.
	serial sync.Mutex

	mu       sync.Mutex
	session  *Session
	lastSeen time.Time
}

// endpoint returns the endpoint for addr, creating it on first contact.
func (a *Adapter) endpoint(addr *net.UDPAddr) *endpoint {
	k := addr.String()

	a.mu.Lock()
	defer a.mu.Unlock()

	ep, ok := a.endpoints[k]
	if !ok {
		ep = &endpoint{server: a, addr: addr, key: k, lastSeen: time.Now()}
		a.endpoints[k] = ep
	}
	return ep
}

// forget removes ep from the endpoint table if it is still the entry for
// its address.
func (a *Adapter) forget(ep *endpoint) {
	a.mu.Lock()
	if a.endpoints[ep.key] == ep {
		delete(a.endpoints, ep.key)
	}
	a.mu.Unlock()
	a.receiver.Forget(ep.key)
}

// snapshot returns the current endpoints.
func (a *Adapter) snapshot() []*endpoint {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*endpoint, 0, len(a.endpoints))
	for _, ep := range a.endpoints {
		out = append(out, ep)
	}
	return out
}

// Endpoints returns the number of known remote endpoints.
func (a *Adapter) Endpoints() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.endpoints)
}

func (e *endpoint) touch() {
	e.mu.Lock()
	e.lastSeen = time.Now()
	e.mu.Unlock()
}

func (e *endpoint) idleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// Transport implements dispatcher.Peer.
func (e *endpoint) Transport() string { return session.TransportUDP }

// RemoteAddr implements dispatcher.Peer.
func (e *endpoint) RemoteAddr() string { return e.key }

// Session implements dispatcher.Peer.
func (e *endpoint) Session() session.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.session
}

// NewSession implements dispatcher.Peer.
func (e *endpoint) NewSession(id session.Identity, cwd string) session.Session {
	return &Session{
		State:    session.NewState(id, cwd),
		ep:       e,
		released: make(chan struct{}),
	}
}

// Bind implements dispatcher.Peer. Binding records the connection in
// metrics; unbinding wakes a pending GracefulDisconnect.
func (e *endpoint) Bind(s session.Session) {
	e.mu.Lock()
	prev := e.session
	if s == nil {
		e.session = nil
	} else {
		e.session = s.(*Session)
	}
	e.mu.Unlock()

	m := e.server.metrics
	switch {
	case s != nil && prev == nil:
		n := e.server.active.Add(1)
		if m != nil {
			m.RecordConnectionAccepted()
			m.SetActiveConnections(n)
		}
	case s == nil && prev != nil:
		prev.markReleased()
		n := e.server.active.Add(-1)
		if m != nil {
			m.RecordConnectionClosed()
			m.SetActiveConnections(n)
		}
	}
}

// release unbinds and unregisters the endpoint session, then forgets the
// endpoint.
func (a *Adapter) release(ep *endpoint, reason string) {
	a.dispatcher.Release(context.Background(), ep, reason)
	a.forget(ep)
}

// sweepSessions evicts idle sessions and sessionless endpoints every
// SweepInterval until ctx is cancelled.
func (a *Adapter) sweepSessions(ctx context.Context) {
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

// sweep evicts sessions with no activity for SessionIdleTimeout, and
// endpoints that never connected and have been quiet for the same bound
// (or for the transfer idle bound when session eviction is disabled).
func (a *Adapter) sweep(now time.Time) int {
	sessionBound := a.config.SessionIdleTimeout
	endpointBound := sessionBound
	if endpointBound <= 0 {
		endpointBound = a.sender.Config().IdleTimeout
	}

	evicted := 0
	for _, ep := range a.snapshot() {
		s := ep.Session()
		if s == nil {
			if now.Sub(ep.idleSince()) > endpointBound {
				a.forget(ep)
			}
			continue
		}
		if sessionBound <= 0 || now.Sub(s.LastActivity()) <= sessionBound {
			continue
		}

		logger.Info("Evicting idle UDP session",
			logger.KeyUsername, s.Identity().Username,
			logger.KeyClientAddr, ep.key,
			"idle", now.Sub(s.LastActivity()).Round(time.Second))
		a.writeMessage(ep.addr, &protocol.Disconnect{Reason: "Session idle timeout"})
		a.release(ep, "idle")
		evicted++
	}
	return evicted
}

// Session is a session bound to one UDP endpoint.
type Session struct {
	*session.State
	ep *endpoint

	releaseOnce sync.Once
	released    chan struct{}
}

func (s *Session) markReleased() {
	s.releaseOnce.Do(func() { close(s.released) })
}

// Send writes m to the endpoint as one datagram.
func (s *Session) Send(_ context.Context, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	_, err = s.ep.server.conn.WriteToUDP(data, s.ep.addr)
	return err
}

// Disconnect unregisters the session and forgets the endpoint. It does
// nothing once the endpoint is bound to a newer session.
func (s *Session) Disconnect() error {
	if cur := s.ep.Session(); cur != nil && cur != session.Session(s) {
		return nil
	}

	reason := "transport"
	select {
	case <-s.ep.server.shutdown:
		reason = "shutdown"
	default:
	}
	s.ep.server.release(s.ep, reason)
	return nil
}

// GracefulDisconnect sends a Disconnect notice and gives the client the
// grace period to answer with its own Disconnect before the session is
// dropped.
func (s *Session) GracefulDisconnect(ctx context.Context, reason string) {
	if err := s.Send(ctx, &protocol.Disconnect{Reason: reason}); err != nil {
		logger.Debug("Could not send UDP disconnect notice",
			logger.KeyUsername, s.Identity().Username, logger.Err(err))
	}

	timer := time.NewTimer(s.ep.server.config.GracePeriod)
	defer timer.Stop()

	select {
	case <-s.released:
		return
	case <-timer.C:
	case <-ctx.Done():
	}
	_ = s.Disconnect()
}

func (s *Session) Transport() string { return session.TransportUDP }

func (s *Session) RemoteAddr() string { return s.ep.key }
