package tcp

import (
	"context"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// Session is a session bound to one TCP connection.
type Session struct {
	*session.State
	conn *Connection
}

// Send writes m to the connection as a frame.
func (s *Session) Send(_ context.Context, m protocol.Message) error {
	return s.conn.write(m)
}

// Disconnect closes the connection. The connection goroutine unregisters
// the session as it exits.
func (s *Session) Disconnect() error {
	return s.conn.close()
}

// GracefulDisconnect sends a Disconnect notice and gives the client the
// grace period to close its end before the connection is closed.
func (s *Session) GracefulDisconnect(ctx context.Context, reason string) {
	if err := s.Send(ctx, &protocol.Disconnect{Reason: reason}); err != nil {
		logger.Debug("Could not send TCP disconnect notice",
			logger.KeyUsername, s.Identity().Username, logger.Err(err))
	}

	timer := time.NewTimer(s.conn.server.config.GracePeriod)
	defer timer.Stop()

	select {
	case <-s.conn.done:
		return
	case <-timer.C:
	case <-ctx.Done():
	}
	_ = s.Disconnect()
}

func (s *Session) Transport() string { return session.TransportTCP }

func (s *Session) RemoteAddr() string { return s.conn.addr }
