package tcp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// errPollTimeout reports that no frame started within the poll interval.
var errPollTimeout = errors.New("poll timeout")

// Connection handles one client connection. It implements dispatcher.Peer.
type Connection struct {
	server *Adapter
	conn   net.Conn
	reader *bufio.Reader
	addr   string

	// writeMu serializes result frames and server notices.
	writeMu sync.Mutex

	mu      sync.Mutex
	session *Session

	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection creates a connection handler.
func NewConnection(server *Adapter, conn net.Conn) *Connection {
	return &Connection{
		server: server,
		conn:   conn,
		reader: bufio.NewReader(conn),
		addr:   conn.RemoteAddr().String(),
		done:   make(chan struct{}),
	}
}

// Serve reads and dispatches commands in arrival order until the client
// disconnects, a frame fails to decode, or the server shuts down.
func (c *Connection) Serve(ctx context.Context) {
	defer c.handleConnectionClose()

	logger.Debug("New TCP connection", logger.KeyClientAddr, c.addr)

	for {
		select {
		case <-ctx.Done():
			logger.Debug("TCP connection closed due to context cancellation", logger.KeyClientAddr, c.addr)
			return
		case <-c.server.Shutdown:
			logger.Debug("TCP connection closed due to server shutdown", logger.KeyClientAddr, c.addr)
			return
		default:
		}

		msg, err := c.readMessage()
		if err != nil {
			switch {
			case errors.Is(err, errPollTimeout):
				continue
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logger.Debug("TCP connection closed by client", logger.KeyClientAddr, c.addr)
			default:
				logger.Info("Dropping TCP connection after read error", logger.KeyClientAddr, c.addr, logger.Err(err))
			}
			return
		}

		res := c.server.dispatcher.Dispatch(ctx, c, msg)
		if err := c.write(res); err != nil {
			logger.Debug("Error writing TCP result", logger.KeyClientAddr, c.addr, logger.Err(err))
			return
		}

		if _, ok := msg.(*protocol.Disconnect); ok && !res.Failed() {
			return
		}
	}
}

// readMessage waits up to PollInterval for a frame to start, then reads it
// whole. Peeking keeps a frame that straddles the poll deadline intact.
func (c *Connection) readMessage() (protocol.Message, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.server.config.PollInterval)); err != nil {
		return nil, err
	}
	if _, err := c.reader.Peek(1); err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, errPollTimeout
		}
		return nil, err
	}

	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return protocol.ReadFrame(c.reader)
}

func (c *Connection) write(m protocol.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.server.config.WriteTimeout)); err != nil {
		return err
	}
	return protocol.WriteFrame(c.conn, m)
}

// close shuts the socket; the Serve loop then exits and releases the
// session.
func (c *Connection) close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// handleConnectionClose recovers panics, releases the bound session and
// closes the socket.
func (c *Connection) handleConnectionClose() {
	if r := recover(); r != nil {
		logger.Error("Panic in TCP connection handler",
			logger.KeyClientAddr, c.addr,
			"error", r,
			"stack", string(debug.Stack()))
	}

	reason := "transport"
	select {
	case <-c.server.Shutdown:
		reason = "shutdown"
	default:
	}
	c.server.dispatcher.Release(context.Background(), c, reason)

	_ = c.close()
	close(c.done)
}

// Transport implements dispatcher.Peer.
func (c *Connection) Transport() string { return session.TransportTCP }

// RemoteAddr implements dispatcher.Peer.
func (c *Connection) RemoteAddr() string { return c.addr }

// Session implements dispatcher.Peer.
func (c *Connection) Session() session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session
}

// NewSession implements dispatcher.Peer.
func (c *Connection) NewSession(id session.Identity, cwd string) session.Session {
	return &Session{State: session.NewState(id, cwd), conn: c}
}

// Bind implements dispatcher.Peer.
func (c *Connection) Bind(s session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == nil {
		c.session = nil
		return
	}
	c.session = s.(*Session)
}
