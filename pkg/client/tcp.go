package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// tcpTransport exchanges frames over one connection. A reader goroutine
// routes results to the pending call and Disconnect notices to the client.
type tcpTransport struct {
	conn     net.Conn
	onNotice func(*protocol.Disconnect)

	writeMu sync.Mutex
	results chan protocol.Result

	done    chan struct{}
	errOnce sync.Once
	err     error
}

// DialTCP connects to a stream listener at addr.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*Client, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}

	c := newClient()
	t := &tcpTransport{
		conn:     conn,
		onNotice: c.notice,
		results:  make(chan protocol.Result, 1),
		done:     make(chan struct{}),
	}
	c.t = t
	go t.readLoop()

	logger.Debug("TCP transport connected", logger.KeyAddress, addr)
	return c, nil
}

func (t *tcpTransport) name() string { return session.TransportTCP }

func (t *tcpTransport) fail(err error) {
	t.errOnce.Do(func() {
		t.err = err
		close(t.done)
	})
}

func (t *tcpTransport) readLoop() {
	for {
		msg, err := protocol.ReadFrame(t.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				err = ErrConnectionLost
			}
			t.fail(err)
			return
		}

		switch m := msg.(type) {
		case *protocol.Disconnect:
			t.onNotice(m)
			// The server closes its end after the grace period; closing ours
			// releases the session right away.
			t.fail(ErrConnectionLost)
			_ = t.conn.Close()
			return
		case protocol.Result:
			select {
			case t.results <- m:
			default:
				logger.Debug("Dropping unsolicited result", logger.KeyCommand, m.Tag().String())
			}
		default:
			logger.Debug("Dropping unexpected frame", logger.KeyCommand, msg.Tag().String())
		}
	}
}

func (t *tcpTransport) call(ctx context.Context, msg protocol.Message) (protocol.Result, error) {
	select {
	case <-t.done:
		return nil, t.err
	default:
	}

	// Drop a late result left over from an abandoned call.
	select {
	case <-t.results:
	default:
	}

	t.writeMu.Lock()
	if dl, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(dl)
	}
	err := protocol.WriteFrame(t.conn, msg)
	_ = t.conn.SetWriteDeadline(time.Time{})
	t.writeMu.Unlock()
	if err != nil {
		t.fail(err)
		return nil, err
	}

	want := msg.Tag().Result()
	for {
		select {
		case res := <-t.results:
			if res.Tag() == want {
				return res, nil
			}
		case <-t.done:
			return nil, t.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *tcpTransport) close() error {
	t.fail(ErrClosed)
	err := t.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
