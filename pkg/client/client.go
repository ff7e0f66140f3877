// Package client is the remote shell client library used by rsh.
//
// A Client wraps one transport (stream, datagram or call) behind the same
// typed command methods. Commands on one Client are serialized. A server
// initiated Disconnect, such as the shutdown notice, marks the client
// disconnected and is published on Notices.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/protocol"
)

// ClientShutdownReason is sent with the Disconnect issued by Close.
const ClientShutdownReason = "Client shutdown"

// transport carries one command and returns its result.
type transport interface {
	// call sends msg and waits for the matching result.
	call(ctx context.Context, msg protocol.Message) (protocol.Result, error)

	// close releases the transport. Pending calls fail.
	close() error

	// name returns tcp, udp or rpc.
	name() string
}

// Client is a remote shell session.
type Client struct {
	t transport

	// calls serializes commands.
	calls sync.Mutex

	mu        sync.Mutex
	connected bool
	username  string
	cwd       string
	serverOS  string
	version   string
	closed    bool

	notices chan *protocol.Disconnect
}

func newClient() *Client {
	return &Client{notices: make(chan *protocol.Disconnect, 1)}
}

// Transport returns tcp, udp or rpc.
func (c *Client) Transport() string {
	return c.t.name()
}

// Notices delivers server initiated disconnects. At most one notice is
// buffered.
func (c *Client) Notices() <-chan *protocol.Disconnect {
	return c.notices
}

// Connected reports whether Connect succeeded and no Disconnect happened
// since.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Username returns the name the session was opened with.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// CurrentDir returns the last directory reported by the server.
func (c *Client) CurrentDir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwd
}

// ServerOS returns the server operating system reported on Connect.
func (c *Client) ServerOS() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverOS
}

// ServerVersion returns the server version reported on Connect.
func (c *Client) ServerVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// notice handles a server Disconnect.
func (c *Client) notice(d *protocol.Disconnect) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	logger.Info("Disconnected by server", logger.KeyReason, d.Reason)

	select {
	case c.notices <- d:
	default:
	}
}

func (c *Client) setDir(dir string) {
	if dir == "" {
		return
	}
	c.mu.Lock()
	c.cwd = dir
	c.mu.Unlock()
}

// do runs one command. A failed result is returned together with a
// *CommandError.
func (c *Client) do(ctx context.Context, msg protocol.Message) (protocol.Result, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	c.calls.Lock()
	defer c.calls.Unlock()

	res, err := c.t.call(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", c.t.name(), msg.Tag(), err)
	}
	if res.Tag() != msg.Tag().Result() {
		return nil, fmt.Errorf("%w: %s for %s", ErrUnexpectedResult, res.Tag(), msg.Tag())
	}
	if res.Failed() {
		return res, &CommandError{Command: msg.Tag(), Message: res.Err()}
	}
	return res, nil
}

// Connect opens the session. secret may be empty when the server runs
// without authentication.
func (c *Client) Connect(ctx context.Context, username, fullName, secret string) (*protocol.ConnectResult, error) {
	res, err := c.do(ctx, &protocol.Connect{Username: username, FullName: fullName, Secret: secret})
	cr, _ := res.(*protocol.ConnectResult)
	if err != nil {
		return cr, err
	}

	c.mu.Lock()
	c.connected = true
	c.username = username
	c.cwd = cr.CurrentDir
	c.serverOS = cr.ServerOS
	c.version = cr.ServerVersion
	c.mu.Unlock()
	return cr, nil
}

// Execute runs a shell command on the server.
func (c *Client) Execute(ctx context.Context, cmd *protocol.Execute) (*protocol.ExecuteResult, error) {
	res, err := c.do(ctx, cmd)
	er, _ := res.(*protocol.ExecuteResult)
	return er, err
}

// Upload writes a file on the server.
func (c *Client) Upload(ctx context.Context, up *protocol.Upload) (*protocol.UploadResult, error) {
	res, err := c.do(ctx, up)
	ur, _ := res.(*protocol.UploadResult)
	return ur, err
}

// Download reads a file, or a byte range of it, from the server.
func (c *Client) Download(ctx context.Context, dl *protocol.Download) (*protocol.DownloadResult, error) {
	res, err := c.do(ctx, dl)
	dr, _ := res.(*protocol.DownloadResult)
	return dr, err
}

// Chdir changes the session directory.
func (c *Client) Chdir(ctx context.Context, dir string) (*protocol.ChdirResult, error) {
	res, err := c.do(ctx, &protocol.Chdir{NewDir: dir})
	cr, _ := res.(*protocol.ChdirResult)
	if err == nil {
		c.setDir(cr.NewDir)
	}
	return cr, err
}

// Getdir asks for the session directory.
func (c *Client) Getdir(ctx context.Context) (*protocol.GetdirResult, error) {
	res, err := c.do(ctx, &protocol.Getdir{})
	gr, _ := res.(*protocol.GetdirResult)
	if err == nil {
		c.setDir(gr.CurrentDir)
	}
	return gr, err
}

// Disconnect closes the session. Datagram and call transports stay usable
// for another Connect; a stream server closes the connection afterwards.
func (c *Client) Disconnect(ctx context.Context, reason string) error {
	_, err := c.do(ctx, &protocol.Disconnect{Reason: reason})

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return err
}

// Close disconnects the session if it is open and releases the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	connected := c.connected
	c.mu.Unlock()

	var errs []error
	if connected {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		if err := c.Disconnect(ctx, ClientShutdownReason); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.t.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
