// Package dispatcher executes remote shell commands against a session.
//
// Every transport decodes a command, hands it to Dispatch together with a
// Peer describing the caller, and sends back the returned result. The
// dispatcher owns the session state machine: a peer starts disconnected,
// Connect binds a registered session to it, and Disconnect (or a transport
// teardown through Release) unbinds and unregisters it.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/internal/telemetry"
	"github.com/cin-tie/remote-shell/pkg/audit"
	"github.com/cin-tie/remote-shell/pkg/metrics"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// ServerVersion is reported in every Connect result.
const ServerVersion = "Remote Shell server 1.1"

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultMaxFileSize    = 256 << 20
)

// ErrNotConnected is reported for commands sent before a successful Connect.
var ErrNotConnected = errors.New("not connected")

const msgNotConnected = "Not connected"

// Config holds dispatcher settings.
type Config struct {
	// Secret is the shared plaintext secret. Empty together with SecretHash
	// disables authentication.
	Secret string

	// SecretHash is a bcrypt hash of the shared secret. Takes precedence
	// over Secret.
	SecretHash string

	// InitialDirectory is the working directory of new sessions.
	// Default: the process working directory.
	InitialDirectory string

	// DefaultTimeout bounds Execute when the command carries no timeout.
	DefaultTimeout time.Duration

	// MaxFileSize bounds the byte range a Download reads into memory and
	// the payload an Upload accepts.
	MaxFileSize int64
}

// ApplyDefaults fills in zero values.
func (c *Config) ApplyDefaults() {
	if c.InitialDirectory == "" {
		if wd, err := os.Getwd(); err == nil {
			c.InitialDirectory = wd
		} else {
			c.InitialDirectory = string(os.PathSeparator)
		}
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultCommandTimeout
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
}

// AuthEnabled reports whether Connect checks a secret.
func (c *Config) AuthEnabled() bool {
	return c.Secret != "" || c.SecretHash != ""
}

// Peer is the transport-side view of one caller: a TCP connection, a
// datagram endpoint or an RPC token.
type Peer interface {
	// Transport returns tcp, udp or rpc.
	Transport() string

	// RemoteAddr identifies the caller for logs and audit.
	RemoteAddr() string

	// Session returns the bound session, or nil before Connect.
	Session() session.Session

	// NewSession builds a transport session for a Connect in progress. The
	// session is not bound until registration succeeds.
	NewSession(id session.Identity, cwd string) session.Session

	// Bind attaches s to the peer; nil detaches.
	Bind(s session.Session)
}

type handlerFunc func(ctx context.Context, peer Peer, msg protocol.Message) protocol.Result

// Dispatcher routes commands to handlers.
type Dispatcher struct {
	cfg      Config
	registry *session.Registry
	journal  audit.Journal
	metrics  metrics.ShellMetrics
	serverOS string
	handlers map[protocol.Tag]handlerFunc
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithJournal records session and command events in j.
func WithJournal(j audit.Journal) Option {
	return func(d *Dispatcher) { d.journal = j }
}

// WithMetrics records command metrics in m. A nil m disables collection.
func WithMetrics(m metrics.ShellMetrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// New creates a dispatcher bound to registry.
func New(cfg Config, registry *session.Registry, opts ...Option) *Dispatcher {
	cfg.ApplyDefaults()

	d := &Dispatcher{
		cfg:      cfg,
		registry: registry,
		serverOS: serverOS(),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.handlers = map[protocol.Tag]handlerFunc{
		protocol.TagConnect:    d.handleConnect,
		protocol.TagDisconnect: d.handleDisconnect,
		protocol.TagExecute:    d.connected(d.handleExecute),
		protocol.TagUpload:     d.connected(d.handleUpload),
		protocol.TagDownload:   d.connected(d.handleDownload),
		protocol.TagChdir:      d.connected(d.handleChdir),
		protocol.TagGetdir:     d.connected(d.handleGetdir),
	}
	return d
}

// Config returns the effective configuration.
func (d *Dispatcher) Config() Config {
	return d.cfg
}

// Registry returns the session registry the dispatcher registers into.
func (d *Dispatcher) Registry() *session.Registry {
	return d.registry
}

// sessionHandler handles a command that requires a connected session.
type sessionHandler func(ctx context.Context, s session.Session, msg protocol.Message) protocol.Result

// connected rejects commands from peers without a bound session.
func (d *Dispatcher) connected(h sessionHandler) handlerFunc {
	return func(ctx context.Context, peer Peer, msg protocol.Message) protocol.Result {
		s := peer.Session()
		if s == nil {
			return protocol.ErrorResult(msg.Tag(), msgNotConnected)
		}
		return h(ctx, s, msg)
	}
}

// Dispatch runs msg for peer and returns its result. It never returns nil
// and never panics: handler failures of any kind become error results.
func (d *Dispatcher) Dispatch(ctx context.Context, peer Peer, msg protocol.Message) (res protocol.Result) {
	tag := msg.Tag()
	handler, ok := d.handlers[tag]
	if !ok {
		return protocol.ErrorResult(tag, fmt.Sprintf("Unsupported command: %s", tag))
	}

	command := tag.String()
	transport := peer.Transport()
	start := time.Now()

	username := ""
	if s := peer.Session(); s != nil {
		username = s.Identity().Username
		s.Touch()
	} else if c, ok := msg.(*protocol.Connect); ok {
		username = c.Username
	}

	ctx, span := telemetry.StartCommandSpan(ctx, command, transport, peer.RemoteAddr(),
		telemetry.Username(username))
	lc := logger.NewLogContext(transport, peer.RemoteAddr()).
		WithCommand(command).
		WithUsername(username).
		WithTrace(telemetry.TraceID(ctx), telemetry.SpanID(ctx))
	ctx = logger.WithContext(ctx, lc)

	if d.metrics != nil {
		d.metrics.RecordCommandStart(transport, command)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "Command handler panicked", "panic", r)
			res = protocol.ErrorResult(tag, fmt.Sprintf("Internal server error: %v", r))
		}

		elapsed := time.Since(start)
		telemetry.EndCommandSpan(span, res.Failed(), res.Err())
		if d.metrics != nil {
			d.metrics.RecordCommandEnd(transport, command)
			d.metrics.RecordCommand(transport, command, elapsed, res.Failed())
			d.recordBytes(transport, res)
		}
		d.audit(ctx, peer, msg, res, username, elapsed)

		if res.Failed() {
			logger.InfoCtx(ctx, "Command failed", logger.KeyError, res.Err(), logger.KeyDurationMs, lc.DurationMs())
		} else {
			logger.DebugCtx(ctx, "Command completed", logger.KeyDurationMs, lc.DurationMs())
		}
	}()

	return handler(ctx, peer, msg)
}

func (d *Dispatcher) recordBytes(transport string, res protocol.Result) {
	switch r := res.(type) {
	case *protocol.UploadResult:
		d.metrics.RecordBytesTransferred(transport, "upload", r.Size)
	case *protocol.DownloadResult:
		d.metrics.RecordBytesTransferred(transport, "download", r.ReturnedBytes())
	}
}

// Release tears down the session bound to peer after the transport lost it.
// Reason is recorded in metrics and audit ("transport", "idle", "shutdown").
// Safe to call when no session is bound.
func (d *Dispatcher) Release(ctx context.Context, peer Peer, reason string) {
	s := peer.Session()
	if s == nil {
		return
	}
	peer.Bind(nil)
	d.unregister(ctx, s, peer.RemoteAddr(), reason)
}

// unregister removes s from the registry if it still owns its username.
func (d *Dispatcher) unregister(ctx context.Context, s session.Session, remoteAddr, reason string) {
	id := s.Identity()
	if !d.registry.UnregisterIf(id.Username, s) {
		return
	}

	logger.InfoCtx(ctx, "Session closed",
		logger.KeyUsername, id.Username,
		logger.KeyTransport, s.Transport(),
		logger.KeyReason, reason,
		logger.KeyActive, d.registry.Count())

	if d.metrics != nil {
		d.metrics.RecordSessionClosed(s.Transport(), reason)
		d.metrics.SetActiveSessions(d.registry.Count())
	}

	if reason != "disconnect" && d.journal != nil {
		e := audit.NewEvent(audit.EventDisconnect, s.Transport(), id.Username, remoteAddr)
		e.Detail = reason
		d.record(ctx, e)
	}
}

// audit records the outcome of one dispatched command.
func (d *Dispatcher) audit(ctx context.Context, peer Peer, msg protocol.Message, res protocol.Result, username string, elapsed time.Duration) {
	if d.journal == nil {
		return
	}

	typ := audit.EventCommand
	switch msg.Tag() {
	case protocol.TagConnect:
		typ = audit.EventConnect
		if res.Failed() {
			typ = audit.EventConnectRejected
		}
	case protocol.TagDisconnect:
		typ = audit.EventDisconnect
	}

	e := audit.NewEvent(typ, peer.Transport(), username, peer.RemoteAddr())
	e.Command = msg.Tag().String()
	e.Detail = describe(msg)
	e.IsError = res.Failed()
	e.ErrorMessage = res.Err()
	e.DurationMs = elapsed.Milliseconds()
	d.record(ctx, e)
}

func (d *Dispatcher) record(ctx context.Context, e audit.Event) {
	// Audit writes outlive a cancelled request context.
	if err := d.journal.Record(context.WithoutCancel(ctx), e); err != nil {
		logger.WarnCtx(ctx, "Audit record failed", logger.Err(err))
	}
}

// describe summarizes a command for the audit journal. Secrets and file
// contents are never included.
func describe(msg protocol.Message) string {
	switch m := msg.(type) {
	case *protocol.Connect:
		return m.FullName
	case *protocol.Disconnect:
		return m.Reason
	case *protocol.Execute:
		return m.Command
	case *protocol.Upload:
		return fmt.Sprintf("%s (%d bytes)", m.FileName, len(m.Data))
	case *protocol.Download:
		return fmt.Sprintf("%s [%d+%d]", m.Path, m.Offset, m.Length)
	case *protocol.Chdir:
		return m.NewDir
	default:
		return ""
	}
}
