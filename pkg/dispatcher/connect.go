package dispatcher

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// checkSecret compares the supplied secret with the configured one.
func (d *Dispatcher) checkSecret(secret string) bool {
	switch {
	case d.cfg.SecretHash != "":
		return bcrypt.CompareHashAndPassword([]byte(d.cfg.SecretHash), []byte(secret)) == nil
	case d.cfg.Secret != "":
		return subtle.ConstantTimeCompare([]byte(d.cfg.Secret), []byte(secret)) == 1
	default:
		return true
	}
}

// handleConnect authenticates, registers and binds a new session.
//
// The secret is checked before the registry is touched. The transport
// session is built first but bound to the peer only once the registry
// accepted it, so a rejected Connect leaves no session behind.
func (d *Dispatcher) handleConnect(ctx context.Context, peer Peer, msg protocol.Message) protocol.Result {
	req := msg.(*protocol.Connect)

	if cur := peer.Session(); cur != nil {
		return &protocol.ConnectResult{Status: protocol.Failure(
			fmt.Sprintf("Already connected as %s", cur.Identity().Username))}
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || strings.ContainsAny(username, " \t\r\n") {
		d.rejected("invalid")
		return &protocol.ConnectResult{Status: protocol.Failure("Invalid username")}
	}

	if !d.checkSecret(req.Secret) {
		d.rejected("password")
		logger.WarnCtx(ctx, "Connect rejected: wrong password")
		return &protocol.ConnectResult{Status: protocol.Failure("Wrong password")}
	}

	s := peer.NewSession(session.Identity{Username: username, FullName: req.FullName}, d.cfg.InitialDirectory)

	prev, err := d.registry.Register(username, s)
	if err != nil {
		d.rejected("full")
		if errors.Is(err, session.ErrTooManyUsers) {
			return &protocol.ConnectResult{Status: protocol.Failure(
				fmt.Sprintf("Too many users connected (max %d)", d.registry.MaxUsers()))}
		}
		return &protocol.ConnectResult{Status: protocol.Failure(err.Error())}
	}
	if prev != nil {
		d.rejected("duplicate")
		logger.WarnCtx(ctx, "Connect rejected: user already connected",
			"owner_transport", prev.Transport())
		return &protocol.ConnectResult{Status: protocol.Failure(
			fmt.Sprintf("User already connected: %s", username))}
	}

	peer.Bind(s)

	logger.InfoCtx(ctx, "User connected",
		logger.KeyFullName, req.FullName,
		logger.KeyActive, d.registry.Count())

	if d.metrics != nil {
		d.metrics.RecordSessionOpened(peer.Transport())
		d.metrics.SetActiveSessions(d.registry.Count())
	}

	return &protocol.ConnectResult{
		ServerOS:      d.serverOS,
		CurrentDir:    s.CurrentDirectory(),
		ServerVersion: ServerVersion,
	}
}

func (d *Dispatcher) rejected(reason string) {
	if d.metrics != nil {
		d.metrics.RecordConnectRejected(reason)
	}
}

// handleDisconnect unregisters the peer's session. The transport decides
// what happens to the underlying connection afterwards.
func (d *Dispatcher) handleDisconnect(ctx context.Context, peer Peer, msg protocol.Message) protocol.Result {
	req := msg.(*protocol.Disconnect)

	s := peer.Session()
	if s == nil {
		return &protocol.DisconnectResult{Status: protocol.Failure(msgNotConnected)}
	}

	logger.InfoCtx(ctx, "Client requested disconnect", logger.KeyReason, req.Reason)
	peer.Bind(nil)
	d.unregister(ctx, s, peer.RemoteAddr(), "disconnect")

	return &protocol.DisconnectResult{}
}
