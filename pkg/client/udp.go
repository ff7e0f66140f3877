package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/adapter/udp"
	"github.com/cin-tie/remote-shell/pkg/fragment"
	"github.com/cin-tie/remote-shell/pkg/protocol"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// udpTransport sends each command as one datagram. Uploads larger than one
// fragment go through a fragment.Sender; fragmented download results are
// reassembled by a fragment.Receiver and delivered like any other result.
type udpTransport struct {
	conn     *net.UDPConn
	peer     string
	cfg      Config
	onNotice func(*protocol.Disconnect)

	sender   *fragment.Sender
	receiver *fragment.Receiver
	results  chan protocol.Result

	cancel  context.CancelFunc
	done    chan struct{}
	errOnce sync.Once
	err     error
}

// DialUDP prepares a datagram transport towards addr. Nothing is sent until
// the first command.
func DialUDP(ctx context.Context, addr string, cfg Config) (*Client, error) {
	cfg.ApplyDefaults()

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", addr, err)
	}

	c := newClient()
	runCtx, cancel := context.WithCancel(context.Background())
	t := &udpTransport{
		conn:     conn,
		peer:     raddr.String(),
		cfg:      cfg,
		onNotice: c.notice,
		results:  make(chan protocol.Result, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	t.sender = fragment.NewSender(cfg.Fragments, fragment.DirectionUpload, t.send, nil)
	t.receiver = fragment.NewReceiver(cfg.Fragments, fragment.DirectionDownload, nil)
	c.t = t

	go t.readLoop()
	go t.receiver.Run(runCtx, cfg.Fragments.IdleTimeout/2)

	logger.Debug("UDP transport ready", logger.KeyAddress, t.peer)
	return c, nil
}

func (t *udpTransport) name() string { return session.TransportUDP }

func (t *udpTransport) fail(err error) {
	t.errOnce.Do(func() {
		t.err = err
		close(t.done)
	})
}

// send is the fragment.SendFunc of the upload engine.
func (t *udpTransport) send(_ context.Context, _ string, msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	_, err = t.conn.Write(data)
	return err
}

func (t *udpTransport) readLoop() {
	buf := make([]byte, udp.MaxDatagramSize+1)
	for {
		n, err := t.conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				t.fail(ErrClosed)
				return
			}
			// ICMP port unreachable surfaces as a read error on a connected
			// socket; the server may simply not be up yet.
			logger.Debug("UDP read failed", logger.KeyAddress, t.peer, logger.Err(err))
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}

		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			logger.Debug("Dropping malformed datagram", logger.KeyAddress, t.peer, logger.Err(err))
			continue
		}
		t.route(msg)
	}
}

func (t *udpTransport) route(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.FragmentAck:
		t.sender.HandleAck(t.peer, m)
	case *protocol.Fragment:
		done, err := t.receiver.HandleFragment(t.peer, m)
		if sendErr := t.send(context.Background(), t.peer, fragment.Ack(m, err)); sendErr != nil {
			logger.Debug("Failed to acknowledge fragment", logger.KeyTransferID, m.TransferID, logger.Err(sendErr))
		}
		if done != nil {
			t.deliver(&protocol.DownloadResult{
				FileName:  done.Meta.FileName,
				TotalSize: done.Meta.FileSize,
				Data:      done.Data,
				Partial:   done.Meta.Partial,
			})
		}
	case *protocol.Disconnect:
		t.onNotice(m)
		// Answering lets the server release the session before its grace
		// period ends.
		_ = t.send(context.Background(), t.peer, &protocol.Disconnect{Reason: ClientShutdownReason})
	case protocol.Result:
		t.deliver(m)
	default:
		logger.Debug("Dropping unexpected datagram", logger.KeyCommand, msg.Tag().String())
	}
}

func (t *udpTransport) deliver(res protocol.Result) {
	select {
	case t.results <- res:
	default:
		logger.Debug("Dropping unsolicited result", logger.KeyCommand, res.Tag().String())
	}
}

func (t *udpTransport) call(ctx context.Context, msg protocol.Message) (protocol.Result, error) {
	select {
	case <-t.done:
		return nil, t.err
	default:
	}

	select {
	case <-t.results:
	default:
	}

	if err := t.transmit(ctx, msg); err != nil {
		// An aborted upload is a failed command, as it would be had the
		// server given up on it.
		if errors.Is(err, fragment.ErrTransferAborted) && ctx.Err() == nil {
			return protocol.ErrorResult(msg.Tag(), fmt.Sprintf("Transfer aborted: %v", err)), nil
		}
		return nil, err
	}

	wait := t.cfg.ResponseTimeout
	if ex, ok := msg.(*protocol.Execute); ok && ex.TimeoutMs > 0 {
		wait += time.Duration(ex.TimeoutMs) * time.Millisecond
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	want := msg.Tag().Result()
	for {
		select {
		case res := <-t.results:
			if res.Tag() == want {
				return res, nil
			}
		case <-timer.C:
			return nil, ErrNoResponse
		case <-t.done:
			return nil, t.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// transmit sends msg in one datagram, or as a fragmented transfer for an
// Upload whose data exceeds one fragment.
func (t *udpTransport) transmit(ctx context.Context, msg protocol.Message) error {
	up, isUpload := msg.(*protocol.Upload)
	if !isUpload || len(up.Data) <= t.cfg.Fragments.FragmentSize {
		data, err := protocol.Encode(msg)
		if err != nil {
			return err
		}
		if len(data) > udp.MaxDatagramSize {
			return fmt.Errorf("command too large for a datagram (%d bytes)", len(data))
		}
		_, err = t.conn.Write(data)
		return err
	}

	meta := protocol.TransferMetadata{
		FileName:  up.FileName,
		TargetDir: up.TargetDir,
		Overwrite: up.Overwrite,
		FileSize:  int64(len(up.Data)),
	}
	logger.Debug("Sending fragmented upload",
		logger.KeyPath, up.FileName,
		logger.KeySize, len(up.Data),
		logger.KeyFragmentTotal, fragment.Count(len(up.Data), t.cfg.Fragments.FragmentSize))

	return t.sender.Send(ctx, t.peer, fragment.NewTransferID(up.FileName), meta, up.Data)
}

func (t *udpTransport) close() error {
	t.cancel()
	t.fail(ErrClosed)
	return t.conn.Close()
}
