// Package udp implements the datagram transport: every command is one
// datagram answered by one result datagram, except that a Download result
// carrying more than one fragment of data is delivered through the
// fragmentation engine and large uploads arrive the same way.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/adapter"
	"github.com/cin-tie/remote-shell/pkg/bufpool"
	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/fragment"
	"github.com/cin-tie/remote-shell/pkg/metrics"
	"github.com/cin-tie/remote-shell/pkg/protocol"
)

// datagram is one received packet. buf comes from bufpool and goes back
// once decoded.
type datagram struct {
	addr *net.UDPAddr
	buf  []byte
}

// Adapter serves the remote shell protocol over UDP.
//
// One goroutine reads the socket and feeds a bounded queue drained by a
// fixed worker pool. Each remote endpoint is a dispatcher.Peer; commands
// from one endpoint are dispatched one at a time. Outbound fragmented
// transfers run on their own goroutines so a slow client never holds a
// worker.
//
// Shutdown flow:
//  1. Context cancelled or Stop() called
//  2. Receive loop notices within PollInterval and closes the queue
//  3. Workers drain the queue and exit
//  4. Outbound transfers are cancelled and awaited
//  5. Socket closed
type Adapter struct {
	config     Config
	dispatcher *dispatcher.Dispatcher
	metrics    metrics.ConnectionMetrics
	sender     *fragment.Sender
	receiver   *fragment.Receiver

	// safePayload is the largest Download data sent inline.
	safePayload int

	conn  *net.UDPConn
	ready chan struct{}
	done  chan struct{}

	started atomic.Bool
	active  atomic.Int32

	queue chan datagram

	mu        sync.Mutex
	endpoints map[string]*endpoint

	runCtx    context.Context
	cancelRun context.CancelFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once

	workers   sync.WaitGroup
	transfers sync.WaitGroup
}

// New creates a stopped datagram adapter. Nil metrics disable collection.
//
// Panics if config validation fails.
func New(config Config, d *dispatcher.Dispatcher, cm metrics.ConnectionMetrics, tm metrics.TransferMetrics) *Adapter {
	config.ApplyDefaults()
	if err := config.validate(); err != nil {
		panic(fmt.Sprintf("invalid UDP config: %v", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a := &Adapter{
		config:     config,
		dispatcher: d,
		metrics:    cm,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		queue:      make(chan datagram, config.QueueSize),
		endpoints:  make(map[string]*endpoint),
		runCtx:     runCtx,
		cancelRun:  cancel,
		shutdown:   make(chan struct{}),
	}

	fc := config.Fragments()
	a.safePayload = config.SafePayload()
	a.sender = fragment.NewSender(fc, fragment.DirectionDownload, a.sendTo, tm)
	a.receiver = fragment.NewReceiver(fc, fragment.DirectionUpload, tm)

	logger.Debug("UDP adapter configured",
		"workers", config.Workers,
		"queue_size", config.QueueSize,
		"fragment_size", fc.FragmentSize,
		"ack_timeout", fc.AckTimeout,
		"max_attempts", fc.MaxAttempts,
		"session_idle_timeout", config.SessionIdleTimeout)

	return a
}

// Serve binds the socket and handles datagrams until ctx is cancelled or
// Stop is called.
func (a *Adapter) Serve(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("UDP adapter already started")
	}
	defer close(a.done)

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(a.config.BindAddress, strconv.Itoa(a.config.Port)))
	if err != nil {
		return fmt.Errorf("resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port %d: %w", a.config.Port, err)
	}
	a.conn = conn
	close(a.ready)

	logger.Info("UDP adapter listening", logger.KeyAddress, conn.LocalAddr().String())

	go func() {
		select {
		case <-ctx.Done():
			a.initiateShutdown()
		case <-a.shutdown:
		}
	}()

	for range a.config.Workers {
		a.workers.Add(1)
		go a.worker()
	}
	go a.receiver.Run(a.runCtx, a.config.SweepInterval)
	go a.sweepSessions(a.runCtx)

	a.receiveLoop()
	a.drain()

	logger.Info("UDP adapter stopped")
	return nil
}

// receiveLoop reads datagrams until shutdown. It is the only writer of the
// queue and closes it on return.
func (a *Adapter) receiveLoop() {
	defer close(a.queue)

	for {
		select {
		case <-a.shutdown:
			return
		default:
		}

		if err := a.conn.SetReadDeadline(time.Now().Add(a.config.PollInterval)); err != nil {
			logger.Debug("Error setting UDP read deadline", logger.Err(err))
		}

		buf := bufpool.Get(MaxDatagramSize)
		n, addr, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			bufpool.Put(buf)
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				continue
			case errors.Is(err, net.ErrClosed):
				return
			default:
				logger.Warn("UDP read error", logger.Err(err))
				continue
			}
		}

		select {
		case a.queue <- datagram{addr: addr, buf: buf[:n]}:
		default:
			bufpool.Put(buf)
			logger.Warn("UDP queue full, dropping datagram",
				logger.KeyClientAddr, addr.String(),
				"queue_size", a.config.QueueSize)
			a.dropped("queue_full")
		}
	}
}

// drain waits for the workers, cancels and awaits outbound transfers, and
// closes the socket, all bounded by StopTimeout.
func (a *Adapter) drain() {
	waitTimeout(&a.workers, a.config.StopTimeout, "UDP workers")
	a.cancelRun()
	waitTimeout(&a.transfers, a.config.StopTimeout, "UDP outbound transfers")
	if err := a.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug("Error closing UDP socket", logger.Err(err))
	}
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration, what string) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		logger.Warn("Shutdown timeout exceeded", "waiting_for", what, "timeout", timeout)
	}
}

func (a *Adapter) worker() {
	defer a.workers.Done()
	for dg := range a.queue {
		a.handleDatagram(dg)
	}
}

// handleDatagram decodes one datagram and routes it: acknowledgements to the
// sender, fragments to the receiver, commands to the dispatcher.
func (a *Adapter) handleDatagram(dg datagram) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in UDP worker",
				logger.KeyClientAddr, dg.addr.String(),
				"error", r,
				"stack", string(debug.Stack()))
		}
	}()

	msg, err := protocol.Decode(dg.buf)
	bufpool.Put(dg.buf)
	if err != nil {
		logger.Warn("Dropping malformed datagram", logger.KeyClientAddr, dg.addr.String(), logger.Err(err))
		a.dropped("malformed")
		return
	}

	switch m := msg.(type) {
	case *protocol.FragmentAck:
		if !a.sender.HandleAck(dg.addr.String(), m) {
			logger.Debug("Acknowledgement for unknown transfer",
				logger.KeyClientAddr, dg.addr.String(),
				logger.KeyTransferID, m.TransferID,
				logger.KeyFragmentIndex, m.Index)
			a.dropped("unexpected")
		}
	case *protocol.Fragment:
		a.handleFragment(a.endpoint(dg.addr), m)
	default:
		if !msg.Tag().IsCommand() {
			logger.Warn("Dropping unexpected datagram",
				logger.KeyClientAddr, dg.addr.String(),
				logger.KeyCommand, msg.Tag().String())
			a.dropped("unexpected")
			return
		}
		a.handleCommand(a.endpoint(dg.addr), msg)
	}
}

// handleCommand dispatches msg for ep and replies.
func (a *Adapter) handleCommand(ep *endpoint, msg protocol.Message) {
	ep.serial.Lock()
	defer ep.serial.Unlock()

	ep.touch()
	res := a.dispatcher.Dispatch(a.runCtx, ep, msg)
	a.reply(ep, msg, res)
}

// handleFragment stores an upload fragment, acknowledges it, and dispatches
// the assembled Upload once the last fragment arrives. Fragments from
// endpoints without a session are refused.
func (a *Adapter) handleFragment(ep *endpoint, f *protocol.Fragment) {
	ep.touch()

	s := ep.Session()
	if s == nil {
		logger.Warn("Fragment from endpoint without a session",
			logger.KeyClientAddr, ep.key,
			logger.KeyTransferID, f.TransferID)
		a.writeMessage(ep.addr, fragment.Ack(f, dispatcher.ErrNotConnected))
		return
	}
	s.Touch()

	done, err := a.receiver.HandleFragment(ep.key, f)
	if err != nil {
		logger.Debug("Fragment rejected",
			logger.KeyClientAddr, ep.key,
			logger.KeyTransferID, f.TransferID,
			logger.KeyFragmentIndex, f.Index,
			logger.Err(err))
	}
	a.writeMessage(ep.addr, fragment.Ack(f, err))

	if done == nil {
		return
	}

	logger.Debug("Upload reassembled",
		logger.KeyClientAddr, ep.key,
		logger.KeyTransferID, done.TransferID,
		logger.KeySize, len(done.Data))

	a.handleCommand(ep, &protocol.Upload{
		FileName:  done.Meta.FileName,
		TargetDir: done.Meta.TargetDir,
		Data:      done.Data,
		Overwrite: done.Meta.Overwrite,
	})
}

// reply sends res to ep in one datagram. A successful Download result whose
// data exceeds SafePayload is sent as a fragmented transfer instead; any
// other result that does not fit a datagram is replaced by an error result.
func (a *Adapter) reply(ep *endpoint, msg protocol.Message, res protocol.Result) {
	if dr, ok := res.(*protocol.DownloadResult); ok && !dr.Failed() && len(dr.Data) > a.safePayload {
		a.startDownload(ep, msg.(*protocol.Download), dr)
		return
	}

	data, err := protocol.Encode(res)
	if err != nil {
		logger.Error("Failed to encode result", logger.KeyClientAddr, ep.key, logger.Err(err))
		a.writeMessage(ep.addr, protocol.ErrorResult(msg.Tag(), fmt.Sprintf("Internal server error: %v", err)))
		return
	}

	if len(data) <= MaxDatagramSize {
		a.write(ep.addr, data)
		return
	}

	logger.Info("Result too large for a datagram",
		logger.KeyClientAddr, ep.key,
		logger.KeyCommand, msg.Tag().String(),
		logger.KeySize, len(data))
	a.writeMessage(ep.addr, protocol.ErrorResult(msg.Tag(),
		fmt.Sprintf("Result too large for UDP (%d bytes). Use TCP for large results.", len(data))))
}

// startDownload sends dr as a fragmented transfer on its own goroutine. If
// the transfer aborts the client receives one error result.
func (a *Adapter) startDownload(ep *endpoint, req *protocol.Download, dr *protocol.DownloadResult) {
	meta := protocol.TransferMetadata{
		FileName: dr.FileName,
		FileSize: dr.TotalSize,
		Offset:   req.Offset,
		Partial:  dr.Partial,
	}
	id := fragment.NewTransferID(dr.FileName)

	a.transfers.Add(1)
	go func() {
		defer a.transfers.Done()

		err := a.sender.Send(a.runCtx, ep.key, id, meta, dr.Data)
		if err == nil {
			return
		}
		a.writeMessage(ep.addr, &protocol.DownloadResult{
			Status: protocol.Failure(fmt.Sprintf("Transfer aborted: %v", err)),
		})
	}()
}

// sendTo is the fragment.SendFunc of the outbound engine.
func (a *Adapter) sendTo(_ context.Context, endpoint string, msg protocol.Message) error {
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return err
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	_, err = a.conn.WriteToUDP(data, addr)
	return err
}

func (a *Adapter) writeMessage(addr *net.UDPAddr, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		logger.Error("Failed to encode datagram", logger.KeyClientAddr, addr.String(), logger.Err(err))
		return
	}
	a.write(addr, data)
}

func (a *Adapter) write(addr *net.UDPAddr, data []byte) {
	if _, err := a.conn.WriteToUDP(data, addr); err != nil {
		logger.Debug("UDP write failed", logger.KeyClientAddr, addr.String(), logger.Err(err))
	}
}

func (a *Adapter) dropped(reason string) {
	if a.metrics != nil {
		a.metrics.RecordMessageRejected(reason)
	}
}

// initiateShutdown closes the shutdown channel. Safe to call repeatedly.
func (a *Adapter) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdown)
		logger.Debug("UDP shutdown initiated")
	})
}

// Stop stops the adapter and waits for Serve to finish, bounded by ctx.
// Safe to call repeatedly and before Serve.
func (a *Adapter) Stop(ctx context.Context) error {
	a.initiateShutdown()
	if !a.started.Load() {
		return nil
	}

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		a.cancelRun()
		return ctx.Err()
	}
}

// Addr blocks until the socket is bound and returns its address.
func (a *Adapter) Addr() string {
	<-a.ready
	return a.conn.LocalAddr().String()
}

// Port returns the bound port once listening, else the configured port.
func (a *Adapter) Port() int {
	select {
	case <-a.ready:
		return a.conn.LocalAddr().(*net.UDPAddr).Port
	default:
		return a.config.Port
	}
}

// Protocol returns "UDP".
func (a *Adapter) Protocol() string {
	return "UDP"
}

// Compile-time check.
var _ adapter.Adapter = (*Adapter)(nil)
