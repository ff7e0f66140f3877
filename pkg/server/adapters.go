package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/adapter"
)

// adapterEntry holds one running transport.
type adapterEntry struct {
	adapter adapter.Adapter
	cancel  context.CancelFunc
	errCh   chan error
}

// adapterSet manages transport lifecycle: startup, failure reporting and
// shutdown with connection draining.
type adapterSet struct {
	mu              sync.RWMutex
	entries         map[string]*adapterEntry // key: Protocol()
	pending         []adapter.Adapter
	shutdownTimeout time.Duration

	// failed receives the first error of an adapter that stops on its own.
	failed chan error
}

func newAdapterSet(shutdownTimeout time.Duration) *adapterSet {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &adapterSet{
		entries:         make(map[string]*adapterEntry),
		shutdownTimeout: shutdownTimeout,
		failed:          make(chan error, 1),
	}
}

// add queues a transport for startAll. Protocol names must be unique.
func (s *adapterSet) add(a adapter.Adapter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.pending {
		if p.Protocol() == a.Protocol() {
			return fmt.Errorf("adapter %s already registered", a.Protocol())
		}
	}
	s.pending = append(s.pending, a)
	return nil
}

// startAll runs every queued transport on its own goroutine.
func (s *adapterSet) startAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.pending {
		s.runLocked(a)
	}
	s.pending = nil
}

// runLocked starts a in a goroutine and records it. Caller must hold mu.
func (s *adapterSet) runLocked(a adapter.Adapter) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	protocol := a.Protocol()

	go func() {
		logger.Info("Starting adapter", "protocol", protocol)
		err := a.Serve(ctx)
		if ctx.Err() == nil {
			if err == nil {
				err = fmt.Errorf("adapter %s stopped unexpectedly", protocol)
			}
			logger.Error("Adapter failed", "protocol", protocol, logger.Err(err))
			select {
			case s.failed <- err:
			default:
			}
		}
		errCh <- err
	}()

	s.entries[protocol] = &adapterEntry{
		adapter: a,
		cancel:  cancel,
		errCh:   errCh,
	}
}

// stop stops one transport with connection draining.
func (s *adapterSet) stop(protocol string) error {
	s.mu.Lock()
	entry, exists := s.entries[protocol]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("adapter %s not running", protocol)
	}
	delete(s.entries, protocol)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	logger.Info("Stopping adapter", "protocol", protocol)

	// Cancel first so the exit is not reported as a failure.
	entry.cancel()
	if err := entry.adapter.Stop(ctx); err != nil {
		logger.Warn("Adapter stop error", "protocol", protocol, logger.Err(err))
	}

	select {
	case <-entry.errCh:
		logger.Info("Adapter stopped", "protocol", protocol)
		return nil
	case <-ctx.Done():
		logger.Warn("Adapter stop timed out", "protocol", protocol)
		return fmt.Errorf("adapter %s stop timed out", protocol)
	}
}

// stopAll stops every running transport concurrently.
func (s *adapterSet) stopAll() error {
	names := s.running()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := s.stop(name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// running returns the protocols of the running transports, sorted.
func (s *adapterSet) running() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ports maps running protocols to their ports. A transport that has not
// bound yet reports its configured port.
func (s *adapterSet) ports() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]int, len(s.entries))
	for name, e := range s.entries {
		out[name] = e.adapter.Port()
	}
	return out
}
