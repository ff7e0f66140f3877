package server

import (
	"context"
	"fmt"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/pkg/adapter/rpc"
	"github.com/cin-tie/remote-shell/pkg/adapter/tcp"
	"github.com/cin-tie/remote-shell/pkg/adapter/udp"
	"github.com/cin-tie/remote-shell/pkg/api"
	"github.com/cin-tie/remote-shell/pkg/audit"
	"github.com/cin-tie/remote-shell/pkg/config"
	"github.com/cin-tie/remote-shell/pkg/dispatcher"
	"github.com/cin-tie/remote-shell/pkg/metrics"
	"github.com/cin-tie/remote-shell/pkg/metrics/prometheus"
	"github.com/cin-tie/remote-shell/pkg/session"
)

// InitializeFromConfig builds a server from cfg: metrics recorders, the audit
// journal, the registry and dispatcher, every enabled transport, the admin
// API and the metrics endpoint. Nothing listens until Serve is called.
func InitializeFromConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
	}

	var opts []dispatcher.Option
	if shell := prometheus.NewShellMetrics(); shell != nil {
		opts = append(opts, dispatcher.WithMetrics(shell))
	}

	var journal audit.Journal
	if cfg.Audit.Enabled {
		j, err := audit.Open(ctx, cfg.JournalConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open audit journal: %w", err)
		}
		logger.Info("Audit journal opened", logger.KeyBackend, cfg.Audit.Backend)
		journal = j
		opts = append(opts, dispatcher.WithJournal(j))
	}

	registry := session.NewRegistry(cfg.Server.MaxUsers)
	d := dispatcher.New(cfg.DispatcherConfig(), registry, opts...)

	srv := New(registry, d)
	srv.SetShutdownTimeout(cfg.Server.ShutdownTimeout)
	if journal != nil {
		srv.SetJournal(journal)
	}

	if err := addTransports(srv, cfg, d); err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		return nil, err
	}

	if cfg.API.IsEnabled() {
		srv.SetAPIServer(api.NewServer(cfg.API, srv))
	}
	if cfg.Metrics.Enabled {
		srv.SetMetricsServer(metrics.NewServer(cfg.MetricsServerConfig()))
	}

	return srv, nil
}

func addTransports(srv *Server, cfg *config.Config, d *dispatcher.Dispatcher) error {
	if cfg.TCP.Enabled {
		a := tcp.New(cfg.TCP, d, prometheus.NewConnectionMetrics(session.TransportTCP))
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}
	if cfg.UDP.Enabled {
		a := udp.New(cfg.UDP, d,
			prometheus.NewConnectionMetrics(session.TransportUDP),
			prometheus.NewTransferMetrics())
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}
	if cfg.RPC.Enabled {
		a := rpc.New(cfg.RPC, d, prometheus.NewConnectionMetrics(session.TransportRPC))
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}
	return nil
}
