package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cin-tie/remote-shell/internal/logger"
	"github.com/cin-tie/remote-shell/internal/telemetry"
	"github.com/cin-tie/remote-shell/pkg/config"
	"github.com/cin-tie/remote-shell/pkg/server"
)

var consoleMode bool

var startCmd = &cobra.Command{
	Use:   "start [secret]",
	Short: "Start the remote shell server",
	Long: `Start the remote shell server in the foreground.

The optional secret argument sets the shared secret clients must present on
connect. Without it, server.secret_hash or server.secret from the
configuration is used; with neither, authentication is disabled.

When stdin is a terminal an operator console runs alongside the server:
type 'status' to list connected users and 'quit' to stop.

Examples:
  # Start with defaults and no authentication
  rshd start

  # Require a shared secret
  rshd start s3cret

  # Start with a custom config file and no console
  rshd start --config /etc/remote-shell/config.yaml --console=false

  # Override configuration from the environment
  RSHELL_LOGGING_LEVEL=DEBUG RSHELL_SERVER_MAX_USERS=10 rshd start`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&consoleMode, "console", logger.IsTerminal(os.Stdin), "Run the operator console on stdin")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Server.Secret = args[0]
		cfg.Server.SecretHash = ""
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, cfg.TelemetryConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.Err(err))
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(cfg.ProfilingConfig(Version))
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.Err(err))
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint)
	}

	// Only the log level is applied on the fly; other changes need a restart.
	go func() {
		err := config.Watch(ctx, GetConfigFile(), func(c *config.Config) {
			logger.SetLevel(c.Logging.Level)
			logger.Info("Configuration reloaded", "level", c.Logging.Level)
		})
		if err != nil {
			logger.Warn("Configuration reload disabled", logger.Err(err))
		}
	}()

	srv, err := server.InitializeFromConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Remote shell server %s\n", Version)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	consoleDone := make(chan error, 1)
	if consoleMode {
		console := server.NewConsole(srv, cmd.InOrStdin(), cmd.OutOrStdout())
		go func() { consoleDone <- console.Run(ctx) }()
	} else {
		logger.Info("Server is running. Press Ctrl+C to stop.")
	}

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
	case err := <-consoleDone:
		// End of console input leaves a detached server running.
		if errors.Is(err, io.EOF) {
			logger.Info("Console input closed. Press Ctrl+C to stop.")
			select {
			case <-sigChan:
			case err := <-serverDone:
				return serverStopped(err)
			}
		}
	case err := <-serverDone:
		return serverStopped(err)
	}

	cancel()
	if err := <-serverDone; err != nil {
		logger.Error("Server shutdown error", logger.Err(err))
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func serverStopped(err error) error {
	if err != nil {
		logger.Error("Server error", logger.Err(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
