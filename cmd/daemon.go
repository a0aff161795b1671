package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/axd/internal/api"
	"github.com/zjrosen/axd/internal/audit"
	"github.com/zjrosen/axd/internal/ax"
	"github.com/zjrosen/axd/internal/coordinator"
	"github.com/zjrosen/axd/internal/log"
	"github.com/zjrosen/axd/internal/observe"
	"github.com/zjrosen/axd/internal/store"
	"github.com/zjrosen/axd/internal/tracing"
	"github.com/zjrosen/axd/internal/traversal"
	"github.com/zjrosen/axd/internal/winreg"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the automation daemon",
	Long: `Run the long-lived daemon that exposes the HTTP API for application
control, window management, input synthesis, and observation streams.

The daemon listens on the configured address (default: 127.0.0.1:7869) or a
unix socket. Accessibility permission must be granted to this process under
System Settings > Privacy & Security > Accessibility.

Example:
  axd daemon                       # Listen on the default address
  axd daemon --listen :8080        # Listen on port 8080
  AXD_AUDIT_PATH=~/.axd/audit.db axd daemon`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(_ *cobra.Command, _ []string) error {
	if err := initLogging("axd-daemon"); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	journal, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return fmt.Errorf("opening audit journal: %w", err)
	}

	shim, err := ax.New()
	if err != nil {
		return fmt.Errorf("initializing accessibility shim: %w", err)
	}
	if !shim.Trusted() {
		log.Warn(log.CatAX, "accessibility permission not granted; every call will fail until the user enables it")
	}

	engine := traversal.NewEngine(shim)
	engine.SetMaxElements(cfg.Traversal.MaxElements)

	ccfg := coordinator.DefaultConfig()
	ccfg.OSCallTimeout = cfg.Traversal.OSCallTimeout
	ccfg.BoundsTolerance = cfg.Traversal.BoundsTolerance
	coord := coordinator.New(shim, engine, winreg.NewRegistry(shim), ccfg)

	obsEngine := observe.NewEngine(coord, observe.Config{
		MaxConcurrent:   cfg.Observe.MaxConcurrent,
		DefaultInterval: cfg.Observe.DefaultPollInterval,
		MinInterval:     cfg.Observe.MinPollInterval,
		RingSize:        cfg.Observe.EventRingSize,
		BreakerWindow:   cfg.Observe.BreakerWindow,
		JitterFrac:      0.1,
	})

	st := store.New()
	st.OnCascadeObservations = func(names []string) {
		for _, name := range names {
			_ = obsEngine.Cancel(name)
		}
	}

	handler := api.NewHandler(cfg, st, coord, obsEngine, journal)
	server := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := listen()
	if err != nil {
		return err
	}
	log.Info(log.CatAPI, "daemon listening", "addr", listener.Addr().String())
	fmt.Fprintf(os.Stderr, "axd listening on %s\n", listener.Addr())

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLSCert != "" {
			errCh <- server.ServeTLS(listener, cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			errCh <- server.Serve(listener)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info(log.CatAPI, "shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serving: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	// Orderly teardown: stop pollers, drain the coordinator (flushing any
	// pending visualizations), close the journal, flush spans.
	obsEngine.Close()
	coord.Close()
	if err := journal.Close(); err != nil {
		log.ErrorErr(log.CatAudit, "journal close failed", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.ErrorErr(log.CatConfig, "tracer shutdown failed", err)
	}
	return nil
}

func listen() (net.Listener, error) {
	if cfg.Server.UnixSocket != "" {
		// A stale socket file from a previous run blocks bind.
		_ = os.Remove(cfg.Server.UnixSocket)
		l, err := net.Listen("unix", cfg.Server.UnixSocket)
		if err != nil {
			return nil, fmt.Errorf("listening on %s: %w", cfg.Server.UnixSocket, err)
		}
		return l, nil
	}
	l, err := net.Listen("tcp", cfg.Server.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Server.Address, err)
	}
	return l, nil
}

func initLogging(prefix string) error {
	debug := os.Getenv("AXD_DEBUG") != "" || debugFlag
	if !debug {
		return nil
	}
	logPath := os.Getenv("AXD_LOG")
	if logPath == "" {
		logPath = "debug.log"
	}
	cleanup, err := log.Init(logPath)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	_ = cleanup // held for process lifetime; the OS closes on exit
	log.Info(log.CatConfig, "axd starting", "prefix", prefix, "debug", true, "logPath", logPath)
	return nil
}
