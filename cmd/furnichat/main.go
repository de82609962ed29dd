package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/jagjeet027/FurniMart-sub002/internal/chat"
	"github.com/jagjeet027/FurniMart-sub002/internal/chatstore"
	"github.com/jagjeet027/FurniMart-sub002/internal/config"
	"github.com/jagjeet027/FurniMart-sub002/internal/logging"
	"github.com/jagjeet027/FurniMart-sub002/internal/logring"
	"github.com/jagjeet027/FurniMart-sub002/internal/metrics"
	"github.com/jagjeet027/FurniMart-sub002/internal/status"
	"github.com/jagjeet027/FurniMart-sub002/internal/transport"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "furnichat",
		Short: "Real-time chat synchronization daemon for FurniMart conversations",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the chat synchronization daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("FurniChat %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Gateway: %s\n", cfg.Gateway.URL)
			fmt.Printf("  Chat store: %s\n", cfg.ChatStore.BaseURL)
			fmt.Printf("  Participant: %s (%s)\n", cfg.Session.ParticipantID, cfg.Session.Role)
			fmt.Printf("  Status: %s\n", cfg.Status.ListenAddress)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8091/health", "Health endpoint URL")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	ring := logring.NewRingBuffer(cfg.Logging.RingSize)
	lj := logging.Setup(cfg.Logging, ring)
	if lj != nil {
		defer lj.Close()
	}

	slog.Info("starting FurniChat",
		"version", Version,
		"gateway", cfg.Gateway.URL,
		"chat_store", cfg.ChatStore.BaseURL,
		"participant", cfg.Session.ParticipantID,
	)

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	session := chat.Session{
		ParticipantID: cfg.Session.ParticipantID,
		DisplayName:   cfg.Session.DisplayName,
		Role:          chat.Role(cfg.Session.Role),
	}
	store := chatstore.New(cfg.ChatStore)
	dialer := transport.NewDialer(cfg.Gateway)
	client := chat.NewClient(session, dialer, store, cfg.Sync, m)

	var statusServer *status.Server
	if cfg.Status.Enabled {
		statusServer = status.NewServer(cfg.Status, client, ring, Version,
			cfg.Monitoring.MetricsEndpoint, cfg.Monitoring.MetricsEnabled)
		statusServer.Start()
	}

	if err := client.Connect(context.Background()); err != nil {
		return fmt.Errorf("connecting to gateway: %w", err)
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sent, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				if err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				} else if sent {
					slog.Debug("watchdog keepalive sent")
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}

			warnings := config.IsReloadSafe(cfg, newCfg)
			for _, w := range warnings {
				slog.Warn("config reload warning", "warning", w)
			}

			cfg = cfg.ApplyReloadableFields(newCfg)
			logging.Setup(cfg.Logging, ring)
			client.UpdateConfig(cfg.Sync)
			dialer.SetAuthToken(cfg.Gateway.AuthToken)

			slog.Info("config reloaded successfully")

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal", "signal", sig.String())

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			if statusServer != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				statusServer.Shutdown(ctx)
				cancel()
			}
			client.Close()

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=FurniChat - FurniMart chat synchronization daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=furnichat
Group=furnichat
ExecStartPre=/usr/local/bin/furnichat validate --config /etc/furnichat/config.yaml
ExecStart=/usr/local/bin/furnichat start --config /etc/furnichat/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
WatchdogSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
ReadOnlyPaths=/etc/furnichat
LogsDirectory=furnichat
StateDirectory=furnichat
LimitNOFILE=65535

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=furnichat

[Install]
WantedBy=multi-user.target
`)
}
