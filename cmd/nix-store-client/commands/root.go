// Package commands implements the nix-store-client CLI.
package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Enzime/hnix-store/internal/config"
	"github.com/Enzime/hnix-store/pkg/daemon"
	"github.com/Enzime/hnix-store/pkg/logging"
	"github.com/Enzime/hnix-store/pkg/metrics"
)

// processMetrics is shared by every command in a process; each client dials
// its own connection, but all of them report through the one registry.
//
//nolint:gochecknoglobals
var processMetrics = metrics.New(prometheus.DefaultRegisterer)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

var (
	cfgFile    string
	socketFlag string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "nix-store-client",
	Short:         "Talk to a Nix daemon over the remote store protocol",
	Long:          `nix-store-client is a thin command-line client over the nix-store-client Go library, driving a Nix daemon's Unix-socket protocol directly.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (default: XDG config dir)")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "daemon socket path (overrides config and NIX_REMOTE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(isValidPathCmd)
	rootCmd.AddCommand(queryPathInfoCmd)
	rootCmd.AddCommand(verifyStoreCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the client version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "nix-store-client %s (%s)\n", Version, Commit)
		return nil
	},
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
}

// connect loads configuration and dials the daemon, wiring its stderr/log
// sub-protocol into a logging.Bridge that runs until the connection closes.
// The dial itself is bounded by cfg.DialTimeout; once connected, operations
// are unbounded here and left to opContext per-command.
func connect(cmd *cobra.Command) (*daemon.Client, *config.Config, error) {
	cfg, err := config.Load(cfgFile, config.WithSocketPath(socketFlag))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := newLogger()
	logCh := make(chan daemon.LogMessage, 64)

	conn, err := net.DialTimeout("unix", cfg.SocketPath, cfg.DialTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s: %w", cfg.SocketPath, err)
	}

	client, err := daemon.NewClientFromConn(conn, daemon.WithLogChannel(logCh), daemon.WithMetrics(processMetrics))
	if err != nil {
		conn.Close()

		return nil, nil, fmt.Errorf("handshake with %s: %w", cfg.SocketPath, err)
	}

	bridge := logging.NewBridge(logger)
	go bridge.Run(logCh)

	return client, cfg, nil
}

// opContext derives the context a single daemon operation runs under,
// applying cfg.OpTimeout when the operator configured one. A zero OpTimeout
// means operations run for as long as the command's own context allows.
func opContext(cmd *cobra.Command, cfg *config.Config) (context.Context, context.CancelFunc) {
	if cfg.OpTimeout <= 0 {
		return cmd.Context(), func() {}
	}

	return context.WithTimeout(cmd.Context(), cfg.OpTimeout)
}

// validateStorePath rejects a path that doesn't live under the configured
// store directory before it is sent to the daemon.
func validateStorePath(cfg *config.Config, path string) error {
	dir := strings.TrimSuffix(cfg.StoreDir, "/")
	if path != dir && !strings.HasPrefix(path, dir+"/") {
		return fmt.Errorf("%s is not under store directory %s", path, cfg.StoreDir)
	}

	return nil
}
