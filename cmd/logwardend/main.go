// Logwardend is the logwarden daemon: an adaptive observability core
// exposing sanitization, rate-limited logging, and health endpoints over
// HTTP, with optional log shipping to NATS or a Loki-style push API.
//
// Configuration comes from a YAML file plus LOGWARDEN_* environment
// variables. See internal/config for precedence details.
//
// Usage:
//
//	# Start with defaults
//	logwardend serve
//
//	# Start with a config file (hot-reloaded on change)
//	logwardend serve --config /etc/logwarden/config.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logwardend",
	Short: "logwarden observability daemon",
	Long: `logwardend runs the logwarden daemon: structured logging with
adaptive rate limiting, payload sanitization, and batched log shipping.`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the logwarden daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			fmt.Fprintf(os.Stderr, "received signal %v, shutting down\n", sig)
			cancel()
		}()

		return run(ctx, configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("logwarden by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
