// Package cmd implements the CLI commands for ssbridge.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/ssbridge/internal/config"
	"github.com/jmylchreest/ssbridge/internal/observability"
	"github.com/jmylchreest/ssbridge/internal/version"
	"github.com/jmylchreest/ssbridge/pkg/httpclient"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string
	// cfg is the loaded configuration, available to every subcommand.
	cfg *config.Config
	// logger is the application logger built from cfg.
	logger *slog.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "ssbridge",
	Short:   "Smooth Streaming to fragmented MP4 bridge",
	Version: version.GetInfo().Version,
	Long: `ssbridge fetches media segments over HTTP, rewrites legacy Smooth Streaming
fragments into fragmented MP4 that standard demuxers accept, and appends them
to a media buffer.

It can convert single files, run fetch jobs described in YAML, and serve
converted fragments over HTTP.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfig()
	}

	// These flags are not bound to viper. They override config and env only
	// when explicitly set, preserving: CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml, /etc/ssbridge or $HOME/.ssbridge)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initConfig loads the configuration and configures the slog logger from it.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (SSBRIDGE_LOGGING_LEVEL, SSBRIDGE_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initConfig() error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		loaded.Logging.Level = strings.ToLower(level)
	}
	if flags.Changed("log-format") {
		format, _ := flags.GetString("log-format")
		loaded.Logging.Format = strings.ToLower(format)
	}
	// Handle "warning" as an alias for "warn"
	if loaded.Logging.Level == "warning" {
		loaded.Logging.Level = "warn"
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("validating flags: %w", err)
	}

	cfg = loaded
	logger = observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// newHTTPClient builds the origin client from the fetch configuration.
func newHTTPClient() *httpclient.Client {
	f := cfg.Fetch
	hc := httpclient.DefaultConfig()
	hc.Timeout = f.Timeout
	// RetryAttempts counts attempts; the client counts retries after the first.
	hc.RetryAttempts = f.RetryAttempts - 1
	hc.RetryDelay = f.RetryDelay
	hc.RetryMaxDelay = f.MaxRetryDelay
	hc.BackoffMultiplier = f.BackoffMultiplier
	hc.CircuitThreshold = f.CircuitBreakerThreshold
	hc.CircuitTimeout = f.CircuitBreakerTimeout
	hc.MaxResponseSize = f.MaxResponseSize.Bytes()
	hc.UserAgent = f.UserAgent
	if hc.UserAgent == "" {
		hc.UserAgent = version.UserAgent()
	}
	hc.Logger = observability.WithComponent(logger, "httpclient")
	return httpclient.New(hc)
}
