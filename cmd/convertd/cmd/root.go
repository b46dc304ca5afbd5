// Package cmd implements the CLI commands for convertd.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/convertworks/convertd/internal/config"
	"github.com/convertworks/convertd/internal/observability"
	"github.com/convertworks/convertd/internal/version"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
)

// loadedConfig is populated by initialization and shared by subcommands.
var loadedConfig *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "convertd",
	Short:   "Media conversion orchestrator",
	Version: version.Short(),
	Long: `convertd is the backend conversion orchestrator for a media-conversion
workbench. It supervises FFmpeg child processes, admits conversions into a
bounded concurrency pool, parses streaming progress, and publishes lifecycle
events over an HTTP/SSE API.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initRuntime()
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/convertd, $HOME/.convertd)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	mustBindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initRuntime loads configuration and installs the default logger.
func initRuntime() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Flag overrides win over file and environment.
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	loadedConfig = cfg
	slog.SetDefault(observability.NewLogger(cfg.Logging))
	return nil
}

// mustBindPFlag binds a viper key to a cobra flag and panics if binding
// fails.
func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %q to key %q: %v", flag.Name, key, err))
	}
}
