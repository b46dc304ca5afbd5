package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/convertworks/convertd/internal/engine"
	"github.com/convertworks/convertd/internal/events"
	"github.com/convertworks/convertd/internal/ffmpeg"
	"github.com/convertworks/convertd/internal/history"
	"github.com/convertworks/convertd/internal/httpapi"
	"github.com/convertworks/convertd/internal/janitor"
	"github.com/convertworks/convertd/internal/proc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the conversion orchestrator",
	Long: `Start the convertd HTTP server.

The server exposes the conversion command surface (queue, pause, resume,
cancel, probe, encoder detection, concurrency settings) and streams
lifecycle events over SSE. OpenAPI documentation is served at /docs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("binaries-dir", "", "Directory containing ffmpeg/ffprobe sidecars")
	serveCmd.Flags().Int("max-concurrency", 0, "Maximum simultaneous conversions")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("ffmpeg.binaries_dir", serveCmd.Flags().Lookup("binaries-dir"))
	mustBindPFlag("conversion.max_concurrency", serveCmd.Flags().Lookup("max-concurrency"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := loadedConfig
	logger := slog.Default()

	// Flag overrides bound through viper.
	if v := viper.GetString("server.host"); v != "" {
		cfg.Server.Host = v
	}
	if v := viper.GetInt("server.port"); v != 0 {
		cfg.Server.Port = v
	}
	if v := viper.GetString("ffmpeg.binaries_dir"); v != "" {
		cfg.FFmpeg.BinariesDir = v
	}
	if v := viper.GetInt("conversion.max_concurrency"); v != 0 {
		cfg.Conversion.MaxConcurrency = v
	}

	// The orchestrator refuses to start without both sidecars.
	bins, err := ffmpeg.Locate(cfg.FFmpeg)
	if err != nil {
		return err
	}
	if err := bins.DetectVersion(cmd.Context()); err != nil {
		logger.Warn("could not detect ffmpeg version", slog.String("error", err.Error()))
	}
	logger.Info("sidecars located",
		slog.String("ffmpeg", bins.FFmpegPath),
		slog.String("ffprobe", bins.FFprobePath),
		slog.String("version", bins.Version),
	)

	scanner := ffmpeg.NewCapabilityScanner(bins.FFmpegPath)
	if avail, err := scanner.Detect(cmd.Context()); err == nil {
		logger.Info("encoder capabilities",
			slog.Any("hardware", avail.Hardware),
			slog.Any("upscale_filters", avail.UpscaleFilters),
		)
	} else {
		logger.Warn("capability scan failed", slog.String("error", err.Error()))
	}

	bus := events.NewBus(256)
	defer bus.Close()

	var hist *history.Store
	var recorder engine.Recorder
	if cfg.History.Enabled {
		hist, err = history.Open(cfg.History.Path, cfg.History.Limit)
		if err != nil {
			return fmt.Errorf("opening history ledger: %w", err)
		}
		recorder = hist
	}

	prober := ffmpeg.NewProber(bins.FFprobePath).WithTimeout(cfg.FFmpeg.ProbeTimeout)
	sup := engine.NewSupervisor(bins, proc.NewController(), bus, logger, cfg.Conversion.CancelGrace)
	orch := engine.NewOrchestrator(bins, prober, scanner, bus, sup, engine.Options{
		MaxConcurrency: cfg.Conversion.MaxConcurrency,
		LogRingSize:    cfg.Conversion.LogRingSize,
		Recorder:       recorder,
	}, logger)

	// Sweep leftovers from a previous run, then keep sweeping on schedule.
	jan := janitor.New(orch.Registry(), cfg.Conversion.TempDir, cfg.Janitor.TaskRetention, logger)
	jan.Sweep()
	if err := jan.Start(cfg.Janitor.Schedule); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}
	defer jan.Stop()

	server := httpapi.NewServer(cfg.Server, orch, bus, hist, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
