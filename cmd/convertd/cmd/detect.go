package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convertworks/convertd/internal/ffmpeg"
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect FFmpeg sidecars and encoder capabilities",
	Long: `Locate the ffmpeg/ffprobe sidecars and print their version and the
hardware encoders linked into the build. This is the same detection the
serve command performs at startup.`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, _ []string) error {
	bins, err := ffmpeg.Locate(loadedConfig.FFmpeg)
	if err != nil {
		return err
	}
	if err := bins.DetectVersion(cmd.Context()); err != nil {
		return err
	}

	avail, err := ffmpeg.NewCapabilityScanner(bins.FFmpegPath).Detect(cmd.Context())
	if err != nil {
		return err
	}

	out := struct {
		Binaries *ffmpeg.Binaries         `json:"binaries"`
		Encoders ffmpeg.AvailableEncoders `json:"encoders"`
	}{bins, avail}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
