package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/convertworks/convertd/internal/ffmpeg"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Probe a media file and print its metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	bins, err := ffmpeg.Locate(loadedConfig.FFmpeg)
	if err != nil {
		return err
	}

	prober := ffmpeg.NewProber(bins.FFprobePath).WithTimeout(loadedConfig.FFmpeg.ProbeTimeout)
	meta, err := prober.Probe(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
