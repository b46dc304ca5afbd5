package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"sync"
)

// hardwareEncoders are the hardware encoder identifiers we look for in
// `ffmpeg -encoders` output.
var hardwareEncoders = []string{
	"h264_videotoolbox",
	"hevc_videotoolbox",
	"h264_nvenc",
	"hevc_nvenc",
	"av1_nvenc",
}

// upscaleFilters are the ML upscaling filter names probed from
// `ffmpeg -filters` output.
var upscaleFilters = []string{"libvmaf", "sr", "dnn_processing"}

// AvailableEncoders describes what the linked FFmpeg build can encode with.
type AvailableEncoders struct {
	// Hardware lists the hardware encoder names that are linked in.
	Hardware []string `json:"hardware"`
	// UpscaleFilters lists any ML upscale filter names that are linked in.
	UpscaleFilters []string `json:"upscale_filters"`
}

// Has returns true if the named encoder is available.
func (a AvailableEncoders) Has(name string) bool {
	return slices.Contains(a.Hardware, name)
}

// CapabilityScanner queries the FFmpeg binary once for its linked-in
// hardware encoders. The result is cached for the process lifetime.
type CapabilityScanner struct {
	ffmpegPath string

	once   sync.Once
	result AvailableEncoders
	err    error
}

// NewCapabilityScanner creates a scanner for the given ffmpeg binary.
func NewCapabilityScanner(ffmpegPath string) *CapabilityScanner {
	return &CapabilityScanner{ffmpegPath: ffmpegPath}
}

// Detect returns the available encoders, running the scan on first call.
func (s *CapabilityScanner) Detect(ctx context.Context) (AvailableEncoders, error) {
	s.once.Do(func() {
		s.result, s.err = s.scan(ctx)
	})
	return s.result, s.err
}

func (s *CapabilityScanner) scan(ctx context.Context) (AvailableEncoders, error) {
	var result AvailableEncoders

	encoders, err := s.listSection(ctx, "-encoders")
	if err != nil {
		return result, fmt.Errorf("scanning encoders: %w", err)
	}
	for _, name := range hardwareEncoders {
		if slices.Contains(encoders, name) {
			result.Hardware = append(result.Hardware, name)
		}
	}

	// Filter detection is best-effort; an FFmpeg build that cannot list
	// filters still transcodes fine.
	if filters, err := s.listFilters(ctx); err == nil {
		for _, name := range upscaleFilters {
			if slices.Contains(filters, name) {
				result.UpscaleFilters = append(result.UpscaleFilters, name)
			}
		}
	}

	return result, nil
}

// listSection runs ffmpeg with the given listing flag and returns the
// identifier column of each entry.
func (s *CapabilityScanner) listSection(ctx context.Context, flag string) ([]string, error) {
	cmd := exec.CommandContext(ctx, s.ffmpegPath, "-hide_banner", flag)
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseListing(string(output)), nil
}

// listFilters parses `ffmpeg -filters` output, which has no separator
// line; filter entries are recognized by their "A->B" io column.
func (s *CapabilityScanner) listFilters(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, s.ffmpegPath, "-hide_banner", "-filters")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(string(output), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || !strings.Contains(fields[2], "->") {
			continue
		}
		names = append(names, fields[1])
	}
	return names, nil
}

// parseListing extracts entry names from FFmpeg's tabular listings.
// Listings have a flags column, a name column, and a description, with a
// dashed separator line before the entries begin.
func parseListing(output string) []string {
	var names []string
	inList := false

	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "---") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		names = append(names, fields[1])
	}

	return names
}
