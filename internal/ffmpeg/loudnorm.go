package ffmpeg

import (
	"encoding/json"
	"errors"
	"strings"
)

// LoudnormStats holds the measured loudness values printed by the loudnorm
// filter's first pass (print_format=json). FFmpeg emits the numbers as
// strings; they are passed verbatim into the second-pass filter.
type LoudnormStats struct {
	InputI            string `json:"input_i"`
	InputTP           string `json:"input_tp"`
	InputLRA          string `json:"input_lra"`
	InputThresh       string `json:"input_thresh"`
	OutputI           string `json:"output_i"`
	OutputTP          string `json:"output_tp"`
	OutputLRA         string `json:"output_lra"`
	OutputThresh      string `json:"output_thresh"`
	NormalizationType string `json:"normalization_type"`
	TargetOffset      string `json:"target_offset"`
}

// ErrLoudnormNotFound is returned when no measurement block was present.
var ErrLoudnormNotFound = errors.New("loudnorm measurement block not found")

// LoudnormCollector accumulates stderr lines and extracts the JSON
// measurement block the loudnorm filter prints between its
// "[Parsed_loudnorm..." marker and the closing brace.
type LoudnormCollector struct {
	inBlock bool
	depth   int
	buf     strings.Builder
	stats   *LoudnormStats
}

// Feed consumes one stderr line.
func (c *LoudnormCollector) Feed(line string) {
	if c.stats != nil {
		return
	}

	if !c.inBlock {
		if strings.Contains(line, "[Parsed_loudnorm") {
			c.inBlock = true
			c.buf.Reset()
			c.depth = 0
		}
		// The opening brace may share the marker line or follow it.
		if !c.inBlock {
			return
		}
	}

	for _, r := range line {
		switch r {
		case '{':
			c.depth++
		case '}':
			c.depth--
		}
	}
	if idx := strings.IndexByte(line, '{'); idx >= 0 || c.buf.Len() > 0 {
		if c.buf.Len() > 0 {
			c.buf.WriteByte('\n')
			c.buf.WriteString(line)
		} else {
			c.buf.WriteString(line[idx:])
		}
	}

	if c.buf.Len() > 0 && c.depth == 0 {
		var stats LoudnormStats
		if err := json.Unmarshal([]byte(c.buf.String()), &stats); err == nil {
			c.stats = &stats
		}
		c.inBlock = false
		c.buf.Reset()
	}
}

// Stats returns the parsed measurement, or an error if none was seen.
func (c *LoudnormCollector) Stats() (*LoudnormStats, error) {
	if c.stats == nil {
		return nil, ErrLoudnormNotFound
	}
	return c.stats, nil
}
