package ffmpeg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ErrProbeFailed is wrapped by all probe failures: non-zero ffprobe exit,
// malformed JSON, or timeout.
var ErrProbeFailed = errors.New("probe failed")

// probeResult mirrors the ffprobe JSON document.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

type probeStream struct {
	Index          int               `json:"index"`
	CodecName      string            `json:"codec_name"`
	Profile        string            `json:"profile"`
	CodecType      string            `json:"codec_type"` // video, audio, subtitle
	Width          int               `json:"width,omitempty"`
	Height         int               `json:"height,omitempty"`
	PixFmt         string            `json:"pix_fmt,omitempty"`
	ColorRange     string            `json:"color_range,omitempty"`
	ColorSpace     string            `json:"color_space,omitempty"`
	ColorTransfer  string            `json:"color_transfer,omitempty"`
	ColorPrimaries string            `json:"color_primaries,omitempty"`
	SampleRate     string            `json:"sample_rate,omitempty"`
	Channels       int               `json:"channels,omitempty"`
	ChannelLayout  string            `json:"channel_layout,omitempty"`
	RFrameRate     string            `json:"r_frame_rate,omitempty"`
	AvgFrameRate   string            `json:"avg_frame_rate,omitempty"`
	BitRate        string            `json:"bit_rate,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
}

// VideoStream describes the primary video stream of a source.
type VideoStream struct {
	Codec          string  `json:"codec"`
	Profile        string  `json:"profile,omitempty"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	FrameRate      float64 `json:"frame_rate"`
	PixFmt         string  `json:"pix_fmt,omitempty"`
	ColorRange     string  `json:"color_range,omitempty"`
	ColorSpace     string  `json:"color_space,omitempty"`
	ColorTransfer  string  `json:"color_transfer,omitempty"`
	ColorPrimaries string  `json:"color_primaries,omitempty"`
	BitRate        int     `json:"bit_rate,omitempty"`
}

// AudioTrack describes one audio stream of a source.
type AudioTrack struct {
	// Index is the position among audio streams (0-based), matching the
	// 0:a:<i> selector FFmpeg uses.
	Index         int    `json:"index"`
	Codec         string `json:"codec"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	Channels      int    `json:"channels"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	BitRate       int    `json:"bit_rate,omitempty"`
	Language      string `json:"language,omitempty"`
	Label         string `json:"label"`
}

// SubtitleTrack describes one subtitle stream of a source.
type SubtitleTrack struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Language string `json:"language,omitempty"`
	Label    string `json:"label"`
}

// SourceMetadata is the probe result consumed by the argument builder and
// surfaced to the UI. It is a pure function of the file bytes and the
// FFprobe version, so callers may cache it.
type SourceMetadata struct {
	Path            string            `json:"path"`
	Container       string            `json:"container"`
	DurationSeconds float64           `json:"duration_seconds"`
	BitRate         int               `json:"bit_rate,omitempty"`
	SizeBytes       int64             `json:"size_bytes,omitempty"`
	Video           *VideoStream      `json:"video,omitempty"`
	AudioTracks     []AudioTrack      `json:"audio_tracks"`
	SubtitleTracks  []SubtitleTrack   `json:"subtitle_tracks"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// HasVideo returns true if the source carries a video stream.
func (m *SourceMetadata) HasVideo() bool { return m.Video != nil }

// HasAudio returns true if the source carries at least one audio stream.
func (m *SourceMetadata) HasAudio() bool { return len(m.AudioTracks) > 0 }

// Duration returns the container duration.
func (m *SourceMetadata) Duration() time.Duration {
	return time.Duration(m.DurationSeconds * float64(time.Second))
}

// Prober runs ffprobe against local files.
type Prober struct {
	ffprobePath string
	timeout     time.Duration
}

// NewProber creates a prober with the default 15 second timeout.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath, timeout: 15 * time.Second}
}

// WithTimeout sets the probe timeout.
func (p *Prober) WithTimeout(timeout time.Duration) *Prober {
	p.timeout = timeout
	return p
}

// Probe runs ffprobe on the given file and returns its metadata.
func (p *Prober) Probe(ctx context.Context, path string) (*SourceMetadata, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: timeout after %v", ErrProbeFailed, p.timeout)
		}
		return nil, fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}

	return ParseProbeOutput(path, output)
}

// ParseProbeOutput converts raw ffprobe JSON into SourceMetadata.
func ParseProbeOutput(path string, raw []byte) (*SourceMetadata, error) {
	var result probeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: parsing ffprobe output: %v", ErrProbeFailed, err)
	}
	if len(result.Streams) == 0 {
		return nil, fmt.Errorf("%w: no streams in %s", ErrProbeFailed, path)
	}

	meta := &SourceMetadata{
		Path:           path,
		Container:      result.Format.FormatName,
		Tags:           result.Format.Tags,
		AudioTracks:    []AudioTrack{},
		SubtitleTracks: []SubtitleTrack{},
	}

	if result.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(result.Format.Duration, 64); err == nil {
			meta.DurationSeconds = dur
		}
	}
	if result.Format.BitRate != "" {
		if br, err := strconv.Atoi(result.Format.BitRate); err == nil {
			meta.BitRate = br
		}
	}
	if result.Format.Size != "" {
		if size, err := strconv.ParseInt(result.Format.Size, 10, 64); err == nil {
			meta.SizeBytes = size
		}
	}

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			if meta.Video != nil {
				continue // first video stream wins
			}
			video := &VideoStream{
				Codec:          stream.CodecName,
				Profile:        stream.Profile,
				Width:          stream.Width,
				Height:         stream.Height,
				PixFmt:         stream.PixFmt,
				ColorRange:     stream.ColorRange,
				ColorSpace:     stream.ColorSpace,
				ColorTransfer:  stream.ColorTransfer,
				ColorPrimaries: stream.ColorPrimaries,
			}
			if stream.AvgFrameRate != "" {
				video.FrameRate = parseFrameRate(stream.AvgFrameRate)
			}
			if video.FrameRate == 0 && stream.RFrameRate != "" {
				video.FrameRate = parseFrameRate(stream.RFrameRate)
			}
			if stream.BitRate != "" {
				if br, err := strconv.Atoi(stream.BitRate); err == nil {
					video.BitRate = br
				}
			}
			meta.Video = video

		case "audio":
			track := AudioTrack{
				Index:         len(meta.AudioTracks),
				Codec:         stream.CodecName,
				ChannelLayout: stream.ChannelLayout,
				Channels:      stream.Channels,
				Language:      stream.Tags["language"],
			}
			if stream.SampleRate != "" {
				if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
					track.SampleRate = sr
				}
			}
			if stream.BitRate != "" {
				if br, err := strconv.Atoi(stream.BitRate); err == nil {
					track.BitRate = br
				}
			}
			track.Label = trackLabel(stream.Tags, track.Language, fmt.Sprintf("Audio %d", track.Index+1))
			meta.AudioTracks = append(meta.AudioTracks, track)

		case "subtitle":
			track := SubtitleTrack{
				Index:    len(meta.SubtitleTracks),
				Codec:    stream.CodecName,
				Language: stream.Tags["language"],
			}
			track.Label = trackLabel(stream.Tags, track.Language, fmt.Sprintf("Subtitle %d", track.Index+1))
			meta.SubtitleTracks = append(meta.SubtitleTracks, track)
		}
	}

	return meta, nil
}

// trackLabel derives a display label for a stream: the title tag when
// present, otherwise the English display name of its language tag,
// otherwise a positional fallback.
func trackLabel(tags map[string]string, lang, fallback string) string {
	if title := tags["title"]; title != "" {
		return title
	}
	if name := languageName(lang); name != "" {
		return name
	}
	return fallback
}

// languageName converts an ISO 639 language code ("eng", "de") into an
// English display name ("English", "German"). Returns "" for unknown or
// undetermined codes.
func languageName(code string) string {
	if code == "" || code == "und" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	name := display.English.Languages().Name(tag)
	if name == "" || strings.EqualFold(name, code) {
		return ""
	}
	return name
}

// parseFrameRate parses a frame rate string like "30000/1001" or "25/1".
func parseFrameRate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}
