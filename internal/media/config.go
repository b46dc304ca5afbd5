// Package media defines the conversion configuration record and builds
// FFmpeg argument vectors from it.
package media

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/creasty/defaults"
	"gopkg.in/dealancer/validate.v2"

	"github.com/convertworks/convertd/pkg/timecode"
)

// ErrConfigInvalid is wrapped by all configuration parsing and validation
// failures. It is returned synchronously from queueing and never produces
// a task.
var ErrConfigInvalid = errors.New("invalid conversion config")

// Container is the output container format.
type Container string

// Supported containers.
const (
	ContainerMP4  Container = "mp4"
	ContainerMKV  Container = "mkv"
	ContainerWebM Container = "webm"
	ContainerMOV  Container = "mov"
	ContainerMP3  Container = "mp3"
	ContainerM4A  Container = "m4a"
	ContainerWAV  Container = "wav"
	ContainerFLAC Container = "flac"
)

// AudioOnly returns true for containers that cannot carry video.
func (c Container) AudioOnly() bool {
	switch c {
	case ContainerMP3, ContainerM4A, ContainerWAV, ContainerFLAC:
		return true
	}
	return false
}

// SupportsSubtitles returns true for containers that can carry subtitle
// streams.
func (c Container) SupportsSubtitles() bool {
	switch c {
	case ContainerMP4, ContainerMKV, ContainerMOV:
		return true
	}
	return false
}

// VideoCodec is an FFmpeg video encoder name.
type VideoCodec string

// Supported video encoders.
const (
	VideoX264     VideoCodec = "libx264"
	VideoX265     VideoCodec = "libx265"
	VideoVP9      VideoCodec = "vp9"
	VideoProRes   VideoCodec = "prores"
	VideoSVTAV1   VideoCodec = "libsvtav1"
	VideoH264VT   VideoCodec = "h264_videotoolbox"
	VideoHEVCVT   VideoCodec = "hevc_videotoolbox"
	VideoH264NV   VideoCodec = "h264_nvenc"
	VideoHEVCNV   VideoCodec = "hevc_nvenc"
	VideoAV1NVENC VideoCodec = "av1_nvenc"
)

// IsNVENC returns true for NVIDIA hardware encoders.
func (v VideoCodec) IsNVENC() bool {
	return v == VideoH264NV || v == VideoHEVCNV || v == VideoAV1NVENC
}

// IsVideoToolbox returns true for Apple hardware encoders.
func (v VideoCodec) IsVideoToolbox() bool {
	return v == VideoH264VT || v == VideoHEVCVT
}

// IsHardware returns true for any hardware encoder.
func (v VideoCodec) IsHardware() bool {
	return v.IsNVENC() || v.IsVideoToolbox()
}

// AudioCodec is an FFmpeg audio encoder name.
type AudioCodec string

// Supported audio encoders. Vorbis only appears as a legal codec for webm;
// it is not offered as a user-selectable target.
const (
	AudioAAC    AudioCodec = "aac"
	AudioAC3    AudioCodec = "ac3"
	AudioOpus   AudioCodec = "libopus"
	AudioMP3    AudioCodec = "mp3"
	AudioALAC   AudioCodec = "alac"
	AudioFLAC   AudioCodec = "flac"
	AudioPCM    AudioCodec = "pcm_s16le"
	AudioVorbis AudioCodec = "vorbis"
)

// Lossless returns true for codecs where a bitrate flag is meaningless.
func (a AudioCodec) Lossless() bool {
	switch a {
	case AudioALAC, AudioFLAC, AudioPCM:
		return true
	}
	return false
}

// BitrateMode selects between quality-driven and bitrate-driven video
// encoding.
type BitrateMode string

// Bitrate modes.
const (
	ModeCRF     BitrateMode = "crf"
	ModeBitrate BitrateMode = "bitrate"
)

// Preset is an encoder speed/quality preset.
type Preset string

// Software encoder presets, fastest first.
var presets = []Preset{
	"ultrafast", "superfast", "veryfast", "faster", "fast",
	"medium", "slow", "slower", "veryslow",
}

// nvencPresets are the only presets legal for NVENC encoders.
var nvencPresets = []Preset{"fast", "medium", "slow"}

// Resolution selects the output frame size.
type Resolution string

// Resolutions.
const (
	ResolutionOriginal Resolution = "original"
	Resolution1080p    Resolution = "1080p"
	Resolution720p     Resolution = "720p"
	Resolution480p     Resolution = "480p"
	ResolutionCustom   Resolution = "custom"
)

// resolutionHeights maps the fixed resolutions to their target height.
var resolutionHeights = map[Resolution]int{
	Resolution1080p: 1080,
	Resolution720p:  720,
	Resolution480p:  480,
}

// ScalingAlgorithm is the scale filter's interpolation algorithm.
type ScalingAlgorithm string

// Scaling algorithms.
const (
	ScaleBicubic  ScalingAlgorithm = "bicubic"
	ScaleLanczos  ScalingAlgorithm = "lanczos"
	ScaleBilinear ScalingAlgorithm = "bilinear"
	ScaleNearest  ScalingAlgorithm = "nearest"
)

// MetadataMode controls how container tags are handled.
type MetadataMode string

// Metadata modes.
const (
	MetadataPreserve MetadataMode = "preserve"
	MetadataClean    MetadataMode = "clean"
	MetadataReplace  MetadataMode = "replace"
)

// CropRect is a pixel rectangle in source coordinates.
type CropRect struct {
	X      int `json:"x" validate:"gte=0"`
	Y      int `json:"y" validate:"gte=0"`
	Width  int `json:"width" validate:"gte=0"`
	Height int `json:"height" validate:"gte=0"`
}

// Metadata holds the tag-handling mode and replacement tags.
type Metadata struct {
	Mode    MetadataMode `json:"mode" default:"preserve"`
	Title   string       `json:"title,omitempty"`
	Artist  string       `json:"artist,omitempty"`
	Album   string       `json:"album,omitempty"`
	Genre   string       `json:"genre,omitempty"`
	Date    string       `json:"date,omitempty"`
	Comment string       `json:"comment,omitempty"`
}

// Config is the user's conversion intent. It is snapshotted per task and
// immutable for the task's lifetime. Unknown JSON fields are rejected so
// schema drift between the UI and the orchestrator fails loudly.
type Config struct {
	Container  Container  `json:"container" default:"mp4"`
	VideoCodec VideoCodec `json:"videoCodec" default:"libx264"`
	AudioCodec AudioCodec `json:"audioCodec" default:"aac"`

	VideoBitrateMode BitrateMode `json:"videoBitrateMode" default:"crf"`
	CRF              int         `json:"crf" default:"23" validate:"gte=0 & lte=51"`
	Quality          int         `json:"quality" default:"60" validate:"gte=1 & lte=100"`
	VideoBitrate     int         `json:"videoBitrate" default:"5000" validate:"gte=0"`
	Preset           Preset      `json:"preset" default:"medium"`

	Resolution       Resolution       `json:"resolution" default:"original"`
	CustomWidth      int              `json:"customWidth" validate:"gte=0"`
	CustomHeight     int              `json:"customHeight" validate:"gte=0"`
	ScalingAlgorithm ScalingAlgorithm `json:"scalingAlgorithm" default:"bicubic"`
	FPS              string           `json:"fps" default:"original"`

	Rotation       int       `json:"rotation"`
	FlipHorizontal bool      `json:"flipHorizontal"`
	FlipVertical   bool      `json:"flipVertical"`
	Crop           *CropRect `json:"crop,omitempty"`

	StartTime string `json:"startTime,omitempty"`
	EndTime   string `json:"endTime,omitempty"`

	AudioBitrate   int     `json:"audioBitrate" default:"192" validate:"gte=0"`
	AudioChannels  int     `json:"audioChannels" validate:"gte=0"`
	AudioVolume    float64 `json:"audioVolume" default:"1.0" validate:"gte=0 & lte=2"`
	AudioNormalize bool    `json:"audioNormalize"`

	SelectedAudioTracks    []int  `json:"selectedAudioTracks,omitempty"`
	SelectedSubtitleTracks []int  `json:"selectedSubtitleTracks,omitempty"`
	SubtitleBurnPath       string `json:"subtitleBurnPath,omitempty"`

	Metadata Metadata `json:"metadata"`

	NvencSpatialAQ      bool `json:"nvencSpatialAq"`
	NvencTemporalAQ     bool `json:"nvencTemporalAq"`
	VideotoolboxAllowSW bool `json:"videotoolboxAllowSw"`
}

// Parse decodes a raw JSON config with defaults applied and all fields
// validated. Unknown fields are an error, not silently ignored.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("%w: applying defaults: %v", ErrConfigInvalid, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// configFields is Config without its Validate method, so that passing it to
// the validate.v2 library triggers tag-based field validation instead of
// recursing back into Config.Validate via the library's CustomValidator hook.
type configFields Config

// Validate checks field ranges and enum memberships.
func (c *Config) Validate() error {
	if err := validate.Validate((*configFields)(c)); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if !slices.Contains([]Container{
		ContainerMP4, ContainerMKV, ContainerWebM, ContainerMOV,
		ContainerMP3, ContainerM4A, ContainerWAV, ContainerFLAC,
	}, c.Container) {
		return fmt.Errorf("%w: unknown container %q", ErrConfigInvalid, c.Container)
	}
	if !slices.Contains([]VideoCodec{
		VideoX264, VideoX265, VideoVP9, VideoProRes, VideoSVTAV1,
		VideoH264VT, VideoHEVCVT, VideoH264NV, VideoHEVCNV, VideoAV1NVENC,
	}, c.VideoCodec) {
		return fmt.Errorf("%w: unknown video codec %q", ErrConfigInvalid, c.VideoCodec)
	}
	if !slices.Contains([]AudioCodec{
		AudioAAC, AudioAC3, AudioOpus, AudioMP3, AudioALAC, AudioFLAC, AudioPCM,
	}, c.AudioCodec) {
		return fmt.Errorf("%w: unknown audio codec %q", ErrConfigInvalid, c.AudioCodec)
	}
	if c.VideoBitrateMode != ModeCRF && c.VideoBitrateMode != ModeBitrate {
		return fmt.Errorf("%w: unknown bitrate mode %q", ErrConfigInvalid, c.VideoBitrateMode)
	}
	if !slices.Contains(presets, c.Preset) {
		return fmt.Errorf("%w: unknown preset %q", ErrConfigInvalid, c.Preset)
	}
	if !slices.Contains([]Resolution{
		ResolutionOriginal, Resolution1080p, Resolution720p, Resolution480p, ResolutionCustom,
	}, c.Resolution) {
		return fmt.Errorf("%w: unknown resolution %q", ErrConfigInvalid, c.Resolution)
	}
	if !slices.Contains([]ScalingAlgorithm{
		ScaleBicubic, ScaleLanczos, ScaleBilinear, ScaleNearest,
	}, c.ScalingAlgorithm) {
		return fmt.Errorf("%w: unknown scaling algorithm %q", ErrConfigInvalid, c.ScalingAlgorithm)
	}
	if !slices.Contains([]string{"original", "24", "30", "60"}, c.FPS) {
		return fmt.Errorf("%w: unsupported fps %q", ErrConfigInvalid, c.FPS)
	}
	if !slices.Contains([]int{0, 90, 180, 270}, c.Rotation) {
		return fmt.Errorf("%w: unsupported rotation %d", ErrConfigInvalid, c.Rotation)
	}
	if !slices.Contains([]MetadataMode{MetadataPreserve, MetadataClean, MetadataReplace}, c.Metadata.Mode) {
		return fmt.Errorf("%w: unknown metadata mode %q", ErrConfigInvalid, c.Metadata.Mode)
	}

	if c.StartTime != "" {
		if _, err := timecode.Parse(c.StartTime); err != nil {
			return fmt.Errorf("%w: startTime: %v", ErrConfigInvalid, err)
		}
	}
	if c.EndTime != "" {
		if _, err := timecode.Parse(c.EndTime); err != nil {
			return fmt.Errorf("%w: endTime: %v", ErrConfigInvalid, err)
		}
	}
	for _, idx := range c.SelectedAudioTracks {
		if idx < 0 {
			return fmt.Errorf("%w: negative audio track index %d", ErrConfigInvalid, idx)
		}
	}
	for _, idx := range c.SelectedSubtitleTracks {
		if idx < 0 {
			return fmt.Errorf("%w: negative subtitle track index %d", ErrConfigInvalid, idx)
		}
	}

	return nil
}
