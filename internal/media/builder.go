package media

import (
	"fmt"
	"math"
	"strconv"

	"github.com/convertworks/convertd/internal/ffmpeg"
)

// loudnormTarget is the EBU R128 target used for audio normalization:
// integrated loudness, true peak, and loudness range.
const loudnormTarget = "I=-16:TP=-1.5:LRA=11"

// Hints are pre-flight facts derived while building the argument vector.
type Hints struct {
	// TwoPass is set when audio normalization requires a measurement pass.
	TwoPass bool `json:"two_pass"`
	// AudioOnly is set when the output carries no video stream.
	AudioOnly bool `json:"audio_only"`
}

// Plan is the deterministic result of building a conversion: the argument
// vector plus pre-flight hints. The argv is never mutated once the task
// enters the scheduler; for two-pass normalization the measurement and
// encode vectors are derived from the same immutable inputs.
type Plan struct {
	Args       []string `json:"args"`
	Hints      Hints    `json:"hints"`
	OutputPath string   `json:"output_path"`

	cfg  Config
	meta *ffmpeg.SourceMetadata
}

// Build normalizes the configuration and produces the argument vector for
// converting the probed source to outputPath. It fails only when the
// source has no streams the configured output can carry.
func Build(meta *ffmpeg.SourceMetadata, cfg Config, outputPath string) (*Plan, error) {
	cfg = cfg.Normalize()

	audioOnly := cfg.Container.AudioOnly() || !meta.HasVideo()

	carriesVideo := !audioOnly && meta.HasVideo()
	carriesAudio := meta.HasAudio()
	if !carriesVideo && !carriesAudio {
		return nil, fmt.Errorf("%w: source %s has no streams a %s output can carry",
			ErrConfigInvalid, meta.Path, cfg.Container)
	}
	if cfg.Container.AudioOnly() && !meta.HasAudio() {
		return nil, fmt.Errorf("%w: source %s has no audio stream for %s output",
			ErrConfigInvalid, meta.Path, cfg.Container)
	}

	plan := &Plan{
		Hints: Hints{
			TwoPass:   cfg.AudioNormalize && carriesAudio,
			AudioOnly: audioOnly,
		},
		OutputPath: outputPath,
		cfg:        cfg,
		meta:       meta,
	}
	plan.Args = plan.encodeArgs(nil)

	return plan, nil
}

// Config returns the normalized configuration the plan was built from.
func (p *Plan) Config() Config {
	return p.cfg
}

// MeasureArgs returns the loudness-measurement argv for pass one of a
// two-pass normalization. The run decodes audio only and discards output.
func (p *Plan) MeasureArgs() []string {
	args := globalArgs()
	args = appendTrim(args, p.cfg)
	args = append(args, "-i", p.meta.Path)
	args = appendAudioMaps(args, p.cfg, p.meta)
	args = append(args,
		"-af", "loudnorm="+loudnormTarget+":print_format=json",
		"-vn", "-sn",
		"-f", "null", "-",
	)
	return args
}

// EncodeArgs returns the encode argv. With measured stats it applies the
// two-pass loudnorm filter carrying the pass-one measurements; with nil
// stats it falls back to single-pass normalization.
func (p *Plan) EncodeArgs(stats *ffmpeg.LoudnormStats) []string {
	return p.encodeArgs(stats)
}

func (p *Plan) encodeArgs(stats *ffmpeg.LoudnormStats) []string {
	cfg, meta := p.cfg, p.meta

	args := globalArgs()
	args = appendTrim(args, cfg)
	args = append(args, "-i", meta.Path)
	if cfg.SubtitleBurnPath != "" && !p.Hints.AudioOnly {
		args = append(args, "-i", cfg.SubtitleBurnPath)
	}

	if p.Hints.AudioOnly {
		args = append(args, "-vn")
	} else {
		args = append(args, "-map", "0:v:0")
		args = appendVideoCodecArgs(args, cfg)
		if vf := buildVideoFilter(cfg, meta); vf != "" {
			args = append(args, "-vf", vf)
		}
	}

	if meta.HasAudio() {
		args = appendAudioMaps(args, cfg, meta)
		args = append(args, "-c:a", string(cfg.AudioCodec))
		if !cfg.AudioCodec.Lossless() && cfg.AudioBitrate > 0 {
			args = append(args, "-b:a", strconv.Itoa(cfg.AudioBitrate)+"k")
		}
		if cfg.AudioChannels > 0 {
			args = append(args, "-ac", strconv.Itoa(cfg.AudioChannels))
		}
		if af := buildAudioFilter(cfg, loudnormFilter(cfg, stats)); af != "" {
			args = append(args, "-af", af)
		}
	}

	args = appendSubtitleMaps(args, cfg, meta, p.Hints.AudioOnly)
	args = appendMetadataArgs(args, cfg)
	args = append(args, p.OutputPath)

	return args
}

// globalArgs are common to every invocation: overwrite, quiet banner, and
// machine-readable progress records on stderr.
func globalArgs() []string {
	return []string{"-y", "-hide_banner", "-progress", "pipe:2", "-nostats"}
}

// appendTrim places -ss/-to before -i for keyframe-accurate fast seeking.
func appendTrim(args []string, cfg Config) []string {
	if cfg.StartTime != "" {
		args = append(args, "-ss", cfg.StartTime)
	}
	if cfg.EndTime != "" {
		args = append(args, "-to", cfg.EndTime)
	}
	return args
}

// appendVideoCodecArgs emits -c:v plus the encoder-family flags.
func appendVideoCodecArgs(args []string, cfg Config) []string {
	args = append(args, "-c:v", string(cfg.VideoCodec))

	switch {
	case cfg.VideoCodec.IsNVENC():
		args = append(args, "-preset", string(cfg.Preset))
		if cfg.VideoBitrateMode == ModeCRF {
			args = append(args, "-cq:v", strconv.Itoa(nvencQuality(cfg.Quality)))
		} else {
			args = append(args, "-b:v", strconv.Itoa(cfg.VideoBitrate)+"k")
		}
		if cfg.NvencSpatialAQ {
			args = append(args, "-spatial_aq", "1")
		}
		if cfg.NvencTemporalAQ {
			args = append(args, "-temporal_aq", "1")
		}

	case cfg.VideoCodec.IsVideoToolbox():
		// VideoToolbox ignores presets; quality is its native 1-100 scale.
		if cfg.VideoBitrateMode == ModeCRF {
			args = append(args, "-q:v", strconv.Itoa(cfg.Quality))
		} else {
			args = append(args, "-b:v", strconv.Itoa(cfg.VideoBitrate)+"k")
		}
		allowSW := "0"
		if cfg.VideotoolboxAllowSW {
			allowSW = "1"
		}
		args = append(args, "-allow_sw", allowSW)

	case cfg.VideoCodec == VideoProRes:
		args = append(args, "-profile:v", proresProfile(cfg.Quality))

	case cfg.VideoCodec == VideoVP9:
		if cfg.VideoBitrateMode == ModeCRF {
			// Constrained-quality mode needs an explicit zero bitrate.
			args = append(args, "-crf", strconv.Itoa(cfg.CRF), "-b:v", "0")
		} else {
			args = append(args, "-b:v", strconv.Itoa(cfg.VideoBitrate)+"k")
		}

	default:
		// libx264, libx265, libsvtav1.
		args = append(args, "-preset", string(cfg.Preset))
		if cfg.VideoBitrateMode == ModeCRF {
			args = append(args, "-crf", strconv.Itoa(cfg.CRF))
		} else {
			args = append(args, "-b:v", strconv.Itoa(cfg.VideoBitrate)+"k")
		}
	}

	return args
}

// nvencQuality maps the 1-100 quality slider onto NVENC's inverted 0-51
// -cq:v scale.
func nvencQuality(quality int) int {
	cq := int(math.Round(float64(100-quality) * 51.0 / 100.0))
	if cq < 0 {
		cq = 0
	}
	if cq > 51 {
		cq = 51
	}
	return cq
}

// proresProfile buckets the quality slider into ProRes profiles:
// proxy, LT, standard, HQ.
func proresProfile(quality int) string {
	switch {
	case quality <= 25:
		return "0"
	case quality <= 50:
		return "1"
	case quality <= 75:
		return "2"
	default:
		return "3"
	}
}

// appendAudioMaps emits the -map selectors for the configured audio
// tracks. An empty selection means all tracks.
func appendAudioMaps(args []string, cfg Config, meta *ffmpeg.SourceMetadata) []string {
	if !meta.HasAudio() {
		return args
	}
	if len(cfg.SelectedAudioTracks) == 0 {
		return append(args, "-map", "0:a")
	}
	for _, idx := range cfg.SelectedAudioTracks {
		args = append(args, "-map", fmt.Sprintf("0:a:%d", idx))
	}
	return args
}

// appendSubtitleMaps emits soft subtitle stream copies when the container
// supports them.
func appendSubtitleMaps(args []string, cfg Config, meta *ffmpeg.SourceMetadata, audioOnly bool) []string {
	if audioOnly || !cfg.Container.SupportsSubtitles() || len(meta.SubtitleTracks) == 0 {
		return args
	}
	if len(cfg.SelectedSubtitleTracks) == 0 {
		args = append(args, "-map", "0:s")
	} else {
		for _, idx := range cfg.SelectedSubtitleTracks {
			args = append(args, "-map", fmt.Sprintf("0:s:%d", idx))
		}
	}
	return append(args, "-c:s", "copy")
}

// appendMetadataArgs applies the metadata mode: preserve copies container
// tags, clean strips them, replace strips then writes the supplied tags.
func appendMetadataArgs(args []string, cfg Config) []string {
	switch cfg.Metadata.Mode {
	case MetadataClean:
		return append(args, "-map_metadata", "-1")
	case MetadataReplace:
		args = append(args, "-map_metadata", "-1")
		for _, tag := range []struct{ key, value string }{
			{"title", cfg.Metadata.Title},
			{"artist", cfg.Metadata.Artist},
			{"album", cfg.Metadata.Album},
			{"genre", cfg.Metadata.Genre},
			{"date", cfg.Metadata.Date},
			{"comment", cfg.Metadata.Comment},
		} {
			if tag.value != "" {
				args = append(args, "-metadata", tag.key+"="+tag.value)
			}
		}
		return args
	default:
		return append(args, "-map_metadata", "0")
	}
}

// loudnormFilter returns the loudnorm filter string for the encode pass,
// or "" when normalization is off.
func loudnormFilter(cfg Config, stats *ffmpeg.LoudnormStats) string {
	if !cfg.AudioNormalize {
		return ""
	}
	if stats == nil {
		return "loudnorm=" + loudnormTarget
	}
	return fmt.Sprintf(
		"loudnorm=%s:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		loudnormTarget, stats.InputI, stats.InputTP, stats.InputLRA, stats.InputThresh, stats.TargetOffset,
	)
}
