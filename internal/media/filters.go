package media

import (
	"fmt"
	"strings"

	"github.com/convertworks/convertd/internal/ffmpeg"
)

// buildVideoFilter assembles the -vf chain. Filters apply in a fixed
// order: crop, rotation, flips, scale, pad, fps, subtitle burn-in.
// Returns "" when no filtering is needed.
func buildVideoFilter(cfg Config, meta *ffmpeg.SourceMetadata) string {
	var chain []string

	srcW, srcH := sourceDimensions(cfg, meta)

	if cfg.Crop != nil && cfg.Crop.Width > 0 && cfg.Crop.Height > 0 {
		chain = append(chain, fmt.Sprintf("crop=%d:%d:%d:%d",
			cfg.Crop.Width, cfg.Crop.Height, cfg.Crop.X, cfg.Crop.Y))
	}

	switch cfg.Rotation {
	case 90:
		chain = append(chain, "transpose=1")
	case 180:
		chain = append(chain, "transpose=1,transpose=1")
	case 270:
		chain = append(chain, "transpose=2")
	}

	if cfg.FlipHorizontal {
		chain = append(chain, "hflip")
	}
	if cfg.FlipVertical {
		chain = append(chain, "vflip")
	}

	chain = append(chain, scaleAndPad(cfg, srcW, srcH)...)

	if cfg.FPS != "original" && cfg.FPS != "" {
		chain = append(chain, "fps="+cfg.FPS)
	}

	if cfg.SubtitleBurnPath != "" {
		chain = append(chain, "subtitles="+escapeFilterPath(cfg.SubtitleBurnPath))
	}

	return strings.Join(chain, ",")
}

// sourceDimensions returns the effective frame size entering the scale
// stage: the crop rectangle when set, swapped for 90/270 rotations.
func sourceDimensions(cfg Config, meta *ffmpeg.SourceMetadata) (int, int) {
	w, h := 0, 0
	if meta != nil && meta.Video != nil {
		w, h = meta.Video.Width, meta.Video.Height
	}
	if cfg.Crop != nil && cfg.Crop.Width > 0 && cfg.Crop.Height > 0 {
		w, h = cfg.Crop.Width, cfg.Crop.Height
	}
	if cfg.Rotation == 90 || cfg.Rotation == 270 {
		w, h = h, w
	}
	return w, h
}

// scaleAndPad emits the scale filter (and pad, when both custom dimensions
// are given) for the configured resolution. When both custom dimensions
// are supplied the content is scaled to fit and centered on a black
// canvas, preserving the source aspect ratio instead of stretching.
func scaleAndPad(cfg Config, srcW, srcH int) []string {
	flags := ":flags=" + string(cfg.ScalingAlgorithm)

	if height, ok := resolutionHeights[cfg.Resolution]; ok {
		return []string{fmt.Sprintf("scale=-2:%d%s", height, flags)}
	}

	if cfg.Resolution != ResolutionCustom {
		return nil
	}

	w, h := cfg.CustomWidth, cfg.CustomHeight
	switch {
	case w > 0 && h > 0:
		// Fit along the limiting axis, then letterbox/pillarbox the rest.
		scale := fmt.Sprintf("scale=%d:-2%s", w, flags)
		if srcW > 0 && srcH > 0 && srcW*h < srcH*w {
			scale = fmt.Sprintf("scale=-2:%d%s", h, flags)
		}
		pad := fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black", w, h)
		return []string{scale, pad}
	case w > 0:
		return []string{fmt.Sprintf("scale=%d:-2%s", w, flags)}
	case h > 0:
		return []string{fmt.Sprintf("scale=-2:%d%s", h, flags)}
	}
	return nil
}

// escapeFilterPath escapes a file path for use inside a filter argument.
// Backslashes and colons are filter-syntax metacharacters, which matters
// for Windows paths like C:\subs\movie.srt.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, `\\`)
	path = strings.ReplaceAll(path, `:`, `\:`)
	path = strings.ReplaceAll(path, `'`, `\'`)
	return path
}

// buildAudioFilter assembles the -af chain: loudness normalization first,
// then the volume adjustment.
func buildAudioFilter(cfg Config, loudnorm string) string {
	var chain []string
	if loudnorm != "" {
		chain = append(chain, loudnorm)
	}
	if cfg.AudioVolume != 1.0 {
		chain = append(chain, fmt.Sprintf("volume=%.2f", cfg.AudioVolume))
	}
	return strings.Join(chain, ",")
}
