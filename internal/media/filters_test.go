package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, "/subs/movie.srt", escapeFilterPath("/subs/movie.srt"))
	assert.Equal(t, `C\:\\subs\\movie.srt`, escapeFilterPath(`C:\subs\movie.srt`))
	assert.Equal(t, `/subs/it\'s.srt`, escapeFilterPath("/subs/it's.srt"))
}

func TestRotationFilters(t *testing.T) {
	cfg := Config{Resolution: ResolutionOriginal, FPS: "original"}

	cfg.Rotation = 90
	assert.Equal(t, "transpose=1", buildVideoFilter(cfg, nil))

	cfg.Rotation = 180
	assert.Equal(t, "transpose=1,transpose=1", buildVideoFilter(cfg, nil))

	cfg.Rotation = 270
	assert.Equal(t, "transpose=2", buildVideoFilter(cfg, nil))
}

func TestFlipFilters(t *testing.T) {
	cfg := Config{Resolution: ResolutionOriginal, FPS: "original", FlipHorizontal: true, FlipVertical: true}
	assert.Equal(t, "hflip,vflip", buildVideoFilter(cfg, nil))
}

func TestScaleSingleCustomDimension(t *testing.T) {
	cfg := Config{
		Resolution:       ResolutionCustom,
		CustomWidth:      1280,
		ScalingAlgorithm: ScaleLanczos,
		FPS:              "original",
	}
	assert.Equal(t, "scale=1280:-2:flags=lanczos", buildVideoFilter(cfg, nil))

	cfg.CustomWidth = 0
	cfg.CustomHeight = 720
	assert.Equal(t, "scale=-2:720:flags=lanczos", buildVideoFilter(cfg, nil))
}

func TestRotationSwapsAspectForPadding(t *testing.T) {
	// A landscape source rotated 90 degrees becomes portrait; fitting it
	// into a square canvas should scale by height, not width.
	meta := videoMeta()
	cfg := Config{
		Resolution:       ResolutionCustom,
		CustomWidth:      1080,
		CustomHeight:     1080,
		ScalingAlgorithm: ScaleBicubic,
		FPS:              "original",
		Rotation:         90,
	}

	vf := buildVideoFilter(cfg, meta)
	assert.Contains(t, vf, "transpose=1")
	assert.Contains(t, vf, "scale=-2:1080")
	assert.Contains(t, vf, "pad=1080:1080")
}
