package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)
	return *cfg
}

func TestNormalizeVideoCodecFallback(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Container = ContainerWebM
	cfg.VideoCodec = VideoX264

	got := cfg.Normalize()
	assert.Equal(t, VideoVP9, got.VideoCodec)
}

func TestNormalizeAudioCodecFallback(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Container = ContainerMP3
	cfg.AudioCodec = AudioFLAC

	got := cfg.Normalize()
	assert.Equal(t, AudioMP3, got.AudioCodec)
}

func TestNormalizeProResOnlyInMKVAndMOV(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Container = ContainerMP4
	cfg.VideoCodec = VideoProRes

	got := cfg.Normalize()
	assert.Equal(t, VideoX264, got.VideoCodec)

	cfg.Container = ContainerMKV
	got = cfg.Normalize()
	assert.Equal(t, VideoProRes, got.VideoCodec)
}

func TestNormalizeNVENCPreset(t *testing.T) {
	cfg := baseConfig(t)
	cfg.VideoCodec = VideoH264NV
	cfg.Preset = "veryslow"

	got := cfg.Normalize()
	assert.Equal(t, Preset("medium"), got.Preset)

	cfg.Preset = "slow"
	got = cfg.Normalize()
	assert.Equal(t, Preset("slow"), got.Preset)
}

func TestNormalizeClearsForeignHardwareToggles(t *testing.T) {
	cfg := baseConfig(t)
	cfg.VideoCodec = VideoX264
	cfg.NvencSpatialAQ = true
	cfg.NvencTemporalAQ = true
	cfg.VideotoolboxAllowSW = true

	got := cfg.Normalize()
	assert.False(t, got.NvencSpatialAQ)
	assert.False(t, got.NvencTemporalAQ)
	assert.False(t, got.VideotoolboxAllowSW)
}

func TestNormalizeKeepsMatchingHardwareToggles(t *testing.T) {
	cfg := baseConfig(t)
	cfg.VideoCodec = VideoHEVCNV
	cfg.NvencSpatialAQ = true

	got := cfg.Normalize()
	assert.True(t, got.NvencSpatialAQ)
	assert.False(t, got.VideotoolboxAllowSW)
}

func TestNormalizeAudioOnlyClearsSubtitles(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Container = ContainerFLAC
	cfg.AudioCodec = AudioFLAC
	cfg.SelectedSubtitleTracks = []int{0}
	cfg.SubtitleBurnPath = "/subs/movie.srt"

	got := cfg.Normalize()
	assert.Nil(t, got.SelectedSubtitleTracks)
	assert.Empty(t, got.SubtitleBurnPath)
}

func TestNormalizeCustomResolutionWithoutDims(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Resolution = ResolutionCustom

	got := cfg.Normalize()
	assert.Equal(t, ResolutionOriginal, got.Resolution)
}

func TestNormalizeFixedResolutionClearsCustomDims(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Resolution = Resolution720p
	cfg.CustomWidth = 640
	cfg.CustomHeight = 480

	got := cfg.Normalize()
	assert.Zero(t, got.CustomWidth)
	assert.Zero(t, got.CustomHeight)
}

func TestNormalizeIdempotent(t *testing.T) {
	configs := []func(Config) Config{
		func(c Config) Config { c.Container = ContainerWebM; c.VideoCodec = VideoX264; return c },
		func(c Config) Config { c.Container = ContainerMP3; c.AudioCodec = AudioFLAC; return c },
		func(c Config) Config { c.VideoCodec = VideoH264NV; c.Preset = "ultrafast"; return c },
		func(c Config) Config {
			c.Container = ContainerWAV
			c.SubtitleBurnPath = "x.srt"
			c.NvencSpatialAQ = true
			return c
		},
	}

	for _, mutate := range configs {
		cfg := mutate(baseConfig(t))
		once := cfg.Normalize()
		twice := once.Normalize()
		assert.Equal(t, once, twice)
	}
}
