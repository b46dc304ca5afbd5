package media

import "slices"

// containerVideoCodecs is the container → legal video codec matrix. The
// first entry of each list is the fallback when an illegal codec is
// configured. Audio-only containers have no entry: video is suppressed.
var containerVideoCodecs = map[Container][]VideoCodec{
	ContainerMP4: {
		VideoX264, VideoX265, VideoVP9, VideoSVTAV1,
		VideoH264VT, VideoHEVCVT, VideoH264NV, VideoHEVCNV, VideoAV1NVENC,
	},
	ContainerMKV: {
		VideoX264, VideoX265, VideoVP9, VideoSVTAV1, VideoProRes,
		VideoH264VT, VideoHEVCVT, VideoH264NV, VideoHEVCNV, VideoAV1NVENC,
	},
	ContainerWebM: {VideoVP9},
	ContainerMOV: {
		VideoX264, VideoX265, VideoProRes,
		VideoH264VT, VideoHEVCVT,
	},
}

// containerAudioCodecs is the container → legal audio codec matrix, first
// entry being the fallback.
var containerAudioCodecs = map[Container][]AudioCodec{
	ContainerMP3:  {AudioMP3},
	ContainerWAV:  {AudioPCM},
	ContainerFLAC: {AudioFLAC},
	ContainerM4A:  {AudioAAC, AudioALAC},
	ContainerMP4:  {AudioAAC, AudioAC3, AudioOpus, AudioMP3, AudioALAC},
	ContainerMOV:  {AudioAAC, AudioAC3, AudioOpus, AudioMP3, AudioALAC, AudioFLAC, AudioPCM},
	ContainerMKV:  {AudioAAC, AudioAC3, AudioOpus, AudioMP3, AudioALAC, AudioFLAC, AudioPCM},
	ContainerWebM: {AudioOpus, AudioVorbis},
}

// Normalize resolves the compatibility matrix, rewriting illegal fields to
// their documented fallbacks. It never fails and is idempotent:
// Normalize(Normalize(c)) == Normalize(c).
func (c Config) Normalize() Config {
	// Video codec legality. Audio-only containers keep the configured
	// codec; the builder suppresses video muxing entirely.
	if legal, ok := containerVideoCodecs[c.Container]; ok {
		if !slices.Contains(legal, c.VideoCodec) {
			c.VideoCodec = legal[0]
		}
	}

	// Audio codec legality.
	if legal, ok := containerAudioCodecs[c.Container]; ok {
		if !slices.Contains(legal, c.AudioCodec) {
			c.AudioCodec = legal[0]
		}
	}

	// Preset legality. NVENC supports a reduced preset set; VideoToolbox
	// ignores presets entirely so any value is left untouched.
	if c.VideoCodec.IsNVENC() && !slices.Contains(nvencPresets, c.Preset) {
		c.Preset = "medium"
	}

	// Hardware-only toggles are cleared when an incompatible encoder is
	// selected.
	if !c.VideoCodec.IsNVENC() {
		c.NvencSpatialAQ = false
		c.NvencTemporalAQ = false
	}
	if !c.VideoCodec.IsVideoToolbox() {
		c.VideotoolboxAllowSW = false
	}

	// Audio-only containers zero the subtitle fields.
	if c.Container.AudioOnly() {
		c.SelectedSubtitleTracks = nil
		c.SubtitleBurnPath = ""
	}

	// Resolution consistency: custom without dimensions means original;
	// fixed resolutions carry no custom dimensions.
	if c.Resolution == ResolutionCustom && c.CustomWidth == 0 && c.CustomHeight == 0 {
		c.Resolution = ResolutionOriginal
	}
	if c.Resolution != ResolutionCustom {
		c.CustomWidth = 0
		c.CustomHeight = 0
	}

	return c
}
