package batch

import (
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"tinytv-converter/internal/domain"
)

// TinyTV 2 screen geometry and the audio format its player expects.
const (
	DefaultWidth  = 210
	DefaultHeight = 135

	aviAudioRate = 10000
	mp4AudioRate = 44100

	// MinQuality and MaxQuality bound the MJPEG -q:v scale; lower is better.
	MinQuality = 2
	MaxQuality = 31
)

// Params are the explicit encoder parameters a preset resolves to.
type Params struct {
	Quality      int
	VideoKbps    int
	AudioKbps    int
	Width        int
	Height       int
	FrameRate    int
	AudioRate    int
	AudioChannel int
}

var presetTable = map[domain.Preset]Params{
	domain.PresetLow:    {Quality: 24, VideoKbps: 300, AudioKbps: 48, Width: DefaultWidth, Height: DefaultHeight, FrameRate: 12},
	domain.PresetMedium: {Quality: 16, VideoKbps: 600, AudioKbps: 64, Width: DefaultWidth, Height: DefaultHeight, FrameRate: 12},
	domain.PresetHigh:   {Quality: 6, VideoKbps: 1200, AudioKbps: 96, Width: DefaultWidth, Height: DefaultHeight, FrameRate: 24},
}

var videoExtensions = []string{
	".mp4", ".mov", ".mkv", ".avi", ".webm", ".wmv", ".m4v", ".mpg", ".mpeg", ".flv",
}

// VideoExtensions returns the accepted source extensions, lowercase with dot.
func VideoExtensions() []string {
	return append([]string(nil), videoExtensions...)
}

// IsSupported reports whether path has an accepted extension. Case is ignored.
func IsSupported(path string) bool {
	return lo.Contains(videoExtensions, strings.ToLower(filepath.Ext(path)))
}

// ResolveParams expands the configured preset and applies explicit overrides.
func ResolveParams(cfg domain.Configuration) Params {
	params, ok := presetTable[cfg.Preset]
	if !ok {
		params = presetTable[domain.PresetMedium]
	}
	if cfg.Resolution != nil && cfg.Resolution.Width > 0 && cfg.Resolution.Height > 0 {
		params.Width = cfg.Resolution.Width
		params.Height = cfg.Resolution.Height
	}
	if cfg.FrameRate > 0 {
		params.FrameRate = cfg.FrameRate
	}
	params.AudioChannel = 1
	params.AudioRate = aviAudioRate
	if cfg.Container == domain.ContainerMP4 {
		params.AudioRate = mp4AudioRate
	}
	return params
}

// clampQuality limits q to the MJPEG -q:v scale.
func clampQuality(q int) int {
	return min(max(q, MinQuality), MaxQuality)
}
