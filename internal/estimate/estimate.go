package estimate

import (
	"math"
	"time"

	"tinytv-converter/internal/batch"
	"tinytv-converter/internal/domain"
)

const (
	minBytesPerPixel = 0.06
	maxBytesPerPixel = 0.28
	qualityCurve     = 0.7
	// containerOverhead covers AVI/MP4 index and chunk headers.
	containerOverhead = 1.03
)

// Bytes predicts the output size of converting media of the given duration
// with cfg. It returns 0 when the duration is unknown.
func Bytes(duration time.Duration, cfg domain.Configuration) int64 {
	if duration <= 0 {
		return 0
	}
	params := batch.ResolveParams(cfg)
	seconds := duration.Seconds()

	if cfg.Container == domain.ContainerMP4 {
		bitsPerSecond := float64(params.VideoKbps+params.AudioKbps) * 1000
		return int64(bitsPerSecond / 8 * seconds * containerOverhead)
	}

	bytesPerFrame := math.Floor(float64(params.Width*params.Height) * BytesPerPixel(params.Quality))
	videoBps := math.Floor(bytesPerFrame*float64(params.FrameRate)) * containerOverhead
	// pcm_u8: one byte per sample per channel.
	audioBytes := math.Floor(float64(params.AudioRate*params.AudioChannel) * seconds)
	return int64(videoBps*seconds) + int64(audioBytes)
}

// BytesPerPixel maps an MJPEG q:v value onto an empirical compressed
// bytes-per-pixel figure. q is clamped to the valid range.
func BytesPerPixel(q int) float64 {
	if q < batch.MinQuality {
		q = batch.MinQuality
	}
	if q > batch.MaxQuality {
		q = batch.MaxQuality
	}
	frac := float64(batch.MaxQuality-q) / float64(batch.MaxQuality-batch.MinQuality)
	return minBytesPerPixel + (maxBytesPerPixel-minBytesPerPixel)*math.Pow(frac, qualityCurve)
}
