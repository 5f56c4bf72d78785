package estimate

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"tinytv-converter/internal/batch"
	"tinytv-converter/internal/domain"
)

const (
	// SampleLength is how much of a source each calibration encode reads.
	SampleLength = 2 * time.Second
	// anchorMargin pads measured rates for the parts of a video the sample missed.
	anchorMargin = 1.05
)

// Anchors are measured video data rates, in bytes per second, at the best
// and worst MJPEG quality.
type Anchors struct {
	Best  float64
	Worst float64
}

// Calibrated predicts the AVI output size from measured anchors, placing the
// configured quality on the same curve as BytesPerPixel.
func Calibrated(duration time.Duration, cfg domain.Configuration, a Anchors) int64 {
	if duration <= 0 {
		return 0
	}
	params := batch.ResolveParams(cfg)
	seconds := duration.Seconds()

	q := min(max(params.Quality, batch.MinQuality), batch.MaxQuality)
	frac := float64(batch.MaxQuality-q) / float64(batch.MaxQuality-batch.MinQuality)
	videoBps := a.Worst + (a.Best-a.Worst)*math.Pow(frac, qualityCurve)
	audioBytes := math.Floor(float64(params.AudioRate*params.AudioChannel) * seconds)
	return int64(videoBps*seconds) + int64(audioBytes)
}

// Sampler encodes a short sample of a source and reports its data rate.
// batch.Pipeline implements it.
type Sampler interface {
	SampleRate(ctx context.Context, source string, q int, length time.Duration, cfg domain.Configuration) (float64, error)
}

// Calibrator measures anchors with sample encodes and caches them per source,
// filter chain and frame rate.
type Calibrator struct {
	sampler Sampler

	mu    sync.Mutex
	cache map[string]Anchors
}

// NewCalibrator creates a calibrator encoding samples through sampler.
func NewCalibrator(sampler Sampler) *Calibrator {
	return &Calibrator{sampler: sampler, cache: make(map[string]Anchors)}
}

// Anchors returns the cached anchors for source, measuring them first when
// needed.
func (c *Calibrator) Anchors(ctx context.Context, source string, cfg domain.Configuration) (Anchors, error) {
	key := anchorKey(source, cfg)
	c.mu.Lock()
	a, ok := c.cache[key]
	c.mu.Unlock()
	if ok {
		return a, nil
	}

	best, err := c.sampler.SampleRate(ctx, source, batch.MinQuality, SampleLength, cfg)
	if err != nil {
		return Anchors{}, errors.Wrap(err, "calibrate best quality")
	}
	worst, err := c.sampler.SampleRate(ctx, source, batch.MaxQuality, SampleLength, cfg)
	if err != nil {
		return Anchors{}, errors.Wrap(err, "calibrate worst quality")
	}
	a = Anchors{Best: best * anchorMargin, Worst: worst * anchorMargin}

	c.mu.Lock()
	c.cache[key] = a
	c.mu.Unlock()
	return a, nil
}

// Estimate predicts the output size of source. AVI outputs use measured
// anchors; MP4 outputs are bitrate bound and use Bytes. When calibration
// fails the heuristic estimate is returned with the error.
func (c *Calibrator) Estimate(ctx context.Context, source string, duration time.Duration, cfg domain.Configuration) (int64, error) {
	if cfg.Container == domain.ContainerMP4 || duration <= 0 {
		return Bytes(duration, cfg), nil
	}
	a, err := c.Anchors(ctx, source, cfg)
	if err != nil {
		return Bytes(duration, cfg), err
	}
	return Calibrated(duration, cfg, a), nil
}

func anchorKey(source string, cfg domain.Configuration) string {
	return source + "\x00" + batch.FilterChain(cfg) + "\x00" + strconv.Itoa(batch.ResolveParams(cfg).FrameRate)
}
