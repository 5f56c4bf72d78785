package batch

import (
	"context"
	"os"
	"time"

	"tinytv-converter/internal/domain"
)

const (
	baseTimeout     = 5 * time.Minute
	timeoutFactor   = 3
	bytesPerMinute  = 25 << 20
	probeTimeBudget = 15 * time.Second
)

// DurationProber reports the media duration of a file.
type DurationProber interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
}

// DefaultTimeout derives the invocation deadline from the media duration
// when known, otherwise from the input size.
func DefaultTimeout(totalBytes int64, media time.Duration) time.Duration {
	if media > 0 {
		return baseTimeout + timeoutFactor*media
	}
	if totalBytes <= 0 {
		return baseTimeout
	}
	chunks := (totalBytes + bytesPerMinute - 1) / bytesPerMinute
	return baseTimeout + time.Duration(chunks)*time.Minute
}

// budget is the deadline and expected media length of one invocation.
type budget struct {
	timeout time.Duration
	media   time.Duration
}

// budgetFor sums the sizes and durations of inv's inputs. Probe errors are
// ignored; the size rule covers them.
func budgetFor(
	ctx context.Context,
	prober DurationProber,
	stat func(string) (os.FileInfo, error),
	inv domain.Invocation,
	cfg domain.Configuration,
) budget {
	var size int64
	var media time.Duration
	known := prober != nil
	for _, in := range inv.Inputs {
		if info, err := stat(in); err == nil {
			size += info.Size()
		}
		if !known {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeBudget)
		d, err := prober.Duration(probeCtx, in)
		cancel()
		if err != nil || d <= 0 {
			known = false
			continue
		}
		media += d
	}
	if !known {
		media = 0
	}

	b := budget{media: media}
	if cfg.TimeoutSeconds > 0 {
		b.timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	} else {
		b.timeout = DefaultTimeout(size, media)
	}
	return b
}
