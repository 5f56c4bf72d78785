package estimate

import (
	"math"
	"testing"
	"time"

	"tinytv-converter/internal/domain"
)

// TestBytesPerPixelRange verifies the quality curve endpoints and clamping.
func TestBytesPerPixelRange(t *testing.T) {
	if got := BytesPerPixel(31); math.Abs(got-0.06) > 1e-9 {
		t.Fatalf("worst quality bpp = %v, want 0.06", got)
	}
	if got := BytesPerPixel(2); math.Abs(got-0.28) > 1e-9 {
		t.Fatalf("best quality bpp = %v, want 0.28", got)
	}
	if BytesPerPixel(0) != BytesPerPixel(2) || BytesPerPixel(99) != BytesPerPixel(31) {
		t.Fatalf("out-of-range quality should clamp")
	}
	if BytesPerPixel(10) <= BytesPerPixel(20) {
		t.Fatalf("lower q must yield more bytes per pixel")
	}
}

// TestBytesAVI verifies the MJPEG plus PCM estimate for one minute of video.
func TestBytesAVI(t *testing.T) {
	cfg := domain.Configuration{Preset: domain.PresetLow, Container: domain.ContainerAVI}

	frame := math.Floor(210 * 135 * BytesPerPixel(24))
	want := int64(math.Floor(frame*12)*1.03*60) + 10000*60
	if got := Bytes(time.Minute, cfg); got != want {
		t.Fatalf("Bytes() = %d, want %d", got, want)
	}

	cfg.Preset = domain.PresetHigh
	if Bytes(time.Minute, cfg) <= want {
		t.Fatalf("high preset should estimate larger than low")
	}
}

// TestBytesMP4 verifies bitrate based estimates.
func TestBytesMP4(t *testing.T) {
	cfg := domain.Configuration{Preset: domain.PresetMedium, Container: domain.ContainerMP4}
	want := int64(float64(664*1000) / 8 * 10 * 1.03)
	if got := Bytes(10*time.Second, cfg); got != want {
		t.Fatalf("Bytes() = %d, want %d", got, want)
	}
}

// TestBytesUnknownDuration verifies no estimate without a duration.
func TestBytesUnknownDuration(t *testing.T) {
	if got := Bytes(0, domain.Configuration{}); got != 0 {
		t.Fatalf("Bytes(0) = %d, want 0", got)
	}
}
