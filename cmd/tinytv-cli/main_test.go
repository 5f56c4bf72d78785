package main

import (
	"context"
	"errors"
	"io"
	"testing"

	"tinytv-converter/internal/batch"
	"tinytv-converter/internal/config"
	"tinytv-converter/internal/domain"
)

// TestParseArgsOverridesStoredSettings verifies flags win over stored values.
func TestParseArgsOverridesStoredSettings(t *testing.T) {
	base := config.DefaultSettings()
	base.OutputDir = "/stored"

	opts, err := parseArgs([]string{
		"-preset", "high",
		"-container", "mp4",
		"-prefix",
		"-channel-start", "5",
		"-width", "320",
		"-crop", "640:360:10:20",
		"-timeout", "90s",
		"a.mov", "b.mkv",
	}, base, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}

	cfg := opts.cfg
	if cfg.Preset != domain.PresetHigh || cfg.Container != domain.ContainerMP4 {
		t.Fatalf("preset/container = %q/%q", cfg.Preset, cfg.Container)
	}
	if cfg.OutputDir != "/stored" || !cfg.ChannelPrefix || cfg.ChannelStart != 5 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Resolution == nil || cfg.Resolution.Width != 320 || cfg.Resolution.Height != batch.DefaultHeight {
		t.Fatalf("resolution = %+v", cfg.Resolution)
	}
	if cfg.Crop == nil || *cfg.Crop != (domain.Crop{Width: 640, Height: 360, X: 10, Y: 20}) {
		t.Fatalf("crop = %+v", cfg.Crop)
	}
	if cfg.TimeoutSeconds != 90 {
		t.Fatalf("timeout = %d, want 90", cfg.TimeoutSeconds)
	}
	if len(opts.sources) != 2 || opts.sources[1] != "b.mkv" {
		t.Fatalf("sources = %v", opts.sources)
	}
}

// TestParseArgsErrors verifies usage errors.
func TestParseArgsErrors(t *testing.T) {
	base := config.DefaultSettings()
	if _, err := parseArgs(nil, base, io.Discard); err == nil {
		t.Fatal("expected error without sources")
	}
	if _, err := parseArgs([]string{"-crop", "wide", "a.mov"}, base, io.Discard); err == nil {
		t.Fatal("expected error for malformed crop")
	}
	if _, err := parseArgs([]string{"-channel-start", "0", "a.mov"}, base, io.Discard); err == nil {
		t.Fatal("expected error for channel start 0")
	}
	if _, err := parseArgs([]string{"-save"}, base, io.Discard); err != nil {
		t.Fatalf("save without sources should parse: %v", err)
	}
}

// TestExitCode verifies the process status for each kind of outcome.
func TestExitCode(t *testing.T) {
	tests := []struct {
		name    string
		summary domain.BatchSummary
		err     error
		want    int
	}{
		{"success", domain.BatchSummary{SuccessCount: 1}, nil, exitOK},
		{"job failure", domain.BatchSummary{FailureCount: 1}, nil, exitFailures},
		{"cancelled", domain.BatchSummary{Cancelled: true}, batch.ErrCancelled, exitCancelled},
		{"tool missing", domain.BatchSummary{}, &batch.ToolNotFoundError{Tool: "ffmpeg", Err: errors.New("missing")}, exitUsage},
		{"raw cancel", domain.BatchSummary{}, context.Canceled, exitCancelled},
	}

	for _, tc := range tests {
		if got := exitCode(tc.summary, tc.err); got != tc.want {
			t.Fatalf("%s: exitCode() = %d, want %d", tc.name, got, tc.want)
		}
	}
}
