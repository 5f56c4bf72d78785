package config

import (
	"strings"
	"testing"

	"tinytv-converter/internal/domain"
)

func validConfig() domain.Configuration {
	return Normalize(domain.Configuration{OutputDir: "/out"})
}

// TestValidateRejectsBadValues covers each rule with one broken field.
func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Configuration)
		field  string
	}{
		{"preset", func(c *domain.Configuration) { c.Preset = "ultra" }, "preset"},
		{"container", func(c *domain.Configuration) { c.Container = "mkv" }, "container"},
		{"scale mode", func(c *domain.Configuration) { c.ScaleMode = "zoom" }, "ScaleMode"},
		{"output dir", func(c *domain.Configuration) { c.OutputDir = "" }, "outputDir"},
		{"frame rate", func(c *domain.Configuration) { c.FrameRate = 30 }, "frameRate"},
		{"workers", func(c *domain.Configuration) { c.Workers = MaxWorkers + 1 }, "workers"},
		{"channel start", func(c *domain.Configuration) { c.ChannelStart = 100 }, "channelStart"},
		{"odd resolution", func(c *domain.Configuration) { c.Resolution = &domain.Resolution{Width: 211, Height: 135} }, "resolution"},
		{"negative crop", func(c *domain.Configuration) { c.Crop = &domain.Crop{Width: 10, Height: 10, X: -1} }, "crop"},
		{"merge name path", func(c *domain.Configuration) {
			c.Merge = true
			c.MergeName = "../escape"
		}, "mergeName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
			if !strings.Contains(strings.ToLower(err.Error()), strings.ToLower(tt.field)) {
				t.Fatalf("error %q does not mention %s", err, tt.field)
			}
		})
	}
}

// TestValidateAcceptsOverrides checks optional overrides pass when well-formed.
func TestValidateAcceptsOverrides(t *testing.T) {
	cfg := validConfig()
	cfg.Resolution = &domain.Resolution{Width: 320, Height: 240}
	cfg.Crop = &domain.Crop{Width: 640, Height: 480, X: 10, Y: 0}
	cfg.FrameRate = 24
	cfg.Merge = true
	cfg.MergeName = "all shows"

	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

// TestNormalizeStripsMergeExtension checks the container suffix is not doubled.
func TestNormalizeStripsMergeExtension(t *testing.T) {
	cfg := Normalize(domain.Configuration{
		Container: "AVI",
		MergeName: " marathon.avi ",
	})
	if cfg.Container != domain.ContainerAVI {
		t.Fatalf("container = %q, want avi", cfg.Container)
	}
	if cfg.MergeName != "marathon" {
		t.Fatalf("merge name = %q, want marathon", cfg.MergeName)
	}
}
