package config

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"

	"tinytv-converter/internal/domain"
)

// Normalize trims user inputs and fills empty fields with defaults.
func Normalize(cfg domain.Configuration) domain.Configuration {
	defaults := DefaultSettings()

	cfg.OutputDir = strings.TrimSpace(cfg.OutputDir)
	cfg.ToolDir = strings.TrimSpace(cfg.ToolDir)
	cfg.MergeName = strings.TrimSpace(cfg.MergeName)
	cfg.Preset = domain.Preset(strings.ToLower(strings.TrimSpace(string(cfg.Preset))))
	cfg.Container = domain.Container(strings.ToLower(strings.TrimSpace(string(cfg.Container))))
	cfg.ScaleMode = domain.ScaleMode(strings.ToLower(strings.TrimSpace(string(cfg.ScaleMode))))

	if cfg.Preset == "" {
		cfg.Preset = defaults.Preset
	}
	if cfg.Container == "" {
		cfg.Container = defaults.Container
	}
	if cfg.ScaleMode == "" {
		cfg.ScaleMode = defaults.ScaleMode
	}
	if cfg.Workers == 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.ChannelStart == 0 {
		cfg.ChannelStart = DefaultChannelStart
	}
	if cfg.MergeName == "" {
		cfg.MergeName = DefaultMergeName
	}
	if ext := strings.ToLower(cfg.Container.Ext()); strings.HasSuffix(strings.ToLower(cfg.MergeName), ext) {
		cfg.MergeName = cfg.MergeName[:len(cfg.MergeName)-len(ext)]
	}
	return cfg
}

// Validate checks one run configuration. It expects a normalized value.
func Validate(cfg domain.Configuration) error {
	err := validation.ValidateStruct(&cfg,
		validation.Field(&cfg.Preset, validation.Required,
			validation.In(domain.PresetLow, domain.PresetMedium, domain.PresetHigh)),
		validation.Field(&cfg.Container, validation.Required,
			validation.In(domain.ContainerAVI, domain.ContainerMP4)),
		validation.Field(&cfg.ScaleMode, validation.Required,
			validation.In(domain.ScaleCover, domain.ScaleContain, domain.ScaleStretch)),
		validation.Field(&cfg.OutputDir, validation.Required),
		validation.Field(&cfg.ChannelStart, validation.Min(1), validation.Max(99)),
		validation.Field(&cfg.MergeName, validation.When(cfg.Merge, validation.Required, validation.By(plainFileName))),
		validation.Field(&cfg.FrameRate, validation.In(0, 12, 24)),
		validation.Field(&cfg.Workers, validation.Min(1), validation.Max(MaxWorkers)),
		validation.Field(&cfg.TimeoutSeconds, validation.Min(0)),
		validation.Field(&cfg.Resolution, validation.By(validResolution)),
		validation.Field(&cfg.Crop, validation.By(validCrop)),
	)
	return errors.Wrap(err, "invalid configuration")
}

func plainFileName(value interface{}) error {
	name, _ := value.(string)
	if strings.ContainsAny(name, `/\:*?"<>|`) {
		return errors.New("must be a plain file name")
	}
	return nil
}

func validResolution(value interface{}) error {
	res, _ := value.(*domain.Resolution)
	if res == nil {
		return nil
	}
	if res.Width < 16 || res.Height < 16 || res.Width > 3840 || res.Height > 2160 {
		return errors.New("must be between 16x16 and 3840x2160")
	}
	if res.Width%2 != 0 || res.Height%2 != 0 {
		return errors.New("width and height must be even")
	}
	return nil
}

func validCrop(value interface{}) error {
	crop, _ := value.(*domain.Crop)
	if crop == nil {
		return nil
	}
	if crop.Width <= 0 || crop.Height <= 0 {
		return errors.New("width and height must be positive")
	}
	if crop.X < 0 || crop.Y < 0 {
		return errors.New("offsets must not be negative")
	}
	return nil
}
