package config

import (
	"os"
	"path/filepath"

	"tinytv-converter/internal/domain"
)

// Defaults applied when a stored or user-supplied value is empty.
const (
	DefaultMergeName    = "combined_episodes"
	DefaultChannelStart = 1
	DefaultWorkers      = 1
	MaxWorkers          = 8
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Configuration {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Configuration{
		Preset:       domain.PresetMedium,
		Container:    domain.ContainerAVI,
		OutputDir:    filepath.Join(homeDir, "Videos", "TinyTV"),
		ChannelStart: DefaultChannelStart,
		MergeName:    DefaultMergeName,
		ScaleMode:    domain.ScaleCover,
		Workers:      DefaultWorkers,
	}
}

// SettingsPath returns the settings file location under the user's home.
func SettingsPath(homeDir string) string {
	return filepath.Join(AppDir(homeDir), "settings.json")
}

// AppDir is the per-user application directory.
func AppDir(homeDir string) string {
	return filepath.Join(homeDir, ".tinytv-converter")
}
