package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"tinytv-converter/internal/domain"
)

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Configuration, error)
	Save(domain.Configuration) error
}

// JSONStore persists settings in a single JSON file on disk.
type JSONStore struct {
	path string
}

// NewJSONStore creates a JSON-backed settings store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{path: path}
}

// Path returns the backing file.
func (s *JSONStore) Path() string {
	return s.path
}

// Load reads settings from disk or returns defaults when missing. Fields
// missing from older files are filled from defaults.
func (s *JSONStore) Load() (domain.Configuration, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}

		return domain.Configuration{}, errors.Wrapf(err, "read settings %s", s.path)
	}

	var cfg domain.Configuration
	if err := json.Unmarshal(data, &cfg); err != nil {
		return domain.Configuration{}, errors.Wrapf(err, "parse settings %s", s.path)
	}

	return Normalize(cfg), nil
}

// Save writes settings as indented JSON and creates parent directories.
func (s *JSONStore) Save(cfg domain.Configuration) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create settings directory")
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode settings")
	}

	return errors.Wrap(os.WriteFile(s.path, data, 0o644), "write settings")
}
