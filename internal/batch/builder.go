package batch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"tinytv-converter/internal/config"
	"tinytv-converter/internal/domain"
)

// dirChecker prepares the output directory.
type dirChecker interface {
	EnsureWritable(dir string) error
}

// Builder turns selected source paths into an ordered job list.
type Builder struct {
	dirs dirChecker
}

// NewBuilder creates a builder that prepares output dirs through dirs.
func NewBuilder(dirs dirChecker) *Builder {
	return &Builder{dirs: dirs}
}

// Build validates cfg, prepares the output directory and assigns one output
// path per source. Order of sources is preserved. It never touches inputs.
func (b *Builder) Build(sources []string, cfg domain.Configuration) ([]domain.Job, error) {
	if len(sources) == 0 {
		return nil, &ConfigurationError{Message: "no input files selected"}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, &ConfigurationError{Message: "invalid options", Err: err}
	}
	if err := b.dirs.EnsureWritable(cfg.OutputDir); err != nil {
		return nil, &ConfigurationError{Message: "output directory unusable", Err: err}
	}

	owners := make(map[string]string, len(sources)+1)
	for _, src := range sources {
		owners[collisionKey(src)] = "the input " + src
	}
	if cfg.Merge {
		owners[collisionKey(MergeOutput(cfg))] = "the merged output"
	}

	jobs := make([]domain.Job, 0, len(sources))
	for i, src := range sources {
		if strings.TrimSpace(src) == "" {
			return nil, &ConfigurationError{Message: fmt.Sprintf("input %d has an empty path", i+1)}
		}
		out := filepath.Join(cfg.OutputDir, outputName(src, i, prefixWidth(cfg, len(sources)), cfg))
		key := collisionKey(out)
		if owner, taken := owners[key]; taken {
			return nil, &ConfigurationError{
				Message: fmt.Sprintf("%s would write %s, which is already used by %s", src, out, owner),
			}
		}
		owners[key] = "the output of " + src
		jobs = append(jobs, domain.Job{
			Index:   i,
			Ordinal: i + 1,
			Source:  src,
			Output:  out,
		})
	}
	return jobs, nil
}

// prefixWidth is the digit count of the last channel number, at least 2.
func prefixWidth(cfg domain.Configuration, total int) int {
	last := cfg.ChannelStart + total - 1
	return max(2, len(strconv.Itoa(last)))
}

// outputName derives the output file name for the source at index. width is
// the channel prefix width shared by the batch.
func outputName(source string, index, width int, cfg domain.Configuration) string {
	base := filepath.Base(source)
	stem := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if stem == "" || stem == "." || stem == string(filepath.Separator) {
		stem = "video"
	}
	if cfg.ChannelPrefix {
		stem = fmt.Sprintf("%0*d_%s", width, cfg.ChannelStart+index, stem)
	}
	return stem + containerOf(cfg).Ext()
}

// MergeOutput returns the path of the combined file.
func MergeOutput(cfg domain.Configuration) string {
	return filepath.Join(cfg.OutputDir, cfg.MergeName+containerOf(cfg).Ext())
}

func containerOf(cfg domain.Configuration) domain.Container {
	if cfg.Container == "" {
		return domain.ContainerAVI
	}
	return cfg.Container
}

// collisionKey folds case so that outputs differing only in case collide on
// case-insensitive filesystems too.
func collisionKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return strings.ToLower(filepath.Clean(path))
}
