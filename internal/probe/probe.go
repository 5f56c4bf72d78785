package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/ysmood/gson"

	"tinytv-converter/internal/domain"
)

// Metadata is the subset of ffprobe output the converter uses.
type Metadata struct {
	Duration time.Duration
	Width    int
	Height   int
	HasAudio bool
}

// Prober reads media metadata with ffprobe.
type Prober struct {
	ffprobePath string
	run         func(ctx context.Context, name string, args ...string) ([]byte, error)
	stat        func(string) (os.FileInfo, error)
	detect      func(path string) (string, error)
}

// New creates a prober that executes the ffprobe binary at path.
func New(ffprobePath string) *Prober {
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{
		ffprobePath: ffprobePath,
		run:         runOutput,
		stat:        os.Stat,
		detect:      detectMIME,
	}
}

// Probe returns duration and stream facts for path.
func (p *Prober) Probe(ctx context.Context, path string) (Metadata, error) {
	out, err := p.run(ctx, p.ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "ffprobe %s", path)
	}
	meta, err := ParseMetadata(out)
	if err != nil {
		return Metadata{}, errors.Wrapf(err, "ffprobe %s", path)
	}
	return meta, nil
}

// Duration returns the container duration of path.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	meta, err := p.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if meta.Duration <= 0 {
		return 0, errors.Errorf("no duration reported for %s", path)
	}
	return meta.Duration, nil
}

// Streams reports whether path has an audio stream and its duration.
func (p *Prober) Streams(ctx context.Context, path string) (bool, time.Duration, error) {
	meta, err := p.Probe(ctx, path)
	if err != nil {
		return false, 0, err
	}
	return meta.HasAudio, meta.Duration, nil
}

// Inspect collects what the file list shows for one source. Failures are
// recorded in SourceInfo.Error; size and MIME are filled whenever possible.
func (p *Prober) Inspect(ctx context.Context, path string) domain.SourceInfo {
	info := domain.SourceInfo{Path: path}
	st, err := p.stat(path)
	if err != nil {
		info.Error = errors.Wrap(err, "cannot read file").Error()
		return info
	}
	if st.IsDir() {
		info.Error = "path is a directory"
		return info
	}
	info.Size = st.Size()

	if mime, err := p.detect(path); err == nil {
		info.MIME = mime
	}

	meta, err := p.Probe(ctx, path)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	info.DurationSeconds = meta.Duration.Seconds()
	info.Width = meta.Width
	info.Height = meta.Height
	info.HasAudio = meta.HasAudio
	return info
}

// ParseMetadata reads `ffprobe -print_format json -show_format -show_streams` output.
func ParseMetadata(out []byte) (Metadata, error) {
	out = bytes.TrimSpace(out)
	if !json.Valid(out) {
		return Metadata{}, errors.New("parse ffprobe output: not valid JSON")
	}
	data := gson.New(out)

	var meta Metadata
	if raw := data.Get("format.duration").Str(); data.Has("format.duration") && raw != "N/A" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Metadata{}, errors.Wrapf(err, "parse duration %q", raw)
		}
		meta.Duration = time.Duration(seconds * float64(time.Second))
	}

	for _, stream := range data.Get("streams").Arr() {
		switch stream.Get("codec_type").Str() {
		case "video":
			if meta.Width == 0 {
				meta.Width = stream.Get("width").Int()
				meta.Height = stream.Get("height").Int()
			}
		case "audio":
			meta.HasAudio = true
		}
	}
	return meta, nil
}

func runOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Wrap(err, msg)
		}
		return nil, err
	}
	return out, nil
}

func detectMIME(path string) (string, error) {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// NewForTests creates a prober with injectable process and file access.
func NewForTests(
	run func(ctx context.Context, name string, args ...string) ([]byte, error),
	stat func(string) (os.FileInfo, error),
	detect func(path string) (string, error),
) *Prober {
	return &Prober{ffprobePath: "ffprobe", run: run, stat: stat, detect: detect}
}
