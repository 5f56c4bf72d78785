package batch

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tinytv-converter/internal/config"
	"tinytv-converter/internal/domain"
)

const (
	thumbnailTimeout = 30 * time.Second
	sampleTimeout    = 2 * time.Minute
)

// StreamProber reports whether a file carries audio and how long it plays.
// Probers passed to NewPipeline may implement it to let merges fill silent
// inputs with generated silence.
type StreamProber interface {
	Streams(ctx context.Context, path string) (hasAudio bool, length time.Duration, err error)
}

// MergeInputs describes paths for SynthesizeMerge. A file is marked silent
// only when prober reports no audio and a known length; anything else keeps
// the default of reading its first audio stream.
func MergeInputs(ctx context.Context, prober DurationProber, paths []string) []MergeInput {
	inputs := PathInputs(paths)
	sp, ok := prober.(StreamProber)
	if !ok {
		return inputs
	}
	for i := range inputs {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeBudget)
		hasAudio, length, err := sp.Streams(probeCtx, inputs[i].Path)
		cancel()
		if err == nil && !hasAudio && length > 0 {
			inputs[i].Silent = true
			inputs[i].Duration = length
		}
	}
	return inputs
}

// CombineRequest names existing videos to join, in order, into Output.
type CombineRequest struct {
	Files []string
	// Output is the combined file; its extension picks the container.
	Output string
	// FrameRate overrides the preset frame rate when non-zero.
	FrameRate int
	Config    domain.Configuration
}

// Combine concatenates existing videos into one file re-encoded for the
// device. It blocks until ffmpeg exits. A cancelled combine returns
// ErrCancelled with a skipped result.
func (p *Pipeline) Combine(ctx context.Context, req CombineRequest) (domain.Result, error) {
	cfg, err := combineConfig(req)
	if err != nil {
		return domain.Result{}, err
	}
	output := MergeOutput(cfg)
	for i, f := range req.Files {
		if strings.TrimSpace(f) == "" {
			return domain.Result{}, &ConfigurationError{Message: "combine input is an empty path"}
		}
		if !IsSupported(f) {
			return domain.Result{}, &UnsupportedInputError{Source: f, Ext: strings.ToLower(filepath.Ext(f))}
		}
		if collisionKey(f) == collisionKey(output) {
			return domain.Result{}, &ConfigurationError{
				Message: "combined output " + output + " would overwrite input " + strings.TrimSpace(req.Files[i]),
			}
		}
	}
	if err := p.builder.dirs.EnsureWritable(cfg.OutputDir); err != nil {
		return domain.Result{}, &ConfigurationError{Message: "output directory is not usable", Err: err}
	}
	tool, err := p.runner.Preflight(cfg)
	if err != nil {
		return domain.Result{}, err
	}

	p.log.WithFields(logrus.Fields{
		"inputs": len(req.Files),
		"output": output,
		"fps":    ResolveParams(cfg).FrameRate,
	}).Info("combine started")
	res := p.reporter.merge(ctx, tool, req.Files, cfg)
	if res.Status == domain.ResultSkipped {
		return res, ErrCancelled
	}
	return res, nil
}

// combineConfig derives the merge settings of a combine request.
func combineConfig(req CombineRequest) (domain.Configuration, error) {
	if len(req.Files) == 0 {
		return domain.Configuration{}, &ConfigurationError{Message: "no videos to combine"}
	}
	output := strings.TrimSpace(req.Output)
	if output == "" {
		return domain.Configuration{}, &ConfigurationError{Message: "choose a file for the combined video"}
	}

	cfg := config.Normalize(req.Config)
	switch ext := strings.ToLower(filepath.Ext(output)); ext {
	case domain.ContainerAVI.Ext():
		cfg.Container = domain.ContainerAVI
	case domain.ContainerMP4.Ext():
		cfg.Container = domain.ContainerMP4
	case "":
		output += cfg.Container.Ext()
	default:
		return domain.Configuration{}, &ConfigurationError{Message: "combined video must be .avi or .mp4, got " + ext}
	}
	if abs, err := filepath.Abs(output); err == nil {
		output = abs
	}

	base := filepath.Base(output)
	cfg.OutputDir = filepath.Dir(output)
	cfg.MergeName = strings.TrimSuffix(base, filepath.Ext(base))
	cfg.Merge = true
	if req.FrameRate != 0 {
		cfg.FrameRate = req.FrameRate
	}
	if err := config.Validate(cfg); err != nil {
		return domain.Configuration{}, &ConfigurationError{Message: "combine settings", Err: err}
	}
	return cfg, nil
}

// Thumbnail renders a preview frame of source through the conversion filter
// chain of cfg and returns the JPEG bytes.
func (p *Pipeline) Thumbnail(ctx context.Context, source string, cfg domain.Configuration) ([]byte, error) {
	cfg = config.Normalize(cfg)
	tool, err := p.runner.Preflight(cfg)
	if err != nil {
		return nil, err
	}

	path, cleanup, err := tempOutput("tinytv_thumb_*.jpg")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	inv, err := SynthesizeThumbnail(source, path, cfg)
	if err != nil {
		return nil, err
	}
	if err := p.runAux(ctx, tool, inv, thumbnailTimeout, "thumbnail"); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read thumbnail")
	}
	if len(data) == 0 {
		return nil, errors.Errorf("thumbnail of %s is empty", source)
	}
	return data, nil
}

// SampleRate encodes the first length of source at MJPEG quality q and
// returns the video bytes per second it produced.
func (p *Pipeline) SampleRate(
	ctx context.Context,
	source string,
	q int,
	length time.Duration,
	cfg domain.Configuration,
) (float64, error) {
	if length <= 0 {
		return 0, errors.New("sample length must be positive")
	}
	cfg = config.Normalize(cfg)
	tool, err := p.runner.Preflight(cfg)
	if err != nil {
		return 0, err
	}

	path, cleanup, err := tempOutput("tinytv_cal_*.avi")
	if err != nil {
		return 0, err
	}
	defer cleanup()

	inv := SynthesizeSample(source, path, q, length, cfg)
	if err := p.runAux(ctx, tool, inv, sampleTimeout, "sample encode"); err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrap(err, "stat sample")
	}
	if info.Size() == 0 {
		return 0, errors.Errorf("sample encode of %s produced no data", source)
	}
	return float64(info.Size()) / length.Seconds(), nil
}

// runAux runs a short helper invocation and maps its outcome to an error.
func (p *Pipeline) runAux(ctx context.Context, tool string, inv domain.Invocation, timeout time.Duration, what string) error {
	out := p.runner.invoker.RunOne(ctx, tool, inv, RunOptions{Timeout: timeout})
	switch {
	case out.Success():
		return nil
	case out.NotFound:
		return &ToolNotFoundError{Tool: tool, Err: out.Err}
	case out.Cancelled:
		return ErrCancelled
	case out.TimedOut:
		return errors.Errorf("%s of %s timed out after %s", what, inv.Inputs[0], timeout)
	default:
		reason := failureReason(out.Diagnostic)
		if reason == "" {
			reason = "exit code " + strconv.Itoa(out.ExitCode)
		}
		return errors.Errorf("%s of %s failed: %s", what, inv.Inputs[0], reason)
	}
}

// tempOutput reserves a file name in the temp dir for a helper invocation.
func tempOutput(pattern string) (string, func(), error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", nil, errors.Wrap(err, "create temp file")
	}
	path := f.Name()
	_ = f.Close()
	return path, func() { _ = os.Remove(path) }, nil
}
