package batch

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"tinytv-converter/internal/domain"
)

// ConcatListThreshold is the input count from which the merge switches from
// a filter graph to the concat demuxer with a list file.
const ConcatListThreshold = 50

// Synthesize builds the conversion invocation for one job. It is pure: the
// same job and configuration always yield the same invocation.
func Synthesize(job domain.Job, cfg domain.Configuration) (domain.Invocation, error) {
	if !IsSupported(job.Source) {
		return domain.Invocation{}, &UnsupportedInputError{
			Source: job.Source,
			Ext:    strings.ToLower(filepath.Ext(job.Source)),
		}
	}

	params := ResolveParams(cfg)
	args := preamble()
	args = append(args,
		"-i", job.Source,
		"-r", strconv.Itoa(params.FrameRate),
		"-pix_fmt", "yuv420p",
		"-vf", videoFilter(params, cfg),
	)
	if cfg.NormalizeAudio {
		args = append(args, "-af", "loudnorm")
	}
	args = append(args, codecArgs(containerOf(cfg), params)...)
	args = append(args, job.Output)

	return domain.Invocation{
		Args:   args,
		Dir:    cfg.OutputDir,
		Inputs: []string{job.Source},
		Output: job.Output,
	}, nil
}

// MergeInput is one file to concatenate. Silent marks a file without an
// audio stream; its Duration sizes the silence put in its place.
type MergeInput struct {
	Path     string
	Duration time.Duration
	Silent   bool
}

// PathInputs wraps paths as merge inputs that are assumed to carry audio.
func PathInputs(paths []string) []MergeInput {
	return lo.Map(paths, func(p string, _ int) MergeInput { return MergeInput{Path: p} })
}

// SynthesizeMerge builds the invocation that concatenates inputs, in the
// given order, into MergeOutput(cfg).
func SynthesizeMerge(inputs []MergeInput, cfg domain.Configuration) (domain.Invocation, error) {
	if len(inputs) == 0 {
		return domain.Invocation{}, errors.New("merge needs at least one converted file")
	}

	params := ResolveParams(cfg)
	container := containerOf(cfg)
	dst := MergeOutput(cfg)
	paths := lo.Map(inputs, func(in MergeInput, _ int) string { return in.Path })
	normalize := fmt.Sprintf("fps=%d,format=yuv420p,setsar=1", params.FrameRate)
	inv := domain.Invocation{
		Dir:    cfg.OutputDir,
		Inputs: paths,
		Output: dst,
	}

	args := preamble()
	switch {
	case len(inputs) == 1:
		args = append(args, "-i", paths[0], "-vf", normalize)
	case len(inputs) >= ConcatListThreshold:
		list := &domain.ListFile{
			Path:    filepath.Join(cfg.OutputDir, "."+cfg.MergeName+".concat.txt"),
			Content: concatList(paths),
		}
		inv.ListFile = list
		args = append(args,
			"-f", "concat", "-safe", "0",
			"-i", list.Path,
			"-fflags", "+genpts",
			"-copytb", "0",
			"-vf", normalize,
		)
	default:
		for _, p := range paths {
			args = append(args, "-i", p)
		}
		args = append(args,
			"-filter_complex", concatGraph(inputs, params, container),
			"-map", "[v]", "-map", "[a]",
		)
	}
	args = append(args, "-r", strconv.Itoa(params.FrameRate), "-pix_fmt", "yuv420p")
	args = append(args, codecArgs(container, params)...)
	inv.Args = append(args, dst)
	return inv, nil
}

// FilterChain returns the video filter a conversion with cfg applies.
func FilterChain(cfg domain.Configuration) string {
	return videoFilter(ResolveParams(cfg), cfg)
}

// SynthesizeThumbnail builds an invocation that renders one frame of source,
// one second in, through the conversion filter chain into a JPEG at output.
func SynthesizeThumbnail(source, output string, cfg domain.Configuration) (domain.Invocation, error) {
	if !IsSupported(source) {
		return domain.Invocation{}, &UnsupportedInputError{
			Source: source,
			Ext:    strings.ToLower(filepath.Ext(source)),
		}
	}
	params := ResolveParams(cfg)
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-ss", "00:00:01",
		"-i", source,
		"-frames:v", "1",
		"-vf", videoFilter(params, cfg),
		"-pix_fmt", "yuvj420p",
		"-q:v", strconv.Itoa(params.Quality),
		output,
	}
	return domain.Invocation{
		Args:   args,
		Dir:    filepath.Dir(output),
		Inputs: []string{source},
		Output: output,
	}, nil
}

// SynthesizeSample builds a video-only MJPEG encode of the first seconds of
// source at quality q, used to measure the data rate a conversion produces.
func SynthesizeSample(source, output string, q int, length time.Duration, cfg domain.Configuration) domain.Invocation {
	params := ResolveParams(cfg)
	args := preamble()
	args = append(args,
		"-ss", "0",
		"-t", strconv.FormatFloat(length.Seconds(), 'f', 3, 64),
		"-fflags", "+genpts",
		"-copytb", "0",
		"-i", source,
		"-vf", videoFilter(params, cfg),
		"-r", strconv.Itoa(params.FrameRate),
		"-pix_fmt", "yuv420p",
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(clampQuality(q)),
		"-an",
		output,
	)
	return domain.Invocation{
		Args:   args,
		Dir:    filepath.Dir(output),
		Inputs: []string{source},
		Output: output,
	}
}

func preamble() []string {
	return []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-stats", "-y"}
}

// videoFilter fits the source frame into the target size.
func videoFilter(params Params, cfg domain.Configuration) string {
	w, h := params.Width, params.Height
	var parts []string
	if c := cfg.Crop; c != nil && c.Width > 0 && c.Height > 0 {
		parts = append(parts, fmt.Sprintf("crop=%d:%d:%d:%d", c.Width, c.Height, c.X, c.Y))
	}
	switch cfg.ScaleMode {
	case domain.ScaleContain:
		parts = append(parts,
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", w, h),
			fmt.Sprintf("pad=%d:%d:(ow-iw)/2:(oh-ih)/2", w, h),
		)
	case domain.ScaleStretch:
		parts = append(parts, fmt.Sprintf("scale=%d:%d", w, h))
	default:
		parts = append(parts,
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", w, h),
			fmt.Sprintf("crop=%d:%d:exact=1", w, h),
		)
	}
	parts = append(parts, "setsar=1", "hqdn3d")
	return strings.Join(parts, ",")
}

func codecArgs(container domain.Container, params Params) []string {
	rate := strconv.Itoa(params.AudioRate)
	channels := strconv.Itoa(params.AudioChannel)
	if container == domain.ContainerMP4 {
		vb := fmt.Sprintf("%dk", params.VideoKbps)
		return []string{
			"-c:v", "libx264",
			"-b:v", vb,
			"-maxrate", vb,
			"-bufsize", fmt.Sprintf("%dk", params.VideoKbps*2),
			"-c:a", "aac",
			"-b:a", fmt.Sprintf("%dk", params.AudioKbps),
			"-ar", rate,
			"-ac", channels,
			"-movflags", "+faststart",
		}
	}
	return []string{
		"-c:v", "mjpeg",
		"-q:v", strconv.Itoa(params.Quality),
		"-c:a", "pcm_u8",
		"-ar", rate,
		"-ac", channels,
	}
}

func concatGraph(inputs []MergeInput, params Params, container domain.Container) string {
	sampleFmt := "u8"
	if container == domain.ContainerMP4 {
		sampleFmt = "fltp"
	}
	audioFormat := fmt.Sprintf("aformat=sample_fmts=%s:channel_layouts=mono", sampleFmt)
	var b strings.Builder
	for i, in := range inputs {
		fmt.Fprintf(&b, "[%d:v:0]fps=%d,format=yuv420p,setsar=1[v%d];", i, params.FrameRate, i)
		if in.Silent {
			fmt.Fprintf(&b, "anullsrc=r=%d:cl=mono,atrim=duration=%s,%s[a%d];",
				params.AudioRate, strconv.FormatFloat(in.Duration.Seconds(), 'f', 3, 64), audioFormat, i)
			continue
		}
		fmt.Fprintf(&b, "[%d:a:0]aresample=%d,%s[a%d];", i, params.AudioRate, audioFormat, i)
	}
	for i := range inputs {
		fmt.Fprintf(&b, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[v][a]", len(inputs))
	return b.String()
}

// concatList renders a concat demuxer list. Paths use forward slashes and
// single quotes are escaped the way the demuxer expects.
func concatList(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		p = strings.ReplaceAll(filepath.ToSlash(p), "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", p)
	}
	return b.String()
}
