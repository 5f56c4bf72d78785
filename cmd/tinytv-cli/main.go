// Command tinytv-cli converts videos for the TinyTV 2 without the desktop shell.
// Stored desktop settings are used as defaults; flags override them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tinytv-converter/internal/batch"
	"tinytv-converter/internal/config"
	"tinytv-converter/internal/diagnostics"
	"tinytv-converter/internal/domain"
	"tinytv-converter/internal/logging"
	"tinytv-converter/internal/probe"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailures  = 1
	exitUsage     = 2
	exitCancelled = 130
)

type options struct {
	cfg      domain.Configuration
	sources  []string
	logLevel string
	save     bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	store := config.NewJSONStore(config.SettingsPath(homeDir))
	stored, err := store.Load()
	if err != nil {
		fmt.Fprintf(stderr, "load settings: %v\n", err)
		return exitUsage
	}

	opts, err := parseArgs(args, stored, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	logger, err := logging.New(opts.logLevel, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	if opts.save {
		if err := config.Validate(config.Normalize(opts.cfg)); err != nil {
			logger.WithError(err).Error("settings not saved")
			return exitUsage
		}
		if err := store.Save(config.Normalize(opts.cfg)); err != nil {
			logger.WithError(err).Error("save settings")
			return exitUsage
		}
		logger.WithField("path", store.Path()).Info("settings saved")
		if len(opts.sources) == 0 {
			return exitOK
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := diagnostics.NewChecker()
	ffmpeg, _ := checker.ResolveTool("ffmpeg", opts.cfg.ToolDir)
	prober := probe.New(checker.ProbePathFor(ffmpeg, opts.cfg.ToolDir))
	pipeline := batch.NewPipeline(checker, batch.NewExecInvoker(), prober, logger)

	summary, err := pipeline.Run(ctx, batch.Request{
		Sources: opts.sources,
		Config:  opts.cfg,
		OnJobStart: func(job domain.Job) {
			logger.WithFields(logrus.Fields{
				"index":  job.Index,
				"source": job.Source,
				"output": job.Output,
			}).Info("converting")
		},
		OnJobDone: func(res domain.Result) {
			entry := logger.WithFields(logrus.Fields{
				"index":    res.Index,
				"source":   res.Source,
				"status":   res.Status,
				"duration": res.Duration.Round(time.Millisecond),
			})
			if res.Status == domain.ResultFailed {
				entry.WithField("code", res.ErrorCode).Warn("conversion failed")
				return
			}
			entry.Info("job finished")
		},
		OnProgress: func(p batch.Progress) {
			logger.WithFields(logrus.Fields{
				"index":   p.Index,
				"percent": fmt.Sprintf("%.0f", p.Percent),
			}).Debug("progress")
		},
		OnMerge: func(started bool, res *domain.Result) {
			if started {
				logger.Info("merging converted videos")
				return
			}
			if res != nil {
				logger.WithFields(logrus.Fields{
					"output": res.Output,
					"status": res.Status,
				}).Info("merge finished")
			}
		},
	})

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(summary); encErr != nil {
		logger.WithError(encErr).Error("write summary")
	}

	return exitCode(summary, err)
}

// parseArgs binds flags over the stored settings. Remaining arguments are the sources.
func parseArgs(args []string, base domain.Configuration, output io.Writer) (options, error) {
	opts := options{cfg: base}
	cfg := &opts.cfg

	fs := flag.NewFlagSet("tinytv-cli", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		fmt.Fprintln(output, "usage: tinytv-cli [flags] video...")
		fs.PrintDefaults()
	}

	var preset, container, scale, crop string
	var width, height int
	var timeout time.Duration
	fs.StringVar(&preset, "preset", string(base.Preset), "quality preset (low, medium, high)")
	fs.StringVar(&container, "container", string(base.Container), "output container (avi, mp4)")
	fs.StringVar(&cfg.OutputDir, "out", base.OutputDir, "output directory")
	fs.BoolVar(&cfg.ChannelPrefix, "prefix", base.ChannelPrefix, "prefix outputs with a two-digit channel number")
	fs.IntVar(&cfg.ChannelStart, "channel-start", base.ChannelStart, "first channel number")
	fs.BoolVar(&cfg.Merge, "merge", base.Merge, "also concatenate successful outputs into one file")
	fs.StringVar(&cfg.MergeName, "merge-name", base.MergeName, "merged output name without extension")
	fs.IntVar(&width, "width", 0, "target width in pixels (default 210)")
	fs.IntVar(&height, "height", 0, "target height in pixels (default 135)")
	fs.StringVar(&crop, "crop", "", "source crop as W:H:X:Y")
	fs.StringVar(&scale, "scale", string(base.ScaleMode), "scale mode (cover, contain, stretch)")
	fs.IntVar(&cfg.FrameRate, "fps", base.FrameRate, "frame rate override (12 or 24)")
	fs.BoolVar(&cfg.NormalizeAudio, "normalize", base.NormalizeAudio, "normalize audio loudness")
	fs.IntVar(&cfg.Workers, "workers", base.Workers, "concurrent conversions")
	fs.DurationVar(&timeout, "timeout", time.Duration(base.TimeoutSeconds)*time.Second, "per-job timeout (0 derives it from the input)")
	fs.StringVar(&cfg.ToolDir, "tools", base.ToolDir, "folder containing ffmpeg and ffprobe")
	fs.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	fs.BoolVar(&opts.save, "save", false, "store these options as the new defaults")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if cfg.ChannelStart < 1 || cfg.ChannelStart > 99 {
		return options{}, fmt.Errorf("invalid -channel-start %d: want 1..99", cfg.ChannelStart)
	}
	cfg.Preset = domain.Preset(preset)
	cfg.Container = domain.Container(container)
	cfg.ScaleMode = domain.ScaleMode(scale)
	cfg.TimeoutSeconds = int(timeout.Round(time.Second) / time.Second)

	if width != 0 || height != 0 {
		res := domain.Resolution{Width: batch.DefaultWidth, Height: batch.DefaultHeight}
		if base.Resolution != nil {
			res = *base.Resolution
		}
		if width != 0 {
			res.Width = width
		}
		if height != 0 {
			res.Height = height
		}
		cfg.Resolution = &res
	}
	if crop != "" {
		var c domain.Crop
		if _, err := fmt.Sscanf(crop, "%d:%d:%d:%d", &c.Width, &c.Height, &c.X, &c.Y); err != nil {
			return options{}, fmt.Errorf("invalid -crop %q: want W:H:X:Y", crop)
		}
		cfg.Crop = &c
	}

	opts.sources = fs.Args()
	if len(opts.sources) == 0 && !opts.save {
		fs.Usage()
		return options{}, errors.New("no input videos given")
	}
	return opts, nil
}

func exitCode(summary domain.BatchSummary, err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case err != nil:
		return exitUsage
	case !summary.Succeeded():
		return exitFailures
	default:
		return exitOK
	}
}
