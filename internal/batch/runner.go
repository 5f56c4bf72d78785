package batch

import (
	"context"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"tinytv-converter/internal/domain"
)

// Hooks receive job lifecycle notifications. Calls are serialised; any of
// them may be nil.
type Hooks struct {
	OnJobStart func(job domain.Job)
	OnJobDone  func(result domain.Result)
	OnProgress func(p Progress)
}

// toolResolver finds executables; diagnostics.Checker satisfies it.
type toolResolver interface {
	ResolveTool(name, toolDir string) (string, error)
}

// Runner executes job invocations through an Invoker.
type Runner struct {
	invoker Invoker
	tools   toolResolver
	prober  DurationProber
	stat    func(string) (os.FileInfo, error)
	log     logrus.FieldLogger
}

// NewRunner creates a runner. prober may be nil.
func NewRunner(invoker Invoker, tools toolResolver, prober DurationProber, log logrus.FieldLogger) *Runner {
	return &Runner{
		invoker: invoker,
		tools:   tools,
		prober:  prober,
		stat:    os.Stat,
		log:     log,
	}
}

// Preflight resolves the ffmpeg executable before any job starts.
func (r *Runner) Preflight(cfg domain.Configuration) (string, error) {
	tool, err := r.tools.ResolveTool("ffmpeg", cfg.ToolDir)
	if err != nil {
		return "", &ToolNotFoundError{Tool: "ffmpeg", Err: err}
	}
	return tool, nil
}

// Run executes jobs with at most cfg.Workers concurrent processes. The
// returned slice is index-aligned with jobs. A tool that cannot be started
// aborts the whole batch with *ToolNotFoundError and no results.
func (r *Runner) Run(
	ctx context.Context,
	tool string,
	jobs []domain.Job,
	cfg domain.Configuration,
	hooks Hooks,
) ([]domain.Result, error) {
	results := make([]domain.Result, len(jobs))
	done := make([]bool, len(jobs))
	if len(jobs) == 0 {
		return results, nil
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var (
		emit     sync.Mutex
		wg       sync.WaitGroup
		failOnce sync.Once
		toolErr  error
	)
	notify := func(fn func()) {
		emit.Lock()
		defer emit.Unlock()
		fn()
	}

	queue := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				res, missing := r.runJob(runCtx, tool, jobs[i], cfg, hooks, notify)
				if missing != nil {
					failOnce.Do(func() {
						toolErr = missing
						abort()
					})
					continue
				}
				results[i] = res
				done[i] = true
				if hooks.OnJobDone != nil {
					notify(func() { hooks.OnJobDone(res) })
				}
			}
		}()
	}

dispatch:
	for i := range jobs {
		select {
		case queue <- i:
		case <-runCtx.Done():
			break dispatch
		}
	}
	close(queue)
	wg.Wait()

	if toolErr != nil {
		r.log.WithError(toolErr).Error("ffmpeg could not be started; batch aborted")
		return nil, toolErr
	}

	for i, job := range jobs {
		if done[i] {
			continue
		}
		results[i] = skipped(job, "not started")
		if hooks.OnJobDone != nil {
			res := results[i]
			notify(func() { hooks.OnJobDone(res) })
		}
	}
	return results, nil
}

// runJob converts one job. A non-nil error means the tool itself is missing.
func (r *Runner) runJob(
	ctx context.Context,
	tool string,
	job domain.Job,
	cfg domain.Configuration,
	hooks Hooks,
	notify func(func()),
) (domain.Result, error) {
	if ctx.Err() != nil {
		return skipped(job, "cancelled before start"), nil
	}

	logger := r.log.WithFields(logrus.Fields{
		"job":    job.Ordinal,
		"source": job.Source,
	})
	inv, err := Synthesize(job, cfg)
	if err != nil {
		logger.WithError(err).Warn("job rejected")
		return domain.Result{
			Index:      job.Index,
			Source:     job.Source,
			Output:     job.Output,
			Status:     domain.ResultFailed,
			ErrorCode:  codeOf(err),
			ExitCode:   -1,
			Diagnostic: err.Error(),
		}, nil
	}

	if hooks.OnJobStart != nil {
		notify(func() { hooks.OnJobStart(job) })
	}
	b := budgetFor(ctx, r.prober, r.stat, inv, cfg)
	opts := RunOptions{Timeout: b.timeout}
	if hooks.OnProgress != nil {
		opts.OnLine = func(line string) {
			pos, ok := ParseStatsTime(line)
			if !ok {
				return
			}
			p := Progress{
				Index:    job.Index,
				Source:   job.Source,
				Position: pos,
				Total:    b.media,
				Percent:  percentOf(pos, b.media),
			}
			notify(func() { hooks.OnProgress(p) })
		}
	}

	logger.WithField("timeout", b.timeout).Debug("starting conversion")
	out := r.invoker.RunOne(ctx, tool, inv, opts)
	if out.NotFound {
		return domain.Result{}, &ToolNotFoundError{Tool: tool, Err: out.Err}
	}

	res := domain.Result{
		Index:      job.Index,
		Source:     job.Source,
		Output:     job.Output,
		ExitCode:   out.ExitCode,
		Diagnostic: out.Diagnostic,
		Duration:   out.Duration,
	}
	switch {
	case out.Cancelled:
		res.Status = domain.ResultSkipped
		res.ErrorCode = domain.ErrCodeCancelled
		logger.Info("conversion cancelled")
	case out.Success():
		res.Status = domain.ResultSuccess
		res.Diagnostic = ""
		logger.WithField("elapsed", out.Duration).Info("conversion finished")
	default:
		failure := &ConversionFailure{
			Source:   job.Source,
			ExitCode: out.ExitCode,
			Timeout:  b.timeout,
			TimedOut: out.TimedOut,
			Err:      out.Err,
		}
		res.Status = domain.ResultFailed
		res.ErrorCode = failure.Code()
		if out.TimedOut {
			res.Diagnostic = failure.Error() + "\n" + out.Diagnostic
		}
		logger.WithError(failure).Warn("conversion failed")
	}
	return res, nil
}

// runInvocation executes a prepared invocation, used for the merge step.
func (r *Runner) runInvocation(
	ctx context.Context,
	tool string,
	inv domain.Invocation,
	cfg domain.Configuration,
) (Outcome, budget) {
	b := budgetFor(ctx, r.prober, r.stat, inv, cfg)
	return r.invoker.RunOne(ctx, tool, inv, RunOptions{Timeout: b.timeout}), b
}

func skipped(job domain.Job, reason string) domain.Result {
	return domain.Result{
		Index:      job.Index,
		Source:     job.Source,
		Output:     job.Output,
		Status:     domain.ResultSkipped,
		ErrorCode:  domain.ErrCodeCancelled,
		ExitCode:   -1,
		Diagnostic: reason,
	}
}

// NewRunnerForTests creates a runner with an injectable stat function.
func NewRunnerForTests(
	invoker Invoker,
	tools toolResolver,
	prober DurationProber,
	stat func(string) (os.FileInfo, error),
	log logrus.FieldLogger,
) *Runner {
	return &Runner{invoker: invoker, tools: tools, prober: prober, stat: stat, log: log}
}
