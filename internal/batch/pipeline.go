package batch

import (
	"context"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"tinytv-converter/internal/config"
	"tinytv-converter/internal/domain"
)

// Environment prepares directories and locates tools.
// diagnostics.Checker is the production implementation.
type Environment interface {
	dirChecker
	toolResolver
}

// Request contains the sources, options and callbacks of one run.
type Request struct {
	Sources    []string
	Config     domain.Configuration
	OnJobStart func(job domain.Job)
	OnJobDone  func(result domain.Result)
	OnProgress func(p Progress)
	// OnMerge is called with started=true before the merge and with its
	// result afterwards.
	OnMerge func(started bool, result *domain.Result)
}

// Pipeline runs build, convert and report for one batch.
type Pipeline struct {
	builder  *Builder
	runner   *Runner
	reporter *Reporter
	log      logrus.FieldLogger
	newID    func() string
	now      func() time.Time
}

// NewPipeline wires the pipeline stages. prober may be nil.
func NewPipeline(env Environment, invoker Invoker, prober DurationProber, log logrus.FieldLogger) *Pipeline {
	runner := NewRunner(invoker, env, prober, log)
	return &Pipeline{
		builder:  NewBuilder(env),
		runner:   runner,
		reporter: NewReporter(runner, log),
		log:      log,
		newID:    func() string { return xid.New().String() },
		now:      time.Now,
	}
}

// Run executes the whole batch and blocks until every child process has
// exited. The summary is always populated; the error is non-nil only for
// run-level aborts (configuration, missing tool, cancellation).
func (p *Pipeline) Run(ctx context.Context, req Request) (domain.BatchSummary, error) {
	cfg := config.Normalize(req.Config)
	runID := p.newID()
	started := p.now()
	logger := p.log.WithField("run", runID)

	finish := func(summary domain.BatchSummary, err error) (domain.BatchSummary, error) {
		summary.RunID = runID
		summary.StartedAt = started
		summary.FinishedAt = p.now()
		if summary.Results == nil {
			summary.Results = []domain.Result{}
		}
		if summary.Failures == nil {
			summary.Failures = []domain.Failure{}
		}
		if err != nil {
			summary.Error = runErrorOf(err)
			logger.WithError(err).Warn("batch aborted")
		}
		return summary, err
	}

	jobs, err := p.builder.Build(req.Sources, cfg)
	if err != nil {
		return finish(domain.BatchSummary{}, err)
	}
	tool, err := p.runner.Preflight(cfg)
	if err != nil {
		return finish(domain.BatchSummary{}, err)
	}

	logger.WithFields(logrus.Fields{
		"jobs":      len(jobs),
		"workers":   cfg.Workers,
		"preset":    cfg.Preset,
		"container": cfg.Container,
	}).Info("batch started")

	results, err := p.runner.Run(ctx, tool, jobs, cfg, Hooks{
		OnJobStart: req.OnJobStart,
		OnJobDone:  req.OnJobDone,
		OnProgress: req.OnProgress,
	})
	if err != nil {
		return finish(domain.BatchSummary{}, err)
	}

	summary := p.reporter.Summarize(ctx, tool, results, cfg, req.OnMerge)
	if summary.Cancelled {
		return finish(summary, ErrCancelled)
	}

	logger.WithFields(logrus.Fields{
		"succeeded": summary.SuccessCount,
		"failed":    summary.FailureCount,
		"skipped":   summary.SkippedCount,
	}).Info("batch finished")
	return finish(summary, nil)
}

// NewPipelineForTests wires a pipeline with deterministic ids and clock.
func NewPipelineForTests(
	env Environment,
	invoker Invoker,
	prober DurationProber,
	log logrus.FieldLogger,
	newID func() string,
	now func() time.Time,
) *Pipeline {
	p := NewPipeline(env, invoker, prober, log)
	p.newID = newID
	p.now = now
	return p
}
