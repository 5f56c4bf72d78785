package batch

import (
	"context"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"tinytv-converter/internal/domain"
)

// Reporter aggregates results and performs the optional merge.
type Reporter struct {
	runner *Runner
	log    logrus.FieldLogger
}

// NewReporter creates a reporter that merges through runner.
func NewReporter(runner *Runner, log logrus.FieldLogger) *Reporter {
	return &Reporter{runner: runner, log: log}
}

// Summarize counts results, lists failed jobs in input order and, when
// cfg.Merge is set, concatenates the successful outputs. The merge is skipped
// when nothing succeeded or ctx is already cancelled.
func (r *Reporter) Summarize(
	ctx context.Context,
	tool string,
	results []domain.Result,
	cfg domain.Configuration,
	onMerge func(started bool, result *domain.Result),
) domain.BatchSummary {
	summary := domain.BatchSummary{
		Results:      results,
		SuccessCount: lo.CountBy(results, isStatus(domain.ResultSuccess)),
		FailureCount: lo.CountBy(results, isStatus(domain.ResultFailed)),
		SkippedCount: lo.CountBy(results, isStatus(domain.ResultSkipped)),
		Failures: lo.FilterMap(results, func(res domain.Result, _ int) (domain.Failure, bool) {
			if res.Status != domain.ResultFailed {
				return domain.Failure{}, false
			}
			return domain.Failure{
				Index:  res.Index,
				Source: res.Source,
				Code:   res.ErrorCode,
				Reason: failureReason(res.Diagnostic),
			}, true
		}),
		Cancelled: ctx.Err() != nil,
	}

	if !cfg.Merge || summary.Cancelled || summary.SuccessCount == 0 {
		if cfg.Merge {
			r.log.WithFields(logrus.Fields{
				"succeeded": summary.SuccessCount,
				"cancelled": summary.Cancelled,
			}).Info("merge skipped")
		}
		return summary
	}

	outputs := lo.FilterMap(results, func(res domain.Result, _ int) (string, bool) {
		return res.Output, res.Status == domain.ResultSuccess
	})
	summary.MergeAttempted = true
	if onMerge != nil {
		onMerge(true, nil)
	}
	merge := r.merge(ctx, tool, outputs, cfg)
	summary.Merge = &merge
	if merge.Status == domain.ResultSkipped {
		summary.Cancelled = true
	}
	if onMerge != nil {
		onMerge(false, summary.Merge)
	}
	return summary
}

func (r *Reporter) merge(ctx context.Context, tool string, outputs []string, cfg domain.Configuration) domain.Result {
	res := domain.Result{Index: -1, Output: MergeOutput(cfg)}
	inv, err := SynthesizeMerge(MergeInputs(ctx, r.runner.prober, outputs), cfg)
	if err != nil {
		res.Status = domain.ResultFailed
		res.ErrorCode = domain.ErrCodeMergeFailed
		res.ExitCode = -1
		res.Diagnostic = err.Error()
		return res
	}

	logger := r.log.WithFields(logrus.Fields{
		"output": inv.Output,
		"inputs": len(outputs),
	})
	logger.Info("merging outputs")
	out, b := r.runner.runInvocation(ctx, tool, inv, cfg)
	res.ExitCode = out.ExitCode
	res.Duration = out.Duration
	res.Diagnostic = out.Diagnostic

	switch {
	case out.Cancelled:
		res.Status = domain.ResultSkipped
		res.ErrorCode = domain.ErrCodeCancelled
		logger.Info("merge cancelled")
	case out.Success():
		res.Status = domain.ResultSuccess
		res.Diagnostic = ""
		logger.WithField("elapsed", out.Duration).Info("merge finished")
	default:
		failure := &MergeFailure{
			Output:   inv.Output,
			ExitCode: out.ExitCode,
			TimedOut: out.TimedOut,
			Err:      out.Err,
		}
		res.Status = domain.ResultFailed
		res.ErrorCode = failure.Code()
		if out.TimedOut || out.NotFound {
			res.Diagnostic = failure.Error() + "\n" + out.Diagnostic
		}
		logger.WithError(failure).WithField("timeout", b.timeout).Warn("merge failed")
	}
	return res
}

func isStatus(status domain.ResultStatus) func(domain.Result) bool {
	return func(res domain.Result) bool { return res.Status == status }
}

// failureReason returns the last non-empty line of a diagnostic, which is
// where ffmpeg reports the fatal error.
func failureReason(diag string) string {
	lines := lo.FilterMap(strings.FieldsFunc(diag, func(c rune) bool { return c == '\n' || c == '\r' }),
		func(line string, _ int) (string, bool) {
			line = strings.TrimSpace(line)
			return line, line != ""
		})
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
