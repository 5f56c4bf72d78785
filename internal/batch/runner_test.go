package batch

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"tinytv-converter/internal/domain"
)

func makeJobs(t *testing.T, dir string, sources ...string) []domain.Job {
	t.Helper()
	jobs, err := NewBuilder(&fakeEnv{}).Build(sources, testConfig(dir))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return jobs
}

// TestRunnerPreservesOrderWithWorkers verifies results stay index-aligned and
// concurrency stays within the worker bound.
func TestRunnerPreservesOrderWithWorkers(t *testing.T) {
	dir := t.TempDir()
	jobs := makeJobs(t, dir, "a.mov", "b.mov", "c.mov", "d.mov", "e.mov", "f.mov")
	cfg := testConfig(dir)
	cfg.Workers = 3

	var active, peak int32
	invoker := &fakeInvoker{
		run: func(ctx context.Context, inv domain.Invocation, opts RunOptions) Outcome {
			n := atomic.AddInt32(&active, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Duration(len(inv.Output)%3) * 5 * time.Millisecond)
			atomic.AddInt32(&active, -1)
			return Outcome{}
		},
	}

	var doneOrder []int
	runner := NewRunner(invoker, &fakeEnv{}, nil, nullLogger())
	results, err := runner.Run(context.Background(), "ffmpeg", jobs, cfg, Hooks{
		OnJobDone: func(res domain.Result) { doneOrder = append(doneOrder, res.Index) },
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != len(jobs) {
		t.Fatalf("results = %d, want %d", len(results), len(jobs))
	}
	for i, res := range results {
		if res.Index != i || res.Source != jobs[i].Source || res.Status != domain.ResultSuccess {
			t.Fatalf("result %d = %+v", i, res)
		}
	}
	if peak > 3 {
		t.Fatalf("peak concurrency = %d, want <= 3", peak)
	}
	if len(doneOrder) != len(jobs) {
		t.Fatalf("done callbacks = %d, want %d", len(doneOrder), len(jobs))
	}
}

// TestRunnerSynthesisFailureDoesNotSpawn verifies unsupported inputs never reach the invoker.
func TestRunnerSynthesisFailureDoesNotSpawn(t *testing.T) {
	dir := t.TempDir()
	jobs := makeJobs(t, dir, "a.mov", "bad.txt")
	invoker := &fakeInvoker{}

	results, err := NewRunner(invoker, &fakeEnv{}, nil, nullLogger()).
		Run(context.Background(), "ffmpeg", jobs, testConfig(dir), Hooks{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if invoker.callCount() != 1 {
		t.Fatalf("invocations = %d, want 1", invoker.callCount())
	}
	if results[1].Status != domain.ResultFailed || results[1].ErrorCode != domain.ErrCodeUnsupportedInput {
		t.Fatalf("bad.txt result = %+v", results[1])
	}
}

// TestRunnerClassifiesFailures verifies exit codes and timeouts become Failed results.
func TestRunnerClassifiesFailures(t *testing.T) {
	dir := t.TempDir()
	jobs := makeJobs(t, dir, "a.mov", "b.mov")
	invoker := &fakeInvoker{
		run: func(ctx context.Context, inv domain.Invocation, opts RunOptions) Outcome {
			if inv.Inputs[0] == "a.mov" {
				return Outcome{ExitCode: 1, Err: errors.New("exit status 1"), Diagnostic: "a.mov: Invalid data found"}
			}
			return Outcome{ExitCode: -1, TimedOut: true, Err: errors.New("signal: killed"), Diagnostic: "frame=  10"}
		},
	}

	results, err := NewRunner(invoker, &fakeEnv{}, nil, nullLogger()).
		Run(context.Background(), "ffmpeg", jobs, testConfig(dir), Hooks{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if results[0].ErrorCode != domain.ErrCodeConversionFailed || results[0].ExitCode != 1 {
		t.Fatalf("a.mov result = %+v", results[0])
	}
	if results[0].Diagnostic != "a.mov: Invalid data found" {
		t.Fatalf("a.mov diagnostic = %q", results[0].Diagnostic)
	}
	if results[1].ErrorCode != domain.ErrCodeTimeout || results[1].Status != domain.ResultFailed {
		t.Fatalf("b.mov result = %+v", results[1])
	}
}

// TestRunnerToolMissingAbortsBatch verifies a missing executable fails the run as a whole.
func TestRunnerToolMissingAbortsBatch(t *testing.T) {
	dir := t.TempDir()
	jobs := makeJobs(t, dir, "a.mov", "b.mov", "c.mov")
	invoker := &fakeInvoker{
		run: func(ctx context.Context, inv domain.Invocation, opts RunOptions) Outcome {
			return Outcome{ExitCode: -1, NotFound: true, Err: os.ErrNotExist}
		},
	}

	results, err := NewRunner(invoker, &fakeEnv{}, nil, nullLogger()).
		Run(context.Background(), "/gone/ffmpeg", jobs, testConfig(dir), Hooks{})
	var notFound *ToolNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want ToolNotFoundError", err)
	}
	if results != nil {
		t.Fatalf("results = %+v, want none", results)
	}
	if invoker.callCount() != 1 {
		t.Fatalf("invocations = %d, want 1", invoker.callCount())
	}
}

// TestRunnerPreflight verifies tool resolution failures are typed.
func TestRunnerPreflight(t *testing.T) {
	runner := NewRunner(&fakeInvoker{}, &fakeEnv{toolErr: errors.New("not on PATH")}, nil, nullLogger())
	_, err := runner.Preflight(testConfig(t.TempDir()))
	var notFound *ToolNotFoundError
	if !errors.As(err, &notFound) || notFound.Code() != domain.ErrCodeToolNotFound {
		t.Fatalf("error = %v, want ToolNotFoundError", err)
	}

	tool, err := NewRunner(&fakeInvoker{}, &fakeEnv{tool: "/opt/ff/ffmpeg"}, nil, nullLogger()).
		Preflight(testConfig(t.TempDir()))
	if err != nil || tool != "/opt/ff/ffmpeg" {
		t.Fatalf("Preflight() = %q, %v", tool, err)
	}
}

// TestRunnerCancelSkipsRemaining verifies cancel kills the running job and skips the rest.
func TestRunnerCancelSkipsRemaining(t *testing.T) {
	dir := t.TempDir()
	jobs := makeJobs(t, dir, "a.mov", "b.mov", "c.mov")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	invoker := &fakeInvoker{
		run: func(ctx context.Context, inv domain.Invocation, opts RunOptions) Outcome {
			if inv.Inputs[0] == "a.mov" {
				return Outcome{}
			}
			cancel()
			<-ctx.Done()
			return Outcome{ExitCode: -1, Cancelled: true, Err: ctx.Err()}
		},
	}

	results, err := NewRunner(invoker, &fakeEnv{}, nil, nullLogger()).
		Run(ctx, "ffmpeg", jobs, testConfig(dir), Hooks{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	want := []domain.ResultStatus{domain.ResultSuccess, domain.ResultSkipped, domain.ResultSkipped}
	for i, status := range want {
		if results[i].Status != status {
			t.Fatalf("result %d status = %q, want %q", i, results[i].Status, status)
		}
	}
	if results[2].ErrorCode != domain.ErrCodeCancelled {
		t.Fatalf("unstarted job code = %q", results[2].ErrorCode)
	}
	if invoker.callCount() != 2 {
		t.Fatalf("invocations = %d, want 2", invoker.callCount())
	}
}

// TestRunnerReportsProgress verifies stats lines become progress events.
func TestRunnerReportsProgress(t *testing.T) {
	dir := t.TempDir()
	jobs := makeJobs(t, dir, "a.mov")
	invoker := &fakeInvoker{
		run: func(ctx context.Context, inv domain.Invocation, opts RunOptions) Outcome {
			opts.OnLine("frame=   12 fps=0.0 q=16.0 size=  100kB time=00:00:30.00 bitrate=N/A")
			opts.OnLine("unrelated warning")
			return Outcome{}
		},
	}

	var updates []Progress
	_, err := NewRunner(invoker, &fakeEnv{}, fixedProber(time.Minute), nullLogger()).
		Run(context.Background(), "ffmpeg", jobs, testConfig(dir), Hooks{
			OnProgress: func(p Progress) { updates = append(updates, p) },
		})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("progress updates = %d, want 1", len(updates))
	}
	if updates[0].Position != 30*time.Second || updates[0].Percent != 50 {
		t.Fatalf("progress = %+v", updates[0])
	}
}

// TestRunnerTimeoutFromConfiguration verifies an explicit timeout is passed through.
func TestRunnerTimeoutFromConfiguration(t *testing.T) {
	dir := t.TempDir()
	jobs := makeJobs(t, dir, "a.mov")
	cfg := testConfig(dir)
	cfg.TimeoutSeconds = 90

	var got time.Duration
	invoker := &fakeInvoker{
		run: func(ctx context.Context, inv domain.Invocation, opts RunOptions) Outcome {
			got = opts.Timeout
			return Outcome{}
		},
	}
	if _, err := NewRunner(invoker, &fakeEnv{}, nil, nullLogger()).
		Run(context.Background(), "ffmpeg", jobs, cfg, Hooks{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got != 90*time.Second {
		t.Fatalf("timeout = %s, want 90s", got)
	}
}

// fixedProber reports the same duration for every file.
type fixedProber time.Duration

func (f fixedProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return time.Duration(f), nil
}
