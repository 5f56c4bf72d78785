package batch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"

	"tinytv-converter/internal/domain"
)

const (
	// MaxDiagnosticBytes bounds the captured stderr tail per invocation.
	MaxDiagnosticBytes = 64 * 1024

	defaultWaitDelay = 5 * time.Second
	maxLineBytes     = 4 * 1024
)

// RunOptions tune one invocation.
type RunOptions struct {
	Timeout time.Duration
	// OnLine receives each stderr line, split on CR or LF.
	OnLine func(line string)
}

// Outcome is what happened to one spawned process.
type Outcome struct {
	ExitCode   int
	Diagnostic string
	TimedOut   bool
	Cancelled  bool
	NotFound   bool
	Err        error
	Duration   time.Duration
}

// Success reports a clean zero exit.
func (o Outcome) Success() bool {
	return o.Err == nil && o.ExitCode == 0 && !o.TimedOut && !o.Cancelled && !o.NotFound
}

// Invoker runs one tool invocation to completion.
type Invoker interface {
	RunOne(ctx context.Context, tool string, inv domain.Invocation, opts RunOptions) Outcome
}

// ExecInvoker runs invocations as child processes via os/exec.
type ExecInvoker struct {
	writeFile func(name string, data []byte, perm os.FileMode) error
	remove    func(name string) error
	waitDelay time.Duration
}

// NewExecInvoker creates an invoker backed by the OS.
func NewExecInvoker() *ExecInvoker {
	return &ExecInvoker{
		writeFile: os.WriteFile,
		remove:    os.Remove,
		waitDelay: defaultWaitDelay,
	}
}

// RunOne spawns tool with inv.Args, waits for exit and captures the tail of
// its stderr. The process is killed when ctx ends or the timeout elapses.
func (r *ExecInvoker) RunOne(ctx context.Context, tool string, inv domain.Invocation, opts RunOptions) Outcome {
	start := time.Now()
	if inv.ListFile != nil {
		if err := r.writeFile(inv.ListFile.Path, []byte(inv.ListFile.Content), 0o644); err != nil {
			return Outcome{
				ExitCode:   -1,
				Err:        errors.Wrapf(err, "write list file %s", inv.ListFile.Path),
				Diagnostic: err.Error(),
				Duration:   time.Since(start),
			}
		}
		defer func() { _ = r.remove(inv.ListFile.Path) }()
	}

	runCtx, cancel := context.WithCancel(ctx)
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	tail := newTailBuffer(MaxDiagnosticBytes)
	cmd := exec.CommandContext(runCtx, tool, inv.Args...)
	cmd.Dir = inv.Dir
	cmd.WaitDelay = r.waitDelay
	if opts.OnLine != nil {
		cmd.Stderr = &teeLines{dst: tail, onLine: opts.OnLine}
	} else {
		cmd.Stderr = tail
	}

	err := cmd.Run()
	out := Outcome{
		Diagnostic: tail.String(),
		Duration:   time.Since(start),
	}
	if err == nil {
		return out
	}

	out.Err = err
	out.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
	}

	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist) && exitErr == nil:
		out.NotFound = true
	case ctx.Err() != nil:
		out.Cancelled = true
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		out.TimedOut = true
	}
	if out.Diagnostic == "" {
		out.Diagnostic = err.Error()
	}
	return out
}

// tailBuffer keeps only the last max bytes written to it.
type tailBuffer struct {
	mu      sync.Mutex
	max     int
	buf     []byte
	dropped int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.dropped += over
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dropped == 0 {
		return string(t.buf)
	}
	return fmt.Sprintf("[... %d earlier bytes dropped]\n%s", t.dropped, t.buf)
}

// teeLines copies writes to dst and reports completed lines to onLine.
type teeLines struct {
	dst     *tailBuffer
	onLine  func(string)
	partial []byte
}

func (w *teeLines) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	for _, c := range p {
		if c == '\r' || c == '\n' {
			if len(w.partial) > 0 {
				w.onLine(string(w.partial))
				w.partial = w.partial[:0]
			}
			continue
		}
		if len(w.partial) < maxLineBytes {
			w.partial = append(w.partial, c)
		}
	}
	return n, err
}

// NewExecInvokerForTests creates an invoker with injectable file operations.
func NewExecInvokerForTests(
	writeFile func(name string, data []byte, perm os.FileMode) error,
	remove func(name string) error,
	waitDelay time.Duration,
) *ExecInvoker {
	return &ExecInvoker{writeFile: writeFile, remove: remove, waitDelay: waitDelay}
}
