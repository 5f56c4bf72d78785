package batch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"tinytv-converter/internal/config"
	"tinytv-converter/internal/domain"
)

// fakeInvoker records invocations and returns scripted outcomes.
type fakeInvoker struct {
	mu    sync.Mutex
	calls []domain.Invocation
	run   func(ctx context.Context, inv domain.Invocation, opts RunOptions) Outcome
}

// RunOne delegates to injected behavior.
func (f *fakeInvoker) RunOne(ctx context.Context, tool string, inv domain.Invocation, opts RunOptions) Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.run == nil {
		return Outcome{}
	}
	return f.run(ctx, inv, opts)
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeEnv resolves tools and output dirs without touching the OS.
type fakeEnv struct {
	tool    string
	toolErr error
	dirErr  error
	ensured []string
}

func (f *fakeEnv) EnsureWritable(dir string) error {
	f.ensured = append(f.ensured, dir)
	return f.dirErr
}

func (f *fakeEnv) ResolveTool(name, toolDir string) (string, error) {
	if f.toolErr != nil {
		return "", f.toolErr
	}
	if f.tool == "" {
		return "/usr/bin/" + name, nil
	}
	return f.tool, nil
}

// testConfig returns a normalized configuration writing into dir.
func testConfig(dir string) domain.Configuration {
	cfg := config.DefaultSettings()
	cfg.OutputDir = dir
	return config.Normalize(cfg)
}

func nullLogger() logrus.FieldLogger {
	logger, _ := test.NewNullLogger()
	return logger
}

// mustWriteFile creates parent directory and writes file content.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write file %s: %v", path, err)
	}
}

// argValue returns value for key-style CLI args.
func argValue(args []string, key string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == key {
			return args[i+1]
		}
	}
	return ""
}

// hasArg reports whether args include the target flag.
func hasArg(args []string, key string) bool {
	for _, arg := range args {
		if arg == key {
			return true
		}
	}
	return false
}
