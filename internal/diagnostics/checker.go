package diagnostics

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"

	"tinytv-converter/internal/domain"
)

// ErrToolNotFound is returned when a tool is neither in the tool dir nor on PATH.
var ErrToolNotFound = errors.New("tool not found")

const versionTimeout = 10 * time.Second

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	version    func(ctx context.Context, tool string) (string, error)
	bundleDir  string
}

// NewChecker builds a checker using real OS dependencies. Executables placed
// in a bin directory next to the application binary are preferred over PATH.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		version:    toolVersion,
		bundleDir:  bundledBinDir(),
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Configuration) domain.DiagnosticReport {
	ffmpeg := c.checkTool("ffmpeg", settings.ToolDir, "")
	ffprobe := c.checkTool("ffprobe", settings.ToolDir, ffmpeg.Path)
	items := []domain.DiagnosticItem{
		ffmpeg,
		ffprobe,
		c.checkOutputDir(settings.OutputDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.ID == "tool_ffprobe" {
			// ffprobe only feeds timeouts and size estimates.
			continue
		}
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// ResolveTool returns the executable path for name. Lookup order: the
// configured tool dir, the bundled bin dir, PATH.
func (c *Checker) ResolveTool(name, toolDir string) (string, error) {
	for _, dir := range []string{strings.TrimSpace(toolDir), c.bundleDir} {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, executableName(name))
		if info, err := c.stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	path, err := c.lookPath(name)
	if err != nil {
		return "", errors.Wrapf(ErrToolNotFound, "%s: %v", name, err)
	}
	return path, nil
}

// ProbePathFor derives the ffprobe path that ships next to an ffmpeg binary,
// falling back to resolving ffprobe normally.
func (c *Checker) ProbePathFor(ffmpegPath, toolDir string) string {
	if ffmpegPath != "" {
		base := strings.ToLower(filepath.Base(ffmpegPath))
		if strings.HasPrefix(base, "ffmpeg") {
			candidate := filepath.Join(filepath.Dir(ffmpegPath), strings.Replace(base, "ffmpeg", "ffprobe", 1))
			if info, err := c.stat(candidate); err == nil && !info.IsDir() {
				return candidate
			}
		}
	}
	if path, err := c.ResolveTool("ffprobe", toolDir); err == nil {
		return path
	}
	return "ffprobe"
}

// EnsureWritable creates dir when missing and verifies a file can be
// created inside it. The probe file is removed before returning.
func (c *Checker) EnsureWritable(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("output directory is empty")
	}
	if err := c.mkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create output directory %s", dir)
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		return errors.Wrapf(err, "output directory is not writable: %s", dir)
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)
	return nil
}

// checkTool verifies a required CLI executable resolves and answers -version.
func (c *Checker) checkTool(name, toolDir, ffmpegPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "tool_" + name,
		Name: name,
	}

	var path string
	var err error
	if name == "ffprobe" && ffmpegPath != "" {
		path = c.ProbePathFor(ffmpegPath, toolDir)
		if path == "ffprobe" {
			path, err = c.ResolveTool(name, toolDir)
		}
	} else {
		path, err = c.ResolveTool(name, toolDir)
	}
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found: %s", name)
		item.Hint = "Install ffmpeg globally (and add it to PATH) or place the executable in the configured tools folder."
		return item
	}

	item.Path = path
	if c.version != nil {
		ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
		defer cancel()
		firstLine, err := c.version(ctx, path)
		if err != nil {
			item.Status = domain.DiagnosticStatusFail
			item.Message = fmt.Sprintf("Found at %s but it does not run: %v", path, err)
			item.Hint = "Replace the executable with a working build for this platform."
			return item
		}
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Found at %s (%s)", path, firstLine)
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkOutputDir validates output directory existence and write access.
func (c *Checker) checkOutputDir(outputDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "output_dir",
		Name: "Output directory",
		Path: outputDir,
	}

	if err := c.EnsureWritable(outputDir); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = err.Error()
		item.Hint = "Choose a writable folder for converted videos."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", outputDir)
	return item
}

// toolVersion runs `<tool> -version` and returns the first output line.
func toolVersion(ctx context.Context, tool string) (string, error) {
	out, err := exec.CommandContext(ctx, tool, "-version").Output()
	if err != nil {
		return "", err
	}
	firstLine, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(firstLine), nil
}

func executableName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

func bundledBinDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Join(filepath.Dir(exe), "bin")
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}
