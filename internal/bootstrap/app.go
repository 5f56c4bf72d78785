package bootstrap

import (
	"context"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"tinytv-converter/internal/batch"
	"tinytv-converter/internal/config"
	"tinytv-converter/internal/diagnostics"
	"tinytv-converter/internal/domain"
	"tinytv-converter/internal/estimate"
	"tinytv-converter/internal/jobs"
	"tinytv-converter/internal/logging"
	"tinytv-converter/internal/probe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// App wires configuration, batch state, the pipeline and UI runtime callbacks.
type App struct {
	Settings    domain.Configuration
	Store       config.Store
	Jobs        *jobs.Manager
	Pipeline    pipelineRunner
	Diagnostics domain.DiagnosticReport
	assets      fs.FS
	checker     *diagnostics.Checker
	calibrator  *estimate.Calibrator
	log         logrus.FieldLogger

	mu            sync.Mutex
	activeBatchID string
	cancel        context.CancelFunc
	lastSummary   *domain.BatchSummary
	events        *jobs.EventBus
	runtimeCtx    context.Context
}

// pipelineRunner isolates the batch pipeline behind an interface.
type pipelineRunner interface {
	Run(ctx context.Context, req batch.Request) (domain.BatchSummary, error)
	Combine(ctx context.Context, req batch.CombineRequest) (domain.Result, error)
	Thumbnail(ctx context.Context, source string, cfg domain.Configuration) ([]byte, error)
	estimate.Sampler
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.Wrap(err, "resolve user home")
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, errors.Wrap(err, "prepare local tool path")
	}

	var out io.Writer = os.Stderr
	if file, err := logging.FileOutput(config.AppDir(homeDir), "tinytv-converter.log"); err == nil {
		out = io.MultiWriter(os.Stderr, file)
	}
	logger, err := logging.New(os.Getenv("TINYTV_LOG_LEVEL"), out)
	if err != nil {
		return nil, errors.Wrap(err, "configure logging")
	}

	store := config.NewJSONStore(config.SettingsPath(homeDir))
	settings, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings)

	app := &App{
		Settings:    settings,
		Store:       store,
		Jobs:        jobs.NewManager(),
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		log:         logger,
		events:      jobs.NewEventBus(1000),
	}
	pipeline := batch.NewPipeline(checker, batch.NewExecInvoker(), settingsProber{app: app}, logger)
	app.Pipeline = pipeline
	app.calibrator = estimate.NewCalibrator(pipeline)
	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "TinyTV Converter",
		Width:       1100,
		Height:      760,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			cancel := a.cancel
			a.runtimeCtx = nil
			a.mu.Unlock()
			if cancel != nil {
				cancel()
			}
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Configuration, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Configuration{}, errors.Wrap(err, "load settings")
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes, validates and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Configuration) (domain.Configuration, error) {
	normalized := config.Normalize(settings)
	if err := config.Validate(normalized); err != nil {
		return domain.Configuration{}, err
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Configuration{}, errors.Wrap(err, "save settings")
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized)
	}
	a.mu.Unlock()

	return normalized, nil
}

// PickInputFiles opens a native multi-file dialog for video selection.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select videos",
		Filters: videoDialogFilter(),
	})
	if err != nil {
		return nil, err
	}

	return lo.Uniq(lo.FilterMap(paths, func(path string, _ int) (string, bool) {
		path = strings.TrimSpace(path)
		return path, path != ""
	})), nil
}

// PickOutputDirectory opens a native directory picker for converted videos.
func (a *App) PickOutputDirectory() (string, error) {
	return a.pickDirectory("Select output directory")
}

// PickToolDirectory opens a native directory picker for a folder holding ffmpeg.
func (a *App) PickToolDirectory() (string, error) {
	return a.pickDirectory("Select ffmpeg folder")
}

func (a *App) pickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: title,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or configured output dir) in file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.Settings.OutputDir
		a.mu.Unlock()
	}
	if target == "" {
		return errors.New("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return errors.Wrap(err, "resolve output path")
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, errors.Wrap(err, "load settings")
	}

	report := a.checker.Run(settings)
	a.mu.Lock()
	a.Settings = settings
	a.Diagnostics = report
	a.mu.Unlock()
	return report, nil
}

// InspectFiles describes each path for the file list: size, MIME type,
// duration, whether it can be converted and the expected output size with
// the current settings.
func (a *App) InspectFiles(paths []string) []domain.SourceInfo {
	a.mu.Lock()
	settings := a.Settings
	a.mu.Unlock()

	prober := a.prober(settings)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	return lo.Map(paths, func(path string, _ int) domain.SourceInfo {
		info := prober.Inspect(ctx, path)
		info.Supported = batch.IsSupported(path)
		if info.Supported && info.DurationSeconds > 0 {
			duration := time.Duration(info.DurationSeconds * float64(time.Second))
			info.EstimatedBytes = estimate.Bytes(duration, settings)
		}
		return info
	})
}

// StartBatch converts sources with the stored settings in the background.
func (a *App) StartBatch(sources []string) (domain.Batch, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Batch{}, errors.Wrap(err, "load settings")
	}
	if len(sources) == 0 {
		return domain.Batch{}, errors.New("no videos selected")
	}

	batchID, ctx, err := a.beginRun(len(sources), settings, "Batch started")
	if err != nil {
		return domain.Batch{}, err
	}

	go a.runBatch(ctx, batchID, append([]string(nil), sources...), settings)
	return a.Jobs.Current(), nil
}

// beginRun registers a new active run of total jobs and returns its id and
// cancellable context.
func (a *App) beginRun(total int, settings domain.Configuration, message string) (string, context.Context, error) {
	batchID := xid.New().String()
	if err := a.Jobs.Start(batchID, total); err != nil {
		return "", nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.activeBatchID = batchID
	a.cancel = cancel
	a.Settings = settings
	a.mu.Unlock()

	a.publishStatus(batchID, domain.BatchStatusConverting, message)
	return batchID, ctx, nil
}

// CancelBatch requests cancellation of the running batch, if any. The batch
// stays in cancelling until its pipeline has stopped every child process.
func (a *App) CancelBatch() error {
	a.mu.Lock()
	cancel := a.cancel
	activeBatchID := a.activeBatchID
	a.mu.Unlock()

	if cancel == nil {
		return jobs.ErrNoRunningBatch
	}

	cancel()
	if err := a.Jobs.Cancel(); err != nil {
		if errors.Is(err, jobs.ErrNoRunningBatch) {
			return nil
		}
		return err
	}

	a.publishStatus(activeBatchID, domain.BatchStatusCancelling, "Cancellation requested")
	return nil
}

// CurrentBatch returns current batch metadata and status.
func (a *App) CurrentBatch() domain.Batch {
	return a.Jobs.Current()
}

// BatchEvents returns all events with sequence greater than sinceSeq.
func (a *App) BatchEvents(sinceSeq int64) []jobs.Event {
	return a.events.Since(sinceSeq)
}

// LastSummary returns the report of the most recent finished batch, or nil.
func (a *App) LastSummary() *domain.BatchSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.lastSummary == nil {
		return nil
	}
	summary := *a.lastSummary
	return &summary
}

// runBatch executes the pipeline and maps its callbacks to batch events.
func (a *App) runBatch(ctx context.Context, batchID string, sources []string, settings domain.Configuration) {
	defer a.clearActiveBatch(batchID)

	req := batch.Request{
		Sources: sources,
		Config:  settings,
		OnJobStart: func(job domain.Job) {
			a.publishEvent(jobs.Event{
				BatchID: batchID,
				Type:    jobs.EventTypeJobStart,
				Message: "Converting " + filepath.Base(job.Source),
				Index:   job.Index,
				Source:  job.Source,
				Output:  job.Output,
			})
		},
		OnJobDone: func(result domain.Result) {
			a.Jobs.JobFinished(batchID)
			res := result
			a.publishEvent(jobs.Event{
				BatchID:   batchID,
				Type:      jobs.EventTypeJobDone,
				Message:   string(result.Status),
				Index:     result.Index,
				Source:    result.Source,
				Output:    result.Output,
				Result:    &res,
				ErrorCode: result.ErrorCode,
			})
		},
		OnProgress: func(p batch.Progress) {
			a.publishEvent(jobs.Event{
				BatchID: batchID,
				Type:    jobs.EventTypeProgress,
				Index:   p.Index,
				Source:  p.Source,
				Percent: p.Percent,
			})
		},
		OnMerge: func(started bool, result *domain.Result) {
			if started {
				a.finishStage(batchID, domain.BatchStatusMerging, "Merging converted videos")
				return
			}
			event := jobs.Event{
				BatchID: batchID,
				Type:    jobs.EventTypeMerge,
				Result:  result,
			}
			if result != nil {
				event.Message = string(result.Status)
				event.Output = result.Output
				event.ErrorCode = result.ErrorCode
			}
			a.publishEvent(event)
		},
	}

	summary, err := a.Pipeline.Run(ctx, req)
	a.logger().WithFields(logrus.Fields{
		"batch":   batchID,
		"success": summary.SuccessCount,
		"failed":  summary.FailureCount,
		"skipped": summary.SkippedCount,
	}).Info("batch finished")

	a.mu.Lock()
	a.lastSummary = &summary
	a.mu.Unlock()
	a.publishEvent(jobs.Event{
		BatchID: batchID,
		Type:    jobs.EventTypeSummary,
		Message: summaryMessage(summary),
		Summary: &summary,
	})

	switch {
	case errors.Is(err, context.Canceled) || summary.Cancelled:
		a.finishStage(batchID, domain.BatchStatusCancelled, "Batch cancelled")
	case err != nil:
		if !a.finishStage(batchID, domain.BatchStatusFailed, "Batch failed") {
			return
		}
		event := jobs.Event{
			BatchID: batchID,
			Type:    jobs.EventTypeError,
			Status:  domain.BatchStatusFailed,
			Message: err.Error(),
		}
		if summary.Error != nil {
			event.ErrorCode = summary.Error.Code
		}
		a.publishEvent(event)
	case !summary.Succeeded():
		a.finishStage(batchID, domain.BatchStatusFailed, "Batch finished with failures")
	default:
		a.finishStage(batchID, domain.BatchStatusDone, "Batch completed")
	}
}

// finishStage moves batchID to status and announces it. It reports false when
// the batch is no longer current or the move is not allowed.
func (a *App) finishStage(batchID string, status domain.BatchStatus, message string) bool {
	if err := a.Jobs.Transition(batchID, status); err != nil {
		a.logger().WithFields(logrus.Fields{
			"batch":  batchID,
			"status": status,
		}).WithError(err).Debug("batch transition skipped")
		return false
	}
	a.publishStatus(batchID, status, message)
	return true
}

// summaryMessage renders the one-line outcome shown in the log panel.
func summaryMessage(s domain.BatchSummary) string {
	var b strings.Builder
	b.WriteString(pluralize(s.SuccessCount, "video") + " converted")
	if s.FailureCount > 0 {
		b.WriteString(", " + pluralize(s.FailureCount, "failure"))
	}
	if s.SkippedCount > 0 {
		b.WriteString(", " + pluralize(s.SkippedCount, "skipped job"))
	}
	if s.Merge != nil {
		b.WriteString(", merge " + string(s.Merge.Status))
	}
	return b.String()
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return lo.Ternary(n == 0, "no ", strconv.Itoa(n)+" ") + noun + "s"
}

// publishStatus sends a normalized status event.
func (a *App) publishStatus(batchID string, status domain.BatchStatus, message string) {
	a.publishEvent(jobs.Event{
		BatchID: batchID,
		Type:    jobs.EventTypeStatus,
		Status:  status,
		Message: message,
	})
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event jobs.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "batch:event", published)
	}
}

// clearActiveBatch clears cancellation handles for completed batch IDs.
func (a *App) clearActiveBatch(batchID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.activeBatchID == batchID {
		a.activeBatchID = ""
		a.cancel = nil
	}
}

func (a *App) logger() logrus.FieldLogger {
	if a.log == nil {
		return logrus.StandardLogger()
	}
	return a.log
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, errors.New("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// prober returns an ffprobe client for the tools configured in settings.
func (a *App) prober(settings domain.Configuration) *probe.Prober {
	if a.checker == nil {
		return probe.New("")
	}
	ffmpeg, _ := a.checker.ResolveTool("ffmpeg", settings.ToolDir)
	return probe.New(a.checker.ProbePathFor(ffmpeg, settings.ToolDir))
}

// settingsProber resolves ffprobe against the current settings on every call,
// so a tool folder chosen after startup is honoured.
type settingsProber struct {
	app *App
}

func (p settingsProber) Duration(ctx context.Context, path string) (time.Duration, error) {
	return p.current().Duration(ctx, path)
}

func (p settingsProber) Streams(ctx context.Context, path string) (bool, time.Duration, error) {
	return p.current().Streams(ctx, path)
}

func (p settingsProber) current() *probe.Prober {
	p.app.mu.Lock()
	settings := p.app.Settings
	p.app.mu.Unlock()
	return p.app.prober(settings)
}

// videoDialogFilter lists the accepted extensions for the native picker.
func videoDialogFilter() []wailsruntime.FileFilter {
	patterns := lo.Map(batch.VideoExtensions(), func(ext string, _ int) string {
		return "*" + ext
	})
	return []wailsruntime.FileFilter{
		{
			DisplayName: "Videos",
			Pattern:     strings.Join(patterns, ";"),
		},
		{
			DisplayName: "All files",
			Pattern:     "*",
		},
	}
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	return errors.Wrap(cmd.Start(), "launch file manager")
}
