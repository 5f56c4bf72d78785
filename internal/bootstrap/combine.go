package bootstrap

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"tinytv-converter/internal/batch"
	"tinytv-converter/internal/domain"
	"tinytv-converter/internal/jobs"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

const (
	previewTimeout  = time.Minute
	estimateTimeout = 3 * time.Minute
)

// StartCombine joins existing videos, in the given order, into output at fps
// (0 keeps the preset rate) in the background. It shares the single active
// run slot and CancelBatch with conversion batches.
func (a *App) StartCombine(files []string, output string, fps int) (domain.Batch, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Batch{}, errors.Wrap(err, "load settings")
	}
	files = cleanPaths(files)
	if len(files) == 0 {
		return domain.Batch{}, errors.New("no videos selected")
	}

	batchID, ctx, err := a.beginRun(1, settings, "Combine started")
	if err != nil {
		return domain.Batch{}, err
	}

	go a.runCombine(ctx, batchID, batch.CombineRequest{
		Files:     files,
		Output:    output,
		FrameRate: fps,
		Config:    settings,
	})
	return a.Jobs.Current(), nil
}

// runCombine executes a combine and publishes its merge result and status.
func (a *App) runCombine(ctx context.Context, batchID string, req batch.CombineRequest) {
	defer a.clearActiveBatch(batchID)

	a.finishStage(batchID, domain.BatchStatusMerging, "Combining videos")
	res, err := a.Pipeline.Combine(ctx, req)
	a.Jobs.JobFinished(batchID)

	a.logger().WithFields(logrus.Fields{
		"batch":  batchID,
		"inputs": len(req.Files),
		"output": res.Output,
		"status": res.Status,
	}).Info("combine finished")

	if res.Status != "" {
		result := res
		a.publishEvent(jobs.Event{
			BatchID:   batchID,
			Type:      jobs.EventTypeMerge,
			Message:   string(res.Status),
			Output:    res.Output,
			Result:    &result,
			ErrorCode: res.ErrorCode,
		})
	}

	switch {
	case errors.Is(err, context.Canceled):
		a.finishStage(batchID, domain.BatchStatusCancelled, "Combine cancelled")
	case err != nil:
		if !a.finishStage(batchID, domain.BatchStatusFailed, "Combine failed") {
			return
		}
		a.publishEvent(jobs.Event{
			BatchID:   batchID,
			Type:      jobs.EventTypeError,
			Status:    domain.BatchStatusFailed,
			Message:   err.Error(),
			ErrorCode: errorCode(err),
		})
	case res.Status != domain.ResultSuccess:
		a.finishStage(batchID, domain.BatchStatusFailed, "Combine failed")
	default:
		a.finishStage(batchID, domain.BatchStatusDone, "Combine completed")
	}
}

// PickCombineOutput opens a native save dialog for the combined video.
func (a *App) PickCombineOutput() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	settings := a.Settings
	a.mu.Unlock()

	path, err := wailsruntime.SaveFileDialog(ctx, wailsruntime.SaveDialogOptions{
		Title:            "Save combined video",
		DefaultDirectory: settings.OutputDir,
		DefaultFilename:  settings.MergeName + settings.Container.Ext(),
		Filters: []wailsruntime.FileFilter{
			{DisplayName: "TinyTV videos", Pattern: "*.avi;*.mp4"},
		},
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(path), nil
}

// PreviewThumbnail renders one frame of path with the current crop and
// scaling and returns it as a data URL.
func (a *App) PreviewThumbnail(path string) (string, error) {
	a.mu.Lock()
	settings := a.Settings
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), previewTimeout)
	defer cancel()

	data, err := a.Pipeline.Thumbnail(ctx, path, settings)
	if err != nil {
		a.logger().WithError(err).WithField("source", path).Warn("preview failed")
		return "", err
	}
	return "data:" + mimetype.Detect(data).String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// EstimateSize predicts the output size of path by encoding short samples
// with the current settings. Results are cached per source and filter chain.
func (a *App) EstimateSize(path string) (int64, error) {
	a.mu.Lock()
	settings := a.Settings
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), estimateTimeout)
	defer cancel()

	duration, err := a.prober(settings).Duration(ctx, path)
	if err != nil {
		return 0, err
	}
	size, err := a.calibrator.Estimate(ctx, path, duration, settings)
	if err != nil {
		a.logger().WithError(err).WithField("source", path).Info("calibration failed; using heuristic estimate")
	}
	return size, nil
}

// cleanPaths trims paths and drops empty entries, keeping order.
func cleanPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, filepath.Clean(p))
		}
	}
	return out
}

// errorCode returns the stable code carried by err, if any.
func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return ""
}
