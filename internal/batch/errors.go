package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"tinytv-converter/internal/domain"
)

// ErrCancelled is returned by Pipeline.Run when the caller cancelled the run.
var ErrCancelled = errors.Wrap(context.Canceled, "batch cancelled")

// ConfigurationError reports invalid setup detected before any conversion.
type ConfigurationError struct {
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration: " + e.Message
	}
	return fmt.Sprintf("configuration: %s: %v", e.Message, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *ConfigurationError) Code() string { return domain.ErrCodeConfiguration }

// ToolNotFoundError reports that the external tool cannot be executed.
type ToolNotFoundError struct {
	Tool string
	Err  error
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("%s not found: install it and add it to PATH, or set the tools folder (%v)", e.Tool, e.Err)
}

func (e *ToolNotFoundError) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *ToolNotFoundError) Code() string { return domain.ErrCodeToolNotFound }

// UnsupportedInputError reports a source whose extension is not accepted.
type UnsupportedInputError struct {
	Source string
	Ext    string
}

func (e *UnsupportedInputError) Error() string {
	ext := e.Ext
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Sprintf("unsupported input extension %s: %s (accepted: %s)",
		ext, e.Source, strings.Join(VideoExtensions(), " "))
}

// Code returns the stable error code.
func (e *UnsupportedInputError) Code() string { return domain.ErrCodeUnsupportedInput }

// ConversionFailure reports a nonzero exit or timeout for one job.
type ConversionFailure struct {
	Source   string
	ExitCode int
	Timeout  time.Duration
	TimedOut bool
	Err      error
}

func (e *ConversionFailure) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("conversion of %s timed out after %s", e.Source, e.Timeout)
	}
	return fmt.Sprintf("conversion of %s failed (exit=%d): %v", e.Source, e.ExitCode, e.Err)
}

func (e *ConversionFailure) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *ConversionFailure) Code() string {
	if e.TimedOut {
		return domain.ErrCodeTimeout
	}
	return domain.ErrCodeConversionFailed
}

// MergeFailure reports that the final concatenation step failed.
type MergeFailure struct {
	Output   string
	ExitCode int
	TimedOut bool
	Err      error
}

func (e *MergeFailure) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("merge into %s timed out", e.Output)
	}
	return fmt.Sprintf("merge into %s failed (exit=%d): %v", e.Output, e.ExitCode, e.Err)
}

func (e *MergeFailure) Unwrap() error { return e.Err }

// Code returns the stable error code.
func (e *MergeFailure) Code() string { return domain.ErrCodeMergeFailed }

// codeOf maps an error to its stable code, defaulting to conversion_failed.
func codeOf(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	if errors.Is(err, context.Canceled) {
		return domain.ErrCodeCancelled
	}
	return domain.ErrCodeConversionFailed
}

// runErrorOf converts a run-level error into summary data.
func runErrorOf(err error) *domain.RunError {
	if err == nil {
		return nil
	}
	return &domain.RunError{Code: codeOf(err), Message: err.Error()}
}
