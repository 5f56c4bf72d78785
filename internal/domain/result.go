package domain

import "time"

// Result is the outcome of running one invocation.
type Result struct {
	Index      int           `json:"index"`
	Source     string        `json:"source"`
	Output     string        `json:"output"`
	Status     ResultStatus  `json:"status"`
	ErrorCode  string        `json:"errorCode,omitempty"`
	ExitCode   int           `json:"exitCode"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Failure is one entry of the ordered failure list in a summary.
type Failure struct {
	Index  int    `json:"index"`
	Source string `json:"source"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// RunError describes a run-level abort (configuration or missing tool).
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchSummary is the terminal report of one run.
type BatchSummary struct {
	RunID          string    `json:"runId"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	Results        []Result  `json:"results"`
	SuccessCount   int       `json:"successCount"`
	FailureCount   int       `json:"failureCount"`
	SkippedCount   int       `json:"skippedCount"`
	Failures       []Failure `json:"failures"`
	MergeAttempted bool      `json:"mergeAttempted"`
	Merge          *Result   `json:"merge,omitempty"`
	Cancelled      bool      `json:"cancelled"`
	Error          *RunError `json:"error,omitempty"`
}

// Succeeded reports whether every job and the optional merge succeeded.
func (s BatchSummary) Succeeded() bool {
	if s.Error != nil || s.Cancelled || s.FailureCount > 0 || s.SkippedCount > 0 {
		return false
	}
	return s.Merge == nil || s.Merge.Status == ResultSuccess
}
