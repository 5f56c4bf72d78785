package domain

// SourceInfo describes one input file as shown in the file list before a run.
type SourceInfo struct {
	Path            string  `json:"path"`
	Size            int64   `json:"size"`
	MIME            string  `json:"mime,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	HasAudio        bool    `json:"hasAudio"`
	Supported       bool    `json:"supported"`
	EstimatedBytes  int64   `json:"estimatedBytes,omitempty"`
	Error           string  `json:"error,omitempty"`
}
