package domain

// Preset names a quality tier. The tier is resolved to explicit encoder
// parameters by the batch package; ffmpeg never sees the name.
type Preset string

const (
	PresetLow    Preset = "low"
	PresetMedium Preset = "medium"
	PresetHigh   Preset = "high"
)

// Container selects the output container and its codec pair.
type Container string

const (
	// ContainerAVI is the TinyTV 2 native format: MJPEG video with unsigned 8-bit PCM audio.
	ContainerAVI Container = "avi"
	ContainerMP4 Container = "mp4"
)

// Ext returns the file extension for the container, with leading dot.
func (c Container) Ext() string {
	return "." + string(c)
}

// ScaleMode controls how a source frame is fitted to the target resolution.
type ScaleMode string

const (
	ScaleCover   ScaleMode = "cover"
	ScaleContain ScaleMode = "contain"
	ScaleStretch ScaleMode = "stretch"
)

// Resolution is a target frame size in pixels.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Crop is a source-space rectangle applied before scaling.
type Crop struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	X      int `json:"x"`
	Y      int `json:"y"`
}

// Configuration is the option set for one batch run. It is also what the
// settings store persists between launches.
type Configuration struct {
	Preset         Preset      `json:"preset"`
	Container      Container   `json:"container"`
	OutputDir      string      `json:"outputDir"`
	ChannelPrefix  bool        `json:"channelPrefix"`
	ChannelStart   int         `json:"channelStart"`
	Merge          bool        `json:"merge"`
	MergeName      string      `json:"mergeName,omitempty"`
	Resolution     *Resolution `json:"resolution,omitempty"`
	Crop           *Crop       `json:"crop,omitempty"`
	ScaleMode      ScaleMode   `json:"scaleMode"`
	FrameRate      int         `json:"frameRate,omitempty"`
	NormalizeAudio bool        `json:"normalizeAudio"`
	Workers        int         `json:"workers"`
	TimeoutSeconds int         `json:"timeoutSeconds,omitempty"`
	ToolDir        string      `json:"toolDir,omitempty"`
}

// Job is one source-to-output conversion unit. Output is its identity.
type Job struct {
	Index   int    `json:"index"`
	Ordinal int    `json:"ordinal"`
	Source  string `json:"source"`
	Output  string `json:"output"`
}

// ListFile is an auxiliary input file the tool reads, written before the
// invocation starts and removed after it exits.
type ListFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Invocation is the fully resolved tool command for one job or for the merge.
// Args excludes the program name.
type Invocation struct {
	Args     []string  `json:"args"`
	Dir      string    `json:"dir"`
	Inputs   []string  `json:"inputs"`
	Output   string    `json:"output"`
	ListFile *ListFile `json:"listFile,omitempty"`
}

// ResultStatus is the terminal state of one invocation.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailed  ResultStatus = "failed"
	ResultSkipped ResultStatus = "skipped"
)

// Error codes carried by results and run errors.
const (
	ErrCodeUnsupportedInput = "unsupported_input"
	ErrCodeConversionFailed = "conversion_failed"
	ErrCodeTimeout          = "timeout"
	ErrCodeCancelled        = "cancelled"
	ErrCodeMergeFailed      = "merge_failed"
	ErrCodeConfiguration    = "configuration"
	ErrCodeToolNotFound     = "tool_not_found"
)
