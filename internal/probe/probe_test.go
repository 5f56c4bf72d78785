package probe

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleOutput = `{
    "streams": [
        {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080},
        {"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000"}
    ],
    "format": {"filename": "clip.mp4", "duration": "93.480000", "size": "1048576"}
}`

// TestParseMetadata verifies duration and stream facts are read from ffprobe JSON.
func TestParseMetadata(t *testing.T) {
	meta, err := ParseMetadata([]byte(sampleOutput))
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	if meta.Duration != 93480*time.Millisecond {
		t.Fatalf("duration = %s", meta.Duration)
	}
	if meta.Width != 1920 || meta.Height != 1080 || !meta.HasAudio {
		t.Fatalf("meta = %+v", meta)
	}
}

// TestParseMetadataMissingFields verifies absent values stay zero.
func TestParseMetadataMissingFields(t *testing.T) {
	meta, err := ParseMetadata([]byte(`{"streams":[{"codec_type":"video","width":320,"height":240}],"format":{"duration":"N/A"}}`))
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	if meta.Duration != 0 || meta.HasAudio {
		t.Fatalf("meta = %+v", meta)
	}

	if _, err := ParseMetadata([]byte("Invalid data found when processing input")); err == nil {
		t.Fatalf("expected error for non-JSON output")
	}
}

// TestProberDuration verifies the ffprobe call and duration extraction.
func TestProberDuration(t *testing.T) {
	var gotArgs []string
	prober := NewForTests(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = args
			return []byte(sampleOutput), nil
		},
		os.Stat,
		func(string) (string, error) { return "video/mp4", nil },
	)

	d, err := prober.Duration(context.Background(), "/in/clip.mp4")
	if err != nil {
		t.Fatalf("Duration() error = %v", err)
	}
	if d != 93480*time.Millisecond {
		t.Fatalf("duration = %s", d)
	}
	if gotArgs[len(gotArgs)-1] != "/in/clip.mp4" {
		t.Fatalf("args = %v", gotArgs)
	}
}

// TestProberDurationErrors verifies failed probes and missing durations are errors.
func TestProberDurationErrors(t *testing.T) {
	failing := NewForTests(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		},
		os.Stat, nil,
	)
	if _, err := failing.Duration(context.Background(), "a.mov"); err == nil {
		t.Fatalf("expected error from failing ffprobe")
	}

	empty := NewForTests(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(`{"format":{}}`), nil
		},
		os.Stat, nil,
	)
	if _, err := empty.Duration(context.Background(), "a.mov"); err == nil {
		t.Fatalf("expected error when duration is missing")
	}
}

// TestInspect verifies size, MIME and probe results are combined.
func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	prober := NewForTests(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(sampleOutput), nil
		},
		os.Stat,
		func(string) (string, error) { return "video/mp4", nil },
	)
	info := prober.Inspect(context.Background(), path)
	if info.Error != "" {
		t.Fatalf("Inspect() error = %q", info.Error)
	}
	if info.Size != 10 || info.MIME != "video/mp4" || math.Abs(info.DurationSeconds-93.48) > 1e-9 {
		t.Fatalf("info = %+v", info)
	}

	missing := prober.Inspect(context.Background(), filepath.Join(dir, "gone.mp4"))
	if !strings.Contains(missing.Error, "cannot read file") {
		t.Fatalf("missing file error = %q", missing.Error)
	}
	if dirInfo := prober.Inspect(context.Background(), dir); dirInfo.Error == "" {
		t.Fatalf("expected error for directory")
	}
}

// TestDetectMIME verifies real content sniffing.
func TestDetectMIME(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.mp4")
	if err := os.WriteFile(path, []byte("plain text, not a movie\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	mime, err := detectMIME(path)
	if err != nil {
		t.Fatalf("detectMIME() error = %v", err)
	}
	if !strings.HasPrefix(mime, "text/plain") {
		t.Fatalf("mime = %q, want text/plain", mime)
	}
}

// TestProberStreams verifies silent files are reported with their length.
func TestProberStreams(t *testing.T) {
	silent := `{"streams":[{"codec_type":"video","width":210,"height":135}],"format":{"duration":"4.5"}}`
	prober := NewForTests(
		func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return []byte(silent), nil
		},
		os.Stat,
		func(string) (string, error) { return "video/x-msvideo", nil },
	)

	hasAudio, length, err := prober.Streams(context.Background(), "/out/01_a.avi")
	if err != nil {
		t.Fatalf("Streams() error = %v", err)
	}
	if hasAudio || length != 4500*time.Millisecond {
		t.Fatalf("Streams() = %v, %s", hasAudio, length)
	}
}
