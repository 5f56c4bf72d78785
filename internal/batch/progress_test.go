package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tinytv-converter/internal/domain"
)

// TestParseStatsTime verifies the time= field of ffmpeg stats lines.
func TestParseStatsTime(t *testing.T) {
	tests := []struct {
		line string
		want time.Duration
		ok   bool
	}{
		{"frame=  240 fps= 48 q=16.0 size=    1024kB time=00:00:20.00 bitrate= 419.4kbits/s", 20 * time.Second, true},
		{"size=N/A time=01:02:03.50 bitrate=N/A speed=2x", time.Hour + 2*time.Minute + 3500*time.Millisecond, true},
		{"time= 00:01:00.00", time.Minute, true},
		{"time=N/A bitrate=N/A", 0, false},
		{"Press [q] to stop", 0, false},
	}

	for _, tc := range tests {
		got, ok := ParseStatsTime(tc.line)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseStatsTime(%q) = %s, %v; want %s, %v", tc.line, got, ok, tc.want, tc.ok)
		}
	}
}

// TestPercentOfClamps verifies unknown totals and overshoot.
func TestPercentOfClamps(t *testing.T) {
	if got := percentOf(time.Second, 0); got != 0 {
		t.Fatalf("unknown total = %v", got)
	}
	if got := percentOf(2*time.Minute, time.Minute); got != 100 {
		t.Fatalf("overshoot = %v", got)
	}
}

// TestDefaultTimeout verifies the duration and size based rules.
func TestDefaultTimeout(t *testing.T) {
	if got := DefaultTimeout(0, 10*time.Minute); got != 35*time.Minute {
		t.Fatalf("duration rule = %s, want 35m", got)
	}
	if got := DefaultTimeout(60<<20, 0); got != 8*time.Minute {
		t.Fatalf("size rule = %s, want 8m", got)
	}
	if got := DefaultTimeout(0, 0); got != 5*time.Minute {
		t.Fatalf("base = %s, want 5m", got)
	}
}

// TestBudgetForFallsBackToSize verifies inputs without a known duration use file size.
func TestBudgetForFallsBackToSize(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mov")
	mustWriteFile(t, src, "tiny")
	inv := domain.Invocation{Inputs: []string{src, filepath.Join(dir, "missing.mov")}}

	b := budgetFor(context.Background(), fixedProber(0), os.Stat, inv, testConfig(dir))
	if b.media != 0 || b.timeout != 6*time.Minute {
		t.Fatalf("budget = %+v, want size rule with one chunk", b)
	}

	b = budgetFor(context.Background(), fixedProber(time.Minute), os.Stat, inv, testConfig(dir))
	if b.media != 2*time.Minute || b.timeout != 11*time.Minute {
		t.Fatalf("budget = %+v, want duration rule over both inputs", b)
	}
}
