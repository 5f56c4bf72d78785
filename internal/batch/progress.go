package batch

import (
	"strconv"
	"time"

	"github.com/agext/regexp"
)

// Progress is a display-only position update parsed from tool output.
type Progress struct {
	Index    int           `json:"index"`
	Source   string        `json:"source"`
	Position time.Duration `json:"position"`
	Total    time.Duration `json:"total"`
	Percent  float64       `json:"percent"`
}

var statsTime = regexp.MustCompile(`time=\s*(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ParseStatsTime extracts the time= position from an ffmpeg -stats line.
func ParseStatsTime(line string) (time.Duration, bool) {
	m := statsTime.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.Atoi(m[1])
	if err != nil || hours < 0 {
		return 0, false
	}
	minutes, _ := strconv.Atoi(m[2])
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	pos := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return pos, true
}

// percentOf returns pos/total in [0,100], or 0 when total is unknown.
func percentOf(pos, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(pos) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}
