package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"bucketfiller/internal/worker"

	"github.com/docker/go-units"
)

// Status is a point-in-time snapshot of the run
type Status struct {
	Target         int64
	Completed      int64 // 成功 + 失败
	Succeeded      int64
	Failed         int64
	Versions       int64
	VersionsFailed int64
	Bytes          int64
	StartTime      time.Time
	Elapsed        time.Duration
	Rate           float64 // objects/second
	Throughput     float64 // bytes/second
}

// Attempted returns how many objects were attempted
func (s Status) Attempted() int64 {
	return s.Completed
}

// Percent returns the completion percentage
func (s Status) Percent() float64 {
	if s.Target == 0 {
		return 100
	}
	return float64(s.Completed) / float64(s.Target) * 100
}

// Tracker holds the run-wide counters. Only atomic operations touch it, so
// it is shared by pointer without locks.
type Tracker struct {
	target    int64
	startTime time.Time

	completed      atomic.Int64
	succeeded      atomic.Int64
	failed         atomic.Int64
	versions       atomic.Int64
	versionsFailed atomic.Int64
	bytes          atomic.Int64
}

// NewTracker creates a new tracker for target objects
func NewTracker(target int) *Tracker {
	return &Tracker{
		target:    int64(target),
		startTime: time.Now(),
	}
}

// Target returns the configured object count
func (t *Tracker) Target() int64 {
	return t.target
}

// Record accounts one finished task and returns the completed count
func (t *Tracker) Record(o worker.Outcome) int64 {
	if o.Succeeded() {
		t.succeeded.Add(1)
		t.bytes.Add(o.Size * int64(1+o.VersionsWritten))
	} else {
		t.failed.Add(1)
	}
	t.versions.Add(int64(o.VersionsWritten))
	t.versionsFailed.Add(int64(o.VersionsFailed))
	return t.completed.Add(1)
}

// Completed returns the completed count
func (t *Tracker) Completed() int64 {
	return t.completed.Load()
}

// GetStatus returns the current status
func (t *Tracker) GetStatus() Status {
	elapsed := time.Since(t.startTime)
	s := Status{
		Target:         t.target,
		Completed:      t.completed.Load(),
		Succeeded:      t.succeeded.Load(),
		Failed:         t.failed.Load(),
		Versions:       t.versions.Load(),
		VersionsFailed: t.versionsFailed.Load(),
		Bytes:          t.bytes.Load(),
		StartTime:      t.startTime,
		Elapsed:        elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.Rate = float64(s.Completed) / secs
		s.Throughput = float64(s.Bytes) / secs
	}
	return s
}

// FormatSpeed formats speed in human readable format
func FormatSpeed(bytesPerSecond float64) string {
	return units.BytesSize(bytesPerSecond) + "/s"
}

// FormatBytes formats bytes in human readable format
func FormatBytes(bytes int64) string {
	return units.BytesSize(float64(bytes))
}

// FormatDuration formats duration in human readable format
func FormatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := d.Seconds() - float64(hours*3600+minutes*60)

	if hours > 0 {
		return fmt.Sprintf("%dh%dm%.0fs", hours, minutes, seconds)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm%.0fs", minutes, seconds)
	}
	return fmt.Sprintf("%.2fs", seconds)
}
