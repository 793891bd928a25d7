package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Display handles the interactive progress line
type Display struct {
	tracker  *Tracker
	interval time.Duration
	out      io.Writer
	stopCh   chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display
func NewDisplay(tracker *Tracker, interval time.Duration, out io.Writer) *Display {
	return &Display{
		tracker:  tracker,
		interval: interval,
		out:      out,
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start starts the progress display
func (d *Display) Start() {
	go d.displayLoop()
}

// Stop stops the progress display and prints the last state
func (d *Display) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.stopped
}

func (d *Display) displayLoop() {
	defer close(d.stopped)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprint(d.out, "\r"+d.line(d.tracker.GetStatus()))
		case <-d.stopCh:
			fmt.Fprintln(d.out, "\r"+d.line(d.tracker.GetStatus()))
			return
		}
	}
}

func (d *Display) line(s Status) string {
	return fmt.Sprintf("%s %d/%d objects, %d failed, %d versions | %.1f obj/s, %s | %s",
		progressBar(s.Percent(), 30),
		s.Completed, s.Target, s.Failed, s.Versions,
		s.Rate, FormatSpeed(s.Throughput), FormatDuration(s.Elapsed),
	)
}

// progressBar generates a visual progress bar
func progressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	return fmt.Sprintf("[%s] %5.1f%%", bar, percent)
}

// IsTerminal reports whether f is a character device, i.e. the display
// written to it would be seen by a person
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	return fileInfo.Mode()&os.ModeCharDevice != 0
}
