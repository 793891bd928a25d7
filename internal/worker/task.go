package worker

import (
	"time"

	"bucketfiller/internal/checksum"
)

// Task represents a single object to upload
type Task struct {
	Key     string
	Content []byte
	// ContentShared is set when Content is the run-wide simple data buffer
	ContentShared bool
}

// Outcome is the result of one task. StatusCode is zero when the primary
// PUT never got a response.
type Outcome struct {
	Key             string
	StatusCode      int
	RequestID       string
	HostID          string
	VersionID       string
	Size            int64
	Duration        time.Duration
	VersionsWritten int
	VersionsFailed  int
	Err             error
}

// Succeeded reports whether the primary write succeeded
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Config contains worker configuration
type Config struct {
	Bucket   string
	Versions int
	Checksum checksum.Algorithm
}
