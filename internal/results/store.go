package results

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"bucketfiller/internal/worker"
)

// Status of a recorded object
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record is one row of the results ledger
type Record struct {
	RunID           string    `json:"run_id"`
	Key             string    `json:"key"`
	Status          Status    `json:"status"`
	StatusCode      int       `json:"status_code"`
	RequestID       string    `json:"request_id"`
	HostID          string    `json:"host_id"`
	VersionID       string    `json:"version_id"`
	Size            int64     `json:"size"`
	DurationMs      int64     `json:"duration_ms"`
	VersionsWritten int       `json:"versions_written"`
	VersionsFailed  int       `json:"versions_failed"`
	LastError       string    `json:"last_error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// FromOutcome converts a worker outcome into a ledger record
func FromOutcome(runID string, o worker.Outcome) *Record {
	r := &Record{
		RunID:           runID,
		Key:             o.Key,
		Status:          StatusSucceeded,
		StatusCode:      o.StatusCode,
		RequestID:       o.RequestID,
		HostID:          o.HostID,
		VersionID:       o.VersionID,
		Size:            o.Size,
		DurationMs:      o.Duration.Milliseconds(),
		VersionsWritten: o.VersionsWritten,
		VersionsFailed:  o.VersionsFailed,
	}
	if o.Err != nil {
		r.Status = StatusFailed
		r.LastError = o.Err.Error()
	}
	return r
}

// Store defines the interface of the results ledger. It is write-mostly:
// nothing reads it back to resume a run.
type Store interface {
	SaveOutcome(record *Record) error
	ListOutcomes(runID string) ([]*Record, error)
	CountByStatus(runID string) (map[Status]int, error)

	// Cleanup
	Close() error
}

// RenderTable prints one line per object: status code, request id, host id
// and version id.
func RenderTable(w io.Writer, records []*Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tHTTP STATUS\tREQUEST ID\tHOST ID\tVERSION ID\tVERSIONS\tERROR")

	for _, r := range records {
		status := "-"
		if r.StatusCode != 0 {
			status = fmt.Sprintf("%d", r.StatusCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Key,
			status,
			orDash(r.RequestID),
			orDash(r.HostID),
			orNotProvided(r.VersionID),
			r.VersionsWritten,
			orDash(r.LastError),
		)
	}

	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func orNotProvided(s string) string {
	if s == "" {
		return "Not provided"
	}
	return s
}
