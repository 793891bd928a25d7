package app

import (
	"fmt"
	"io"

	"bucketfiller/internal/progress"
)

// Summary is the final accounting of a run
type Summary struct {
	RunID       string
	Status      progress.Status
	Interrupted bool
	// Integrity is set when the workers stopped before every object was
	// accounted for without an interrupt, or when in-flight uploads were
	// abandoned at the drain timeout
	Integrity error
}

// Print writes a human readable summary to w
func (s Summary) Print(w io.Writer) {
	st := s.Status

	fmt.Fprintln(w)
	if s.Interrupted {
		fmt.Fprintln(w, "Run interrupted, partial summary:")
	} else {
		fmt.Fprintln(w, "Run summary:")
	}
	fmt.Fprintf(w, "  Objects attempted:  %d of %d\n", st.Attempted(), st.Target)
	fmt.Fprintf(w, "  Objects succeeded:  %d\n", st.Succeeded)
	if st.Failed > 0 {
		fmt.Fprintf(w, "  Objects failed:     %d (see event log)\n", st.Failed)
	} else {
		fmt.Fprintf(w, "  Objects failed:     0\n")
	}
	fmt.Fprintf(w, "  Versions written:   %d\n", st.Versions)
	if st.VersionsFailed > 0 {
		fmt.Fprintf(w, "  Versions failed:    %d\n", st.VersionsFailed)
	}
	fmt.Fprintf(w, "  Data written:       %s\n", progress.FormatBytes(st.Bytes))
	fmt.Fprintf(w, "  Elapsed:            %s\n", progress.FormatDuration(st.Elapsed))
	fmt.Fprintf(w, "  Rate:               %.1f objects/s, %s\n", st.Rate, progress.FormatSpeed(st.Throughput))
	if s.Integrity != nil {
		fmt.Fprintf(w, "  WARNING: %v\n", s.Integrity)
	}
}

// HasFailures reports whether any object or version write failed
func (s Summary) HasFailures() bool {
	return s.Status.Failed > 0 || s.Status.VersionsFailed > 0
}
