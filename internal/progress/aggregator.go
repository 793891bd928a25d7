package progress

import (
	"errors"
	"fmt"
	"sync"

	"bucketfiller/internal/worker"

	"go.uber.org/zap"
)

// DefaultReportEvery is the number of completions between progress reports
const DefaultReportEvery = 100

// ErrPipelineIntegrity is returned when every worker exited before the
// target was reached
var ErrPipelineIntegrity = errors.New("pipeline integrity warning")

// Aggregator consumes worker outcomes and decides when the run is done
type Aggregator struct {
	tracker     *Tracker
	reportEvery int64
	logger      *zap.Logger

	reached     chan struct{}
	reachedOnce sync.Once
}

// NewAggregator creates an aggregator feeding tracker
func NewAggregator(tracker *Tracker, reportEvery int, logger *zap.Logger) *Aggregator {
	if reportEvery <= 0 {
		reportEvery = DefaultReportEvery
	}
	return &Aggregator{
		tracker:     tracker,
		reportEvery: int64(reportEvery),
		logger:      logger,
		reached:     make(chan struct{}),
	}
}

// Reached is closed once completed == target
func (a *Aggregator) Reached() <-chan struct{} {
	return a.reached
}

// Run consumes outcomes until the channel is closed, which happens once all
// workers have exited. It returns ErrPipelineIntegrity if fewer than target
// outcomes were seen.
func (a *Aggregator) Run(outcomes <-chan worker.Outcome) error {
	target := a.tracker.Target()
	if target == 0 {
		a.markReached()
	}

	for o := range outcomes {
		completed := a.tracker.Record(o)
		if completed%a.reportEvery == 0 || completed == target {
			a.report()
		}
		if completed == target {
			a.markReached()
		}
	}

	if completed := a.tracker.Completed(); completed < target {
		return fmt.Errorf("%w: workers exited after %d of %d objects", ErrPipelineIntegrity, completed, target)
	}
	return nil
}

func (a *Aggregator) markReached() {
	a.reachedOnce.Do(func() { close(a.reached) })
}

func (a *Aggregator) report() {
	s := a.tracker.GetStatus()
	a.logger.Info("Progress",
		zap.Int64("completed", s.Completed),
		zap.Int64("target", s.Target),
		zap.Int64("failed", s.Failed),
		zap.Duration("elapsed", s.Elapsed),
		zap.String("rate", fmt.Sprintf("%.1f objects/s", s.Rate)),
	)
}
