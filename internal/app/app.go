package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"bucketfiller/internal/config"
	"bucketfiller/internal/generator"
	"bucketfiller/internal/logger"
	"bucketfiller/internal/logsink"
	"bucketfiller/internal/metrics"
	"bucketfiller/internal/progress"
	"bucketfiller/internal/queue"
	"bucketfiller/internal/results"
	"bucketfiller/internal/storage"
	"bucketfiller/internal/worker"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// ErrInterrupted is returned by Run when the context was cancelled before
// the target was reached
var ErrInterrupted = errors.New("run interrupted")

// State is the orchestrator lifecycle state
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Runner wires the generator, the worker pool and the reporting side of a
// single fill run
type Runner struct {
	cfg      *config.Config
	logger   *zap.Logger
	factory  storage.Factory
	results  results.Store
	metrics  *metrics.Collector
	eventLog *zap.Logger
	console  io.Writer
	runID    string
	state    atomic.Int32

	// content overrides the generator's object bodies when set
	content func(size int64) ([]byte, error)
}

// New creates a new runner instance
func New(cfg *config.Config, logger *zap.Logger) (*Runner, error) {
	factory, err := storage.NewFactory(storage.Config{
		Backend:   cfg.Target.Backend,
		Endpoint:  cfg.Target.Endpoint,
		Region:    cfg.Target.Region,
		AccessKey: cfg.Target.AccessKey,
		SecretKey: cfg.Target.SecretKey,
		PathStyle: cfg.Target.PathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage factory: %w", err)
	}

	return newRunner(cfg, logger, factory, os.Stdout)
}

func newRunner(cfg *config.Config, log *zap.Logger, factory storage.Factory, console io.Writer) (*Runner, error) {
	eventLog, err := logger.NewEventLog(cfg.Run.LogFile)
	if err != nil {
		return nil, err
	}

	store, err := results.NewSQLiteStore(cfg.Run.ResultsDB)
	if err != nil {
		_ = eventLog.Sync()
		return nil, fmt.Errorf("failed to create results store: %w", err)
	}

	return &Runner{
		cfg:      cfg,
		logger:   log,
		factory:  factory,
		results:  store,
		metrics:  metrics.New(),
		eventLog: eventLog,
		console:  console,
		runID:    uuid.NewString(),
	}, nil
}

// State returns the current lifecycle state
func (r *Runner) State() State {
	return State(r.state.Load())
}

func (r *Runner) setState(s State) {
	prev := State(r.state.Swap(int32(s)))
	r.logger.Debug("State change", zap.Stringer("from", prev), zap.Stringer("to", s))
}

// RunID identifies this run in the results store
func (r *Runner) RunID() string {
	return r.runID
}

// Run executes the fill. It returns ErrInterrupted if ctx was cancelled
// before every object was accounted for; the summary is valid in that case.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return Summary{}, fmt.Errorf("runner already used (state %s)", r.State())
	}

	r.logger.Info("Starting run",
		zap.String("run_id", r.runID),
		zap.String("bucket", r.cfg.Target.Bucket),
		zap.String("backend", r.cfg.Target.Backend),
		zap.Int("objects", r.cfg.Load.ObjectsCount),
		zap.Int64("object_size", r.cfg.Load.ObjectSizeBytes),
		zap.Int("versions", r.cfg.Load.Versions),
		zap.Stringer("checksum", r.cfg.Load.ChecksumAlgorithm),
		zap.Int("threads", r.cfg.Run.Threads),
		zap.Bool("simple_data", r.cfg.Load.SimpleData),
	)

	// Start metrics server in a goroutine with error handling
	if r.cfg.Run.MetricsAddr != "" {
		go func() {
			if err := r.metrics.StartServer(r.cfg.Run.MetricsAddr); err != nil {
				r.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink := logsink.New(r.eventLog, r.console, r.cfg.Run.LogBatchSize)
	sink.Start()

	tracker := progress.NewTracker(r.cfg.Load.ObjectsCount)
	tasks := queue.New[worker.Task](r.cfg.Run.QueueCapacity)
	outcomes := make(chan worker.Outcome, r.cfg.Run.Threads)
	r.logger.Debug("Pipeline ready", zap.Int("queue_capacity", tasks.Cap()), zap.Int("outcome_buffer", cap(outcomes)))

	pool := worker.NewPool(r.cfg.Run.Threads, worker.Config{
		Bucket:   r.cfg.Target.Bucket,
		Versions: r.cfg.Load.Versions,
		Checksum: r.cfg.Load.ChecksumAlgorithm,
	}, r.factory, sink, r.metrics, r.logger)

	var wg sync.WaitGroup
	if err := pool.Start(runCtx, tasks, outcomes, &wg); err != nil {
		sink.Close()
		r.setState(StateStopped)
		return Summary{}, fmt.Errorf("failed to start workers: %w", err)
	}

	gen := generator.New(generator.Config{
		Count:      r.cfg.Load.ObjectsCount,
		Size:       r.cfg.Load.ObjectSizeBytes,
		Prefix:     r.cfg.Load.Prefix,
		SimpleData: r.cfg.Load.SimpleData,
		Content:    r.content,
	}, r.logger)

	genDone := make(chan int, 1)
	go func() {
		genDone <- gen.Run(runCtx, tasks)
	}()

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(outcomes)
		close(workersDone)
	}()

	aggregator := progress.NewAggregator(tracker, r.cfg.Run.ReportEvery, r.logger)
	aggDone := make(chan error, 1)
	go func() {
		aggDone <- aggregator.Run(r.record(outcomes))
	}()

	var display *progress.Display
	if progressOut := os.Stderr; r.cfg.Run.ShowProgress && progress.IsTerminal(progressOut) {
		display = progress.NewDisplay(tracker, 2*time.Second, progressOut)
		display.Start()
	}

	interrupted := false
	select {
	case <-aggregator.Reached():
		r.logger.Info("Target reached, draining")
	case <-workersDone:
		r.logger.Info("All workers exited, draining")
	case <-ctx.Done():
		interrupted = true
		r.logger.Info("Interrupted, draining", zap.Int64("completed", tracker.Completed()))
	}

	r.setState(StateDraining)
	cancel()

	abandoned, integrity := r.drain(genDone, workersDone, aggDone)

	if display != nil {
		display.Stop()
	}
	sink.Close()
	r.setState(StateStopped)

	summary := Summary{
		RunID:       r.runID,
		Status:      tracker.GetStatus(),
		Interrupted: interrupted,
	}
	// a short count is expected after an interrupt, abandoned uploads are not
	if integrity != nil && (abandoned || !interrupted) {
		summary.Integrity = integrity
		r.logger.Warn("Pipeline integrity warning", zap.Error(integrity))
	}

	r.logger.Info("Run completed",
		zap.Int64("attempted", summary.Status.Attempted()),
		zap.Int64("succeeded", summary.Status.Succeeded),
		zap.Int64("failed", summary.Status.Failed),
		zap.Duration("elapsed", summary.Status.Elapsed),
	)

	if interrupted {
		return summary, ErrInterrupted
	}
	return summary, nil
}

// drain waits for the generator and the workers, each with its own bound,
// and returns the aggregator's verdict once the outcome stream is closed.
// abandoned is true when workers were still running at DrainTimeout; the
// summary is then a snapshot and later outcomes are not recorded.
func (r *Runner) drain(genDone <-chan int, workersDone <-chan struct{}, aggDone <-chan error) (abandoned bool, err error) {
	genTimer := time.NewTimer(r.cfg.Run.GeneratorTimeout)
	defer genTimer.Stop()

	select {
	case emitted := <-genDone:
		r.logger.Debug("Generator stopped", zap.Int("emitted", emitted))
	case <-genTimer.C:
		r.logger.Warn("Generator did not stop in time", zap.Duration("timeout", r.cfg.Run.GeneratorTimeout))
	}

	drainTimer := time.NewTimer(r.cfg.Run.DrainTimeout)
	defer drainTimer.Stop()

	select {
	case <-workersDone:
	case <-drainTimer.C:
		r.logger.Warn("Workers did not stop in time, abandoning in-flight uploads",
			zap.Duration("timeout", r.cfg.Run.DrainTimeout))
		return true, fmt.Errorf("%w: workers still running after %s, in-flight uploads were not accounted for",
			progress.ErrPipelineIntegrity, r.cfg.Run.DrainTimeout)
	}

	return false, <-aggDone
}

// record stores every outcome in the results ledger before forwarding it
// to the aggregator
func (r *Runner) record(outcomes <-chan worker.Outcome) <-chan worker.Outcome {
	recorded := make(chan worker.Outcome, cap(outcomes))
	go func() {
		defer close(recorded)
		for o := range outcomes {
			// the run gave up on this upload; the store may already be closed
			if r.State() == StateStopped {
				r.logger.Debug("Dropping outcome of abandoned upload", zap.String("key", o.Key))
				recorded <- o
				continue
			}
			if err := r.results.SaveOutcome(results.FromOutcome(r.runID, o)); err != nil {
				if errors.Is(err, results.ErrClosed) {
					r.logger.Debug("Dropping outcome of abandoned upload", zap.String("key", o.Key))
				} else {
					r.logger.Warn("Failed to record outcome", zap.String("key", o.Key), zap.Error(err))
				}
			}
			recorded <- o
		}
	}()
	return recorded
}

// Results returns the recorded outcomes of this run
func (r *Runner) Results() ([]*results.Record, error) {
	return r.results.ListOutcomes(r.runID)
}

// Close cleans up resources
func (r *Runner) Close() error {
	var result *multierror.Error
	if r.results != nil {
		if err := r.results.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close results store: %w", err))
		}
	}
	if r.eventLog != nil {
		if err := r.eventLog.Sync(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to sync event log: %w", err))
		}
	}
	return result.ErrorOrNil()
}
