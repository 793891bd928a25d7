package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"bucketfiller/internal/checksum"
	"bucketfiller/internal/logsink"
	"bucketfiller/internal/metrics"
	"bucketfiller/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxVersionFanOut bounds the concurrent version writes of one object
const MaxVersionFanOut = 4

var (
	// ErrUpload marks a failed primary write
	ErrUpload = errors.New("upload error")
	// ErrVersion marks a failed version write
	ErrVersion = errors.New("version error")
)

// EventLog receives per-object event lines
type EventLog interface {
	Log(m logsink.Message)
}

// TaskProcessor handles individual task processing
type TaskProcessor struct {
	config  Config
	client  storage.Service
	events  EventLog
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewTaskProcessor creates a processor bound to one storage handle
func NewTaskProcessor(config Config, client storage.Service, events EventLog, metricsCollector *metrics.Collector, logger *zap.Logger) *TaskProcessor {
	return &TaskProcessor{
		config:  config,
		client:  client,
		events:  events,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Process uploads one task and returns its outcome. It never panics and
// never returns without an outcome.
func (p *TaskProcessor) Process(ctx context.Context, task Task) (out Outcome) {
	out = Outcome{Key: task.Key, Size: int64(len(task.Content))}
	// set once the primary write has been counted as a success
	counted := false

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panicked", zap.String("key", task.Key), zap.Bool("primary_written", counted), zap.Any("panic", r))
			if counted {
				return
			}
			out.Err = fmt.Errorf("%w: panic while uploading: %v", ErrUpload, r)
			p.metrics.IncFailed()
			p.events.Log(logsink.Failure("Error uploading %s: %v", task.Key, out.Err))
		}
	}()

	cksum := checksum.For(task.Content, p.config.Checksum)

	if err := p.putPrimary(ctx, task, cksum, &out); err != nil {
		out.Err = err
		p.metrics.IncFailed()
		p.events.Log(logsink.Failure("Failed to upload %s (status %d): %v", task.Key, out.StatusCode, err))
		p.logger.Warn("Upload failed",
			zap.String("key", task.Key),
			zap.Int("status", out.StatusCode),
			zap.Error(err),
		)
		if p.config.Versions > 0 {
			p.logger.Debug("Skipping versions of failed object", zap.String("key", task.Key))
		}
		return out
	}

	p.metrics.IncSuccess()
	counted = true
	p.events.Log(logsink.Success("Uploaded %s (status %d) in %.3fs", task.Key, out.StatusCode, out.Duration.Seconds()))

	if p.config.Versions > 0 {
		out.VersionsWritten, out.VersionsFailed = p.putVersions(ctx, task, cksum)
	}

	p.logger.Debug("Task completed",
		zap.String("key", task.Key),
		zap.Int64("size", out.Size),
		zap.Int("versions", out.VersionsWritten),
		zap.Duration("duration", out.Duration),
	)
	return out
}

func (p *TaskProcessor) putPrimary(ctx context.Context, task Task, cksum checksum.Options, out *Outcome) error {
	start := time.Now()
	res, err := p.client.Put(ctx, p.config.Bucket, task.Key, task.Content, cksum)
	out.Duration = time.Since(start)
	p.metrics.ObserveDuration(out.Duration)

	if err != nil {
		var putErr *storage.PutError
		if errors.As(err, &putErr) {
			out.StatusCode = putErr.StatusCode
			out.RequestID = putErr.RequestID
			out.HostID = putErr.HostID
		}
		return fmt.Errorf("%w: %w", ErrUpload, err)
	}

	out.StatusCode = res.StatusCode
	out.RequestID = res.RequestID
	out.HostID = res.HostID
	out.VersionID = res.VersionID

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %d", ErrUpload, res.StatusCode)
	}

	p.metrics.AddBytes(out.Size)
	return nil
}

// putVersions rewrites the same key Versions times, at most
// min(MaxVersionFanOut, Versions) at once. A failed write never cancels
// its siblings.
func (p *TaskProcessor) putVersions(ctx context.Context, task Task, cksum checksum.Options) (written, failed int) {
	var ok, bad atomic.Int32

	var g errgroup.Group
	g.SetLimit(min(MaxVersionFanOut, p.config.Versions))

	for v := 1; v <= p.config.Versions; v++ {
		v := v
		g.Go(func() error {
			if err := p.putVersion(ctx, task, cksum, v); err != nil {
				bad.Add(1)
				p.metrics.IncVersion(false)
				p.events.Log(logsink.Failure("Failed to write version %d of %s: %v", v, task.Key, err))
				p.logger.Warn("Version write failed",
					zap.String("key", task.Key),
					zap.Int("version", v),
					zap.Int("status", storage.StatusCode(err)),
					zap.Error(err),
				)
				return nil
			}
			ok.Add(1)
			p.metrics.IncVersion(true)
			return nil
		})
	}
	_ = g.Wait()

	return int(ok.Load()), int(bad.Load())
}

func (p *TaskProcessor) putVersion(ctx context.Context, task Task, cksum checksum.Options, v int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic while writing version %d: %v", ErrVersion, v, r)
		}
	}()

	start := time.Now()
	res, err := p.client.Put(ctx, p.config.Bucket, task.Key, task.Content, cksum)
	p.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVersion, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("%w: unexpected status %d", ErrVersion, res.StatusCode)
	}

	p.metrics.AddBytes(int64(len(task.Content)))
	return nil
}
