package worker

import (
	"context"
	"fmt"
	"sync"

	"bucketfiller/internal/metrics"
	"bucketfiller/internal/queue"
	"bucketfiller/internal/storage"

	"go.uber.org/zap"
)

// Pool manages a pool of upload workers
type Pool struct {
	size    int
	config  Config
	factory storage.Factory
	events  EventLog
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewPool creates a new worker pool
func NewPool(
	size int,
	config Config,
	factory storage.Factory,
	events EventLog,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pool {
	return &Pool{
		size:    size,
		config:  config,
		factory: factory,
		events:  events,
		metrics: metricsCollector,
		logger:  logger,
	}
}

// Start creates one storage handle per worker and then starts the workers.
// Every dequeued task produces exactly one outcome on outcomes. If a handle
// cannot be created no worker is started.
func (p *Pool) Start(ctx context.Context, tasks *queue.Queue[Task], outcomes chan<- Outcome, wg *sync.WaitGroup) error {
	clients := make([]storage.Service, p.size)
	for i := range clients {
		client, err := p.factory()
		if err != nil {
			return fmt.Errorf("failed to create storage client for worker %d: %w", i, err)
		}
		clients[i] = client
	}

	for i, client := range clients {
		wg.Add(1)
		go p.worker(ctx, i, client, tasks, outcomes, wg)
	}
	return nil
}

func (p *Pool) worker(ctx context.Context, id int, client storage.Service, tasks *queue.Queue[Task], outcomes chan<- Outcome, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	processor := NewTaskProcessor(p.config, client, p.events, p.metrics, logger)

	// cancellation is observed between tasks only; uploads in flight finish
	uploadCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			logger.Debug("Worker stopped - context cancelled")
			return
		}

		task, ok := tasks.Get(ctx)
		if !ok {
			if ctx.Err() != nil {
				logger.Debug("Worker stopped - context cancelled")
			} else {
				logger.Debug("Worker finished - no more tasks")
			}
			return
		}

		p.metrics.WorkerBusy()
		outcome := processor.Process(uploadCtx, task)
		p.metrics.WorkerIdle()

		outcomes <- outcome
	}
}
