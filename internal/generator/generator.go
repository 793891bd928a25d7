package generator

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"bucketfiller/internal/queue"
	"bucketfiller/internal/worker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrGeneration marks a failure to produce a key or object content
var ErrGeneration = errors.New("generation error")

// Config contains generator configuration
type Config struct {
	Count  int
	Size   int64
	Prefix string
	// SimpleData reuses one random buffer for every object. Generation is
	// much cheaper, but all objects in the run are bit-identical.
	SimpleData bool
	// Content produces the body of one object. Nil means random bytes.
	Content func(size int64) ([]byte, error)
}

// Generator produces upload tasks for the worker pool
type Generator struct {
	cfg     Config
	logger  *zap.Logger
	content func(size int64) ([]byte, error)
}

// New creates a new generator
func New(cfg Config, logger *zap.Logger) *Generator {
	content := cfg.Content
	if content == nil {
		content = randomContent
	}
	return &Generator{
		cfg:     cfg,
		logger:  logger,
		content: content,
	}
}

// Run emits up to cfg.Count tasks onto q and returns how many were emitted.
// The queue is closed on every return path, so workers never block on a
// generator that stopped early.
func (g *Generator) Run(ctx context.Context, q *queue.Queue[worker.Task]) (emitted int) {
	defer q.Close()
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("Generator crashed",
				zap.Int("emitted", emitted),
				zap.Error(fmt.Errorf("%w: %v", ErrGeneration, r)),
			)
		}
	}()

	var shared []byte
	if g.cfg.SimpleData && g.cfg.Count > 0 {
		var err error
		shared, err = g.content(g.cfg.Size)
		if err != nil {
			g.logger.Error("Failed to generate shared content", zap.Error(fmt.Errorf("%w: %v", ErrGeneration, err)))
			return 0
		}
	}

	for emitted < g.cfg.Count {
		if ctx.Err() != nil {
			g.logger.Info("Generator cancelled", zap.Int("emitted", emitted), zap.Int("target", g.cfg.Count))
			return emitted
		}

		task, err := g.next(shared)
		if err != nil {
			g.logger.Error("Failed to generate task",
				zap.Int("emitted", emitted),
				zap.Error(fmt.Errorf("%w: %v", ErrGeneration, err)),
			)
			return emitted
		}

		if err := q.Put(ctx, task); err != nil {
			g.logger.Info("Generator cancelled", zap.Int("emitted", emitted), zap.Int("target", g.cfg.Count))
			return emitted
		}
		emitted++
		g.logger.Debug("Enqueued object", zap.String("key", task.Key))
	}

	g.logger.Info("Finished generating objects", zap.Int("total_objects", emitted))
	return emitted
}

func (g *Generator) next(shared []byte) (worker.Task, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return worker.Task{}, err
	}

	task := worker.Task{
		Key:           g.cfg.Prefix + id.String(),
		Content:       shared,
		ContentShared: shared != nil,
	}
	if shared == nil {
		if task.Content, err = g.content(g.cfg.Size); err != nil {
			return worker.Task{}, err
		}
	}
	return task, nil
}

func randomContent(size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
