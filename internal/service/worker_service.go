package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/observability"
	"github.com/kursadbilgin/code-batch-engine/internal/queue"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency  = 1
	defaultOffloadTimeout = 5 * time.Minute
)

// GenerationWorker consumes offloaded generation jobs and runs the pipeline
// for each of them.
type GenerationWorker struct {
	consumer         queue.Consumer
	runner           Runner
	concurrency      int
	timeout          time.Duration
	defaultChunkSize int
	logger           *zap.Logger
}

func NewGenerationWorker(
	consumer queue.Consumer,
	runner Runner,
	concurrency int,
	timeout time.Duration,
	defaultChunkSize int,
	logger *zap.Logger,
) (*GenerationWorker, error) {
	if consumer == nil || runner == nil {
		return nil, fmt.Errorf("consumer and runner are required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if timeout <= 0 {
		timeout = defaultOffloadTimeout
	}
	if defaultChunkSize < 1 {
		defaultChunkSize = defaultOffloadChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GenerationWorker{
		consumer:         consumer,
		runner:           runner,
		concurrency:      concurrency,
		timeout:          timeout,
		defaultChunkSize: defaultChunkSize,
		logger:           logger,
	}, nil
}

// Start consumes the generation queue until context cancellation.
func (w *GenerationWorker) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			w.logger.Info("generation worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			if err := w.consumer.Consume(groupCtx, queueName, w.processMessage); err != nil {
				w.logger.Error("generation worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			w.logger.Info("generation worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// processMessage returns nil for outcomes a redelivery cannot change, so the
// job is acked. Infrastructure errors are returned and the job is requeued.
func (w *GenerationWorker) processMessage(ctx context.Context, msg queue.GenerationMessage) error {
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}
	logger := observability.ContextLogger(ctx, w.logger).With(zap.String("batchId", msg.BatchID))

	chunkSize := msg.ChunkSize
	if chunkSize < 1 {
		chunkSize = w.defaultChunkSize
	}

	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.runner.Run(runCtx, msg.BatchID, chunkSize)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrGenerationFailed):
		logger.Warn("generation job finished with a failed batch", zap.Error(err))
		return nil
	case errors.Is(err, domain.ErrNotFound):
		logger.Warn("batch not found for generation job, skipping")
		return nil
	case errors.Is(err, domain.ErrFailedPrecondition):
		logger.Info("batch already finalized, skipping generation job")
		return nil
	case errors.Is(err, domain.ErrConflict):
		logger.Info("batch is being generated by another runner, skipping")
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		logger.Info("generation job interrupted, returning it to the queue")
		return err
	default:
		return fmt.Errorf("generation run for batch %s failed: %w", msg.BatchID, err)
	}
}
