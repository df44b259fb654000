package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/observability"
	"github.com/kursadbilgin/code-batch-engine/internal/queue"
	"go.uber.org/zap"
)

const (
	defaultInlineChunkSize  = 100
	defaultOffloadChunkSize = 500
	defaultInlineTimeout    = 60 * time.Second
)

// Strategy hands a persisted batch to an execution path. Dispatch returns as
// soon as the run is scheduled, never when it finishes.
type Strategy interface {
	Name() domain.Strategy
	ChunkSize() int
	Dispatch(ctx context.Context, batch *domain.Batch) error
}

// InlineStrategy runs small batches on a goroutine inside the API process.
type InlineStrategy struct {
	runner    Runner
	chunkSize int
	timeout   time.Duration
	logger    *zap.Logger

	wg sync.WaitGroup
}

var _ Strategy = (*InlineStrategy)(nil)

func NewInlineStrategy(runner Runner, chunkSize int, timeout time.Duration, logger *zap.Logger) *InlineStrategy {
	if chunkSize < 1 {
		chunkSize = defaultInlineChunkSize
	}
	if timeout <= 0 {
		timeout = defaultInlineTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InlineStrategy{
		runner:    runner,
		chunkSize: chunkSize,
		timeout:   timeout,
		logger:    logger,
	}
}

func (s *InlineStrategy) Name() domain.Strategy { return domain.StrategyInline }
func (s *InlineStrategy) ChunkSize() int        { return s.chunkSize }

// Dispatch detaches the run from the request so it outlives the response;
// only the inline timeout bounds it.
func (s *InlineStrategy) Dispatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	runCtx := context.WithoutCancel(ctx)
	batchID := batch.ID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(runCtx, s.timeout)
		defer cancel()

		if err := s.runner.Run(ctx, batchID, s.chunkSize); err != nil {
			observability.ContextLogger(ctx, s.logger).Warn("inline generation ended with error",
				zap.String("batchId", batchID),
				zap.Error(err),
			)
		}
	}()

	return nil
}

// Wait blocks until every dispatched inline run has returned or ctx ends.
func (s *InlineStrategy) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OffloadedStrategy queues large batches for the generation workers.
type OffloadedStrategy struct {
	publisher queue.Publisher
	chunkSize int
}

var _ Strategy = (*OffloadedStrategy)(nil)

func NewOffloadedStrategy(publisher queue.Publisher, chunkSize int) *OffloadedStrategy {
	if chunkSize < 1 {
		chunkSize = defaultOffloadChunkSize
	}
	return &OffloadedStrategy{
		publisher: publisher,
		chunkSize: chunkSize,
	}
}

func (s *OffloadedStrategy) Name() domain.Strategy { return domain.StrategyOffloaded }
func (s *OffloadedStrategy) ChunkSize() int        { return s.chunkSize }

func (s *OffloadedStrategy) Dispatch(ctx context.Context, batch *domain.Batch) error {
	if batch == nil {
		return fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := queue.GenerationMessage{
		BatchID:       batch.ID,
		CorrelationID: correlationID,
		ChunkSize:     s.chunkSize,
	}
	if err := s.publisher.Publish(ctx, queue.GenerationQueue, msg); err != nil {
		return fmt.Errorf("failed to enqueue generation for batch %s: %w", batch.ID, err)
	}
	return nil
}
