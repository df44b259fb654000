package service

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/code-batch-engine/internal/observability"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
	"go.uber.org/zap"
)

const defaultDeleteChunkSize = 500

type DeleteResult struct {
	BatchID      string
	CodesDeleted int64
	Message      string
}

// DeletionService removes a batch and its codes. Codes go in bounded chunks
// so a large batch never holds one long delete; an interrupted run can be
// repeated and picks up what is left.
type DeletionService struct {
	batches   repository.BatchRepository
	codes     repository.CodeRepository
	chunkSize int
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewDeletionService(
	batches repository.BatchRepository,
	codes repository.CodeRepository,
	chunkSize int,
	logger *zap.Logger,
) *DeletionService {
	if chunkSize < 1 {
		chunkSize = defaultDeleteChunkSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DeletionService{
		batches:   batches,
		codes:     codes,
		chunkSize: chunkSize,
		logger:    logger,
	}
}

func (s *DeletionService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

func (s *DeletionService) DeleteBatch(ctx context.Context, batchID string) (*DeleteResult, error) {
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return nil, err
	}

	total, err := s.codes.CountByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to count codes of batch %s: %w", batchID, err)
	}

	logger := observability.ContextLogger(ctx, s.logger).With(zap.String("batchId", batchID))

	if total == 0 {
		if err := s.batches.Delete(ctx, batchID); err != nil {
			return nil, err
		}
		s.metrics.IncBatchDeleted("direct", 0)
		logger.Info("batch deleted without codes")
		return &DeleteResult{BatchID: batchID, Message: "batch deleted (no codes)"}, nil
	}

	var deleted int64
	for {
		n, err := s.codes.DeleteChunkByBatch(ctx, batchID, s.chunkSize)
		if err != nil {
			return nil, fmt.Errorf("failed to delete codes of batch %s after %d rows: %w", batchID, deleted, err)
		}
		if n == 0 {
			break
		}
		deleted += n
	}

	if err := s.batches.Delete(ctx, batchID); err != nil {
		return nil, err
	}

	s.metrics.IncBatchDeleted("chunked", deleted)
	logger.Info("batch deleted with codes", zap.Int64("codesDeleted", deleted))
	return &DeleteResult{
		BatchID:      batchID,
		CodesDeleted: deleted,
		Message:      fmt.Sprintf("batch and %d codes deleted", deleted),
	}, nil
}
