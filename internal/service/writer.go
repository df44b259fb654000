package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
)

// ChunkedWriter persists generated codes in bounded groups and advances the
// batch progress counter after each group. Groups that committed before a
// failure stay committed.
type ChunkedWriter struct {
	codes   repository.CodeRepository
	batches repository.BatchRepository
	now     func() time.Time
}

func NewChunkedWriter(codes repository.CodeRepository, batches repository.BatchRepository) *ChunkedWriter {
	return &ChunkedWriter{
		codes:   codes,
		batches: batches,
		now:     time.Now,
	}
}

// Write returns the number of codes whose group was fully persisted.
func (w *ChunkedWriter) Write(ctx context.Context, batch *domain.Batch, codes []string, chunkSize int) (int, error) {
	if batch == nil {
		return 0, fmt.Errorf("%w: batch is required", domain.ErrValidation)
	}
	if chunkSize < 1 {
		return 0, fmt.Errorf("%w: chunk size must be positive", domain.ErrValidation)
	}

	written := 0
	for start := 0; start < len(codes); start += chunkSize {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		end := min(start+chunkSize, len(codes))
		rows := w.rows(batch, codes[start:end])

		if err := w.codes.CreateChunk(ctx, rows); err != nil {
			if isUniqueViolationError(err) {
				return written, fmt.Errorf("%w: code collision in chunk at offset %d: %v", domain.ErrConflict, start, err)
			}
			return written, fmt.Errorf("failed to insert chunk at offset %d: %w", start, err)
		}

		if err := w.batches.IncrementGeneratedCount(ctx, batch.ID, len(rows)); err != nil {
			return written, fmt.Errorf("failed to advance progress after chunk at offset %d: %w", start, err)
		}

		written += len(rows)
	}

	return written, nil
}

// Reconcile sets batch.GeneratedCount to the number of codes stored for the
// batch and returns the counter value it replaced. Progress advances after a
// group commits, so an interrupted run can leave the counter behind the rows.
func (w *ChunkedWriter) Reconcile(ctx context.Context, batch *domain.Batch) (int, error) {
	previous := batch.GeneratedCount

	stored, err := w.codes.CountByBatch(ctx, batch.ID)
	if err != nil {
		return previous, fmt.Errorf("failed to count stored codes: %w", err)
	}
	if int(stored) == previous {
		return previous, nil
	}

	if err := w.batches.SyncGeneratedCount(ctx, batch.ID, int(stored)); err != nil {
		return previous, fmt.Errorf("failed to reconcile progress with %d stored codes: %w", stored, err)
	}
	batch.GeneratedCount = int(stored)
	return previous, nil
}

func (w *ChunkedWriter) rows(batch *domain.Batch, codes []string) []domain.Code {
	createdAt := w.now().UTC()
	rows := make([]domain.Code, 0, len(codes))
	for _, code := range codes {
		rows = append(rows, domain.Code{
			ID:          code,
			BatchID:     batch.ID,
			Status:      domain.CodeStatusAvailable,
			ProductType: batch.ProductType,
			ExpiresAt:   batch.ExpiresAt,
			CreatedAt:   createdAt,
		})
	}
	return rows
}
