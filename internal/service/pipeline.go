package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/observability"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
	"go.uber.org/zap"
)

const finalizeTimeout = 5 * time.Second

// CodeGenerator mints distinct codes that avoid a known set.
type CodeGenerator interface {
	Generate(prefix string, length int, count int, avoid map[string]struct{}) ([]string, error)
}

// Leaser grants exclusive per-batch run leases. ok is false while another
// runner holds the lease.
type Leaser interface {
	Acquire(ctx context.Context, batchID string) (release func(context.Context) error, ok bool, err error)
}

// Runner drives one batch to a terminal state.
type Runner interface {
	Run(ctx context.Context, batchID string, chunkSize int) error
}

var _ Runner = (*Pipeline)(nil)

// Pipeline is the generation run shared by both strategies: scan once, then
// generate and write chunk by chunk until the batch holds quantity codes.
type Pipeline struct {
	batches   repository.BatchRepository
	scanner   *Scanner
	generator CodeGenerator
	writer    *ChunkedWriter
	leaser    Leaser
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewPipeline wires a pipeline. leaser may be nil when a single process owns
// every run.
func NewPipeline(
	batches repository.BatchRepository,
	scanner *Scanner,
	generator CodeGenerator,
	writer *ChunkedWriter,
	leaser Leaser,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		batches:   batches,
		scanner:   scanner,
		generator: generator,
		writer:    writer,
		leaser:    leaser,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *Pipeline) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
	p.scanner.SetMetrics(metrics)
}

// Run returns ErrNotFound, ErrFailedPrecondition or ErrConflict without
// touching the batch. A lease store error or a cancelled ctx also leaves the
// batch generating so the run can be resumed. Every other failure, including
// ctx's own deadline, marks the batch failed and comes back wrapped in
// ErrGenerationFailed.
func (p *Pipeline) Run(ctx context.Context, batchID string, chunkSize int) error {
	if chunkSize < 1 {
		return fmt.Errorf("%w: chunk size must be positive", domain.ErrValidation)
	}

	batch, err := p.batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if batch.Status.IsTerminal() {
		return fmt.Errorf("%w: batch %s is already %s", domain.ErrFailedPrecondition, batchID, batch.Status)
	}

	logger := observability.ContextLogger(ctx, p.logger).With(
		zap.String("batchId", batch.ID),
		zap.String("strategy", batch.Strategy.String()),
	)

	if p.leaser != nil {
		release, ok, err := p.leaser.Acquire(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("failed to acquire generation lease for batch %s: %w", batch.ID, err)
		}
		if !ok {
			return fmt.Errorf("%w: batch %s is already being generated", domain.ErrConflict, batch.ID)
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("failed to release generation lease", zap.Error(err))
			}
		}()
	}

	strategy := batch.Strategy.String()
	start := p.now()
	p.metrics.IncGenerationInFlight(strategy)
	defer func() {
		p.metrics.DecGenerationInFlight(strategy)
		p.metrics.ObserveGenerationDuration(strategy, p.now().Sub(start))
	}()

	previous, err := p.writer.Reconcile(ctx, batch)
	if err != nil {
		return p.abort(ctx, logger, batch, err)
	}
	if previous != batch.GeneratedCount {
		logger.Warn("progress counter reconciled with stored codes",
			zap.Int("previous", previous),
			zap.Int("stored", batch.GeneratedCount),
		)
	}

	logger.Info("generation started",
		zap.Int("quantity", batch.Quantity),
		zap.Int("generatedCount", batch.GeneratedCount),
		zap.Int("chunkSize", chunkSize),
	)

	if err := p.generate(ctx, batch, chunkSize); err != nil {
		return p.abort(ctx, logger, batch, err)
	}

	completedAt := p.now().UTC()
	if err := p.batches.MarkCompleted(ctx, batch.ID, batch.Quantity, completedAt); err != nil {
		if errors.Is(err, domain.ErrFailedPrecondition) || errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: failed to complete batch %s: %w", ErrGenerationFailed, batch.ID, err)
		}
		return p.abort(ctx, logger, batch, err)
	}

	p.metrics.IncBatchFinalized(strategy, domain.BatchStatusCompleted.String())
	logger.Info("generation completed", zap.Duration("elapsed", p.now().Sub(start)))
	return nil
}

func (p *Pipeline) generate(ctx context.Context, batch *domain.Batch, chunkSize int) error {
	avoid, err := p.scanner.Scan(ctx, batch.Prefix)
	if err != nil {
		return err
	}

	remaining := batch.Remaining()
	for remaining > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		count := min(remaining, chunkSize)
		codes, err := p.generator.Generate(batch.Prefix, batch.CodeLength, count, avoid)
		if err != nil {
			return fmt.Errorf("failed to generate codes: %w", err)
		}

		written, err := p.writer.Write(ctx, batch, codes, chunkSize)
		p.metrics.AddCodesGenerated(batch.Strategy.String(), written)
		if err != nil {
			return err
		}

		for _, code := range codes {
			avoid[code] = struct{}{}
		}
		remaining -= count
	}

	return nil
}

// abort leaves the batch generating when ctx was cancelled by its caller, so
// a later run resumes from the stored codes. Otherwise the batch is failed.
func (p *Pipeline) abort(ctx context.Context, logger *zap.Logger, batch *domain.Batch, cause error) error {
	if !errors.Is(ctx.Err(), context.Canceled) {
		return p.fail(ctx, logger, batch, cause)
	}

	logger.Warn("generation interrupted, batch left resumable",
		zap.Int("quantity", batch.Quantity),
		zap.Error(cause),
	)
	return fmt.Errorf("generation of batch %s interrupted: %w", batch.ID, ctx.Err())
}

// fail records the failure on the batch. A failure to persist it is logged
// and swallowed so the original cause is what callers see.
func (p *Pipeline) fail(ctx context.Context, logger *zap.Logger, batch *domain.Batch, cause error) error {
	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if err := p.batches.MarkFailed(finalizeCtx, batch.ID, cause.Error()); err != nil {
		logger.Error("failed to mark batch as failed",
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
	} else {
		p.metrics.IncBatchFinalized(batch.Strategy.String(), domain.BatchStatusFailed.String())
	}

	logger.Error("generation failed", zap.Error(cause))
	return fmt.Errorf("%w: batch %s: %w", ErrGenerationFailed, batch.ID, cause)
}
