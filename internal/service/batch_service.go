package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/code-batch-engine/internal/codegen"
	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/observability"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultInlineThreshold = 500
	defaultMaxQuantity     = 100000
	defaultPageSize        = 20
	maxPageSize            = 100
	maxNameLength          = 255
	maxDescriptionLength   = 2000
	maxMetadataLength      = 64
)

type BatchServiceConfig struct {
	// InlineThreshold is the largest quantity generated inline.
	InlineThreshold int
	MaxQuantity     int
}

type BatchService struct {
	batches         repository.BatchRepository
	codes           repository.CodeRepository
	inline          Strategy
	offloaded       Strategy
	inlineThreshold int
	maxQuantity     int
	logger          *zap.Logger
	now             func() time.Time
	newID           func() string
}

type CreateBatchParams struct {
	Name                string
	Description         string
	Prefix              string
	CodeLength          int
	Quantity            int
	CreatedBy           string
	ProductType         *string
	DistributionChannel *string
	Cost                *decimal.Decimal
	ExpiresAt           *time.Time
}

type ListBatchesParams struct {
	Status    *domain.BatchStatus
	CreatedBy *string
	PageSize  int
	Cursor    string
}

type BatchPage struct {
	Batches    []domain.Batch
	HasMore    bool
	NextCursor string
}

type ListCodesParams struct {
	BatchID  string
	Status   *domain.CodeStatus
	PageSize int
	Cursor   string
}

type CodePage struct {
	Codes      []domain.Code
	HasMore    bool
	NextCursor string
}

func NewBatchService(
	batches repository.BatchRepository,
	codes repository.CodeRepository,
	inline Strategy,
	offloaded Strategy,
	cfg BatchServiceConfig,
	logger *zap.Logger,
) (*BatchService, error) {
	if inline == nil || offloaded == nil {
		return nil, fmt.Errorf("both generation strategies are required")
	}
	if cfg.InlineThreshold < 0 {
		cfg.InlineThreshold = defaultInlineThreshold
	}
	if cfg.MaxQuantity < 1 {
		cfg.MaxQuantity = defaultMaxQuantity
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchService{
		batches:         batches,
		codes:           codes,
		inline:          inline,
		offloaded:       offloaded,
		inlineThreshold: cfg.InlineThreshold,
		maxQuantity:     cfg.MaxQuantity,
		logger:          logger,
		now:             time.Now,
		newID:           uuid.NewString,
	}, nil
}

// CreateBatch persists a generating batch and dispatches its generation. It
// returns once the run is scheduled.
func (s *BatchService) CreateBatch(ctx context.Context, params CreateBatchParams) (*domain.Batch, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.validateCreate(&params); err != nil {
		return nil, err
	}

	strategy := s.strategyForQuantity(params.Quantity)
	now := s.now().UTC().Truncate(time.Microsecond)

	batch := &domain.Batch{
		ID:                  s.newID(),
		Name:                params.Name,
		Description:         params.Description,
		Prefix:              params.Prefix,
		CodeLength:          params.CodeLength,
		Quantity:            params.Quantity,
		Status:              domain.BatchStatusGenerating,
		Strategy:            strategy.Name(),
		CreatedBy:           params.CreatedBy,
		ProductType:         normalizeOptionalString(params.ProductType),
		DistributionChannel: normalizeOptionalString(params.DistributionChannel),
		Cost:                params.Cost,
		ExpiresAt:           params.ExpiresAt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	observability.ContextLogger(ctx, s.logger).Info("batch created",
		zap.String("batchId", batch.ID),
		zap.String("prefix", batch.Prefix),
		zap.Int("quantity", batch.Quantity),
		zap.String("strategy", batch.Strategy.String()),
		zap.String("createdBy", batch.CreatedBy),
	)

	if err := s.dispatch(ctx, strategy, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// RetryGeneration re-dispatches a batch that is still generating, e.g. after
// its runner died. Terminal batches are rejected.
func (s *BatchService) RetryGeneration(ctx context.Context, batchID string) (*domain.Batch, error) {
	batch, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: batch %s is already %s", domain.ErrFailedPrecondition, batchID, batch.Status)
	}

	strategy := s.offloaded
	if batch.Strategy == domain.StrategyInline {
		strategy = s.inline
	}

	if err := s.dispatch(ctx, strategy, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *BatchService) GetBatch(ctx context.Context, batchID string) (*domain.Batch, error) {
	return s.batches.GetByID(ctx, batchID)
}

func (s *BatchService) ListBatches(ctx context.Context, params ListBatchesParams) (*BatchPage, error) {
	pageSize, err := normalizePageSize(params.PageSize)
	if err != nil {
		return nil, err
	}
	after, err := domain.DecodeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	batches, err := s.batches.List(ctx, repository.BatchListParams{
		Status:    params.Status,
		CreatedBy: params.CreatedBy,
		After:     after,
		Limit:     pageSize + 1,
	})
	if err != nil {
		return nil, err
	}

	page := &BatchPage{Batches: batches}
	if len(batches) > pageSize {
		page.Batches = batches[:pageSize]
		page.HasMore = true

		last := page.Batches[pageSize-1]
		page.NextCursor = (&domain.Cursor{
			SortKey: last.CreatedAt.UTC().Format(time.RFC3339Nano),
			ID:      last.ID,
		}).Encode()
	}
	return page, nil
}

func (s *BatchService) ListCodes(ctx context.Context, params ListCodesParams) (*CodePage, error) {
	pageSize, err := normalizePageSize(params.PageSize)
	if err != nil {
		return nil, err
	}
	after, err := domain.DecodeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if _, err := s.batches.GetByID(ctx, params.BatchID); err != nil {
		return nil, err
	}

	codes, err := s.codes.ListByBatch(ctx, repository.CodeListParams{
		BatchID: params.BatchID,
		Status:  params.Status,
		After:   after,
		Limit:   pageSize + 1,
	})
	if err != nil {
		return nil, err
	}

	page := &CodePage{Codes: codes}
	if len(codes) > pageSize {
		page.Codes = codes[:pageSize]
		page.HasMore = true

		last := page.Codes[pageSize-1]
		page.NextCursor = (&domain.Cursor{SortKey: last.ID, ID: last.ID}).Encode()
	}
	return page, nil
}

func (s *BatchService) GetCodeCounts(ctx context.Context, batchID string) (domain.CodeCounts, error) {
	if _, err := s.batches.GetByID(ctx, batchID); err != nil {
		return domain.CodeCounts{}, err
	}
	return s.codes.CountByStatus(ctx, batchID)
}

func (s *BatchService) strategyForQuantity(quantity int) Strategy {
	if quantity <= s.inlineThreshold {
		return s.inline
	}
	return s.offloaded
}

// dispatch marks the batch failed when it cannot be scheduled, so it never
// sits in generating without a runner.
func (s *BatchService) dispatch(ctx context.Context, strategy Strategy, batch *domain.Batch) error {
	err := strategy.Dispatch(ctx, batch)
	if err == nil {
		return nil
	}

	logger := observability.ContextLogger(ctx, s.logger)
	logger.Error("failed to dispatch generation",
		zap.String("batchId", batch.ID),
		zap.String("strategy", strategy.Name().String()),
		zap.Error(err),
	)

	finalizeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if markErr := s.batches.MarkFailed(finalizeCtx, batch.ID, "dispatch failed: "+err.Error()); markErr != nil {
		logger.Error("failed to mark batch as failed after dispatch error",
			zap.String("batchId", batch.ID),
			zap.Error(markErr),
		)
		return fmt.Errorf("failed to dispatch generation: %w (failed to mark as failed: %v)", err, markErr)
	}

	return fmt.Errorf("failed to dispatch generation: %w", err)
}

func (s *BatchService) validateCreate(params *CreateBatchParams) error {
	params.CreatedBy = strings.TrimSpace(params.CreatedBy)
	if params.CreatedBy == "" {
		return fmt.Errorf("%w: batch creator is required", domain.ErrUnauthenticated)
	}

	params.Name = strings.TrimSpace(params.Name)
	params.Description = strings.TrimSpace(params.Description)
	if len(params.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be at most %d characters", domain.ErrValidation, maxNameLength)
	}
	if len(params.Description) > maxDescriptionLength {
		return fmt.Errorf("%w: description must be at most %d characters", domain.ErrValidation, maxDescriptionLength)
	}

	if v := normalizeOptionalString(params.ProductType); v != nil && len(*v) > maxMetadataLength {
		return fmt.Errorf("%w: productType must be at most %d characters", domain.ErrValidation, maxMetadataLength)
	}
	if v := normalizeOptionalString(params.DistributionChannel); v != nil && len(*v) > maxMetadataLength {
		return fmt.Errorf("%w: distributionChannel must be at most %d characters", domain.ErrValidation, maxMetadataLength)
	}

	if !codegen.IsValidPrefix(params.Prefix) {
		return fmt.Errorf("%w: prefix must be 1-%d characters of letters, digits, '-' or '_'",
			domain.ErrValidation, codegen.MaxPrefixLength)
	}
	if params.CodeLength < codegen.MinCodeLength || params.CodeLength > codegen.MaxCodeLength {
		return fmt.Errorf("%w: codeLength must be between %d and %d",
			domain.ErrValidation, codegen.MinCodeLength, codegen.MaxCodeLength)
	}
	if params.Quantity < 1 || params.Quantity > s.maxQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", domain.ErrValidation, s.maxQuantity)
	}
	if int64(params.Quantity) > codegen.SuffixSpace(params.CodeLength)/2 {
		return fmt.Errorf("%w: quantity %d is too large for codeLength %d",
			domain.ErrValidation, params.Quantity, params.CodeLength)
	}
	if params.Cost != nil && params.Cost.IsNegative() {
		return fmt.Errorf("%w: cost must not be negative", domain.ErrValidation)
	}

	return nil
}

func normalizePageSize(pageSize int) (int, error) {
	if pageSize == 0 {
		return defaultPageSize, nil
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return 0, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}
	return pageSize, nil
}

func normalizeOptionalString(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
