package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/export"
	"github.com/kursadbilgin/code-batch-engine/internal/observability"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
	"github.com/kursadbilgin/code-batch-engine/internal/storage"
	"go.uber.org/zap"
)

const (
	defaultExportURLTTL   = time.Hour
	defaultExportPageSize = 1000
)

type ExportParams struct {
	BatchID       string
	Format        string
	IncludeStatus bool
	UserID        string
}

type ExportResult struct {
	DownloadURL string
	FileName    string
	CodeCount   int
}

type ExportService struct {
	batches  repository.BatchRepository
	codes    repository.CodeRepository
	audits   repository.ExportAuditRepository
	store    storage.BlobStore
	urlTTL   time.Duration
	pageSize int
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time
	newID    func() string
}

func NewExportService(
	batches repository.BatchRepository,
	codes repository.CodeRepository,
	audits repository.ExportAuditRepository,
	store storage.BlobStore,
	urlTTL time.Duration,
	logger *zap.Logger,
) *ExportService {
	if urlTTL <= 0 {
		urlTTL = defaultExportURLTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExportService{
		batches:  batches,
		codes:    codes,
		audits:   audits,
		store:    store,
		urlTTL:   urlTTL,
		pageSize: defaultExportPageSize,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (s *ExportService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Export renders every code of the batch, stores the artifact and returns a
// time-limited download link to it.
func (s *ExportService) Export(ctx context.Context, params ExportParams) (*ExportResult, error) {
	userID := strings.TrimSpace(params.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: exporting user is required", domain.ErrUnauthenticated)
	}

	format, err := domain.ParseExportFormatFromString(params.Format)
	if err != nil {
		return nil, err
	}
	renderer, err := export.RendererFor(format)
	if err != nil {
		return nil, err
	}

	batch, err := s.batches.GetByID(ctx, params.BatchID)
	if err != nil {
		return nil, err
	}

	codes, err := s.allCodes(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return nil, fmt.Errorf("%w: batch %s has no codes to export", domain.ErrNotFound, batch.ID)
	}

	exportedAt := s.now().UTC()
	var buf bytes.Buffer
	err = renderer.Render(&buf, export.Document{
		BatchID:       batch.ID,
		BatchName:     batch.Name,
		ExportedAt:    exportedAt,
		IncludeStatus: params.IncludeStatus,
		Codes:         codes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render export: %w", err)
	}

	fileName := export.FileName(batch.ID, exportedAt, renderer)
	key := storage.ExportKey(userID, fileName)
	size := int64(buf.Len())

	if err := s.store.Write(ctx, key, bytes.NewReader(buf.Bytes()), size, renderer.ContentType()); err != nil {
		return nil, fmt.Errorf("failed to store export: %w", err)
	}

	downloadURL, err := s.store.GetURL(ctx, key, s.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create download url: %w", err)
	}

	logger := observability.ContextLogger(ctx, s.logger)
	audit := &domain.ExportAudit{
		ID:        s.newID(),
		BatchID:   batch.ID,
		UserID:    userID,
		FileName:  fileName,
		Format:    format,
		SizeBytes: size,
		CodeCount: len(codes),
		CreatedAt: exportedAt,
	}
	if err := s.audits.Create(ctx, audit); err != nil {
		logger.Error("failed to record export audit",
			zap.String("batchId", batch.ID),
			zap.String("fileName", fileName),
			zap.Error(err),
		)
	}

	s.metrics.IncExport(format.String())
	logger.Info("batch exported",
		zap.String("batchId", batch.ID),
		zap.String("format", format.String()),
		zap.Int("codeCount", len(codes)),
		zap.Int64("sizeBytes", size),
	)

	return &ExportResult{
		DownloadURL: downloadURL,
		FileName:    fileName,
		CodeCount:   len(codes),
	}, nil
}

func (s *ExportService) allCodes(ctx context.Context, batchID string) ([]domain.Code, error) {
	var (
		all   []domain.Code
		after *domain.Cursor
	)
	for {
		page, err := s.codes.ListByBatch(ctx, repository.CodeListParams{
			BatchID: batchID,
			After:   after,
			Limit:   s.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read codes for export: %w", err)
		}

		all = append(all, page...)
		if len(page) < s.pageSize {
			return all, nil
		}

		last := page[len(page)-1].ID
		after = &domain.Cursor{SortKey: last, ID: last}
	}
}
