package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"gorm.io/gorm"
)

type CodeListParams struct {
	BatchID string
	Status  *domain.CodeStatus
	After   *domain.Cursor
	Limit   int
}

type statusCount struct {
	Status domain.CodeStatus `gorm:"column:status"`
	Count  int               `gorm:"column:count"`
}

type CodeRepository interface {
	CreateChunk(ctx context.Context, codes []domain.Code) error
	ScanRange(ctx context.Context, lower string, upper string, limit int) ([]string, error)
	ListByBatch(ctx context.Context, params CodeListParams) ([]domain.Code, error)
	CountByBatch(ctx context.Context, batchID string) (int64, error)
	CountByStatus(ctx context.Context, batchID string) (domain.CodeCounts, error)
	DeleteChunkByBatch(ctx context.Context, batchID string, limit int) (int64, error)
}

type GormCodeRepo struct {
	db *gorm.DB
}

func NewGormCodeRepo(db *gorm.DB) *GormCodeRepo {
	return &GormCodeRepo{db: db}
}

// CreateChunk inserts all codes with a single multi-row insert.
func (r *GormCodeRepo) CreateChunk(ctx context.Context, codes []domain.Code) error {
	if len(codes) == 0 {
		return nil
	}

	models := make([]CodeModel, 0, len(codes))
	for i := range codes {
		models = append(models, *codeModelFromDomain(&codes[i]))
	}

	return r.db.WithContext(ctx).CreateInBatches(&models, len(models)).Error
}

// ScanRange returns code ids in [lower, upper), ordered, at most limit rows.
func (r *GormCodeRepo) ScanRange(ctx context.Context, lower string, upper string, limit int) ([]string, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: scan limit must be positive", domain.ErrValidation)
	}

	var ids []string
	err := r.db.WithContext(ctx).
		Model(&CodeModel{}).
		Where("id >= ? AND id < ?", lower, upper).
		Order("id ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListByBatch pages through a batch's codes in id order.
func (r *GormCodeRepo) ListByBatch(ctx context.Context, params CodeListParams) ([]domain.Code, error) {
	query := r.db.WithContext(ctx).
		Model(&CodeModel{}).
		Where("batch_id = ?", params.BatchID)

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if !params.After.IsZero() {
		query = query.Where("id > ?", params.After.ID)
	}

	limit := params.Limit
	if limit < 1 {
		limit = 100
	}

	var models []CodeModel
	if err := query.Order("id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}

	codes := make([]domain.Code, 0, len(models))
	for i := range models {
		codes = append(codes, *codeModelToDomain(&models[i]))
	}
	return codes, nil
}

func (r *GormCodeRepo) CountByBatch(ctx context.Context, batchID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&CodeModel{}).
		Where("batch_id = ?", batchID).
		Count(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *GormCodeRepo) CountByStatus(ctx context.Context, batchID string) (domain.CodeCounts, error) {
	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&CodeModel{}).
		Select("status, COUNT(*) as count").
		Where("batch_id = ?", batchID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return domain.CodeCounts{}, err
	}

	var counts domain.CodeCounts
	for _, row := range rows {
		counts.Add(row.Status, row.Count)
	}
	return counts, nil
}

// DeleteChunkByBatch removes up to limit codes of the batch and reports how
// many rows were deleted.
func (r *GormCodeRepo) DeleteChunkByBatch(ctx context.Context, batchID string, limit int) (int64, error) {
	if limit < 1 {
		return 0, fmt.Errorf("%w: delete limit must be positive", domain.ErrValidation)
	}

	db := r.db.WithContext(ctx)
	chunk := db.Model(&CodeModel{}).
		Select("id").
		Where("batch_id = ?", batchID).
		Limit(limit)

	result := db.Where("id IN (?)", chunk).Delete(&CodeModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
