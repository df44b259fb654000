package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"gorm.io/gorm"
)

// maxFailureReasonLength bounds the persisted failure message.
const maxFailureReasonLength = 1024

type BatchListParams struct {
	Status    *domain.BatchStatus
	CreatedBy *string
	After     *domain.Cursor
	Limit     int
}

type BatchRepository interface {
	Create(ctx context.Context, b *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	List(ctx context.Context, params BatchListParams) ([]domain.Batch, error)
	IncrementGeneratedCount(ctx context.Context, id string, delta int) error
	SyncGeneratedCount(ctx context.Context, id string, count int) error
	MarkCompleted(ctx context.Context, id string, quantity int, completedAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
	Delete(ctx context.Context, id string) error
}

type GormBatchRepo struct {
	db *gorm.DB
}

func NewGormBatchRepo(db *gorm.DB) *GormBatchRepo {
	return &GormBatchRepo{db: db}
}

func (r *GormBatchRepo) Create(ctx context.Context, b *domain.Batch) error {
	model := batchModelFromDomain(b)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if b != nil {
		*b = *batchModelToDomain(model)
	}
	return nil
}

func (r *GormBatchRepo) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	var model BatchModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchModelToDomain(&model), nil
}

// List returns batches newest first, starting after params.After.
func (r *GormBatchRepo) List(ctx context.Context, params BatchListParams) ([]domain.Batch, error) {
	query := r.db.WithContext(ctx).Model(&BatchModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.CreatedBy != nil {
		query = query.Where("created_by = ?", *params.CreatedBy)
	}
	if !params.After.IsZero() {
		createdAt, err := time.Parse(time.RFC3339Nano, params.After.SortKey)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor sort key", domain.ErrValidation)
		}
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			createdAt, createdAt, params.After.ID,
		)
	}

	limit := params.Limit
	if limit < 1 {
		limit = 20
	}

	var models []BatchModel
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	batches := make([]domain.Batch, 0, len(models))
	for i := range models {
		batches = append(batches, *batchModelToDomain(&models[i]))
	}

	return batches, nil
}

// IncrementGeneratedCount adds delta to the progress counter with a single
// additive update. It only applies while the batch is generating and the
// counter stays within quantity.
func (r *GormBatchRepo) IncrementGeneratedCount(ctx context.Context, id string, delta int) error {
	if delta <= 0 {
		return fmt.Errorf("%w: increment must be positive", domain.ErrValidation)
	}

	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ? AND generated_count + ? <= quantity", id, domain.BatchStatusGenerating, delta).
		Updates(map[string]any{
			"generated_count": gorm.Expr("generated_count + ?", delta),
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionRejected(ctx, id)
	}
	return nil
}

// SyncGeneratedCount overwrites the progress counter with count, the number
// of code rows actually stored for the batch. Same guards as the increment.
func (r *GormBatchRepo) SyncGeneratedCount(ctx context.Context, id string, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: generated count must not be negative", domain.ErrValidation)
	}

	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ? AND ? <= quantity", id, domain.BatchStatusGenerating, count).
		Updates(map[string]any{
			"generated_count": count,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionRejected(ctx, id)
	}
	return nil
}

func (r *GormBatchRepo) MarkCompleted(ctx context.Context, id string, quantity int, completedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusGenerating).
		Updates(map[string]any{
			"status":          domain.BatchStatusCompleted,
			"generated_count": quantity,
			"completed_at":    completedAt,
			"updated_at":      completedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionRejected(ctx, id)
	}
	return nil
}

func (r *GormBatchRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	if len(reason) > maxFailureReasonLength {
		reason = reason[:maxFailureReasonLength]
	}

	result := r.db.WithContext(ctx).
		Model(&BatchModel{}).
		Where("id = ? AND status = ?", id, domain.BatchStatusGenerating).
		Updates(map[string]any{
			"status":         domain.BatchStatusFailed,
			"failure_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.transitionRejected(ctx, id)
	}
	return nil
}

func (r *GormBatchRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&BatchModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// transitionRejected explains why a guarded update touched no rows.
func (r *GormBatchRepo) transitionRejected(ctx context.Context, id string) error {
	batch, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if batch.Status.IsTerminal() {
		return fmt.Errorf("%w: batch %s is %s", domain.ErrFailedPrecondition, id, batch.Status)
	}
	return fmt.Errorf("%w: progress for batch %s would exceed quantity %d", domain.ErrConflict, id, batch.Quantity)
}
