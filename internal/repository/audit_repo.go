package repository

import (
	"context"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"gorm.io/gorm"
)

type ExportAuditRepository interface {
	Create(ctx context.Context, a *domain.ExportAudit) error
	ListByBatch(ctx context.Context, batchID string) ([]domain.ExportAudit, error)
}

type GormExportAuditRepo struct {
	db *gorm.DB
}

func NewGormExportAuditRepo(db *gorm.DB) *GormExportAuditRepo {
	return &GormExportAuditRepo{db: db}
}

func (r *GormExportAuditRepo) Create(ctx context.Context, a *domain.ExportAudit) error {
	model := auditModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *auditModelToDomain(model)
	}
	return nil
}

func (r *GormExportAuditRepo) ListByBatch(ctx context.Context, batchID string) ([]domain.ExportAudit, error) {
	var models []ExportAuditModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	audits := make([]domain.ExportAudit, 0, len(models))
	for i := range models {
		audits = append(audits, *auditModelToDomain(&models[i]))
	}
	return audits, nil
}
