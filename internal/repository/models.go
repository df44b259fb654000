package repository

import (
	"time"

	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/shopspring/decimal"
)

// BatchModel is the persistence model for the batches table.
type BatchModel struct {
	ID                  string             `gorm:"type:varchar(36);primaryKey"`
	Name                string             `gorm:"type:varchar(255);not null"`
	Description         string             `gorm:"type:text;not null;default:''"`
	Prefix              string             `gorm:"type:varchar(32);not null"`
	CodeLength          int                `gorm:"not null"`
	Quantity            int                `gorm:"not null"`
	Status              domain.BatchStatus `gorm:"type:varchar(20);not null"`
	Strategy            domain.Strategy    `gorm:"type:varchar(20);not null"`
	GeneratedCount      int                `gorm:"not null;default:0"`
	CreatedBy           string             `gorm:"type:varchar(128);not null"`
	ProductType         *string            `gorm:"type:varchar(64)"`
	DistributionChannel *string            `gorm:"type:varchar(64)"`
	Cost                *decimal.Decimal   `gorm:"type:numeric(12,2)"`
	ExpiresAt           *time.Time
	FailureReason       *string `gorm:"type:text"`
	CompletedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// CodeModel is the persistence model for the codes table. The code string is
// the primary key, which makes it unique across every batch.
type CodeModel struct {
	ID          string            `gorm:"type:varchar(64);primaryKey"`
	BatchID     string            `gorm:"type:varchar(36);not null"`
	Status      domain.CodeStatus `gorm:"type:varchar(20);not null"`
	AssignedAt  *time.Time
	AssignedTo  *string `gorm:"type:varchar(128)"`
	ProductType *string `gorm:"type:varchar(64)"`
	ExpiresAt   *time.Time
	CreatedAt   time.Time
}

func (CodeModel) TableName() string {
	return "codes"
}

// ExportAuditModel is the persistence model for the append-only export log.
type ExportAuditModel struct {
	ID        string              `gorm:"type:varchar(36);primaryKey"`
	BatchID   string              `gorm:"type:varchar(36);not null"`
	UserID    string              `gorm:"type:varchar(128);not null"`
	FileName  string              `gorm:"type:varchar(255);not null"`
	Format    domain.ExportFormat `gorm:"type:varchar(10);not null"`
	SizeBytes int64               `gorm:"not null"`
	CodeCount int                 `gorm:"not null"`
	CreatedAt time.Time
}

func (ExportAuditModel) TableName() string {
	return "export_audits"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:                  b.ID,
		Name:                b.Name,
		Description:         b.Description,
		Prefix:              b.Prefix,
		CodeLength:          b.CodeLength,
		Quantity:            b.Quantity,
		Status:              b.Status,
		Strategy:            b.Strategy,
		GeneratedCount:      b.GeneratedCount,
		CreatedBy:           b.CreatedBy,
		ProductType:         b.ProductType,
		DistributionChannel: b.DistributionChannel,
		Cost:                b.Cost,
		ExpiresAt:           b.ExpiresAt,
		FailureReason:       b.FailureReason,
		CompletedAt:         b.CompletedAt,
		CreatedAt:           b.CreatedAt,
		UpdatedAt:           b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:                  m.ID,
		Name:                m.Name,
		Description:         m.Description,
		Prefix:              m.Prefix,
		CodeLength:          m.CodeLength,
		Quantity:            m.Quantity,
		Status:              m.Status,
		Strategy:            m.Strategy,
		GeneratedCount:      m.GeneratedCount,
		CreatedBy:           m.CreatedBy,
		ProductType:         m.ProductType,
		DistributionChannel: m.DistributionChannel,
		Cost:                m.Cost,
		ExpiresAt:           m.ExpiresAt,
		FailureReason:       m.FailureReason,
		CompletedAt:         m.CompletedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
}

func codeModelFromDomain(c *domain.Code) *CodeModel {
	if c == nil {
		return nil
	}

	return &CodeModel{
		ID:          c.ID,
		BatchID:     c.BatchID,
		Status:      c.Status,
		AssignedAt:  c.AssignedAt,
		AssignedTo:  c.AssignedTo,
		ProductType: c.ProductType,
		ExpiresAt:   c.ExpiresAt,
		CreatedAt:   c.CreatedAt,
	}
}

func codeModelToDomain(m *CodeModel) *domain.Code {
	if m == nil {
		return nil
	}

	return &domain.Code{
		ID:          m.ID,
		BatchID:     m.BatchID,
		Status:      m.Status,
		AssignedAt:  m.AssignedAt,
		AssignedTo:  m.AssignedTo,
		ProductType: m.ProductType,
		ExpiresAt:   m.ExpiresAt,
		CreatedAt:   m.CreatedAt,
	}
}

func auditModelFromDomain(a *domain.ExportAudit) *ExportAuditModel {
	if a == nil {
		return nil
	}

	return &ExportAuditModel{
		ID:        a.ID,
		BatchID:   a.BatchID,
		UserID:    a.UserID,
		FileName:  a.FileName,
		Format:    a.Format,
		SizeBytes: a.SizeBytes,
		CodeCount: a.CodeCount,
		CreatedAt: a.CreatedAt,
	}
}

func auditModelToDomain(m *ExportAuditModel) *domain.ExportAudit {
	if m == nil {
		return nil
	}

	return &domain.ExportAudit{
		ID:        m.ID,
		BatchID:   m.BatchID,
		UserID:    m.UserID,
		FileName:  m.FileName,
		Format:    m.Format,
		SizeBytes: m.SizeBytes,
		CodeCount: m.CodeCount,
		CreatedAt: m.CreatedAt,
	}
}
