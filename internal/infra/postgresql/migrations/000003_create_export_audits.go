package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
	"gorm.io/gorm"
)

func createExportAuditsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_export_audits",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ExportAuditModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_export_audits_batch_id ON export_audits (batch_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ExportAuditModel{})
		},
	}
}
