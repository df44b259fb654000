package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/code-batch-engine/internal/repository"
	"gorm.io/gorm"
)

func createCodesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_codes",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.CodeModel{}); err != nil {
				return err
			}
			return execAll(tx,
				`CREATE INDEX IF NOT EXISTS idx_codes_batch_id_id ON codes (batch_id, id)`,
				`CREATE INDEX IF NOT EXISTS idx_codes_batch_id_status ON codes (batch_id, status)`,
			)
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.CodeModel{})
		},
	}
}
