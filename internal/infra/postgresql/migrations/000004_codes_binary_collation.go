package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// Prefix range scans compare code ids byte-wise against a "~" upper bound.
// Postgres needs the C collation for that; sqlite compares BINARY already.
func useBinaryCollationForCodes() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_codes_binary_collation",
		Migrate: func(tx *gorm.DB) error {
			if tx.Dialector.Name() != "postgres" {
				return nil
			}
			return tx.Exec(`ALTER TABLE codes ALTER COLUMN id TYPE varchar(64) COLLATE "C"`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			if tx.Dialector.Name() != "postgres" {
				return nil
			}
			return tx.Exec(`ALTER TABLE codes ALTER COLUMN id TYPE varchar(64) COLLATE "default"`).Error
		},
	}
}
