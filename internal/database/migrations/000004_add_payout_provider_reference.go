package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// AddPayoutProviderReference stores the settlement rail's transfer id
func AddPayoutProviderReference() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_add_payout_provider_reference",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE payouts ADD COLUMN IF NOT EXISTS provider_reference VARCHAR(150)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`ALTER TABLE payouts DROP COLUMN IF EXISTS provider_reference`).Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, AddPayoutProviderReference())
}
