package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// CreatePayoutsTables creates payouts and their claim lists
func CreatePayoutsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_payouts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS payouts (
					id UUID PRIMARY KEY,
					user_id VARCHAR(100) NOT NULL,
					method VARCHAR(30) NOT NULL,
					currency VARCHAR(3) NOT NULL,
					total_amount DECIMAL(20,2) NOT NULL,
					fees DECIMAL(20,2) NOT NULL DEFAULT 0,
					net_amount DECIMAL(20,2) NOT NULL,
					status VARCHAR(20) NOT NULL,
					status_reason TEXT,
					reference VARCHAR(100) NOT NULL,
					version BIGINT NOT NULL DEFAULT 1,
					scheduled_date TIMESTAMP WITH TIME ZONE NOT NULL,
					processed_date TIMESTAMP WITH TIME ZONE,
					status_changed_at TIMESTAMP WITH TIME ZONE NOT NULL,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					CONSTRAINT chk_payout_net CHECK (net_amount = total_amount - fees)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_reference ON payouts(reference);
				CREATE INDEX IF NOT EXISTS idx_payouts_user_id ON payouts(user_id);
				CREATE INDEX IF NOT EXISTS idx_payouts_status ON payouts(status);
				CREATE INDEX IF NOT EXISTS idx_payouts_scheduled_date ON payouts(scheduled_date);
			`).Error; err != nil {
				return err
			}

			return tx.Exec(`
				CREATE TABLE IF NOT EXISTS payout_items (
					id UUID PRIMARY KEY,
					payout_id UUID NOT NULL REFERENCES payouts(id),
					commission_id UUID NOT NULL REFERENCES commissions(id),
					position INT NOT NULL,
					amount DECIMAL(20,2) NOT NULL,
					UNIQUE (payout_id, position)
				);

				CREATE INDEX IF NOT EXISTS idx_payout_items_commission_id ON payout_items(commission_id);

				ALTER TABLE commissions
					ADD CONSTRAINT fk_commissions_claimed_by FOREIGN KEY (claimed_by) REFERENCES payouts(id);
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Exec("ALTER TABLE commissions DROP CONSTRAINT IF EXISTS fk_commissions_claimed_by").Error; err != nil {
				return err
			}
			if err := tx.Exec("DROP TABLE IF EXISTS payout_items").Error; err != nil {
				return err
			}
			return tx.Exec("DROP TABLE IF EXISTS payouts").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, CreatePayoutsTables())
}
