package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// CreateCommissionsTables creates the ledger and its audit trail
func CreateCommissionsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_commissions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS commissions (
					id UUID PRIMARY KEY,
					type VARCHAR(40) NOT NULL,
					source_ref VARCHAR(200) NOT NULL,
					user_id VARCHAR(100) NOT NULL,
					base_amount DECIMAL(20,2) NOT NULL,
					volume_amount DECIMAL(20,2),
					calculated_amount DECIMAL(20,2),
					currency VARCHAR(3) NOT NULL,
					rule_id UUID REFERENCES commission_rules(id),
					rule_version INT,
					status VARCHAR(20) NOT NULL,
					status_reason TEXT,
					claimed_by UUID,
					version BIGINT NOT NULL DEFAULT 1,
					metadata JSONB,
					occurred_at TIMESTAMP WITH TIME ZONE NOT NULL,
					status_changed_at TIMESTAMP WITH TIME ZONE NOT NULL,
					calculated_at TIMESTAMP WITH TIME ZONE,
					approved_at TIMESTAMP WITH TIME ZONE,
					paid_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					CONSTRAINT chk_commission_amount_rule CHECK (calculated_amount IS NULL OR rule_id IS NOT NULL)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_commission_source ON commissions(type, source_ref);
				CREATE INDEX IF NOT EXISTS idx_commissions_user_id ON commissions(user_id);
				CREATE INDEX IF NOT EXISTS idx_commissions_status ON commissions(status);
				CREATE INDEX IF NOT EXISTS idx_commissions_created_at ON commissions(created_at);
				CREATE INDEX IF NOT EXISTS idx_commissions_claimable ON commissions(user_id, currency)
					WHERE status = 'approved' AND claimed_by IS NULL;
			`).Error; err != nil {
				return err
			}

			return tx.Exec(`
				CREATE TABLE IF NOT EXISTS commission_transitions (
					id UUID PRIMARY KEY,
					commission_id UUID NOT NULL REFERENCES commissions(id),
					from_status VARCHAR(20),
					to_status VARCHAR(20) NOT NULL,
					reason TEXT,
					actor VARCHAR(100),
					payout_id UUID,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_commission_transitions_commission_id ON commission_transitions(commission_id);
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			if err := tx.Exec("DROP TABLE IF EXISTS commission_transitions").Error; err != nil {
				return err
			}
			return tx.Exec("DROP TABLE IF EXISTS commissions").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, CreateCommissionsTables())
}
