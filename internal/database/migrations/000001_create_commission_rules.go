package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// CreateCommissionRulesTable creates the versioned rules table
func CreateCommissionRulesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_commission_rules",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`
				CREATE TABLE IF NOT EXISTS commission_rules (
					id UUID PRIMARY KEY,
					key VARCHAR(120) NOT NULL,
					version INT NOT NULL,
					name VARCHAR(200) NOT NULL,
					description TEXT,
					type VARCHAR(40) NOT NULL,
					formula VARCHAR(20) NOT NULL,
					flat_amount DECIMAL(20,2) NOT NULL DEFAULT 0,
					rate DECIMAL(9,4) NOT NULL DEFAULT 0,
					tiers JSONB,
					min_amount DECIMAL(20,2),
					max_amount DECIMAL(20,2),
					currency VARCHAR(3) NOT NULL,
					effective_from TIMESTAMP WITH TIME ZONE NOT NULL,
					effective_to TIMESTAMP WITH TIME ZONE,
					priority INT NOT NULL DEFAULT 0,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					superseded_by UUID REFERENCES commission_rules(id),
					deactivated_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					CONSTRAINT chk_rule_window CHECK (effective_to IS NULL OR effective_to > effective_from)
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_rule_key_version ON commission_rules(key, version);
				CREATE INDEX IF NOT EXISTS idx_rule_lookup ON commission_rules(type, active, effective_from);
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP TABLE IF EXISTS commission_rules").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, CreateCommissionRulesTable())
}
