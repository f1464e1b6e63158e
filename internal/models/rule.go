package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// FormulaType selects how a rule turns a base amount into a commission
type FormulaType string

const (
	FormulaFlat       FormulaType = "flat"
	FormulaPercentage FormulaType = "percentage"
	FormulaTiered     FormulaType = "tiered"
)

// RuleTier is one row of a tiered table. The tier applies when the volume is
// at least Threshold; Rate is a percentage and FlatAmount is added on top.
type RuleTier struct {
	Threshold  decimal.Decimal `json:"threshold"`
	Rate       decimal.Decimal `json:"rate"`
	FlatAmount decimal.Decimal `json:"flat_amount"`
}

// CommissionRule is one immutable version of a commission formula
type CommissionRule struct {
	Base
	Key           string                        `gorm:"type:varchar(120);not null;uniqueIndex:idx_rule_key_version" json:"key"`
	Version       int                           `gorm:"not null;uniqueIndex:idx_rule_key_version" json:"version"`
	Name          string                        `gorm:"type:varchar(200);not null" json:"name"`
	Description   string                        `gorm:"type:text" json:"description,omitempty"`
	Type          CommissionType                `gorm:"type:varchar(40);not null;index:idx_rule_lookup" json:"type"`
	Formula       FormulaType                   `gorm:"type:varchar(20);not null" json:"formula"`
	FlatAmount    decimal.Decimal               `gorm:"type:decimal(20,2);not null;default:0" json:"flat_amount"`
	Rate          decimal.Decimal               `gorm:"type:decimal(9,4);not null;default:0" json:"rate"`
	Tiers         datatypes.JSONSlice[RuleTier] `gorm:"type:jsonb" json:"tiers,omitempty"`
	MinAmount     decimal.NullDecimal           `gorm:"type:decimal(20,2)" json:"min_amount"`
	MaxAmount     decimal.NullDecimal           `gorm:"type:decimal(20,2)" json:"max_amount"`
	Currency      Currency                      `gorm:"type:varchar(3);not null" json:"currency"`
	EffectiveFrom time.Time                     `gorm:"not null;index:idx_rule_lookup" json:"effective_from"`
	EffectiveTo   *time.Time                    `json:"effective_to,omitempty"`
	Priority      int                           `gorm:"not null;default:0" json:"priority"`
	Active        bool                          `gorm:"not null;default:true;index:idx_rule_lookup" json:"active"`
	SupersededBy  *uuid.UUID                    `gorm:"type:uuid" json:"superseded_by,omitempty"`
	DeactivatedAt *time.Time                    `json:"deactivated_at,omitempty"`
}

// TableName specifies the table name for GORM
func (CommissionRule) TableName() string {
	return "commission_rules"
}

// OpenEffectiveFrom starts the window of a rule created without an explicit
// start, so it also applies to events recorded before the rule existed.
var OpenEffectiveFrom = time.Unix(0, 0).UTC()

// AppliesAt reports whether the rule's validity window contains t.
func (r *CommissionRule) AppliesAt(t time.Time) bool {
	if t.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !t.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// RuleFilter narrows rule listings
type RuleFilter struct {
	Type       *CommissionType
	Key        string
	ActiveOnly bool
}

// Clone returns a deep copy of the rule.
func (r *CommissionRule) Clone() *CommissionRule {
	out := *r
	out.EffectiveTo = cloneTime(r.EffectiveTo)
	out.DeactivatedAt = cloneTime(r.DeactivatedAt)
	out.SupersededBy = cloneUUID(r.SupersededBy)
	if r.Tiers != nil {
		out.Tiers = append(datatypes.JSONSlice[RuleTier]{}, r.Tiers...)
	}
	return &out
}
