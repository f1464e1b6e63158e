package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Commission represents an owed amount for one beneficiary and one business event
type Commission struct {
	Base
	Type             CommissionType      `gorm:"type:varchar(40);not null;uniqueIndex:idx_commission_source;index" json:"type"`
	SourceRef        string              `gorm:"type:varchar(200);not null;uniqueIndex:idx_commission_source" json:"source_ref"`
	UserID           string              `gorm:"type:varchar(100);not null;index" json:"user_id"`
	BaseAmount       decimal.Decimal     `gorm:"type:decimal(20,2);not null" json:"base_amount"`
	VolumeAmount     decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"volume_amount"`
	CalculatedAmount decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"calculated_amount"`
	Currency         Currency            `gorm:"type:varchar(3);not null" json:"currency"`
	RuleID           *uuid.UUID          `gorm:"type:uuid" json:"rule_id,omitempty"`
	RuleVersion      *int                `json:"rule_version,omitempty"`
	Status           CommissionStatus    `gorm:"type:varchar(20);not null;index" json:"status"`
	StatusReason     string              `gorm:"type:text" json:"status_reason,omitempty"`
	ClaimedBy        *uuid.UUID          `gorm:"type:uuid;index" json:"claimed_by,omitempty"`
	Version          int64               `gorm:"not null;default:1" json:"version"`
	Metadata         datatypes.JSONMap   `gorm:"type:jsonb" json:"metadata,omitempty"`
	OccurredAt       time.Time           `gorm:"not null" json:"occurred_at"`
	StatusChangedAt  time.Time           `gorm:"not null" json:"status_changed_at"`
	CalculatedAt     *time.Time          `json:"calculated_at,omitempty"`
	ApprovedAt       *time.Time          `json:"approved_at,omitempty"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
}

// TableName specifies the table name for GORM
func (Commission) TableName() string {
	return "commissions"
}

// Amount returns the calculated amount, or zero while the commission is uncalculated.
func (c *Commission) Amount() decimal.Decimal {
	if !c.CalculatedAmount.Valid {
		return decimal.Zero
	}
	return c.CalculatedAmount.Decimal
}

// Volume returns the tier selector for rule evaluation.
func (c *Commission) Volume() decimal.Decimal {
	if c.VolumeAmount.Valid {
		return c.VolumeAmount.Decimal
	}
	return c.BaseAmount
}

// Clone returns a deep copy so stores never share pointers with callers.
func (c *Commission) Clone() *Commission {
	out := *c
	out.RuleID = cloneUUID(c.RuleID)
	out.ClaimedBy = cloneUUID(c.ClaimedBy)
	out.CalculatedAt = cloneTime(c.CalculatedAt)
	out.ApprovedAt = cloneTime(c.ApprovedAt)
	out.PaidAt = cloneTime(c.PaidAt)
	if c.RuleVersion != nil {
		v := *c.RuleVersion
		out.RuleVersion = &v
	}
	if c.Metadata != nil {
		out.Metadata = make(datatypes.JSONMap, len(c.Metadata))
		for k, v := range c.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// CommissionTransition is an audit row written for every commission status change
type CommissionTransition struct {
	ID           uuid.UUID        `gorm:"type:uuid;primary_key" json:"id"`
	CommissionID uuid.UUID        `gorm:"type:uuid;not null;index" json:"commission_id"`
	FromStatus   CommissionStatus `gorm:"type:varchar(20)" json:"from_status"`
	ToStatus     CommissionStatus `gorm:"type:varchar(20);not null" json:"to_status"`
	Reason       string           `gorm:"type:text" json:"reason,omitempty"`
	Actor        string           `gorm:"type:varchar(100)" json:"actor,omitempty"`
	PayoutID     *uuid.UUID       `gorm:"type:uuid" json:"payout_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// TableName specifies the table name for GORM
func (CommissionTransition) TableName() string {
	return "commission_transitions"
}

// CommissionFilter narrows commission listings. Zero values mean "any".
type CommissionFilter struct {
	Type          *CommissionType
	Status        *CommissionStatus
	Statuses      []CommissionStatus
	UserID        string
	Currency      Currency
	Created       DateRange
	CreatedBefore time.Time
	MissingAmount bool
	UnclaimedOnly bool
	Sort          CommissionSort
	Limit         int
}

// CommissionSort orders commission listings. Sorting by a nullable timestamp
// also drops rows where it is unset.
type CommissionSort int

const (
	SortCreatedDesc CommissionSort = iota
	SortCreatedAsc
	SortCalculatedDesc
	SortPaidDesc
)

func cloneUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
