package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payout is a batch of claimed commissions settled through one method
type Payout struct {
	Base
	UserID       string          `gorm:"type:varchar(100);not null;index" json:"user_id"`
	Method       PayoutMethod    `gorm:"type:varchar(30);not null;index" json:"method"`
	Currency     Currency        `gorm:"type:varchar(3);not null" json:"currency"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_amount"`
	Fees         decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"fees"`
	NetAmount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"net_amount"`
	Status       PayoutStatus    `gorm:"type:varchar(20);not null;index" json:"status"`
	StatusReason string          `gorm:"type:text" json:"status_reason,omitempty"`
	Reference    string          `gorm:"type:varchar(100);uniqueIndex" json:"reference"`
	// ProviderReference is the settlement rail's id for the transfer
	ProviderReference string       `gorm:"type:varchar(150)" json:"provider_reference,omitempty"`
	Version           int64        `gorm:"not null;default:1" json:"version"`
	ScheduledDate     time.Time    `gorm:"not null;index" json:"scheduled_date"`
	ProcessedDate     *time.Time   `json:"processed_date,omitempty"`
	StatusChangedAt   time.Time    `gorm:"not null" json:"status_changed_at"`
	Items             []PayoutItem `gorm:"foreignKey:PayoutID" json:"items"`
}

// TableName specifies the table name for GORM
func (Payout) TableName() string {
	return "payouts"
}

// CommissionIDs returns the claimed commission ids in claim order.
func (p *Payout) CommissionIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(p.Items))
	for i, item := range p.Items {
		ids[i] = item.CommissionID
	}
	return ids
}

// Clone returns a deep copy of the payout and its items.
func (p *Payout) Clone() *Payout {
	out := *p
	out.ProcessedDate = cloneTime(p.ProcessedDate)
	out.Items = append([]PayoutItem(nil), p.Items...)
	return &out
}

// PayoutItem records one commission claimed by a payout. Rows stay after a
// payout fails or is cancelled; the live claim is Commission.ClaimedBy.
type PayoutItem struct {
	ID           uuid.UUID       `gorm:"type:uuid;primary_key" json:"-"`
	PayoutID     uuid.UUID       `gorm:"type:uuid;not null;index" json:"-"`
	CommissionID uuid.UUID       `gorm:"type:uuid;not null;index" json:"commission_id"`
	Position     int             `gorm:"not null" json:"position"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
}

// TableName specifies the table name for GORM
func (PayoutItem) TableName() string {
	return "payout_items"
}

// PayoutFilter narrows payout listings
type PayoutFilter struct {
	Status    *PayoutStatus
	Method    *PayoutMethod
	UserID    string
	Scheduled DateRange
	Limit     int
}

// ClaimRequest identifies the commissions a new payout may claim
type ClaimRequest struct {
	UserID   string
	Method   PayoutMethod
	Currency Currency
}

// ClaimGroup is a (user, currency) pair with claimable commissions
type ClaimGroup struct {
	UserID   string
	Currency Currency
	Count    int
}

// PayoutBuilder turns the locked, claimable commissions into the payout row to
// insert. It runs inside the claim transaction.
type PayoutBuilder func(claimable []Commission) (*Payout, error)

// PayoutCascade is the effect a payout transition has on its claimed commissions
type PayoutCascade int

const (
	CascadeNone PayoutCascade = iota
	CascadeMarkPaid
	CascadeRelease
)

// CascadeFor returns the commission side effect of moving a payout to target.
func CascadeFor(target PayoutStatus) PayoutCascade {
	switch target {
	case PayoutStatusCompleted:
		return CascadeMarkPaid
	case PayoutStatusFailed, PayoutStatusCancelled:
		return CascadeRelease
	}
	return CascadeNone
}
