package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Period is a half-open reporting window [From, To) in the reporting timezone
type Period struct {
	Label string    `json:"label"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// Breakdown is a {count, amount} pair used by the by-type and by-status maps
type Breakdown struct {
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// Summary is the headline figures of a reporting period
type Summary struct {
	Period             Period          `json:"period"`
	Currency           Currency        `json:"currency"`
	TotalCommissions   int             `json:"total_commissions"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	PendingCommissions int             `json:"pending_commissions"`
	PendingAmount      decimal.Decimal `json:"pending_amount"`
	AverageCommission  decimal.Decimal `json:"average_commission"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

// TrendBucket is one day of a report trend
type TrendBucket struct {
	Date             string          `json:"date"`
	Start            time.Time       `json:"start"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	CommissionsCount int             `json:"commissions_count"`
}

// Report is the full breakdown of a reporting period
type Report struct {
	Summary  Summary                        `json:"summary"`
	ByType   map[CommissionType]Breakdown   `json:"by_type"`
	ByStatus map[CommissionStatus]Breakdown `json:"by_status"`
	Trend    []TrendBucket                  `json:"trend"`
}

// TopEarner is one row of the earnings leaderboard
type TopEarner struct {
	UserID            string          `json:"user_id"`
	TotalEarned       decimal.Decimal `json:"total_earned"`
	CommissionsCount  int             `json:"commissions_count"`
	AverageCommission decimal.Decimal `json:"average_commission"`
}

// ActivityKind names an entry of the recent-activity feed
type ActivityKind string

const (
	ActivityCommissionEarned ActivityKind = "commission_earned"
	ActivityCommissionPaid   ActivityKind = "commission_paid"
	ActivityRuleCreated      ActivityKind = "rule_created"
	ActivityRuleDeactivated  ActivityKind = "rule_deactivated"
)

// ActivityEvent is one entry of the recent-activity feed
type ActivityEvent struct {
	Kind         ActivityKind     `json:"kind"`
	At           time.Time        `json:"at"`
	CommissionID *uuid.UUID       `json:"commission_id,omitempty"`
	RuleID       *uuid.UUID       `json:"rule_id,omitempty"`
	UserID       string           `json:"user_id,omitempty"`
	Type         CommissionType   `json:"type,omitempty"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	Currency     Currency         `json:"currency,omitempty"`
	Description  string           `json:"description"`
}
