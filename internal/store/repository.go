// Package store persists rules, commissions and payouts. The gorm repository
// backs production; the memory repository backs tests and DATABASE_DRIVER=memory.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/models"
)

// Repository is the storage boundary used by the ledger, payout and reporting services.
type Repository interface {
	RuleRepository
	CommissionRepository
	PayoutRepository
}

// RuleRepository stores immutable rule versions.
type RuleRepository interface {
	CreateRule(ctx context.Context, rule *models.CommissionRule) error
	GetRule(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error)
	ListRules(ctx context.Context, filter models.RuleFilter) ([]models.CommissionRule, error)
	// SupersedeRule inserts next and deactivates the rule it replaces in one transaction.
	SupersedeRule(ctx context.Context, previousID uuid.UUID, next *models.CommissionRule, at time.Time) error
	DeactivateRule(ctx context.Context, id uuid.UUID, at time.Time) (*models.CommissionRule, error)
}

// CommissionRepository stores commissions and their audit trail.
type CommissionRepository interface {
	// CreateCommission inserts the commission and its initial audit row.
	// It fails with models.ErrDuplicateSource when (type, source_ref) exists.
	CreateCommission(ctx context.Context, c *models.Commission, transition *models.CommissionTransition) error
	GetCommission(ctx context.Context, id uuid.UUID) (*models.Commission, error)
	GetCommissionBySource(ctx context.Context, t models.CommissionType, sourceRef string) (*models.Commission, error)
	ListCommissions(ctx context.Context, filter models.CommissionFilter) ([]models.Commission, error)
	// UpdateCommission writes c if the stored version still equals expectedVersion,
	// bumps c.Version and appends transition when it is not nil.
	UpdateCommission(ctx context.Context, c *models.Commission, expectedVersion int64, transition *models.CommissionTransition) error
	ListCommissionTransitions(ctx context.Context, commissionID uuid.UUID) ([]models.CommissionTransition, error)
}

// PayoutRepository stores payouts and owns the claim step.
type PayoutRepository interface {
	// ClaimCommissions locks every approved, unclaimed commission matching req,
	// passes them to build and persists the returned payout while marking each
	// commission claimed. It returns nil when nothing is claimable and
	// models.ErrClaimConflict when a concurrent claim won the race.
	ClaimCommissions(ctx context.Context, req models.ClaimRequest, build models.PayoutBuilder) (*models.Payout, error)
	GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	ListPayouts(ctx context.Context, filter models.PayoutFilter) ([]models.Payout, error)
	// UpdatePayout applies a status change under a version check together with
	// the cascade onto the claimed commissions.
	UpdatePayout(ctx context.Context, p *models.Payout, expectedVersion int64, cascade models.PayoutCascade, actor string) error
	ListClaimableGroups(ctx context.Context) ([]models.ClaimGroup, error)
}
