package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/revaspay/commissions/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRepository is the PostgreSQL-backed repository
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository creates a new gorm repository
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

var _ Repository = (*GormRepository)(nil)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf(format+": %w", append(args, models.ErrNotFound)...)
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// CreateRule inserts a new rule version
func (r *GormRepository) CreateRule(ctx context.Context, rule *models.CommissionRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		if pgCode(err) == pgUniqueViolation {
			return fmt.Errorf("rule %s version %d: %w", rule.Key, rule.Version, models.ErrConflict)
		}
		return fmt.Errorf("error creating rule: %w", err)
	}
	return nil
}

// GetRule returns one rule version
func (r *GormRepository) GetRule(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error) {
	var rule models.CommissionRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "rule %s", id)
	}
	return &rule, nil
}

// ListRules returns rules newest first
func (r *GormRepository) ListRules(ctx context.Context, filter models.RuleFilter) ([]models.CommissionRule, error) {
	query := r.db.WithContext(ctx).Model(&models.CommissionRule{})
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.Key != "" {
		query = query.Where("key = ?", filter.Key)
	}
	if filter.ActiveOnly {
		query = query.Where("active = ?", true)
	}

	var rules []models.CommissionRule
	if err := query.Order("created_at DESC").Order("key ASC").Order("version DESC").Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("error listing rules: %w", err)
	}
	return rules, nil
}

// SupersedeRule inserts next and deactivates previousID in one transaction
func (r *GormRepository) SupersedeRule(ctx context.Context, previousID uuid.UUID, next *models.CommissionRule, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var previous models.CommissionRule
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&previous, "id = ?", previousID).Error; err != nil {
			return notFound(err, "rule %s", previousID)
		}
		if !previous.Active {
			return &models.TransitionError{Entity: "rule", From: "inactive", To: "superseded", Reason: "rule is already inactive"}
		}
		if err := tx.Create(next).Error; err != nil {
			if pgCode(err) == pgUniqueViolation {
				return fmt.Errorf("rule %s version %d: %w", next.Key, next.Version, models.ErrConflict)
			}
			return fmt.Errorf("error creating rule version: %w", err)
		}
		err := tx.Model(&previous).Updates(map[string]interface{}{
			"active":         false,
			"deactivated_at": at,
			"superseded_by":  next.ID,
		}).Error
		if err != nil {
			return fmt.Errorf("error deactivating rule: %w", err)
		}
		return nil
	})
}

// DeactivateRule marks a rule inactive
func (r *GormRepository) DeactivateRule(ctx context.Context, id uuid.UUID, at time.Time) (*models.CommissionRule, error) {
	var rule models.CommissionRule
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&rule, "id = ?", id).Error; err != nil {
			return notFound(err, "rule %s", id)
		}
		if !rule.Active {
			return &models.TransitionError{Entity: "rule", From: "inactive", To: "inactive", Reason: "rule is already inactive"}
		}
		if err := tx.Model(&rule).Updates(map[string]interface{}{"active": false, "deactivated_at": at}).Error; err != nil {
			return fmt.Errorf("error deactivating rule: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// CreateCommission inserts a commission and its first audit row
func (r *GormRepository) CreateCommission(ctx context.Context, c *models.Commission, transition *models.CommissionTransition) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if c.Version == 0 {
			c.Version = 1
		}
		if err := tx.Create(c).Error; err != nil {
			if pgCode(err) == pgUniqueViolation {
				return fmt.Errorf("%s/%s: %w", c.Type, c.SourceRef, models.ErrDuplicateSource)
			}
			return fmt.Errorf("error creating commission: %w", err)
		}
		if transition != nil {
			if err := createTransition(tx, c.ID, transition); err != nil {
				return err
			}
		}
		return nil
	})
}

func createTransition(tx *gorm.DB, commissionID uuid.UUID, transition *models.CommissionTransition) error {
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}
	transition.CommissionID = commissionID
	if err := tx.Create(transition).Error; err != nil {
		return fmt.Errorf("error recording commission transition: %w", err)
	}
	return nil
}

// GetCommission returns one commission
func (r *GormRepository) GetCommission(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	var c models.Commission
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "commission %s", id)
	}
	return &c, nil
}

// GetCommissionBySource returns the commission recorded for a source event
func (r *GormRepository) GetCommissionBySource(ctx context.Context, t models.CommissionType, sourceRef string) (*models.Commission, error) {
	var c models.Commission
	if err := r.db.WithContext(ctx).First(&c, "type = ? AND source_ref = ?", t, sourceRef).Error; err != nil {
		return nil, notFound(err, "commission %s/%s", t, sourceRef)
	}
	return &c, nil
}

// ListCommissions returns the commissions matching filter
func (r *GormRepository) ListCommissions(ctx context.Context, filter models.CommissionFilter) ([]models.Commission, error) {
	query := r.db.WithContext(ctx).Model(&models.Commission{})
	if filter.Type != nil {
		query = query.Where("type = ?", *filter.Type)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", filter.Currency)
	}
	if !filter.Created.From.IsZero() {
		query = query.Where("created_at >= ?", filter.Created.From)
	}
	if !filter.Created.To.IsZero() {
		query = query.Where("created_at < ?", filter.Created.To)
	}
	if !filter.CreatedBefore.IsZero() {
		query = query.Where("created_at < ?", filter.CreatedBefore)
	}
	if filter.MissingAmount {
		query = query.Where("calculated_amount IS NULL")
	}
	if filter.UnclaimedOnly {
		query = query.Where("claimed_by IS NULL")
	}

	switch filter.Sort {
	case models.SortCreatedAsc:
		query = query.Order("created_at ASC")
	case models.SortCalculatedDesc:
		query = query.Where("calculated_at IS NOT NULL").Order("calculated_at DESC")
	case models.SortPaidDesc:
		query = query.Where("paid_at IS NOT NULL").Order("paid_at DESC")
	default:
		query = query.Order("created_at DESC")
	}
	query = query.Order("id ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var commissions []models.Commission
	if err := query.Find(&commissions).Error; err != nil {
		return nil, fmt.Errorf("error listing commissions: %w", err)
	}
	return commissions, nil
}

// UpdateCommission writes the mutable columns of c under a version check.
// claimed_by is never written here.
func (r *GormRepository) UpdateCommission(ctx context.Context, c *models.Commission, expectedVersion int64, transition *models.CommissionTransition) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Commission{}).
			Where("id = ? AND version = ?", c.ID, expectedVersion).
			Updates(map[string]interface{}{
				"base_amount":       c.BaseAmount,
				"calculated_amount": c.CalculatedAmount,
				"rule_id":           c.RuleID,
				"rule_version":      c.RuleVersion,
				"status":            c.Status,
				"status_reason":     c.StatusReason,
				"status_changed_at": c.StatusChangedAt,
				"calculated_at":     c.CalculatedAt,
				"approved_at":       c.ApprovedAt,
				"paid_at":           c.PaidAt,
				"version":           expectedVersion + 1,
			})
		if result.Error != nil {
			return fmt.Errorf("error updating commission: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var current models.Commission
			if err := tx.Select("id", "version").First(&current, "id = ?", c.ID).Error; err != nil {
				return notFound(err, "commission %s", c.ID)
			}
			return fmt.Errorf("commission %s at version %d, expected %d: %w", c.ID, current.Version, expectedVersion, models.ErrConflict)
		}
		c.Version = expectedVersion + 1
		if transition != nil {
			if err := createTransition(tx, c.ID, transition); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListCommissionTransitions returns the audit trail oldest first
func (r *GormRepository) ListCommissionTransitions(ctx context.Context, commissionID uuid.UUID) ([]models.CommissionTransition, error) {
	if _, err := r.GetCommission(ctx, commissionID); err != nil {
		return nil, err
	}
	var transitions []models.CommissionTransition
	err := r.db.WithContext(ctx).
		Where("commission_id = ?", commissionID).
		Order("created_at ASC").Order("id ASC").
		Find(&transitions).Error
	if err != nil {
		return nil, fmt.Errorf("error listing commission transitions: %w", err)
	}
	return transitions, nil
}

// ClaimCommissions runs the claim step in a serializable transaction. The
// selected rows are locked, then re-checked by a conditional update so a claim
// that lost the race is rolled back as a whole.
func (r *GormRepository) ClaimCommissions(ctx context.Context, req models.ClaimRequest, build models.PayoutBuilder) (*models.Payout, error) {
	var payout *models.Payout
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claimable []models.Commission
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND currency = ? AND status = ? AND claimed_by IS NULL",
				req.UserID, req.Currency, models.CommissionStatusApproved).
			Order("created_at ASC").Order("id ASC").
			Find(&claimable).Error
		if err != nil {
			return fmt.Errorf("error selecting claimable commissions: %w", err)
		}
		if len(claimable) == 0 {
			return nil
		}

		built, err := build(claimable)
		if err != nil {
			return err
		}
		items := built.Items
		built.Items = nil
		if built.Version == 0 {
			built.Version = 1
		}
		if err := tx.Omit(clause.Associations).Create(built).Error; err != nil {
			return fmt.Errorf("error creating payout: %w", err)
		}

		ids := make([]uuid.UUID, len(items))
		for i := range items {
			items[i].ID = uuid.New()
			items[i].PayoutID = built.ID
			ids[i] = items[i].CommissionID
		}
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("error creating payout items: %w", err)
		}

		result := tx.Model(&models.Commission{}).
			Where("id IN ? AND claimed_by IS NULL AND status = ?", ids, models.CommissionStatusApproved).
			Updates(map[string]interface{}{
				"claimed_by": built.ID,
				"version":    gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return fmt.Errorf("error claiming commissions: %w", result.Error)
		}
		if result.RowsAffected != int64(len(ids)) {
			return fmt.Errorf("claimed %d of %d commissions: %w", result.RowsAffected, len(ids), models.ErrClaimConflict)
		}

		built.Items = items
		payout = built
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		switch pgCode(err) {
		case pgSerializationFailure, pgDeadlockDetected:
			return nil, fmt.Errorf("claim for user %s: %v: %w", req.UserID, err, models.ErrClaimConflict)
		}
		return nil, err
	}
	return payout, nil
}

// GetPayout returns one payout with its items
func (r *GormRepository) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&payout, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "payout %s", id)
	}
	return &payout, nil
}

// ListPayouts returns payouts newest scheduled first
func (r *GormRepository) ListPayouts(ctx context.Context, filter models.PayoutFilter) ([]models.Payout, error) {
	query := r.db.WithContext(ctx).Model(&models.Payout{}).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") })
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Method != nil {
		query = query.Where("method = ?", *filter.Method)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if !filter.Scheduled.From.IsZero() {
		query = query.Where("scheduled_date >= ?", filter.Scheduled.From)
	}
	if !filter.Scheduled.To.IsZero() {
		query = query.Where("scheduled_date < ?", filter.Scheduled.To)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var payouts []models.Payout
	if err := query.Order("scheduled_date DESC").Order("id ASC").Find(&payouts).Error; err != nil {
		return nil, fmt.Errorf("error listing payouts: %w", err)
	}
	return payouts, nil
}

// UpdatePayout writes a payout status change and its cascade in one transaction
func (r *GormRepository) UpdatePayout(ctx context.Context, p *models.Payout, expectedVersion int64, cascade models.PayoutCascade, actor string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Payout{}).
			Where("id = ? AND version = ?", p.ID, expectedVersion).
			Updates(map[string]interface{}{
				"status":             p.Status,
				"status_reason":      p.StatusReason,
				"status_changed_at":  p.StatusChangedAt,
				"processed_date":     p.ProcessedDate,
				"provider_reference": p.ProviderReference,
				"version":            expectedVersion + 1,
			})
		if result.Error != nil {
			return fmt.Errorf("error updating payout: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var current models.Payout
			if err := tx.Select("id", "version").First(&current, "id = ?", p.ID).Error; err != nil {
				return notFound(err, "payout %s", p.ID)
			}
			return fmt.Errorf("payout %s at version %d, expected %d: %w", p.ID, current.Version, expectedVersion, models.ErrConflict)
		}

		switch cascade {
		case models.CascadeMarkPaid:
			if err := markClaimedPaid(tx, p, actor); err != nil {
				return err
			}
		case models.CascadeRelease:
			err := tx.Model(&models.Commission{}).
				Where("claimed_by = ?", p.ID).
				Updates(map[string]interface{}{
					"claimed_by": nil,
					"version":    gorm.Expr("version + 1"),
				}).Error
			if err != nil {
				return fmt.Errorf("error releasing claimed commissions: %w", err)
			}
		}

		p.Version = expectedVersion + 1
		return nil
	})
}

func markClaimedPaid(tx *gorm.DB, p *models.Payout, actor string) error {
	var claimed []models.Commission
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("claimed_by = ?", p.ID).
		Find(&claimed).Error
	if err != nil {
		return fmt.Errorf("error locking claimed commissions: %w", err)
	}

	at := p.StatusChangedAt
	payoutID := p.ID
	for _, c := range claimed {
		if !c.Status.CanTransitionTo(models.CommissionStatusPaid) {
			return &models.TransitionError{
				Entity: "commission",
				From:   string(c.Status),
				To:     string(models.CommissionStatusPaid),
				Reason: fmt.Sprintf("claimed commission %s is not approved", c.ID),
			}
		}
		err := tx.Model(&models.Commission{}).
			Where("id = ?", c.ID).
			Updates(map[string]interface{}{
				"status":            models.CommissionStatusPaid,
				"status_changed_at": at,
				"paid_at":           at,
				"version":           gorm.Expr("version + 1"),
			}).Error
		if err != nil {
			return fmt.Errorf("error marking commission %s paid: %w", c.ID, err)
		}
		transition := &models.CommissionTransition{
			FromStatus: c.Status,
			ToStatus:   models.CommissionStatusPaid,
			Reason:     "payout " + p.Reference + " completed",
			Actor:      actor,
			PayoutID:   &payoutID,
			CreatedAt:  at,
		}
		if err := createTransition(tx, c.ID, transition); err != nil {
			return err
		}
	}
	return nil
}

// ListClaimableGroups returns every (user, currency) pair with claimable commissions
func (r *GormRepository) ListClaimableGroups(ctx context.Context) ([]models.ClaimGroup, error) {
	var groups []models.ClaimGroup
	err := r.db.WithContext(ctx).Model(&models.Commission{}).
		Select("user_id, currency, COUNT(*) AS count").
		Where("status = ? AND claimed_by IS NULL", models.CommissionStatusApproved).
		Group("user_id, currency").
		Order("user_id ASC").Order("currency ASC").
		Scan(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("error listing claimable groups: %w", err)
	}
	return groups, nil
}
