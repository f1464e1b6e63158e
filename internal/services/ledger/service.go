// Package ledger owns commission records and their state machine.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/events"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/services/rules"
	"github.com/revaspay/commissions/internal/store"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SystemActor is recorded on transitions made by scheduled passes
const SystemActor = "system"

// RuleSource selects and loads rule versions
type RuleSource interface {
	FindApplicableRule(ctx context.Context, lookup rules.Lookup) (*models.CommissionRule, error)
	Get(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error)
}

// Options tunes the ledger policies
type Options struct {
	DefaultCurrency models.Currency
	ExpiryWindow    time.Duration
	BulkConcurrency int
}

// IngestInput is a business event that may owe a commission
type IngestInput struct {
	Type         models.CommissionType
	SourceRef    string
	UserID       string
	BaseAmount   decimal.Decimal
	VolumeAmount decimal.NullDecimal
	Currency     models.Currency
	OccurredAt   time.Time
	Metadata     map[string]interface{}
}

// TransitionInput is an external request to move a commission
type TransitionInput struct {
	Target              models.CommissionStatus
	Reason              string
	Actor               string
	CorrectedBaseAmount *decimal.Decimal
	ExpectedVersion     *int64
}

// StatusChange is the payload of commission.status_changed events
type StatusChange struct {
	Commission *models.Commission      `json:"commission"`
	From       models.CommissionStatus `json:"from"`
	To         models.CommissionStatus `json:"to"`
	Reason     string                  `json:"reason,omitempty"`
}

// Service is the commission ledger
type Service struct {
	repo    store.CommissionRepository
	rules   RuleSource
	emitter *events.Emitter
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
}

// NewService creates a new ledger service
func NewService(repo store.CommissionRepository, ruleSource RuleSource, emitter *events.Emitter, logger *slog.Logger, opts Options) *Service {
	if opts.BulkConcurrency <= 0 {
		opts.BulkConcurrency = 1
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = models.CurrencyUSD
	}
	return &Service{
		repo:    repo,
		rules:   ruleSource,
		emitter: emitter,
		logger:  logger,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Ingest records the commission owed for a business event. It is idempotent
// on (type, source_ref): a repeat returns the stored commission and created=false.
// When no rule applies the commission stays pending with no amount.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (*models.Commission, bool, error) {
	input, err := s.normalizeIngest(input)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.repo.GetCommissionBySource(ctx, input.Type, input.SourceRef)
	if err == nil {
		s.warnOnDivergentReplay(existing, input)
		return existing, false, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, false, fmt.Errorf("error checking source %s: %w", input.SourceRef, err)
	}

	now := s.now()
	c := &models.Commission{
		Base:            models.Base{CreatedAt: now},
		Type:            input.Type,
		SourceRef:       input.SourceRef,
		UserID:          input.UserID,
		BaseAmount:      input.BaseAmount,
		VolumeAmount:    input.VolumeAmount,
		Currency:        input.Currency,
		Status:          models.CommissionStatusPending,
		OccurredAt:      input.OccurredAt,
		StatusChangedAt: now,
	}
	if len(input.Metadata) > 0 {
		c.Metadata = datatypes.JSONMap(input.Metadata)
	}

	transition := &models.CommissionTransition{
		ToStatus:  models.CommissionStatusPending,
		Reason:    "no applicable rule",
		Actor:     SystemActor,
		CreatedAt: now,
	}
	rule, err := s.rules.FindApplicableRule(ctx, s.lookupFor(c))
	switch {
	case err == nil:
		applyRule(c, rule, now)
		c.Status = models.CommissionStatusCalculated
		transition.ToStatus = models.CommissionStatusCalculated
		transition.Reason = fmt.Sprintf("calculated by rule %s v%d", rule.Key, rule.Version)
	case errors.Is(err, models.ErrRuleNotFound):
		s.logger.Warn("no applicable commission rule, commission left pending",
			"type", c.Type, "source_ref", c.SourceRef, "currency", c.Currency)
	default:
		return nil, false, err
	}

	if err := s.repo.CreateCommission(ctx, c, transition); err != nil {
		if errors.Is(err, models.ErrDuplicateSource) {
			// lost an ingestion race for the same event
			existing, getErr := s.repo.GetCommissionBySource(ctx, input.Type, input.SourceRef)
			if getErr != nil {
				return nil, false, getErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	s.logger.Info("commission recorded",
		"commission_id", c.ID, "type", c.Type, "user_id", c.UserID, "status", c.Status, "amount", c.Amount())
	s.emitter.Emit(ctx, events.CommissionCreated, c)
	return c, true, nil
}

func (s *Service) normalizeIngest(input IngestInput) (IngestInput, error) {
	var errs []error
	if t, err := models.ParseCommissionType(string(input.Type)); err != nil {
		errs = append(errs, err)
	} else {
		input.Type = t
	}
	input.SourceRef = strings.TrimSpace(input.SourceRef)
	if input.SourceRef == "" {
		errs = append(errs, models.NewValidationError("source_ref", "is required"))
	}
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		errs = append(errs, models.NewValidationError("user_id", "is required"))
	}
	if input.BaseAmount.IsNegative() {
		errs = append(errs, models.NewValidationError("base_amount", "must not be negative"))
	}
	if input.VolumeAmount.Valid && input.VolumeAmount.Decimal.IsNegative() {
		errs = append(errs, models.NewValidationError("volume_amount", "must not be negative"))
	}
	if input.Currency == "" {
		input.Currency = s.opts.DefaultCurrency
	} else if currency, err := models.ParseCurrency(string(input.Currency)); err != nil {
		errs = append(errs, err)
	} else {
		input.Currency = currency
	}
	if input.OccurredAt.IsZero() {
		input.OccurredAt = s.now()
	}
	input.BaseAmount = input.BaseAmount.Round(2)
	return input, errors.Join(errs...)
}

func (s *Service) warnOnDivergentReplay(existing *models.Commission, input IngestInput) {
	if existing.UserID != input.UserID || !existing.BaseAmount.Equal(input.BaseAmount) {
		s.logger.Warn("replayed source event differs from the recorded commission",
			"commission_id", existing.ID, "source_ref", existing.SourceRef,
			"recorded_user", existing.UserID, "replayed_user", input.UserID)
	}
}

func (s *Service) lookupFor(c *models.Commission) rules.Lookup {
	return rules.Lookup{
		Type:       c.Type,
		Currency:   c.Currency,
		OccurredAt: c.OccurredAt,
		Volume:     c.Volume(),
	}
}

func applyRule(c *models.Commission, rule *models.CommissionRule, at time.Time) {
	amount := rules.Evaluate(rule, c.BaseAmount, c.Volume())
	ruleID := rule.ID
	version := rule.Version
	calculatedAt := at
	c.CalculatedAmount = decimal.NewNullDecimal(amount)
	c.RuleID = &ruleID
	c.RuleVersion = &version
	c.CalculatedAt = &calculatedAt
}

// Get returns one commission
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	return s.repo.GetCommission(ctx, id)
}

// Filter lists commissions by type, status, user and creation range
func (s *Service) Filter(ctx context.Context, filter models.CommissionFilter) ([]models.Commission, error) {
	if err := filter.Created.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListCommissions(ctx, filter)
}

// History returns the audit trail of a commission, oldest first
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]models.CommissionTransition, error) {
	return s.repo.ListCommissionTransitions(ctx, id)
}

// Transition applies an external status change. paid, expired and pending
// are never accepted from callers.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, input TransitionInput) (*models.Commission, error) {
	c, err := s.repo.GetCommission(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.ExpectedVersion != nil && *input.ExpectedVersion != c.Version {
		return nil, fmt.Errorf("commission %s at version %d, expected %d: %w", id, c.Version, *input.ExpectedVersion, models.ErrConflict)
	}
	if input.Actor == "" {
		input.Actor = "api"
	}

	reject := func(reason string) error {
		return &models.TransitionError{Entity: "commission", From: string(c.Status), To: string(input.Target), Reason: reason}
	}
	switch input.Target {
	case models.CommissionStatusPaid:
		return nil, reject("paid is only set when the claiming payout completes")
	case models.CommissionStatusExpired:
		return nil, reject("expired is only set by the expiry pass")
	case models.CommissionStatusPending:
		return nil, reject("commissions never return to pending")
	}
	if c.Status.IsTerminal() {
		return nil, reject(fmt.Sprintf("%s is a final status", c.Status))
	}
	if !c.Status.CanTransitionTo(input.Target) {
		return nil, reject("")
	}
	if c.ClaimedBy != nil {
		return nil, reject(fmt.Sprintf("claimed by payout %s", c.ClaimedBy))
	}
	if input.CorrectedBaseAmount != nil && !(c.Status == models.CommissionStatusDisputed && input.Target == models.CommissionStatusCalculated) {
		return nil, models.NewValidationError("corrected_base_amount", "only allowed when resolving a dispute")
	}

	if input.Target == models.CommissionStatusCalculated {
		if err := s.recalculate(ctx, c, input.CorrectedBaseAmount); err != nil {
			return nil, err
		}
	}
	return s.apply(ctx, c, input.Target, input.Reason, input.Actor)
}

// recalculate re-derives the amount. A dispute resolution re-applies the
// referenced rule so the stored amount stays reproducible from (rule, base).
func (s *Service) recalculate(ctx context.Context, c *models.Commission, correctedBase *decimal.Decimal) error {
	if correctedBase != nil {
		if correctedBase.IsNegative() {
			return models.NewValidationError("corrected_base_amount", "must not be negative")
		}
		c.BaseAmount = correctedBase.Round(2)
	}

	var rule *models.CommissionRule
	var err error
	if c.RuleID != nil {
		rule, err = s.rules.Get(ctx, *c.RuleID)
	} else {
		rule, err = s.rules.FindApplicableRule(ctx, s.lookupFor(c))
	}
	if err != nil {
		return err
	}
	applyRule(c, rule, s.now())
	return nil
}

func (s *Service) apply(ctx context.Context, c *models.Commission, target models.CommissionStatus, reason, actor string) (*models.Commission, error) {
	now := s.now()
	from := c.Status
	expected := c.Version

	c.Status = target
	c.StatusChangedAt = now
	switch target {
	case models.CommissionStatusApproved:
		approvedAt := now
		c.ApprovedAt = &approvedAt
		c.StatusReason = ""
	case models.CommissionStatusDisputed, models.CommissionStatusCancelled, models.CommissionStatusExpired:
		c.StatusReason = reason
	default:
		c.StatusReason = ""
	}

	transition := &models.CommissionTransition{
		FromStatus: from,
		ToStatus:   target,
		Reason:     reason,
		Actor:      actor,
		CreatedAt:  now,
	}
	if err := s.repo.UpdateCommission(ctx, c, expected, transition); err != nil {
		return nil, err
	}

	s.logger.Info("commission status changed",
		"commission_id", c.ID, "from", from, "to", target, "actor", actor)
	s.emitter.Emit(ctx, events.CommissionStatusChanged, StatusChange{Commission: c, From: from, To: target, Reason: reason})
	return c, nil
}
