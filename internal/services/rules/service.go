// Package rules is the rule store: versioned commission formulas, their
// selection for a business event and their evaluation.
package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/store"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// RuleInput describes a rule version to create
type RuleInput struct {
	Key           string
	Name          string
	Description   string
	Type          models.CommissionType
	Formula       models.FormulaType
	FlatAmount    decimal.Decimal
	Rate          decimal.Decimal
	Tiers         []models.RuleTier
	MinAmount     decimal.NullDecimal
	MaxAmount     decimal.NullDecimal
	Currency      models.Currency
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	Priority      int
}

// Lookup is the context a rule is selected for
type Lookup struct {
	Type       models.CommissionType
	Currency   models.Currency
	OccurredAt time.Time
	Volume     decimal.Decimal
}

// Preview is the outcome of evaluating a base amount without recording anything
type Preview struct {
	Rule   *models.CommissionRule `json:"rule"`
	Amount decimal.Decimal        `json:"amount"`
}

// Service manages commission rules
type Service struct {
	repo            store.RuleRepository
	logger          *slog.Logger
	defaultCurrency models.Currency
	now             func() time.Time
}

// NewService creates a new rule service
func NewService(repo store.RuleRepository, defaultCurrency models.Currency, logger *slog.Logger) *Service {
	return &Service{
		repo:            repo,
		logger:          logger,
		defaultCurrency: defaultCurrency,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// FindApplicableRule returns the active rule of the lookup's type and currency
// whose window contains OccurredAt, or models.ErrRuleNotFound.
func (s *Service) FindApplicableRule(ctx context.Context, lookup Lookup) (*models.CommissionRule, error) {
	lookup = normalizeLookup(lookup)
	t := lookup.Type
	candidates, err := s.repo.ListRules(ctx, models.RuleFilter{Type: &t, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("error loading rules: %w", err)
	}

	matching := candidates[:0]
	for _, rule := range candidates {
		if rule.Currency == lookup.Currency {
			matching = append(matching, rule)
		}
	}
	rule, ok := pickRule(matching, lookup.OccurredAt)
	if !ok {
		return nil, fmt.Errorf("%s in %s at %s: %w", lookup.Type, lookup.Currency,
			lookup.OccurredAt.Format(time.RFC3339), models.ErrRuleNotFound)
	}
	return rule, nil
}

// Get returns one rule version
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error) {
	return s.repo.GetRule(ctx, id)
}

// List returns rules matching filter
func (s *Service) List(ctx context.Context, filter models.RuleFilter) ([]models.CommissionRule, error) {
	return s.repo.ListRules(ctx, filter)
}

// Create stores version 1 of a new rule key
func (s *Service) Create(ctx context.Context, input RuleInput) (*models.CommissionRule, error) {
	if input.Key == "" {
		input.Key = slug.Make(input.Name)
	} else {
		input.Key = slug.Make(input.Key)
	}

	existing, err := s.repo.ListRules(ctx, models.RuleFilter{Key: input.Key})
	if err != nil {
		return nil, fmt.Errorf("error checking rule key: %w", err)
	}
	if len(existing) > 0 {
		return nil, fmt.Errorf("rule key %s exists, create a new version instead: %w", input.Key, models.ErrConflict)
	}

	rule, err := s.buildRule(input, 1)
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.logger.Info("commission rule created",
		"rule_id", rule.ID, "key", rule.Key, "type", rule.Type, "formula", rule.Formula)
	return rule, nil
}

// Supersede publishes a new version of the rule's key and deactivates the
// given version. Commissions keep pointing at the version they were computed with.
func (s *Service) Supersede(ctx context.Context, id uuid.UUID, input RuleInput) (*models.CommissionRule, error) {
	previous, err := s.repo.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	versions, err := s.repo.ListRules(ctx, models.RuleFilter{Key: previous.Key})
	if err != nil {
		return nil, fmt.Errorf("error loading rule versions: %w", err)
	}
	latest := 0
	for _, v := range versions {
		if v.Version > latest {
			latest = v.Version
		}
	}

	input.Key = previous.Key
	if input.Type == "" {
		input.Type = previous.Type
	}
	if input.Name == "" {
		input.Name = previous.Name
	}
	if input.Currency == "" {
		input.Currency = previous.Currency
	}
	if input.EffectiveFrom.IsZero() {
		input.EffectiveFrom = previous.EffectiveFrom
	}
	next, err := s.buildRule(input, latest+1)
	if err != nil {
		return nil, err
	}

	if err := s.repo.SupersedeRule(ctx, previous.ID, next, s.now()); err != nil {
		return nil, err
	}

	s.logger.Info("commission rule superseded",
		"key", next.Key, "previous_version", previous.Version, "version", next.Version, "rule_id", next.ID)
	return next, nil
}

// Deactivate stops a rule from being selected. It is never deleted.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error) {
	rule, err := s.repo.DeactivateRule(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	s.logger.Info("commission rule deactivated", "rule_id", rule.ID, "key", rule.Key, "version", rule.Version)
	return rule, nil
}

// PreviewAmount evaluates baseAmount against ruleID, or against the rule that
// would be selected for lookup when ruleID is nil.
func (s *Service) PreviewAmount(ctx context.Context, ruleID *uuid.UUID, lookup Lookup, baseAmount decimal.Decimal) (*Preview, error) {
	if baseAmount.IsNegative() {
		return nil, models.NewValidationError("base_amount", "must not be negative")
	}
	if lookup.Currency == "" {
		lookup.Currency = s.defaultCurrency
	}
	if lookup.OccurredAt.IsZero() {
		lookup.OccurredAt = s.now()
	}

	var rule *models.CommissionRule
	var err error
	if ruleID != nil {
		rule, err = s.repo.GetRule(ctx, *ruleID)
	} else {
		rule, err = s.FindApplicableRule(ctx, lookup)
	}
	if err != nil {
		return nil, err
	}

	volume := lookup.Volume
	if volume.IsZero() {
		volume = baseAmount
	}
	return &Preview{Rule: rule, Amount: Evaluate(rule, baseAmount, volume)}, nil
}

func (s *Service) buildRule(input RuleInput, version int) (*models.CommissionRule, error) {
	if input.Currency == "" {
		input.Currency = s.defaultCurrency
	}
	// ValidateInput reports the unparseable values
	if t, err := models.ParseCommissionType(string(input.Type)); err == nil {
		input.Type = t
	}
	if currency, err := models.ParseCurrency(string(input.Currency)); err == nil {
		input.Currency = currency
	}
	if input.EffectiveFrom.IsZero() {
		input.EffectiveFrom = models.OpenEffectiveFrom
	}
	if err := ValidateInput(input); err != nil {
		return nil, err
	}

	tiers := append([]models.RuleTier(nil), input.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold.LessThan(tiers[j].Threshold) })

	return &models.CommissionRule{
		Key:           input.Key,
		Version:       version,
		Name:          strings.TrimSpace(input.Name),
		Description:   input.Description,
		Type:          input.Type,
		Formula:       input.Formula,
		FlatAmount:    input.FlatAmount,
		Rate:          input.Rate,
		Tiers:         datatypes.JSONSlice[models.RuleTier](tiers),
		MinAmount:     input.MinAmount,
		MaxAmount:     input.MaxAmount,
		Currency:      input.Currency,
		EffectiveFrom: input.EffectiveFrom.UTC(),
		EffectiveTo:   input.EffectiveTo,
		Priority:      input.Priority,
		Active:        true,
	}, nil
}

// ValidateInput checks the formula-specific fields of a rule
func ValidateInput(input RuleInput) error {
	var errs []error
	if strings.TrimSpace(input.Name) == "" {
		errs = append(errs, models.NewValidationError("name", "is required"))
	}
	if input.Key == "" {
		errs = append(errs, models.NewValidationError("key", "is required"))
	}
	if _, err := models.ParseCommissionType(string(input.Type)); err != nil {
		errs = append(errs, err)
	}
	if _, err := models.ParseCurrency(string(input.Currency)); err != nil {
		errs = append(errs, err)
	}

	switch input.Formula {
	case models.FormulaFlat:
		if input.FlatAmount.IsNegative() {
			errs = append(errs, models.NewValidationError("flat_amount", "must not be negative"))
		}
	case models.FormulaPercentage:
		if input.Rate.IsNegative() || input.Rate.GreaterThan(hundred) {
			errs = append(errs, models.NewValidationError("rate", "must be a percentage between 0 and 100"))
		}
	case models.FormulaTiered:
		if len(input.Tiers) == 0 {
			errs = append(errs, models.NewValidationError("tiers", "a tiered rule needs at least one tier"))
		}
		seen := make(map[string]bool, len(input.Tiers))
		hasBase := false
		for i, tier := range input.Tiers {
			if tier.Threshold.IsZero() {
				hasBase = true
			}
			field := fmt.Sprintf("tiers[%d]", i)
			if tier.Threshold.IsNegative() || tier.Rate.IsNegative() || tier.Rate.GreaterThan(hundred) || tier.FlatAmount.IsNegative() {
				errs = append(errs, models.NewValidationError(field, "threshold, rate and flat amount must be non-negative and rate at most 100"))
			}
			key := tier.Threshold.String()
			if seen[key] {
				errs = append(errs, models.NewValidationError(field, "duplicate threshold "+key))
			}
			seen[key] = true
		}
		if len(input.Tiers) > 0 && !hasBase {
			errs = append(errs, models.NewValidationError("tiers", "the first tier must start at threshold 0"))
		}
	default:
		errs = append(errs, models.NewValidationError("formula", "must be flat, percentage or tiered"))
	}

	if input.MinAmount.Valid && input.MinAmount.Decimal.IsNegative() {
		errs = append(errs, models.NewValidationError("min_amount", "must not be negative"))
	}
	if input.MinAmount.Valid && input.MaxAmount.Valid && input.MinAmount.Decimal.GreaterThan(input.MaxAmount.Decimal) {
		errs = append(errs, models.NewValidationError("max_amount", "must not be below min_amount"))
	}
	if input.EffectiveTo != nil && !input.EffectiveTo.After(input.EffectiveFrom) {
		errs = append(errs, models.NewValidationError("effective_to", "must be after effective_from"))
	}
	return errors.Join(errs...)
}

// normalizeLookup folds type and currency to their stored case
func normalizeLookup(lookup Lookup) Lookup {
	if t, err := models.ParseCommissionType(string(lookup.Type)); err == nil {
		lookup.Type = t
	}
	if currency, err := models.ParseCurrency(string(lookup.Currency)); err == nil {
		lookup.Currency = currency
	}
	return lookup
}
