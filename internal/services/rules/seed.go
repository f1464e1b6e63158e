package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/gosimple/slug"
	"github.com/revaspay/commissions/internal/config"
	"github.com/revaspay/commissions/internal/models"
	"github.com/shopspring/decimal"
)

// Seed creates version 1 of every seeded rule whose key is not stored yet and
// returns how many were created. Existing keys are left alone so restarts are safe.
func (s *Service) Seed(ctx context.Context, seeds []config.RuleSeed) (int, error) {
	created := 0
	for i, seed := range seeds {
		input, err := ParseRuleSeed(seed)
		if err != nil {
			return created, fmt.Errorf("seed rule %d (%s): %w", i, seed.Key, err)
		}
		existing, err := s.repo.ListRules(ctx, models.RuleFilter{Key: slug.Make(input.Key)})
		if err != nil {
			return created, fmt.Errorf("error checking seeded rule %s: %w", input.Key, err)
		}
		if len(existing) > 0 {
			continue
		}
		if _, err := s.Create(ctx, input); err != nil {
			return created, fmt.Errorf("seed rule %s: %w", input.Key, err)
		}
		created++
	}
	if created > 0 {
		s.logger.Info("seeded commission rules", "created", created, "total", len(seeds))
	}
	return created, nil
}

// ParseRuleSeed converts the string-typed seed entry into a RuleInput
func ParseRuleSeed(seed config.RuleSeed) (RuleInput, error) {
	input := RuleInput{
		Key:         seed.Key,
		Name:        seed.Name,
		Description: seed.Description,
		Type:        models.CommissionType(seed.Type),
		Formula:     models.FormulaType(seed.Formula),
		Currency:    models.Currency(seed.Currency),
		Priority:    seed.Priority,
	}
	if input.Name == "" {
		input.Name = seed.Key
	}

	var err error
	if input.FlatAmount, err = parseDecimal("flat_amount", seed.FlatAmount); err != nil {
		return input, err
	}
	if input.Rate, err = parseDecimal("rate", seed.Rate); err != nil {
		return input, err
	}
	if input.MinAmount, err = parseNullDecimal("min_amount", seed.MinAmount); err != nil {
		return input, err
	}
	if input.MaxAmount, err = parseNullDecimal("max_amount", seed.MaxAmount); err != nil {
		return input, err
	}
	for i, t := range seed.Tiers {
		tier, err := ParseTierSeed(t)
		if err != nil {
			return input, fmt.Errorf("tiers[%d]: %w", i, err)
		}
		input.Tiers = append(input.Tiers, tier)
	}

	if seed.EffectiveFrom != "" {
		from, err := time.Parse(time.RFC3339, seed.EffectiveFrom)
		if err != nil {
			return input, models.NewValidationError("effective_from", "must be RFC 3339")
		}
		input.EffectiveFrom = from
	}
	if seed.EffectiveTo != "" {
		to, err := time.Parse(time.RFC3339, seed.EffectiveTo)
		if err != nil {
			return input, models.NewValidationError("effective_to", "must be RFC 3339")
		}
		input.EffectiveTo = &to
	}
	return input, nil
}

// ParseTierSeed converts one seeded tier row
func ParseTierSeed(seed config.TierSeed) (models.RuleTier, error) {
	var tier models.RuleTier
	var err error
	if tier.Threshold, err = parseDecimal("threshold", seed.Threshold); err != nil {
		return tier, err
	}
	if tier.Rate, err = parseDecimal("rate", seed.Rate); err != nil {
		return tier, err
	}
	if tier.FlatAmount, err = parseDecimal("flat_amount", seed.FlatAmount); err != nil {
		return tier, err
	}
	return tier, nil
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, models.NewValidationError(field, "is not a decimal: "+raw)
	}
	return d, nil
}

func parseNullDecimal(field, raw string) (decimal.NullDecimal, error) {
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseDecimal(field, raw)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}
