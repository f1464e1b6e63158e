package rules

import (
	"sort"
	"time"

	"github.com/revaspay/commissions/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate applies the rule formula to baseAmount and clamps the result to the
// rule's [min, max]. volume only selects the tier of a tiered rule.
func Evaluate(rule *models.CommissionRule, baseAmount, volume decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch rule.Formula {
	case models.FormulaFlat:
		amount = rule.FlatAmount
	case models.FormulaPercentage:
		amount = baseAmount.Mul(rule.Rate).Div(hundred)
	case models.FormulaTiered:
		if tier, ok := selectTier(rule.Tiers, volume); ok {
			amount = baseAmount.Mul(tier.Rate).Div(hundred).Add(tier.FlatAmount)
		}
	}

	if rule.MinAmount.Valid && amount.LessThan(rule.MinAmount.Decimal) {
		amount = rule.MinAmount.Decimal
	}
	if rule.MaxAmount.Valid && amount.GreaterThan(rule.MaxAmount.Decimal) {
		amount = rule.MaxAmount.Decimal
	}
	return amount.Round(2)
}

// selectTier returns the tier with the greatest threshold not above volume.
func selectTier(tiers []models.RuleTier, volume decimal.Decimal) (models.RuleTier, bool) {
	var best models.RuleTier
	found := false
	for _, tier := range tiers {
		if tier.Threshold.GreaterThan(volume) {
			continue
		}
		if !found || tier.Threshold.GreaterThan(best.Threshold) {
			best = tier
			found = true
		}
	}
	return best, found
}

// pickRule orders candidates by priority, then most recent effective-from,
// then highest version, and returns the first one that applies at occurredAt.
func pickRule(candidates []models.CommissionRule, occurredAt time.Time) (*models.CommissionRule, bool) {
	applicable := make([]models.CommissionRule, 0, len(candidates))
	for _, rule := range candidates {
		if rule.Active && rule.AppliesAt(occurredAt) {
			applicable = append(applicable, rule)
		}
	}
	if len(applicable) == 0 {
		return nil, false
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		a, b := applicable[i], applicable[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
			return a.EffectiveFrom.After(b.EffectiveFrom)
		}
		if a.Version != b.Version {
			return a.Version > b.Version
		}
		return a.ID.String() < b.ID.String()
	})
	return &applicable[0], true
}
