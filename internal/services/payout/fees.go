package payout

import (
	"fmt"
	"sort"
	"strings"

	"github.com/revaspay/commissions/internal/config"
	"github.com/revaspay/commissions/internal/models"
	"github.com/shopspring/decimal"
)

// FeeKind selects how a method's fee is derived from the payout total
type FeeKind string

const (
	FeeNone       FeeKind = "none"
	FeeFlat       FeeKind = "flat"
	FeePercentage FeeKind = "percentage"
	FeeTiered     FeeKind = "tiered"
)

var hundred = decimal.NewFromInt(100)

// FeeTier applies when the payout total is at least Threshold
type FeeTier struct {
	Threshold decimal.Decimal
	Rate      decimal.Decimal
	Flat      decimal.Decimal
}

// FeeSchedule is the fee policy of one payout method
type FeeSchedule struct {
	Kind  FeeKind
	Flat  decimal.Decimal
	Rate  decimal.Decimal
	Tiers []FeeTier
}

// Compute returns the fee for total, rounded to cents and never above total
// so the net amount cannot go negative.
func (f FeeSchedule) Compute(total decimal.Decimal) decimal.Decimal {
	var fee decimal.Decimal
	switch f.Kind {
	case FeeFlat:
		fee = f.Flat
	case FeePercentage:
		fee = total.Mul(f.Rate).Div(hundred)
	case FeeTiered:
		var best *FeeTier
		for i := range f.Tiers {
			tier := &f.Tiers[i]
			if tier.Threshold.LessThanOrEqual(total) && (best == nil || tier.Threshold.GreaterThan(best.Threshold)) {
				best = tier
			}
		}
		if best != nil {
			fee = total.Mul(best.Rate).Div(hundred).Add(best.Flat)
		}
	}

	fee = fee.Round(2)
	if fee.IsNegative() {
		return decimal.Zero
	}
	if fee.GreaterThan(total) {
		return total
	}
	return fee
}

// FeeSchedulesFromConfig parses the seeded fee schedules per method
func FeeSchedulesFromConfig(raw map[string]config.FeeSchedule) (map[models.PayoutMethod]FeeSchedule, error) {
	out := make(map[models.PayoutMethod]FeeSchedule, len(raw))
	for name, cfg := range raw {
		method, err := models.ParsePayoutMethod(name)
		if err != nil {
			return nil, err
		}
		schedule := FeeSchedule{Kind: FeeKind(strings.ToLower(cfg.Kind))}
		if schedule.Flat, err = parseAmount(name+".flat", cfg.Flat); err != nil {
			return nil, err
		}
		if schedule.Rate, err = parseAmount(name+".rate", cfg.Rate); err != nil {
			return nil, err
		}
		for i, t := range cfg.Tiers {
			var tier FeeTier
			field := fmt.Sprintf("%s.tiers[%d]", name, i)
			if tier.Threshold, err = parseAmount(field+".threshold", t.Threshold); err != nil {
				return nil, err
			}
			if tier.Rate, err = parseAmount(field+".rate", t.Rate); err != nil {
				return nil, err
			}
			if tier.Flat, err = parseAmount(field+".flat_amount", t.FlatAmount); err != nil {
				return nil, err
			}
			schedule.Tiers = append(schedule.Tiers, tier)
		}
		sort.Slice(schedule.Tiers, func(i, j int) bool {
			return schedule.Tiers[i].Threshold.LessThan(schedule.Tiers[j].Threshold)
		})

		switch schedule.Kind {
		case FeeNone, FeeFlat, FeePercentage:
		case FeeTiered:
			if len(schedule.Tiers) == 0 {
				return nil, models.NewValidationError(name+".tiers", "a tiered fee needs at least one tier")
			}
		default:
			return nil, models.NewValidationError(name+".kind", "must be none, flat, percentage or tiered")
		}
		out[method] = schedule
	}
	return out, nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return decimal.Zero, models.NewValidationError(field, "must be a non-negative decimal")
	}
	return d, nil
}
