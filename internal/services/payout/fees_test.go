package payout

import (
	"testing"

	"github.com/revaspay/commissions/internal/config"
	"github.com/revaspay/commissions/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFeeCompute(t *testing.T) {
	tiered := FeeSchedule{Kind: FeeTiered, Tiers: []FeeTier{
		{Threshold: d("0"), Rate: d("3")},
		{Threshold: d("1000"), Rate: d("1"), Flat: d("5")},
	}}

	tests := []struct {
		name     string
		schedule FeeSchedule
		total    string
		want     string
	}{
		{"zero value is free", FeeSchedule{}, "450", "0"},
		{"none", FeeSchedule{Kind: FeeNone, Flat: d("9")}, "450", "0"},
		{"flat", FeeSchedule{Kind: FeeFlat, Flat: d("2.50")}, "450", "2.5"},
		{"flat capped at total", FeeSchedule{Kind: FeeFlat, Flat: d("25")}, "10", "10"},
		{"percentage rounds to cents", FeeSchedule{Kind: FeePercentage, Rate: d("1.5")}, "33.33", "0.5"},
		{"tiered low band", tiered, "500", "15"},
		{"tiered high band", tiered, "2000", "25"},
		{"negative flat floors at zero", FeeSchedule{Kind: FeeFlat, Flat: d("-3")}, "10", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.schedule.Compute(d(tt.total))
			assert.True(t, d(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestFeeSchedulesFromConfig(t *testing.T) {
	schedules, err := FeeSchedulesFromConfig(map[string]config.FeeSchedule{
		"paypal": {Kind: "percentage", Rate: "2.9"},
		"wallet": {Kind: "flat", Flat: "0.25"},
	})
	require.NoError(t, err)
	assert.Equal(t, FeePercentage, schedules[models.PayoutMethodPayPal].Kind)
	assert.True(t, d("2.9").Equal(schedules[models.PayoutMethodPayPal].Rate))
	assert.True(t, d("0.25").Equal(schedules[models.PayoutMethodWallet].Flat))

	_, err = FeeSchedulesFromConfig(map[string]config.FeeSchedule{"pigeon": {Kind: "flat", Flat: "1"}})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = FeeSchedulesFromConfig(map[string]config.FeeSchedule{"paypal": {Kind: "percentage", Rate: "lots"}})
	assert.Error(t, err)
}
