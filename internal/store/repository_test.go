package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The checks below run against every Repository implementation. They use
// fresh user ids and source refs so a shared database needs no cleanup.

func approvedCommission(userID, ref string, amount int64, createdAt time.Time) *models.Commission {
	return &models.Commission{
		Base:             models.Base{CreatedAt: createdAt},
		Type:             models.CommissionTypeTransaction,
		SourceRef:        ref,
		UserID:           userID,
		BaseAmount:       decimal.NewFromInt(amount),
		CalculatedAmount: decimal.NewNullDecimal(decimal.NewFromInt(amount)),
		Currency:         models.CurrencyUSD,
		Status:           models.CommissionStatusApproved,
		StatusChangedAt:  createdAt,
		OccurredAt:       createdAt,
	}
}

func buildPayout(req models.ClaimRequest) models.PayoutBuilder {
	return func(claimable []models.Commission) (*models.Payout, error) {
		p := &models.Payout{
			UserID:        req.UserID,
			Method:        req.Method,
			Currency:      req.Currency,
			Status:        models.PayoutStatusScheduled,
			ScheduledDate: time.Now().UTC(),
			Reference:     uuid.NewString(),
		}
		total := decimal.Zero
		for i, c := range claimable {
			total = total.Add(c.Amount())
			p.Items = append(p.Items, models.PayoutItem{CommissionID: c.ID, Position: i, Amount: c.Amount()})
		}
		p.TotalAmount = total
		p.NetAmount = total
		return p, nil
	}
}

func newUserID() string {
	return "user-" + uuid.NewString()
}

func claimableFor(t *testing.T, repo Repository, userID string) []models.ClaimGroup {
	t.Helper()
	groups, err := repo.ListClaimableGroups(context.Background())
	require.NoError(t, err)
	var mine []models.ClaimGroup
	for _, g := range groups {
		if g.UserID == userID {
			mine = append(mine, g)
		}
	}
	return mine
}

func checkDuplicateSource(t *testing.T, repo Repository) {
	ctx := context.Background()
	now := time.Now().UTC()
	ref := uuid.NewString()
	first := newUserID()

	require.NoError(t, repo.CreateCommission(ctx, approvedCommission(first, ref, 100, now), nil))
	err := repo.CreateCommission(ctx, approvedCommission(newUserID(), ref, 50, now), nil)

	assert.ErrorIs(t, err, models.ErrDuplicateSource)

	found, err := repo.GetCommissionBySource(ctx, models.CommissionTypeTransaction, ref)
	require.NoError(t, err)
	assert.Equal(t, first, found.UserID)
}

func checkVersionedUpdate(t *testing.T, repo Repository) {
	ctx := context.Background()
	c := approvedCommission(newUserID(), uuid.NewString(), 100, time.Now().UTC())
	require.NoError(t, repo.CreateCommission(ctx, c, nil))

	first, err := repo.GetCommission(ctx, c.ID)
	require.NoError(t, err)
	second, err := repo.GetCommission(ctx, c.ID)
	require.NoError(t, err)

	first.Status = models.CommissionStatusDisputed
	require.NoError(t, repo.UpdateCommission(ctx, first, first.Version, &models.CommissionTransition{
		FromStatus: models.CommissionStatusApproved,
		ToStatus:   models.CommissionStatusDisputed,
	}))
	assert.Equal(t, int64(2), first.Version)

	second.Status = models.CommissionStatusCancelled
	err = repo.UpdateCommission(ctx, second, second.Version, nil)
	assert.ErrorIs(t, err, models.ErrConflict)

	stored, err := repo.GetCommission(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusDisputed, stored.Status)

	history, err := repo.ListCommissionTransitions(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.CommissionStatusDisputed, history[0].ToStatus)
}

// checkExclusiveClaims races several claimers over [100, 150, 200]. Exactly
// one payout of 450 may come out; the others see nothing to claim or a claim
// conflict, which callers retry.
func checkExclusiveClaims(t *testing.T, repo Repository) {
	ctx := context.Background()
	userID := newUserID()
	base := time.Now().UTC().Add(-time.Hour)
	for i, amount := range []int64{100, 150, 200} {
		c := approvedCommission(userID, uuid.NewString(), amount, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, repo.CreateCommission(ctx, c, nil))
	}

	req := models.ClaimRequest{UserID: userID, Method: models.PayoutMethodBankTransfer, Currency: models.CurrencyUSD}
	results := make([]*models.Payout, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := repo.ClaimCommissions(ctx, req, buildPayout(req))
			if err != nil && !errors.Is(err, models.ErrClaimConflict) {
				assert.NoError(t, err)
			}
			results[i] = p
		}(i)
	}
	wg.Wait()

	created := 0
	for _, p := range results {
		if p == nil {
			continue
		}
		created++
		assert.True(t, decimal.NewFromInt(450).Equal(p.TotalAmount))
		require.Len(t, p.Items, 3)
		assert.True(t, decimal.NewFromInt(100).Equal(p.Items[0].Amount), "items follow claim order")

		stored, err := repo.GetPayout(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Items, 3)
	}
	assert.Equal(t, 1, created)

	again, err := repo.ClaimCommissions(ctx, req, buildPayout(req))
	require.NoError(t, err)
	assert.Nil(t, again, "nothing is left to claim")
	assert.Empty(t, claimableFor(t, repo, userID))
}

func checkPayoutCascades(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	setup := func(t *testing.T) (Repository, *models.Payout, string) {
		repo := newRepo(t)
		userID := newUserID()
		for _, amount := range []int64{10, 20} {
			require.NoError(t, repo.CreateCommission(ctx, approvedCommission(userID, uuid.NewString(), amount, time.Now().UTC()), nil))
		}
		req := models.ClaimRequest{UserID: userID, Method: models.PayoutMethodWallet, Currency: models.CurrencyUSD}
		p, err := repo.ClaimCommissions(ctx, req, buildPayout(req))
		require.NoError(t, err)
		require.NotNil(t, p)
		return repo, p, userID
	}

	t.Run("completed marks every claimed commission paid", func(t *testing.T) {
		repo, p, _ := setup(t)
		p.Status = models.PayoutStatusCompleted
		p.StatusChangedAt = time.Now().UTC()
		require.NoError(t, repo.UpdatePayout(ctx, p, p.Version, models.CascadeMarkPaid, "settlement"))

		for _, id := range p.CommissionIDs() {
			c, err := repo.GetCommission(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.CommissionStatusPaid, c.Status)
			require.NotNil(t, c.PaidAt)
			history, err := repo.ListCommissionTransitions(ctx, id)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, p.ID, *history[0].PayoutID)
		}
	})

	t.Run("failed releases the claims", func(t *testing.T) {
		repo, p, userID := setup(t)
		p.Status = models.PayoutStatusFailed
		p.StatusChangedAt = time.Now().UTC()
		require.NoError(t, repo.UpdatePayout(ctx, p, p.Version, models.CascadeRelease, "settlement"))

		for _, id := range p.CommissionIDs() {
			c, err := repo.GetCommission(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.CommissionStatusApproved, c.Status)
			assert.Nil(t, c.ClaimedBy)
		}
		groups := claimableFor(t, repo, userID)
		require.Len(t, groups, 1)
		assert.Equal(t, 2, groups[0].Count)
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		repo, p, _ := setup(t)
		p.Status = models.PayoutStatusProcessing
		err := repo.UpdatePayout(ctx, p, p.Version+1, models.CascadeNone, "")
		assert.ErrorIs(t, err, models.ErrConflict)

		stored, err := repo.GetPayout(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PayoutStatusScheduled, stored.Status)
	})
}
