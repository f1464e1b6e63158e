package payout

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/events"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/services/ledger"
	"github.com/revaspay/commissions/internal/services/rules"
	"github.com/revaspay/commissions/internal/store"
	"github.com/revaspay/commissions/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo    *store.MemoryRepository
	ledger  *ledger.Service
	payouts *Service
	now     time.Time
}

func newFixture(t *testing.T, fees map[models.PayoutMethod]FeeSchedule) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		repo: store.NewMemoryRepository(),
		now:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	emitter := events.NewEmitter(nil, logger)

	ruleService := rules.NewService(f.repo, models.CurrencyUSD, logger)
	ruleService.SetClock(clock)
	_, err := ruleService.Create(context.Background(), rules.RuleInput{
		Name:          "transaction ten percent",
		Type:          models.CommissionTypeTransaction,
		Formula:       models.FormulaPercentage,
		Rate:          decimal.NewFromInt(10),
		EffectiveFrom: f.now.Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	f.ledger = ledger.NewService(f.repo, ruleService, emitter, logger, ledger.Options{
		DefaultCurrency: models.CurrencyUSD,
		BulkConcurrency: 4,
	})
	f.ledger.SetClock(clock)

	refs, err := utils.NewReferenceGenerator(1)
	require.NoError(t, err)
	f.payouts = NewService(f.repo, refs, emitter, logger, Options{
		DefaultCurrency: models.CurrencyUSD,
		DefaultMethod:   models.PayoutMethodBankTransfer,
		ClaimRetries:    2,
		Fees:            fees,
	})
	f.payouts.SetClock(clock)
	f.payouts.backoff = func(int) time.Duration { return time.Millisecond }
	return f
}

// approved ingests a transaction commission worth amount and approves it
func (f *fixture) approved(t *testing.T, user string, amount int64) *models.Commission {
	t.Helper()
	ctx := context.Background()
	c, _, err := f.ledger.Ingest(ctx, ledger.IngestInput{
		Type:       models.CommissionTypeTransaction,
		SourceRef:  uuid.NewString(),
		UserID:     user,
		BaseAmount: decimal.NewFromInt(amount * 10),
	})
	require.NoError(t, err)
	f.now = f.now.Add(time.Second)

	c, err = f.ledger.Transition(ctx, c.ID, ledger.TransitionInput{Target: models.CommissionStatusApproved, Actor: "reviewer"})
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(amount).Equal(c.Amount()))
	return c
}

func TestConcurrentPayoutsClaimOnce(t *testing.T) {
	f := newFixture(t, nil)
	for _, amount := range []int64{100, 150, 200} {
		f.approved(t, "u1", amount)
	}

	var wg sync.WaitGroup
	results := make([]*models.Payout, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.payouts.CreatePayout(context.Background(), CreateInput{UserID: "u1"})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	var created []*models.Payout
	for _, p := range results {
		if p != nil {
			created = append(created, p)
		}
	}
	require.Len(t, created, 1, "exactly one caller wins the claim")
	p := created[0]
	assert.True(t, decimal.NewFromInt(450).Equal(p.TotalAmount))
	assert.Len(t, p.Items, 3)
	assert.Equal(t, models.PayoutStatusScheduled, p.Status)
	assert.Contains(t, p.Reference, "PO_")
}

func TestPayoutItemsFollowCreationOrder(t *testing.T) {
	f := newFixture(t, nil)
	first := f.approved(t, "u1", 10)
	second := f.approved(t, "u1", 20)

	p, err := f.payouts.CreatePayout(context.Background(), CreateInput{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, p.Items, 2)
	assert.Equal(t, first.ID, p.Items[0].CommissionID)
	assert.Equal(t, second.ID, p.Items[1].CommissionID)
	assert.Equal(t, 0, p.Items[0].Position)
	assert.Equal(t, 1, p.Items[1].Position)
}

func TestCreatePayoutEmpty(t *testing.T) {
	f := newFixture(t, nil)

	p, err := f.payouts.CreatePayout(context.Background(), CreateInput{UserID: "nobody"})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestCreatePayoutValidation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.payouts.CreatePayout(context.Background(), CreateInput{UserID: " ", Method: "carrier_pigeon"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "user_id")
	assert.Contains(t, err.Error(), "method")
}

func TestNetIsTotalMinusFees(t *testing.T) {
	f := newFixture(t, map[models.PayoutMethod]FeeSchedule{
		models.PayoutMethodPayPal: {Kind: FeePercentage, Rate: decimal.RequireFromString("2.5")},
	})
	f.approved(t, "u1", 100)
	f.approved(t, "u1", 300)

	p, err := f.payouts.CreatePayout(context.Background(), CreateInput{UserID: "u1", Method: models.PayoutMethodPayPal})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(400).Equal(p.TotalAmount))
	assert.True(t, decimal.NewFromInt(10).Equal(p.Fees))
	assert.True(t, p.TotalAmount.Sub(p.Fees).Equal(p.NetAmount))
}

func TestCompletedPayoutMarksCommissionsPaid(t *testing.T) {
	f := newFixture(t, nil)
	a := f.approved(t, "u1", 100)
	b := f.approved(t, "u1", 50)
	ctx := context.Background()

	p, err := f.payouts.CreatePayout(ctx, CreateInput{UserID: "u1"})
	require.NoError(t, err)

	_, err = f.payouts.Transition(ctx, p.ID, TransitionInput{Target: models.PayoutStatusProcessing})
	require.NoError(t, err)
	f.now = f.now.Add(time.Hour)
	done, err := f.payouts.Transition(ctx, p.ID, TransitionInput{Target: models.PayoutStatusCompleted, Actor: "finance"})
	require.NoError(t, err)
	require.NotNil(t, done.ProcessedDate)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		c, err := f.ledger.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.CommissionStatusPaid, c.Status)
		require.NotNil(t, c.PaidAt)
		assert.True(t, f.now.Equal(*c.PaidAt))

		history, err := f.ledger.History(ctx, id)
		require.NoError(t, err)
		last := history[len(history)-1]
		assert.Equal(t, models.CommissionStatusPaid, last.ToStatus)
		require.NotNil(t, last.PayoutID)
		assert.Equal(t, p.ID, *last.PayoutID)
	}
}

func TestFailedPayoutReleasesClaims(t *testing.T) {
	f := newFixture(t, nil)
	c := f.approved(t, "u1", 75)
	ctx := context.Background()

	p, err := f.payouts.CreatePayout(ctx, CreateInput{UserID: "u1"})
	require.NoError(t, err)

	again, err := f.payouts.CreatePayout(ctx, CreateInput{UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, again, "claimed commissions are not claimable twice")

	_, err = f.payouts.Transition(ctx, p.ID, TransitionInput{Target: models.PayoutStatusProcessing})
	require.NoError(t, err)
	_, err = f.payouts.Transition(ctx, p.ID, TransitionInput{Target: models.PayoutStatusFailed, Reason: "bank rejected"})
	require.NoError(t, err)

	stored, err := f.ledger.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CommissionStatusApproved, stored.Status)
	assert.Nil(t, stored.ClaimedBy)

	retry, err := f.payouts.CreatePayout(ctx, CreateInput{UserID: "u1"})
	require.NoError(t, err)
	require.NotNil(t, retry)
	assert.NotEqual(t, p.ID, retry.ID)
	assert.Equal(t, c.ID, retry.Items[0].CommissionID)
}

func TestCancelledPayoutReleasesClaims(t *testing.T) {
	f := newFixture(t, nil)
	c := f.approved(t, "u1", 30)
	ctx := context.Background()

	p, err := f.payouts.CreatePayout(ctx, CreateInput{UserID: "u1"})
	require.NoError(t, err)
	_, err = f.payouts.Transition(ctx, p.ID, TransitionInput{Target: models.PayoutStatusCancelled})
	require.NoError(t, err)

	stored, err := f.ledger.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ClaimedBy)
}

func TestPayoutTransitionGraph(t *testing.T) {
	f := newFixture(t, nil)
	f.approved(t, "u1", 30)
	ctx := context.Background()

	p, err := f.payouts.CreatePayout(ctx, CreateInput{UserID: "u1"})
	require.NoError(t, err)

	_, err = f.payouts.Transition(ctx, p.ID, TransitionInput{Target: models.PayoutStatusCompleted})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	stale := p.Version + 5
	_, err = f.payouts.Transition(ctx, p.ID, TransitionInput{Target: models.PayoutStatusProcessing, ExpectedVersion: &stale})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.payouts.Transition(ctx, uuid.New(), TransitionInput{Target: models.PayoutStatusProcessing})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestClaimedCommissionCannotBeCancelled(t *testing.T) {
	f := newFixture(t, nil)
	c := f.approved(t, "u1", 30)
	ctx := context.Background()

	_, err := f.payouts.CreatePayout(ctx, CreateInput{UserID: "u1"})
	require.NoError(t, err)

	_, err = f.ledger.Transition(ctx, c.ID, ledger.TransitionInput{Target: models.CommissionStatusCancelled})
	assert.Error(t, err)
}

func TestRunBatchGroupsByUserAndCurrency(t *testing.T) {
	f := newFixture(t, nil)
	f.approved(t, "u1", 10)
	f.approved(t, "u1", 20)
	f.approved(t, "u2", 5)

	result, err := f.payouts.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Groups)
	assert.Equal(t, 2, result.Created)
	assert.Len(t, result.Payouts, 2)

	second, err := f.payouts.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Groups)
}

func TestRunBatchStopsAtDeadline(t *testing.T) {
	f := newFixture(t, nil)
	f.approved(t, "u1", 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := f.payouts.RunBatch(ctx)
	require.NoError(t, err)
	assert.True(t, result.Deadline)
	assert.Zero(t, result.Created)
}

func TestStartDue(t *testing.T) {
	f := newFixture(t, nil)
	f.approved(t, "u1", 10)
	f.approved(t, "u2", 10)
	ctx := context.Background()

	later := f.now.Add(48 * time.Hour)
	_, err := f.payouts.CreatePayout(ctx, CreateInput{UserID: "u1"})
	require.NoError(t, err)
	future, err := f.payouts.CreatePayout(ctx, CreateInput{UserID: "u2", ScheduledDate: &later})
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	started, err := f.payouts.StartDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	stored, err := f.payouts.Get(ctx, future.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusScheduled, stored.Status)
}

func TestListValidatesRange(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.payouts.List(context.Background(), models.PayoutFilter{
		Scheduled: models.DateRange{From: f.now, To: f.now.Add(-time.Hour)},
	})
	assert.ErrorIs(t, err, models.ErrValidation)
}
