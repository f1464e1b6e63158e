// Package payout is the payout batcher: it claims approved commissions into
// payouts and drives the payout state machine.
package payout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/events"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/store"
	"github.com/revaspay/commissions/internal/utils"
	"github.com/shopspring/decimal"
)

const referencePrefix = "PO"

// Options tunes the batcher
type Options struct {
	DefaultCurrency models.Currency
	DefaultMethod   models.PayoutMethod
	ClaimRetries    int
	Fees            map[models.PayoutMethod]FeeSchedule
}

// CreateInput requests a payout for one user
type CreateInput struct {
	UserID        string
	Method        models.PayoutMethod
	Currency      models.Currency
	ScheduledDate *time.Time
}

// TransitionInput requests a payout status change
type TransitionInput struct {
	Target models.PayoutStatus
	Reason string
	Actor  string
	// ProviderReference is recorded when given and kept otherwise
	ProviderReference string
	ExpectedVersion   *int64
}

// StatusChange is the payload of payout.status_changed events
type StatusChange struct {
	Payout *models.Payout      `json:"payout"`
	From   models.PayoutStatus `json:"from"`
	To     models.PayoutStatus `json:"to"`
	Reason string              `json:"reason,omitempty"`
}

// Service is the payout batcher
type Service struct {
	repo    store.PayoutRepository
	refs    *utils.ReferenceGenerator
	emitter *events.Emitter
	logger  *slog.Logger
	opts    Options
	now     func() time.Time
	backoff func(attempt int) time.Duration
}

// NewService creates a new payout service
func NewService(repo store.PayoutRepository, refs *utils.ReferenceGenerator, emitter *events.Emitter, logger *slog.Logger, opts Options) *Service {
	if opts.ClaimRetries < 0 {
		opts.ClaimRetries = 0
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = models.CurrencyUSD
	}
	if opts.DefaultMethod == "" {
		opts.DefaultMethod = models.PayoutMethodBankTransfer
	}
	return &Service{
		repo:    repo,
		refs:    refs,
		emitter: emitter,
		logger:  logger,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
		backoff: claimBackoff,
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// claimBackoff is a short exponential backoff with jitter between claim attempts
func claimBackoff(attempt int) time.Duration {
	base := 20 * time.Millisecond << attempt
	if base > time.Second {
		base = time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(base)/5 + 1))
	return base - base/10 + jitter
}

// CreatePayout claims every approved, unclaimed commission of the user in the
// currency and schedules one payout for them. It returns nil, nil when nothing
// is claimable, which is also what a caller that lost a concurrent claim sees
// once the winner has committed.
func (s *Service) CreatePayout(ctx context.Context, input CreateInput) (*models.Payout, error) {
	input, err := s.normalizeCreate(input)
	if err != nil {
		return nil, err
	}
	req := models.ClaimRequest{UserID: input.UserID, Method: input.Method, Currency: input.Currency}

	var lastErr error
	for attempt := 0; attempt <= s.opts.ClaimRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff(attempt)):
			}
		}

		p, err := s.repo.ClaimCommissions(ctx, req, s.builder(input))
		if err == nil {
			if p == nil {
				s.logger.Debug("nothing to claim", "user_id", input.UserID, "currency", input.Currency)
				return nil, nil
			}
			s.logger.Info("payout scheduled",
				"payout_id", p.ID, "reference", p.Reference, "user_id", p.UserID,
				"method", p.Method, "commissions", len(p.Items), "total", p.TotalAmount, "net", p.NetAmount)
			s.emitter.Emit(ctx, events.PayoutCreated, p)
			return p, nil
		}
		if !errors.Is(err, models.ErrClaimConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("payout claim conflict, retrying", "user_id", input.UserID, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func (s *Service) normalizeCreate(input CreateInput) (CreateInput, error) {
	var errs []error
	input.UserID = strings.TrimSpace(input.UserID)
	if input.UserID == "" {
		errs = append(errs, models.NewValidationError("user_id", "is required"))
	}
	if input.Method == "" {
		input.Method = s.opts.DefaultMethod
	}
	if method, err := models.ParsePayoutMethod(string(input.Method)); err != nil {
		errs = append(errs, err)
	} else {
		input.Method = method
	}
	if input.Currency == "" {
		input.Currency = s.opts.DefaultCurrency
	} else if currency, err := models.ParseCurrency(string(input.Currency)); err != nil {
		errs = append(errs, err)
	} else {
		input.Currency = currency
	}
	return input, errors.Join(errs...)
}

// builder freezes total, fees and net at claim time; they are never recomputed.
func (s *Service) builder(input CreateInput) models.PayoutBuilder {
	return func(claimable []models.Commission) (*models.Payout, error) {
		now := s.now()
		scheduled := now
		if input.ScheduledDate != nil {
			scheduled = input.ScheduledDate.UTC()
		}

		p := &models.Payout{
			UserID:          input.UserID,
			Method:          input.Method,
			Currency:        input.Currency,
			Status:          models.PayoutStatusScheduled,
			ScheduledDate:   scheduled,
			StatusChangedAt: now,
			Reference:       s.refs.Generate(referencePrefix),
			Items:           make([]models.PayoutItem, 0, len(claimable)),
		}
		p.CreatedAt = now

		total := decimal.Zero
		for i, c := range claimable {
			if c.UserID != input.UserID || c.Currency != input.Currency {
				return nil, models.NewValidationError("commission_ids",
					fmt.Sprintf("commission %s does not belong to %s/%s", c.ID, input.UserID, input.Currency))
			}
			if !c.CalculatedAmount.Valid {
				return nil, models.NewValidationError("commission_ids",
					fmt.Sprintf("commission %s has no calculated amount", c.ID))
			}
			total = total.Add(c.Amount())
			p.Items = append(p.Items, models.PayoutItem{
				CommissionID: c.ID,
				Position:     i,
				Amount:       c.Amount(),
			})
		}

		p.TotalAmount = total
		p.Fees = s.opts.Fees[input.Method].Compute(total)
		p.NetAmount = total.Sub(p.Fees)
		return p, nil
	}
}

// Get returns one payout with its claim list
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	return s.repo.GetPayout(ctx, id)
}

// List returns payouts by status, method, user and scheduled date range
func (s *Service) List(ctx context.Context, filter models.PayoutFilter) ([]models.Payout, error) {
	if err := filter.Scheduled.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListPayouts(ctx, filter)
}

// Transition moves a payout through its state machine. completed marks every
// claimed commission paid and failed/cancelled release the claims, in the same
// transaction as the payout update.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, input TransitionInput) (*models.Payout, error) {
	p, err := s.repo.GetPayout(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.ExpectedVersion != nil && *input.ExpectedVersion != p.Version {
		return nil, fmt.Errorf("payout %s at version %d, expected %d: %w", id, p.Version, *input.ExpectedVersion, models.ErrConflict)
	}
	if !p.Status.CanTransitionTo(input.Target) {
		return nil, &models.TransitionError{Entity: "payout", From: string(p.Status), To: string(input.Target)}
	}
	if input.Actor == "" {
		input.Actor = "api"
	}

	now := s.now()
	from := p.Status
	expected := p.Version
	p.Status = input.Target
	p.StatusReason = input.Reason
	p.StatusChangedAt = now
	if ref := strings.TrimSpace(input.ProviderReference); ref != "" {
		p.ProviderReference = ref
	}
	if input.Target == models.PayoutStatusCompleted || input.Target == models.PayoutStatusFailed {
		processed := now
		p.ProcessedDate = &processed
	}

	if err := s.repo.UpdatePayout(ctx, p, expected, models.CascadeFor(input.Target), input.Actor); err != nil {
		return nil, err
	}

	s.logger.Info("payout status changed",
		"payout_id", p.ID, "reference", p.Reference, "from", from, "to", p.Status, "actor", input.Actor)
	s.emitter.Emit(ctx, events.PayoutStatusChanged, StatusChange{Payout: p, From: from, To: p.Status, Reason: input.Reason})
	return p, nil
}
