package payout

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/models"
)

// BatchResult summarises one batch run
type BatchResult struct {
	Groups   int         `json:"groups"`
	Created  int         `json:"created"`
	Empty    int         `json:"empty"`
	Failed   int         `json:"failed"`
	Payouts  []uuid.UUID `json:"payouts"`
	Errors   []string    `json:"errors,omitempty"`
	Deadline bool        `json:"deadline_exceeded"`
}

// RunBatch creates one payout per (user, currency) group that has claimable
// commissions, using the default method. A failing group does not stop the
// others. When ctx ends the remaining groups are left for the next run.
func (s *Service) RunBatch(ctx context.Context) (BatchResult, error) {
	result := BatchResult{Payouts: []uuid.UUID{}}
	groups, err := s.repo.ListClaimableGroups(ctx)
	if err != nil {
		return result, fmt.Errorf("error listing claimable groups: %w", err)
	}
	result.Groups = len(groups)

	for _, group := range groups {
		if ctx.Err() != nil {
			result.Deadline = true
			break
		}
		p, err := s.CreatePayout(ctx, CreateInput{
			UserID:   group.UserID,
			Method:   s.opts.DefaultMethod,
			Currency: group.Currency,
		})
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s/%s: %v", group.UserID, group.Currency, err))
			s.logger.Error("payout batch group failed", "user_id", group.UserID, "currency", group.Currency, "error", err)
		case p == nil:
			result.Empty++
		default:
			result.Created++
			result.Payouts = append(result.Payouts, p.ID)
		}
	}

	s.logger.Info("payout batch finished",
		"groups", result.Groups, "created", result.Created, "empty", result.Empty, "failed", result.Failed)
	return result, nil
}

// StartDue hands every scheduled payout whose scheduled date has passed to
// processing.
func (s *Service) StartDue(ctx context.Context) (int, error) {
	scheduled := models.PayoutStatusScheduled
	due, err := s.repo.ListPayouts(ctx, models.PayoutFilter{
		Status:    &scheduled,
		Scheduled: models.DateRange{To: s.now()},
	})
	if err != nil {
		return 0, fmt.Errorf("error listing due payouts: %w", err)
	}

	started := 0
	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return started, err
		}
		version := p.Version
		_, err := s.Transition(ctx, p.ID, TransitionInput{
			Target:          models.PayoutStatusProcessing,
			Reason:          "scheduled date reached",
			Actor:           "scheduler",
			ExpectedVersion: &version,
		})
		if err != nil {
			s.logger.Warn("could not start payout", "payout_id", p.ID, "error", err)
			continue
		}
		started++
	}
	return started, nil
}
