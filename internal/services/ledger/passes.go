package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/models"
)

// BulkResult is the outcome of one id of a bulk transition
type BulkResult struct {
	ID         uuid.UUID          `json:"id"`
	Success    bool               `json:"success"`
	Commission *models.Commission `json:"commission,omitempty"`
	Error      string             `json:"error,omitempty"`
	Code       string             `json:"code,omitempty"`
}

// BulkTransition applies input to every id independently. Results keep the
// input order. When ctx ends, items not yet started report the context error
// and items already committed stay committed.
func (s *Service) BulkTransition(ctx context.Context, ids []uuid.UUID, input TransitionInput) []BulkResult {
	results := make([]BulkResult, len(ids))
	sem := make(chan struct{}, s.opts.BulkConcurrency)
	var wg sync.WaitGroup

	for i, id := range ids {
		results[i].ID = id

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i].fail(ctx.Err())
			continue
		}

		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := ctx.Err(); err != nil {
				results[i].fail(err)
				return
			}
			item := input
			item.ExpectedVersion = nil
			c, err := s.Transition(ctx, id, item)
			if err != nil {
				results[i].fail(err)
				return
			}
			results[i].Success = true
			results[i].Commission = c
		}(i, id)
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	s.logger.Info("bulk commission transition finished",
		"target", input.Target, "requested", len(ids), "failed", failed)
	return results
}

func (r *BulkResult) fail(err error) {
	r.Success = false
	r.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		r.Code = "deadline_exceeded"
	default:
		r.Code = models.ErrorCode(err)
	}
}

// PassResult counts what a scheduled pass did
type PassResult struct {
	Examined int `json:"examined"`
	Changed  int `json:"changed"`
	Skipped  int `json:"skipped"`
}

// Recalculate moves pending commissions without an amount to calculated when
// a rule now applies. Commissions still without a rule stay pending.
func (s *Service) Recalculate(ctx context.Context) (PassResult, error) {
	var result PassResult
	pending := models.CommissionStatusPending
	list, err := s.repo.ListCommissions(ctx, models.CommissionFilter{
		Status:        &pending,
		MissingAmount: true,
		Sort:          models.SortCreatedAsc,
	})
	if err != nil {
		return result, fmt.Errorf("error listing pending commissions: %w", err)
	}

	for i := range list {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		c := &list[i]
		result.Examined++

		if err := s.recalculate(ctx, c, nil); err != nil {
			if errors.Is(err, models.ErrRuleNotFound) {
				result.Skipped++
				continue
			}
			return result, err
		}
		if _, err := s.apply(ctx, c, models.CommissionStatusCalculated, "recalculated after rule change", SystemActor); err != nil {
			if errors.Is(err, models.ErrConflict) {
				result.Skipped++
				continue
			}
			return result, err
		}
		result.Changed++
	}

	if result.Examined > 0 {
		s.logger.Info("recalculation pass finished",
			"examined", result.Examined, "calculated", result.Changed, "still_pending", result.Skipped)
	}
	return result, nil
}

// ExpireStale expires pending and calculated commissions created more than
// the expiry window ago. A non-positive window disables expiry.
func (s *Service) ExpireStale(ctx context.Context) (PassResult, error) {
	var result PassResult
	if s.opts.ExpiryWindow <= 0 {
		return result, nil
	}

	cutoff := s.now().Add(-s.opts.ExpiryWindow)
	list, err := s.repo.ListCommissions(ctx, models.CommissionFilter{
		Statuses:      []models.CommissionStatus{models.CommissionStatusPending, models.CommissionStatusCalculated},
		CreatedBefore: cutoff,
		Sort:          models.SortCreatedAsc,
	})
	if err != nil {
		return result, fmt.Errorf("error listing stale commissions: %w", err)
	}

	reason := fmt.Sprintf("not approved within %s", s.opts.ExpiryWindow)
	for i := range list {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Examined++
		if _, err := s.apply(ctx, &list[i], models.CommissionStatusExpired, reason, SystemActor); err != nil {
			if errors.Is(err, models.ErrConflict) {
				result.Skipped++
				continue
			}
			return result, err
		}
		result.Changed++
	}

	if result.Changed > 0 {
		s.logger.Info("expiry pass finished", "expired", result.Changed, "skipped", result.Skipped, "cutoff", cutoff)
	}
	return result, nil
}
