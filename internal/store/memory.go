package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/models"
)

// MemoryRepository keeps every table in process memory behind one mutex, which
// makes each method a serializable transaction.
type MemoryRepository struct {
	mu          sync.Mutex
	rules       map[uuid.UUID]*models.CommissionRule
	commissions map[uuid.UUID]*models.Commission
	sources     map[string]uuid.UUID
	transitions map[uuid.UUID][]models.CommissionTransition
	payouts     map[uuid.UUID]*models.Payout
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rules:       make(map[uuid.UUID]*models.CommissionRule),
		commissions: make(map[uuid.UUID]*models.Commission),
		sources:     make(map[string]uuid.UUID),
		transitions: make(map[uuid.UUID][]models.CommissionTransition),
		payouts:     make(map[uuid.UUID]*models.Payout),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func sourceKey(t models.CommissionType, ref string) string {
	return string(t) + "\x00" + ref
}

func stamp(base *models.Base) {
	now := time.Now().UTC()
	if base.ID == uuid.Nil {
		base.ID = uuid.New()
	}
	if base.CreatedAt.IsZero() {
		base.CreatedAt = now
	}
	base.UpdatedAt = now
}

// CreateRule stores a new rule version
func (r *MemoryRepository) CreateRule(ctx context.Context, rule *models.CommissionRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertRule(rule)
}

func (r *MemoryRepository) insertRule(rule *models.CommissionRule) error {
	for _, existing := range r.rules {
		if existing.Key == rule.Key && existing.Version == rule.Version {
			return fmt.Errorf("rule %s version %d: %w", rule.Key, rule.Version, models.ErrConflict)
		}
	}
	stamp(&rule.Base)
	r.rules[rule.ID] = rule.Clone()
	return nil
}

// GetRule returns one rule version
func (r *MemoryRepository) GetRule(ctx context.Context, id uuid.UUID) (*models.CommissionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, models.ErrNotFound)
	}
	return rule.Clone(), nil
}

// ListRules returns rules newest first
func (r *MemoryRepository) ListRules(ctx context.Context, filter models.RuleFilter) ([]models.CommissionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.CommissionRule, 0, len(r.rules))
	for _, rule := range r.rules {
		if filter.Type != nil && rule.Type != *filter.Type {
			continue
		}
		if filter.Key != "" && rule.Key != filter.Key {
			continue
		}
		if filter.ActiveOnly && !rule.Active {
			continue
		}
		out = append(out, *rule.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Version > out[j].Version
	})
	return out, nil
}

// SupersedeRule inserts next and deactivates previousID
func (r *MemoryRepository) SupersedeRule(ctx context.Context, previousID uuid.UUID, next *models.CommissionRule, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, ok := r.rules[previousID]
	if !ok {
		return fmt.Errorf("rule %s: %w", previousID, models.ErrNotFound)
	}
	if !previous.Active {
		return &models.TransitionError{Entity: "rule", From: "inactive", To: "superseded", Reason: "rule is already inactive"}
	}
	if err := r.insertRule(next); err != nil {
		return err
	}
	previous.Active = false
	previous.DeactivatedAt = &at
	previous.SupersededBy = &next.ID
	previous.UpdatedAt = time.Now().UTC()
	return nil
}

// DeactivateRule marks a rule inactive
func (r *MemoryRepository) DeactivateRule(ctx context.Context, id uuid.UUID, at time.Time) (*models.CommissionRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule, ok := r.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, models.ErrNotFound)
	}
	if !rule.Active {
		return nil, &models.TransitionError{Entity: "rule", From: "inactive", To: "inactive", Reason: "rule is already inactive"}
	}
	rule.Active = false
	rule.DeactivatedAt = &at
	rule.UpdatedAt = time.Now().UTC()
	return rule.Clone(), nil
}

// CreateCommission stores a new commission and its first audit row
func (r *MemoryRepository) CreateCommission(ctx context.Context, c *models.Commission, transition *models.CommissionTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := sourceKey(c.Type, c.SourceRef)
	if _, exists := r.sources[key]; exists {
		return fmt.Errorf("%s/%s: %w", c.Type, c.SourceRef, models.ErrDuplicateSource)
	}
	stamp(&c.Base)
	if c.Version == 0 {
		c.Version = 1
	}
	r.commissions[c.ID] = c.Clone()
	r.sources[key] = c.ID
	if transition != nil {
		r.appendTransition(c.ID, transition)
	}
	return nil
}

func (r *MemoryRepository) appendTransition(commissionID uuid.UUID, transition *models.CommissionTransition) {
	if transition.ID == uuid.Nil {
		transition.ID = uuid.New()
	}
	if transition.CreatedAt.IsZero() {
		transition.CreatedAt = time.Now().UTC()
	}
	transition.CommissionID = commissionID
	r.transitions[commissionID] = append(r.transitions[commissionID], *transition)
}

// GetCommission returns one commission
func (r *MemoryRepository) GetCommission(ctx context.Context, id uuid.UUID) (*models.Commission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.commissions[id]
	if !ok {
		return nil, fmt.Errorf("commission %s: %w", id, models.ErrNotFound)
	}
	return c.Clone(), nil
}

// GetCommissionBySource returns the commission recorded for a source event
func (r *MemoryRepository) GetCommissionBySource(ctx context.Context, t models.CommissionType, sourceRef string) (*models.Commission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.sources[sourceKey(t, sourceRef)]
	if !ok {
		return nil, fmt.Errorf("commission %s/%s: %w", t, sourceRef, models.ErrNotFound)
	}
	return r.commissions[id].Clone(), nil
}

// ListCommissions returns the commissions matching filter
func (r *MemoryRepository) ListCommissions(ctx context.Context, filter models.CommissionFilter) ([]models.Commission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Commission, 0)
	for _, c := range r.commissions {
		if matchCommission(c, filter) {
			out = append(out, *c.Clone())
		}
	}
	sortCommissions(out, filter.Sort)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchCommission(c *models.Commission, f models.CommissionFilter) bool {
	if f.Type != nil && c.Type != *f.Type {
		return false
	}
	if f.Status != nil && c.Status != *f.Status {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if c.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UserID != "" && c.UserID != f.UserID {
		return false
	}
	if f.Currency != "" && c.Currency != f.Currency {
		return false
	}
	if !f.Created.Contains(c.CreatedAt) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !c.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.MissingAmount && c.CalculatedAmount.Valid {
		return false
	}
	if f.UnclaimedOnly && c.ClaimedBy != nil {
		return false
	}
	switch f.Sort {
	case models.SortCalculatedDesc:
		return c.CalculatedAt != nil
	case models.SortPaidDesc:
		return c.PaidAt != nil
	}
	return true
}

func sortCommissions(list []models.Commission, by models.CommissionSort) {
	key := func(c *models.Commission) time.Time {
		switch by {
		case models.SortCalculatedDesc:
			return *c.CalculatedAt
		case models.SortPaidDesc:
			return *c.PaidAt
		}
		return c.CreatedAt
	}
	ascending := by == models.SortCreatedAsc
	sort.SliceStable(list, func(i, j int) bool {
		a, b := key(&list[i]), key(&list[j])
		if !a.Equal(b) {
			if ascending {
				return a.Before(b)
			}
			return a.After(b)
		}
		return list[i].ID.String() < list[j].ID.String()
	})
}

// UpdateCommission writes c under a version check
func (r *MemoryRepository) UpdateCommission(ctx context.Context, c *models.Commission, expectedVersion int64, transition *models.CommissionTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.commissions[c.ID]
	if !ok {
		return fmt.Errorf("commission %s: %w", c.ID, models.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("commission %s at version %d, expected %d: %w", c.ID, stored.Version, expectedVersion, models.ErrConflict)
	}
	// claims only move through ClaimCommissions and UpdatePayout
	if stored.ClaimedBy != nil {
		claim := *stored.ClaimedBy
		c.ClaimedBy = &claim
	} else {
		c.ClaimedBy = nil
	}
	c.Version = expectedVersion + 1
	c.UpdatedAt = time.Now().UTC()
	c.CreatedAt = stored.CreatedAt
	r.commissions[c.ID] = c.Clone()
	if transition != nil {
		r.appendTransition(c.ID, transition)
	}
	return nil
}

// ListCommissionTransitions returns the audit trail oldest first
func (r *MemoryRepository) ListCommissionTransitions(ctx context.Context, commissionID uuid.UUID) ([]models.CommissionTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commissions[commissionID]; !ok {
		return nil, fmt.Errorf("commission %s: %w", commissionID, models.ErrNotFound)
	}
	return append([]models.CommissionTransition(nil), r.transitions[commissionID]...), nil
}

// ClaimCommissions builds a payout from every claimable commission of req
func (r *MemoryRepository) ClaimCommissions(ctx context.Context, req models.ClaimRequest, build models.PayoutBuilder) (*models.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	claimable := make([]models.Commission, 0)
	for _, c := range r.commissions {
		if c.Status == models.CommissionStatusApproved && c.ClaimedBy == nil &&
			c.UserID == req.UserID && c.Currency == req.Currency {
			claimable = append(claimable, *c.Clone())
		}
	}
	if len(claimable) == 0 {
		return nil, nil
	}
	sortCommissions(claimable, models.SortCreatedAsc)

	payout, err := build(claimable)
	if err != nil {
		return nil, err
	}
	stamp(&payout.Base)
	if payout.Version == 0 {
		payout.Version = 1
	}
	for i := range payout.Items {
		payout.Items[i].ID = uuid.New()
		payout.Items[i].PayoutID = payout.ID
	}
	for _, item := range payout.Items {
		c := r.commissions[item.CommissionID]
		id := payout.ID
		c.ClaimedBy = &id
		c.Version++
		c.UpdatedAt = payout.CreatedAt
	}
	r.payouts[payout.ID] = payout.Clone()
	return payout, nil
}

// GetPayout returns one payout with its items
func (r *MemoryRepository) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payouts[id]
	if !ok {
		return nil, fmt.Errorf("payout %s: %w", id, models.ErrNotFound)
	}
	return p.Clone(), nil
}

// ListPayouts returns payouts newest scheduled first
func (r *MemoryRepository) ListPayouts(ctx context.Context, filter models.PayoutFilter) ([]models.Payout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Payout, 0)
	for _, p := range r.payouts {
		if filter.Status != nil && p.Status != *filter.Status {
			continue
		}
		if filter.Method != nil && p.Method != *filter.Method {
			continue
		}
		if filter.UserID != "" && p.UserID != filter.UserID {
			continue
		}
		if !filter.Scheduled.Contains(p.ScheduledDate) {
			continue
		}
		out = append(out, *p.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ScheduledDate.After(out[j].ScheduledDate)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// UpdatePayout writes a payout status change and its cascade atomically
func (r *MemoryRepository) UpdatePayout(ctx context.Context, p *models.Payout, expectedVersion int64, cascade models.PayoutCascade, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.payouts[p.ID]
	if !ok {
		return fmt.Errorf("payout %s: %w", p.ID, models.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("payout %s at version %d, expected %d: %w", p.ID, stored.Version, expectedVersion, models.ErrConflict)
	}

	claimed := make([]*models.Commission, 0, len(stored.Items))
	for _, c := range r.commissions {
		if c.ClaimedBy != nil && *c.ClaimedBy == p.ID {
			claimed = append(claimed, c)
		}
	}

	// validate before mutating anything so a failure leaves no partial state
	if cascade == models.CascadeMarkPaid {
		for _, c := range claimed {
			if !c.Status.CanTransitionTo(models.CommissionStatusPaid) {
				return &models.TransitionError{
					Entity: "commission",
					From:   string(c.Status),
					To:     string(models.CommissionStatusPaid),
					Reason: fmt.Sprintf("claimed commission %s is not approved", c.ID),
				}
			}
		}
	}

	at := p.StatusChangedAt
	payoutID := p.ID
	for _, c := range claimed {
		switch cascade {
		case models.CascadeMarkPaid:
			from := c.Status
			paidAt := at
			c.Status = models.CommissionStatusPaid
			c.StatusChangedAt = at
			c.PaidAt = &paidAt
			r.appendTransition(c.ID, &models.CommissionTransition{
				FromStatus: from,
				ToStatus:   models.CommissionStatusPaid,
				Reason:     "payout " + p.Reference + " completed",
				Actor:      actor,
				PayoutID:   &payoutID,
				CreatedAt:  at,
			})
		case models.CascadeRelease:
			c.ClaimedBy = nil
		default:
			continue
		}
		c.Version++
		c.UpdatedAt = time.Now().UTC()
	}

	p.Version = expectedVersion + 1
	p.UpdatedAt = time.Now().UTC()
	r.payouts[p.ID] = p.Clone()
	return nil
}

// ListClaimableGroups returns every (user, currency) pair with claimable commissions
func (r *MemoryRepository) ListClaimableGroups(ctx context.Context) ([]models.ClaimGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[models.ClaimGroup]int)
	for _, c := range r.commissions {
		if c.Status == models.CommissionStatusApproved && c.ClaimedBy == nil {
			counts[models.ClaimGroup{UserID: c.UserID, Currency: c.Currency}]++
		}
	}
	out := make([]models.ClaimGroup, 0, len(counts))
	for group, n := range counts {
		group.Count = n
		out = append(out, group)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}
