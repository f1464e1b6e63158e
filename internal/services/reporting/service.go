// Package reporting builds the read models dashboards render: summaries,
// breakdowns, trends, the earnings leaderboard and the activity feed.
package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/store"
	"github.com/revaspay/commissions/internal/utils"
	"github.com/shopspring/decimal"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Source is the read side the reports are computed from
type Source interface {
	ListCommissions(ctx context.Context, filter models.CommissionFilter) ([]models.Commission, error)
	ListRules(ctx context.Context, filter models.RuleFilter) ([]models.CommissionRule, error)
}

var _ Source = (store.Repository)(nil)

// Options configures reporting
type Options struct {
	Location                  *time.Location
	DefaultCurrency           models.Currency
	TopEarnersIncludeApproved bool
	CacheTTL                  time.Duration
}

// Service computes reports, optionally through a cache
type Service struct {
	source Source
	cache  Cache
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewService creates a new reporting service. A nil cache or a non-positive
// TTL disables caching.
func NewService(source Source, cache Cache, logger *slog.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = models.CurrencyUSD
	}
	if cache == nil || opts.CacheTTL <= 0 {
		cache = NoopCache{}
	}
	return &Service{
		source: source,
		cache:  cache,
		logger: logger,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Location is the timezone reports bucket by
func (s *Service) Location() *time.Location {
	return s.opts.Location
}

// Period resolves request parameters against the service clock and timezone
func (s *Service) Period(label, dateFrom, dateTo string) (models.Period, error) {
	return ParsePeriod(label, dateFrom, dateTo, s.now(), s.opts.Location)
}

func (s *Service) currency(raw models.Currency) (models.Currency, error) {
	if raw == "" {
		return s.opts.DefaultCurrency, nil
	}
	return models.ParseCurrency(string(raw))
}

// cached serves key from the cache or computes and stores it. Cache failures
// only cost a recomputation.
func (s *Service) cached(ctx context.Context, key string, dest interface{}, compute func() error) error {
	hit, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		s.logger.Warn("report cache read failed", "key", key, "error", err)
	}
	if hit {
		return nil
	}
	if err := compute(); err != nil {
		return err
	}
	if err := s.cache.Set(ctx, key, dest, s.opts.CacheTTL); err != nil {
		s.logger.Warn("report cache write failed", "key", key, "error", err)
	}
	return nil
}

func periodKey(kind string, period models.Period, currency models.Currency) string {
	return fmt.Sprintf("%s:%s:%d:%d", kind, currency, period.From.Unix(), period.To.Unix())
}

// Summary returns the headline figures of period. Cancelled and expired
// commissions are not counted.
func (s *Service) Summary(ctx context.Context, period models.Period, currency models.Currency) (*models.Summary, error) {
	currency, err := s.currency(currency)
	if err != nil {
		return nil, err
	}
	var out models.Summary
	err = s.cached(ctx, periodKey("summary", period, currency), &out, func() error {
		list, err := s.commissionsIn(ctx, period, currency)
		if err != nil {
			return err
		}
		out = s.summarize(period, currency, list)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Report returns the breakdowns and the daily trend of period. byStatus covers
// every status; the summary, byType and trend cover counted commissions only,
// so the trend buckets always add up to the summary total.
func (s *Service) Report(ctx context.Context, period models.Period, currency models.Currency) (*models.Report, error) {
	currency, err := s.currency(currency)
	if err != nil {
		return nil, err
	}
	var out models.Report
	err = s.cached(ctx, periodKey("report", period, currency), &out, func() error {
		list, err := s.commissionsIn(ctx, period, currency)
		if err != nil {
			return err
		}
		out = s.report(period, currency, list)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Service) commissionsIn(ctx context.Context, period models.Period, currency models.Currency) ([]models.Commission, error) {
	list, err := s.source.ListCommissions(ctx, models.CommissionFilter{
		Currency: currency,
		Created:  models.DateRange{From: period.From, To: period.To},
		Sort:     models.SortCreatedAsc,
	})
	if err != nil {
		return nil, fmt.Errorf("error loading commissions for report: %w", err)
	}
	return list, nil
}

func counted(status models.CommissionStatus) bool {
	return status != models.CommissionStatusCancelled && status != models.CommissionStatusExpired
}

func (s *Service) summarize(period models.Period, currency models.Currency, list []models.Commission) models.Summary {
	sum := models.Summary{
		Period:        period,
		Currency:      currency,
		TotalAmount:   decimal.Zero,
		PendingAmount: decimal.Zero,
		GeneratedAt:   s.now(),
	}
	for i := range list {
		c := &list[i]
		if !counted(c.Status) {
			continue
		}
		sum.TotalCommissions++
		sum.TotalAmount = sum.TotalAmount.Add(c.Amount())
		if c.Status.IsOutstanding() {
			sum.PendingCommissions++
			sum.PendingAmount = sum.PendingAmount.Add(c.Amount())
		}
	}
	sum.AverageCommission = average(sum.TotalAmount, sum.TotalCommissions)
	return sum
}

func (s *Service) report(period models.Period, currency models.Currency, list []models.Commission) models.Report {
	out := models.Report{
		Summary:  s.summarize(period, currency, list),
		ByType:   make(map[models.CommissionType]models.Breakdown, len(models.CommissionTypes)),
		ByStatus: make(map[models.CommissionStatus]models.Breakdown, len(models.CommissionStatuses)),
		Trend:    s.buckets(period),
	}
	for _, t := range models.CommissionTypes {
		out.ByType[t] = models.Breakdown{Amount: decimal.Zero}
	}
	for _, st := range models.CommissionStatuses {
		out.ByStatus[st] = models.Breakdown{Amount: decimal.Zero}
	}

	index := make(map[string]int, len(out.Trend))
	for i, b := range out.Trend {
		index[b.Date] = i
	}

	for i := range list {
		c := &list[i]
		out.ByStatus[c.Status] = add(out.ByStatus[c.Status], c.Amount())
		if !counted(c.Status) {
			continue
		}
		out.ByType[c.Type] = add(out.ByType[c.Type], c.Amount())
		if i, ok := index[c.CreatedAt.In(s.opts.Location).Format(dayLayout)]; ok {
			out.Trend[i].TotalAmount = out.Trend[i].TotalAmount.Add(c.Amount())
			out.Trend[i].CommissionsCount++
		}
	}
	return out
}

// buckets returns one zeroed bucket per local day in period
func (s *Service) buckets(period models.Period) []models.TrendBucket {
	loc := s.opts.Location
	from := period.From.In(loc)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)

	buckets := make([]models.TrendBucket, 0)
	for day.Before(period.To) {
		buckets = append(buckets, models.TrendBucket{
			Date:        day.Format(dayLayout),
			Start:       day,
			TotalAmount: decimal.Zero,
		})
		day = day.AddDate(0, 0, 1)
	}
	return buckets
}

func add(b models.Breakdown, amount decimal.Decimal) models.Breakdown {
	b.Count++
	b.Amount = b.Amount.Add(amount)
	return b
}

func average(total decimal.Decimal, count int) decimal.Decimal {
	if count < 1 {
		count = 1
	}
	return total.Div(decimal.NewFromInt(int64(count))).Round(2)
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

// TopEarners ranks users by paid earnings, plus approved ones when the policy
// says so. Ties go to the lower user id.
func (s *Service) TopEarners(ctx context.Context, n int, currency models.Currency) ([]models.TopEarner, error) {
	currency, err := s.currency(currency)
	if err != nil {
		return nil, err
	}
	n = clampLimit(n)

	statuses := []models.CommissionStatus{models.CommissionStatusPaid}
	if s.opts.TopEarnersIncludeApproved {
		statuses = append(statuses, models.CommissionStatusApproved)
	}

	out := make([]models.TopEarner, 0)
	key := fmt.Sprintf("top:%s:%d:%t", currency, n, s.opts.TopEarnersIncludeApproved)
	err = s.cached(ctx, key, &out, func() error {
		list, err := s.source.ListCommissions(ctx, models.CommissionFilter{Statuses: statuses, Currency: currency})
		if err != nil {
			return fmt.Errorf("error loading earnings: %w", err)
		}

		byUser := make(map[string]*models.TopEarner)
		for i := range list {
			c := &list[i]
			e, ok := byUser[c.UserID]
			if !ok {
				e = &models.TopEarner{UserID: c.UserID, TotalEarned: decimal.Zero}
				byUser[c.UserID] = e
			}
			e.TotalEarned = e.TotalEarned.Add(c.Amount())
			e.CommissionsCount++
		}

		ranked := make([]models.TopEarner, 0, len(byUser))
		for _, e := range byUser {
			e.AverageCommission = average(e.TotalEarned, e.CommissionsCount)
			ranked = append(ranked, *e)
		}
		sort.Slice(ranked, func(i, j int) bool {
			if c := ranked[i].TotalEarned.Cmp(ranked[j].TotalEarned); c != 0 {
				return c > 0
			}
			return ranked[i].UserID < ranked[j].UserID
		})
		if len(ranked) > n {
			ranked = ranked[:n]
		}
		out = ranked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecentActivity merges earned, paid, rule created and rule deactivated events
// newest first, capped at n. It is never cached.
func (s *Service) RecentActivity(ctx context.Context, n int) ([]models.ActivityEvent, error) {
	n = clampLimit(n)

	earned, err := s.source.ListCommissions(ctx, models.CommissionFilter{Sort: models.SortCalculatedDesc, Limit: n})
	if err != nil {
		return nil, fmt.Errorf("error loading earned commissions: %w", err)
	}
	paid, err := s.source.ListCommissions(ctx, models.CommissionFilter{Sort: models.SortPaidDesc, Limit: n})
	if err != nil {
		return nil, fmt.Errorf("error loading paid commissions: %w", err)
	}
	rules, err := s.source.ListRules(ctx, models.RuleFilter{})
	if err != nil {
		return nil, fmt.Errorf("error loading rules: %w", err)
	}

	feed := make([]models.ActivityEvent, 0, len(earned)+len(paid)+len(rules))
	for i := range earned {
		c := &earned[i]
		if c.CalculatedAt == nil {
			continue
		}
		feed = append(feed, commissionEvent(c, models.ActivityCommissionEarned, *c.CalculatedAt,
			fmt.Sprintf("%s commission of %s earned by %s", c.Type, utils.FormatAmount(c.Amount(), string(c.Currency)), c.UserID)))
	}
	for i := range paid {
		c := &paid[i]
		if c.PaidAt == nil {
			continue
		}
		feed = append(feed, commissionEvent(c, models.ActivityCommissionPaid, *c.PaidAt,
			fmt.Sprintf("%s paid to %s", utils.FormatAmount(c.Amount(), string(c.Currency)), c.UserID)))
	}
	for i := range rules {
		r := &rules[i]
		id := r.ID
		feed = append(feed, models.ActivityEvent{
			Kind:        models.ActivityRuleCreated,
			At:          r.CreatedAt,
			RuleID:      &id,
			Type:        r.Type,
			Currency:    r.Currency,
			Description: fmt.Sprintf("rule %s v%d created", r.Key, r.Version),
		})
		if r.DeactivatedAt != nil {
			feed = append(feed, models.ActivityEvent{
				Kind:        models.ActivityRuleDeactivated,
				At:          *r.DeactivatedAt,
				RuleID:      &id,
				Type:        r.Type,
				Currency:    r.Currency,
				Description: fmt.Sprintf("rule %s v%d deactivated", r.Key, r.Version),
			})
		}
	}

	sort.SliceStable(feed, func(i, j int) bool {
		return feed[i].At.After(feed[j].At)
	})
	if len(feed) > n {
		feed = feed[:n]
	}
	return feed, nil
}

func commissionEvent(c *models.Commission, kind models.ActivityKind, at time.Time, description string) models.ActivityEvent {
	id := c.ID
	amount := c.Amount()
	return models.ActivityEvent{
		Kind:         kind,
		At:           at,
		CommissionID: &id,
		UserID:       c.UserID,
		Type:         c.Type,
		Amount:       &amount,
		Currency:     c.Currency,
		Description:  description,
	}
}
