package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/revaspay/commissions/internal/models"
)

// DefaultPeriod is used when no period or date range is requested
const DefaultPeriod = "30d"

const dayLayout = "2006-01-02"

// MaxRangeDays bounds a custom dateFrom/dateTo range
const MaxRangeDays = 366

// ParsePeriod resolves a period label or an explicit dateFrom/dateTo range
// into a half-open window in loc. Rolling windows end at the start of the
// next local day so every request on the same day shares a window.
//
// Labels: today, 7d, 30d, 90d, mtd (month to date), ytd (year to date).
// dateFrom and dateTo accept RFC 3339 timestamps or YYYY-MM-DD days; a bare
// dateTo day is inclusive.
func ParsePeriod(label, dateFrom, dateTo string, now time.Time, loc *time.Location) (models.Period, error) {
	if loc == nil {
		loc = time.UTC
	}
	if dateFrom != "" || dateTo != "" {
		return parseRange(dateFrom, dateTo, now, loc)
	}

	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		label = DefaultPeriod
	}

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	end := today.AddDate(0, 0, 1)

	var start time.Time
	switch label {
	case "today":
		start = today
	case "7d":
		start = end.AddDate(0, 0, -7)
	case "30d":
		start = end.AddDate(0, 0, -30)
	case "90d":
		start = end.AddDate(0, 0, -90)
	case "mtd":
		start = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	case "ytd":
		start = time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc)
	default:
		return models.Period{}, models.NewValidationError("period", "must be one of today, 7d, 30d, 90d, mtd, ytd")
	}
	return models.Period{Label: label, From: start, To: end}, nil
}

func parseRange(dateFrom, dateTo string, now time.Time, loc *time.Location) (models.Period, error) {
	period := models.Period{Label: "custom"}

	if dateFrom == "" {
		return period, models.NewValidationError("dateFrom", "is required with dateTo")
	}
	from, _, err := parseBound(dateFrom, loc)
	if err != nil {
		return period, models.NewValidationError("dateFrom", err.Error())
	}
	period.From = from

	if dateTo == "" {
		local := now.In(loc)
		period.To = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	} else {
		to, dayOnly, err := parseBound(dateTo, loc)
		if err != nil {
			return period, models.NewValidationError("dateTo", err.Error())
		}
		if dayOnly {
			to = to.AddDate(0, 0, 1)
		}
		period.To = to
	}

	rng := models.DateRange{From: period.From, To: period.To}
	if err := rng.Validate(); err != nil {
		return period, err
	}
	if period.To.After(period.From.AddDate(0, 0, MaxRangeDays)) {
		return period, models.NewValidationError("date_range", fmt.Sprintf("must not span more than %d days", MaxRangeDays))
	}
	return period, nil
}

func parseBound(raw string, loc *time.Location) (time.Time, bool, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.ParseInLocation(dayLayout, raw, loc); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.In(loc), false, nil
}
