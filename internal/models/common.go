package models

import (
	"strings"
	"time"
)

// Currency is an ISO 4217 currency code
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyNGN Currency = "NGN"
	CurrencyGHS Currency = "GHS"
	CurrencyKES Currency = "KES"
	CurrencyZAR Currency = "ZAR"
)

// ParseCurrency normalizes a currency code and checks its shape.
func ParseCurrency(raw string) (Currency, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != 3 {
		return "", NewValidationError("currency", "must be a 3-letter ISO code")
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", NewValidationError("currency", "must be a 3-letter ISO code")
		}
	}
	return Currency(code), nil
}

// DateRange is a half-open [From, To) interval. A zero bound is open.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// Validate rejects inverted ranges.
func (r DateRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && !r.From.Before(r.To) {
		return NewValidationError("date_range", "dateFrom must be before dateTo")
	}
	return nil
}
