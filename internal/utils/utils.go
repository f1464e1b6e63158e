package utils

import (
	"io"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders an amount with its currency symbol when one is known
func FormatAmount(amount decimal.Decimal, currency string) string {
	fixed := amount.StringFixed(2)
	switch strings.ToUpper(currency) {
	case "USD":
		return "$" + fixed
	case "EUR":
		return "€" + fixed
	case "GBP":
		return "£" + fixed
	case "GHS":
		return "GH₵" + fixed
	case "NGN":
		return "₦" + fixed
	default:
		return fixed + " " + currency
	}
}

// NewLogger builds the process logger. Production logs are JSON; everything
// else uses the text handler.
func NewLogger(w io.Writer, level string, production bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if production {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
