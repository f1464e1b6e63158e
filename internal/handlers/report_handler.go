package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/services/reporting"
)

// ReportHandler serves dashboard reports
type ReportHandler struct {
	reports *reporting.Service
}

// NewReportHandler creates a new report handler
func NewReportHandler(reports *reporting.Service) *ReportHandler {
	return &ReportHandler{reports: reports}
}

func (h *ReportHandler) period(c *gin.Context) (models.Period, bool) {
	period, err := h.reports.Period(c.Query("period"), c.Query("dateFrom"), c.Query("dateTo"))
	if err != nil {
		respondError(c, err)
		return models.Period{}, false
	}
	return period, true
}

// limit reads ?limit; zero lets the service apply its default
func limit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(c, models.NewValidationError("limit", "must be a non-negative integer"))
		return 0, false
	}
	return n, true
}

// Summary returns totals for a period
func (h *ReportHandler) Summary(c *gin.Context) {
	period, ok := h.period(c)
	if !ok {
		return
	}
	summary, err := h.reports.Summary(c.Request.Context(), period, models.Currency(c.Query("currency")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Report returns the summary with breakdowns by type and status and a daily trend
func (h *ReportHandler) Report(c *gin.Context) {
	period, ok := h.period(c)
	if !ok {
		return
	}
	report, err := h.reports.Report(c.Request.Context(), period, models.Currency(c.Query("currency")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// TopEarners returns the earnings leaderboard
func (h *ReportHandler) TopEarners(c *gin.Context) {
	n, ok := limit(c)
	if !ok {
		return
	}
	earners, err := h.reports.TopEarners(c.Request.Context(), n, models.Currency(c.Query("currency")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"top_earners": earners, "count": len(earners)})
}

// Activity returns the most recent ledger and rule events
func (h *ReportHandler) Activity(c *gin.Context) {
	n, ok := limit(c)
	if !ok {
		return
	}
	events, err := h.reports.RecentActivity(c.Request.Context(), n)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": events, "count": len(events)})
}
