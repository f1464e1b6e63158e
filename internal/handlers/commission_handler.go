package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/jobs"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/services/ledger"
	"github.com/shopspring/decimal"
)

const (
	maxBulkIDs     = 500
	defaultBulkTTL = 30 * time.Second
	maxBulkTTL     = 5 * time.Minute
	maxListLimit   = 500
)

// CommissionHandler serves the commission ledger
type CommissionHandler struct {
	ledger *ledger.Service
	ingest *jobs.IngestJob
}

// NewCommissionHandler creates a new commission handler. ingest may be nil,
// in which case async ingestion is refused.
func NewCommissionHandler(ledgerService *ledger.Service, ingest *jobs.IngestJob) *CommissionHandler {
	return &CommissionHandler{ledger: ledgerService, ingest: ingest}
}

// IngestRequest is the body of POST /commissions
type IngestRequest struct {
	Type         string                 `json:"type" binding:"required,commission_type"`
	SourceRef    string                 `json:"sourceRef" binding:"required,max=200"`
	UserID       string                 `json:"userId" binding:"required,max=100"`
	BaseAmount   *decimal.Decimal       `json:"baseAmount" binding:"required,decimal_nonneg"`
	VolumeAmount *decimal.Decimal       `json:"volumeAmount" binding:"omitempty,decimal_nonneg"`
	Currency     string                 `json:"currency" binding:"omitempty,currency"`
	OccurredAt   *time.Time             `json:"occurredAt"`
	Metadata     map[string]interface{} `json:"metadata"`
}

func (r IngestRequest) payload() jobs.IngestPayload {
	p := jobs.IngestPayload{
		Type:       models.CommissionType(r.Type),
		SourceRef:  r.SourceRef,
		UserID:     r.UserID,
		BaseAmount: *r.BaseAmount,
		Currency:   models.Currency(r.Currency),
		Metadata:   r.Metadata,
	}
	if r.VolumeAmount != nil {
		p.VolumeAmount = decimal.NewNullDecimal(*r.VolumeAmount)
	}
	if r.OccurredAt != nil {
		p.OccurredAt = *r.OccurredAt
	}
	return p
}

// Ingest records a commission for a business event. A repeated
// (type, sourceRef) returns the existing commission with 200.
func (h *CommissionHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	payload := req.payload()

	if async, _ := strconv.ParseBool(c.Query("async")); async {
		if h.ingest == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async ingestion is not available", "code": "unavailable"})
			return
		}
		jobID, err := h.ingest.Enqueue(c.Request.Context(), payload)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued", "job_id": jobID})
		return
	}

	commission, created, err := h.ledger.Ingest(c.Request.Context(), ledger.IngestInput{
		Type:         payload.Type,
		SourceRef:    payload.SourceRef,
		UserID:       payload.UserID,
		BaseAmount:   payload.BaseAmount,
		VolumeAmount: payload.VolumeAmount,
		Currency:     payload.Currency,
		OccurredAt:   payload.OccurredAt,
		Metadata:     payload.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"status": "success", "created": created, "commission": commission})
}

// ListQuery is the query string of GET /commissions
type ListQuery struct {
	Type     string `form:"type" binding:"omitempty,commission_type"`
	Status   string `form:"status" binding:"omitempty,commission_status"`
	UserID   string `form:"userId"`
	Currency string `form:"currency" binding:"omitempty,currency"`
	DateFrom string `form:"dateFrom"`
	DateTo   string `form:"dateTo"`
	Limit    int    `form:"limit" binding:"omitempty,min=1"`
}

// List filters commissions by type, status, user and creation range
func (h *CommissionHandler) List(c *gin.Context) {
	var q ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}

	filter := models.CommissionFilter{UserID: q.UserID, Limit: q.Limit}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if q.Type != "" {
		t, _ := models.ParseCommissionType(q.Type)
		filter.Type = &t
	}
	if q.Status != "" {
		s, _ := models.ParseCommissionStatus(q.Status)
		filter.Status = &s
	}
	if q.Currency != "" {
		cur, _ := models.ParseCurrency(q.Currency)
		filter.Currency = cur
	}
	rng, err := parseDateRange(q.DateFrom, q.DateTo)
	if err != nil {
		respondError(c, err)
		return
	}
	filter.Created = rng

	list, err := h.ledger.Filter(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commissions": list, "count": len(list)})
}

// Get returns one commission
func (h *CommissionHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	commission, err := h.ledger.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, commission)
}

// History returns the audit trail of one commission
func (h *CommissionHandler) History(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	history, err := h.ledger.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commission_id": id, "transitions": history})
}

// StatusRequest is the body of POST /commissions/{id}/status
type StatusRequest struct {
	TargetStatus        string           `json:"targetStatus" binding:"required,commission_status"`
	Reason              string           `json:"reason" binding:"max=1000"`
	CorrectedBaseAmount *decimal.Decimal `json:"correctedBaseAmount" binding:"omitempty,decimal_nonneg"`
	ExpectedVersion     *int64           `json:"expectedVersion"`
}

// UpdateStatus moves one commission through its state machine
func (h *CommissionHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	target, _ := models.ParseCommissionStatus(req.TargetStatus)

	commission, err := h.ledger.Transition(c.Request.Context(), id, ledger.TransitionInput{
		Target:              target,
		Reason:              req.Reason,
		Actor:               actor(c),
		CorrectedBaseAmount: req.CorrectedBaseAmount,
		ExpectedVersion:     req.ExpectedVersion,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "commission": commission})
}

// BulkStatusRequest is the body of POST /commissions/bulk-status
type BulkStatusRequest struct {
	IDs          []uuid.UUID `json:"ids" binding:"required,min=1"`
	TargetStatus string      `json:"targetStatus" binding:"required,commission_status"`
	Reason       string      `json:"reason" binding:"max=1000"`
	TimeoutMs    int         `json:"timeoutMs" binding:"omitempty,min=1"`
}

// BulkUpdateStatus applies one transition to many commissions and reports
// per-item results. Items committed before the deadline stay committed.
func (h *CommissionHandler) BulkUpdateStatus(c *gin.Context) {
	var req BulkStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if len(req.IDs) > maxBulkIDs {
		respondError(c, models.NewValidationError("ids", "at most "+strconv.Itoa(maxBulkIDs)+" ids per request"))
		return
	}

	timeout := defaultBulkTTL
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	if timeout > maxBulkTTL {
		timeout = maxBulkTTL
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	target, _ := models.ParseCommissionStatus(req.TargetStatus)
	results := h.ledger.BulkTransition(ctx, req.IDs, ledger.TransitionInput{
		Target: target,
		Reason: req.Reason,
		Actor:  actor(c),
	})

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"results":   results,
		"succeeded": succeeded,
		"failed":    len(results) - succeeded,
	})
}

// Recalculate runs the recalculation pass now
func (h *CommissionHandler) Recalculate(c *gin.Context) {
	result, err := h.ledger.Recalculate(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "result": result})
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "code": "validation_error"})
		return uuid.Nil, false
	}
	return id, true
}

// actor names who asked for a change. There is no authentication layer here;
// an upstream gateway may pass the caller in X-Actor.
func actor(c *gin.Context) string {
	if a := c.GetHeader("X-Actor"); a != "" {
		return a
	}
	return "api"
}

func parseDateRange(from, to string) (models.DateRange, error) {
	var rng models.DateRange
	var err error
	if from != "" {
		if rng.From, err = parseDate(from, false); err != nil {
			return rng, models.NewValidationError("dateFrom", "must be RFC 3339 or YYYY-MM-DD")
		}
	}
	if to != "" {
		if rng.To, err = parseDate(to, true); err != nil {
			return rng, models.NewValidationError("dateTo", "must be RFC 3339 or YYYY-MM-DD")
		}
	}
	return rng, rng.Validate()
}

// parseDate reads RFC 3339 or a UTC day. A day used as an upper bound covers
// the whole day.
func parseDate(raw string, upper bool) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		if upper {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
