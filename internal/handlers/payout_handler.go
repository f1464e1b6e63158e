package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/services/payout"
)

// PayoutHandler serves the payout batcher
type PayoutHandler struct {
	payouts      *payout.Service
	batchTimeout time.Duration
}

// NewPayoutHandler creates a new payout handler
func NewPayoutHandler(payouts *payout.Service, batchTimeout time.Duration) *PayoutHandler {
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Minute
	}
	return &PayoutHandler{payouts: payouts, batchTimeout: batchTimeout}
}

// CreatePayoutRequest is the body of POST /payouts
type CreatePayoutRequest struct {
	UserID        string     `json:"userId" binding:"required,max=100"`
	Method        string     `json:"method" binding:"omitempty,payout_method"`
	Currency      string     `json:"currency" binding:"omitempty,currency"`
	ScheduledDate *time.Time `json:"scheduledDate"`
}

// Create claims the user's approved commissions into a new payout. When
// nothing is claimable the response is 200 with a null payout.
func (h *PayoutHandler) Create(c *gin.Context) {
	var req CreatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	p, err := h.payouts.CreatePayout(c.Request.Context(), payout.CreateInput{
		UserID:        req.UserID,
		Method:        models.PayoutMethod(req.Method),
		Currency:      models.Currency(req.Currency),
		ScheduledDate: req.ScheduledDate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if p == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  "empty",
			"message": "no approved unclaimed commissions",
			"payout":  nil,
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "payout": p})
}

// PayoutListQuery is the query string of GET /payouts
type PayoutListQuery struct {
	Status   string `form:"status" binding:"omitempty,payout_status"`
	Method   string `form:"method" binding:"omitempty,payout_method"`
	UserID   string `form:"userId"`
	DateFrom string `form:"dateFrom"`
	DateTo   string `form:"dateTo"`
	Limit    int    `form:"limit" binding:"omitempty,min=1"`
}

// List filters payouts by status, method, user and scheduled range
func (h *PayoutHandler) List(c *gin.Context) {
	var q PayoutListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBindError(c, err)
		return
	}

	filter := models.PayoutFilter{UserID: q.UserID, Limit: q.Limit}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if q.Status != "" {
		s, _ := models.ParsePayoutStatus(q.Status)
		filter.Status = &s
	}
	if q.Method != "" {
		m, _ := models.ParsePayoutMethod(q.Method)
		filter.Method = &m
	}
	rng, err := parseDateRange(q.DateFrom, q.DateTo)
	if err != nil {
		respondError(c, err)
		return
	}
	filter.Scheduled = rng

	list, err := h.payouts.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts": list, "count": len(list)})
}

// Get returns one payout with its claimed commissions
func (h *PayoutHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.payouts.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// PayoutStatusRequest is the body of POST /payouts/{id}/status
type PayoutStatusRequest struct {
	TargetStatus    string `json:"targetStatus" binding:"required,payout_status"`
	Reason          string `json:"reason" binding:"max=1000"`
	Reference       string `json:"reference" binding:"max=150"`
	ExpectedVersion *int64 `json:"expectedVersion"`
}

// UpdateStatus moves a payout through its state machine
func (h *PayoutHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req PayoutStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	target, _ := models.ParsePayoutStatus(req.TargetStatus)

	p, err := h.payouts.Transition(c.Request.Context(), id, payout.TransitionInput{
		Target:            target,
		Reason:            req.Reason,
		Actor:             actor(c),
		ProviderReference: req.Reference,
		ExpectedVersion:   req.ExpectedVersion,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "payout": p})
}

// RunBatch creates payouts for every user with claimable commissions
func (h *PayoutHandler) RunBatch(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.batchTimeout)
	defer cancel()

	result, err := h.payouts.RunBatch(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "result": result})
}
