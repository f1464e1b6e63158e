package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/services/rules"
	"github.com/shopspring/decimal"
)

// RuleHandler manages commission rules
type RuleHandler struct {
	rules *rules.Service
}

// NewRuleHandler creates a new rule handler
func NewRuleHandler(ruleService *rules.Service) *RuleHandler {
	return &RuleHandler{rules: ruleService}
}

// TierRequest is one row of a tiered table
type TierRequest struct {
	Threshold  decimal.Decimal `json:"threshold" binding:"decimal_nonneg"`
	Rate       decimal.Decimal `json:"rate" binding:"decimal_nonneg"`
	FlatAmount decimal.Decimal `json:"flatAmount" binding:"decimal_nonneg"`
}

// RuleRequest is the body of POST /rules and POST /rules/{id}/versions
type RuleRequest struct {
	Key           string           `json:"key" binding:"max=100"`
	Name          string           `json:"name" binding:"max=200"`
	Description   string           `json:"description"`
	Type          string           `json:"type" binding:"omitempty,commission_type"`
	Formula       string           `json:"formula" binding:"required,oneof=flat percentage tiered"`
	FlatAmount    decimal.Decimal  `json:"flatAmount" binding:"decimal_nonneg"`
	Rate          decimal.Decimal  `json:"rate" binding:"decimal_nonneg"`
	Tiers         []TierRequest    `json:"tiers" binding:"dive"`
	MinAmount     *decimal.Decimal `json:"minAmount" binding:"omitempty,decimal_nonneg"`
	MaxAmount     *decimal.Decimal `json:"maxAmount" binding:"omitempty,decimal_nonneg"`
	Currency      string           `json:"currency" binding:"omitempty,currency"`
	EffectiveFrom *time.Time       `json:"effectiveFrom"`
	EffectiveTo   *time.Time       `json:"effectiveTo"`
	Priority      int              `json:"priority"`
}

func (r RuleRequest) input() rules.RuleInput {
	in := rules.RuleInput{
		Key:         r.Key,
		Name:        r.Name,
		Description: r.Description,
		Type:        models.CommissionType(r.Type),
		Formula:     models.FormulaType(r.Formula),
		FlatAmount:  r.FlatAmount,
		Rate:        r.Rate,
		Currency:    models.Currency(r.Currency),
		EffectiveTo: r.EffectiveTo,
		Priority:    r.Priority,
	}
	if r.EffectiveFrom != nil {
		in.EffectiveFrom = *r.EffectiveFrom
	}
	if r.MinAmount != nil {
		in.MinAmount = decimal.NewNullDecimal(*r.MinAmount)
	}
	if r.MaxAmount != nil {
		in.MaxAmount = decimal.NewNullDecimal(*r.MaxAmount)
	}
	for _, t := range r.Tiers {
		in.Tiers = append(in.Tiers, models.RuleTier{Threshold: t.Threshold, Rate: t.Rate, FlatAmount: t.FlatAmount})
	}
	return in
}

// Create adds a rule at version 1
func (h *RuleHandler) Create(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.Type == "" {
		respondError(c, models.NewValidationError("type", "is required"))
		return
	}
	rule, err := h.rules.Create(c.Request.Context(), req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "rule": rule})
}

// List returns rules, optionally only active ones of a type
func (h *RuleHandler) List(c *gin.Context) {
	filter := models.RuleFilter{Key: c.Query("key")}
	if raw := c.Query("type"); raw != "" {
		t, err := models.ParseCommissionType(raw)
		if err != nil {
			respondError(c, err)
			return
		}
		filter.Type = &t
	}
	if raw := c.Query("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(c, models.NewValidationError("active", "must be a boolean"))
			return
		}
		filter.ActiveOnly = active
	}

	list, err := h.rules.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": list, "count": len(list)})
}

// Get returns one rule version
func (h *RuleHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rule, err := h.rules.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Supersede publishes a new version of a rule and deactivates the old one.
// Rules are never edited in place.
func (h *RuleHandler) Supersede(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	rule, err := h.rules.Supersede(c.Request.Context(), id, req.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "rule": rule})
}

// Deactivate stops a rule from matching new commissions
func (h *RuleHandler) Deactivate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rule, err := h.rules.Deactivate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "rule": rule})
}

// PreviewRequest is the body of POST /rules/preview
type PreviewRequest struct {
	RuleID       *uuid.UUID       `json:"ruleId"`
	Type         string           `json:"type" binding:"omitempty,commission_type"`
	Currency     string           `json:"currency" binding:"omitempty,currency"`
	BaseAmount   *decimal.Decimal `json:"baseAmount" binding:"required,decimal_nonneg"`
	VolumeAmount *decimal.Decimal `json:"volumeAmount" binding:"omitempty,decimal_nonneg"`
	OccurredAt   *time.Time       `json:"occurredAt"`
}

// Preview evaluates a rule, or the rule that would apply, for a base amount
func (h *RuleHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	if req.RuleID == nil && req.Type == "" {
		respondError(c, models.NewValidationError("type", "is required without ruleId"))
		return
	}

	lookup := rules.Lookup{
		Type:     models.CommissionType(req.Type),
		Currency: models.Currency(req.Currency),
		Volume:   *req.BaseAmount,
	}
	if req.VolumeAmount != nil {
		lookup.Volume = *req.VolumeAmount
	}
	if req.OccurredAt != nil {
		lookup.OccurredAt = *req.OccurredAt
	}

	preview, err := h.rules.PreviewAmount(c.Request.Context(), req.RuleID, lookup, *req.BaseAmount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}
