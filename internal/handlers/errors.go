package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/revaspay/commissions/internal/models"
)

// statusFor maps a domain error code to its HTTP status
func statusFor(code string) int {
	switch code {
	case "validation_error":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "rule_not_found":
		return http.StatusUnprocessableEntity
	case "invalid_transition", "conflict", "claim_conflict", "duplicate_source":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error", "code"} with the matching status.
// Internal errors are logged with the request and answered generically.
func respondError(c *gin.Context, err error) {
	code := models.ErrorCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal server error", "code": code})
		return
	}

	body := gin.H{"error": err.Error(), "code": code}
	var te *models.TransitionError
	if errors.As(err, &te) {
		body["from"] = te.From
		body["to"] = te.To
	}
	c.JSON(status, body)
}

// respondBindError reports a request body or query that failed binding
func respondBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describe(fe)
		}
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  "invalid request",
			"code":   "validation_error",
			"fields": fields,
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "validation_error"})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "commission_type":
		return "is not a known commission type"
	case "commission_status":
		return "is not a known commission status"
	case "payout_method":
		return "is not a known payout method"
	case "payout_status":
		return "is not a known payout status"
	case "currency":
		return "must be a three letter currency code"
	case "decimal_nonneg":
		return "must be a non-negative decimal"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
