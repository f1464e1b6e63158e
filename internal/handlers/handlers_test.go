package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/revaspay/commissions/internal/events"
	"github.com/revaspay/commissions/internal/jobs"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/queue"
	"github.com/revaspay/commissions/internal/services/ledger"
	"github.com/revaspay/commissions/internal/services/payout"
	"github.com/revaspay/commissions/internal/services/reporting"
	"github.com/revaspay/commissions/internal/services/rules"
	"github.com/revaspay/commissions/internal/store"
	"github.com/revaspay/commissions/internal/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router *gin.Engine
	repo   *store.MemoryRepository
	queue  *queue.MemoryQueue
	rules  *rules.Service
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	RegisterValidators()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := &testServer{
		repo:  store.NewMemoryRepository(),
		queue: queue.NewMemoryQueue(),
		now:   time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return s.now }
	emitter := events.NewEmitter(nil, logger)

	s.rules = rules.NewService(s.repo, models.CurrencyUSD, logger)
	s.rules.SetClock(clock)
	_, err := s.rules.Create(context.Background(), rules.RuleInput{
		Key:           "transaction-default",
		Name:          "transaction ten percent",
		Type:          models.CommissionTypeTransaction,
		Formula:       models.FormulaPercentage,
		Rate:          decimal.NewFromInt(10),
		EffectiveFrom: s.now.AddDate(0, -1, 0),
	})
	require.NoError(t, err)

	ledgerService := ledger.NewService(s.repo, s.rules, emitter, logger, ledger.Options{
		DefaultCurrency: models.CurrencyUSD,
		ExpiryWindow:    90 * 24 * time.Hour,
		BulkConcurrency: 4,
	})
	ledgerService.SetClock(clock)

	refs, err := utils.NewReferenceGenerator(1)
	require.NoError(t, err)
	payoutService := payout.NewService(s.repo, refs, emitter, logger, payout.Options{
		DefaultCurrency: models.CurrencyUSD,
		DefaultMethod:   models.PayoutMethodBankTransfer,
		ClaimRetries:    2,
	})
	payoutService.SetClock(clock)

	reports := reporting.NewService(s.repo, nil, logger, reporting.Options{
		Location:        time.UTC,
		DefaultCurrency: models.CurrencyUSD,
	})
	reports.SetClock(clock)

	ingest := jobs.NewIngestJob(s.queue, ledgerService, logger)

	commissions := NewCommissionHandler(ledgerService, ingest)
	payouts := NewPayoutHandler(payoutService, time.Minute)
	ruleHandler := NewRuleHandler(s.rules)
	reportHandler := NewReportHandler(reports)
	health := NewHealthHandler("test", nil)

	r := gin.New()
	r.GET("/health", health.Health)
	api := r.Group("/api")
	api.GET("/commissions/summary", reportHandler.Summary)
	api.GET("/commissions/report", reportHandler.Report)
	api.GET("/commissions/top-earners", reportHandler.TopEarners)
	api.GET("/commissions/activity", reportHandler.Activity)
	api.POST("/commissions", commissions.Ingest)
	api.GET("/commissions", commissions.List)
	api.POST("/commissions/bulk-status", commissions.BulkUpdateStatus)
	api.POST("/commissions/recalculate", commissions.Recalculate)
	api.GET("/commissions/:id", commissions.Get)
	api.GET("/commissions/:id/history", commissions.History)
	api.POST("/commissions/:id/status", commissions.UpdateStatus)
	api.POST("/rules", ruleHandler.Create)
	api.GET("/rules", ruleHandler.List)
	api.POST("/rules/preview", ruleHandler.Preview)
	api.GET("/rules/:id", ruleHandler.Get)
	api.POST("/rules/:id/versions", ruleHandler.Supersede)
	api.POST("/rules/:id/deactivate", ruleHandler.Deactivate)
	api.POST("/payouts", payouts.Create)
	api.GET("/payouts", payouts.List)
	api.POST("/payouts/batch", payouts.RunBatch)
	api.GET("/payouts/:id", payouts.Get)
	api.POST("/payouts/:id/status", payouts.UpdateStatus)
	s.router = r
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded), w.Body.String())
	}
	return w, decoded
}

// ingest records a transaction commission over HTTP and returns its id
func (s *testServer) ingest(t *testing.T, user, sourceRef, base string) string {
	t.Helper()
	w, body := s.do(t, http.MethodPost, "/api/commissions", gin.H{
		"type":       "transaction",
		"sourceRef":  sourceRef,
		"userId":     user,
		"baseAmount": base,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	commission := body["commission"].(map[string]interface{})
	return commission["id"].(string)
}

func (s *testServer) approve(t *testing.T, id string) {
	t.Helper()
	w, _ := s.do(t, http.MethodPost, "/api/commissions/"+id+"/status", gin.H{"targetStatus": "approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func amountOf(t *testing.T, v interface{}) decimal.Decimal {
	t.Helper()
	s, ok := v.(string)
	require.True(t, ok, "expected decimal string, got %v", v)
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestIngestCommission(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/commissions", gin.H{
		"type":       "transaction",
		"sourceRef":  "txn-1",
		"userId":     "user-1",
		"baseAmount": "250.00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, body["created"])
	commission := body["commission"].(map[string]interface{})
	assert.True(t, amountOf(t, commission["calculated_amount"]).Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "calculated", commission["status"])

	// repeating the source ref returns the existing commission
	w, body = s.do(t, http.MethodPost, "/api/commissions", gin.H{
		"type":       "transaction",
		"sourceRef":  "txn-1",
		"userId":     "user-1",
		"baseAmount": "999.00",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["created"])
	assert.Equal(t, commission["id"], body["commission"].(map[string]interface{})["id"])
}

func TestIngestRejectsInvalidBody(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/commissions", gin.H{
		"type":       "bogus",
		"userId":     "user-1",
		"baseAmount": "-5",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["code"])
	fields := body["fields"].(map[string]interface{})
	assert.Contains(t, fields, "type")
	assert.Contains(t, fields, "sourceRef")
	assert.Contains(t, fields, "baseAmount")
}

func TestIngestWithoutRuleStaysPending(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/commissions", gin.H{
		"type":       "referral",
		"sourceRef":  "ref-1",
		"userId":     "user-1",
		"baseAmount": "10",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	commission := body["commission"].(map[string]interface{})
	assert.Equal(t, "pending", commission["status"])
	assert.Nil(t, commission["calculated_amount"])
}

func TestMixedCaseEnumsAreNormalized(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/rules", gin.H{
		"name":       "referral bonus",
		"type":       "Referral",
		"currency":   "usd",
		"formula":    "flat",
		"flatAmount": "5.00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rule := body["rule"].(map[string]interface{})
	assert.Equal(t, "referral", rule["type"])
	assert.Equal(t, "USD", rule["currency"])

	w, body = s.do(t, http.MethodPost, "/api/commissions", gin.H{
		"type":       "REFERRAL",
		"sourceRef":  "signup-1",
		"userId":     "user-1",
		"baseAmount": "0",
		"currency":   "Usd",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	commission := body["commission"].(map[string]interface{})
	assert.Equal(t, "referral", commission["type"])
	assert.Equal(t, "calculated", commission["status"])
	assert.True(t, amountOf(t, commission["calculated_amount"]).Equal(decimal.NewFromInt(5)))

	w, body = s.do(t, http.MethodGet, "/api/commissions?type=referral", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestIngestAsyncQueuesJob(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/commissions?async=true", gin.H{
		"type":       "transaction",
		"sourceRef":  "txn-async",
		"userId":     "user-1",
		"baseAmount": "100",
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "queued", body["status"])

	job, ok := s.queue.Get(body["job_id"].(string))
	require.True(t, ok)
	assert.Equal(t, queue.QueueCommissionIngest, job.Queue)
}

func TestCommissionStatusTransitions(t *testing.T) {
	s := newTestServer(t)
	id := s.ingest(t, "user-1", "txn-1", "100")

	s.approve(t, id)

	// approved cannot be recalculated without a dispute
	w, body := s.do(t, http.MethodPost, "/api/commissions/"+id+"/status", gin.H{"targetStatus": "calculated"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", body["code"])
	assert.Equal(t, "approved", body["from"])
	assert.Equal(t, "calculated", body["to"])

	w, body = s.do(t, http.MethodGet, "/api/commissions/"+id+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["transitions"], 2)
}

func TestCommissionStaleVersionConflicts(t *testing.T) {
	s := newTestServer(t)
	id := s.ingest(t, "user-1", "txn-1", "100")

	w, body := s.do(t, http.MethodPost, "/api/commissions/"+id+"/status", gin.H{
		"targetStatus":    "approved",
		"expectedVersion": 42,
	})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", body["code"])
}

func TestGetCommissionNotFound(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodGet, "/api/commissions/"+uuid.NewString(), nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["code"])

	w, _ = s.do(t, http.MethodGet, "/api/commissions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListCommissionsFilters(t *testing.T) {
	s := newTestServer(t)
	a := s.ingest(t, "user-1", "txn-1", "100")
	s.ingest(t, "user-2", "txn-2", "100")
	s.approve(t, a)

	w, body := s.do(t, http.MethodGet, "/api/commissions?status=approved", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = s.do(t, http.MethodGet, "/api/commissions?userId=user-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, _ = s.do(t, http.MethodGet, "/api/commissions?status=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.do(t, http.MethodGet, "/api/commissions?dateFrom=2024-06-10&dateTo=2024-06-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulkStatusReportsPerItemResults(t *testing.T) {
	s := newTestServer(t)
	a := s.ingest(t, "user-1", "txn-1", "100")
	b := s.ingest(t, "user-1", "txn-2", "100")
	s.approve(t, b)
	missing := uuid.NewString()

	w, body := s.do(t, http.MethodPost, "/api/commissions/bulk-status", gin.H{
		"ids":          []string{a, b, missing},
		"targetStatus": "cancelled",
		"reason":       "fraud review",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, body["succeeded"])
	assert.EqualValues(t, 1, body["failed"])
	assert.Len(t, body["results"], 3)
}

func TestPayoutLifecycle(t *testing.T) {
	s := newTestServer(t)
	for _, ref := range []string{"txn-1", "txn-2"} {
		s.approve(t, s.ingest(t, "user-1", ref, "100"))
	}

	w, body := s.do(t, http.MethodPost, "/api/payouts", gin.H{"userId": "user-1", "method": "paypal"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	p := body["payout"].(map[string]interface{})
	assert.True(t, amountOf(t, p["total_amount"]).Equal(decimal.NewFromInt(20)))
	assert.Equal(t, "scheduled", p["status"])
	id := p["id"].(string)

	// nothing left to claim
	w, body = s.do(t, http.MethodPost, "/api/payouts", gin.H{"userId": "user-1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, body["payout"])

	w, _ = s.do(t, http.MethodPost, "/api/payouts/"+id+"/status", gin.H{"targetStatus": "processing"})
	require.Equal(t, http.StatusOK, w.Code)
	w, body = s.do(t, http.MethodPost, "/api/payouts/"+id+"/status", gin.H{
		"targetStatus": "completed",
		"reference":    "PAYPAL-123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p = body["payout"].(map[string]interface{})
	assert.Equal(t, "completed", p["status"])
	assert.Equal(t, "PAYPAL-123", p["provider_reference"])

	w, body = s.do(t, http.MethodGet, "/api/commissions?status=paid", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])

	w, body = s.do(t, http.MethodPost, "/api/payouts/"+id+"/status", gin.H{"targetStatus": "processing"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "invalid_transition", body["code"])
}

func TestPayoutBatch(t *testing.T) {
	s := newTestServer(t)
	s.approve(t, s.ingest(t, "user-1", "txn-1", "100"))
	s.approve(t, s.ingest(t, "user-2", "txn-2", "100"))

	w, body := s.do(t, http.MethodPost, "/api/payouts/batch", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := body["result"].(map[string]interface{})
	assert.EqualValues(t, 2, result["created"])

	w, body = s.do(t, http.MethodGet, "/api/payouts?status=scheduled", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])
}

func TestRuleVersioning(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/rules", gin.H{
		"key":        "referral-flat",
		"name":       "referral bonus",
		"type":       "referral",
		"formula":    "flat",
		"flatAmount": "5.00",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rule := body["rule"].(map[string]interface{})
	id := rule["id"].(string)
	assert.EqualValues(t, 1, rule["version"])

	w, body = s.do(t, http.MethodPost, "/api/rules/"+id+"/versions", gin.H{
		"name":       "referral bonus",
		"formula":    "flat",
		"flatAmount": "7.50",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	next := body["rule"].(map[string]interface{})
	assert.EqualValues(t, 2, next["version"])
	assert.Equal(t, "referral-flat", next["key"])

	w, body = s.do(t, http.MethodGet, "/api/rules/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["active"])

	w, body = s.do(t, http.MethodGet, "/api/rules?type=referral&active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])
}

func TestRulePreview(t *testing.T) {
	s := newTestServer(t)

	w, body := s.do(t, http.MethodPost, "/api/rules/preview", gin.H{
		"type":       "transaction",
		"baseAmount": "80",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, amountOf(t, body["amount"]).Equal(decimal.NewFromInt(8)))

	w, body = s.do(t, http.MethodPost, "/api/rules/preview", gin.H{"baseAmount": "80"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["code"])
}

func TestSummaryEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.approve(t, s.ingest(t, "user-1", "txn-1", "100"))
	s.ingest(t, "user-2", "txn-2", "300")

	w, body := s.do(t, http.MethodGet, "/api/commissions/summary?period=7d", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, body["total_commissions"])
	assert.True(t, amountOf(t, body["total_amount"]).Equal(decimal.NewFromInt(40)))
	assert.EqualValues(t, 2, body["pending_commissions"])

	w, body = s.do(t, http.MethodGet, "/api/commissions/summary?period=fortnight", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["code"])
}

func TestReportAndLeaderboardEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.ingest(t, "user-1", "txn-1", "100")

	w, body := s.do(t, http.MethodGet, "/api/commissions/report?period=today", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, body["trend"], 1)
	assert.Contains(t, body["by_status"], "pending")

	w, body = s.do(t, http.MethodGet, "/api/commissions/top-earners?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["count"])

	w, body = s.do(t, http.MethodGet, "/api/commissions/activity?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["count"])

	w, _ = s.do(t, http.MethodGet, "/api/commissions/activity?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = s.do(t, http.MethodGet, "/api/commissions/report?dateFrom=0001-01-01", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", body["code"])
}

func TestHealthReportsFailingChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHealthHandler("1.0.0", map[string]HealthCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	r := gin.New()
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/boom", func(c *gin.Context) {
		respondError(c, errors.New("pq: password authentication failed"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
}
