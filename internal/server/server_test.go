package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/etimsbridge/internal/clock"
	"github.com/smallbiznis/etimsbridge/internal/compliance/domain"
	"github.com/smallbiznis/etimsbridge/internal/compliance/repository/memory"
	"github.com/smallbiznis/etimsbridge/internal/compliance/service"
	"github.com/smallbiznis/etimsbridge/internal/config"
	"github.com/smallbiznis/etimsbridge/internal/locker"
	"github.com/smallbiznis/etimsbridge/internal/observability"
	"github.com/smallbiznis/etimsbridge/internal/ratelimit"
	"github.com/smallbiznis/etimsbridge/internal/regulatory/oscu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var base = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

type testAPI struct {
	router *gin.Engine
	clock  *clock.FakeClock
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(base)

	svc := service.NewService(service.Params{
		Log:       zap.NewNop(),
		GenID:     node,
		Clock:     clk,
		Documents: memory.NewDocumentRepository(),
		Events:    memory.NewEventRepository(),
		Items: memory.NewItemRepository(domain.ComplianceItem{
			ID:                 "item-1",
			MerchantID:         "m1",
			Name:               "Widget",
			ItemType:           domain.ItemTypeGoods,
			TaxCategory:        domain.TaxCategoryVATStandard,
			ClassificationCode: domain.StringPtr("ABCD1234"),
			UnitCode:           domain.StringPtr("U"),
			PackagingUnitCode:  domain.StringPtr("NT"),
			TaxTyCd:            domain.StringPtr("B"),
			ProductTypeCode:    domain.StringPtr("2"),
		}),
		Connections: memory.NewConnectionRepository(domain.ComplianceConnection{
			ID:          1,
			MerchantID:  "m1",
			BranchID:    "00",
			KraPin:      "P051234567X",
			DeviceID:    "KRACU0100000001",
			Environment: domain.EnvironmentSandbox,
			Status:      domain.ConnectionStatusActive,
		}),
		Adapter: &oscu.StubAdapter{Now: clk.Now},
		Locker:  locker.NewLocal(),
		Policy:  config.NewStaticPolicy(config.DefaultSubmissionPolicy()),
	})

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:       router,
		Cfg:       config.Config{Environment: "production"},
		Log:       zap.NewNop(),
		Documents: svc,
	})
	return &testAPI{router: router, clock: clk}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	a.router.ServeHTTP(resp, req)

	out := map[string]any{}
	if resp.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	}
	return resp, out
}

func salePayload(source, branch string) map[string]any {
	return map[string]any{
		"merchantId":       "m1",
		"branchId":         branch,
		"sourceSystem":     "API",
		"sourceDocumentId": source,
		"documentType":     "SALE",
		"documentNumber":   "INV-" + source,
		"saleDate":         "2025-03-01",
		"currency":         "KES",
		"exchangeRate":     1,
		"subtotalAmount":   100,
		"totalTax":         16,
		"totalAmount":      116,
		"lines": []map[string]any{{
			"itemId":      "item-1",
			"description": "Widget",
			"quantity":    1,
			"unitPrice":   100,
			"taxCategory": "VAT_STANDARD",
			"taxAmount":   16,
		}},
	}
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	out, ok := body["data"].(map[string]any)
	require.True(t, ok, "missing data in %v", body)
	return out
}

func errorOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	out, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error in %v", body)
	return out
}

func (a *testAPI) createSale(t *testing.T, source string) string {
	t.Helper()
	resp, body := a.do(t, http.MethodPost, "/v1/documents", salePayload(source, "00"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	return data(t, body)["id"].(string)
}

func (a *testAPI) acceptSale(t *testing.T, source string) string {
	t.Helper()
	id := a.createSale(t, source)
	for _, step := range []string{"validate", "prepare", "submit"} {
		resp, _ := a.do(t, http.MethodPost, "/v1/documents/"+id+"/"+step, nil)
		require.Equal(t, http.StatusOK, resp.Code, "%s: %s", step, resp.Body.String())
	}
	return id
}

func TestCreateDocumentIsIdempotent(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodPost, "/v1/documents", salePayload("1001", "00"))
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	first := data(t, body)
	assert.Equal(t, true, body["created"])
	assert.Equal(t, "DRAFT", first["complianceStatus"])
	lines := first["lines"].([]any)
	require.Len(t, lines, 1)
	assert.Equal(t, "ABCD1234", lines[0].(map[string]any)["classificationCode"])

	resp, body = api.do(t, http.MethodPost, "/v1/documents", salePayload("1001", "00"))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, false, body["created"])
	assert.Equal(t, first["id"], data(t, body)["id"])
}

func TestCreateDocumentRejectsInvalidInput(t *testing.T) {
	api := newTestAPI(t)

	payload := salePayload("1001", "00")
	delete(payload, "merchantId")
	resp, body := api.do(t, http.MethodPost, "/v1/documents", payload)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	apiErr := errorOf(t, body)
	assert.Equal(t, "validation_error", apiErr["type"])
	details := apiErr["errors"].([]any)
	require.Len(t, details, 1)
	assert.Equal(t, "invalid_request", details[0].(map[string]any)["code"])
	assert.Contains(t, details[0].(map[string]any)["message"], "merchantId")

	payload = salePayload("1002", "00")
	payload["lines"] = []map[string]any{{"itemId": "missing", "quantity": 1, "unitPrice": 100, "taxCategory": "VAT_STANDARD"}}
	resp, body = api.do(t, http.MethodPost, "/v1/documents", payload)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	details = errorOf(t, body)["errors"].([]any)
	assert.Equal(t, "item_not_found", details[0].(map[string]any)["code"])

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString(`{"merchantId":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSale(t, "1001")

	resp, body := api.do(t, http.MethodPost, "/v1/documents/"+id+"/validate", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "VALIDATED", data(t, body)["complianceStatus"])
	validation := body["validation"].(map[string]any)
	assert.Equal(t, true, validation["isValid"])

	resp, body = api.do(t, http.MethodPost, "/v1/documents/"+id+"/prepare", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "READY_FOR_SUBMISSION", data(t, body)["complianceStatus"])

	resp, body = api.do(t, http.MethodPost, "/v1/documents/"+id+"/submit", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	doc := data(t, body)
	assert.Equal(t, "ACCEPTED", doc["complianceStatus"])
	assert.EqualValues(t, 1, doc["submissionAttempts"])
	assert.NotEmpty(t, doc["etimsReceiptNumber"])
	assert.Equal(t, true, body["submission"].(map[string]any)["success"])

	resp, body = api.do(t, http.MethodGet, "/v1/documents/"+id+"/events", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	events := body["data"].([]any)
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.(map[string]any)["eventType"].(string))
	}
	assert.Equal(t, []string{"DOCUMENT_CREATED", "VALIDATED", "PREPARED", "SUBMITTED", "ACCEPTED"}, types)

	resp, body = api.do(t, http.MethodGet, "/v1/documents/"+id+"/report", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	report := data(t, body)
	assert.Equal(t, "ACCEPTED", report["status"])
	assert.NotNil(t, report["regulator"])

	// accepted documents are final
	resp, body = api.do(t, http.MethodPost, "/v1/documents/"+id+"/cancel", nil)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "conflict", errorOf(t, body)["type"])
}

func TestSubmitRequiresReadyDocument(t *testing.T) {
	api := newTestAPI(t)
	id := api.createSale(t, "1001")

	resp, body := api.do(t, http.MethodPost, "/v1/documents/"+id+"/submit", nil)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "operation not allowed in the current document status", errorOf(t, body)["message"])
}

func TestSubmitWithoutConnection(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodPost, "/v1/documents", salePayload("1001", "07"))
	require.Equal(t, http.StatusCreated, resp.Code)
	id := data(t, body)["id"].(string)
	for _, step := range []string{"validate", "prepare"} {
		resp, _ = api.do(t, http.MethodPost, "/v1/documents/"+id+"/"+step, nil)
		require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	}

	resp, body = api.do(t, http.MethodPost, "/v1/documents/"+id+"/submit", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Equal(t, "connection_unavailable", errorOf(t, body)["type"])
}

func TestCancelAndAbandon(t *testing.T) {
	api := newTestAPI(t)

	cancelled := api.createSale(t, "1001")
	resp, body := api.do(t, http.MethodPost, "/v1/documents/"+cancelled+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, "CANCELLED", data(t, body)["complianceStatus"])

	// abandon only applies to rejected documents
	draft := api.createSale(t, "1002")
	resp, _ = api.do(t, http.MethodPost, "/v1/documents/"+draft+"/abandon", map[string]any{"reason": "duplicate"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp, _ = api.do(t, http.MethodPost, "/v1/documents/"+draft+"/retry", nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestGetDocumentErrors(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodGet, "/v1/documents/not-a-number", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "invalid_id", errorOf(t, body)["errors"].([]any)[0].(map[string]any)["code"])

	resp, body = api.do(t, http.MethodGet, "/v1/documents/123456789", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", errorOf(t, body)["type"])

	resp, body = api.do(t, http.MethodGet, "/v1/unknown", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", errorOf(t, body)["type"])
}

func TestListDocumentsPages(t *testing.T) {
	api := newTestAPI(t)
	ids := make([]string, 0, 3)
	for i := 1; i <= 3; i++ {
		ids = append(ids, api.createSale(t, fmt.Sprintf("100%d", i)))
		api.clock.Advance(time.Hour)
	}

	resp, body := api.do(t, http.MethodGet, "/v1/documents?merchant_id=m1&page_size=2", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	page := data(t, body)
	docs := page["documents"].([]any)
	require.Len(t, docs, 2)
	assert.Equal(t, ids[2], docs[0].(map[string]any)["id"])
	assert.Equal(t, ids[1], docs[1].(map[string]any)["id"])
	info := page["pageInfo"].(map[string]any)
	require.NotNil(t, info["next"])

	resp, body = api.do(t, http.MethodGet, "/v1/documents?merchant_id=m1&page_size=2&before="+info["next"].(string), nil)
	require.Equal(t, http.StatusOK, resp.Code)
	docs = data(t, body)["documents"].([]any)
	require.Len(t, docs, 1)
	assert.Equal(t, ids[0], docs[0].(map[string]any)["id"])

	resp, body = api.do(t, http.MethodGet, "/v1/documents?page_size=2", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "validation_error", errorOf(t, body)["type"])

	resp, _ = api.do(t, http.MethodGet, "/v1/documents?merchant_id=m1&start_date=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp, _ = api.do(t, http.MethodGet, "/v1/documents?merchant_id=m1&page_size=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateCreditNote(t *testing.T) {
	api := newTestAPI(t)

	draft := api.createSale(t, "1001")
	resp, body := api.do(t, http.MethodPost, "/v1/credit-notes", map[string]any{
		"merchantId":          "m1",
		"saleId":              draft,
		"traderInvoiceNumber": "CN-1",
	})
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "original sale has not been accepted", errorOf(t, body)["message"])

	sale := api.acceptSale(t, "1002")
	resp, body = api.do(t, http.MethodPost, "/v1/credit-notes?submit=true", map[string]any{
		"merchantId":          "m1",
		"saleId":              sale,
		"traderInvoiceNumber": "CN-2",
		"returnDate":          "2025-03-02",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	note := data(t, body)
	assert.Equal(t, "CREDIT_NOTE", note["documentType"])
	assert.Equal(t, sale, note["originalSaleId"])
	assert.Equal(t, "ACCEPTED", note["complianceStatus"])
	assert.Equal(t, "R", note["receiptTypeCode"])
	assert.NotNil(t, body["submission"])

	resp, _ = api.do(t, http.MethodPost, "/v1/credit-notes", map[string]any{"saleId": "abc"})
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := NewEngine(observability.Config{Environment: "test"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	resp := httptest.NewRecorder()
	engine.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.JSONEq(t, `{"status":"ok"}`, resp.Body.String())
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{"invalid request", fmt.Errorf("%w: missing merchantId", domain.ErrInvalidRequest), http.StatusBadRequest, "validation_error"},
		{"item", domain.ErrItemNotFound, http.StatusBadRequest, "validation_error"},
		{"not found", domain.ErrDocumentNotFound, http.StatusNotFound, "not_found"},
		{"state", domain.ErrInvalidState, http.StatusConflict, "conflict"},
		{"transition", domain.ErrInvalidTransition, http.StatusConflict, "conflict"},
		{"busy", domain.ErrDocumentBusy, http.StatusConflict, "conflict"},
		{"sale", domain.ErrSaleNotAccepted, http.StatusConflict, "conflict"},
		{"connection", domain.ErrConnectionInactive, http.StatusUnprocessableEntity, "connection_unavailable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.typ, payload.Type)
		})
	}

	typ, code := classifyErrorForLog(fmt.Errorf("%w: lines[0].itemId is required", domain.ErrInvalidRequest))
	assert.Equal(t, "validation_error", typ)
	assert.Equal(t, "invalid_request", code)
}

type fakeLimiter struct {
	calls    []string
	allowed  int
	retryFor time.Duration
}

func (f *fakeLimiter) Allow(_ context.Context, merchantID string) ratelimit.Result {
	f.calls = append(f.calls, merchantID)
	if len(f.calls) <= f.allowed {
		return ratelimit.Result{Allowed: true, Limit: f.allowed, Remaining: f.allowed - len(f.calls)}
	}
	return ratelimit.Result{Allowed: false, Limit: f.allowed, RetryAfter: f.retryFor}
}

func TestMerchantRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := &fakeLimiter{allowed: 1, retryFor: 1500 * time.Millisecond}
	srv := &Server{limiter: limiter}

	router := gin.New()
	router.Use(ErrorHandlingMiddleware())
	router.POST("/v1/documents", MerchantContext(), srv.MerchantRateLimit(), func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"ok": true})
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", nil)
		req.Header.Set(HeaderMerchant, "m1")
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		return resp
	}

	first := send()
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := send()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "2", second.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":{"type":"rate_limited","message":"too many requests"}}`, second.Body.String())
	assert.Equal(t, []string{"m1", "m1"}, limiter.calls)
}
