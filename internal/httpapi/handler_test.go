package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mandalnitish/discom-queue-backend/internal/engine"
	"github.com/mandalnitish/discom-queue-backend/internal/models"
	"github.com/mandalnitish/discom-queue-backend/internal/notify"
	"github.com/mandalnitish/discom-queue-backend/internal/stats"
	"github.com/mandalnitish/discom-queue-backend/internal/store/memory"
)

type apiFixture struct {
	handler  http.Handler
	registry *memory.Registry
}

func newAPIFixture(t *testing.T, options Options) *apiFixture {
	t.Helper()
	queue := memory.NewStore()
	registry := memory.NewRegistry()
	aggregator := stats.New()
	eng := engine.New(queue, registry, nil, aggregator, nil, engine.Options{DefaultServiceSeconds: 100})
	t.Cleanup(eng.Close)

	h := NewHandler(eng, queue, registry, aggregator, notify.NewSubscriptions(), options)
	return &apiFixture{
		handler:  h.Routes(),
		registry: registry,
	}
}

func (f *apiFixture) addCounter(t *testing.T, id, category, status string) {
	t.Helper()
	err := f.registry.Put(context.Background(), models.Counter{
		CounterID: id,
		Name:      id,
		Category:  category,
		Status:    status,
	})
	if err != nil {
		t.Fatalf("put counter %s: %v", id, err)
	}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeToken(t *testing.T, rec *httptest.ResponseRecorder) models.Token {
	t.Helper()
	var token models.Token
	if err := json.Unmarshal(rec.Body.Bytes(), &token); err != nil {
		t.Fatalf("decode token: %v (body %s)", err, rec.Body.String())
	}
	return token
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v (body %s)", err, rec.Body.String())
	}
	return resp.Error.Code
}

func TestIssueTokenEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})

	rec := f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment","customer_name":"Asha"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	token := decodeToken(t, rec)
	if token.TokenNumber != "BP-001" || token.Status != models.StatusWaiting {
		t.Fatalf("token: %+v", token)
	}
}

func TestIssueTokenValidation(t *testing.T) {
	f := newAPIFixture(t, Options{})

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"unknown category", `{"category":"Gardening"}`, "invalid_category"},
		{"missing category", `{"customer_name":"Asha"}`, "invalid_request"},
		{"negative priority", `{"category":"Bill Payment","priority":-1}`, "invalid_request"},
		{"unknown field", `{"category":"Bill Payment","color":"red"}`, "invalid_json"},
		{"malformed", `{"category":`, "invalid_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/tokens", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
			}
			if code := decodeErrorCode(t, rec); code != tt.wantCode {
				t.Fatalf("code=%s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestTokensMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t, Options{})
	if rec := f.do(t, http.MethodGet, "/api/tokens", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestGetTokenNotFound(t *testing.T) {
	f := newAPIFixture(t, Options{})
	rec := f.do(t, http.MethodGet, "/api/tokens/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "token_not_found" {
		t.Fatalf("code=%s", code)
	}
}

func TestDispatchEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.addCounter(t, "counter-1", models.CategoryBillPayment, models.CounterActive)

	rec := f.do(t, http.MethodPost, "/api/counters/counter-1/actions/next", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("empty queue status=%d body=%s", rec.Code, rec.Body.String())
	}
	if code := decodeErrorCode(t, rec); code != "queue_empty" {
		t.Fatalf("code=%s", code)
	}

	f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`)
	rec = f.do(t, http.MethodPost, "/api/counters/counter-1/actions/next", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	token := decodeToken(t, rec)
	if token.Status != models.StatusServing || token.CounterID == nil || *token.CounterID != "counter-1" {
		t.Fatalf("token: %+v", token)
	}

	rec = f.do(t, http.MethodPost, "/api/counters/counter-1/actions/next", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("occupied counter status=%d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "counter_unavailable" {
		t.Fatalf("code=%s", code)
	}
}

func TestCompleteEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.addCounter(t, "counter-1", models.CategoryBillPayment, models.CounterActive)

	issued := decodeToken(t, f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`))
	f.do(t, http.MethodPost, "/api/counters/counter-1/actions/next", "")

	rec := f.do(t, http.MethodPost, "/api/tokens/"+issued.TokenID+"/actions/complete", `{"rating":9}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range rating status=%d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/tokens/"+issued.TokenID+"/actions/complete", `{"rating":4,"feedback":"quick"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	token := decodeToken(t, rec)
	if token.Status != models.StatusCompleted || token.Rating == nil || *token.Rating != 4 {
		t.Fatalf("token: %+v", token)
	}

	rec = f.do(t, http.MethodPost, "/api/tokens/"+issued.TokenID+"/actions/complete", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("double complete status=%d", rec.Code)
	}
	if code := decodeErrorCode(t, rec); code != "invalid_state" {
		t.Fatalf("code=%s", code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})

	issued := decodeToken(t, f.do(t, http.MethodPost, "/api/tokens", `{"category":"Documentation"}`))
	rec := f.do(t, http.MethodPost, "/api/tokens/"+issued.TokenID+"/actions/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if token := decodeToken(t, rec); token.Status != models.StatusCancelled {
		t.Fatalf("token: %+v", token)
	}
}

func TestCancelAfterDispatchReportsCurrentState(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.addCounter(t, "counter-1", models.CategoryBillPayment, models.CounterActive)

	issued := decodeToken(t, f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`))
	f.do(t, http.MethodPost, "/api/counters/counter-1/actions/next", "")

	rec := f.do(t, http.MethodPost, "/api/tokens/"+issued.TokenID+"/actions/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if token := decodeToken(t, rec); token.Status != models.StatusServing {
		t.Fatalf("lost cancel should surface the serving token, got %+v", token)
	}
}

func TestCounterStatusEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.addCounter(t, "counter-1", models.CategoryBillPayment, models.CounterOffline)

	rec := f.do(t, http.MethodPut, "/api/counters/counter-1/status", `{"status":"sleeping"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status code=%d", rec.Code)
	}

	rec = f.do(t, http.MethodPut, "/api/counters/counter-1/status", `{"status":"active","staff_id":"staff-7","staff_name":"Ravi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var counter models.Counter
	if err := json.Unmarshal(rec.Body.Bytes(), &counter); err != nil {
		t.Fatalf("decode counter: %v", err)
	}
	if counter.Status != models.CounterActive || counter.StaffID == nil || *counter.StaffID != "staff-7" {
		t.Fatalf("counter: %+v", counter)
	}

	rec = f.do(t, http.MethodPut, "/api/counters/counter-9/status", `{"status":"active"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown counter status=%d", rec.Code)
	}
}

func TestQueueEndpointFiltersByCategory(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`)
	f.do(t, http.MethodPost, "/api/tokens", `{"category":"Documentation"}`)

	rec := f.do(t, http.MethodGet, "/api/queue?category=Bill+Payment", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var tokens []models.Token
	if err := json.Unmarshal(rec.Body.Bytes(), &tokens); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tokens) != 1 || tokens[0].Category != models.CategoryBillPayment {
		t.Fatalf("tokens: %+v", tokens)
	}

	rec = f.do(t, http.MethodGet, "/api/queue?category=Gardening", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown category status=%d", rec.Code)
	}
}

func TestEstimateEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`)
	f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`)

	rec := f.do(t, http.MethodGet, "/api/estimate?category=Bill+Payment", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var resp struct {
		Category string `json:"category"`
		Estimate int    `json:"estimated_wait_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Estimate != 200 {
		t.Fatalf("estimate=%d, want 2×100 default", resp.Estimate)
	}
}

func TestStatisticsEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})
	f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`)

	rec := f.do(t, http.MethodGet, "/api/statistics/today", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var record models.DailyStatistics
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if record.TotalTokens != 1 {
		t.Fatalf("total=%d, want 1", record.TotalTokens)
	}
}

func TestDisplayEndpointCachesSnapshot(t *testing.T) {
	f := newAPIFixture(t, Options{DisplayCacheTTL: time.Hour})
	f.addCounter(t, "counter-1", models.CategoryBillPayment, models.CounterActive)
	f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`)

	readWaiting := func(rec *httptest.ResponseRecorder) int {
		var snapshot struct {
			Categories []struct {
				Category string `json:"category"`
				Waiting  int    `json:"waiting"`
			} `json:"categories"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
			t.Fatalf("decode: %v", err)
		}
		for _, c := range snapshot.Categories {
			if c.Category == models.CategoryBillPayment {
				return c.Waiting
			}
		}
		t.Fatalf("category missing: %s", rec.Body.String())
		return 0
	}

	rec := f.do(t, http.MethodGet, "/api/display", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := readWaiting(rec); got != 1 {
		t.Fatalf("waiting=%d, want 1", got)
	}

	f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`)
	rec = f.do(t, http.MethodGet, "/api/display", "")
	if got := readWaiting(rec); got != 1 {
		t.Fatalf("waiting=%d, want stale 1 within cache TTL", got)
	}
}

func TestSubscriptionEndpoint(t *testing.T) {
	f := newAPIFixture(t, Options{})
	issued := decodeToken(t, f.do(t, http.MethodPost, "/api/tokens", `{"category":"Bill Payment"}`))

	rec := f.do(t, http.MethodPost, "/api/tokens/"+issued.TokenID+"/subscription", `{"keys":{"p256dh":"k","auth":"a"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing endpoint status=%d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/tokens/"+issued.TokenID+"/subscription",
		`{"endpoint":"https://push.example/abc","keys":{"p256dh":"k","auth":"a"}}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/tokens/nope/subscription", `{"endpoint":"https://push.example/abc"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown token status=%d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, Options{})
	if rec := f.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}
