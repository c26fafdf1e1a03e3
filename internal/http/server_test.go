package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rufous/internal/core"
	"rufous/internal/fetchcache"
	"rufous/internal/services"
	"rufous/internal/source/memory"
	"rufous/internal/taxonomy"
)

func newTestServer(t *testing.T, ratePerMinute int) (*Server, *memory.Source) {
	t.Helper()
	src := memory.New()
	src.Add("acc",
		core.Transaction{Date: core.NewDate(2024, 1, 2), Amount: core.Money{Cents: 250000}, Description: "PAYROLL ACME"},
		core.Transaction{Date: core.NewDate(2024, 1, 5), Amount: core.Money{Cents: -4500}, Description: "TIM HORTONS"},
	)
	fetch := fetchcache.New(src, nil, fetchcache.Config{SessionTimeout: time.Hour}, nil)
	insights := services.NewInsightService(fetch, taxonomy.Default(), services.NewMemoryOverrides(), services.DefaultConfig(), nil)
	return NewServer(":0", insights, nil, ratePerMinute), src
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeEndpoint(t *testing.T) {
	s, _ := newTestServer(t, 60)

	body := `{"account_id":"acc","period":{"start":"2024-01-01","end":"2024-01-31"}}`
	rec := doJSON(t, s, http.MethodPost, "/api/analyze", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var report services.InsightReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Analysis.TotalSpent.Cents != 4500 {
		t.Errorf("total spent = %d, want 4500", report.Analysis.TotalSpent.Cents)
	}
	if report.Analysis.TotalIncome.Cents != 250000 {
		t.Errorf("total income = %d, want 250000", report.Analysis.TotalIncome.Cents)
	}
}

func TestAnalyzeEndpointWithComparison(t *testing.T) {
	s, src := newTestServer(t, 60)
	src.Add("acc",
		core.Transaction{Date: core.NewDate(2023, 12, 10), Amount: core.Money{Cents: -9000}, Description: "LOBLAWS"},
	)

	body := `{"account_id":"acc","period":{"start":"2024-01-01","end":"2024-01-31"},"compare_to":{"start":"2023-12-01","end":"2023-12-31"}}`
	rec := doJSON(t, s, http.MethodPost, "/api/analyze", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var report services.InsightReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.Comparison == nil {
		t.Fatal("expected comparison in response")
	}
	if report.Comparison.Trend != core.TrendDecreased {
		t.Errorf("trend = %q, want decreased (4500 vs 9000)", report.Comparison.Trend)
	}
}

func TestAnalyzeValidationStatus(t *testing.T) {
	s, _ := newTestServer(t, 60)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"missing account", `{"period":{"start":"2024-01-01","end":"2024-01-31"}}`, http.StatusUnprocessableEntity},
		{"inverted period", `{"account_id":"acc","period":{"start":"2024-02-01","end":"2024-01-01"}}`, http.StatusUnprocessableEntity},
		{"unknown fields ignored", `{"account_id":"acc","period":{"start":"2024-01-01","end":"2024-01-31"},"extra":true}`, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/api/analyze", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestCategoryOverrideEndpoints(t *testing.T) {
	s, _ := newTestServer(t, 60)

	txnID := core.NewTransactionID("acc", core.NewDate(2024, 1, 5), core.Money{Cents: -4500}, "TIM HORTONS")

	rec := doJSON(t, s, http.MethodPost, "/api/transactions/"+txnID+"/category", `{"category":"Business"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set: status = %d, body %s", rec.Code, rec.Body.String())
	}

	// The next analysis reflects the override.
	rec = doJSON(t, s, http.MethodPost, "/api/analyze", `{"account_id":"acc","period":{"start":"2024-01-01","end":"2024-01-31"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Business") {
		t.Errorf("expected Business category in response, got %s", rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/transactions/"+txnID+"/category", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodDelete, "/api/transactions/unknown/category", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("clear unknown: status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/transactions/"+txnID+"/category", `{"category":""}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty category: status = %d, want 422", rec.Code)
	}
}

func TestRecategorizeEndpoint(t *testing.T) {
	s, _ := newTestServer(t, 60)

	rec := doJSON(t, s, http.MethodPost, "/api/accounts/acc/recategorize", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no worker wired: status = %d, want 503", rec.Code)
	}
}

func TestRateLimitOnPost(t *testing.T) {
	s, _ := newTestServer(t, 2)

	body := `{"account_id":"acc","period":{"start":"2024-01-01","end":"2024-01-31"}}`
	for i := 0; i < 2; i++ {
		rec := doJSON(t, s, http.MethodPost, "/api/analyze", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, rec.Code)
		}
	}
	rec := doJSON(t, s, http.MethodPost, "/api/analyze", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("missing Retry-After header")
	}
}

func TestHealthEndpoints(t *testing.T) {
	s, _ := newTestServer(t, 60)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, s, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d", path, rec.Code)
		}
	}
}

func TestShutdownStopsCleanly(t *testing.T) {
	s, _ := newTestServer(t, 60)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
