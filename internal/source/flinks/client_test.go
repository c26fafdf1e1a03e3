package flinks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rufous/internal/core"
	"rufous/internal/source"
)

func float64Ptr(v float64) *float64 { return &v }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/BankingServices/Authorize", func(w http.ResponseWriter, r *http.Request) {
		var req authorizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode authorize request: %v", err)
		}
		if req.LoginID != "login-1" {
			t.Errorf("unexpected login id %q", req.LoginID)
		}
		json.NewEncoder(w).Encode(authorizeResponse{RequestID: "req-42"})
	})
	mux.HandleFunc("/BankingServices/GetAccountsDetail/req-42", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(accountsDetailResponse{
			Accounts: []flinksAccount{{
				ID:    "chq-001",
				Title: "Chequing",
				Transactions: []flinksTransaction{
					{ID: "t1", Date: "2024-01-05T00:00:00", Description: "TIM HORTONS", Debit: float64Ptr(45.00)},
					{ID: "t2", Date: "2024-01-02", Description: "PAYROLL", Credit: float64Ptr(2500.00)},
					{ID: "t3", Date: "2023-12-20", Description: "OUT OF PERIOD", Debit: float64Ptr(10.00)},
				},
			}},
		})
	})
	return httptest.NewServer(mux)
}

func TestFetchMapsTransactions(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, CustomerID: "cust", BearerToken: "tok", RatePerMinute: 120})
	period := core.NewPeriod(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))

	txns, err := client.Fetch(context.Background(), "login-1", period)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("expected 2 in-period transactions, got %d", len(txns))
	}

	byID := make(map[string]core.Transaction)
	for _, txn := range txns {
		byID[txn.ID] = txn
	}
	debit := byID["t1"]
	if debit.Amount.Cents != -4500 {
		t.Errorf("debit cents = %d, want -4500", debit.Amount.Cents)
	}
	if debit.AccountID != "login-1" || debit.Source != "flinks:chq-001" {
		t.Errorf("unexpected identity fields: %+v", debit)
	}
	if debit.Date.String() != "2024-01-05" {
		t.Errorf("timestamped date not normalized: %s", debit.Date)
	}
	if byID["t2"].Amount.Cents != 250000 {
		t.Errorf("credit cents = %d, want 250000", byID["t2"].Amount.Cents)
	}
}

func TestFetchServerErrorWrapsFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, RatePerMinute: 120})
	period := core.NewPeriod(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))

	_, err := client.Fetch(context.Background(), "login-1", period)
	if err == nil {
		t.Fatal("expected error")
	}
	var fe *source.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %T: %v", err, err)
	}
	if fe.AccountID != "login-1" {
		t.Errorf("FetchError account = %q", fe.AccountID)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, RatePerMinute: 600})
	period := core.NewPeriod(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))

	for i := 0; i < 8; i++ {
		if _, err := client.Fetch(context.Background(), "login-1", period); err == nil {
			t.Fatalf("call %d: expected error", i)
		}
	}
	// After the breaker opens, calls fail fast without touching the server.
	if hits >= 8 {
		t.Errorf("expected breaker to stop requests, server saw %d", hits)
	}
}

func TestDaysToRequestClamped(t *testing.T) {
	client := New(Config{MaxTransactionDays: 90})

	old := core.NewPeriod(core.NewDate(2020, 1, 1), core.NewDate(2020, 12, 31))
	if got := client.daysToRequest(old); got != 90 {
		t.Errorf("daysToRequest = %d, want clamp to 90", got)
	}

	today := core.Date{Time: time.Now().UTC().Truncate(24 * time.Hour)}
	recent := core.NewPeriod(today, today)
	if got := client.daysToRequest(recent); got < 1 || got > 90 {
		t.Errorf("daysToRequest = %d, want within [1,90]", got)
	}
}

func TestRateLimiterBlocksOverBudget(t *testing.T) {
	limiter := newRateLimiter(2)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := limiter.Wait(ctx); err != nil {
		t.Fatalf("second call: %v", err)
	}
	// Third call exceeds the per-minute budget and must block until the
	// context gives up.
	if err := limiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
