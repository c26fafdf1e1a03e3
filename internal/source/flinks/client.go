// Package flinks implements the transaction source against the Flinks
// banking aggregation API. The account ID the engine passes around is the
// Flinks LoginId obtained when the bank connection was authorized.
package flinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"rufous/internal/core"
	"rufous/internal/source"
)

const (
	// DefaultMaxTransactionDays caps how far back a single fetch may reach.
	DefaultMaxTransactionDays = 365

	requestTimeout = 30 * time.Second
)

// Config holds the client credentials and tuning knobs.
type Config struct {
	BaseURL            string
	CustomerID         string
	BearerToken        string
	RatePerMinute      int
	MaxTransactionDays int
}

// Client talks to the Flinks BankingServices API. All outbound calls pass
// through a per-minute rate limiter and a circuit breaker, so a misbehaving
// aggregator degrades into fast failures instead of piled-up timeouts.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rateLimiter
	breaker *gobreaker.CircuitBreaker
}

// New creates a Flinks client.
func New(cfg Config) *Client {
	if cfg.MaxTransactionDays <= 0 {
		cfg.MaxTransactionDays = DefaultMaxTransactionDays
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 60
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: requestTimeout},
		limiter: newRateLimiter(cfg.RatePerMinute),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "flinks",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("Circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String())
			},
		}),
	}
}

type authorizeRequest struct {
	LoginID          string `json:"LoginId"`
	MostRecentCached bool   `json:"MostRecentCached"`
}

type authorizeResponse struct {
	RequestID string `json:"RequestId"`
}

type accountsDetailResponse struct {
	Accounts []flinksAccount `json:"Accounts"`
}

type flinksAccount struct {
	ID           string              `json:"Id"`
	Title        string              `json:"Title"`
	Transactions []flinksTransaction `json:"Transactions"`
}

type flinksTransaction struct {
	ID          string   `json:"Id"`
	Date        string   `json:"Date"`
	Description string   `json:"Description"`
	Debit       *float64 `json:"Debit"`
	Credit      *float64 `json:"Credit"`
}

// Fetch implements source.TransactionSource. It authorizes a cached session
// for the login, pulls account details covering the period, and returns the
// rows that fall inside it.
func (c *Client) Fetch(ctx context.Context, accountID string, period core.Period) ([]core.Transaction, error) {
	days := c.daysToRequest(period)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchDetail(ctx, accountID, days)
	})
	if err != nil {
		return nil, &source.FetchError{AccountID: accountID, Period: period, Err: err}
	}

	detail := result.(*accountsDetailResponse)
	txns, err := c.mapTransactions(accountID, period, detail)
	if err != nil {
		return nil, &source.FetchError{AccountID: accountID, Period: period, Err: err}
	}

	slog.InfoContext(ctx, "Fetched transactions from Flinks",
		"login_id", accountID,
		"period", period.String(),
		"days_requested", days,
		"count", len(txns))
	return txns, nil
}

// daysToRequest converts the period into the DaysOfTransactions window Flinks
// expects, counted back from today and capped at the configured maximum.
func (c *Client) daysToRequest(period core.Period) int {
	days := int(time.Since(period.Start.Time).Hours()/24) + 1
	if days < period.Days() {
		days = period.Days()
	}
	if days > c.cfg.MaxTransactionDays {
		days = c.cfg.MaxTransactionDays
	}
	if days < 1 {
		days = 1
	}
	return days
}

func (c *Client) fetchDetail(ctx context.Context, loginID string, days int) (*accountsDetailResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var auth authorizeResponse
	err := c.post(ctx, "/BankingServices/Authorize",
		authorizeRequest{LoginID: loginID, MostRecentCached: true}, &auth)
	if err != nil {
		return nil, fmt.Errorf("authorize login: %w", err)
	}
	if auth.RequestID == "" {
		return nil, fmt.Errorf("authorize login: no request id in response")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var detail accountsDetailResponse
	path := fmt.Sprintf("/BankingServices/GetAccountsDetail/%s?DaysOfTransactions=Days%d", auth.RequestID, days)
	if err := c.get(ctx, path, &detail); err != nil {
		return nil, fmt.Errorf("get accounts detail: %w", err)
	}
	return &detail, nil
}

func (c *Client) mapTransactions(accountID string, period core.Period, detail *accountsDetailResponse) ([]core.Transaction, error) {
	var txns []core.Transaction
	for _, account := range detail.Accounts {
		for _, row := range account.Transactions {
			date, err := parseFlinksDate(row.Date)
			if err != nil {
				return nil, fmt.Errorf("transaction %s: %w", row.ID, err)
			}
			if !period.Contains(date) {
				continue
			}

			amount := rowAmount(row)
			id := row.ID
			if id == "" {
				id = core.NewTransactionID(accountID, date, amount, row.Description)
			}
			txns = append(txns, core.Transaction{
				ID:          id,
				AccountID:   accountID,
				Date:        date,
				Amount:      amount,
				Description: row.Description,
				Source:      "flinks:" + account.ID,
			})
		}
	}
	return txns, nil
}

// rowAmount normalizes the Debit/Credit pair into a signed cent amount.
func rowAmount(row flinksTransaction) core.Money {
	switch {
	case row.Debit != nil:
		return core.Money{Cents: -dollarsToCents(*row.Debit)}
	case row.Credit != nil:
		return core.Money{Cents: dollarsToCents(*row.Credit)}
	default:
		return core.Money{}
	}
}

func dollarsToCents(v float64) int64 {
	return int64(math.Round(v * 100))
}

// parseFlinksDate accepts both the bare date and the timestamped variant the
// API emits.
func parseFlinksDate(s string) (core.Date, error) {
	if len(s) >= 10 {
		s = s[:10]
	}
	return core.ParseDate(s)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Instance", c.cfg.CustomerID)
	if c.cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, req.URL.Path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
