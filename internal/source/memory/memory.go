// Package memory provides an in-memory transaction source for development
// and tests.
package memory

import (
	"context"
	"sync"

	"rufous/internal/core"
)

// Source holds transactions per account in memory and serves them filtered by
// period. Safe for concurrent use.
type Source struct {
	mu       sync.RWMutex
	accounts map[string][]core.Transaction
}

func New() *Source {
	return &Source{accounts: make(map[string][]core.Transaction)}
}

// Add appends transactions to an account, assigning stable IDs to rows that
// don't carry one yet.
func (s *Source) Add(accountID string, txns ...core.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range txns {
		t.AccountID = accountID
		if t.ID == "" {
			t.ID = core.NewTransactionID(accountID, t.Date, t.Amount, t.Description)
		}
		s.accounts[accountID] = append(s.accounts[accountID], t)
	}
}

// Fetch implements source.TransactionSource.
func (s *Source) Fetch(ctx context.Context, accountID string, period core.Period) ([]core.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Transaction
	for _, t := range s.accounts[accountID] {
		if period.Contains(t.Date) {
			out = append(out, t)
		}
	}
	return out, nil
}

// NewSeeded returns a source pre-filled with a small demo account, matching
// the shape of a parsed statement.
func NewSeeded() *Source {
	s := New()
	s.Add("demo",
		core.Transaction{Date: core.NewDate(2024, 1, 2), Amount: core.Money{Cents: 250000}, Description: "PAYROLL ACME CORP", Source: "demo-seed"},
		core.Transaction{Date: core.NewDate(2024, 1, 5), Amount: core.Money{Cents: -4500}, Description: "TIM HORTONS #2231", Source: "demo-seed"},
		core.Transaction{Date: core.NewDate(2024, 1, 8), Amount: core.Money{Cents: -12750}, Description: "LOBLAWS 0457", Source: "demo-seed"},
		core.Transaction{Date: core.NewDate(2024, 1, 12), Amount: core.Money{Cents: -8999}, Description: "HYDRO ONE BILLING", Source: "demo-seed"},
		core.Transaction{Date: core.NewDate(2024, 1, 15), Amount: core.Money{Cents: -1649}, Description: "NETFLIX.COM", Source: "demo-seed"},
		core.Transaction{Date: core.NewDate(2024, 1, 21), Amount: core.Money{Cents: -35600}, Description: "AIR CANADA TICKETING", Source: "demo-seed"},
		core.Transaction{Date: core.NewDate(2024, 1, 28), Amount: core.Money{Cents: -50000}, Description: "TRANSFER TO SAVINGS", Source: "demo-seed"},
	)
	return s
}
