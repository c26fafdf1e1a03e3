package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UncategorizedName is the fallback category for descriptions no taxonomy rule matches.
const UncategorizedName = "Uncategorized"

type (
	// Money is an amount in cents. Signed: negative values are debits (spend),
	// positive values are credits (inflows).
	Money struct {
		Cents int64
	}

	// Date is a calendar date. The time-of-day part is always UTC midnight.
	Date struct {
		time.Time
	}

	// Period is an inclusive date range used as the unit of aggregation.
	Period struct {
		Start Date `json:"start"`
		End   Date `json:"end"`
	}

	// Category is a tagged category value. Manual marks a user override that
	// bulk re-categorization must not clobber.
	Category struct {
		Name   string `json:"name"`
		Manual bool   `json:"manual,omitempty"`
	}

	// Transaction is a single bank transaction row. Immutable once assigned an
	// ID, except for Category.
	Transaction struct {
		ID          string   `json:"id"`
		AccountID   string   `json:"account_id"`
		Date        Date     `json:"date"`
		Amount      Money    `json:"amount_cents"`
		Description string   `json:"description"`
		Category    Category `json:"category"`
		Source      string   `json:"source,omitempty"` // statement filename or fetch session id
	}
)

var (
	ErrInvalidPeriod       = errors.New("invalid period: start date after end date")
	ErrZeroDate            = errors.New("date cannot be zero")
	ErrEmptyAccountID      = errors.New("empty account id")
	ErrPeriodTooLong       = errors.New("period exceeds maximum window")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// transactionNamespace seeds deterministic transaction IDs.
var transactionNamespace = uuid.MustParse("9e336baf-4a4c-4a02-9c95-f9faf69d4e2c")

// NewDate creates a Date from year, month, day at UTC midnight.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD date string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrZeroDate
	}
	return nil
}

func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// NewPeriod builds an inclusive period from two dates.
func NewPeriod(start, end Date) Period {
	return Period{Start: start, End: end}
}

func (p Period) Validate() error {
	if err := p.Start.Validate(); err != nil {
		return fmt.Errorf("start date: %w", err)
	}
	if err := p.End.Validate(); err != nil {
		return fmt.Errorf("end date: %w", err)
	}
	if p.Start.After(p.End.Time) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains reports whether the date falls inside the period. Both bounds are
// inclusive.
func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start.Time) && !d.After(p.End.Time)
}

// Days returns the number of calendar days covered, counting both endpoints.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start.Time)/(24*time.Hour)) + 1
}

// Previous returns the window of equal length immediately before this one.
func (p Period) Previous() Period {
	days := p.Days()
	end := Date{Time: p.Start.AddDate(0, 0, -1)}
	start := Date{Time: end.AddDate(0, 0, -(days - 1))}
	return Period{Start: start, End: end}
}

func (p Period) String() string {
	return p.Start.String() + ".." + p.End.String()
}

// NewTransactionID derives a stable identifier from the fields that make a
// transaction unique, so re-ingesting the same row yields the same ID.
func NewTransactionID(accountID string, date Date, amount Money, description string) string {
	name := fmt.Sprintf("%s|%s|%d|%s", accountID, date.String(), amount.Cents, description)
	return uuid.NewSHA1(transactionNamespace, []byte(name)).String()
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Description) == "" {
		return errors.New("empty description")
	}
	return nil
}

// CategoryName resolves the effective category, falling back to Uncategorized.
func (t Transaction) CategoryName() string {
	if t.Category.Name == "" {
		return UncategorizedName
	}
	return t.Category.Name
}

// SpendCents returns the absolute debit amount, or 0 for credits.
func (m Money) SpendCents() int64 {
	if m.Cents < 0 {
		return -m.Cents
	}
	return 0
}

// IsDebit reports whether the amount is a spend.
func (m Money) IsDebit() bool {
	return m.Cents < 0
}

func (m Money) Abs() Money {
	if m.Cents < 0 {
		return Money{Cents: -m.Cents}
	}
	return m
}

func (m Money) Add(other Money) Money {
	return Money{Cents: m.Cents + other.Cents}
}

func (m Money) Sub(other Money) Money {
	return Money{Cents: m.Cents - other.Cents}
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%d", m.Cents)), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var cents int64
	if _, err := fmt.Sscanf(string(data), "%d", &cents); err != nil {
		return fmt.Errorf("parse money cents: %w", err)
	}
	m.Cents = cents
	return nil
}
