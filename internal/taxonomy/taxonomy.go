// Package taxonomy holds the static category taxonomy and the rule-based
// categorizer that assigns spending categories to transaction descriptions.
package taxonomy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"rufous/internal/core"
)

// Entry pairs a category name with the keywords that select it. Keywords are
// matched case-insensitively as substrings of the transaction description.
type Entry struct {
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// Taxonomy is an ordered, immutable set of category entries. Lookup order is
// declaration order: the first entry with a matching keyword wins, so
// re-categorizing the same description always yields the same category.
type Taxonomy struct {
	entries []Entry
}

// New builds a taxonomy from the given entries. Category names must be unique.
func New(entries []Entry) (*Taxonomy, error) {
	seen := make(map[string]struct{}, len(entries))
	normalized := make([]Entry, 0, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.Category)
		if name == "" {
			return nil, fmt.Errorf("taxonomy entry with empty category name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate taxonomy category %q", name)
		}
		seen[name] = struct{}{}

		keywords := make([]string, 0, len(e.Keywords))
		for _, kw := range e.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				keywords = append(keywords, kw)
			}
		}
		normalized = append(normalized, Entry{Category: name, Keywords: keywords})
	}
	return &Taxonomy{entries: normalized}, nil
}

// LoadFile reads taxonomy entries from a JSON file: an array of
// {"category": ..., "keywords": [...]} objects.
func LoadFile(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse taxonomy file %s: %w", path, err)
	}
	return New(entries)
}

// Categories returns the category names in declaration order.
func (t *Taxonomy) Categories() []string {
	names := make([]string, len(t.entries))
	for i, e := range t.entries {
		names[i] = e.Category
	}
	return names
}

// Len returns the number of taxonomy entries.
func (t *Taxonomy) Len() int {
	return len(t.entries)
}

// Categorize assigns a category to a transaction description. It never fails:
// descriptions matching no keyword get the Uncategorized fallback.
func (t *Taxonomy) Categorize(description string) string {
	desc := strings.ToLower(description)
	for _, e := range t.entries {
		for _, kw := range e.Keywords {
			if strings.Contains(desc, kw) {
				return e.Category
			}
		}
	}
	return core.UncategorizedName
}

// Apply re-categorizes transactions in place, skipping manual overrides so
// batch runs stay idempotent with respect to user corrections. Returns the
// number of transactions whose category changed.
func (t *Taxonomy) Apply(transactions []core.Transaction) int {
	changed := 0
	for i := range transactions {
		if transactions[i].Category.Manual {
			continue
		}
		name := t.Categorize(transactions[i].Description)
		if transactions[i].Category.Name != name {
			transactions[i].Category = core.Category{Name: name}
			changed++
		}
	}
	return changed
}

// Default returns the built-in taxonomy used when no taxonomy file is
// configured. Entry order matters: earlier entries win on overlapping
// keywords.
func Default() *Taxonomy {
	t, err := New([]Entry{
		{Category: "Income", Keywords: []string{"payroll", "salary", "direct deposit", "pay deposit", "employer"}},
		{Category: "Groceries", Keywords: []string{"grocery", "supermarket", "loblaws", "sobeys", "metro", "costco", "walmart", "no frills", "food basics"}},
		{Category: "Dining", Keywords: []string{"restaurant", "tim hortons", "starbucks", "mcdonald", "pizza", "coffee", "cafe", "doordash", "uber eats", "skip the dishes"}},
		{Category: "Transport", Keywords: []string{"uber", "lyft", "taxi", "transit", "presto", "gas station", "petro", "shell", "esso", "parking"}},
		{Category: "Housing", Keywords: []string{"rent", "mortgage", "property tax", "condo fee"}},
		{Category: "Utilities", Keywords: []string{"hydro", "electric", "water bill", "internet", "telecom", "rogers", "bell", "telus", "phone bill"}},
		{Category: "Healthcare", Keywords: []string{"pharmacy", "shoppers drug", "dental", "clinic", "medical", "physio"}},
		{Category: "Entertainment", Keywords: []string{"netflix", "spotify", "cinema", "cineplex", "steam", "playstation", "concert", "streaming"}},
		{Category: "Shopping", Keywords: []string{"amazon", "best buy", "ikea", "clothing", "winners", "canadian tire"}},
		{Category: "Travel", Keywords: []string{"airline", "air canada", "westjet", "hotel", "airbnb", "expedia", "booking.com"}},
		{Category: "Savings", Keywords: []string{"savings", "investment", "rrsp", "tfsa", "questrade", "wealthsimple", "transfer to savings"}},
		{Category: "Fees", Keywords: []string{"service charge", "monthly fee", "overdraft", "nsf fee", "interest charge", "atm fee"}},
	})
	if err != nil {
		// The built-in table is validated by tests; a duplicate here is a
		// programming error.
		panic(err)
	}
	return t
}
