package analysis

import (
	"testing"

	"rufous/internal/core"
)

func TestCompareSamePeriod(t *testing.T) {
	period := core.NewPeriod(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	txns := []core.Transaction{
		txn(core.NewDate(2024, 1, 5), -4500, "Tim Hortons", "Dining"),
		txn(core.NewDate(2024, 1, 6), -12000, "Loblaws", "Groceries"),
	}

	c := Compare(txns, period, period, DefaultSignificantChange)
	if c.TotalDelta.Cents != 0 {
		t.Errorf("total delta = %d, want 0", c.TotalDelta.Cents)
	}
	if c.PercentChange != 0 {
		t.Errorf("percent change = %f, want 0", c.PercentChange)
	}
	if c.Trend != core.TrendStable {
		t.Errorf("trend = %q, want stable", c.Trend)
	}
	for _, d := range c.ByCategory {
		if d.Delta.Cents != 0 || d.PercentChange != 0 || d.NewSpending || d.Significant {
			t.Errorf("category %s: expected zero delta, got %+v", d.Category, d)
		}
	}
}

func TestCompareNewSpendingSentinel(t *testing.T) {
	current := core.NewPeriod(core.NewDate(2024, 2, 1), core.NewDate(2024, 2, 29))
	previous := core.NewPeriod(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	txns := []core.Transaction{
		txn(core.NewDate(2024, 2, 10), -10000, "Air Canada", "Travel"),
	}

	c := Compare(txns, current, previous, DefaultSignificantChange)

	var travel *core.CategoryDelta
	for i := range c.ByCategory {
		if c.ByCategory[i].Category == "Travel" {
			travel = &c.ByCategory[i]
		}
	}
	if travel == nil {
		t.Fatal("Travel delta missing")
	}
	if !travel.NewSpending {
		t.Error("expected NewSpending sentinel for category with no previous spend")
	}
	if travel.PercentChange != 0 {
		t.Errorf("percent change = %f, want 0 alongside new-spending sentinel", travel.PercentChange)
	}
	if !travel.Significant {
		t.Error("new spending should be flagged significant")
	}
	if !c.NewSpending {
		t.Error("expected overall NewSpending when previous period had no spend")
	}
}

func TestCompareSignificantChange(t *testing.T) {
	current := core.NewPeriod(core.NewDate(2024, 2, 1), core.NewDate(2024, 2, 29))
	previous := core.NewPeriod(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	txns := []core.Transaction{
		txn(core.NewDate(2024, 1, 5), -10000, "groceries jan", "Groceries"),
		txn(core.NewDate(2024, 2, 5), -13000, "groceries feb", "Groceries"),
		txn(core.NewDate(2024, 1, 6), -10000, "dining jan", "Dining"),
		txn(core.NewDate(2024, 2, 6), -10500, "dining feb", "Dining"),
	}

	c := Compare(txns, current, previous, 0.20)
	for _, d := range c.ByCategory {
		switch d.Category {
		case "Groceries":
			if !d.Significant {
				t.Errorf("Groceries +30%% should be significant, got %+v", d)
			}
		case "Dining":
			if d.Significant {
				t.Errorf("Dining +5%% should not be significant, got %+v", d)
			}
		}
	}
	if c.Trend != core.TrendIncreased {
		t.Errorf("trend = %q, want increased", c.Trend)
	}
}

func TestCompareDecreasedTrend(t *testing.T) {
	current := core.NewPeriod(core.NewDate(2024, 2, 1), core.NewDate(2024, 2, 29))
	previous := core.NewPeriod(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	txns := []core.Transaction{
		txn(core.NewDate(2024, 1, 5), -20000, "jan", "Groceries"),
		txn(core.NewDate(2024, 2, 5), -5000, "feb", "Groceries"),
	}

	c := Compare(txns, current, previous, DefaultSignificantChange)
	if c.Trend != core.TrendDecreased {
		t.Errorf("trend = %q, want decreased", c.Trend)
	}
	if c.TotalDelta.Cents != -15000 {
		t.Errorf("total delta = %d, want -15000", c.TotalDelta.Cents)
	}
}

func TestCompareDeterministicOrder(t *testing.T) {
	period := core.NewPeriod(core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	txns := []core.Transaction{
		txn(core.NewDate(2024, 1, 2), -100, "a", "Zulu"),
		txn(core.NewDate(2024, 1, 3), -100, "b", "Alpha"),
		txn(core.NewDate(2024, 1, 4), -100, "c", "Mike"),
	}

	c := Compare(txns, period, period, DefaultSignificantChange)
	want := []string{"Alpha", "Mike", "Zulu"}
	for i, name := range want {
		if c.ByCategory[i].Category != name {
			t.Errorf("position %d: got %q, want %q", i, c.ByCategory[i].Category, name)
		}
	}
}
