package analysis

import (
	"sort"

	"rufous/internal/core"
)

// DefaultSignificantChange flags a category change when the absolute percent
// change reaches 20%.
const DefaultSignificantChange = 0.20

// trendBand is the fraction of previous spend within which the overall trend
// counts as stable.
const trendBand = 0.05

// Compare analyzes the two periods independently and diffs them. Overlapping
// periods are passed through unchanged. Percent changes are fractions
// (0.20 = +20%); a category with previous spend of zero and current spend
// above zero is reported with the NewSpending sentinel instead of a numeric
// percent change.
func Compare(transactions []core.Transaction, current, previous core.Period, threshold float64) core.Comparison {
	if threshold <= 0 {
		threshold = DefaultSignificantChange
	}

	comparison := core.Comparison{
		Current:  Analyze(transactions, current),
		Previous: Analyze(transactions, previous),
	}

	comparison.TotalDelta = comparison.Current.TotalSpent.Sub(comparison.Previous.TotalSpent)
	switch {
	case comparison.Previous.TotalSpent.Cents != 0:
		comparison.PercentChange = float64(comparison.TotalDelta.Cents) / float64(comparison.Previous.TotalSpent.Cents)
	case comparison.Current.TotalSpent.Cents != 0:
		comparison.NewSpending = true
	}
	comparison.Trend = trendOf(comparison)

	comparison.ByCategory = diffCategories(comparison.Current, comparison.Previous, threshold)
	return comparison
}

func trendOf(c core.Comparison) string {
	if c.NewSpending {
		return core.TrendIncreased
	}
	switch {
	case c.PercentChange > trendBand:
		return core.TrendIncreased
	case c.PercentChange < -trendBand:
		return core.TrendDecreased
	default:
		return core.TrendStable
	}
}

// diffCategories computes per-category deltas over the union of categories in
// both periods, ordered by category name for a deterministic result.
func diffCategories(current, previous core.AnalysisResult, threshold float64) []core.CategoryDelta {
	names := make([]string, 0, len(current.ByCategory)+len(previous.ByCategory))
	seen := make(map[string]struct{})
	for name := range current.ByCategory {
		names = append(names, name)
		seen[name] = struct{}{}
	}
	for name := range previous.ByCategory {
		if _, ok := seen[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	deltas := make([]core.CategoryDelta, 0, len(names))
	for _, name := range names {
		cur := current.ByCategory[name].Total
		prev := previous.ByCategory[name].Total

		delta := core.CategoryDelta{
			Category: name,
			Current:  cur,
			Previous: prev,
			Delta:    cur.Sub(prev),
		}
		switch {
		case prev.Cents != 0:
			delta.PercentChange = float64(delta.Delta.Cents) / float64(prev.Cents)
			if delta.PercentChange >= threshold || delta.PercentChange <= -threshold {
				delta.Significant = true
			}
		case cur.Cents != 0:
			delta.NewSpending = true
			delta.Significant = true
		}
		deltas = append(deltas, delta)
	}
	return deltas
}
