// Package analysis implements the transaction analysis engine: period
// aggregation, period-over-period comparison, and health scoring with
// rule-based insights. Everything here is pure and side-effect-free given its
// inputs, so it is safe to call concurrently.
package analysis

import (
	"sort"

	"rufous/internal/core"
)

// Analyze aggregates the transactions whose date falls within the period.
// Both period bounds are inclusive. An empty transaction set is not an error:
// it yields an all-zero result with an empty category map.
func Analyze(transactions []core.Transaction, period core.Period) core.AnalysisResult {
	result := core.EmptyAnalysis(period)

	for _, txn := range transactions {
		if !period.Contains(txn.Date) {
			continue
		}
		result.TransactionCount++

		if txn.Amount.IsDebit() {
			spend := core.Money{Cents: txn.Amount.SpendCents()}
			result.TotalSpent = result.TotalSpent.Add(spend)

			name := txn.CategoryName()
			stats := result.ByCategory[name]
			stats.Count++
			stats.Total = stats.Total.Add(spend)
			result.ByCategory[name] = stats
		} else {
			result.TotalIncome = result.TotalIncome.Add(txn.Amount)
		}
	}

	for name, stats := range result.ByCategory {
		stats.Average = core.Money{Cents: roundedDiv(stats.Total.Cents, int64(stats.Count))}
		result.ByCategory[name] = stats
	}

	days := period.Days()
	if days > 0 {
		result.DailyAverageCents = float64(result.TotalSpent.Cents) / float64(days)
		result.PerDay = float64(result.TransactionCount) / float64(days)
	}

	result.TopCategories = rankCategories(result.ByCategory)
	return result
}

// rankCategories orders categories by total spend descending, ties broken by
// category name ascending so the ranking is deterministic.
func rankCategories(byCategory map[string]core.CategoryStats) []core.CategoryTotal {
	ranked := make([]core.CategoryTotal, 0, len(byCategory))
	for name, stats := range byCategory {
		ranked = append(ranked, core.CategoryTotal{Category: name, Total: stats.Total})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Total.Cents != ranked[j].Total.Cents {
			return ranked[i].Total.Cents > ranked[j].Total.Cents
		}
		return ranked[i].Category < ranked[j].Category
	})
	return ranked
}

// roundedDiv divides cents with half-up rounding.
func roundedDiv(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return (total + count/2) / count
}
