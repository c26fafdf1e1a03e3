package core

// Severity levels for generated alerts, ordered least to most serious.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Overall spending trends reported by a period comparison.
const (
	TrendIncreased = "increased"
	TrendDecreased = "decreased"
	TrendStable    = "stable"
)

type (
	Severity string

	// CategoryStats aggregates spend within one category.
	CategoryStats struct {
		Count   int   `json:"count"`
		Total   Money `json:"total_cents"`
		Average Money `json:"average_cents"`
	}

	// CategoryTotal is one entry of the top-categories ranking.
	CategoryTotal struct {
		Category string `json:"category"`
		Total    Money  `json:"total_cents"`
	}

	// AnalysisResult is the derived, per-request aggregation of a period's
	// transactions. Never mutated after construction.
	AnalysisResult struct {
		Period            Period                   `json:"period"`
		TotalSpent        Money                    `json:"total_spent_cents"`
		TotalIncome       Money                    `json:"total_income_cents"`
		TransactionCount  int                      `json:"transaction_count"`
		DailyAverageCents float64                  `json:"daily_average_cents"`
		PerDay            float64                  `json:"transactions_per_day"`
		ByCategory        map[string]CategoryStats `json:"by_category"`
		TopCategories     []CategoryTotal          `json:"top_categories"`
	}

	// CategoryDelta is the per-category change between two analyzed periods.
	// NewSpending flags a category that had no previous spend, where a percent
	// change would be a division by zero.
	CategoryDelta struct {
		Category      string  `json:"category"`
		Current       Money   `json:"current_cents"`
		Previous      Money   `json:"previous_cents"`
		Delta         Money   `json:"delta_cents"`
		PercentChange float64 `json:"percent_change"`
		NewSpending   bool    `json:"new_spending,omitempty"`
		Significant   bool    `json:"significant,omitempty"`
	}

	// Comparison is the result of analyzing two periods and diffing them.
	Comparison struct {
		Current       AnalysisResult  `json:"current"`
		Previous      AnalysisResult  `json:"previous"`
		TotalDelta    Money           `json:"total_delta_cents"`
		PercentChange float64         `json:"percent_change"`
		NewSpending   bool            `json:"new_spending,omitempty"`
		Trend         string          `json:"trend"`
		ByCategory    []CategoryDelta `json:"by_category"`
	}

	// Alert is one rule-generated insight.
	Alert struct {
		Severity Severity `json:"severity"`
		Message  string   `json:"message"`
		Category string   `json:"category,omitempty"`
	}

	// HealthScore is the composite 0-100 financial-health metric, regenerated
	// on every request.
	HealthScore struct {
		Score           int                `json:"score"`
		ComponentScores map[string]float64 `json:"component_scores"`
		Alerts          []Alert            `json:"alerts"`
	}
)

// EmptyAnalysis returns the well-formed all-zero result for a period with no
// transactions.
func EmptyAnalysis(p Period) AnalysisResult {
	return AnalysisResult{
		Period:     p,
		ByCategory: map[string]CategoryStats{},
	}
}
