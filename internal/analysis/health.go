package analysis

import (
	"fmt"
	"math"

	"rufous/internal/core"
)

// Component score names as they appear in HealthScore.ComponentScores.
const (
	ComponentSavingsRate           = "savings_rate"
	ComponentCategoryConcentration = "category_concentration"
	ComponentSpendingVolatility    = "spending_volatility"
)

// Weights distributes the composite health score across its sub-metrics.
// They do not have to sum to 1: scoring normalizes over the sub-metrics that
// are actually present.
type Weights struct {
	SavingsRate           float64
	CategoryConcentration float64
	SpendingVolatility    float64
}

// ScoreConfig tunes health scoring and insight thresholds. Thresholds are
// fractions of total spend or income, not percentages.
type ScoreConfig struct {
	Weights Weights

	// LowSavingsRate triggers a warning when the savings rate falls below it.
	LowSavingsRate float64
	// ConcentrationWarn and ConcentrationCritical bound the share of total
	// spend a single category may take before alerting.
	ConcentrationWarn     float64
	ConcentrationCritical float64
}

// DefaultScoreConfig mirrors the product defaults: savings rate weighs 40%,
// concentration and volatility 30% each.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Weights: Weights{
			SavingsRate:           0.40,
			CategoryConcentration: 0.30,
			SpendingVolatility:    0.30,
		},
		LowSavingsRate:        0.10,
		ConcentrationWarn:     0.40,
		ConcentrationCritical: 0.50,
	}
}

// Score derives the composite health score from an analysis result and the
// analyses of prior periods. Volatility needs at least two historical periods;
// when absent, the remaining weights are renormalized instead of failing.
func Score(result core.AnalysisResult, history []core.AnalysisResult, cfg ScoreConfig) core.HealthScore {
	if result.TransactionCount == 0 {
		return core.HealthScore{
			Score:           0,
			ComponentScores: map[string]float64{},
			Alerts: []core.Alert{{
				Severity: core.SeverityInfo,
				Message:  "insufficient data: no transactions in the requested period",
			}},
		}
	}

	components := map[string]float64{
		ComponentSavingsRate:           savingsRateScore(result),
		ComponentCategoryConcentration: concentrationScore(result),
	}
	weights := map[string]float64{
		ComponentSavingsRate:           cfg.Weights.SavingsRate,
		ComponentCategoryConcentration: cfg.Weights.CategoryConcentration,
	}

	if vol, ok := volatilityScore(history); ok {
		components[ComponentSpendingVolatility] = vol
		weights[ComponentSpendingVolatility] = cfg.Weights.SpendingVolatility
	}

	var weighted, totalWeight float64
	for name, score := range components {
		weighted += score * weights[name]
		totalWeight += weights[name]
	}

	score := core.HealthScore{ComponentScores: components}
	if totalWeight > 0 {
		score.Score = int(math.Round(weighted / totalWeight))
	}
	score.Alerts = insights(result, components, cfg)
	return score
}

// savingsRateScore scales (income - spent) / income to 0-100, clamped to
// [0, 1] first. A period with no income scores zero.
func savingsRateScore(result core.AnalysisResult) float64 {
	if result.TotalIncome.Cents == 0 {
		return 0
	}
	rate := float64(result.TotalIncome.Cents-result.TotalSpent.Cents) / float64(result.TotalIncome.Cents)
	return clamp01(rate) * 100
}

// concentrationScore is the inverse of the Herfindahl index of spend shares:
// diversified spending scores high, everything in one category scores zero.
func concentrationScore(result core.AnalysisResult) float64 {
	if result.TotalSpent.Cents == 0 {
		// Nothing spent means no concentration risk.
		return 100
	}
	var hhi float64
	for _, stats := range result.ByCategory {
		share := float64(stats.Total.Cents) / float64(result.TotalSpent.Cents)
		hhi += share * share
	}
	return clamp01(1-hhi) * 100
}

// volatilityScore is the inverse of the coefficient of variation of total
// spend across the supplied history. It reports ok=false when fewer than two
// historical periods are available.
func volatilityScore(history []core.AnalysisResult) (float64, bool) {
	if len(history) < 2 {
		return 0, false
	}

	totals := make([]float64, len(history))
	var sum float64
	for i, h := range history {
		totals[i] = float64(h.TotalSpent.Cents)
		sum += totals[i]
	}
	mean := sum / float64(len(totals))
	if mean == 0 {
		return 0, false
	}

	var variance float64
	for _, v := range totals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(totals))
	cv := math.Sqrt(variance) / mean

	return clamp01(1-cv) * 100, true
}

// insights walks the analysis result and component scores against the fixed
// rule table. Rule evaluation order is declaration order, so alert ordering
// is deterministic.
func insights(result core.AnalysisResult, components map[string]float64, cfg ScoreConfig) []core.Alert {
	var alerts []core.Alert

	// Rule 1: single-category concentration of spend.
	if result.TotalSpent.Cents > 0 && len(result.TopCategories) > 0 {
		top := result.TopCategories[0]
		share := float64(top.Total.Cents) / float64(result.TotalSpent.Cents)
		switch {
		case share >= cfg.ConcentrationCritical:
			alerts = append(alerts, core.Alert{
				Severity: core.SeverityCritical,
				Message:  fmt.Sprintf("over %.0f%% of spending is in %s", share*100, top.Category),
				Category: top.Category,
			})
		case share >= cfg.ConcentrationWarn:
			alerts = append(alerts, core.Alert{
				Severity: core.SeverityWarning,
				Message:  fmt.Sprintf("%s accounts for %.0f%% of total spending", top.Category, share*100),
				Category: top.Category,
			})
		}
	}

	// Rule 2: savings rate.
	if result.TotalIncome.Cents > 0 {
		if result.TotalSpent.Cents > result.TotalIncome.Cents {
			alerts = append(alerts, core.Alert{
				Severity: core.SeverityCritical,
				Message:  "spending exceeded income this period",
			})
		} else if rate := components[ComponentSavingsRate] / 100; rate < cfg.LowSavingsRate {
			alerts = append(alerts, core.Alert{
				Severity: core.SeverityWarning,
				Message:  fmt.Sprintf("savings rate is %.1f%%, below the %.0f%% target", rate*100, cfg.LowSavingsRate*100),
			})
		}
	}

	// Rule 3: volatility history coverage.
	if _, ok := components[ComponentSpendingVolatility]; !ok {
		alerts = append(alerts, core.Alert{
			Severity: core.SeverityInfo,
			Message:  "not enough history to assess spending volatility",
		})
	}

	// Rule 4: savings or investment activity.
	if _, ok := result.ByCategory["Savings"]; !ok && result.TotalSpent.Cents > 0 {
		alerts = append(alerts, core.Alert{
			Severity: core.SeverityInfo,
			Message:  "no savings or investment activity detected",
		})
	}

	// Rule 5: diversification.
	if len(result.ByCategory) > 5 {
		alerts = append(alerts, core.Alert{
			Severity: core.SeverityInfo,
			Message:  "spending is well-diversified across categories",
		})
	}

	return alerts
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
