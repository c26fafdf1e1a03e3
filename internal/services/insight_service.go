// Package services orchestrates the analysis pipeline: fetch through the
// session cache, categorize, analyze, compare, score.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"rufous/internal/analysis"
	"rufous/internal/cache"
	"rufous/internal/core"
	"rufous/internal/fetchcache"
	"rufous/internal/metrics"
	"rufous/internal/taxonomy"
)

// ValidationError marks request problems the HTTP layer reports as 422
// instead of 500.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// ErrRecategorizationUnavailable is returned when neither a queue nor an
// inline worker is wired.
var ErrRecategorizationUnavailable = errors.New("recategorization not available")

// OverrideStore persists manual category overrides. The SQLite repository
// implements it; the in-memory variant serves the memory backend.
type OverrideStore interface {
	SetCategory(ctx context.Context, txnID, category string) error
	ClearCategory(ctx context.Context, txnID string) error
	Overrides(ctx context.Context, accountID string) (map[string]string, error)
}

// Publisher hands recategorization jobs to the queue. *amqp.Client
// implements it.
type Publisher interface {
	PublishRecategorize(ctx context.Context, accountID string) error
}

// Recategorizer runs a bulk recategorization inline when no queue is
// configured.
type Recategorizer interface {
	Recategorize(ctx context.Context, accountID string) (int, error)
}

// Config tunes the insight pipeline.
type Config struct {
	// SignificantChange is the fractional threshold for flagging category
	// deltas in comparisons.
	SignificantChange float64
	// HistoryPeriods is how many preceding windows feed the volatility score.
	HistoryPeriods int
	// MaxPeriodDays bounds a single analysis window.
	MaxPeriodDays int
	// ResultCacheSize and ResultCacheTTL tune the memoized report cache.
	ResultCacheSize int
	ResultCacheTTL  time.Duration

	Score analysis.ScoreConfig
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		SignificantChange: analysis.DefaultSignificantChange,
		HistoryPeriods:    3,
		MaxPeriodDays:     365,
		ResultCacheSize:   256,
		ResultCacheTTL:    5 * time.Minute,
		Score:             analysis.DefaultScoreConfig(),
	}
}

// AnalyzeRequest is one analysis job: a period of an account, optionally
// diffed against a second period.
type AnalyzeRequest struct {
	AccountID string
	Period    core.Period
	CompareTo *core.Period
}

// InsightReport is the full response of an analysis request.
type InsightReport struct {
	Analysis   core.AnalysisResult `json:"analysis"`
	Comparison *core.Comparison    `json:"comparison,omitempty"`
	Health     core.HealthScore    `json:"health"`
}

// InsightService wires the fetch cache, the taxonomy, the override store and
// the analysis functions into the operations the API exposes.
type InsightService struct {
	fetch     *fetchcache.Cache
	taxonomy  *taxonomy.Taxonomy
	overrides OverrideStore
	publisher Publisher
	inline    Recategorizer
	results   *cache.LRUCache[*InsightReport]
	metrics   *metrics.Metrics
	cfg       Config
}

func NewInsightService(fetch *fetchcache.Cache, tax *taxonomy.Taxonomy, overrides OverrideStore, cfg Config, m *metrics.Metrics) *InsightService {
	if cfg.HistoryPeriods < 0 {
		cfg.HistoryPeriods = 0
	}
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = 256
	}
	if cfg.ResultCacheTTL <= 0 {
		cfg.ResultCacheTTL = 5 * time.Minute
	}
	return &InsightService{
		fetch:     fetch,
		taxonomy:  tax,
		overrides: overrides,
		results:   cache.NewLRUCache[*InsightReport](cfg.ResultCacheSize, cfg.ResultCacheTTL),
		metrics:   m,
		cfg:       cfg,
	}
}

// WithPublisher wires the AMQP publisher for bulk recategorization.
func (s *InsightService) WithPublisher(p Publisher) *InsightService {
	s.publisher = p
	return s
}

// WithInlineRecategorizer wires a fallback worker used when no queue is
// configured.
func (s *InsightService) WithInlineRecategorizer(r Recategorizer) *InsightService {
	s.inline = r
	return s
}

// Analyze runs the full pipeline for one request. Identical requests within
// the result cache TTL are served from memory.
func (s *InsightService) Analyze(ctx context.Context, req AnalyzeRequest) (*InsightReport, error) {
	if err := s.validate(req); err != nil {
		return nil, &ValidationError{Err: err}
	}

	key := reportKey(req)
	if report, ok := s.results.Get(key); ok {
		return report, nil
	}

	start := time.Now()
	txns, err := s.categorized(ctx, req.AccountID, req.Period)
	if err != nil {
		return nil, err
	}

	report := &InsightReport{
		Analysis: analysis.Analyze(txns, req.Period),
	}

	if req.CompareTo != nil {
		prevTxns, err := s.categorized(ctx, req.AccountID, *req.CompareTo)
		if err != nil {
			return nil, err
		}
		cmp := analysis.Compare(mergeByID(txns, prevTxns), req.Period, *req.CompareTo, s.cfg.SignificantChange)
		report.Comparison = &cmp
	}

	history := s.history(ctx, req.AccountID, req.Period)
	report.Health = analysis.Score(report.Analysis, history, s.cfg.Score)

	s.metrics.ObserveAnalyzeDuration(time.Since(start).Seconds())
	slog.InfoContext(ctx, "Analysis completed",
		"account_id", req.AccountID,
		"period", req.Period.String(),
		"transactions", report.Analysis.TransactionCount,
		"health_score", report.Health.Score,
		"duration_ms", time.Since(start).Milliseconds())

	s.results.Set(key, report)
	return report, nil
}

// SetCategoryOverride pins a transaction to a category. The override is
// marked manual and survives refetches and bulk recategorization.
func (s *InsightService) SetCategoryOverride(ctx context.Context, txnID, category string) error {
	category = strings.TrimSpace(category)
	if category == "" {
		return &ValidationError{Err: errors.New("empty category")}
	}
	if strings.TrimSpace(txnID) == "" {
		return &ValidationError{Err: errors.New("empty transaction id")}
	}

	if err := s.overrides.SetCategory(ctx, txnID, category); err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	s.results.Purge()

	slog.InfoContext(ctx, "Category override set",
		"transaction_id", txnID,
		"category", category)
	return nil
}

// ClearCategoryOverride removes a manual override; the transaction falls back
// to rule-based tagging.
func (s *InsightService) ClearCategoryOverride(ctx context.Context, txnID string) error {
	if strings.TrimSpace(txnID) == "" {
		return &ValidationError{Err: errors.New("empty transaction id")}
	}

	if err := s.overrides.ClearCategory(ctx, txnID); err != nil {
		return fmt.Errorf("clear override: %w", err)
	}
	s.results.Purge()

	slog.InfoContext(ctx, "Category override cleared", "transaction_id", txnID)
	return nil
}

// RequestRecategorization schedules a bulk recategorization for an account.
// With a queue configured the job runs asynchronously on the worker;
// otherwise it runs inline before returning.
func (s *InsightService) RequestRecategorization(ctx context.Context, accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return &ValidationError{Err: core.ErrEmptyAccountID}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishRecategorize(ctx, accountID); err != nil {
			return fmt.Errorf("publish recategorization: %w", err)
		}
		return nil
	}

	if s.inline != nil {
		changed, err := s.inline.Recategorize(ctx, accountID)
		if err != nil {
			return fmt.Errorf("inline recategorization: %w", err)
		}
		s.results.Purge()
		slog.InfoContext(ctx, "Inline recategorization completed",
			"account_id", accountID,
			"changed", changed)
		return nil
	}

	return ErrRecategorizationUnavailable
}

func (s *InsightService) validate(req AnalyzeRequest) error {
	if strings.TrimSpace(req.AccountID) == "" {
		return core.ErrEmptyAccountID
	}
	if err := req.Period.Validate(); err != nil {
		return err
	}
	if s.cfg.MaxPeriodDays > 0 && req.Period.Days() > s.cfg.MaxPeriodDays {
		return fmt.Errorf("%w: %d days requested, %d allowed", core.ErrPeriodTooLong, req.Period.Days(), s.cfg.MaxPeriodDays)
	}
	if req.CompareTo != nil {
		if err := req.CompareTo.Validate(); err != nil {
			return fmt.Errorf("compare_to: %w", err)
		}
		if s.cfg.MaxPeriodDays > 0 && req.CompareTo.Days() > s.cfg.MaxPeriodDays {
			return fmt.Errorf("compare_to: %w", core.ErrPeriodTooLong)
		}
	}
	return nil
}

// categorized fetches a period through the session cache and applies the
// taxonomy plus any manual overrides.
func (s *InsightService) categorized(ctx context.Context, accountID string, period core.Period) ([]core.Transaction, error) {
	txns, err := s.fetch.GetTransactions(ctx, accountID, period)
	if err != nil {
		return nil, err
	}
	s.taxonomy.Apply(txns)

	if s.overrides != nil {
		overrides, err := s.overrides.Overrides(ctx, accountID)
		if err != nil {
			slog.WarnContext(ctx, "Failed to load category overrides",
				"account_id", accountID,
				"error", err)
			return txns, nil
		}
		for i := range txns {
			if name, ok := overrides[txns[i].ID]; ok {
				txns[i].Category = core.Category{Name: name, Manual: true}
			}
		}
	}
	return txns, nil
}

// history analyzes up to HistoryPeriods preceding windows of equal length.
// A failed fetch stops the walk; scoring degrades gracefully with whatever
// history was collected.
func (s *InsightService) history(ctx context.Context, accountID string, period core.Period) []core.AnalysisResult {
	var results []core.AnalysisResult
	window := period
	for i := 0; i < s.cfg.HistoryPeriods; i++ {
		window = window.Previous()
		txns, err := s.categorized(ctx, accountID, window)
		if err != nil {
			slog.WarnContext(ctx, "History window unavailable",
				"account_id", accountID,
				"period", window.String(),
				"error", err)
			break
		}
		results = append(results, analysis.Analyze(txns, window))
	}
	return results
}

// mergeByID unions two transaction slices, deduplicating rows that appear in
// both when the periods overlap.
func mergeByID(a, b []core.Transaction) []core.Transaction {
	merged := make([]core.Transaction, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a))
	for _, t := range a {
		merged = append(merged, t)
		seen[t.ID] = struct{}{}
	}
	for _, t := range b {
		if _, dup := seen[t.ID]; !dup {
			merged = append(merged, t)
		}
	}
	return merged
}

func reportKey(req AnalyzeRequest) string {
	key := req.AccountID + "|" + req.Period.String()
	if req.CompareTo != nil {
		key += "|" + req.CompareTo.String()
	}
	return key
}
