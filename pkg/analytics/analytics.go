// Package analytics reports per-rule acceptance statistics and trends
package analytics

import (
	"fmt"
	"sort"

	"github.com/sajari/regression"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
	"github.com/suggestd/suggestd/pkg/rules"
)

// minTrendSamples is the smallest history worth fitting a trend line to
const minTrendSamples = 5

// FeedbackSource exposes the aggregated feedback log
type FeedbackSource interface {
	FeedbackCounts() (map[int64]map[string]int, error)
	FeedbackSeries(ruleID int64) ([]float64, error)
}

// RuleStats is the acceptance profile of one rule
type RuleStats struct {
	RuleID         int64   `json:"rule_id"`
	Name           string  `json:"name"`
	Weight         float64 `json:"weight"`
	IsActive       bool    `json:"is_active"`
	Accepts        int     `json:"accepts"`
	Rejects        int     `json:"rejects"`
	AcceptanceRate float64 `json:"acceptance_rate"`
	TrendSlope     float64 `json:"trend_slope"`
	TrendKnown     bool    `json:"trend_known"`
}

// Analyzer joins the rule catalog with the feedback log
type Analyzer struct {
	rules  *rules.Store
	source FeedbackSource
	logger *logx.Logger
}

func NewAnalyzer(ruleStore *rules.Store, source FeedbackSource, logger *logx.Logger) *Analyzer {
	return &Analyzer{rules: ruleStore, source: source, logger: logger}
}

// RuleStats computes acceptance statistics for every rule in the catalog,
// ordered by rule id
func (a *Analyzer) RuleStats() ([]*RuleStats, error) {
	counts, err := a.source.FeedbackCounts()
	if err != nil {
		return nil, fmt.Errorf("failed to load feedback counts: %w", err)
	}

	catalog := a.rules.ListAll()
	out := make([]*RuleStats, 0, len(catalog))
	for _, r := range catalog {
		stats := &RuleStats{
			RuleID:   r.ID,
			Name:     r.Name,
			Weight:   r.Weight,
			IsActive: r.IsActive,
			Accepts:  counts[r.ID][pkg.OutcomeAccept],
			Rejects:  counts[r.ID][pkg.OutcomeReject],
		}
		if total := stats.Accepts + stats.Rejects; total > 0 {
			stats.AcceptanceRate = float64(stats.Accepts) / float64(total)
		}
		stats.TrendSlope, stats.TrendKnown = a.trend(r.ID)
		out = append(out, stats)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

// trend fits a line through the rule's accept/reject history; a positive
// slope means the rule is gaining acceptance over time
func (a *Analyzer) trend(ruleID int64) (float64, bool) {
	series, err := a.source.FeedbackSeries(ruleID)
	if err != nil {
		a.logger.Warn("failed to load feedback series", "rule_id", ruleID, "error", err)
		return 0, false
	}
	if len(series) < minTrendSamples {
		return 0, false
	}

	var r regression.Regression
	r.SetObserved("accepted")
	r.SetVar(0, "observation")
	for i, v := range series {
		r.Train(regression.DataPoint(v, []float64{float64(i)}))
	}
	if err := r.Run(); err != nil {
		a.logger.Warn("trend fit failed", "rule_id", ruleID, "error", err)
		return 0, false
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) < 2 {
		return 0, false
	}
	return coeffs[1], true
}
