// Package decision runs inference: context in, ranked suggestions out
package decision

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/extract"
	"github.com/suggestd/suggestd/pkg/logx"
	"github.com/suggestd/suggestd/pkg/rules"
	"github.com/suggestd/suggestd/pkg/schedule"
	"github.com/suggestd/suggestd/pkg/timing"
)

// EventSink receives engine events for audit trails or external publishing
type EventSink interface {
	Record(event pkg.Event)
}

// Engine evaluates the rule catalog against incoming contexts. Inference
// calls may run in parallel; each call works from a point-in-time snapshot
// of the catalog and the timing slots it reads.
type Engine struct {
	rules     *rules.Store
	matcher   *rules.Matcher
	timing    *timing.Store
	scheduler *schedule.Optimizer
	sinks     []EventSink
	leads     []int
	threshold float64
	logger    *logx.Logger
}

func NewEngine(
	ruleStore *rules.Store,
	matcher *rules.Matcher,
	timingStore *timing.Store,
	scheduler *schedule.Optimizer,
	leads []int,
	threshold float64,
	logger *logx.Logger,
) *Engine {
	return &Engine{
		rules:     ruleStore,
		matcher:   matcher,
		timing:    timingStore,
		scheduler: scheduler,
		leads:     leads,
		threshold: threshold,
		logger:    logger,
	}
}

// AddSink registers an event sink. Wire sinks at startup, before inference
// traffic is flowing.
func (e *Engine) AddSink(sink EventSink) {
	e.sinks = append(e.sinks, sink)
}

func (e *Engine) emit(event pkg.Event) {
	for _, sink := range e.sinks {
		sink.Record(event)
	}
}

// Infer scores every active rule against one context and returns the
// suggestions clearing the threshold, ranked by score
func (e *Engine) Infer(ctx context.Context, raw *pkg.Context, enableSearch bool) (*pkg.InferenceResponse, error) {
	if err := raw.Validate(); err != nil {
		return nil, err
	}

	ec := extract.Extract(raw)
	contextKey := ec.ContextKey()
	snapshot := e.rules.Snapshot()

	var suggestions []*pkg.Suggestion
	for _, r := range snapshot {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := e.matcher.Match(r, raw, ec)
		score := res.BaseScore * r.Weight
		if score < e.threshold {
			e.logger.Debug("rule suppressed",
				"rule_id", r.ID, "name", r.Name,
				"base_score", res.BaseScore, "weight", r.Weight,
				"suggestion_score", score, "threshold", e.threshold)
			continue
		}

		options, err := e.timing.Evaluate(r.TaskType(), contextKey, e.leads)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate timing for rule %d: %w", r.ID, err)
		}

		suggestions = append(suggestions, &pkg.Suggestion{
			RuleID:            r.ID,
			TaskName:          r.Name,
			TaskDescription:   r.Description,
			SuggestionScore:   score,
			Reasoning:         res.Reasoning,
			MatchedConditions: res.MatchedConditions,
			TimingOptions:     options,
		})
	}

	mode := "greedy"
	if enableSearch {
		mode = "A* search"
		suggestions = e.optimizeJointly(ctx, suggestions)
	} else {
		for _, s := range suggestions {
			best := timing.SelectBest(s.TimingOptions)
			s.ChosenLeadTime = best.LeadMinutes
			s.TimingConfidence = best.Confidence
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		if suggestions[i].SuggestionScore != suggestions[j].SuggestionScore {
			return suggestions[i].SuggestionScore > suggestions[j].SuggestionScore
		}
		return suggestions[i].RuleID < suggestions[j].RuleID
	})

	if suggestions == nil {
		suggestions = []*pkg.Suggestion{}
	}

	wifi := raw.WifiSSID
	if wifi == "" {
		wifi = "none"
	}

	response := &pkg.InferenceResponse{
		Timestamp: time.Now().UTC(),
		ContextSummary: pkg.ContextSummary{
			Activity:         ec.ActivityState,
			LocationCategory: ec.LocationCategory,
			TimeOfDay:        ec.TimeOfDay,
			CarConnected:     ec.CarConnected,
			Wifi:             wifi,
			OptimizationMode: mode,
		},
		SuggestedTasks:      suggestions,
		TotalRulesEvaluated: len(snapshot),
	}

	e.emit(pkg.Event{
		Type:      pkg.EventInference,
		Timestamp: response.Timestamp,
		Data: map[string]interface{}{
			"context_key":     contextKey,
			"rules_evaluated": len(snapshot),
			"suggestions":     len(suggestions),
			"mode":            mode,
		},
	})

	e.logger.Info("inference complete",
		"context_key", contextKey,
		"rules_evaluated", len(snapshot),
		"suggestions", len(suggestions),
		"mode", mode)
	return response, nil
}

// optimizeJointly runs the schedule search across all candidates and keeps
// only those the schedule retains
func (e *Engine) optimizeJointly(ctx context.Context, suggestions []*pkg.Suggestion) []*pkg.Suggestion {
	if len(suggestions) == 0 {
		return suggestions
	}

	candidates := make([]*schedule.Candidate, len(suggestions))
	for i, s := range suggestions {
		candidates[i] = &schedule.Candidate{
			RuleID:          s.RuleID,
			SuggestionScore: s.SuggestionScore,
			Options:         s.TimingOptions,
		}
	}

	result := e.scheduler.Optimize(ctx, candidates)
	if result.Quality == "greedy_fallback" {
		e.emit(pkg.Event{
			Type:      pkg.EventSearchFallback,
			Timestamp: time.Now().UTC(),
			Reason:    "node budget or cancellation",
			Data:      map[string]interface{}{"nodes_explored": result.NodesExplored},
		})
	}

	meta := &pkg.SearchMetadata{
		TotalExpectedReward: result.TotalReward,
		NodesExplored:       result.NodesExplored,
		SearchTimeMS:        result.SearchTimeMS,
		SearchCompleted:     result.Completed,
		OptimizationQuality: result.Quality,
	}

	kept := make([]*pkg.Suggestion, 0, len(suggestions))
	for i, s := range suggestions {
		choice := result.Assignments[i]
		if choice == schedule.Skip {
			e.logger.Debug("suggestion skipped by schedule", "rule_id", s.RuleID)
			continue
		}
		opt := s.TimingOptions[choice]
		s.ChosenLeadTime = opt.LeadMinutes
		s.TimingConfidence = opt.Confidence
		s.SearchMetadata = meta
		kept = append(kept, s)
	}
	return kept
}
