// Package calendar converts parsed calendar events into catalog rules
package calendar

import (
	"context"
	"fmt"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
	"github.com/suggestd/suggestd/pkg/rules"
)

// TravelEstimator fills in missing travel times for located events
type TravelEstimator interface {
	EstimateMinutes(ctx context.Context, origin, destination string) (int, error)
}

// IngestResult summarizes one ingestion batch
type IngestResult struct {
	Created        int         `json:"created"`
	Updated        int         `json:"updated"`
	RulesGenerated int         `json:"rules_generated"`
	Rules          []*pkg.Rule `json:"rules"`
}

// Ingestor upserts calendar-derived rules. Rules are keyed by event id, so
// re-ingesting a changed event updates the same rule while keeping its
// learned weight.
type Ingestor struct {
	rules     *rules.Store
	estimator TravelEstimator
	origin    string
	leads     []int
	logger    *logx.Logger
}

func NewIngestor(ruleStore *rules.Store, estimator TravelEstimator, origin string, leads []int, logger *logx.Logger) *Ingestor {
	return &Ingestor{
		rules:     ruleStore,
		estimator: estimator,
		origin:    origin,
		leads:     leads,
		logger:    logger,
	}
}

// Ingest processes one batch of parsed events
func (g *Ingestor) Ingest(ctx context.Context, events []pkg.ParsedEvent) (*IngestResult, error) {
	result := &IngestResult{Rules: []*pkg.Rule{}}

	for i := range events {
		ev := &events[i]
		if ev.EventID == "" {
			g.logger.Warn("skipping event without id", "title", ev.Title)
			continue
		}
		if ev.StartTime.IsZero() {
			g.logger.Warn("skipping event without start time", "event_id", ev.EventID)
			continue
		}

		rule, updated, err := g.upsert(ctx, ev)
		if err != nil {
			return nil, err
		}
		if updated {
			result.Updated++
		} else {
			result.Created++
		}
		result.Rules = append(result.Rules, rule)
	}

	result.RulesGenerated = result.Created + result.Updated
	g.logger.Info("calendar batch ingested",
		"events", len(events), "created", result.Created, "updated", result.Updated)
	return result, nil
}

func (g *Ingestor) upsert(ctx context.Context, ev *pkg.ParsedEvent) (*pkg.Rule, bool, error) {
	lead := g.reminderLead(ctx, ev)
	trigger := triggerCondition(ev)
	description := fmt.Sprintf("calendar event %q, remind %d min ahead", ev.Title, lead)

	if existing, ok := g.rules.GetByEventID(ev.EventID); ok {
		existing.Name = ev.Title
		existing.Description = description
		existing.TriggerCondition = trigger
		// Weight stays as learned; priority only seeds new rules
		saved, err := g.rules.Create(existing)
		if err != nil {
			return nil, false, fmt.Errorf("failed to update calendar rule %s: %w", ev.EventID, err)
		}
		return saved, true, nil
	}

	saved, err := g.rules.Create(&pkg.Rule{
		Name:             ev.Title,
		Description:      description,
		TriggerCondition: trigger,
		Weight:           pkg.InitialWeightForPriority(ev.Priority),
		IsActive:         true,
		Source:           "calendar",
		EventID:          ev.EventID,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create calendar rule %s: %w", ev.EventID, err)
	}
	return saved, false, nil
}

// triggerCondition encodes a start-time match. All-day events carry only
// the day constraint.
func triggerCondition(ev *pkg.ParsedEvent) map[string]interface{} {
	day := int(ev.StartTime.Weekday())
	if day == 0 {
		day = 7
	}
	cond := map[string]interface{}{"day_of_week": day}
	if !ev.IsAllDay {
		cond["time"] = ev.StartTime.Format("15:04")
	}
	return cond
}

// reminderLead combines preparation, travel and a priority buffer, then
// snaps to the closest configured lead-time
func (g *Ingestor) reminderLead(ctx context.Context, ev *pkg.ParsedEvent) int {
	lead := ev.PreparationTimeMinutes

	travel := ev.TravelTimeMinutes
	if travel == 0 && ev.Location != "" && g.estimator != nil && g.origin != "" {
		estimated, err := g.estimator.EstimateMinutes(ctx, g.origin, ev.Location)
		if err != nil {
			g.logger.Warn("travel estimation failed", "event_id", ev.EventID, "error", err)
		} else {
			travel = estimated
		}
	}
	lead += travel

	switch ev.Priority {
	case pkg.PriorityHigh:
		lead += 60
	case pkg.PriorityMedium:
		lead += 30
	default:
		lead += 15
	}

	if lead < 10 {
		lead = 10
	}
	return g.snapLead(lead)
}

// snapLead picks the configured lead-time closest to the requested one,
// preferring the earlier reminder on ties
func (g *Ingestor) snapLead(lead int) int {
	if len(g.leads) == 0 {
		return lead
	}

	best := g.leads[0]
	for _, candidate := range g.leads[1:] {
		dBest := abs(best - lead)
		dCand := abs(candidate - lead)
		if dCand < dBest || (dCand == dBest && candidate > best) {
			best = candidate
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
