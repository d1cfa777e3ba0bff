// Package learning folds user feedback into rule weights and timing slots
package learning

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/extract"
	"github.com/suggestd/suggestd/pkg/logx"
	"github.com/suggestd/suggestd/pkg/rules"
	"github.com/suggestd/suggestd/pkg/timing"
)

// FeedbackLog is the append-only record of every observation applied
type FeedbackLog interface {
	AppendFeedback(rec *pkg.FeedbackRecord) error
}

// EventSink mirrors decision.EventSink for feedback events
type EventSink interface {
	Record(event pkg.Event)
}

// Result reports the state reached after one feedback application
type Result struct {
	RuleID     int64           `json:"rule_id"`
	Outcome    string          `json:"outcome"`
	NewWeight  float64         `json:"new_weight"`
	TimingSlot *pkg.TimingSlot `json:"timing_slot"`
}

// Service applies accept/reject feedback. Applications are serialized:
// concurrent callers queue on the service mutex while inference reads
// continue against consistent snapshots.
type Service struct {
	mu     sync.Mutex
	rules  *rules.Store
	timing *timing.Store
	log    FeedbackLog
	sinks  []EventSink
	logger *logx.Logger
}

func NewService(ruleStore *rules.Store, timingStore *timing.Store, log FeedbackLog, logger *logx.Logger) *Service {
	return &Service{
		rules:  ruleStore,
		timing: timingStore,
		log:    log,
		logger: logger,
	}
}

// AddSink registers an event sink. Wire sinks at startup.
func (s *Service) AddSink(sink EventSink) {
	s.sinks = append(s.sinks, sink)
}

func (s *Service) emit(event pkg.Event) {
	for _, sink := range s.sinks {
		sink.Record(event)
	}
}

// ApplyFeedback updates the rule weight and the timing slot for one
// observation. A rejected notification is penalized harder than an accepted
// one is rewarded: false positives erode trust faster than missed
// reminders do. All state is rolled back if any write cannot be persisted.
func (s *Service) ApplyFeedback(ruleID int64, outcome string, snapshot *pkg.Context, chosenLead int) (*Result, error) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if outcome != pkg.OutcomeAccept && outcome != pkg.OutcomeReject {
		return nil, fmt.Errorf("invalid outcome %q", outcome)
	}
	if snapshot == nil {
		return nil, fmt.Errorf("%w: missing context snapshot", pkg.ErrInvalidContext)
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule, err := s.rules.Get(ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive {
		return nil, fmt.Errorf("%w: rule %d is inactive", pkg.ErrRuleNotFound, ruleID)
	}

	contextKey := extract.Extract(snapshot).ContextKey()
	taskType := rule.TaskType()
	accepted := outcome == pkg.OutcomeAccept

	delta := pkg.AcceptDelta
	if !accepted {
		delta = -pkg.RejectDelta
	}

	oldWeight := rule.Weight
	newWeight, err := s.updateWeightWithRetry(ruleID, delta)
	if err != nil {
		return nil, err
	}

	slot, err := s.recordOutcomeWithRetry(taskType, contextKey, chosenLead, accepted)
	if err != nil {
		s.rollbackWeight(ruleID, oldWeight, newWeight)
		return nil, err
	}

	record := &pkg.FeedbackRecord{
		RuleID:          ruleID,
		Outcome:         outcome,
		ContextSnapshot: snapshot,
		ChosenLeadTime:  chosenLead,
		Timestamp:       time.Now().UTC(),
	}
	if err := s.appendWithRetry(record); err != nil {
		if revertErr := s.timing.RevertOutcome(taskType, contextKey, chosenLead, accepted); revertErr != nil {
			s.logger.Error("failed to revert timing slot", "error", revertErr)
		}
		s.rollbackWeight(ruleID, oldWeight, newWeight)
		return nil, err
	}

	s.emit(pkg.Event{
		Type:      pkg.EventFeedbackApplied,
		Timestamp: record.Timestamp,
		RuleID:    ruleID,
		Data: map[string]interface{}{
			"outcome":     outcome,
			"context_key": contextKey,
			"lead":        chosenLead,
			"new_weight":  newWeight,
		},
	})

	s.logger.Info("feedback applied",
		"rule_id", ruleID, "outcome", outcome,
		"old_weight", oldWeight, "new_weight", newWeight,
		"context_key", contextKey, "lead", chosenLead)

	return &Result{
		RuleID:     ruleID,
		Outcome:    outcome,
		NewWeight:  newWeight,
		TimingSlot: slot,
	}, nil
}

// updateWeightWithRetry retries a failed persist once before giving up
func (s *Service) updateWeightWithRetry(ruleID int64, delta float64) (float64, error) {
	w, err := s.rules.UpdateWeight(ruleID, delta)
	if err == nil {
		return w, nil
	}
	s.logger.Warn("weight update failed, retrying", "rule_id", ruleID, "error", err)
	return s.rules.UpdateWeight(ruleID, delta)
}

func (s *Service) recordOutcomeWithRetry(taskType, contextKey string, lead int, accepted bool) (*pkg.TimingSlot, error) {
	slot, err := s.timing.RecordOutcome(taskType, contextKey, lead, accepted)
	if err == nil {
		return slot, nil
	}
	s.logger.Warn("timing slot update failed, retrying", "task_type", taskType, "error", err)
	return s.timing.RecordOutcome(taskType, contextKey, lead, accepted)
}

func (s *Service) appendWithRetry(rec *pkg.FeedbackRecord) error {
	if s.log == nil {
		return nil
	}
	if err := s.log.AppendFeedback(rec); err != nil {
		s.logger.Warn("feedback log append failed, retrying", "rule_id", rec.RuleID, "error", err)
		if err := s.log.AppendFeedback(rec); err != nil {
			return fmt.Errorf("%w: feedback log append: %v", pkg.ErrPersistence, err)
		}
	}
	return nil
}

// rollbackWeight restores a weight after a later write in the same
// application failed. The clamp is a no-op here because the old weight was
// already inside the valid range.
func (s *Service) rollbackWeight(ruleID int64, oldWeight, newWeight float64) {
	if oldWeight == newWeight {
		return
	}
	if _, err := s.rules.UpdateWeight(ruleID, oldWeight-newWeight); err != nil {
		s.logger.Error("failed to roll back rule weight", "rule_id", ruleID, "error", err)
	}
}
