package pkg

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"
)

// Context represents one raw sensor snapshot received from a device
type Context struct {
	Timestamp             time.Time              `json:"timestamp"`
	Activity              string                 `json:"activity"`
	SpeedKmh              float64                `json:"speed_kmh"`
	CarBluetoothConnected bool                   `json:"car_bluetooth_connected"`
	WifiSSID              string                 `json:"wifi_ssid,omitempty"`
	LocationVector        string                 `json:"location_vector,omitempty"`
	Extras                map[string]interface{} `json:"extras,omitempty"`
}

// ExtractedContext is the normalized categorical view of a Context
type ExtractedContext struct {
	Timestamp        time.Time `json:"timestamp"`
	TimeOfDay        string    `json:"time_of_day"`
	DayOfWeek        int       `json:"day_of_week"` // 1=Monday .. 7=Sunday
	IsWeekday        bool      `json:"is_weekday"`
	LocationCategory string    `json:"location_category"`
	ActivityState    string    `json:"activity_state"`
	CarConnected     bool      `json:"car_connected"`
	WifiSSID         string    `json:"wifi_ssid,omitempty"`
	SpeedKmh         float64   `json:"speed_kmh"`
	ConfidenceScore  float64   `json:"confidence_score"`
}

// Rule represents one learned task-reminder rule
type Rule struct {
	ID               int64                  `json:"id"`
	Name             string                 `json:"name"`
	Description      string                 `json:"description,omitempty"`
	TriggerCondition map[string]interface{} `json:"trigger_condition"`
	Weight           float64                `json:"weight"`
	IsActive         bool                   `json:"is_active"`
	Source           string                 `json:"source,omitempty"`
	EventID          string                 `json:"event_id,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

// TimingSlot holds the Beta distribution for one (task_type, context_key, lead) triple
type TimingSlot struct {
	TaskType      string    `json:"task_type"`
	ContextKey    string    `json:"context_key"`
	LeadMinutes   int       `json:"lead_minutes"`
	Alpha         float64   `json:"alpha"`
	Beta          float64   `json:"beta"`
	TotalTriggers int       `json:"total_triggers"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TimingOption is one evaluated lead-time choice for a candidate
type TimingOption struct {
	LeadMinutes int     `json:"lead_minutes"`
	Confidence  float64 `json:"confidence"`
	UCB         float64 `json:"ucb"`
}

// FeedbackRecord is one accept/reject observation from the user
type FeedbackRecord struct {
	RuleID          int64     `json:"rule_id"`
	Outcome         string    `json:"outcome"` // accept|reject
	ContextSnapshot *Context  `json:"context_snapshot,omitempty"`
	ChosenLeadTime  int       `json:"chosen_lead_time"`
	Timestamp       time.Time `json:"timestamp"`
}

// ParsedEvent is an enriched calendar event supplied by the external parser
type ParsedEvent struct {
	EventID                string    `json:"event_id"`
	Title                  string    `json:"title"`
	StartTime              time.Time `json:"start_time"`
	EndTime                time.Time `json:"end_time,omitempty"`
	Priority               string    `json:"priority"` // high|medium|low
	IsAllDay               bool      `json:"is_all_day"`
	Location               string    `json:"location,omitempty"`
	PreparationTimeMinutes int       `json:"preparation_time_minutes"`
	TravelTimeMinutes      int       `json:"travel_time_minutes"`
}

// Suggestion is one ranked task reminder in an inference response
type Suggestion struct {
	RuleID            int64                  `json:"rule_id"`
	TaskName          string                 `json:"task_name"`
	TaskDescription   string                 `json:"task_description,omitempty"`
	SuggestionScore   float64                `json:"suggestion_score"`
	Reasoning         string                 `json:"reasoning"`
	MatchedConditions map[string]interface{} `json:"matched_conditions"`
	TimingOptions     []TimingOption         `json:"timing_options"`
	ChosenLeadTime    int                    `json:"chosen_lead_time"`
	TimingConfidence  float64                `json:"timing_confidence"`
	SearchMetadata    *SearchMetadata        `json:"search_metadata,omitempty"`
}

// SearchMetadata describes the schedule optimization run attached to a suggestion
type SearchMetadata struct {
	TotalExpectedReward float64 `json:"total_expected_reward"`
	NodesExplored       int     `json:"nodes_explored"`
	SearchTimeMS        float64 `json:"search_time_ms"`
	SearchCompleted     bool    `json:"search_completed"`
	OptimizationQuality string  `json:"optimization_quality"` // optimal|greedy_fallback
}

// ContextSummary is the condensed context echoed back in an inference response
type ContextSummary struct {
	Activity         string `json:"activity"`
	LocationCategory string `json:"location_category"`
	TimeOfDay        string `json:"time_of_day"`
	CarConnected     bool   `json:"car_connected"`
	Wifi             string `json:"wifi"`
	OptimizationMode string `json:"optimization_mode"` // greedy|A* search
}

// InferenceResponse is the full result of one inference call
type InferenceResponse struct {
	Timestamp           time.Time      `json:"timestamp"`
	ContextSummary      ContextSummary `json:"context_summary"`
	SuggestedTasks      []*Suggestion  `json:"suggested_tasks"`
	TotalRulesEvaluated int            `json:"total_rules_evaluated"`
}

// Event represents an internal engine event for the audit trail
type Event struct {
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	RuleID    int64                  `json:"rule_id,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Raw activity vocabulary
const (
	ActivityStill     = "STILL"
	ActivityWalking   = "WALKING"
	ActivityRunning   = "RUNNING"
	ActivityOnBicycle = "ON_BICYCLE"
	ActivityInVehicle = "IN_VEHICLE"
	ActivityOnFoot    = "ON_FOOT"
	ActivityUnknown   = "UNKNOWN"
)

// Normalized activity states
const (
	StateStationary = "STATIONARY"
	StateTraveling  = "TRAVELING"
	StateWalking    = "WALKING"
	StateUnknown    = "UNKNOWN"
)

// Time-of-day buckets
const (
	TimeMorning   = "morning"
	TimeAfternoon = "afternoon"
	TimeEvening   = "evening"
	TimeNight     = "night"
)

// Location categories
const (
	LocationHome            = "HOME"
	LocationWork            = "WORK"
	LocationCampus          = "CAMPUS"
	LocationCommute         = "COMMUTE"
	LocationNearHome        = "NEAR_HOME"
	LocationInParkedVehicle = "IN_PARKED_VEHICLE"
	LocationUnknown         = "UNKNOWN"
)

// Feedback outcomes
const (
	OutcomeAccept = "accept"
	OutcomeReject = "reject"
)

// Rule weight bounds and learning deltas
const (
	WeightMin     = 0.10
	WeightMax     = 0.95
	WeightDefault = 0.75
	AcceptDelta   = 0.05
	RejectDelta   = 0.10
)

// SuggestionThreshold is the minimum suggestion_score for a candidate to surface
const SuggestionThreshold = 0.60

// Event priorities and their initial rule weights
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Engine event types
const (
	EventInference       = "inference"
	EventFeedbackApplied = "feedback_applied"
	EventRuleCreated     = "rule_created"
	EventRuleDeactivated = "rule_deactivated"
	EventSearchFallback  = "search_fallback"
)

// Sentinel errors surfaced across package boundaries
var (
	ErrRuleNotFound   = errors.New("rule not found")
	ErrInvalidContext = errors.New("invalid context")
	ErrPersistence    = errors.New("persistence failure")
)

var validActivities = map[string]bool{
	ActivityStill:     true,
	ActivityWalking:   true,
	ActivityRunning:   true,
	ActivityOnBicycle: true,
	ActivityInVehicle: true,
	ActivityOnFoot:    true,
	ActivityUnknown:   true,
}

// Validate rejects contexts that cannot be normalized
func (c *Context) Validate() error {
	if c.SpeedKmh < 0 {
		return fmt.Errorf("%w: negative speed %.2f", ErrInvalidContext, c.SpeedKmh)
	}
	if c.Activity != "" && !validActivities[strings.ToUpper(c.Activity)] {
		return fmt.Errorf("%w: unrecognized activity %q", ErrInvalidContext, c.Activity)
	}
	return nil
}

// ContextKey derives the canonical slot-lookup key: activity state, time-of-day
// bucket, weekday flag and location category joined by "_", lowercased
func (ec *ExtractedContext) ContextKey() string {
	day := "weekend"
	if ec.IsWeekday {
		day = "weekday"
	}
	return strings.ToLower(ec.ActivityState) + "_" + ec.TimeOfDay + "_" + day + "_" + strings.ToLower(ec.LocationCategory)
}

// TaskType derives the canonical timing-slot token from the rule name:
// first word, punctuation stripped, lowercased
func (r *Rule) TaskType() string {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		return "task"
	}
	first := strings.Fields(name)[0]
	var b strings.Builder
	for _, ch := range first {
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) {
			b.WriteRune(unicode.ToLower(ch))
		}
	}
	if b.Len() == 0 {
		return "task"
	}
	return b.String()
}

// Clone returns a deep copy safe to hand out under a read lock
func (r *Rule) Clone() *Rule {
	cp := *r
	if r.TriggerCondition != nil {
		cp.TriggerCondition = make(map[string]interface{}, len(r.TriggerCondition))
		for k, v := range r.TriggerCondition {
			cp.TriggerCondition[k] = v
		}
	}
	return &cp
}

// Confidence returns the posterior mean of the Beta distribution
func (s *TimingSlot) Confidence() float64 {
	return s.Alpha / (s.Alpha + s.Beta)
}

// Uncertainty returns the exploration term 1/sqrt(alpha+beta)
func (s *TimingSlot) Uncertainty() float64 {
	return 1.0 / math.Sqrt(s.Alpha+s.Beta)
}

// UCB returns the upper-confidence-bound score used for timing selection
func (s *TimingSlot) UCB() float64 {
	return s.Confidence() + 0.5*s.Uncertainty()
}

// InitialWeightForPriority maps a calendar priority onto a starting rule weight
func InitialWeightForPriority(priority string) float64 {
	switch strings.ToLower(priority) {
	case PriorityHigh:
		return 0.85
	case PriorityLow:
		return 0.65
	default:
		return WeightDefault
	}
}

// ClampWeight bounds a rule weight to the learned range
func ClampWeight(w float64) float64 {
	if w < WeightMin {
		return WeightMin
	}
	if w > WeightMax {
		return WeightMax
	}
	return w
}
