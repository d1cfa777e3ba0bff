package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/logx"
)

// timeToleranceMinutes is the window either side of an exact "time" condition
const timeToleranceMinutes = 15

// MatchResult is the outcome of scoring one rule against one context
type MatchResult struct {
	BaseScore         float64
	MatchedConditions map[string]interface{}
	Reasoning         string
	RecognizedKeys    int
	MatchedKeys       int
}

// Matcher scores rule trigger conditions against extracted contexts
type Matcher struct {
	logger *logx.Logger
}

func NewMatcher(logger *logx.Logger) *Matcher {
	return &Matcher{logger: logger}
}

var dayNames = map[string]int{
	"monday":    1,
	"tuesday":   2,
	"wednesday": 3,
	"thursday":  4,
	"friday":    5,
	"saturday":  6,
	"sunday":    7,
}

// Match computes the base score for one rule: matched conditions over
// recognized conditions. A rule with no recognized conditions scores zero.
func (m *Matcher) Match(r *pkg.Rule, c *pkg.Context, ec *pkg.ExtractedContext) *MatchResult {
	res := &MatchResult{MatchedConditions: make(map[string]interface{})}

	keys := make([]string, 0, len(r.TriggerCondition))
	for k := range r.TriggerCondition {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var matchedNames []string
	for _, key := range keys {
		want := r.TriggerCondition[key]
		recognized, matched := m.evalCondition(key, want, c, ec)
		if !recognized {
			m.logger.Debug("ignoring unknown condition key", "rule_id", r.ID, "key", key)
			continue
		}
		res.RecognizedKeys++
		if matched {
			res.MatchedKeys++
			res.MatchedConditions[key] = want
			matchedNames = append(matchedNames, key)
		}
	}

	if res.RecognizedKeys == 0 {
		res.Reasoning = "no recognized conditions"
		return res
	}

	res.BaseScore = float64(res.MatchedKeys) / float64(res.RecognizedKeys)
	if len(matchedNames) == 0 {
		res.Reasoning = fmt.Sprintf("matched 0/%d conditions", res.RecognizedKeys)
	} else {
		res.Reasoning = fmt.Sprintf("matched %d/%d conditions: %s",
			res.MatchedKeys, res.RecognizedKeys, strings.Join(matchedNames, ", "))
	}
	return res
}

func (m *Matcher) evalCondition(key string, want interface{}, c *pkg.Context, ec *pkg.ExtractedContext) (recognized, matched bool) {
	if strings.HasPrefix(key, "extras.") {
		name := strings.TrimPrefix(key, "extras.")
		got, ok := c.Extras[name]
		return true, ok && looseEqual(want, got)
	}

	switch key {
	case "activity":
		return true, strings.EqualFold(asString(want), ec.ActivityState)
	case "activity_type":
		return true, strings.EqualFold(asString(want), c.Activity)
	case "time_range":
		return true, inTimeRange(asString(want), ec.Timestamp.Hour()*60+ec.Timestamp.Minute())
	case "time":
		return true, nearClock(asString(want), ec.Timestamp.Hour()*60+ec.Timestamp.Minute())
	case "day_of_week":
		return true, dayMatches(want, ec.DayOfWeek)
	case "is_weekday":
		b, ok := want.(bool)
		return true, ok && b == ec.IsWeekday
	case "location_vector":
		return true, strings.EqualFold(asString(want), c.LocationVector)
	case "location_category":
		return true, strings.EqualFold(asString(want), ec.LocationCategory)
	case "wifi_ssid":
		return true, asString(want) == c.WifiSSID
	case "car_bluetooth":
		b, ok := want.(bool)
		return true, ok && b == ec.CarConnected
	case "min_speed":
		f, ok := asFloat(want)
		return true, ok && ec.SpeedKmh >= f
	case "max_speed":
		f, ok := asFloat(want)
		return true, ok && ec.SpeedKmh <= f
	default:
		return false, false
	}
}

// parseClock converts "HH:MM" into minutes since midnight
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	mn, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || mn < 0 || mn > 59 {
		return 0, false
	}
	return h*60 + mn, true
}

// inTimeRange checks "HH:MM-HH:MM" membership; ranges may wrap midnight
func inTimeRange(window string, now int) bool {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return false
	}
	start, ok1 := parseClock(parts[0])
	end, ok2 := parseClock(parts[1])
	if !ok1 || !ok2 {
		return false
	}
	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}

// nearClock checks an exact "HH:MM" within the tolerance window, measured
// on the 24-hour ring so 23:55 is close to 00:05
func nearClock(clock string, now int) bool {
	target, ok := parseClock(clock)
	if !ok {
		return false
	}
	diff := now - target
	if diff < 0 {
		diff = -diff
	}
	if wrapped := 1440 - diff; wrapped < diff {
		diff = wrapped
	}
	return diff <= timeToleranceMinutes
}

// dayMatches accepts ISO numbers (1=Monday) or English day names
func dayMatches(want interface{}, day int) bool {
	if f, ok := asFloat(want); ok {
		return int(f) == day
	}
	if n, ok := dayNames[strings.ToLower(asString(want))]; ok {
		return n == day
	}
	return false
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// asFloat accepts the numeric shapes JSON decoding and Go literals produce
func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// looseEqual compares extras values across JSON numeric representations
func looseEqual(a, b interface{}) bool {
	if af, ok := asFloat(a); ok {
		bf, ok := asFloat(b)
		return ok && af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}
