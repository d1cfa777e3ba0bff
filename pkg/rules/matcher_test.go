package rules

import (
	"strings"
	"testing"
	"time"

	"github.com/suggestd/suggestd/pkg"
	"github.com/suggestd/suggestd/pkg/extract"
	"github.com/suggestd/suggestd/pkg/logx"
)

func testMatcher() *Matcher {
	return NewMatcher(logx.NewLogger("error", "matcher"))
}

func commuteContext(t *testing.T) (*pkg.Context, *pkg.ExtractedContext) {
	t.Helper()
	ts, _ := time.Parse(time.RFC3339, "2025-12-01T08:30:00Z") // Monday morning
	c := &pkg.Context{
		Timestamp:             ts,
		Activity:              pkg.ActivityInVehicle,
		SpeedKmh:              45.0,
		CarBluetoothConnected: true,
		LocationVector:        "leaving_home",
	}
	return c, extract.Extract(c)
}

func TestFullMatch(t *testing.T) {
	c, ec := commuteContext(t)
	rule := &pkg.Rule{
		ID:   1,
		Name: "Podcast queue",
		TriggerCondition: map[string]interface{}{
			"activity":      "TRAVELING",
			"car_bluetooth": true,
			"time_range":    "07:00-10:00",
		},
	}

	res := testMatcher().Match(rule, c, ec)
	if res.BaseScore != 1.0 {
		t.Errorf("expected base score 1.0, got %.2f", res.BaseScore)
	}
	if len(res.MatchedConditions) != 3 {
		t.Errorf("expected 3 matched conditions, got %v", res.MatchedConditions)
	}
	if !strings.Contains(res.Reasoning, "3/3") {
		t.Errorf("reasoning should count conditions: %q", res.Reasoning)
	}
}

func TestPartialMatch(t *testing.T) {
	c, ec := commuteContext(t)
	rule := &pkg.Rule{
		ID:   2,
		Name: "Evening drive",
		TriggerCondition: map[string]interface{}{
			"activity":   "TRAVELING",
			"time_range": "17:00-21:00",
		},
	}

	res := testMatcher().Match(rule, c, ec)
	if res.BaseScore != 0.5 {
		t.Errorf("expected 0.5, got %.2f", res.BaseScore)
	}
	if _, ok := res.MatchedConditions["time_range"]; ok {
		t.Error("time_range should not have matched at 08:30")
	}
}

func TestUnknownKeysIgnored(t *testing.T) {
	c, ec := commuteContext(t)
	rule := &pkg.Rule{
		ID:   3,
		Name: "odd",
		TriggerCondition: map[string]interface{}{
			"activity":       "TRAVELING",
			"moon_phase":     "full",
			"battery_level":  20,
		},
	}

	res := testMatcher().Match(rule, c, ec)
	if res.RecognizedKeys != 1 {
		t.Errorf("expected 1 recognized key, got %d", res.RecognizedKeys)
	}
	if res.BaseScore != 1.0 {
		t.Errorf("unknown keys must not dilute the score: %.2f", res.BaseScore)
	}
}

func TestNoRecognizedKeysScoresZero(t *testing.T) {
	c, ec := commuteContext(t)
	rule := &pkg.Rule{ID: 4, Name: "empty", TriggerCondition: map[string]interface{}{"moon_phase": "full"}}

	res := testMatcher().Match(rule, c, ec)
	if res.BaseScore != 0 {
		t.Errorf("expected 0, got %.2f", res.BaseScore)
	}
	if res.Reasoning != "no recognized conditions" {
		t.Errorf("unexpected reasoning %q", res.Reasoning)
	}
}

func TestTimeRangeWrapsMidnight(t *testing.T) {
	cases := []struct {
		clock string
		want  bool
	}{
		{"23:30", true},
		{"01:00", true},
		{"02:00", true},
		{"03:00", false},
		{"12:00", false},
	}

	for _, tc := range cases {
		t.Run(tc.clock, func(t *testing.T) {
			ts, _ := time.Parse(time.RFC3339, "2025-12-01T"+tc.clock+":00Z")
			c := &pkg.Context{Timestamp: ts, Activity: pkg.ActivityStill}
			ec := extract.Extract(c)
			rule := &pkg.Rule{ID: 5, Name: "night", TriggerCondition: map[string]interface{}{"time_range": "22:00-02:00"}}

			res := testMatcher().Match(rule, c, ec)
			if (res.BaseScore == 1.0) != tc.want {
				t.Errorf("at %s expected match=%v, got score %.2f", tc.clock, tc.want, res.BaseScore)
			}
		})
	}
}

func TestExactTimeTolerance(t *testing.T) {
	cases := []struct {
		clock string
		want  bool
	}{
		{"08:00", true},
		{"08:14", true},
		{"07:46", true},
		{"08:16", false},
		{"07:44", false},
	}

	for _, tc := range cases {
		t.Run(tc.clock, func(t *testing.T) {
			ts, _ := time.Parse(time.RFC3339, "2025-12-01T"+tc.clock+":00Z")
			c := &pkg.Context{Timestamp: ts, Activity: pkg.ActivityStill}
			ec := extract.Extract(c)
			rule := &pkg.Rule{ID: 6, Name: "standup", TriggerCondition: map[string]interface{}{"time": "08:00"}}

			res := testMatcher().Match(rule, c, ec)
			if (res.BaseScore == 1.0) != tc.want {
				t.Errorf("at %s expected match=%v, got score %.2f", tc.clock, tc.want, res.BaseScore)
			}
		})
	}
}

func TestDayOfWeekAcceptsNumberOrName(t *testing.T) {
	c, ec := commuteContext(t) // Monday

	for _, want := range []interface{}{float64(1), 1, "monday", "Monday"} {
		rule := &pkg.Rule{ID: 7, Name: "d", TriggerCondition: map[string]interface{}{"day_of_week": want}}
		if res := testMatcher().Match(rule, c, ec); res.BaseScore != 1.0 {
			t.Errorf("day_of_week=%v should match Monday, got %.2f", want, res.BaseScore)
		}
	}

	rule := &pkg.Rule{ID: 7, Name: "d", TriggerCondition: map[string]interface{}{"day_of_week": "sunday"}}
	if res := testMatcher().Match(rule, c, ec); res.BaseScore != 0 {
		t.Errorf("sunday should not match Monday, got %.2f", res.BaseScore)
	}
}

func TestSpeedBounds(t *testing.T) {
	c, ec := commuteContext(t) // 45 km/h
	matcher := testMatcher()

	hit := &pkg.Rule{ID: 8, Name: "s", TriggerCondition: map[string]interface{}{"min_speed": 30.0, "max_speed": 60.0}}
	if res := matcher.Match(hit, c, ec); res.BaseScore != 1.0 {
		t.Errorf("45 km/h should satisfy [30,60], got %.2f", res.BaseScore)
	}

	miss := &pkg.Rule{ID: 9, Name: "s", TriggerCondition: map[string]interface{}{"max_speed": 30.0}}
	if res := matcher.Match(miss, c, ec); res.BaseScore != 0 {
		t.Errorf("45 km/h should fail max_speed 30, got %.2f", res.BaseScore)
	}
}

func TestRawFieldConditions(t *testing.T) {
	ts, _ := time.Parse(time.RFC3339, "2025-12-01T19:00:00Z")
	c := &pkg.Context{
		Timestamp:      ts,
		Activity:       pkg.ActivityStill,
		WifiSSID:       "HomeWiFi",
		LocationVector: "home",
		Extras:         map[string]interface{}{"charging": true, "battery": 80},
	}
	ec := extract.Extract(c)

	rule := &pkg.Rule{
		ID:   10,
		Name: "wind down",
		TriggerCondition: map[string]interface{}{
			"activity_type":     "STILL",
			"wifi_ssid":         "HomeWiFi",
			"location_vector":   "home",
			"location_category": "HOME",
			"is_weekday":        true,
			"extras.charging":   true,
			"extras.battery":    float64(80),
		},
	}

	res := testMatcher().Match(rule, c, ec)
	if res.BaseScore != 1.0 {
		t.Errorf("expected full match, got %.2f (%v)", res.BaseScore, res.MatchedConditions)
	}
}
