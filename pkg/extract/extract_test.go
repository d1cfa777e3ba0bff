package extract

import (
	"reflect"
	"testing"
	"time"

	"github.com/suggestd/suggestd/pkg"
)

func ts(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}

func TestMorningCommute(t *testing.T) {
	ec := Extract(&pkg.Context{
		Timestamp:             ts("2025-12-01T08:30:00Z"), // Monday
		Activity:              pkg.ActivityInVehicle,
		SpeedKmh:              45.0,
		CarBluetoothConnected: true,
		LocationVector:        "leaving_home",
	})

	if ec.LocationCategory != pkg.LocationCommute {
		t.Errorf("expected COMMUTE, got %s", ec.LocationCategory)
	}
	if ec.ActivityState != pkg.StateTraveling {
		t.Errorf("expected TRAVELING, got %s", ec.ActivityState)
	}
	if ec.TimeOfDay != pkg.TimeMorning {
		t.Errorf("expected morning, got %s", ec.TimeOfDay)
	}
	if !ec.IsWeekday || ec.DayOfWeek != 1 {
		t.Errorf("expected Monday weekday, got day=%d weekday=%v", ec.DayOfWeek, ec.IsWeekday)
	}
	if ec.ContextKey() != "traveling_morning_weekday_commute" {
		t.Errorf("unexpected context key %q", ec.ContextKey())
	}
}

func TestTimeOfDayBuckets(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{0, pkg.TimeMorning},
		{11, pkg.TimeMorning},
		{12, pkg.TimeAfternoon},
		{16, pkg.TimeAfternoon},
		{17, pkg.TimeEvening},
		{20, pkg.TimeEvening},
		{21, pkg.TimeNight},
		{23, pkg.TimeNight},
	}

	for _, tc := range cases {
		got := timeOfDay(tc.hour)
		if got != tc.want {
			t.Errorf("hour %d: expected %s, got %s", tc.hour, tc.want, got)
		}
	}
}

func TestActivityStateMapping(t *testing.T) {
	cases := map[string]string{
		pkg.ActivityStill:     pkg.StateStationary,
		pkg.ActivityWalking:   pkg.StateWalking,
		pkg.ActivityRunning:   pkg.StateWalking,
		pkg.ActivityOnFoot:    pkg.StateWalking,
		pkg.ActivityInVehicle: pkg.StateTraveling,
		pkg.ActivityOnBicycle: pkg.StateTraveling,
		pkg.ActivityUnknown:   pkg.StateUnknown,
	}

	for raw, want := range cases {
		ec := Extract(&pkg.Context{Timestamp: ts("2025-12-01T08:30:00Z"), Activity: raw})
		if ec.ActivityState != want {
			t.Errorf("%s: expected %s, got %s", raw, want, ec.ActivityState)
		}
	}
}

func TestLocationRulesInOrder(t *testing.T) {
	base := ts("2025-12-01T08:30:00Z")

	cases := []struct {
		name string
		ctx  pkg.Context
		want string
	}{
		{
			"commute wins at speed",
			pkg.Context{Activity: pkg.ActivityInVehicle, SpeedKmh: 45, CarBluetoothConnected: true},
			pkg.LocationCommute,
		},
		{
			"home wifi",
			pkg.Context{Activity: pkg.ActivityStill, SpeedKmh: 0, WifiSSID: "HomeWiFi"},
			pkg.LocationHome,
		},
		{
			"home wifi case insensitive",
			pkg.Context{Activity: pkg.ActivityStill, SpeedKmh: 0, WifiSSID: "my-HOME-net"},
			pkg.LocationHome,
		},
		{
			"office wifi",
			pkg.Context{Activity: pkg.ActivityStill, SpeedKmh: 1, WifiSSID: "OfficeWiFi"},
			pkg.LocationWork,
		},
		{
			"work keyword wifi",
			pkg.Context{Activity: pkg.ActivityStill, SpeedKmh: 1, WifiSSID: "workplace5G"},
			pkg.LocationWork,
		},
		{
			"campus wifi",
			pkg.Context{Activity: pkg.ActivityStill, SpeedKmh: 0, WifiSSID: "university-guest"},
			pkg.LocationCampus,
		},
		{
			"walking off wifi",
			pkg.Context{Activity: pkg.ActivityWalking, SpeedKmh: 4},
			pkg.LocationNearHome,
		},
		{
			"parked vehicle",
			pkg.Context{Activity: pkg.ActivityStill, SpeedKmh: 0, CarBluetoothConnected: true},
			pkg.LocationInParkedVehicle,
		},
		{
			"no signals",
			pkg.Context{Activity: pkg.ActivityStill, SpeedKmh: 0},
			pkg.LocationUnknown,
		},
		{
			"fast without car bluetooth is not commute",
			pkg.Context{Activity: pkg.ActivityInVehicle, SpeedKmh: 45},
			pkg.LocationUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.ctx.Timestamp = base
			ec := Extract(&tc.ctx)
			if ec.LocationCategory != tc.want {
				t.Errorf("expected %s, got %s", tc.want, ec.LocationCategory)
			}
		})
	}
}

func TestConfidenceScore(t *testing.T) {
	full := Extract(&pkg.Context{
		Timestamp:      ts("2025-12-01T08:30:00Z"),
		Activity:       pkg.ActivityStill,
		WifiSSID:       "HomeWiFi",
		LocationVector: "home",
	})
	if full.ConfidenceScore != 1.0 {
		t.Errorf("all signals present: expected 1.0, got %.2f", full.ConfidenceScore)
	}

	// Unknown activity, no connectivity, no location vector: three penalties
	bare := Extract(&pkg.Context{Timestamp: ts("2025-12-01T08:30:00Z"), Activity: pkg.ActivityUnknown})
	if bare.ConfidenceScore < 0.39 || bare.ConfidenceScore > 0.41 {
		t.Errorf("expected 0.4 after three penalties, got %.2f", bare.ConfidenceScore)
	}

	// Car bluetooth substitutes for wifi as a connectivity signal
	car := Extract(&pkg.Context{
		Timestamp:             ts("2025-12-01T08:30:00Z"),
		Activity:              pkg.ActivityStill,
		CarBluetoothConnected: true,
		LocationVector:        "home",
	})
	if car.ConfidenceScore != 1.0 {
		t.Errorf("expected 1.0 with car bluetooth, got %.2f", car.ConfidenceScore)
	}

	for _, ec := range []*pkg.ExtractedContext{full, bare, car} {
		if ec.ConfidenceScore < 0 || ec.ConfidenceScore > 1 {
			t.Errorf("confidence out of bounds: %.2f", ec.ConfidenceScore)
		}
	}
}

func TestExtractionIdempotent(t *testing.T) {
	c := &pkg.Context{
		Timestamp:             ts("2025-12-01T08:30:00Z"),
		Activity:              pkg.ActivityInVehicle,
		SpeedKmh:              45.0,
		CarBluetoothConnected: true,
		LocationVector:        "leaving_home",
	}

	first := Extract(c)
	second := Extract(c)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("extraction not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestContextKeyIgnoresSpeedAndExactTime(t *testing.T) {
	a := Extract(&pkg.Context{
		Timestamp:             ts("2025-12-01T08:05:00Z"),
		Activity:              pkg.ActivityInVehicle,
		SpeedKmh:              30.0,
		CarBluetoothConnected: true,
	})
	b := Extract(&pkg.Context{
		Timestamp:             ts("2025-12-08T11:55:00Z"), // different Monday, still morning
		Activity:              pkg.ActivityInVehicle,
		SpeedKmh:              95.0,
		CarBluetoothConnected: true,
	})

	if a.ContextKey() != b.ContextKey() {
		t.Errorf("context keys differ: %q vs %q", a.ContextKey(), b.ContextKey())
	}
}
