// Package extract normalizes raw sensor snapshots into categorical context features
package extract

import (
	"strings"
	"time"

	"github.com/suggestd/suggestd/pkg"
)

// Speed thresholds (km/h) for location inference
const (
	vehicleSpeedKmh    = 10.0
	stationarySpeedKmh = 5.0
)

const confidencePenalty = 0.2

// Extract converts a raw context into its categorical form. Pure function:
// identical inputs always produce identical outputs.
func Extract(c *pkg.Context) *pkg.ExtractedContext {
	ts := c.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	activity := strings.ToUpper(strings.TrimSpace(c.Activity))
	if activity == "" {
		activity = pkg.ActivityUnknown
	}

	dayOfWeek := int(ts.Weekday())
	if dayOfWeek == 0 {
		dayOfWeek = 7 // ISO numbering, Sunday last
	}

	ec := &pkg.ExtractedContext{
		Timestamp:        ts,
		TimeOfDay:        timeOfDay(ts.Hour()),
		DayOfWeek:        dayOfWeek,
		IsWeekday:        dayOfWeek <= 5,
		ActivityState:    activityState(activity),
		LocationCategory: locationCategory(c, activity),
		CarConnected:     c.CarBluetoothConnected,
		WifiSSID:         c.WifiSSID,
		SpeedKmh:         c.SpeedKmh,
	}
	ec.ConfidenceScore = confidence(c, activity)

	return ec
}

// timeOfDay buckets an hour into morning/afternoon/evening/night
func timeOfDay(hour int) string {
	switch {
	case hour < 12:
		return pkg.TimeMorning
	case hour < 17:
		return pkg.TimeAfternoon
	case hour < 21:
		return pkg.TimeEvening
	default:
		return pkg.TimeNight
	}
}

// activityState collapses the raw activity vocabulary into four states
func activityState(activity string) string {
	switch activity {
	case pkg.ActivityStill:
		return pkg.StateStationary
	case pkg.ActivityWalking, pkg.ActivityRunning, pkg.ActivityOnFoot:
		return pkg.StateWalking
	case pkg.ActivityInVehicle, pkg.ActivityOnBicycle:
		return pkg.StateTraveling
	default:
		return pkg.StateUnknown
	}
}

// locationCategory applies the ordered inference rules; first match wins
func locationCategory(c *pkg.Context, activity string) string {
	ssid := strings.ToLower(c.WifiSSID)

	switch {
	case c.SpeedKmh > vehicleSpeedKmh && c.CarBluetoothConnected && activity == pkg.ActivityInVehicle:
		return pkg.LocationCommute
	case c.SpeedKmh < stationarySpeedKmh && strings.Contains(ssid, "home"):
		return pkg.LocationHome
	case c.SpeedKmh < stationarySpeedKmh && (strings.Contains(ssid, "office") || strings.Contains(ssid, "work")):
		return pkg.LocationWork
	case c.SpeedKmh < stationarySpeedKmh && (strings.Contains(ssid, "campus") || strings.Contains(ssid, "university")):
		return pkg.LocationCampus
	case c.SpeedKmh > 0 && c.SpeedKmh < vehicleSpeedKmh && activity == pkg.ActivityWalking && c.WifiSSID == "":
		return pkg.LocationNearHome
	case c.SpeedKmh < stationarySpeedKmh && c.CarBluetoothConnected && activity == pkg.ActivityStill:
		return pkg.LocationInParkedVehicle
	default:
		return pkg.LocationUnknown
	}
}

// confidence scores data quality: 1.0 minus a fixed penalty per missing primary signal
func confidence(c *pkg.Context, activity string) float64 {
	score := 1.0
	if activity == pkg.ActivityUnknown {
		score -= confidencePenalty
	}
	if c.WifiSSID == "" && !c.CarBluetoothConnected {
		score -= confidencePenalty
	}
	if c.LocationVector == "" {
		score -= confidencePenalty
	}
	if score < 0 {
		score = 0
	}
	return score
}
