package timeutil

import (
	"testing"
	"time"
)

// at builds an instant at the given local (UTC-3) hour.
func at(hour int) time.Time {
	return time.Date(2025, 6, 10, hour, 30, 0, 0, ZoneAR)
}

func TestIsBusinessHours(t *testing.T) {
	tests := []struct {
		hour int
		want bool
	}{
		{8, false},
		{9, true},
		{14, true},
		{20, true},
		{21, false},
		{23, false},
		{3, false},
	}
	for _, tt := range tests {
		if got := IsBusinessHours(at(tt.hour)); got != tt.want {
			t.Errorf("IsBusinessHours(%02d:30) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestIsDeepNight(t *testing.T) {
	tests := []struct {
		hour int
		want bool
	}{
		{0, true},
		{3, true},
		{6, true},
		{7, false},
		{12, false},
		{23, false},
	}
	for _, tt := range tests {
		if got := IsDeepNight(at(tt.hour)); got != tt.want {
			t.Errorf("IsDeepNight(%02d:30) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestHostTimezoneIndependence(t *testing.T) {
	// 13:00 UTC is 10:00 in UTC-3: business hours regardless of how the
	// instant is expressed.
	utc := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)
	if !IsBusinessHours(utc) {
		t.Error("13:00 UTC should be business hours in UTC-3")
	}
	tokyo := time.FixedZone("JST", 9*60*60)
	if !IsBusinessHours(utc.In(tokyo)) {
		t.Error("same instant in another zone must give the same answer")
	}
}

func TestResponseDelayTiers(t *testing.T) {
	if d := ResponseDelay(at(14)); d != 4*time.Second {
		t.Errorf("business-hours delay = %v", d)
	}
	if d := ResponseDelay(at(22)); d != 15*time.Second {
		t.Errorf("evening delay = %v", d)
	}
	if d := ResponseDelay(at(3)); d != 45*time.Second {
		t.Errorf("deep-night delay = %v", d)
	}
}
