package util

import (
	"testing"
	"time"
)

func TestPickRandom(t *testing.T) {
	if got := PickRandom(nil); got != "" {
		t.Errorf("PickRandom(nil) = %q, want empty", got)
	}
	if got := PickRandom([]string{"solo"}); got != "solo" {
		t.Errorf("PickRandom(single) = %q, want %q", got, "solo")
	}

	options := []string{"a", "b", "c"}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		got := PickRandom(options)
		if got != "a" && got != "b" && got != "c" {
			t.Fatalf("PickRandom returned value outside options: %q", got)
		}
		seen[got] = true
	}
	if len(seen) < 2 {
		t.Error("PickRandom never varied across 100 draws")
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("SALESBOT_TEST_INT", "42")
	if got := ParseIntEnv("SALESBOT_TEST_INT", 7); got != 42 {
		t.Errorf("ParseIntEnv = %d, want 42", got)
	}
	t.Setenv("SALESBOT_TEST_INT", "not a number")
	if got := ParseIntEnv("SALESBOT_TEST_INT", 7); got != 7 {
		t.Errorf("ParseIntEnv invalid = %d, want default 7", got)
	}
	if got := ParseIntEnv("SALESBOT_TEST_INT_UNSET", 7); got != 7 {
		t.Errorf("ParseIntEnv unset = %d, want default 7", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("SALESBOT_TEST_DUR", "90s")
	if got := ParseDurationEnv("SALESBOT_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("ParseDurationEnv = %v, want 90s", got)
	}
	t.Setenv("SALESBOT_TEST_DUR", "soon")
	if got := ParseDurationEnv("SALESBOT_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("ParseDurationEnv invalid = %v, want default 1m", got)
	}
}
