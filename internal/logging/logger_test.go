package logging

import (
	"testing"
	"time"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", ""} {
		if _, err := New(level, "console"); err != nil {
			t.Errorf("New(%q) returned error: %v", level, err)
		}
	}
	if _, err := New("loud", "console"); err == nil {
		t.Error("New with unknown level should fail")
	}
}

func TestNewJSONFormat(t *testing.T) {
	logger, err := New("info", "json")
	if err != nil {
		t.Fatalf("New json: %v", err)
	}
	logger.Info("structured entry")
}

func TestTimerStop(t *testing.T) {
	timer := StartTimer(Nop(), "test-op", time.Hour)
	if elapsed := timer.Stop(); elapsed < 0 {
		t.Errorf("negative elapsed time %v", elapsed)
	}
}
