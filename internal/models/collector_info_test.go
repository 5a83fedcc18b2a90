// internal/models/collector_info_test.go
package models

import (
	"testing"
	"time"
)

func TestNewCollectorInfo(t *testing.T) {
	info := NewCollectorInfo(SourceWeather, "Manhattan,New York,USA", "weatherapi", "v1.0.0", "run-1")

	if info == nil {
		t.Fatal("NewCollectorInfo returned nil")
	}
	if info.Source != SourceWeather {
		t.Errorf("Source = %v, want %v", info.Source, SourceWeather)
	}
	if info.StartTime.IsZero() {
		t.Error("StartTime should not be zero")
	}
}

func TestCollectorInfo_Uptime(t *testing.T) {
	info := &CollectorInfo{StartTime: time.Now().Add(-1 * time.Hour)}

	uptime := info.Uptime()
	if uptime < 59*time.Minute || uptime > 61*time.Minute {
		t.Errorf("Uptime = %v, expected approximately 1 hour", uptime)
	}
}
