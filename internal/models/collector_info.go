package models

import "time"

// CollectorInfo contains metadata about a running collector process
type CollectorInfo struct {
	Source    Source    `json:"source"`
	Location  string    `json:"location"`
	Device    string    `json:"device"`
	Version   string    `json:"version"`
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`
}

// Uptime returns the duration since the collector started
func (c *CollectorInfo) Uptime() time.Duration {
	return time.Since(c.StartTime)
}

// NewCollectorInfo creates a new CollectorInfo with the current time as start time
func NewCollectorInfo(source Source, location, device, version, runID string) *CollectorInfo {
	return &CollectorInfo{
		Source:    source,
		Location:  location,
		Device:    device,
		Version:   version,
		RunID:     runID,
		StartTime: time.Now(),
	}
}
