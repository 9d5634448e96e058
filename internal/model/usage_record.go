package model

import "time"

// Outcome is the result of a PAC fetch.
type Outcome string

const (
	OutcomeServed Outcome = "served"
	OutcomeDenied Outcome = "denied"
)

// UsageRecord is one PAC fetch, successful or not. Append-only.
type UsageRecord struct {
	ID        string    `json:"id"`
	DeviceID  *string   `json:"device_id,omitempty"`
	IP        string    `json:"ip"`
	UserAgent *string   `json:"user_agent,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageStats aggregates usage records for the monitoring dashboard.
type UsageStats struct {
	Served     int64            `json:"served"`
	Denied     int64            `json:"denied"`
	ByReason   map[string]int64 `json:"by_reason"`
	TopDevices []DeviceCount    `json:"top_devices"`
	Buckets    []TimeBucket     `json:"buckets"`
}

// DeviceCount is a per-device fetch count.
type DeviceCount struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Count    int64  `json:"count"`
}

// TimeBucket is a time-bucketed fetch count.
type TimeBucket struct {
	Bucket time.Time `json:"bucket"`
	Served int64     `json:"served"`
	Denied int64     `json:"denied"`
}
