package testutil

import (
	"encoding/json"
	"time"
)

// --- Usage endpoint fixtures ---

type bucketJSON struct {
	Utilization *float64 `json:"utilization"`
	ResetsAt    *string  `json:"resets_at"`
}

// UsageResponseJSON returns a usage endpoint body with session, weekly and
// Sonnet weekly buckets, plus disabled extra usage.
func UsageResponseJSON(fiveHour, sevenDay, sevenDaySonnet float64, fiveHourReset, sevenDayReset time.Time) string {
	resp := map[string]any{
		"five_hour": bucketJSON{
			Utilization: &fiveHour,
			ResetsAt:    strPtr(fiveHourReset.Format(time.RFC3339)),
		},
		"seven_day": bucketJSON{
			Utilization: &sevenDay,
			ResetsAt:    strPtr(sevenDayReset.Format(time.RFC3339)),
		},
		"seven_day_sonnet": bucketJSON{
			Utilization: &sevenDaySonnet,
			ResetsAt:    strPtr(sevenDayReset.Format(time.RFC3339)),
		},
		"seven_day_opus": bucketJSON{},
		"extra_usage": map[string]any{
			"is_enabled":    false,
			"monthly_limit": nil,
			"used_credits":  nil,
			"utilization":   nil,
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

// DefaultUsageResponse returns a typical response with moderate usage.
func DefaultUsageResponse() string {
	now := time.Now().UTC()
	return UsageResponseJSON(45.2, 12.8, 5.1, now.Add(3*time.Hour), now.Add(5*24*time.Hour))
}

// UsageResponseWithExtras returns a response carrying enabled overage billing
// and plan/membership fields.
func UsageResponseWithExtras() string {
	return `{
		"five_hour": {"utilization": 20, "resets_at": "2025-06-01T15:00:00Z"},
		"seven_day": {"utilization": 50, "resets_at": "2025-06-05T00:00:00Z"},
		"seven_day_opus": {"utilization": 75.5, "resets_at": "2025-06-05T00:00:00Z"},
		"extra_usage": {"is_enabled": true, "monthly_limit": 5000, "used_credits": 1250, "utilization": 25},
		"membership": {"tier": "default_claude_max_5x", "plan_name": "Max"}
	}`
}

// --- ccusage fixtures ---

// DailyEntry is one row of a ccusage daily report.
type DailyEntry struct {
	Date      string  `json:"date"`
	TotalCost float64 `json:"totalCost"`
}

// CcusageReportJSON returns a ccusage `daily --json` report.
func CcusageReportJSON(entries ...DailyEntry) string {
	if entries == nil {
		entries = []DailyEntry{}
	}
	data, _ := json.Marshal(map[string]any{
		"daily":  entries,
		"totals": map[string]any{"totalCost": 0},
	})
	return string(data)
}

func strPtr(s string) *string { return &s }
