package cost

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func entry(date string, cost float64) DailyEntry {
	return DailyEntry{Date: &date, TotalCost: &cost}
}

func TestAggregate_Example(t *testing.T) {
	today := time.Date(2024, 1, 2, 15, 0, 0, 0, time.Local)
	got := Aggregate([]DailyEntry{entry("2024-01-01", 10.0), entry("2024-01-02", 5.0)}, today)

	want := Data{Today: 5.00, Week: 15.00, Month: 15.00}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestAggregate_MalformedDateCountsTowardMonthOnly(t *testing.T) {
	today := time.Date(2024, 1, 2, 9, 0, 0, 0, time.Local)
	got := Aggregate([]DailyEntry{
		entry("2024-01-02", 5.0),
		entry("Jan 2nd", 3.0),
		entry("2024-1-2", 2.0),
		{TotalCost: ptr(1.0)},
	}, today)

	if got.Month != 11.0 {
		t.Errorf("month = %v, want 11", got.Month)
	}
	if got.Week != 5.0 {
		t.Errorf("week = %v, want 5", got.Week)
	}
	if got.Today != 5.0 {
		t.Errorf("today = %v, want 5", got.Today)
	}
}

func TestAggregate_WeekBoundary(t *testing.T) {
	today := time.Date(2024, 3, 10, 0, 30, 0, 0, time.Local)
	got := Aggregate([]DailyEntry{
		entry("2024-03-02", 100), // 8 days ago
		entry("2024-03-03", 10),  // exactly 7 days ago
		entry("2024-03-09", 1),
	}, today)

	if got.Week != 11 {
		t.Errorf("week = %v, want 11", got.Week)
	}
	if got.Month != 111 {
		t.Errorf("month = %v, want 111", got.Month)
	}
	if got.Today != 0 {
		t.Errorf("today = %v, want 0", got.Today)
	}
}

func TestAggregate_DuplicateTodayLastWins(t *testing.T) {
	today := time.Date(2024, 1, 2, 12, 0, 0, 0, time.Local)
	got := Aggregate([]DailyEntry{entry("2024-01-02", 4), entry("2024-01-02", 7)}, today)
	if got.Today != 7 {
		t.Errorf("today = %v, want 7", got.Today)
	}
	if got.Month != 11 {
		t.Errorf("month = %v, want 11", got.Month)
	}
}

func TestAggregate_Rounding(t *testing.T) {
	today := time.Date(2024, 1, 2, 12, 0, 0, 0, time.Local)
	got := Aggregate([]DailyEntry{entry("2024-01-02", 1.005001), entry("2024-01-01", 2.3333)}, today)
	if got.Today != 1.01 {
		t.Errorf("today = %v, want 1.01", got.Today)
	}
	if got.Month != 3.34 {
		t.Errorf("month = %v, want 3.34", got.Month)
	}
	if round2(-1.255001) != -1.26 {
		t.Errorf("negative values should round away from zero, got %v", round2(-1.255001))
	}
}

func TestParseReport(t *testing.T) {
	entries, err := ParseReport([]byte(`{"daily":[{"date":"2024-01-01","totalCost":1.5},{"date":"2024-01-02","total_cost":2}]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 || entries[0].Cost() != 1.5 || entries[1].Cost() != 2 {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestParseReport_Errors(t *testing.T) {
	long := strings.Repeat("x", 500)
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", long},
		{"missing daily", `{"totals":{}}`},
		{"wrong type", `{"daily":"nope"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReport([]byte(tt.raw))
			if !errors.Is(err, ErrParse) {
				t.Fatalf("expected ErrParse, got %v", err)
			}
			if strings.Contains(err.Error(), strings.Repeat("x", 201)) {
				t.Error("excerpt should be truncated to 200 characters")
			}
		})
	}
}

func ptr(f float64) *float64 { return &f }
