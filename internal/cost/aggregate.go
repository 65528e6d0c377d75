package cost

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const dateLayout = "2006-01-02"

// Data is the aggregated spend in currency units, rounded to cents.
type Data struct {
	Today float64 `json:"today"`
	Week  float64 `json:"week"`
	Month float64 `json:"month"`
}

// DailyEntry is one row of the daily report. Both fields may be absent.
type DailyEntry struct {
	Date      *string  `json:"date"`
	TotalCost *float64 `json:"totalCost"`
	// total_cost is accepted as an alias.
	TotalCostAlt *float64 `json:"total_cost"`
}

// Cost returns the row's cost, 0 when absent.
func (e DailyEntry) Cost() float64 {
	switch {
	case e.TotalCost != nil:
		return *e.TotalCost
	case e.TotalCostAlt != nil:
		return *e.TotalCostAlt
	}
	return 0
}

type dailyReport struct {
	Daily *[]DailyEntry `json:"daily"`
}

// ParseReport decodes a `daily --json` report.
func ParseReport(raw []byte) ([]DailyEntry, error) {
	var report dailyReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrParse, err, excerpt(raw))
	}
	if report.Daily == nil {
		return nil, fmt.Errorf("%w: missing field `daily`: %s", ErrParse, excerpt(raw))
	}
	return *report.Daily, nil
}

// Aggregate sums entries relative to the calendar day of today.
// Month covers every entry; week covers entries dated on or after
// today minus 7 days; today is the last entry dated today. Entries with a
// malformed date only count toward month.
func Aggregate(entries []DailyEntry, today time.Time) Data {
	todayStr := today.Format(dateLayout)
	weekAgo := today.AddDate(0, 0, -7).Format(dateLayout)

	var d Data
	for _, e := range entries {
		cost := e.Cost()
		d.Month += cost

		if e.Date == nil {
			continue
		}
		date, err := time.Parse(dateLayout, *e.Date)
		if err != nil {
			continue
		}
		if date.Format(dateLayout) >= weekAgo {
			d.Week += cost
		}
		if *e.Date == todayStr {
			d.Today = cost
		}
	}

	d.Today = round2(d.Today)
	d.Week = round2(d.Week)
	d.Month = round2(d.Month)
	return d
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func excerpt(raw []byte) string {
	s := string(raw)
	if r := []rune(s); len(r) > 200 {
		return string(r[:200])
	}
	return s
}
