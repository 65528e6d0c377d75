package history

import (
	"github.com/samber/lo"

	"github.com/psurma/claudit/internal/api"
)

type legacyLabel struct {
	old, canonical string
}

// legacyLabels maps earlier bucket names to the current vocabulary. Order
// decides which value survives when several legacy names collapse into one
// label: the earliest entry present wins.
var legacyLabels = []legacyLabel{
	{"five_hour", api.LabelSession},
	{"seven_day", api.LabelWeekAll},
	{"seven_day_sonnet", api.LabelWeekSonnet},
	{"seven_day_opus", api.LabelWeekOpus},
	{"5-Hour", api.LabelSession},
	{"7-Day", api.LabelWeekAll},
	{"7-Day Sonnet", api.LabelWeekSonnet},
	{"7-Day Opus", api.LabelWeekOpus},
	{"Session", api.LabelSession},
	{"Weekly", api.LabelWeekAll},
	{"Weekly (Sonnet)", api.LabelWeekSonnet},
	{"Weekly (Opus)", api.LabelWeekOpus},
}

// migrateLabels renames legacy keys in place. A canonical key already
// present keeps its value and the legacy duplicate is dropped.
// Returns the number of keys renamed or dropped.
func migrateLabels(buckets map[string]float64) int {
	present := lo.Filter(legacyLabels, func(l legacyLabel, _ int) bool {
		_, ok := buckets[l.old]
		return ok
	})
	for _, l := range present {
		v := buckets[l.old]
		delete(buckets, l.old)
		if _, exists := buckets[l.canonical]; !exists {
			buckets[l.canonical] = v
		}
	}
	return len(present)
}
