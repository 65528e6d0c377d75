package api

// Canonical bucket labels shown in the panel and persisted in history.
const (
	LabelSession      = "Current session"
	LabelWeekAll      = "Current week (all models)"
	LabelWeekSonnet   = "Current week (Sonnet only)"
	LabelWeekOpus     = "Current week (Opus only)"
	defaultUserAgent  = "claudit/1.0"
	anthropicBetaFlag = "oauth-2025-04-20"
)

// usageBucket is a single named bucket in the usage response.
// Utilization is nil when the bucket is not applicable to the account.
type usageBucket struct {
	Utilization *float64 `json:"utilization"`
	ResetsAt    *string  `json:"resets_at"`
}

type usageMembership struct {
	Tier     *string `json:"tier"`
	PlanName *string `json:"plan_name"`
}

type usageExtra struct {
	IsEnabled    *bool    `json:"is_enabled"`
	MonthlyLimit *float64 `json:"monthly_limit"`
	UsedCredits  *float64 `json:"used_credits"`
	Utilization  *float64 `json:"utilization"`
}

// usageResponse is the raw body of the OAuth usage endpoint.
type usageResponse struct {
	FiveHour       *usageBucket     `json:"five_hour"`
	SevenDay       *usageBucket     `json:"seven_day"`
	SevenDayOpus   *usageBucket     `json:"seven_day_opus"`
	SevenDaySonnet *usageBucket     `json:"seven_day_sonnet"`
	ExtraUsage     *usageExtra      `json:"extra_usage"`
	Tier           *string          `json:"tier"`
	Plan           *string          `json:"plan"`
	Membership     *usageMembership `json:"membership"`
}

// UsageLimit is one normalized bucket. UsagePct is on a 0-1 scale.
type UsageLimit struct {
	Label    string  `json:"label"`
	UsagePct float64 `json:"usage_pct"`
	ResetAt  *string `json:"reset_at"`
}

// ExtraUsageInfo describes overage billing. Only present when enabled upstream.
type ExtraUsageInfo struct {
	Enabled      bool    `json:"enabled"`
	MonthlyLimit float64 `json:"monthly_limit"`
	UsedCredits  float64 `json:"used_credits"`
	Utilization  float64 `json:"utilization"`
}

// UsageData is the result of one usage fetch.
type UsageData struct {
	Limits     []UsageLimit    `json:"limits"`
	ExtraUsage *ExtraUsageInfo `json:"extra_usage"`
	Plan       *string         `json:"plan"`
}

// Limit returns the limit with the given label, if present.
func (d *UsageData) Limit(label string) (UsageLimit, bool) {
	if d == nil {
		return UsageLimit{}, false
	}
	for _, l := range d.Limits {
		if l.Label == label {
			return l, true
		}
	}
	return UsageLimit{}, false
}

// Buckets returns label -> usage_pct for every limit.
func (d *UsageData) Buckets() map[string]float64 {
	if d == nil {
		return map[string]float64{}
	}
	buckets := make(map[string]float64, len(d.Limits))
	for _, l := range d.Limits {
		buckets[l.Label] = l.UsagePct
	}
	return buckets
}

// normalize converts the raw response into UsageData. Bucket order is fixed.
func (r *usageResponse) normalize() *UsageData {
	data := &UsageData{Limits: []UsageLimit{}}

	for _, b := range []struct {
		bucket *usageBucket
		label  string
	}{
		{r.FiveHour, LabelSession},
		{r.SevenDay, LabelWeekAll},
		{r.SevenDaySonnet, LabelWeekSonnet},
		{r.SevenDayOpus, LabelWeekOpus},
	} {
		if b.bucket == nil || b.bucket.Utilization == nil {
			continue
		}
		data.Limits = append(data.Limits, UsageLimit{
			Label:    b.label,
			UsagePct: *b.bucket.Utilization / 100,
			ResetAt:  b.bucket.ResetsAt,
		})
	}

	if eu := r.ExtraUsage; eu != nil && eu.IsEnabled != nil && *eu.IsEnabled {
		// monthly_limit and used_credits arrive in cents
		data.ExtraUsage = &ExtraUsageInfo{
			Enabled:      true,
			MonthlyLimit: valueOr(eu.MonthlyLimit) / 100,
			UsedCredits:  valueOr(eu.UsedCredits) / 100,
			Utilization:  valueOr(eu.Utilization) / 100,
		}
	}

	data.Plan = r.planLabel()
	return data
}

func (r *usageResponse) planLabel() *string {
	candidates := []*string{r.Plan, r.Tier}
	if r.Membership != nil {
		candidates = append(candidates, r.Membership.PlanName, r.Membership.Tier)
	}
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func valueOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
