package history

import "testing"

func TestMigrateLabels(t *testing.T) {
	tests := []struct {
		name    string
		in      map[string]float64
		want    map[string]float64
		changed int
	}{
		{
			name:    "raw upstream keys",
			in:      map[string]float64{"five_hour": 0.1, "seven_day_sonnet": 0.2},
			want:    map[string]float64{"Current session": 0.1, "Current week (Sonnet only)": 0.2},
			changed: 2,
		},
		{
			name:    "short display names",
			in:      map[string]float64{"Weekly": 0.3, "7-Day Opus": 0.4},
			want:    map[string]float64{"Current week (all models)": 0.3, "Current week (Opus only)": 0.4},
			changed: 2,
		},
		{
			name:    "already canonical",
			in:      map[string]float64{"Current session": 0.5},
			want:    map[string]float64{"Current session": 0.5},
			changed: 0,
		},
		{
			name:    "unknown keys untouched",
			in:      map[string]float64{"mystery": 0.6},
			want:    map[string]float64{"mystery": 0.6},
			changed: 0,
		},
		{
			name:    "canonical wins over legacy",
			in:      map[string]float64{"5-Hour": 0.7, "Current session": 0.2},
			want:    map[string]float64{"Current session": 0.2},
			changed: 1,
		},
		{
			name:    "colliding legacy names keep the earliest",
			in:      map[string]float64{"five_hour": 0.1, "5-Hour": 0.2, "Session": 0.3},
			want:    map[string]float64{"Current session": 0.1},
			changed: 3,
		},
		{
			name:    "7-Day precedes Weekly",
			in:      map[string]float64{"Weekly": 0.4, "7-Day": 0.5},
			want:    map[string]float64{"Current week (all models)": 0.5},
			changed: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if n := migrateLabels(tt.in); n != tt.changed {
				t.Errorf("changed = %d, want %d", n, tt.changed)
			}
			if len(tt.in) != len(tt.want) {
				t.Fatalf("got %v, want %v", tt.in, tt.want)
			}
			for k, v := range tt.want {
				if got, ok := tt.in[k]; !ok || got != v {
					t.Errorf("%s = %v (present=%v), want %v", k, got, ok, v)
				}
			}
		})
	}
}

func TestMigrateLabels_Deterministic(t *testing.T) {
	for i := 0; i < 50; i++ {
		buckets := map[string]float64{"five_hour": 0.1, "5-Hour": 0.2, "Session": 0.3, "7-Day Opus": 0.4, "seven_day_opus": 0.5}
		migrateLabels(buckets)
		if got := buckets["Current session"]; got != 0.1 {
			t.Fatalf("run %d: Current session = %v, want 0.1", i, got)
		}
		if got := buckets["Current week (Opus only)"]; got != 0.5 {
			t.Fatalf("run %d: Current week (Opus only) = %v, want 0.5", i, got)
		}
	}
}
