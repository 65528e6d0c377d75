package cost

import (
	"sync"
	"testing"
	"time"
)

func TestCache_EmptyMisses(t *testing.T) {
	c := NewCache()
	if _, ok := c.Get(); ok {
		t.Fatal("empty cache should miss")
	}
}

func TestCache_TTLBoundary(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	c := NewCache()
	c.now = func() time.Time { return clock }

	want := Data{Today: 1.5, Week: 10, Month: 40}
	c.Set(want)

	tests := []struct {
		name    string
		elapsed time.Duration
		hit     bool
	}{
		{"at capture", 0, true},
		{"just before ttl", CacheTTL - time.Millisecond, true},
		{"at ttl", CacheTTL, false},
		{"after ttl", CacheTTL + time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock = base.Add(tt.elapsed)
			got, ok := c.Get()
			if ok != tt.hit {
				t.Fatalf("hit = %v, want %v", ok, tt.hit)
			}
			if ok && got != want {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestCache_SetOverwrites(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	c := NewCache()
	c.now = func() time.Time { return clock }

	c.Set(Data{Today: 1})
	clock = base.Add(299 * time.Second)
	c.Set(Data{Today: 2})
	clock = base.Add(400 * time.Second)

	got, ok := c.Get()
	if !ok || got.Today != 2 {
		t.Errorf("expected refreshed entry, got %+v ok=%v", got, ok)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Set(Data{Month: float64(i)})
		}()
		go func() {
			defer wg.Done()
			c.Get()
		}()
	}
	wg.Wait()
	if _, ok := c.Get(); !ok {
		t.Error("expected a cached value after concurrent sets")
	}
}
