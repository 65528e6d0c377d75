package orchestrator_test

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/psurma/claudit/internal/api"
	"github.com/psurma/claudit/internal/cost"
	"github.com/psurma/claudit/internal/history"
	"github.com/psurma/claudit/internal/orchestrator"
	"github.com/psurma/claudit/internal/testutil"
)

type fakeCost struct {
	data    cost.Data
	err     error
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeCost) Fetch(_ context.Context, cache *cost.Cache) (cost.Data, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return cost.Data{}, f.err
	}
	if cache != nil {
		cache.Set(f.data)
	}
	return f.data, nil
}

func setup(t *testing.T, ms *testutil.MockServer, costs orchestrator.CostFetcher, opts ...orchestrator.Option) (*orchestrator.Orchestrator, *history.Store, *cost.Cache) {
	t.Helper()
	logger := testutil.DiscardLogger()
	usage := api.NewUsageClient(logger, api.WithUsageBaseURL(ms.UsageURL()))
	store := history.New(t.TempDir(), logger, nil)
	cache := cost.NewCache()
	return orchestrator.New(usage, costs, cache, store, logger, opts...), store, cache
}

func TestRun_BothSucceed(t *testing.T) {
	ms := testutil.NewMockServer(t, testutil.WithToken("tok"))
	costs := &fakeCost{data: cost.Data{Today: 1, Week: 2, Month: 3}}
	o, store, cache := setup(t, ms, costs)

	res := o.Run(context.Background(), "tok", nil)

	if res.Usage == nil || res.UsageError != nil {
		t.Fatalf("expected usage, got error %v", deref(res.UsageError))
	}
	if res.Costs == nil || *res.Costs != costs.data || res.CostsError != nil {
		t.Fatalf("unexpected costs %+v / %v", res.Costs, deref(res.CostsError))
	}
	if len(res.UsageHistory) != 1 {
		t.Fatalf("expected the new snapshot in history, got %d", len(res.UsageHistory))
	}
	if got := res.UsageHistory[0].Buckets[api.LabelSession]; got != res.Usage.Limits[0].UsagePct {
		t.Errorf("snapshot session = %v, want %v", got, res.Usage.Limits[0].UsagePct)
	}
	if _, err := os.Stat(store.Path()); err != nil {
		t.Errorf("history document not written: %v", err)
	}
	if _, ok := cache.Get(); !ok {
		t.Error("cost cache should be populated")
	}
	if !regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`).MatchString(res.Timestamp) {
		t.Errorf("unexpected timestamp %q", res.Timestamp)
	}
}

func TestRun_UnauthorizedUsageStillReturnsCostsAndHistory(t *testing.T) {
	ms := testutil.NewMockServer(t)
	ms.SetError(http.StatusUnauthorized)
	costs := &fakeCost{data: cost.Data{Today: 5, Week: 15, Month: 15}}
	o, store, _ := setup(t, ms, costs)

	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	prior := `{"version":2,"snapshots":[{"timestamp":` + ts + `,"buckets":{"Current session":0.3}}]}`
	if err := os.WriteFile(store.Path(), []byte(prior), 0o600); err != nil {
		t.Fatal(err)
	}

	res := o.Run(context.Background(), "stale", nil)

	if res.Usage != nil {
		t.Error("usage should be nil")
	}
	if res.UsageError == nil || *res.UsageError != api.ErrUsageUnauthorized.Error() {
		t.Errorf("usage_error = %v, want %q", deref(res.UsageError), api.ErrUsageUnauthorized)
	}
	if res.Costs == nil || res.Costs.Month != 15 {
		t.Errorf("costs should be set, got %+v", res.Costs)
	}
	if len(res.UsageHistory) != 1 || res.UsageHistory[0].Buckets[api.LabelSession] != 0.3 {
		t.Errorf("history should reflect prior disk state, got %+v", res.UsageHistory)
	}

	after, _ := os.ReadFile(store.Path())
	if string(after) != prior {
		t.Error("failed usage must not append a snapshot")
	}
}

func TestRun_NoCredentialSkipsUsageFetch(t *testing.T) {
	ms := testutil.NewMockServer(t)
	o, _, _ := setup(t, ms, &fakeCost{})

	res := o.Run(context.Background(), "", api.ErrCredentialsNotFound)

	if res.UsageError == nil || *res.UsageError != api.ErrCredentialsNotFound.Error() {
		t.Errorf("usage_error = %v", deref(res.UsageError))
	}
	if ms.RequestCount() != 0 {
		t.Errorf("usage endpoint should not be called, got %d requests", ms.RequestCount())
	}
	if res.Costs == nil {
		t.Error("costs should still be fetched")
	}
	if res.UsageHistory == nil {
		t.Error("history should be an empty list, not nil")
	}
}

func TestRun_UsageTimeout(t *testing.T) {
	ms := testutil.NewMockServer(t, testutil.WithDelay(400*time.Millisecond))
	o, _, _ := setup(t, ms, &fakeCost{}, orchestrator.WithTimeouts(50*time.Millisecond, 0))

	start := time.Now()
	res := o.Run(context.Background(), "tok", nil)
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Errorf("run should return at the usage deadline, took %v", elapsed)
	}

	if res.UsageError == nil || *res.UsageError != "request timed out" {
		t.Errorf("usage_error = %v, want request timed out", deref(res.UsageError))
	}
	if res.Costs == nil {
		t.Error("costs should be unaffected by the usage timeout")
	}
}

func TestRun_AbandonedCostBranchStillFillsCache(t *testing.T) {
	ms := testutil.NewMockServer(t)
	costs := &fakeCost{data: cost.Data{Month: 42}, release: make(chan struct{})}
	o, _, cache := setup(t, ms, costs, orchestrator.WithTimeouts(0, 50*time.Millisecond))

	res := o.Run(context.Background(), "tok", nil)

	if res.CostsError == nil || *res.CostsError != orchestrator.ErrTimeout.Error() {
		t.Fatalf("costs_error = %v, want timeout", deref(res.CostsError))
	}
	if res.Usage == nil {
		t.Error("usage should succeed")
	}
	if _, ok := cache.Get(); ok {
		t.Fatal("cache should still be empty while the branch is blocked")
	}

	close(costs.release)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, ok := cache.Get(); ok {
			if data.Month != 42 {
				t.Errorf("late result = %+v", data)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("late cost result never reached the cache")
}

func TestCosts_Error(t *testing.T) {
	ms := testutil.NewMockServer(t)
	o, _, _ := setup(t, ms, &fakeCost{err: cost.ErrNotFound})

	res := o.Costs(context.Background())
	if res.Costs != nil {
		t.Error("costs should be nil")
	}
	if res.CostsError == nil || *res.CostsError != cost.ErrNotFound.Error() {
		t.Errorf("costs_error = %v", deref(res.CostsError))
	}
}

func TestCosts_Success(t *testing.T) {
	ms := testutil.NewMockServer(t)
	o, _, _ := setup(t, ms, &fakeCost{data: cost.Data{Today: 0.5}})

	res := o.Costs(context.Background())
	if res.Costs == nil || res.Costs.Today != 0.5 || res.CostsError != nil {
		t.Errorf("unexpected result %+v", res)
	}
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}
