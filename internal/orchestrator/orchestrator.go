// Package orchestrator fetches usage and cost concurrently and merges them
// with the persisted history into one renderable result.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/psurma/claudit/internal/api"
	"github.com/psurma/claudit/internal/cost"
	"github.com/psurma/claudit/internal/history"
	"github.com/psurma/claudit/internal/metrics"
)

// ErrTimeout is reported for a branch that missed its deadline.
var ErrTimeout = errors.New("request timed out")

// Default branch deadlines.
const (
	DefaultUsageTimeout = 10 * time.Second
	DefaultCostTimeout  = 45 * time.Second
)

// UsageFetcher fetches usage for a bearer token.
type UsageFetcher interface {
	FetchUsage(ctx context.Context, token string) (*api.UsageData, error)
}

// CostFetcher fetches cost through a cache.
type CostFetcher interface {
	Fetch(ctx context.Context, cache *cost.Cache) (cost.Data, error)
}

// HistoryStore records and reads usage snapshots.
type HistoryStore interface {
	SaveSnapshot(usage *api.UsageData) error
	Load() history.History
}

// Result is the unified outcome of one run. Each field is independent.
type Result struct {
	Usage        *api.UsageData     `json:"usage"`
	UsageError   *string            `json:"usage_error"`
	Costs        *cost.Data         `json:"costs"`
	CostsError   *string            `json:"costs_error"`
	UsageHistory []history.Snapshot `json:"usage_history"`
	Timestamp    string             `json:"timestamp"`
}

// CostResult is the outcome of a cost-only run.
type CostResult struct {
	Costs      *cost.Data `json:"costs"`
	CostsError *string    `json:"costs_error"`
	Timestamp  string     `json:"timestamp"`
}

// Orchestrator runs the fetch branches. Runs are independent; the only
// shared state is the cost cache and the history document.
type Orchestrator struct {
	usage   UsageFetcher
	costs   CostFetcher
	cache   *cost.Cache
	history HistoryStore
	logger  *slog.Logger
	metrics *metrics.Collector

	usageTimeout time.Duration
	costTimeout  time.Duration
	now          func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeouts overrides the branch deadlines. Zero keeps the default.
func WithTimeouts(usage, cost time.Duration) Option {
	return func(o *Orchestrator) {
		if usage > 0 {
			o.usageTimeout = usage
		}
		if cost > 0 {
			o.costTimeout = cost
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an Orchestrator.
func New(usage UsageFetcher, costs CostFetcher, cache *cost.Cache, hist HistoryStore, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		usage:        usage,
		costs:        costs,
		cache:        cache,
		history:      hist,
		logger:       logger,
		usageTimeout: DefaultUsageTimeout,
		costTimeout:  DefaultCostTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run fetches usage (when a token is available) and cost concurrently,
// records a snapshot on usage success, and reads history back. A branch
// that exceeds its deadline is abandoned and reported as ErrTimeout; it keeps
// running on ctx.
func (o *Orchestrator) Run(ctx context.Context, token string, tokenErr error) *Result {
	logger := o.logger.With("run_id", uuid.NewString())
	logger.Debug("aggregation started", "has_token", tokenErr == nil && token != "")

	res := &Result{Timestamp: o.timestamp()}

	var g errgroup.Group
	g.Go(func() error {
		usage, err := o.fetchUsage(ctx, logger, token, tokenErr)
		if err != nil {
			res.UsageError = errString(err)
			return nil
		}
		res.Usage = usage
		return nil
	})
	g.Go(func() error {
		costs, err := o.fetchCosts(ctx, logger)
		if err != nil {
			res.CostsError = errString(err)
			return nil
		}
		res.Costs = &costs
		return nil
	})
	_ = g.Wait()

	if res.Usage != nil {
		if err := o.history.SaveSnapshot(res.Usage); err != nil {
			logger.Warn("snapshot not recorded", "error", err)
		}
	}
	res.UsageHistory = o.history.Load().Snapshots
	if res.UsageHistory == nil {
		res.UsageHistory = []history.Snapshot{}
	}

	logger.Info("aggregation finished",
		"usage_ok", res.Usage != nil,
		"costs_ok", res.Costs != nil,
		"snapshots", len(res.UsageHistory),
	)
	return res
}

// Costs runs only the cost branch.
func (o *Orchestrator) Costs(ctx context.Context) *CostResult {
	logger := o.logger.With("run_id", uuid.NewString())
	res := &CostResult{Timestamp: o.timestamp()}
	costs, err := o.fetchCosts(ctx, logger)
	if err != nil {
		res.CostsError = errString(err)
		return res
	}
	res.Costs = &costs
	return res
}

func (o *Orchestrator) fetchUsage(ctx context.Context, logger *slog.Logger, token string, tokenErr error) (*api.UsageData, error) {
	if tokenErr != nil {
		logger.Debug("usage skipped, no credential", "error", tokenErr)
		return nil, tokenErr
	}
	if token == "" {
		return nil, api.ErrCredentialsNotFound
	}

	start := time.Now()
	usage, err := withDeadline(ctx, o.usageTimeout, func(ctx context.Context) (*api.UsageData, error) {
		return o.usage.FetchUsage(ctx, token)
	})
	o.metrics.ObserveFetch("usage", outcome(err), time.Since(start))
	if err != nil {
		logger.Warn("usage fetch failed", "error", err)
		return nil, err
	}
	return usage, nil
}

func (o *Orchestrator) fetchCosts(ctx context.Context, logger *slog.Logger) (cost.Data, error) {
	start := time.Now()
	costs, err := withDeadline(ctx, o.costTimeout, func(ctx context.Context) (cost.Data, error) {
		return o.costs.Fetch(ctx, o.cache)
	})
	o.metrics.ObserveFetch("cost", outcome(err), time.Since(start))
	if err != nil {
		logger.Warn("cost fetch failed", "error", err)
		return cost.Data{}, err
	}
	return costs, nil
}

func (o *Orchestrator) timestamp() string {
	return o.now().Local().Format("15:04:05")
}

// withDeadline waits up to d for fn. On expiry it returns ErrTimeout and
// leaves fn running; its eventual result is discarded.
func withDeadline[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case o := <-done:
		return o.v, o.err
	case <-timer.C:
		return zero, ErrTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		return metrics.OutcomeTimeout
	default:
		return metrics.OutcomeError
	}
}

func errString(err error) *string {
	s := err.Error()
	return &s
}
