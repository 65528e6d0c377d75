// Package cost runs the ccusage CLI and aggregates its daily spend report.
package cost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/psurma/claudit/internal/metrics"
)

// Fetch failures.
var (
	ErrNotFound  = errors.New("ccusage not found. Install with: npm install -g ccusage")
	ErrExecution = errors.New("ccusage failed")
	ErrParse     = errors.New("failed to parse output")
)

// lookbackDays is the report window passed to --since.
const lookbackDays = 30

// runFunc executes the CLI and returns its stdout and stderr.
type runFunc func(ctx context.Context, path string, args, env []string) (stdout, stderr []byte, err error)

// Client fetches CostData from the CLI.
type Client struct {
	locator  Locator
	path     string
	logger   *slog.Logger
	metrics  *metrics.Collector
	run      runFunc
	now      func() time.Time
	resolved string
	mu       sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithPath uses an explicit CLI path and skips resolution.
func WithPath(path string) Option {
	return func(c *Client) {
		c.path = path
	}
}

// WithLocator overrides the platform resolution strategy.
func WithLocator(l Locator) Option {
	return func(c *Client) {
		c.locator = l
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a cost client for the running platform.
func NewClient(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		locator: LocatorFor(runtime.GOOS),
		logger:  logger,
		run:     runCommand,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the cached value when fresh. Otherwise it runs the CLI,
// aggregates the report, stores the result in cache and returns it.
// Concurrent misses each run the CLI.
func (c *Client) Fetch(ctx context.Context, cache *Cache) (Data, error) {
	if cache != nil {
		if data, ok := cache.Get(); ok {
			c.metrics.CacheLookup(true)
			c.logger.Debug("cost cache hit")
			return data, nil
		}
		c.metrics.CacheLookup(false)
	}

	path, err := c.resolve(ctx)
	if err != nil {
		return Data{}, err
	}

	now := c.now()
	since := now.AddDate(0, 0, -lookbackDays).Format("20060102")
	args := []string{"daily", "--since", since, "--json"}
	env := withPath(os.Environ(), c.locator.ChildPath(os.Getenv("PATH")))

	c.logger.Debug("running cost report", "path", path, "since", since)
	stdout, stderr, err := c.run(ctx, path, args, env)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Data{}, fmt.Errorf("%w: %s", ErrExecution, strings.TrimSpace(string(stderr)))
		}
		return Data{}, fmt.Errorf("%w: %v", ErrExecution, err)
	}

	entries, err := ParseReport(stdout)
	if err != nil {
		c.logger.Warn("cost report parse failed", "error", err)
		return Data{}, err
	}

	data := Aggregate(entries, now)
	if cache != nil {
		cache.Set(data)
	}
	c.logger.Debug("cost report aggregated",
		"days", len(entries),
		"today", data.Today,
		"week", data.Week,
		"month", data.Month,
	)
	return data, nil
}

// resolve returns the CLI path. Successful resolutions are memoized.
func (c *Client) resolve(ctx context.Context) (string, error) {
	if c.path != "" {
		if _, err := os.Stat(c.path); err != nil {
			return "", ErrNotFound
		}
		return c.path, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved != "" {
		return c.resolved, nil
	}
	path, err := c.locator.Resolve(ctx)
	if err != nil {
		c.logger.Debug("ccusage not resolved", "candidates", c.locator.Candidates)
		return "", err
	}
	c.logger.Info("ccusage resolved", "path", path)
	c.resolved = path
	return path, nil
}

func runCommand(ctx context.Context, path string, args, env []string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Env = env
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// withPath returns env with PATH replaced by path.
func withPath(env []string, path string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, "PATH="+path)
}
