// Package api provides the usage endpoint client and credential lookup.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/samber/lo"
)

// DefaultUsageURL is the OAuth usage endpoint.
const DefaultUsageURL = "https://api.anthropic.com/api/oauth/usage"

// Usage endpoint failures.
var (
	ErrUsageUnauthorized = errors.New("unauthorized - run `claude` to refresh your session")
	ErrUsageRequest      = errors.New("HTTP request failed")
	ErrUsageParse        = errors.New("failed to parse response")
)

// UsageClient is an HTTP client for the OAuth usage endpoint.
type UsageClient struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *slog.Logger
}

// UsageOption configures a UsageClient.
type UsageOption func(*UsageClient)

// WithUsageBaseURL sets a custom endpoint URL (for testing).
func WithUsageBaseURL(url string) UsageOption {
	return func(c *UsageClient) {
		c.baseURL = url
	}
}

// WithUsageTimeout sets the HTTP client timeout.
func WithUsageTimeout(timeout time.Duration) UsageOption {
	return func(c *UsageClient) {
		c.httpClient.Timeout = timeout
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) UsageOption {
	return func(c *UsageClient) {
		c.userAgent = ua
	}
}

// NewUsageClient creates a new usage endpoint client.
func NewUsageClient(logger *slog.Logger, opts ...UsageOption) *UsageClient {
	if logger == nil {
		logger = slog.Default()
	}
	client := &UsageClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       30 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		},
		baseURL:   DefaultUsageURL,
		userAgent: defaultUserAgent,
		logger:    logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// FetchUsage calls the usage endpoint once with the given bearer token and
// normalizes the response.
func (c *UsageClient) FetchUsage(ctx context.Context, token string) (*UsageData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrUsageRequest, err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-beta", anthropicBetaFlag)
	req.Header.Set("User-Agent", c.userAgent)

	c.logger.Debug("fetching usage",
		"url", c.baseURL,
		"token", RedactToken(token),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUsageRequest, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("usage response received", "status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, ErrUsageUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: HTTP %d", ErrUsageRequest, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUsageRequest, err)
	}

	return c.parse(body)
}

func (c *UsageClient) parse(body []byte) (*UsageData, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsageParse, err)
	}

	keys := lo.Keys(raw)
	sort.Strings(keys)
	c.logger.Debug("usage response keys", "keys", keys)

	var parsed usageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsageParse, err)
	}
	return parsed.normalize(), nil
}

// RedactToken masks a bearer token for logging.
func RedactToken(token string) string {
	if token == "" {
		return "(empty)"
	}
	if len(token) < 8 {
		return "***...***"
	}
	return token[:4] + "***...***" + token[len(token)-3:]
}
