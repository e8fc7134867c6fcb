// Package ordino is a thin client for the Ordino test-report API, the
// report source the knowledge base ingests from. Every response is validated
// by the report package before it reaches the caller.
package ordino

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gtaf/internal/report"
)

// DefaultBaseURL is the public Ordino API root.
const DefaultBaseURL = "https://dev-portal.ordino.ai/api/v1"

const apiKeyHeader = "Ordino-Key"

// Client is a high-level client for the Ordino test-report API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// Option configures the Client during construction.
type Option func(*clientConfig) error

type clientConfig struct {
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	limiter    *rate.Limiter
}

// New creates a Client for baseURL. The apiKey is sent as the Ordino-Key
// header on every request.
func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("ordino: baseURL is required")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ordino: API key is required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	cfg := &clientConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{}
	if cfg.httpClient != nil {
		hc := *cfg.httpClient
		httpClient = &hc
	}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		limiter:    cfg.limiter,
		logger:     logger,
	}, nil
}

// WithHTTPClient overrides the default HTTP client. The client is copied,
// so later options never modify c.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *clientConfig) error {
		cfg.httpClient = c
		return nil
	}
}

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *clientConfig) error {
		cfg.logger = l
		return nil
	}
}

// WithTimeout sets a timeout on the HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cfg *clientConfig) error {
		cfg.timeout = d
		return nil
	}
}

// WithRateLimit caps outgoing requests at perSecond with the given burst.
// A non-positive perSecond disables throttling.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(cfg *clientConfig) error {
		if perSecond <= 0 {
			cfg.limiter = nil
			return nil
		}
		if burst < 1 {
			return fmt.Errorf("ordino: burst must be >= 1, got %d", burst)
		}
		cfg.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		return nil
	}
}

// getRaw performs a GET and returns the body of a 2xx response.
// Other statuses become an *APIError.
func (c *Client) getRaw(ctx context.Context, path, operation string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limit: %w", operation, err)
		}
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", operation, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	c.logger.InfoContext(ctx, "API request", "operation", operation, "url", u)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w", operation, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "API response", "operation", operation, "status", resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", operation, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(operation, resp.StatusCode, errorMessage(body, resp.Status))
	}
	return body, nil
}

// errorMessage extracts a message from an error body, falling back to status.
func errorMessage(body []byte, status string) string {
	var rs struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &rs) == nil {
		if rs.Message != "" {
			return rs.Message
		}
		if rs.Error != "" {
			return rs.Error
		}
	}
	if msg := string(bytes.TrimSpace(body)); msg != "" {
		return msg
	}
	return status
}

// ProjectsRaw returns the undecoded project list.
func (c *Client) ProjectsRaw(ctx context.Context) ([]byte, error) {
	return c.getRaw(ctx, "/project-external", "list projects")
}

// Projects lists every project visible to the API key.
func (c *Client) Projects(ctx context.Context) ([]report.Project, error) {
	body, err := c.ProjectsRaw(ctx)
	if err != nil {
		return nil, err
	}
	return report.DecodeProjects(body)
}

// FailedTestCasesRaw returns the undecoded failed test cases of a project.
func (c *Client) FailedTestCasesRaw(ctx context.Context, projectID string) ([]byte, error) {
	return c.getRaw(ctx, "/public/test-report/failed-test-cases/"+url.PathEscape(projectID), "list failed test cases")
}

// FailedTestCases returns the failures recorded for a project.
func (c *Client) FailedTestCases(ctx context.Context, projectID string) ([]report.FailureEntry, error) {
	body, err := c.FailedTestCasesRaw(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return report.DecodeFailures(body)
}

// LatestResultRaw returns the undecoded latest run of a project.
func (c *Client) LatestResultRaw(ctx context.Context, projectID string) ([]byte, error) {
	return c.getRaw(ctx, "/public/test-report/latest-result/"+url.PathEscape(projectID), "get latest result")
}

// LatestResult returns the most recent complete run of a project.
func (c *Client) LatestResult(ctx context.Context, projectID string) (*report.RunResult, error) {
	body, err := c.LatestResultRaw(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return report.DecodeRunResult(body)
}

// ReadAPIKey reads the first line of a file (e.g. .ordino-api-key) and returns it trimmed.
func ReadAPIKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	line := strings.TrimSpace(strings.Split(string(data), "\n")[0])
	return line, nil
}
