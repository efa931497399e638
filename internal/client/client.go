package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ryabkov82/target-notion/internal/metrics"
)

const (
	// DefaultBaseURL is the public Notion API endpoint
	DefaultBaseURL = "https://api.notion.com/v1"
	// DefaultNotionVersion is the API version sent in the Notion-Version header
	DefaultNotionVersion = "2022-06-28"
)

// Operation names used for metrics labels
const (
	OpRetrieveDatabase = "retrieve_database"
	OpQueryDatabase    = "query_database"
	OpCreatePage       = "create_page"
)

// Client talks to the Notion REST API. It performs exactly one HTTP request per call;
// retries are the caller's decision.
type Client struct {
	client        *http.Client
	baseURL       string
	authHeader    string
	notionVersion string
	metrics       *metrics.Metrics // Optional
}

// NewClient creates a new Notion API client
// If m is nil, metrics collection is disabled
func NewClient(baseURL, apiKey, notionVersion string, timeoutSeconds int, m *metrics.Metrics) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if notionVersion == "" {
		notionVersion = DefaultNotionVersion
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	authHeader := ""
	if apiKey != "" {
		authHeader = "Bearer " + apiKey
	}

	return &Client{
		client: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
		baseURL:       strings.TrimRight(baseURL, "/"),
		authHeader:    authHeader,
		notionVersion: notionVersion,
		metrics:       m,
	}
}

// RetrieveDatabase fetches the database object including its property schema
func (c *Client) RetrieveDatabase(ctx context.Context, databaseID string) (*Database, error) {
	var db Database
	if err := c.do(ctx, OpRetrieveDatabase, http.MethodGet, "/databases/"+url.PathEscape(databaseID), nil, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

// QueryDatabase returns one page of results for the given filter and cursor
func (c *Client) QueryDatabase(ctx context.Context, databaseID string, req QueryRequest) (*QueryResponse, error) {
	var resp QueryResponse
	if err := c.do(ctx, OpQueryDatabase, http.MethodPost, "/databases/"+url.PathEscape(databaseID)+"/query", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePage creates a page inside a database
func (c *Client) CreatePage(ctx context.Context, req CreatePageRequest) (*Page, error) {
	var page Page
	if err := c.do(ctx, OpCreatePage, http.MethodPost, "/pages", req, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// do sends a single request and decodes a 2xx JSON response into out
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		jsonData, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request error: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Notion-Version", c.notionVersion)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(op, "error", time.Since(start))
		return fmt.Errorf("%s: http error: %w", op, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newHTTPError(op, resp, bodyBytes)
	}

	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// HTTPError represents a non-2xx response from the Notion API
type HTTPError struct {
	Operation  string
	StatusCode int
	Code       string // Notion error code, e.g. "rate_limited"
	Message    string
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: HTTP %d %s: %s", e.Operation, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Operation, e.StatusCode, e.Body)
}

func newHTTPError(op string, resp *http.Response, body []byte) *HTTPError {
	httpErr := &HTTPError{
		Operation:  op,
		StatusCode: resp.StatusCode,
		Body:       string(body),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}

	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil {
		httpErr.Code = apiErr.Code
		httpErr.Message = apiErr.Message
	}
	return httpErr
}

// GetHTTPError extracts HTTPError from error if possible
func GetHTTPError(err error) (*HTTPError, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr, true
	}
	return nil, false
}

// IsTransient reports whether err is worth retrying: rate limiting (429),
// conflicts (409), server errors (5xx) and transport failures.
// Cancellation of the caller's context is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if httpErr, ok := GetHTTPError(err); ok {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return true
		case httpErr.StatusCode == http.StatusConflict:
			return true
		case httpErr.StatusCode >= 500:
			return true
		}
		return false
	}

	// Network errors are retryable
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

// parseRetryAfter parses Retry-After header
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	// Try as seconds
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}

	// HTTP-date form is not used by Notion
	return 0
}
