// Package hrflow implements the index store against the HrFlow.ai job indexing API.
package hrflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/realtime-job-indexer/internal/crawler"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.hrflow.ai/v1"

// ErrUnauthorized is returned when the API rejects the credentials.
var ErrUnauthorized = errors.New("hrflow rejected credentials")

// Config holds API credentials.
type Config struct {
	BaseURL   string
	APISecret string
	UserEmail string
	Timeout   time.Duration
}

// Client talks to the job indexing endpoints.
type Client struct {
	base   *url.URL
	secret string
	email  string
	http   *http.Client
}

// New validates cfg and returns a Client.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.APISecret == "" || cfg.UserEmail == "" {
		return nil, errors.New("index.hrflow.api_secret and index.hrflow.user_email are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse hrflow base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, secret: cfg.APISecret, email: cfg.UserEmail, http: httpClient}, nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Get implements crawler.IndexStore. The API answers an unknown reference with
// a non-2xx code and null data; both are treated as not found.
func (c *Client) Get(ctx context.Context, catalogKey, reference string) (crawler.IndexedJob, bool, error) {
	q := url.Values{}
	q.Set("board_key", catalogKey)
	q.Set("reference", reference)
	env, status, err := c.do(ctx, http.MethodGet, "/job/indexing", q, nil)
	if err != nil {
		return crawler.IndexedJob{}, false, err
	}
	if status == http.StatusNotFound || status == http.StatusBadRequest || isNull(env.Data) {
		return crawler.IndexedJob{}, false, nil
	}
	if status >= 300 {
		return crawler.IndexedJob{}, false, fmt.Errorf("get job: status %d: %s", status, env.Message)
	}

	var raw map[string]any
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return crawler.IndexedJob{}, false, fmt.Errorf("decode job: %w", err)
	}
	job := crawler.IndexedJob{Reference: reference, CatalogKey: catalogKey, Raw: raw}
	if name, ok := raw["name"].(string); ok {
		job.Title = name
	}
	if created, ok := raw["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			job.IndexedAt = &ts
		}
	}
	return job, true, nil
}

// Add implements crawler.IndexStore.
func (c *Client) Add(ctx context.Context, catalogKey string, record crawler.JobRecord) error {
	payload, err := json.Marshal(NewJob(catalogKey, record))
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	env, status, err := c.do(ctx, http.MethodPost, "/job/indexing", nil, payload)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("add job %s: status %d: %s", record.Reference, status, env.Message)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte) (envelope, int, error) {
	u := c.base.JoinPath(path)
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return envelope{}, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.secret)
	req.Header.Set("X-USER-EMAIL", c.email)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, 0, fmt.Errorf("hrflow %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return envelope{}, resp.StatusCode, ErrUnauthorized
	}
	var env envelope
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return envelope{}, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			return envelope{}, resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	status := resp.StatusCode
	// The API sometimes reports failures in the envelope with a 200 transport status.
	if env.Code >= 300 {
		status = env.Code
	}
	return env, status, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) ||
		bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("[]"))
}
