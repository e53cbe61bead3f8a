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
	"strings"
	"time"
)

// Client provides typed access to the AutoDeployHub API for command line tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:8000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		// Deploy and rollback block until the attempt finishes.
		httpClient: &http.Client{Timeout: 45 * time.Minute},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return APIError{Status: resp.StatusCode, Message: extractError(data), Body: data}
	}

	if v == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Workload is a registered deployable repository branch.
type Workload struct {
	ID        string    `json:"ID"`
	Name      string    `json:"Name"`
	RepoURL   string    `json:"RepoURL"`
	Branch    string    `json:"Branch"`
	CreatedAt time.Time `json:"CreatedAt"`
	UpdatedAt time.Time `json:"UpdatedAt"`
}

// CreateWorkloadInput captures the payload for workload registration.
type CreateWorkloadInput struct {
	Name    string `json:"name"`
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch,omitempty"`
}

// CreateWorkload registers a new workload.
func (c *Client) CreateWorkload(ctx context.Context, token string, input CreateWorkloadInput) (Workload, error) {
	var workload Workload
	if err := c.do(ctx, http.MethodPost, "/workloads", input, token, &workload); err != nil {
		return Workload{}, err
	}
	return workload, nil
}

// ListWorkloads returns every registered workload.
func (c *Client) ListWorkloads(ctx context.Context, token string) ([]Workload, error) {
	var workloads []Workload
	if err := c.do(ctx, http.MethodGet, "/workloads", nil, token, &workloads); err != nil {
		return nil, err
	}
	return workloads, nil
}

// LogLine is one entry of an attempt log.
type LogLine struct {
	Seq     int       `json:"Seq"`
	At      time.Time `json:"At"`
	Message string    `json:"Message"`
}

// Attempt represents a deployment or rollback run.
type Attempt struct {
	ID         string     `json:"ID"`
	WorkloadID string     `json:"WorkloadID"`
	Reference  string     `json:"Reference"`
	Status     string     `json:"Status"`
	Log        []LogLine  `json:"Log"`
	CreatedAt  time.Time  `json:"CreatedAt"`
	FinishedAt *time.Time `json:"FinishedAt"`
}

// Deploy runs a deployment and returns the finished attempt. Failed attempts
// are returned without error; callers inspect Status.
func (c *Client) Deploy(ctx context.Context, token, workloadID, reference string) (Attempt, error) {
	body := map[string]string{}
	if strings.TrimSpace(reference) != "" {
		body["reference"] = reference
	}
	path := fmt.Sprintf("/workloads/%s/deploy", url.PathEscape(workloadID))
	return c.runAttempt(ctx, path, body, token)
}

// Rollback re-deploys the image of a previous successful attempt.
func (c *Client) Rollback(ctx context.Context, token, workloadID, attemptID string) (Attempt, error) {
	body := map[string]string{"attempt_id": attemptID}
	path := fmt.Sprintf("/workloads/%s/rollback", url.PathEscape(workloadID))
	return c.runAttempt(ctx, path, body, token)
}

func (c *Client) runAttempt(ctx context.Context, path string, body any, token string) (Attempt, error) {
	var attempt Attempt
	err := c.do(ctx, http.MethodPost, path, body, token, &attempt)
	if err == nil {
		return attempt, nil
	}
	var apiErr APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnprocessableEntity {
		if jsonErr := json.Unmarshal(apiErr.Body, &attempt); jsonErr == nil && attempt.ID != "" {
			return attempt, nil
		}
	}
	return Attempt{}, err
}

// ListAttempts fetches recent attempts for a workload.
func (c *Client) ListAttempts(ctx context.Context, token, workloadID string, limit int) ([]Attempt, error) {
	query := ""
	if limit > 0 {
		query = fmt.Sprintf("?limit=%d", limit)
	}
	path := fmt.Sprintf("/workloads/%s/attempts%s", url.PathEscape(workloadID), query)
	var attempts []Attempt
	if err := c.do(ctx, http.MethodGet, path, nil, token, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}

// GetAttempt fetches an attempt with its full log.
func (c *Client) GetAttempt(ctx context.Context, token, attemptID string) (Attempt, error) {
	path := fmt.Sprintf("/attempts/%s", url.PathEscape(attemptID))
	var attempt Attempt
	if err := c.do(ctx, http.MethodGet, path, nil, token, &attempt); err != nil {
		return Attempt{}, err
	}
	return attempt, nil
}
