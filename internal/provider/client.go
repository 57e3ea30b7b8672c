// Package provider is the HTTP client for the external scraping provider. The
// provider is an opaque collaborator: it accepts a job description, assigns a
// snapshot id, and later delivers results by webhook or on request.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// JobSpec describes one scrape job to trigger.
type JobSpec struct {
	DatasetID string     `json:"-"`
	TargetURL string     `json:"url"`
	ItemCount int        `json:"num_of_posts,omitempty"`
	DateFrom  *time.Time `json:"start_date,omitempty"`
	DateTo    *time.Time `json:"end_date,omitempty"`
}

// JobState is the provider's view of a job.
type JobState string

const (
	JobStateRunning JobState = "running"
	JobStateReady   JobState = "ready"
	JobStateFailed  JobState = "failed"
)

// JobStatus is a provider status-query response.
type JobStatus struct {
	SnapshotID string   `json:"snapshot_id"`
	State      JobState `json:"status"`
	Error      string   `json:"error,omitempty"`
}

// Client calls the provider's trigger, progress and snapshot endpoints.
type Client struct {
	baseURL     string
	token       string
	callbackURL string
	httpClient  *http.Client
}

// NewClient creates a provider client. callbackURL is handed to the provider
// on every trigger so results come back to our webhook.
func NewClient(baseURL, token, callbackURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		token:       token,
		callbackURL: callbackURL,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// Dispatch triggers a scrape job and returns the provider-assigned snapshot
// id. A non-2xx response surfaces the provider's body verbatim so it can be
// recorded on the request.
func (c *Client) Dispatch(ctx context.Context, job JobSpec) (string, error) {
	body, err := json.Marshal([]JobSpec{job})
	if err != nil {
		return "", fmt.Errorf("marshal job spec: %w", err)
	}

	params := url.Values{}
	params.Set("dataset_id", job.DatasetID)
	params.Set("format", "json")
	if c.callbackURL != "" {
		params.Set("endpoint", c.callbackURL)
		params.Set("notify", c.callbackURL)
	}
	triggerURL := fmt.Sprintf("%s/trigger?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, triggerURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("trigger job: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("trigger job: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode trigger response: %w", err)
	}
	if result.SnapshotID == "" {
		return "", fmt.Errorf("trigger job: provider returned no snapshot id")
	}
	return result.SnapshotID, nil
}

// QueryStatus asks the provider where a job stands.
func (c *Client) QueryStatus(ctx context.Context, snapshotID string) (*JobStatus, error) {
	statusURL := fmt.Sprintf("%s/progress/%s", c.baseURL, url.PathEscape(snapshotID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("query status: status %d: %s", resp.StatusCode, string(respBody))
	}

	var status JobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	if status.SnapshotID == "" {
		status.SnapshotID = snapshotID
	}
	return &status, nil
}

// FetchResults downloads the result items of a ready job.
func (c *Client) FetchResults(ctx context.Context, snapshotID string) ([]json.RawMessage, error) {
	resultsURL := fmt.Sprintf("%s/snapshot/%s?format=json", c.baseURL, url.PathEscape(snapshotID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build results request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch results: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetch results: status %d: %s", resp.StatusCode, string(respBody))
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return items, nil
}
