// Package capi is the client for the external ad-attribution conversion
// events API. It performs one event per call and maps API failures into
// retry classes so the dispatcher's RetryPolicy can make backoff decisions.
package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/attribution-relay/internal/pkg/retry"
)

// HTTPDoer is the interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is the conversion events API client
type Client struct {
	baseURL     string
	appID       string
	accessToken string
	httpClient  HTTPDoer
}

// NewClient creates a new conversion events API client
func NewClient(config Config) *Client {
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:     config.BaseURL,
		appID:       config.AppID,
		accessToken: config.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client HTTPDoer) {
	c.httpClient = client
}

// SendEvent delivers a single conversion event. The returned error carries a
// retry class: timeouts and 5xx map to connectivity, 401/403 to
// authorization, 400 to validation. A nil return means the API confirmed
// acceptance of the event.
func (c *Client) SendEvent(ctx context.Context, event Event) error {
	request := eventRequest{
		AppID:  c.appID,
		Events: []Event{event},
	}

	jsonBody, err := json.Marshal(request)
	if err != nil {
		return retry.Validationf("marshaling event request: %v", err)
	}

	reqURL := fmt.Sprintf("%s/%s/activities", c.baseURL, c.appID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return retry.Connectivityf("sending %s event: %v", event.EventName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return retry.Connectivityf("reading response body: %v", err)
	}

	if err := classifyStatus(resp.StatusCode, respBody); err != nil {
		return err
	}

	var response eventResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if response.Error != nil {
		return retry.Validationf("API rejected event: %s (code %d)", response.Error.Message, response.Error.Code)
	}
	if response.EventsReceived < 1 {
		return retry.Validationf("API accepted 0 events")
	}

	return nil
}

func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return retry.Authorizationf("API error (status %d): %s", status, string(body))
	case status >= 400 && status < 500:
		return retry.Validationf("API error (status %d): %s", status, string(body))
	default:
		return retry.Connectivityf("API error (status %d): %s", status, string(body))
	}
}
