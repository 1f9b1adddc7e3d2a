package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	maxResponseBytes = 64 * 1024
	// Prediction documents carry the full model logs.
	maxDocumentBytes = 8 << 20
)

// RejectedError is a non-2xx answer from the provider API.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("provider rejected request: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and rate limiting.
// Other client errors (4xx) are considered permanent.
func (e *RejectedError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPClient speaks the Replicate predictions API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type predictionRequest struct {
	Version             string         `json:"version,omitempty"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

type predictionResponse struct {
	ID        string `json:"id"`
	Status    Status `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Submit creates a prediction. Pinned versions go to /v1/predictions, bare
// models to /v1/models/{owner}/{name}/predictions.
func (c *HTTPClient) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	endpoint, err := c.submitURL(req)
	if err != nil {
		return nil, err
	}

	payload := predictionRequest{
		Version: req.Version,
		Input:   req.Input,
		Webhook: req.WebhookURL,
	}
	if req.WebhookURL != "" {
		payload.WebhookEventsFilter = []string{"start", "completed"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal prediction: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Info("submitting prediction",
		"url", endpoint,
		"model", req.Model,
		"body_bytes", len(body),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 1024)}
	}

	var pred predictionResponse
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	if pred.ID == "" {
		return nil, fmt.Errorf("provider returned a prediction without id")
	}

	sub := &Submission{CorrelationID: pred.ID, Status: pred.Status, CreatedAt: time.Now().UTC()}
	if t, err := time.Parse(time.RFC3339Nano, pred.CreatedAt); err == nil {
		sub.CreatedAt = t
	}

	c.logger.Info("prediction accepted", "correlation_id", pred.ID, "status", pred.Status)
	return sub, nil
}

// Fetch returns the current prediction document.
func (c *HTTPClient) Fetch(ctx context.Context, correlationID string) (*Event, error) {
	endpoint := fmt.Sprintf("%s/v1/predictions/%s", c.baseURL, url.PathEscape(correlationID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &RejectedError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 1024)}
	}
	return DecodeEvent(io.LimitReader(resp.Body, maxDocumentBytes))
}

func (c *HTTPClient) submitURL(req SubmitRequest) (string, error) {
	if req.Version != "" {
		return c.baseURL + "/v1/predictions", nil
	}
	owner, name, ok := strings.Cut(req.Model, "/")
	if !ok || owner == "" || name == "" {
		return "", fmt.Errorf("model %q must be owner/name when no version is pinned", req.Model)
	}
	return fmt.Sprintf("%s/v1/models/%s/%s/predictions", c.baseURL, url.PathEscape(owner), url.PathEscape(name)), nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-Id", uuid.NewString())
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
