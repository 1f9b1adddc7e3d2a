package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHTTPClient_Submit_ModelEndpoint(t *testing.T) {
	var received predictionRequest
	var receivedAuth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models/google/veo-3/predictions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		receivedAuth = r.Header.Get("Authorization")

		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"pred-123","status":"starting","created_at":"2026-03-01T10:00:00.123Z"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", "r8_test_token", 5*time.Second, testLogger())

	sub, err := client.Submit(context.Background(), SubmitRequest{
		Model:      "google/veo-3",
		Input:      map[string]any{"prompt": "sunrise", "seed": int64(9)},
		WebhookURL: "https://hooks.example.com/webhooks/generation?job_id=j1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sub.CorrelationID != "pred-123" {
		t.Errorf("CorrelationID = %q, want pred-123", sub.CorrelationID)
	}
	if sub.Status != StatusStarting {
		t.Errorf("Status = %q, want starting", sub.Status)
	}
	if sub.CreatedAt.Year() != 2026 {
		t.Errorf("CreatedAt = %v, want provider timestamp", sub.CreatedAt)
	}
	if receivedAuth != "Bearer r8_test_token" {
		t.Errorf("auth = %q", receivedAuth)
	}
	if received.Input["prompt"] != "sunrise" {
		t.Errorf("input prompt = %v", received.Input["prompt"])
	}
	if received.Webhook != "https://hooks.example.com/webhooks/generation?job_id=j1" {
		t.Errorf("webhook = %q", received.Webhook)
	}
	if len(received.WebhookEventsFilter) != 2 {
		t.Errorf("webhook_events_filter = %v", received.WebhookEventsFilter)
	}
	if received.Version != "" {
		t.Errorf("version = %q, want empty", received.Version)
	}
}

func TestHTTPClient_Submit_PinnedVersion(t *testing.T) {
	var received predictionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/predictions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.Write([]byte(`{"id":"pred-v","status":"starting"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", 5*time.Second, testLogger())
	_, err := client.Submit(context.Background(), SubmitRequest{
		Model:   "acme/model",
		Version: "abc123",
		Input:   map[string]any{"prompt": "p"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.Version != "abc123" {
		t.Errorf("version = %q, want abc123", received.Version)
	}
	if received.Webhook != "" || received.WebhookEventsFilter != nil {
		t.Error("no webhook fields expected without a webhook url")
	}
}

func TestHTTPClient_Submit_Rejected(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"unprocessable", http.StatusUnprocessableEntity, false},
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"detail":"nope"}`))
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, "tok", 5*time.Second, testLogger())
			_, err := client.Submit(context.Background(), SubmitRequest{Model: "a/b", Input: map[string]any{}})

			var rejected *RejectedError
			if !errors.As(err, &rejected) {
				t.Fatalf("expected RejectedError, got %v", err)
			}
			if rejected.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", rejected.StatusCode, tt.status)
			}
			if rejected.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable() = %v, want %v", rejected.IsRetryable(), tt.retryable)
			}
		})
	}
}

func TestHTTPClient_Submit_BadModel(t *testing.T) {
	client := NewHTTPClient("http://127.0.0.1:1", "tok", time.Second, testLogger())
	if _, err := client.Submit(context.Background(), SubmitRequest{Model: "noslash"}); err == nil {
		t.Fatal("expected error for model without owner")
	}
}

func TestHTTPClient_Submit_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", 5*time.Second, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := client.Submit(ctx, SubmitRequest{Model: "a/b", Input: map[string]any{}}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestHTTPClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/predictions/pred-1" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}
		w.Write([]byte(`{"id":"pred-1","status":"succeeded","output":["https://cdn/v.mp4","https://cdn/t.jpg"],"error":null,"metrics":{"predict_time":12.5}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", 5*time.Second, testLogger())
	ev, err := client.Fetch(context.Background(), "pred-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Status != StatusSucceeded || ev.Output.First() != "https://cdn/v.mp4" || ev.Output.Second() != "https://cdn/t.jpg" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Metrics.PredictTime == nil || *ev.Metrics.PredictTime != 12.5 {
		t.Errorf("predict_time = %v", ev.Metrics.PredictTime)
	}
}

func TestHTTPClient_Fetch_LargeLogs(t *testing.T) {
	logs := strings.Repeat("step 1/250: denoising frame batch\n", 3200)
	doc, _ := json.Marshal(map[string]any{
		"id":      "pred-long",
		"status":  "succeeded",
		"output":  "https://cdn/long.mp4",
		"logs":    logs,
		"metrics": map[string]any{"predict_time": 301.2},
	})
	if len(doc) <= maxResponseBytes {
		t.Fatalf("document is only %d bytes", len(doc))
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(doc)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", 5*time.Second, testLogger())
	ev, err := client.Fetch(context.Background(), "pred-long")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Status != StatusSucceeded || ev.Output.First() != "https://cdn/long.mp4" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Metrics.PredictTime == nil || *ev.Metrics.PredictTime != 301.2 {
		t.Errorf("predict_time = %v", ev.Metrics.PredictTime)
	}
}

func TestHTTPClient_Fetch_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "tok", 5*time.Second, testLogger())
	_, err := client.Fetch(context.Background(), "missing")

	var rejected *RejectedError
	if !errors.As(err, &rejected) || rejected.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 RejectedError, got %v", err)
	}
}

func TestStubClient(t *testing.T) {
	client := NewStubClient(testLogger())

	sub, err := client.Submit(context.Background(), SubmitRequest{Model: "a/b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.CorrelationID) <= len("stub-") {
		t.Errorf("CorrelationID = %q", sub.CorrelationID)
	}

	ev, err := client.Fetch(context.Background(), sub.CorrelationID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Status.IsTerminal() {
		t.Errorf("stub status = %s, want non-terminal", ev.Status)
	}
}
