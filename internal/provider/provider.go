// Package provider talks to the external asynchronous video generation
// service: submitting predictions, fetching their state and authenticating
// the webhooks it sends back.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Status is the provider-side state of a prediction.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// IsTerminal returns true if the status represents a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// SubmitRequest is one prediction to create.
type SubmitRequest struct {
	// Model is "owner/name". Used when Version is empty.
	Model      string
	Version    string
	Input      map[string]any
	WebhookURL string
}

// Submission is the provider's acceptance of a prediction.
type Submission struct {
	CorrelationID string
	Status        Status
	CreatedAt     time.Time
}

// Generator submits predictions.
type Generator interface {
	Submit(ctx context.Context, req SubmitRequest) (*Submission, error)
}

// StatusFetcher reads the current state of a prediction.
type StatusFetcher interface {
	Fetch(ctx context.Context, correlationID string) (*Event, error)
}

type Client interface {
	Generator
	StatusFetcher
}

// Event is the prediction document delivered by webhooks and returned by
// status fetches.
type Event struct {
	ID      string    `json:"id"`
	Status  Status    `json:"status"`
	Output  Output    `json:"output"`
	Error   ErrorText `json:"error"`
	Metrics Metrics   `json:"metrics"`
}

type Metrics struct {
	PredictTime *float64 `json:"predict_time,omitempty"`
}

// ParseEvent decodes a prediction document.
func ParseEvent(body []byte) (*Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("event payload is empty")
	}
	return DecodeEvent(bytes.NewReader(body))
}

// DecodeEvent streams a prediction document from r. Fields other than the
// ones on Event, such as logs, are skipped without being buffered.
func DecodeEvent(r io.Reader) (*Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event has no id")
	}
	return &ev, nil
}

// Output holds the URLs a prediction produced. The provider sends either a
// single string, a list, or null.
type Output []string

func (o *Output) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*o = nil
		} else {
			*o = Output{s}
		}
		return nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make(Output, 0, len(items))
		for _, item := range items {
			var s string
			if json.Unmarshal(item, &s) == nil && s != "" {
				out = append(out, s)
			}
		}
		*o = out
		return nil
	}
	// Objects and scalars carry no URLs we can use.
	*o = nil
	return nil
}

// First returns the primary output URL.
func (o Output) First() string {
	if len(o) == 0 {
		return ""
	}
	return o[0]
}

// Second returns the secondary output URL, used as the thumbnail.
func (o Output) Second() string {
	if len(o) < 2 {
		return ""
	}
	return o[1]
}

// ErrorText is the provider's error message; structured errors are kept as
// their raw JSON.
type ErrorText string

func (e *ErrorText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = ErrorText(s)
		return nil
	}
	*e = ErrorText(data)
	return nil
}
