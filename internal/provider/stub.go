package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// StubClient accepts every prediction without contacting a provider. It is
// used when no provider token is configured; results are expected to arrive
// through manually posted webhooks.
type StubClient struct {
	logger *slog.Logger
}

func NewStubClient(logger *slog.Logger) *StubClient {
	return &StubClient{logger: logger}
}

func (c *StubClient) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	id := "stub-" + uuid.NewString()
	c.logger.Info("provider stub: prediction requested",
		"model", req.Model,
		"correlation_id", id,
		"webhook", req.WebhookURL,
	)
	return &Submission{CorrelationID: id, Status: StatusStarting, CreatedAt: time.Now().UTC()}, nil
}

func (c *StubClient) Fetch(ctx context.Context, correlationID string) (*Event, error) {
	c.logger.Debug("provider stub: status requested", "correlation_id", correlationID)
	return &Event{ID: correlationID, Status: StatusProcessing}, nil
}
