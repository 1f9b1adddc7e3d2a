package concat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPProvider delegates concatenation to a remote service exposing
// POST /compile.
type HTTPProvider struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPProvider(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (p *HTTPProvider) Compile(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal compile request: %w", err)
	}

	url := p.baseURL + "/compile"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	p.logger.Info("requesting concatenation",
		"url", url,
		"clips", len(req.OrderedURLs),
		"format", req.OutputFormat,
		"quality", req.Quality,
	)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &ProviderError{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	if result.CompiledURL == "" {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: "response has no compiled_url"}
	}

	p.logger.Info("concatenation completed", "compiled_url", result.CompiledURL, "file_size", result.FileSize)
	return &result, nil
}
